package fgrib

import (
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/spaolacci/murmur3"
)

type Handler interface {
	Process(id int, msg interface{}) error
	Error(id int, msg interface{}, err error)
}

// Pool runs one goroutine per worker. Messages dispatched with the same key
// always reach the same worker and are processed in dispatch order.
type Pool struct {
	Workers []*Worker
	Handler Handler
	wg      sync.WaitGroup
}

type Worker struct {
	Id      int
	Handler Handler
	inmsg   chan interface{}
	q       chan struct{}
}

func CreatePool(nworkers int, h Handler) *Pool {
	if nworkers < 1 {
		nworkers = 1
	}
	p := &Pool{
		Workers: make([]*Worker, nworkers),
		Handler: h,
	}
	for i := 0; i < nworkers; i++ {
		p.Workers[i] = CreateWorker(i, h)
	}
	return p
}

func CreateWorker(id int, h Handler) *Worker {
	return &Worker{
		Id:      id,
		Handler: h,
		inmsg:   make(chan interface{}, 64),
		q:       make(chan struct{}),
	}
}

func (p *Pool) Start() {
	for i := range p.Workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Start()
		}(p.Workers[i])
	}
}

// Stop asks every worker to finish its queued messages and waits for them.
func (p *Pool) Stop() {
	for i := range p.Workers {
		p.Workers[i].Stop()
	}
	p.wg.Wait()
}

func (w *Worker) process(msg interface{}) {
	if w.Handler == nil {
		return
	}
	err := w.Handler.Process(w.Id, msg)
	if err != nil {
		w.Handler.Error(w.Id, msg, err)
	}
}

func (w *Worker) Start() {
	log.Debugf("Starting worker %v", w.Id)
	for {
		select {
		case msg := <-w.inmsg:
			w.process(msg)
		case <-w.q:
			for {
				select {
				case msg := <-w.inmsg:
					w.process(msg)
				default:
					log.Debugf("Stopped worker %v", w.Id)
					return
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.q)
}

func (p *Pool) Dispatch(key []byte, msg interface{}) {
	w := p.Workers[murmur3.Sum32(key)%uint32(len(p.Workers))]
	w.inmsg <- msg
}
