package fgrib

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cloudflare/fgrib/rib"
	log "github.com/sirupsen/logrus"
)

const (
	EVENT_UPDATE = iota
	EVENT_WITHDRAW
)

var eventToStr = map[int]string{
	EVENT_UPDATE:   "update",
	EVENT_WITHDRAW: "withdraw",
}

type Event struct {
	Type  int
	Route rib.Route
}

func (e Event) String() string {
	return fmt.Sprintf("%v %v", eventToStr[e.Type], e.Route)
}

// Events for the same parsed prefix and neighbor share a key, so they are
// applied in order by one worker whatever the prefix spelling.
func (e Event) key() []byte {
	k, err := e.Route.Key()
	if err != nil {
		// the RIB rejects it, ordering does not matter
		return []byte(e.Route.PfxString() + "|" + e.Route.Neighbor)
	}
	return []byte(fmt.Sprintf("%d/%d|%s", k.Bits, k.Len, e.Route.Neighbor))
}

// UpdateHandler applies update and withdraw events to a RIB through a worker
// pool.
type UpdateHandler struct {
	Rib        rib.Rib
	WorkerPool *Pool

	ProcessedCount uint64
	FailedCount    uint64

	pending sync.WaitGroup
	errlock sync.Mutex
	lastErr error
}

func CreateUpdateHandler(r rib.Rib, workers int) *UpdateHandler {
	uh := &UpdateHandler{
		Rib: r,
	}
	pool := CreatePool(workers, uh)
	uh.WorkerPool = pool

	pool.Start()

	return uh
}

func (uh *UpdateHandler) ProcessEvent(ev Event) {
	uh.pending.Add(1)
	uh.WorkerPool.Dispatch(ev.key(), ev)
}

func (uh *UpdateHandler) Process(id int, msg interface{}) error {
	defer uh.pending.Done()

	var err error
	ev, ok := msg.(Event)
	if !ok {
		err = errors.New(fmt.Sprintf("Unknown message type %T", msg))
	} else {
		switch ev.Type {
		case EVENT_UPDATE:
			err = uh.Rib.Update(ev.Route)
		case EVENT_WITHDRAW:
			err = uh.Rib.Withdraw(ev.Route)
		default:
			err = fmt.Errorf("Unknown event type %v", ev.Type)
		}
	}
	if err != nil {
		atomic.AddUint64(&uh.FailedCount, 1)
		uh.errlock.Lock()
		uh.lastErr = err
		uh.errlock.Unlock()
		return err
	}
	atomic.AddUint64(&uh.ProcessedCount, 1)
	return nil
}

func (uh *UpdateHandler) Error(id int, msg interface{}, err error) {
	log.Errorf("UpdateHandler (worker %v): %v: %v", id, msg, err)
}

// Flush waits until every dispatched event has been applied.
func (uh *UpdateHandler) Flush() {
	uh.pending.Wait()
}

func (uh *UpdateHandler) LastError() error {
	uh.errlock.Lock()
	defer uh.errlock.Unlock()
	return uh.lastErr
}

func (uh *UpdateHandler) Counts() (processed uint64, failed uint64) {
	return atomic.LoadUint64(&uh.ProcessedCount), atomic.LoadUint64(&uh.FailedCount)
}

func (uh *UpdateHandler) Close() {
	uh.WorkerPool.Stop()
}
