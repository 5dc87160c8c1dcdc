package rib

import (
	"fmt"
	"io"

	"github.com/cloudflare/fgrib/prefix"
)

type Rib interface {
	Update(Route) error
	Withdraw(Route) error
	Resolve(address string) (string, bool, error)

	GetCounts() (prefixes int, routes int)

	Walk(f Walk)
	Snapshot() []Entry
}

// Walk is called once per stored prefix with a copy of its routes, ordered by
// neighbor. Returning true stops the walk.
type Walk func(Key, []Route) bool

// Route is an advertisement from a neighbor. Only the length of Path is used for
// selection.
type Route struct {
	Neighbor  string
	Prefix    string
	PrefixLen int
	Path      []uint32
}

func NewRoute(neighbor string, pfx string, plen int, path ...uint32) Route {
	return Route{
		Neighbor:  neighbor,
		Prefix:    pfx,
		PrefixLen: plen,
		Path:      path,
	}
}

func (r Route) String() string {
	return fmt.Sprintf("%v- ASPATH: %v, neigh: %v", r.PfxString(), r.Path, r.Neighbor)
}

func (r Route) PfxString() string {
	return fmt.Sprintf("%v/%v", r.Prefix, r.PrefixLen)
}

func (r Route) Key() (Key, error) {
	bits, err := prefix.Parse(r.Prefix, r.PrefixLen)
	if err != nil {
		return Key{}, err
	}
	return Key{Bits: bits, Len: r.PrefixLen}, nil
}

func (r Route) clone() Route {
	c := r
	if r.Path != nil {
		c.Path = make([]uint32, len(r.Path))
		copy(c.Path, r.Path)
	}
	return c
}

// Key identifies a prefix group. Bits are kept as announced, host bits included.
type Key struct {
	Bits uint32
	Len  int
}

func (k Key) String() string {
	return fmt.Sprintf("%v/%v", prefix.FromBits(k.Bits), k.Len)
}

func (k Key) less(o Key) bool {
	if k.Bits != o.Bits {
		return k.Bits < o.Bits
	}
	return k.Len < o.Len
}

type Entry struct {
	Key    Key
	Routes []Route
}

func NewRib() Rib {
	return NewMapRib()
}

// Print writes one line per route, grouped by prefix.
func Print(w io.Writer, r Rib) error {
	var err error
	r.Walk(func(k Key, routes []Route) bool {
		for i := range routes {
			if _, err = fmt.Fprintln(w, routes[i]); err != nil {
				return true
			}
		}
		return false
	})
	return err
}
