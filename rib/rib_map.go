package rib

import (
	"sort"
	"sync"

	"github.com/cloudflare/fgrib/prefix"
	log "github.com/sirupsen/logrus"
)

// MapRib groups routes by exact prefix, then by neighbor. Lookups scan every
// group.
type MapRib struct {
	PrefixTable     map[Key]map[string]Route
	SyncPrefixTable *sync.RWMutex
	Countv4         int
}

func NewMapRib() *MapRib {
	return &MapRib{
		PrefixTable:     make(map[Key]map[string]Route),
		SyncPrefixTable: &sync.RWMutex{},
	}
}

func (rib *MapRib) Update(rt Route) error {
	key, err := rt.Key()
	if err != nil {
		return err
	}
	rt = rt.clone()

	rib.SyncPrefixTable.Lock()
	defer rib.SyncPrefixTable.Unlock()

	group, ok := rib.PrefixTable[key]
	if !ok {
		group = make(map[string]Route)
		rib.PrefixTable[key] = group
	}
	if old, ok := group[rt.Neighbor]; ok {
		log.Debugf("Replacing %v", old)
	} else {
		rib.Countv4++
	}
	group[rt.Neighbor] = rt
	return nil
}

func (rib *MapRib) Withdraw(rt Route) error {
	key, err := rt.Key()
	if err != nil {
		return err
	}

	rib.SyncPrefixTable.Lock()
	defer rib.SyncPrefixTable.Unlock()

	group, ok := rib.PrefixTable[key]
	if !ok {
		log.Debugf("Withdraw of unknown prefix %v from %v", key, rt.Neighbor)
		return nil
	}
	if _, ok := group[rt.Neighbor]; !ok {
		log.Debugf("Withdraw of unknown route %v from %v", key, rt.Neighbor)
		return nil
	}
	delete(group, rt.Neighbor)
	rib.Countv4--
	if len(group) == 0 {
		delete(rib.PrefixTable, key)
	}
	return nil
}

// Resolve returns the neighbor of the best route for address: longest matching
// prefix first, then shortest AS path. When several routes share the shortest
// path the one returned is unspecified.
func (rib *MapRib) Resolve(address string) (string, bool, error) {
	target, err := prefix.ToBits(address)
	if err != nil {
		return "", false, err
	}

	rib.SyncPrefixTable.RLock()
	defer rib.SyncPrefixTable.RUnlock()

	bestLen := -1
	var best *Route
	for key, group := range rib.PrefixTable {
		if key.Len < bestLen || !prefix.Matches(key.Bits, key.Len, target) {
			continue
		}
		if key.Len > bestLen {
			bestLen = key.Len
			best = nil
		}
		for _, rt := range group {
			if best == nil || len(rt.Path) < len(best.Path) {
				cur := rt
				best = &cur
			}
		}
	}

	if best == nil {
		return "", false, nil
	}
	return best.Neighbor, true, nil
}

func (rib *MapRib) GetCounts() (int, int) {
	rib.SyncPrefixTable.RLock()
	defer rib.SyncPrefixTable.RUnlock()
	return len(rib.PrefixTable), rib.Countv4
}

// Snapshot copies the table, ordered by prefix bits then length.
func (rib *MapRib) Snapshot() []Entry {
	rib.SyncPrefixTable.RLock()
	defer rib.SyncPrefixTable.RUnlock()

	entries := make([]Entry, 0, len(rib.PrefixTable))
	for key, group := range rib.PrefixTable {
		routes := make([]Route, 0, len(group))
		for _, rt := range group {
			routes = append(routes, rt.clone())
		}
		sort.Slice(routes, func(i, j int) bool {
			return routes[i].Neighbor < routes[j].Neighbor
		})
		entries = append(entries, Entry{Key: key, Routes: routes})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Key.less(entries[j].Key)
	})
	return entries
}

func (rib *MapRib) Walk(f Walk) {
	if f == nil {
		return
	}
	entries := rib.Snapshot()
	for i := range entries {
		if f(entries[i].Key, entries[i].Routes) {
			return
		}
	}
}
