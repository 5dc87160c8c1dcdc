package rib

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/cloudflare/fgrib/prefix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustResolve(t *testing.T, r Rib, addr string) (string, bool) {
	t.Helper()
	nh, ok, err := r.Resolve(addr)
	require.NoError(t, err)
	return nh, ok
}

func TestWithdrawEmpty(t *testing.T) {
	r := NewRib()
	require.NoError(t, r.Withdraw(NewRoute("1.1.1.1", "10.0.0.0", 24, 3, 4, 5)))
	assert.Empty(t, r.Snapshot())
}

func TestWithdrawIdempotent(t *testing.T) {
	r := NewRib()
	require.NoError(t, r.Update(NewRoute("1.1.1.1", "10.0.0.0", 24, 3, 4, 5)))
	require.NoError(t, r.Update(NewRoute("2.2.2.2", "10.0.0.0", 24, 1, 2)))

	rt := NewRoute("1.1.1.1", "10.0.0.0", 24, 3, 4, 5)
	require.NoError(t, r.Withdraw(rt))
	once := r.Snapshot()
	require.NoError(t, r.Withdraw(rt))
	assert.Equal(t, once, r.Snapshot())

	// never announced: wrong neighbor, wrong length, wrong prefix
	require.NoError(t, r.Withdraw(NewRoute("3.3.3.3", "10.0.0.0", 24)))
	require.NoError(t, r.Withdraw(NewRoute("2.2.2.2", "10.0.0.0", 23)))
	require.NoError(t, r.Withdraw(NewRoute("2.2.2.2", "10.0.1.0", 24)))
	assert.Equal(t, once, r.Snapshot())
}

func TestWithdrawIgnoresPath(t *testing.T) {
	r := NewRib()
	require.NoError(t, r.Update(NewRoute("1.1.1.1", "10.0.0.0", 24, 3, 4, 5)))
	require.NoError(t, r.Withdraw(NewRoute("1.1.1.1", "10.0.0.0", 24, 9)))
	assert.Empty(t, r.Snapshot())
}

func TestWithdrawRemovesEmptyGroup(t *testing.T) {
	r := NewRib()
	require.NoError(t, r.Update(NewRoute("1.1.1.1", "10.0.0.0", 24, 1)))
	require.NoError(t, r.Update(NewRoute("1.1.1.1", "12.0.0.0", 16, 1)))
	require.NoError(t, r.Withdraw(NewRoute("1.1.1.1", "10.0.0.0", 24)))

	entries := r.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, "12.0.0.0/16", entries[0].Key.String())

	prefixes, routes := r.GetCounts()
	assert.Equal(t, 1, prefixes)
	assert.Equal(t, 1, routes)
}

func TestUpdateOverwrite(t *testing.T) {
	r := NewRib()
	require.NoError(t, r.Update(NewRoute("2.2.2.2", "10.0.0.0", 24, 1, 2)))
	require.NoError(t, r.Update(NewRoute("1.1.1.1", "10.0.0.0", 24, 3, 4, 5)))
	require.NoError(t, r.Update(NewRoute("2.2.2.2", "10.0.0.0", 24, 1, 22, 33, 44)))

	entries := r.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, []Route{
		NewRoute("1.1.1.1", "10.0.0.0", 24, 3, 4, 5),
		NewRoute("2.2.2.2", "10.0.0.0", 24, 1, 22, 33, 44),
	}, entries[0].Routes)

	_, routes := r.GetCounts()
	assert.Equal(t, 2, routes)
}

func TestUpdateCopiesPath(t *testing.T) {
	r := NewRib()
	path := []uint32{1, 2}
	require.NoError(t, r.Update(Route{Neighbor: "1.1.1.1", Prefix: "10.0.0.0", PrefixLen: 24, Path: path}))
	path[0] = 99

	entries := r.Snapshot()
	require.Len(t, entries, 1)
	assert.Equal(t, []uint32{1, 2}, entries[0].Routes[0].Path)

	entries[0].Routes[0].Path[1] = 98
	assert.Equal(t, []uint32{1, 2}, r.Snapshot()[0].Routes[0].Path)
}

func TestInvalidInput(t *testing.T) {
	r := NewRib()
	assert.ErrorIs(t, r.Update(NewRoute("1.1.1.1", "10.0.0", 24)), prefix.ErrInvalidAddress)
	assert.ErrorIs(t, r.Update(NewRoute("1.1.1.1", "10.0.0.0", 33)), prefix.ErrInvalidPrefixLength)
	assert.ErrorIs(t, r.Update(NewRoute("1.1.1.1", "10.0.0.0", -1)), prefix.ErrInvalidPrefixLength)
	assert.ErrorIs(t, r.Withdraw(NewRoute("1.1.1.1", "10.0.256.0", 24)), prefix.ErrInvalidAddress)

	_, _, err := r.Resolve("10.0.0.1.1")
	assert.ErrorIs(t, err, prefix.ErrInvalidAddress)

	assert.Empty(t, r.Snapshot())
}

func TestResolveNoMatch(t *testing.T) {
	r := NewRib()
	_, ok := mustResolve(t, r, "10.2.0.13")
	assert.False(t, ok)

	require.NoError(t, r.Update(NewRoute("1.1.1.1", "10.0.0.0", 24, 3, 4, 5)))
	require.NoError(t, r.Update(NewRoute("2.2.2.2", "12.0.0.0", 16, 4, 5)))
	_, ok = mustResolve(t, r, "10.2.0.13")
	assert.False(t, ok)
}

func TestResolveShortestPath(t *testing.T) {
	r := NewRib()
	require.NoError(t, r.Update(NewRoute("1.1.1.1", "10.0.0.0", 24, 3, 4, 5)))
	require.NoError(t, r.Update(NewRoute("2.2.2.2", "10.0.0.0", 24, 1, 2)))

	nh, ok := mustResolve(t, r, "10.0.0.13")
	require.True(t, ok)
	assert.Equal(t, "2.2.2.2", nh)

	require.NoError(t, r.Withdraw(NewRoute("1.1.1.1", "10.0.0.0", 24, 3, 4, 5)))
	nh, ok = mustResolve(t, r, "10.0.0.13")
	require.True(t, ok)
	assert.Equal(t, "2.2.2.2", nh)
}

func TestResolveLongestPrefixWins(t *testing.T) {
	r := NewRib()
	require.NoError(t, r.Update(NewRoute("1.1.1.1", "10.0.0.0", 24, 1, 2)))
	require.NoError(t, r.Update(NewRoute("2.2.2.2", "10.0.0.0", 22, 4, 5, 7, 8)))
	require.NoError(t, r.Update(NewRoute("3.3.3.3", "0.0.0.0", 0, 1)))

	nh, _ := mustResolve(t, r, "10.0.0.200")
	assert.Equal(t, "1.1.1.1", nh)

	// longer prefix with a longer path still wins
	require.NoError(t, r.Update(NewRoute("1.1.1.1", "10.0.0.0", 24, 1, 2, 3, 4, 5, 6)))
	nh, _ = mustResolve(t, r, "10.0.0.200")
	assert.Equal(t, "1.1.1.1", nh)

	nh, _ = mustResolve(t, r, "10.0.3.1")
	assert.Equal(t, "2.2.2.2", nh)

	nh, ok := mustResolve(t, r, "172.16.0.1")
	require.True(t, ok)
	assert.Equal(t, "3.3.3.3", nh)
}

func TestResolveTieReturnsMinimalPath(t *testing.T) {
	r := NewRib()
	require.NoError(t, r.Update(NewRoute("1.1.1.1", "10.0.0.0", 24, 1, 2)))
	require.NoError(t, r.Update(NewRoute("2.2.2.2", "10.0.0.0", 24, 3, 4)))
	require.NoError(t, r.Update(NewRoute("3.3.3.3", "10.0.0.0", 24, 5, 6, 7)))

	for i := 0; i < 20; i++ {
		nh, ok := mustResolve(t, r, "10.0.0.1")
		require.True(t, ok)
		assert.Contains(t, []string{"1.1.1.1", "2.2.2.2"}, nh)
	}
}

// Host bits are part of the key, so two groups of the same length can both
// contain an address. The tie-break spans the whole length class.
func TestResolveSameLengthClass(t *testing.T) {
	r := NewRib()
	require.NoError(t, r.Update(NewRoute("1.1.1.1", "10.0.0.0", 24, 1, 2, 3)))
	require.NoError(t, r.Update(NewRoute("2.2.2.2", "10.0.0.5", 24, 1)))

	assert.Len(t, r.Snapshot(), 2)
	nh, _ := mustResolve(t, r, "10.0.0.77")
	assert.Equal(t, "2.2.2.2", nh)
}

// Walkthrough of a router receiving a sequence of announcements and
// withdrawals.
func TestRouterWalkthrough(t *testing.T) {
	r := NewRib()

	require.NoError(t, r.Withdraw(NewRoute("1.1.1.1", "10.0.0.0", 24, 3, 4, 5)))

	require.NoError(t, r.Update(NewRoute("1.1.1.1", "10.0.0.0", 24, 3, 4, 5)))
	require.NoError(t, r.Update(NewRoute("2.2.2.2", "10.0.0.0", 24, 1, 2)))

	require.NoError(t, r.Update(NewRoute("2.2.2.2", "10.0.0.0", 24, 1, 22, 33, 44)))
	require.NoError(t, r.Update(NewRoute("2.2.2.2", "10.0.0.0", 22, 4, 5, 7, 8)))
	require.NoError(t, r.Update(NewRoute("2.2.2.2", "12.0.0.0", 16, 4, 5)))
	require.NoError(t, r.Update(NewRoute("1.1.1.1", "12.0.0.0", 16, 1, 2, 30)))

	_, ok := mustResolve(t, r, "10.2.0.13")
	assert.False(t, ok)

	nh, _ := mustResolve(t, r, "10.0.0.13")
	assert.Equal(t, "1.1.1.1", nh)

	require.NoError(t, r.Withdraw(NewRoute("1.1.1.1", "10.0.0.0", 24, 3, 4, 5)))
	nh, _ = mustResolve(t, r, "10.0.0.13")
	assert.Equal(t, "2.2.2.2", nh)

	require.NoError(t, r.Withdraw(NewRoute("1.1.1.1", "10.0.0.0", 24, 3, 4, 5)))
	require.NoError(t, r.Update(NewRoute("2.2.2.2", "10.0.0.0", 22, 4, 5, 7, 8)))
	nh, _ = mustResolve(t, r, "10.0.1.77")
	assert.Equal(t, "2.2.2.2", nh)

	nh, _ = mustResolve(t, r, "12.0.12.0")
	assert.Equal(t, "2.2.2.2", nh)

	require.NoError(t, r.Update(NewRoute("1.1.1.1", "20.0.0.0", 16, 4, 5, 7, 8)))
	require.NoError(t, r.Update(NewRoute("2.2.2.2", "20.0.0.0", 16, 44, 55)))
	nh, _ = mustResolve(t, r, "20.0.12.0")
	assert.Equal(t, "2.2.2.2", nh)

	require.NoError(t, r.Update(NewRoute("1.1.1.1", "20.0.12.0", 24, 44, 55, 66, 77, 88)))
	nh, _ = mustResolve(t, r, "20.0.12.0")
	assert.Equal(t, "1.1.1.1", nh)

	require.NoError(t, r.Withdraw(NewRoute("1.1.1.1", "20.0.12.0", 24, 44, 55, 66, 77, 88)))
	nh, _ = mustResolve(t, r, "20.0.12.0")
	assert.Equal(t, "2.2.2.2", nh)

	prefixes, routes := r.GetCounts()
	assert.Equal(t, 4, prefixes)
	assert.Equal(t, 6, routes)
}

func TestPrint(t *testing.T) {
	r := NewRib()
	require.NoError(t, r.Update(NewRoute("2.2.2.2", "12.0.0.0", 16, 4, 5)))
	require.NoError(t, r.Update(NewRoute("2.2.2.2", "10.0.0.0", 24, 1, 2)))
	require.NoError(t, r.Update(NewRoute("1.1.1.1", "10.0.0.0", 24, 3, 4, 5)))

	var buf bytes.Buffer
	require.NoError(t, Print(&buf, r))
	assert.Equal(t, "10.0.0.0/24- ASPATH: [3 4 5], neigh: 1.1.1.1\n"+
		"10.0.0.0/24- ASPATH: [1 2], neigh: 2.2.2.2\n"+
		"12.0.0.0/16- ASPATH: [4 5], neigh: 2.2.2.2\n", buf.String())
}

func TestWalkStop(t *testing.T) {
	r := NewRib()
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Update(NewRoute("1.1.1.1", fmt.Sprintf("10.%d.0.0", i), 16, 1)))
	}
	var seen []string
	r.Walk(func(k Key, routes []Route) bool {
		seen = append(seen, k.String())
		return len(seen) == 2
	})
	assert.Equal(t, []string{"10.0.0.0/16", "10.1.0.0/16"}, seen)
}

// A prefix that always keeps one stable route must resolve while another
// neighbor flaps on it.
func TestConcurrentResolveConsistent(t *testing.T) {
	r := NewRib()
	require.NoError(t, r.Update(NewRoute("1.1.1.1", "10.0.0.0", 24, 1, 2, 3)))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			rt := NewRoute("2.2.2.2", "10.0.0.0", 24, uint32(i))
			if i%2 == 0 {
				r.Update(rt)
			} else {
				r.Withdraw(rt)
			}
			r.Update(NewRoute("1.1.1.1", "10.0.0.0", 24, 1, 2, uint32(i)))
		}
	}()

	for i := 0; i < 1000; i++ {
		nh, ok, err := r.Resolve("10.0.0.1")
		require.NoError(t, err)
		require.True(t, ok)
		require.Contains(t, []string{"1.1.1.1", "2.2.2.2"}, nh)
	}
	close(stop)
	wg.Wait()
}

type oracleKey struct {
	bits     uint32
	length   int
	neighbor string
}

// oracleResolve scans every stored route and returns the neighbors allowed to
// win for target: the longest matching length, then the shortest path.
func oracleResolve(routes map[oracleKey]int, target uint32) map[string]bool {
	bestLen, bestPath := -1, 0
	for k, pathLen := range routes {
		if k.length != 0 && k.bits>>(32-k.length) != target>>(32-k.length) {
			continue
		}
		if k.length > bestLen || (k.length == bestLen && pathLen < bestPath) {
			bestLen, bestPath = k.length, pathLen
		}
	}
	winners := make(map[string]bool)
	for k, pathLen := range routes {
		if k.length != bestLen || pathLen != bestPath {
			continue
		}
		if k.length != 0 && k.bits>>(32-k.length) != target>>(32-k.length) {
			continue
		}
		winners[k.neighbor] = true
	}
	return winners
}

func TestResolveMatchesOracle(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	neighbors := []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4"}
	// few distinct high bits so prefixes overlap often
	randAddr := func() uint32 {
		return uint32(rnd.Intn(4))<<30 | uint32(rnd.Intn(4))<<20 | uint32(rnd.Intn(1<<12))
	}

	r := NewRib()
	routes := make(map[oracleKey]int)
	for i := 0; i < 3000; i++ {
		k := oracleKey{
			bits:     randAddr(),
			length:   rnd.Intn(prefix.ADDR_BITS + 1),
			neighbor: neighbors[rnd.Intn(len(neighbors))],
		}
		if rnd.Intn(3) == 0 {
			rt := NewRoute(k.neighbor, prefix.FromBits(k.bits), k.length)
			require.NoError(t, r.Withdraw(rt))
			delete(routes, k)

			once := r.Snapshot()
			require.NoError(t, r.Withdraw(rt))
			require.Equal(t, once, r.Snapshot(), "second withdraw of %v", rt)
		} else {
			path := make([]uint32, rnd.Intn(6))
			for j := range path {
				path[j] = uint32(rnd.Intn(65000) + 1)
			}
			require.NoError(t, r.Update(NewRoute(k.neighbor, prefix.FromBits(k.bits), k.length, path...)))
			routes[k] = len(path)
		}

		for j := 0; j < 5; j++ {
			target := randAddr()
			addr := prefix.FromBits(target)
			winners := oracleResolve(routes, target)
			nh, ok := mustResolve(t, r, addr)
			require.Equal(t, len(winners) > 0, ok, "resolve %v after %v operations", addr, i+1)
			if ok {
				require.True(t, winners[nh], "resolve %v gave %v, want one of %v", addr, nh, winners)
			}
		}
	}
}
