package chashmap

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"github.com/gopherlocks/chashmap/internal/cpuprobe"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestInsertGetRemoveRoundTrip(t *testing.T) {
	m := New[string, int]()

	old, existed := m.Insert("a", 1)
	require.False(t, existed)
	require.Equal(t, 0, old)

	v, ok := m.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)

	old, existed = m.Insert("a", 2)
	require.True(t, existed)
	require.Equal(t, 1, old)

	v, ok = m.Remove("a")
	require.True(t, ok)
	require.Equal(t, 2, v)

	_, ok = m.Get("a")
	require.False(t, ok)
}

func TestTryInsertRejectsExistingKey(t *testing.T) {
	m := New[string, int]()
	require.NoError(t, m.TryInsert("a", 1))

	err := m.TryInsert("a", 2)
	require.Error(t, err)
	var already *AlreadyPresentError[int]
	require.ErrorAs(t, err, &already)
	require.Equal(t, 1, already.Existing)

	v, _ := m.Get("a")
	require.Equal(t, 1, v)
}

func TestComputeIfPresentUpdatesOrDeletes(t *testing.T) {
	m := New[string, int]()
	m.Insert("a", 1)

	v, ok := m.ComputeIfPresent("a", func(_ string, old int) (int, bool) {
		return old + 10, true
	})
	require.True(t, ok)
	require.Equal(t, 11, v)

	got, _ := m.Get("a")
	require.Equal(t, 11, got)

	_, ok = m.ComputeIfPresent("missing", func(_ string, old int) (int, bool) {
		t.Fatal("remap should not be called for a missing key")
		return old, true
	})
	require.False(t, ok)

	_, ok = m.ComputeIfPresent("a", func(_ string, old int) (int, bool) {
		return 0, false
	})
	require.True(t, ok)
	_, ok = m.Get("a")
	require.False(t, ok)
}

func TestRemoveEntryIsConditional(t *testing.T) {
	m := New[string, int]()
	m.Insert("a", 1)

	_, removed := m.RemoveEntry("a", func(v int) bool { return v == 2 })
	require.False(t, removed)

	v, removed := m.RemoveEntry("a", func(v int) bool { return v == 1 })
	require.True(t, removed)
	require.Equal(t, 1, v)
}

func TestGetEntryRequiresMatchingGuard(t *testing.T) {
	m1 := New[string, int]()
	m1.Insert("a", 1)
	m2 := New[string, int]()

	g1 := m1.Pin()
	defer g1.Unpin()

	ptr, ok := m1.GetEntry(g1, "a")
	require.True(t, ok)
	require.Equal(t, 1, *ptr)

	g2 := m2.Pin()
	defer g2.Unpin()

	require.Panics(t, func() {
		m1.GetEntry(g2, "a")
	})
}

func TestResizeGrowsAcrossManyInserts(t *testing.T) {
	cpuprobe.SetForTesting(4)
	defer cpuprobe.SetForTesting(0)

	m := New[int, int]()
	const n = 5000
	for i := 0; i < n; i++ {
		m.Insert(i, i*i)
	}
	require.Equal(t, n, m.Len())
	for i := 0; i < n; i++ {
		v, ok := m.Get(i)
		require.True(t, ok)
		require.Equal(t, i*i, v)
	}
}

func TestTreeifyAndUntreeifyRoundTrip(t *testing.T) {
	// Force every key below into the same bin by using a Hasher that
	// collapses all hashes to a single bucket, exercising the TreeBin path
	// (treeifyThreshold is 8) and then the untreeify path on removal.
	collidingHasher := constHasher[int]{h: 42}
	m := New[int, int](WithHasher[int, int](collidingHasher))

	const n = 20
	for i := 0; i < n; i++ {
		m.Insert(i, i)
	}
	require.Equal(t, n, m.Len())
	for i := 0; i < n; i++ {
		v, ok := m.Get(i)
		require.True(t, ok)
		require.Equal(t, i, v)
	}

	for i := 0; i < n-2; i++ {
		_, ok := m.Remove(i)
		require.True(t, ok)
	}
	require.Equal(t, 2, m.Len())
}

type constHasher[K comparable] struct{ h uint64 }

func (c constHasher[K]) Hash(K) uint64      { return c.h }
func (c constHasher[K]) Equal(a, b K) bool  { return a == b }
func (c constHasher[K]) Less(a, b K) bool   { return fmt.Sprint(a) < fmt.Sprint(b) }

func TestConcurrentInsertsAllLand(t *testing.T) {
	m := New[int, int]()
	const goroutines = 32
	const perGoroutine = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				key := g*perGoroutine + i
				m.Insert(key, key)
			}
		}(g)
	}
	wg.Wait()

	require.Equal(t, goroutines*perGoroutine, m.Len())
	for i := 0; i < goroutines*perGoroutine; i++ {
		v, ok := m.Get(i)
		require.True(t, ok)
		require.Equal(t, i, v)
	}
}

func TestRetainKeepsOnlyMatching(t *testing.T) {
	m := New[int, int]()
	for i := 0; i < 50; i++ {
		m.Insert(i, i)
	}
	m.Retain(func(_ int, v int) bool { return v%2 == 0 })

	for i := 0; i < 50; i++ {
		_, ok := m.Get(i)
		require.Equal(t, i%2 == 0, ok)
	}
}

// TestRetainDoesNotClobberConcurrentUpdate exercises the observed-value
// guard directly: keep observes a stale value for one key, a concurrent
// writer updates that key before Retain reaches it, and the new value
// must survive rather than being deleted on the strength of keep's
// now-outdated verdict.
func TestRetainDoesNotClobberConcurrentUpdate(t *testing.T) {
	m := New[int, int]()
	m.Insert(0, 0)
	m.Insert(1, 1)

	first := true
	m.Retain(func(k int, v int) bool {
		if k == 0 && first {
			first = false
			m.Insert(0, 99)
			return false
		}
		return v%2 == 0
	})

	v, ok := m.Get(0)
	require.True(t, ok)
	require.Equal(t, 99, v)

	_, ok = m.Get(1)
	require.False(t, ok)
}

func TestClearEmptiesMap(t *testing.T) {
	m := New[int, int]()
	for i := 0; i < 100; i++ {
		m.Insert(i, i)
	}
	m.Clear()
	require.True(t, m.IsEmpty())
	_, ok := m.Get(0)
	require.False(t, ok)
}

func TestAllIteratesEveryEntryExactlyOnce(t *testing.T) {
	m := New[int, int]()
	want := map[int]int{}
	for i := 0; i < 300; i++ {
		m.Insert(i, i*2)
		want[i] = i * 2
	}

	seen := map[int]int{}
	for k, v := range m.All() {
		seen[k] = v
	}
	require.Equal(t, want, seen)
}

func TestReserveGrowsTableWithoutLosingEntries(t *testing.T) {
	m := New[int, int]()
	m.Insert(1, 1)
	m.Reserve(10000)
	require.GreaterOrEqual(t, m.currentTable().length(), tableSizeFor(10000))
	v, ok := m.Get(1)
	require.True(t, ok)
	require.Equal(t, 1, v)
}

// TestAgainstReferenceMap is a property-based check: a sequence of
// Insert/Remove/Get operations against chashmap.Map must agree with the
// same sequence applied to a plain Go map.
func TestAgainstReferenceMap(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := New[int, int]()
		reference := map[int]int{}

		ops := rapid.SliceOfN(rapid.IntRange(0, 2), 1, 200).Draw(t, "ops")
		keys := rapid.SliceOfN(rapid.IntRange(0, 15), 1, 200).Draw(t, "keys")
		values := rapid.SliceOfN(rapid.IntRange(0, 1000), 1, 200).Draw(t, "values")

		for i := range ops {
			k := keys[i%len(keys)]
			v := values[i%len(values)]
			switch ops[i%len(ops)] {
			case 0:
				_, existedGot := m.Insert(k, v)
				_, existedWant := reference[k]
				require.Equal(t, existedWant, existedGot)
				reference[k] = v
			case 1:
				gotV, gotOK := m.Remove(k)
				wantV, wantOK := reference[k]
				require.Equal(t, wantOK, gotOK)
				if wantOK {
					require.Equal(t, wantV, gotV)
				}
				delete(reference, k)
			case 2:
				gotV, gotOK := m.Get(k)
				wantV, wantOK := reference[k]
				require.Equal(t, wantOK, gotOK)
				if wantOK {
					require.Equal(t, wantV, gotV)
				}
			}
		}
	})
}
