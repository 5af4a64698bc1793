// Package chashmap implements a concurrent hash map with lock-free reads,
// per-bin fine-grained write locking, a red-black tree fallback for
// heavily-colliding bins, and cooperative incremental resizing — the same
// design lineage as java.util.concurrent.ConcurrentHashMap, adapted to Go
// generics and to epoch-based reclamation (internal/epoch) in place of a
// tracing collector scanning live thread stacks.
//
// Every bin slot carries a CAS-retry-on-contention discipline and a
// tagged-union-of-pointers representation for its mutable "shape"
// (binEntry: empty, list, tree, or forwarded) rather than an interface,
// so the hot read path never pays for a method dispatch or a boxing
// allocation.
package chashmap

import (
	"cmp"
	"runtime"

	"github.com/gopherlocks/chashmap/gatomic"
	"github.com/gopherlocks/chashmap/internal/epoch"
	"github.com/gopherlocks/chashmap/internal/xlog"
)

// Guard is a pinned epoch participant. Holding one guarantees that any
// value read through it (via GetEntry) stays reachable until Unpin is
// called — the Go analogue of a crossbeam-epoch Guard, adapted to a
// garbage-collected runtime: Go's GC would keep a directly-held reference
// alive regardless, so a Guard's real job is bounding how long a Map may
// defer running a DeferDestroy callback, and giving GetEntry's pointer
// result a documented validity window that matches the original design.
type Guard struct {
	inner *epoch.Guard
}

// Unpin releases the guard. It must be called exactly once; failing to
// call it blocks the map's epoch from ever advancing past this guard's
// pin point, which in turn blocks DeferDestroy callbacks queued at or
// before that epoch from ever running.
func (g *Guard) Unpin() { g.inner.Unpin() }

// Map is a concurrent hash map keyed by K, holding values of type V.
type Map[K comparable, V any] struct {
	table *table[K, V]

	sizeCtl  int64
	resizers int64

	transferIndex int64
	count         int64

	collector *epoch.Collector
	hasher    Hasher[K]
	logger    xlog.Logger
}

// New constructs a Map using the default Hasher for K (xxhash-backed for
// string keys, hash/maphash.Comparable otherwise).
func New[K comparable, V any](opts ...Option[K, V]) *Map[K, V] {
	cfg := newMapConfig[K, V]()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.hasher == nil {
		cfg.hasher = NewHasher[K]()
	}
	return &Map[K, V]{
		sizeCtl:   int64(tableSizeFor(cfg.capacity)),
		collector: epoch.NewCollector(),
		hasher:    cfg.hasher,
		logger:    cfg.logger,
	}
}

// NewOrdered is a convenience constructor for any cmp.Ordered key type: it
// uses NewOrderedHasher, whose tree tie-break order is the key's natural
// "<" rather than the generic fallback's independently-seeded hashes.
func NewOrdered[K cmp.Ordered, V any](opts ...Option[K, V]) *Map[K, V] {
	return New[K, V](append([]Option[K, V]{WithHasher[K, V](NewOrderedHasher[K]())}, opts...)...)
}

// Pin pins the calling goroutine to the map's current epoch. The returned
// Guard must be Unpinned once the caller is done with any value obtained
// through GetEntry while it was pinned.
func (m *Map[K, V]) Pin() *Guard {
	return &Guard{inner: m.collector.Pin()}
}

func (m *Map[K, V]) checkGuard(g *Guard) {
	if g == nil || g.inner.Collector() != m.collector {
		panic(newGuardMismatchError(2))
	}
}

// Len returns the approximate number of entries in the map. Under
// concurrent writers this is a snapshot, not a linearizable count.
func (m *Map[K, V]) Len() int {
	n := gatomic.LoadInt64(&m.count)
	if n < 0 {
		return 0
	}
	return int(n)
}

// IsEmpty reports whether Len() == 0.
func (m *Map[K, V]) IsEmpty() bool { return m.Len() == 0 }

func (m *Map[K, V]) currentTable() *table[K, V] {
	return gatomic.LoadPointer(&m.table)
}

// Get returns a copy of the value stored for key, if present. It never
// blocks: list bins are walked lock-free and tree bins use TreeBin's
// optimistic/linear-fallback read path.
func (m *Map[K, V]) Get(key K) (V, bool) {
	g := m.Pin()
	defer g.Unpin()
	return m.getWithGuard(g, key)
}

// GetEntry is like Get but returns a pointer into the entry's current
// value box rather than a copy. The pointer is only guaranteed valid
// while g remains pinned: once g.Unpin is called, a concurrent writer may
// have already retired the box the pointer addresses.
func (m *Map[K, V]) GetEntry(g *Guard, key K) (*V, bool) {
	m.checkGuard(g)
	hash := m.hasher.Hash(key)
	tbl := m.currentTable()
	if tbl == nil {
		return nil, false
	}
	n, tb, ok := m.findRaw(tbl, hash, key)
	switch {
	case tb != nil:
		for tn := tb.first; tn != nil; tn = tn.loadNextLink() {
			if tn.hash == hash && m.hasher.Equal(tn.key, key) {
				return tn.loadValuePtr(), true
			}
		}
		return nil, false
	case ok:
		return n.loadValuePtr(), true
	default:
		return nil, false
	}
}

func (m *Map[K, V]) getWithGuard(_ *Guard, key K) (V, bool) {
	hash := m.hasher.Hash(key)
	tbl := m.currentTable()
	if tbl == nil {
		var zero V
		return zero, false
	}
	return tbl.find(tbl.bini(hash), hash, key, m.hasher.Equal)
}

// findRaw is a lower-level lookup used by GetEntry: it follows Moved
// forwarding itself so it can return either the backing *Node (list bin)
// or the TreeBin (tree bin) rather than just a value copy.
func (m *Map[K, V]) findRaw(tbl *table[K, V], hash uint64, key K) (*Node[K, V], *TreeBin[K, V], bool) {
	cur := tbl
	i := cur.bini(hash)
	for {
		b := cur.bin(i)
		if b == nil {
			return nil, nil, false
		}
		if b == cur.moved {
			nt := cur.loadNext()
			if nt == nil {
				return nil, nil, false
			}
			cur = nt
			i = cur.bini(hash)
			continue
		}
		if b.tree != nil {
			return nil, b.tree, true
		}
		n, ok := b.node.find(hash, key, m.hasher.Equal)
		return n, nil, ok
	}
}

// ContainsKey reports whether key has a mapping.
func (m *Map[K, V]) ContainsKey(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Insert stores value for key, returning the previous value (if any) and
// whether a previous mapping existed.
func (m *Map[K, V]) Insert(key K, value V) (V, bool) {
	g := m.Pin()
	defer g.Unpin()
	return m.putVal(g, m.hasher.Hash(key), key, value, false)
}

// TryInsert stores value for key only if key has no existing mapping. If
// key is already present, it returns an *AlreadyPresentError[V] carrying
// the existing value and leaves the map unchanged.
func (m *Map[K, V]) TryInsert(key K, value V) error {
	g := m.Pin()
	defer g.Unpin()
	old, existed := m.putVal(g, m.hasher.Hash(key), key, value, true)
	if existed {
		return &AlreadyPresentError[V]{Existing: old}
	}
	return nil
}

// ComputeIfPresent atomically updates the value for an existing key. remap
// is called with the current value; if it returns ok == false, the entry
// is removed, otherwise its value becomes the returned one. It returns the
// new value (zero value if removed) and whether key was present.
func (m *Map[K, V]) ComputeIfPresent(key K, remap func(K, V) (V, bool)) (V, bool) {
	g := m.Pin()
	defer g.Unpin()
	return m.computeIfPresent(g, m.hasher.Hash(key), key, remap)
}

// Remove deletes key's mapping if present, returning the removed value.
func (m *Map[K, V]) Remove(key K) (V, bool) {
	g := m.Pin()
	defer g.Unpin()
	return m.removeVal(g, m.hasher.Hash(key), key, nil)
}

// RemoveEntry removes key's mapping only if cond(currentValue) returns
// true, returning the removed value and whether a removal happened.
func (m *Map[K, V]) RemoveEntry(key K, cond func(V) bool) (V, bool) {
	g := m.Pin()
	defer g.Unpin()
	return m.removeVal(g, m.hasher.Hash(key), key, cond)
}

// Clear removes all entries. It is implemented as a fresh empty table
// swap rather than per-bin removal, so it does not participate in any
// resize in progress — a resize racing with Clear will simply transfer an
// emptying table and its result will itself be discarded by the swap.
func (m *Map[K, V]) Clear() {
	nt := newTable[K, V](defaultCapacity)
	gatomic.StorePointer(&m.table, nt)
	gatomic.StoreInt64(&m.sizeCtl, int64(float64(defaultCapacity)*loadFactor))
	gatomic.StoreInt64(&m.count, 0)
	gatomic.StoreInt64(&m.resizers, 0)
	gatomic.StoreInt64(&m.transferIndex, 0)
}

// Reserve ensures the table can hold at least n entries without a resize,
// triggering an immediate resize if the current table is undersized. It
// blocks the calling goroutine until the table has reached that size; a
// resize already in progress is waited for, not helped.
func (m *Map[K, V]) Reserve(n int) {
	// The table resizes once it holds loadFactor (3/4) of its length, so n
	// entries need a length above 4n/3.
	want := tableSizeFor(n + n/3 + 1)
	tbl := m.currentTable()
	if tbl == nil {
		gatomic.CompareAndSwapInt64(&m.sizeCtl, gatomic.LoadInt64(&m.sizeCtl), int64(want))
		m.initTable()
		return
	}
	for tbl.length() < want {
		m.triggerResize(tbl)
		for gatomic.LoadInt64(&m.resizers) > 0 {
			runtime.Gosched()
		}
		tbl = m.currentTable()
	}
}

// Retain removes every entry for which keep returns false. A removal is
// gated on the value keep actually observed: if a concurrent writer
// replaces an entry's value after keep ran but before Retain gets to it,
// that entry survives rather than being deleted out from under the
// writer.
func (m *Map[K, V]) Retain(keep func(K, V) bool) {
	m.retain(keep, false)
}

// RetainForce is like Retain but first waits for any in-progress resize to
// complete (so the scan starts on a single table generation)
// and removes unconditionally on whatever key keep rejected, without
// re-checking the value against what was observed. Use this when the
// caller wants a guaranteed-complete sweep and doesn't need the
// observed-value guard Retain provides.
func (m *Map[K, V]) RetainForce(keep func(K, V) bool) {
	m.retain(keep, true)
}

func (m *Map[K, V]) retain(keep func(K, V) bool, force bool) {
	if force {
		for gatomic.LoadInt64(&m.resizers) > 0 {
			runtime.Gosched()
		}
	}
	g := m.Pin()
	defer g.Unpin()
	for _, e := range m.retainSnapshot() {
		if keep(e.key, *e.value) {
			continue
		}
		hash := m.hasher.Hash(e.key)
		if force {
			m.removeVal(g, hash, e.key, nil)
		} else {
			m.removeIfValuePtr(g, hash, e.key, e.value)
		}
	}
}
