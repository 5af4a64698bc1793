package chashmap

import (
	"github.com/gopherlocks/chashmap/gatomic"
)

// table is one generation of the map's bin array. A resize never mutates
// a table in place: it builds a new, larger table and migrates bins into
// it one at a time, publishing forwarding Moved sentinels into the old
// table's bins as each is migrated — the same tagged-union CAS-retry
// discipline ctrie.go uses for its iNode/mainNode generations, specialized
// from a trie's per-level array to a single flat bin array.
type table[K comparable, V any] struct {
	bins []*binEntry[K, V]

	// moved is this table's pre-allocated Moved sentinel: every bin that
	// has finished migrating into next gets this exact pointer stored in
	// its slot, so bin == t.moved is a cheap pointer-identity check rather
	// than a type switch.
	moved *binEntry[K, V]

	next *table[K, V]
}

func newTable[K comparable, V any](n int) *table[K, V] {
	return &table[K, V]{
		bins:  make([]*binEntry[K, V], n),
		moved: &binEntry[K, V]{},
	}
}

func (t *table[K, V]) length() int { return len(t.bins) }

func (t *table[K, V]) bini(hash uint64) int {
	return int(hash & uint64(len(t.bins)-1))
}

func (t *table[K, V]) bin(i int) *binEntry[K, V] {
	return gatomic.LoadPointer(&t.bins[i])
}

func (t *table[K, V]) casBin(i int, old, new *binEntry[K, V]) bool {
	return gatomic.CompareAndSwapPointer(&t.bins[i], old, new)
}

func (t *table[K, V]) storeBin(i int, new *binEntry[K, V]) {
	gatomic.StorePointer(&t.bins[i], new)
}

func (t *table[K, V]) loadNext() *table[K, V] {
	return gatomic.LoadPointer(&t.next)
}

// getMoved returns this table's Moved sentinel after lazily linking next as
// this table's successor generation. Calling it twice with two different
// forTable values is a programmer error (there is only ever one successor
// generation per table) and indicates a bug in the resize controller, not
// a recoverable condition — hence the assertion panic rather than quietly
// overwriting next.
func (t *table[K, V]) getMoved(forTable *table[K, V]) *binEntry[K, V] {
	if !gatomic.CompareAndSwapPointer(&t.next, nil, forTable) {
		if t.loadNext() != forTable {
			panic("chashmap: table.getMoved called with a second distinct successor table")
		}
	}
	return t.moved
}

// find resolves hash/key against this table's bin i, following Moved
// forwarding into successor tables as needed. It never blocks and never
// takes a TreeBin writer lock: list bins walk lock-free, tree bins use
// TreeBin.find's optimistic/linear-fallback read path.
func (t *table[K, V]) find(i int, hash uint64, key K, eq func(K, K) bool) (V, bool) {
	cur := t
	idx := i
	for {
		b := cur.bin(idx)
		if b == nil {
			var zero V
			return zero, false
		}
		if b == cur.moved {
			nt := cur.loadNext()
			if nt == nil {
				var zero V
				return zero, false
			}
			cur = nt
			idx = cur.bini(hash)
			continue
		}
		if b.tree != nil {
			return b.tree.find(hash, key)
		}
		n, ok := b.node.find(hash, key, eq)
		if !ok {
			var zero V
			return zero, false
		}
		return n.loadValue(), true
	}
}
