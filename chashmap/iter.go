package chashmap

import "iter"

// All returns a weakly-consistent iterator over the map's entries: it
// never panics or repeats an entry that was never removed, but an entry
// inserted or removed concurrently with the iteration may or may not be
// observed, the same guarantee java.util.concurrent.ConcurrentHashMap's
// iterators make. A bin forwarded to a newer table generation mid-scan is
// followed into both of its split halves rather than skipped.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		tbl := m.currentTable()
		if tbl == nil {
			return
		}
		for i := 0; i < tbl.length(); i++ {
			if !m.iterateBin(tbl, i, yield) {
				return
			}
		}
	}
}

// Keys returns an iterator over the map's keys, built on All.
func (m *Map[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for k := range m.All() {
			if !yield(k) {
				return
			}
		}
	}
}

// Values returns an iterator over the map's values, built on All.
func (m *Map[K, V]) Values() iter.Seq[V] {
	return func(yield func(V) bool) {
		for _, v := range m.All() {
			if !yield(v) {
				return
			}
		}
	}
}

// retainEntry pairs a key with a pointer to the value box observed for it
// during a retain scan, so the later removal can be gated on that exact
// box still being current rather than on a value copy going stale.
type retainEntry[K comparable, V any] struct {
	key   K
	value *V
}

// retainSnapshot walks the map the same way All does but captures each
// entry's live value pointer (loadValuePtr) instead of a copy, giving
// Retain something to guard its removals against.
func (m *Map[K, V]) retainSnapshot() []retainEntry[K, V] {
	tbl := m.currentTable()
	if tbl == nil {
		return nil
	}
	var out []retainEntry[K, V]
	for i := 0; i < tbl.length(); i++ {
		m.snapshotBin(tbl, i, &out)
	}
	return out
}

func (m *Map[K, V]) snapshotBin(tbl *table[K, V], i int, out *[]retainEntry[K, V]) {
	b := tbl.bin(i)
	if b == nil {
		return
	}
	if b == tbl.moved {
		nt := tbl.loadNext()
		if nt == nil {
			return
		}
		oldCap := tbl.length()
		m.snapshotBin(nt, i, out)
		m.snapshotBin(nt, i+oldCap, out)
		return
	}
	if b.tree != nil {
		for _, tn := range b.tree.nodes() {
			*out = append(*out, retainEntry[K, V]{key: tn.key, value: tn.loadValuePtr()})
		}
		return
	}
	for n := b.node; n != nil; n = n.loadNext() {
		*out = append(*out, retainEntry[K, V]{key: n.key, value: n.loadValuePtr()})
	}
}

func (m *Map[K, V]) iterateBin(tbl *table[K, V], i int, yield func(K, V) bool) bool {
	b := tbl.bin(i)
	if b == nil {
		return true
	}
	if b == tbl.moved {
		nt := tbl.loadNext()
		if nt == nil {
			return true
		}
		oldCap := tbl.length()
		if !m.iterateBin(nt, i, yield) {
			return false
		}
		return m.iterateBin(nt, i+oldCap, yield)
	}
	if b.tree != nil {
		for _, tn := range b.tree.nodes() {
			if !yield(tn.key, tn.loadValue()) {
				return false
			}
		}
		return true
	}
	for n := b.node; n != nil; n = n.loadNext() {
		if !yield(n.key, n.loadValue()) {
			return false
		}
	}
	return true
}
