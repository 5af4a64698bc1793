package chashmap

// putVal is the shared implementation behind Insert and TryInsert,
// following java.util.concurrent.ConcurrentHashMap.putVal's structure:
// retry on an empty bin's CAS race, help finish an in-progress resize on
// a Moved bin, delegate to the TreeBin's own locking for a tree bin, and
// otherwise lock the list bin's head Node for the scan-and-splice.
func (m *Map[K, V]) putVal(g *Guard, hash uint64, key K, value V, onlyIfAbsent bool) (V, bool) {
	for {
		tbl := m.currentTable()
		if tbl == nil {
			tbl = m.initTable()
			continue
		}
		i := tbl.bini(hash)
		b := tbl.bin(i)

		if b == nil {
			if tbl.casBin(i, nil, listEntry[K, V](newNode(hash, key, value))) {
				m.addCount(1, true)
				var zero V
				return zero, false
			}
			continue
		}

		if b == tbl.moved {
			m.helpTransfer(tbl)
			continue
		}

		if b.tree != nil {
			existing, _ := b.tree.putTreeVal(hash, key, value)
			if existing != nil {
				old := existing.loadValue()
				if !onlyIfAbsent {
					existing.storeValue(value)
				}
				return old, true
			}
			m.addCount(1, true)
			var zero V
			return zero, false
		}

		head := b.node
		head.mu.Lock()
		if tbl.bin(i) != b {
			head.mu.Unlock()
			continue
		}

		binCount := 0
		var resultOld V
		hadOld := false
		for cur := head; ; {
			binCount++
			if cur.hash == hash && m.hasher.Equal(cur.key, key) {
				resultOld = cur.loadValue()
				hadOld = true
				if !onlyIfAbsent {
					cur.storeValue(value)
				}
				break
			}
			nxt := cur.loadNext()
			if nxt == nil {
				cur.storeNext(newNode(hash, key, value))
				binCount++
				break
			}
			cur = nxt
		}
		head.mu.Unlock()

		if hadOld {
			return resultOld, true
		}
		m.addCount(1, true)
		if binCount >= treeifyThreshold {
			m.treeifyBinIfNeeded(tbl, i)
		}
		var zero V
		return zero, false
	}
}

// computeIfPresent finds key (in either bin shape), calls remap, and
// either updates the value in place or removes the node, all while
// holding the same per-bin lock a plain write would use so the
// read-modify-write is atomic with respect to other writers of this bin.
func (m *Map[K, V]) computeIfPresent(g *Guard, hash uint64, key K, remap func(K, V) (V, bool)) (V, bool) {
	for {
		tbl := m.currentTable()
		if tbl == nil {
			var zero V
			return zero, false
		}
		i := tbl.bini(hash)
		b := tbl.bin(i)
		if b == nil {
			var zero V
			return zero, false
		}
		if b == tbl.moved {
			m.helpTransfer(tbl)
			continue
		}
		if b.tree != nil {
			b.tree.lockRoot()
			n := b.tree.findNode(hash, key)
			if n == nil {
				b.tree.unlockRoot()
				var zero V
				return zero, false
			}
			newVal, keep := remap(key, n.loadValue())
			if keep {
				n.storeValue(newVal)
				b.tree.unlockRoot()
				return newVal, true
			}
			b.tree.unlockRoot()
			_, remaining, removed := b.tree.removeTreeNode(hash, key)
			if removed {
				m.addCount(-1, false)
				if remaining <= untreeifyThreshold {
					m.untreeifyBin(tbl, i)
				}
			}
			var zero V
			return zero, removed
		}

		head := b.node
		head.mu.Lock()
		if tbl.bin(i) != b {
			head.mu.Unlock()
			continue
		}

		var prev *Node[K, V]
		var found *Node[K, V]
		for cur := head; cur != nil; cur = cur.loadNext() {
			if cur.hash == hash && m.hasher.Equal(cur.key, key) {
				found = cur
				break
			}
			prev = cur
		}
		if found == nil {
			head.mu.Unlock()
			var zero V
			return zero, false
		}
		newVal, keep := remap(key, found.loadValue())
		if keep {
			found.storeValue(newVal)
			head.mu.Unlock()
			return newVal, true
		}
		m.unlinkLocked(tbl, i, b, prev, found)
		head.mu.Unlock()
		m.addCount(-1, false)
		m.retireNode(g, found)
		var zero V
		return zero, true
	}
}

// removeVal removes key's mapping. When cond is non-nil, the removal is
// conditional on cond(currentValue).
func (m *Map[K, V]) removeVal(g *Guard, hash uint64, key K, cond func(V) bool) (V, bool) {
	for {
		tbl := m.currentTable()
		if tbl == nil {
			var zero V
			return zero, false
		}
		i := tbl.bini(hash)
		b := tbl.bin(i)
		if b == nil {
			var zero V
			return zero, false
		}
		if b == tbl.moved {
			m.helpTransfer(tbl)
			continue
		}
		if b.tree != nil {
			v, ok := b.tree.find(hash, key)
			if !ok || (cond != nil && !cond(v)) {
				var zero V
				return zero, false
			}
			rv, remaining, removed := b.tree.removeTreeNode(hash, key)
			if !removed {
				var zero V
				return zero, false
			}
			m.addCount(-1, false)
			if remaining <= untreeifyThreshold {
				m.untreeifyBin(tbl, i)
			}
			return rv, true
		}

		head := b.node
		head.mu.Lock()
		if tbl.bin(i) != b {
			head.mu.Unlock()
			continue
		}

		var prev, found *Node[K, V]
		for cur := head; cur != nil; cur = cur.loadNext() {
			if cur.hash == hash && m.hasher.Equal(cur.key, key) {
				found = cur
				break
			}
			prev = cur
		}
		if found == nil {
			head.mu.Unlock()
			var zero V
			return zero, false
		}
		if cond != nil && !cond(found.loadValue()) {
			head.mu.Unlock()
			var zero V
			return zero, false
		}
		oldVal := found.loadValue()
		m.unlinkLocked(tbl, i, b, prev, found)
		head.mu.Unlock()
		m.addCount(-1, false)
		m.retireNode(g, found)
		return oldVal, true
	}
}

// removeIfValuePtr removes key's mapping only if its current value box is
// still exactly observed — the same box pointer a caller captured earlier
// via loadValuePtr (or GetEntry, for a list bin). This is the guard Retain
// needs: keep's decision was made against a value snapshot, and the entry
// must not be deleted if a concurrent writer has since replaced it with a
// different value, even one that compares equal.
func (m *Map[K, V]) removeIfValuePtr(g *Guard, hash uint64, key K, observed *V) (V, bool) {
	for {
		tbl := m.currentTable()
		if tbl == nil {
			var zero V
			return zero, false
		}
		i := tbl.bini(hash)
		b := tbl.bin(i)
		if b == nil {
			var zero V
			return zero, false
		}
		if b == tbl.moved {
			m.helpTransfer(tbl)
			continue
		}
		if b.tree != nil {
			b.tree.lockRoot()
			n := b.tree.findNode(hash, key)
			match := n != nil && n.loadValuePtr() == observed
			b.tree.unlockRoot()
			if !match {
				var zero V
				return zero, false
			}
			v, remaining, removed := b.tree.removeTreeNode(hash, key)
			if !removed {
				var zero V
				return zero, false
			}
			m.addCount(-1, false)
			if remaining <= untreeifyThreshold {
				m.untreeifyBin(tbl, i)
			}
			return v, true
		}

		head := b.node
		head.mu.Lock()
		if tbl.bin(i) != b {
			head.mu.Unlock()
			continue
		}

		var prev, found *Node[K, V]
		for cur := head; cur != nil; cur = cur.loadNext() {
			if cur.hash == hash && m.hasher.Equal(cur.key, key) {
				found = cur
				break
			}
			prev = cur
		}
		if found == nil || found.loadValuePtr() != observed {
			head.mu.Unlock()
			var zero V
			return zero, false
		}
		oldVal := found.loadValue()
		m.unlinkLocked(tbl, i, b, prev, found)
		head.mu.Unlock()
		m.addCount(-1, false)
		m.retireNode(g, found)
		return oldVal, true
	}
}

// unlinkLocked splices found out of the chain headed at b.node, called
// with head.mu already held. Unlinking the head itself means storing a new
// binEntry into the table slot (nil if the chain becomes empty) since the
// head is also the lock object other goroutines look up by re-reading the
// slot; splicing inside the chain is a plain pointer update since only the
// lock holder ever mutates next pointers.
func (m *Map[K, V]) unlinkLocked(tbl *table[K, V], i int, b *binEntry[K, V], prev, found *Node[K, V]) {
	if prev == nil {
		next := found.loadNext()
		var newEntry *binEntry[K, V]
		if next != nil {
			newEntry = listEntry[K, V](next)
		}
		tbl.storeBin(i, newEntry)
		return
	}
	prev.storeNext(found.loadNext())
}

// retireNode defers the unlinked node for epoch reclamation. In
// garbage-collected Go this doesn't free anything manually — the point is
// parity with the epoch-based design this map generalizes, and giving the
// Quiesce/Flush testable properties something concrete to observe.
func (m *Map[K, V]) retireNode(g *Guard, n *Node[K, V]) {
	g.inner.DeferDestroy(func() { retiredNodeSink(n) })
}

// retiredNodeSink exists only so the compiler can't prove the closure in
// retireNode is dead and eliminate the reference (keeping destroy
// callbacks meaningfully retentive of the node they retire, matching what
// a non-GC'd implementation's free() would address).
var retiredNodeSink = func(any) {}
