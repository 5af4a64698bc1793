package chashmap

import (
	"runtime"

	"github.com/gopherlocks/chashmap/gatomic"
	"github.com/gopherlocks/chashmap/internal/cpuprobe"
)

// initTable lazily allocates the first generation table, following
// ConcurrentHashMap.initTable: sizeCtl doubles as "requested capacity"
// before the table exists and as "resize threshold" afterward; -1 marks
// "a goroutine is allocating it right now" so late arrivals just spin.
func (m *Map[K, V]) initTable() *table[K, V] {
	for {
		if tbl := m.currentTable(); tbl != nil {
			return tbl
		}
		sc := gatomic.LoadInt64(&m.sizeCtl)
		if sc < 0 {
			runtime.Gosched()
			continue
		}
		if gatomic.CompareAndSwapInt64(&m.sizeCtl, sc, -1) {
			n := defaultCapacity
			if sc > 0 {
				n = int(sc)
			}
			nt := newTable[K, V](n)
			gatomic.StorePointer(&m.table, nt)
			gatomic.StoreInt64(&m.sizeCtl, int64(float64(n)*loadFactor))
			return nt
		}
	}
}

// addCount adjusts the approximate size counter by delta and, when
// checkResize is set (i.e. this call followed a successful insertion,
// never a treeify-only bookkeeping call), starts a resize once the count
// crosses the current threshold.
func (m *Map[K, V]) addCount(delta int64, checkResize bool) {
	gatomic.AddInt64(&m.count, delta)
	if !checkResize || delta <= 0 {
		return
	}
	tbl := m.currentTable()
	if tbl == nil {
		return
	}
	sc := gatomic.LoadInt64(&m.sizeCtl)
	cnt := gatomic.LoadInt64(&m.count)
	if sc >= 0 && cnt >= sc && tbl.length() < maxCapacity {
		m.triggerResize(tbl)
	}
}

// triggerResize starts a resize of tbl if one isn't already running,
// otherwise it's a no-op: the caller that loses the CAS race simply
// proceeds, trusting the winner's resize to grow the table.
func (m *Map[K, V]) triggerResize(tbl *table[K, V]) {
	if !gatomic.CompareAndSwapInt64(&m.resizers, 0, 1) {
		return
	}
	newCap := tbl.length() * 2
	if newCap > maxCapacity {
		newCap = maxCapacity
	}
	nt := newTable[K, V](newCap)
	tbl.getMoved(nt)
	gatomic.StoreInt64(&m.transferIndex, int64(tbl.length()))
	m.logger.Info("resize started", "from", tbl.length(), "to", nt.length())
	m.transferLoop(tbl, nt)
}

// helpTransfer is called by a reader or writer that observed a Moved bin:
// it joins the resize already in progress (if one still is) rather than
// spinning on the forwarded bin, so write-heavy load during a resize
// drains the old table faster instead of piling up behind it.
func (m *Map[K, V]) helpTransfer(tbl *table[K, V]) {
	nt := tbl.loadNext()
	if nt == nil {
		return
	}
	for {
		r := gatomic.LoadInt64(&m.resizers)
		if r <= 0 {
			return
		}
		if gatomic.CompareAndSwapInt64(&m.resizers, r, r+1) {
			break
		}
	}
	m.transferLoop(tbl, nt)
}

// transferStride sizes the chunk of bins a single transfer participant
// claims per round: at least minTransferStride, scaled down as more CPUs
// (and so, plausibly, more concurrent helpers) are available, matching
// the design note that stride sizing must consult the CPU-count probe
// rather than a fixed constant.
func transferStride(oldCap int) int {
	s := oldCap / (cpuprobe.NumCPU() * 8)
	if s < minTransferStride {
		s = minTransferStride
	}
	return s
}

// transferLoop claims descending strides of tbl's bins via CAS on
// transferIndex, migrates each claimed bin into nt, and — when the
// last active participant finishes — publishes nt as the map's current
// table. Every participant (the initiator from triggerResize, any helper
// from helpTransfer) runs this same loop, so the stride-claiming CAS is
// the only coordination point between them.
func (m *Map[K, V]) transferLoop(tbl, nt *table[K, V]) {
	stride := transferStride(tbl.length())
	for {
		hi := gatomic.LoadInt64(&m.transferIndex)
		if hi <= 0 {
			break
		}
		lo := hi - int64(stride)
		if lo < 0 {
			lo = 0
		}
		if !gatomic.CompareAndSwapInt64(&m.transferIndex, hi, lo) {
			continue
		}
		for i := hi - 1; i >= lo; i-- {
			m.migrateBin(tbl, nt, int(i))
		}
		if lo == 0 {
			break
		}
	}
	if gatomic.AddInt64(&m.resizers, -1) == 0 {
		gatomic.StorePointer(&m.table, nt)
		gatomic.StoreInt64(&m.sizeCtl, int64(float64(nt.length())*loadFactor))
		m.logger.Info("resize finished", "size", nt.length())
	}
}

// migrateBin moves table bin i's contents from tbl into nt (splitting list
// and tree bins into "lo" and "hi" halves by the newly-significant bit),
// then marks tbl's bin i as Moved so any reader/writer still looking at
// the old table forwards into nt.
func (m *Map[K, V]) migrateBin(tbl, nt *table[K, V], i int) {
	oldCap := tbl.length()
	for {
		b := tbl.bin(i)
		if b == tbl.moved {
			return
		}
		if b == nil {
			if tbl.casBin(i, nil, tbl.moved) {
				return
			}
			continue
		}
		if b.tree != nil {
			m.splitTreeBin(tbl, nt, i, oldCap, b.tree)
		} else if !m.splitListBin(tbl, nt, i, oldCap, b.node) {
			// head changed out from under us (a writer raced in before we
			// got head.mu); reload b and retry from scratch.
			continue
		}
		if tbl.casBin(i, b, tbl.moved) {
			return
		}
		// Lost the race marking this bin Moved (shouldn't normally happen,
		// since only the winning migrator reaches this point for a given
		// i, but retry defensively rather than leaving the bin unmarked).
	}
}

// splitListBin partitions a list bin into nt's "lo" (i) and "hi" (i+oldCap)
// slots by the newly significant bit, following
// java.util.concurrent.ConcurrentHashMap.transfer's list-bin case: it
// takes head's lock so a concurrent putVal/removeVal/computeIfPresent on
// this bin (all of which lock the same head before mutating) can't append
// or unlink while the split is being computed, and it never mutates an
// original Node's next pointer — only brand-new Nodes are spliced for the
// prefix before the last same-destination run, and that run's original
// Node objects are reused verbatim as the new chain's tail. A concurrent
// lock-free reader walking the old chain therefore never observes a
// truncated or rewritten list, even though this goroutine is touching the
// same objects. Returns false if head no longer matches this bin's
// current head (the caller should reread the bin and retry).
func (m *Map[K, V]) splitListBin(tbl, nt *table[K, V], i, oldCap int, head *Node[K, V]) bool {
	head.mu.Lock()
	defer head.mu.Unlock()
	if b := tbl.bin(i); b == nil || b.node != head {
		return false
	}

	runBit := head.hash & uint64(oldCap)
	lastRun := head
	for p := head.loadNext(); p != nil; p = p.loadNext() {
		if bit := p.hash & uint64(oldCap); bit != runBit {
			runBit = bit
			lastRun = p
		}
	}

	var loHead, hiHead *Node[K, V]
	if runBit == 0 {
		loHead = lastRun
	} else {
		hiHead = lastRun
	}
	for p := head; p != lastRun; p = p.loadNext() {
		n := newNode[K, V](p.hash, p.key, p.loadValue())
		if p.hash&uint64(oldCap) == 0 {
			n.storeNext(loHead)
			loHead = n
		} else {
			n.storeNext(hiHead)
			hiHead = n
		}
	}

	if loHead != nil {
		nt.storeBin(i, listEntry[K, V](loHead))
	}
	if hiHead != nil {
		nt.storeBin(i+oldCap, listEntry[K, V](hiHead))
	}
	return true
}

func (m *Map[K, V]) splitTreeBin(tbl, nt *table[K, V], i, oldCap int, tb *TreeBin[K, V]) {
	tb.lockRoot()
	nodes := tb.nodes()
	tb.unlockRoot()

	var lo, hi []*TreeNode[K, V]
	for _, n := range nodes {
		if n.hash&uint64(oldCap) == 0 {
			lo = append(lo, n)
		} else {
			hi = append(hi, n)
		}
	}

	nt.storeBin(i, m.binFromTreeNodes(lo))
	nt.storeBin(i+oldCap, m.binFromTreeNodes(hi))
}

// binFromTreeNodes rebuilds a bin from a partitioned set of TreeNodes,
// untreeifying back to a list if the partition shrank to
// untreeifyThreshold or below. It always constructs fresh nodes rather
// than re-splicing the originals in place — simpler than the in-place
// tree-splitting java.util.concurrent.ConcurrentHashMap.splitTreeBin
// performs, at the cost of reallocating every node a resize touches.
func (m *Map[K, V]) binFromTreeNodes(nodes []*TreeNode[K, V]) *binEntry[K, V] {
	if len(nodes) == 0 {
		return nil
	}
	if len(nodes) <= untreeifyThreshold {
		var head, tail *Node[K, V]
		for _, tn := range nodes {
			n := newNode[K, V](tn.hash, tn.key, tn.loadValue())
			if head == nil {
				head = n
			} else {
				tail.storeNext(n)
			}
			tail = n
		}
		return listEntry[K, V](head)
	}
	fresh := make([]*TreeNode[K, V], len(nodes))
	for idx, tn := range nodes {
		fresh[idx] = newTreeNode[K, V](tn.hash, tn.key, tn.loadValue())
	}
	return treeEntry[K, V](newTreeBin[K, V](m.hasher, fresh))
}

// treeifyBinIfNeeded converts a list bin into a TreeBin once its length
// crosses treeifyThreshold, unless the table itself is still below
// minTreeifyCapacity — in which case growing the table is more valuable
// than treeifying one bin, matching java.util.concurrent.ConcurrentHashMap's
// treeifyBin behavior.
func (m *Map[K, V]) treeifyBinIfNeeded(tbl *table[K, V], i int) {
	if tbl.length() < minTreeifyCapacity {
		m.triggerResize(tbl)
		return
	}
	b := tbl.bin(i)
	if b == nil || b.node == nil {
		return
	}
	head := b.node
	head.mu.Lock()
	defer head.mu.Unlock()
	if tbl.bin(i) != b {
		return
	}
	var nodes []*TreeNode[K, V]
	for n := head; n != nil; n = n.loadNext() {
		nodes = append(nodes, newTreeNode[K, V](n.hash, n.key, n.loadValue()))
	}
	if len(nodes) < treeifyThreshold {
		return
	}
	tbl.storeBin(i, treeEntry[K, V](newTreeBin[K, V](m.hasher, nodes)))
	m.logger.Debug("bin treeified", "index", i, "count", len(nodes))
}

// untreeifyBin converts a tree bin back into a list once its membership
// has dropped to untreeifyThreshold or below.
func (m *Map[K, V]) untreeifyBin(tbl *table[K, V], i int) {
	b := tbl.bin(i)
	if b == nil || b.tree == nil {
		return
	}
	nodes := b.tree.nodes()
	var head, tail *Node[K, V]
	for _, tn := range nodes {
		n := newNode[K, V](tn.hash, tn.key, tn.loadValue())
		if head == nil {
			head = n
		} else {
			tail.storeNext(n)
		}
		tail = n
	}
	var newEntry *binEntry[K, V]
	if head != nil {
		newEntry = listEntry[K, V](head)
	}
	tbl.casBin(i, b, newEntry)
	m.logger.Debug("bin untreeified", "index", i, "count", len(nodes))
}
