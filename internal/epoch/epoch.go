// Package epoch implements a small three-epoch safe memory reclamation
// (SMR) scheme: pinned participants publish the global epoch they observed
// when they pinned, and an object is only destroyed once every participant
// that could have observed it has advanced at least two epochs past its
// retirement.
//
// The registry of participants is a grow-only Treiber stack of slots: Pin
// reuses any unclaimed slot and pushes a new one only when every slot is
// claimed; slots are never removed.
package epoch

import (
	"runtime"
	"sync"

	"github.com/gopherlocks/chashmap/gatomic"
)

// Collector owns the global epoch counter and the retirement bins. A Map
// creates exactly one Collector and every Guard produced by Pin belongs to
// it; mixing guards across Collectors is a programming error (see
// chashmap.GuardMismatchError).
type Collector struct {
	epoch int64 // atomic; monotonically increasing

	head *slot // atomic; head of the participant registry (Treiber stack)

	bins [3]retireBin
}

type slot struct {
	next *slot // immutable once linked; never mutated after CAS-publish

	claimed uint32 // atomic: 1 while some Guard owns this slot
	active  uint32 // atomic: 1 while that Guard is pinned
	epoch   int64  // atomic: the epoch observed at the most recent Pin
}

type retireBin struct {
	mu  sync.Mutex
	fns []func()
}

// NewCollector returns a fresh, empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Guard is a scoped pin of the current epoch. It must be released with
// Unpin exactly once, typically via defer.
type Guard struct {
	c    *Collector
	slot *slot
}

// Collector returns the Collector g was pinned against, used to assert
// that a Guard is not passed to an operation on a different Map.
func (g *Guard) Collector() *Collector { return g.c }

// Pin acquires a new guard against the current epoch. The calling
// goroutine must not retain pointers loaded while pinned after calling
// Unpin.
func (c *Collector) Pin() *Guard {
	s := c.acquireSlot()
	g := gatomic.LoadInt64(&c.epoch)
	gatomic.StoreInt64(&s.epoch, g)
	gatomic.StoreUint32(&s.active, 1)
	return &Guard{c: c, slot: s}
}

// Unpin releases the guard, making its slot available for reuse and
// opportunistically attempting to advance the global epoch.
func (g *Guard) Unpin() {
	gatomic.StoreUint32(&g.slot.active, 0)
	gatomic.StoreUint32(&g.slot.claimed, 0)
	g.c.tryAdvance()
}

// DeferDestroy schedules destroy to run once every guard pinned at or
// before the current epoch has unpinned. destroy must not touch any data
// another live guard might still be dereferencing concurrently through a
// different path — it is meant for "this pointer is unreachable from the
// structure now, stop pinning its backing memory", not general cleanup.
func (g *Guard) DeferDestroy(destroy func()) {
	g.c.retire(destroy)
}

// Flush hints that accumulated retirements should be processed now. It is
// best-effort: a straggling guard pinned at an old epoch will still block
// collection until it unpins.
func (g *Guard) Flush() {
	for i := 0; i < 3; i++ {
		if !g.c.tryAdvance() {
			return
		}
	}
}

func (c *Collector) acquireSlot() *slot {
	for s := gatomic.LoadPointer(&c.head); s != nil; s = s.next {
		if gatomic.CompareAndSwapUint32(&s.claimed, 0, 1) {
			return s
		}
	}
	ns := &slot{claimed: 1}
	for {
		head := gatomic.LoadPointer(&c.head)
		ns.next = head
		if gatomic.CompareAndSwapPointer(&c.head, head, ns) {
			return ns
		}
	}
}

// tryAdvance moves the global epoch forward by one if no active
// participant is pinned at an older epoch, and collects the retirement
// bin that becomes safe as a result. It returns whether the epoch
// advanced.
func (c *Collector) tryAdvance() bool {
	g := gatomic.LoadInt64(&c.epoch)
	for s := gatomic.LoadPointer(&c.head); s != nil; s = s.next {
		if gatomic.LoadUint32(&s.active) == 1 && gatomic.LoadInt64(&s.epoch) != g {
			return false
		}
	}
	if !gatomic.CompareAndSwapInt64(&c.epoch, g, g+1) {
		return false
	}
	newEpoch := g + 1
	if newEpoch >= 2 {
		// The bin (newEpoch - 2) mod 3 == (newEpoch + 1) mod 3 holds
		// retirements from an epoch two generations stale: every
		// participant that could still reference them has, by the
		// condition above, already caught up to newEpoch - 1 or later.
		c.collect(int((newEpoch + 1) % 3))
	}
	return true
}

func (c *Collector) retire(destroy func()) {
	g := gatomic.LoadInt64(&c.epoch)
	bin := &c.bins[g%3]
	bin.mu.Lock()
	bin.fns = append(bin.fns, destroy)
	bin.mu.Unlock()
}

func (c *Collector) collect(idx int) {
	bin := &c.bins[idx]
	bin.mu.Lock()
	fns := bin.fns
	bin.fns = nil
	bin.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Quiesce calls tryAdvance maxAttempts times, yielding the processor after
// each attempt that does not advance the epoch. It is used by tests that need retirements to actually run.
func (c *Collector) Quiesce(maxAttempts int) {
	for i := 0; i < maxAttempts; i++ {
		if !c.tryAdvance() {
			runtime.Gosched()
		}
	}
}
