package chashmap

import (
	"github.com/gopherlocks/chashmap/gatomic"
	"github.com/gopherlocks/chashmap/internal/parker"
)

// TreeNode is a red-black tree node used once a bin has treeified. It
// embeds Node for hash/key/value/mu, but keeps its own left/right/parent
// and prev/next fields rather than reusing the embedded Node.next: Java's
// TreeNode upcasts Node.next to TreeNode because Java has runtime type
// checks on field access, but Go's static embedding can't narrow an
// inherited field's type, so the doubly-linked insertion order this bin
// maintains in parallel with the tree shape (for untreeify and for the
// reader fallback walk) lives in TreeNode's own prev/next instead. Node's
// next field is simply left unused on a TreeNode.
type TreeNode[K comparable, V any] struct {
	Node[K, V]

	parent *TreeNode[K, V]
	left   *TreeNode[K, V]
	right  *TreeNode[K, V]

	prev *TreeNode[K, V]
	next *TreeNode[K, V]

	red bool
}

func newTreeNode[K comparable, V any](hash uint64, key K, value V) *TreeNode[K, V] {
	tn := &TreeNode[K, V]{red: true}
	tn.hash = hash
	tn.key = key
	tn.storeValue(value)
	return tn
}

func (n *TreeNode[K, V]) loadParent() *TreeNode[K, V] { return gatomic.LoadPointer(&n.parent) }
func (n *TreeNode[K, V]) storeParent(p *TreeNode[K, V]) { gatomic.StorePointer(&n.parent, p) }
func (n *TreeNode[K, V]) loadLeft() *TreeNode[K, V]   { return gatomic.LoadPointer(&n.left) }
func (n *TreeNode[K, V]) storeLeft(c *TreeNode[K, V]) { gatomic.StorePointer(&n.left, c) }
func (n *TreeNode[K, V]) loadRight() *TreeNode[K, V]   { return gatomic.LoadPointer(&n.right) }
func (n *TreeNode[K, V]) storeRight(c *TreeNode[K, V]) { gatomic.StorePointer(&n.right, c) }
func (n *TreeNode[K, V]) loadPrev() *TreeNode[K, V]   { return gatomic.LoadPointer(&n.prev) }
func (n *TreeNode[K, V]) storePrev(c *TreeNode[K, V]) { gatomic.StorePointer(&n.prev, c) }
func (n *TreeNode[K, V]) loadNextLink() *TreeNode[K, V]   { return gatomic.LoadPointer(&n.next) }
func (n *TreeNode[K, V]) storeNextLink(c *TreeNode[K, V]) { gatomic.StorePointer(&n.next, c) }

func isRed[K comparable, V any](n *TreeNode[K, V]) bool {
	return n != nil && n.red
}

func setRed[K comparable, V any](n *TreeNode[K, V], red bool) {
	if n != nil {
		n.red = red
	}
}

func parentOf[K comparable, V any](n *TreeNode[K, V]) *TreeNode[K, V] {
	if n == nil {
		return nil
	}
	return n.loadParent()
}

func leftOf[K comparable, V any](n *TreeNode[K, V]) *TreeNode[K, V] {
	if n == nil {
		return nil
	}
	return n.loadLeft()
}

func rightOf[K comparable, V any](n *TreeNode[K, V]) *TreeNode[K, V] {
	if n == nil {
		return nil
	}
	return n.loadRight()
}

const (
	lockWriter = 1 << 0
	lockWaiter = 1 << 1
	lockReader = 1 << 2
)

// TreeBin is a bin that has crossed treeifyThreshold: its contents form a
// red-black tree ordered by (hash, Hasher.Less) rather than a list. Reads
// take an optimistic path (a reader-count CAS, bumped back down when the
// descent finishes) so long as no writer is active or waiting; once a
// writer is present or pending, readers fall back to a plain linear walk
// of the prev/next chain so they never block behind tree restructuring.
// This mirrors java.util.concurrent.ConcurrentHashMap.TreeBin's lockState
// protocol exactly, generalized from int bit flags to the same named
// constants here.
type TreeBin[K comparable, V any] struct {
	root  *TreeNode[K, V]
	first *TreeNode[K, V]

	lockState uint32
	waiter    *parker.Parker

	hasher Hasher[K]
}

func newTreeBin[K comparable, V any](hasher Hasher[K], nodes []*TreeNode[K, V]) *TreeBin[K, V] {
	tb := &TreeBin[K, V]{hasher: hasher}
	var tail *TreeNode[K, V]
	for _, n := range nodes {
		n.storeLeft(nil)
		n.storeRight(nil)
		n.storeParent(nil)
		n.storePrev(nil)
		n.storeNextLink(nil)
		if tb.first == nil {
			tb.first = n
		} else {
			tail.storeNextLink(n)
			n.storePrev(tail)
		}
		tail = n
		tb.root = tb.insertRebalance(tb.root, n)
	}
	return tb
}

// insertRebalance places n into the BST rooted at root by (hash, Less) and
// rebalances, returning the (possibly new) root. It never touches
// first/prev/next — callers that are growing the bin's membership (rather
// than just rebuilding from an existing node set) are responsible for
// threading the new node into the doubly linked order themselves.
func (tb *TreeBin[K, V]) insertRebalance(root, n *TreeNode[K, V]) *TreeNode[K, V] {
	if root == nil {
		n.red = false
		return n
	}
	cur := root
	for {
		var goLeft bool
		if n.hash < cur.hash {
			goLeft = true
		} else if n.hash > cur.hash {
			goLeft = false
		} else if tb.hasher.Equal(n.key, cur.key) {
			// Same key: newTreeBin, the only caller, is handed distinct
			// keys, so this case is not expected; it falls back to the
			// same Less tie-break as distinct keys.
			goLeft = tb.hasher.Less(n.key, cur.key)
		} else {
			goLeft = tb.hasher.Less(n.key, cur.key)
		}
		if goLeft {
			if leftOf(cur) == nil {
				cur.storeLeft(n)
				n.storeParent(cur)
				break
			}
			cur = leftOf(cur)
		} else {
			if rightOf(cur) == nil {
				cur.storeRight(n)
				n.storeParent(cur)
				break
			}
			cur = rightOf(cur)
		}
	}
	return tb.balanceInsertion(root, n)
}

func (tb *TreeBin[K, V]) rotateLeft(root, p *TreeNode[K, V]) *TreeNode[K, V] {
	if p == nil {
		return root
	}
	r := rightOf(p)
	p.storeRight(leftOf(r))
	if leftOf(r) != nil {
		leftOf(r).storeParent(p)
	}
	r.storeParent(parentOf(p))
	if parentOf(p) == nil {
		root = r
	} else if parentOf(p).loadLeft() == p {
		parentOf(p).storeLeft(r)
	} else {
		parentOf(p).storeRight(r)
	}
	r.storeLeft(p)
	p.storeParent(r)
	return root
}

func (tb *TreeBin[K, V]) rotateRight(root, p *TreeNode[K, V]) *TreeNode[K, V] {
	if p == nil {
		return root
	}
	l := leftOf(p)
	p.storeLeft(rightOf(l))
	if rightOf(l) != nil {
		rightOf(l).storeParent(p)
	}
	l.storeParent(parentOf(p))
	if parentOf(p) == nil {
		root = l
	} else if parentOf(p).loadRight() == p {
		parentOf(p).storeRight(l)
	} else {
		parentOf(p).storeLeft(l)
	}
	l.storeRight(p)
	p.storeParent(l)
	return root
}

func (tb *TreeBin[K, V]) balanceInsertion(root, x *TreeNode[K, V]) *TreeNode[K, V] {
	x.red = true
	for x != nil && x != root && parentOf(x).red {
		if parentOf(x) == leftOf(parentOf(parentOf(x))) {
			y := rightOf(parentOf(parentOf(x)))
			if isRed(y) {
				setRed(parentOf(x), false)
				setRed(y, false)
				setRed(parentOf(parentOf(x)), true)
				x = parentOf(parentOf(x))
			} else {
				if x == rightOf(parentOf(x)) {
					x = parentOf(x)
					root = tb.rotateLeft(root, x)
				}
				setRed(parentOf(x), false)
				setRed(parentOf(parentOf(x)), true)
				root = tb.rotateRight(root, parentOf(parentOf(x)))
			}
		} else {
			y := leftOf(parentOf(parentOf(x)))
			if isRed(y) {
				setRed(parentOf(x), false)
				setRed(y, false)
				setRed(parentOf(parentOf(x)), true)
				x = parentOf(parentOf(x))
			} else {
				if x == leftOf(parentOf(x)) {
					x = parentOf(x)
					root = tb.rotateRight(root, x)
				}
				setRed(parentOf(x), false)
				setRed(parentOf(parentOf(x)), true)
				root = tb.rotateLeft(root, parentOf(parentOf(x)))
			}
		}
	}
	root.red = false
	return root
}

func (tb *TreeBin[K, V]) balanceDeletion(root, x *TreeNode[K, V]) *TreeNode[K, V] {
	for x != root && !isRed(x) {
		if x == leftOf(parentOf(x)) {
			sib := rightOf(parentOf(x))
			if isRed(sib) {
				setRed(sib, false)
				setRed(parentOf(x), true)
				root = tb.rotateLeft(root, parentOf(x))
				sib = rightOf(parentOf(x))
			}
			if !isRed(leftOf(sib)) && !isRed(rightOf(sib)) {
				setRed(sib, true)
				x = parentOf(x)
			} else {
				if !isRed(rightOf(sib)) {
					setRed(leftOf(sib), false)
					setRed(sib, true)
					root = tb.rotateRight(root, sib)
					sib = rightOf(parentOf(x))
				}
				setRed(sib, isRed(parentOf(x)))
				setRed(parentOf(x), false)
				setRed(rightOf(sib), false)
				root = tb.rotateLeft(root, parentOf(x))
				x = root
			}
		} else {
			sib := leftOf(parentOf(x))
			if isRed(sib) {
				setRed(sib, false)
				setRed(parentOf(x), true)
				root = tb.rotateRight(root, parentOf(x))
				sib = leftOf(parentOf(x))
			}
			if !isRed(rightOf(sib)) && !isRed(leftOf(sib)) {
				setRed(sib, true)
				x = parentOf(x)
			} else {
				if !isRed(leftOf(sib)) {
					setRed(rightOf(sib), false)
					setRed(sib, true)
					root = tb.rotateLeft(root, sib)
					sib = leftOf(parentOf(x))
				}
				setRed(sib, isRed(parentOf(x)))
				setRed(parentOf(x), false)
				setRed(leftOf(sib), false)
				root = tb.rotateRight(root, parentOf(x))
				x = root
			}
		}
	}
	setRed(x, false)
	return root
}

// lockRoot acquires the exclusive writer section of lockState, following
// java.util.concurrent.ConcurrentHashMap.TreeBin.contendedLock: the first
// thread to find the WAITER bit clear sets it and parks; later contenders
// that already find WAITER set just spin, since a single waiter slot can
// only reliably unpark one thread. Heavy multi-writer contention on a
// single bin is rare enough in practice (it requires multiple hash
// collisions landing in the same tree bin concurrently) that this
// known JDK simplification is an acceptable trade rather than building a
// full wait queue.
func (tb *TreeBin[K, V]) lockRoot() {
	if gatomic.CompareAndSwapUint32(&tb.lockState, 0, lockWriter) {
		return
	}
	tb.contendedLock()
}

func (tb *TreeBin[K, V]) contendedLock() {
	waiting := false
	p := parker.New()
	for {
		s := gatomic.LoadUint32(&tb.lockState)
		if s & ^uint32(lockWaiter) == 0 {
			if gatomic.CompareAndSwapUint32(&tb.lockState, s, lockWriter) {
				if waiting {
					gatomic.StorePointer(&tb.waiter, (*parker.Parker)(nil))
				}
				return
			}
		} else if s&lockWaiter == 0 {
			if gatomic.CompareAndSwapUint32(&tb.lockState, s, s|lockWaiter) {
				waiting = true
				gatomic.StorePointer(&tb.waiter, p)
			}
		} else if waiting {
			p.Park()
		}
	}
}

func (tb *TreeBin[K, V]) unlockRoot() {
	gatomic.StoreUint32(&tb.lockState, 0)
	// A contender that set WAITER may be parked; wake it so it retries.
	if w := gatomic.LoadPointer(&tb.waiter); w != nil {
		w.Unpark()
	}
}

// find looks up hash/key, taking the optimistic reader path when no writer
// is active or waiting and falling back to a linear scan of the prev/next
// chain otherwise.
func (tb *TreeBin[K, V]) find(hash uint64, key K) (V, bool) {
	for {
		s := gatomic.LoadUint32(&tb.lockState)
		if s&(lockWaiter|lockWriter) != 0 {
			return tb.findLinear(hash, key)
		}
		if gatomic.CompareAndSwapUint32(&tb.lockState, s, s+lockReader) {
			v, ok := tb.findTreeNode(tb.root, hash, key)
			after := gatomic.AddUint32(&tb.lockState, ^uint32(lockReader-1))
			before := after + lockReader
			if before == lockReader|lockWaiter {
				if w := gatomic.LoadPointer(&tb.waiter); w != nil {
					w.Unpark()
				}
			}
			return v, ok
		}
	}
}

func (tb *TreeBin[K, V]) findLinear(hash uint64, key K) (V, bool) {
	for n := tb.first; n != nil; n = n.loadNextLink() {
		if n.hash == hash && tb.hasher.Equal(n.key, key) {
			return n.loadValue(), true
		}
	}
	var zero V
	return zero, false
}

func (tb *TreeBin[K, V]) findTreeNode(root *TreeNode[K, V], hash uint64, key K) (V, bool) {
	for p := root; p != nil; {
		switch {
		case hash < p.hash:
			p = leftOf(p)
		case hash > p.hash:
			p = rightOf(p)
		case tb.hasher.Equal(key, p.key):
			return p.loadValue(), true
		case tb.hasher.Less(key, p.key):
			p = leftOf(p)
		default:
			p = rightOf(p)
		}
	}
	var zero V
	return zero, false
}

// findNode is like findTreeNode but returns the *TreeNode itself, used
// under lockRoot by removeTreeNode and by ops.go's computeIfPresent and
// removeIfValuePtr.
func (tb *TreeBin[K, V]) findNode(hash uint64, key K) *TreeNode[K, V] {
	for p := tb.root; p != nil; {
		switch {
		case hash < p.hash:
			p = leftOf(p)
		case hash > p.hash:
			p = rightOf(p)
		case tb.hasher.Equal(key, p.key):
			return p
		case tb.hasher.Less(key, p.key):
			p = leftOf(p)
		default:
			p = rightOf(p)
		}
	}
	return nil
}

// putTreeVal inserts (hash,key,value) under the writer lock. If the key was
// already present it returns (existing, nil) with the value left untouched
// (the caller, putVal in ops.go, decides whether to overwrite or to reject,
// matching Insert/TryInsert semantics); otherwise it returns (nil, created)
// with the newly created node.
func (tb *TreeBin[K, V]) putTreeVal(hash uint64, key K, value V) (existing *TreeNode[K, V], created *TreeNode[K, V]) {
	tb.lockRoot()
	defer tb.unlockRoot()

	if tb.root == nil {
		n := newTreeNode[K, V](hash, key, value)
		tb.root = n
		tb.root.red = false
		tb.first = n
		return nil, n
	}

	var tail *TreeNode[K, V]
	for p := tb.first; p != nil; p = p.loadNextLink() {
		tail = p
	}

	cur := tb.root
	for {
		var goLeft bool
		switch {
		case hash < cur.hash:
			goLeft = true
		case hash > cur.hash:
			goLeft = false
		case tb.hasher.Equal(key, cur.key):
			return cur, nil
		default:
			goLeft = tb.hasher.Less(key, cur.key)
		}
		var next *TreeNode[K, V]
		if goLeft {
			next = leftOf(cur)
		} else {
			next = rightOf(cur)
		}
		if next == nil {
			n := newTreeNode[K, V](hash, key, value)
			n.storeParent(cur)
			if goLeft {
				cur.storeLeft(n)
			} else {
				cur.storeRight(n)
			}
			tail.storeNextLink(n)
			n.storePrev(tail)
			tb.root = tb.balanceInsertion(tb.root, n)
			return nil, n
		}
		cur = next
	}
}

// removeTreeNode deletes the node for hash/key under the writer lock. It
// returns the removed value, the number of members left, and whether a
// node was removed. When the resulting member count drops
// to untreeifyThreshold or below, the caller (ops.go) is expected to
// follow up with untreeify to shrink the bin back to a list — this method
// only reports the remaining count so the caller can make that call
// without re-acquiring the lock.
func (tb *TreeBin[K, V]) removeTreeNode(hash uint64, key K) (value V, remaining int, removed bool) {
	tb.lockRoot()
	defer tb.unlockRoot()

	n := tb.findNode(hash, key)
	if n == nil {
		var zero V
		return zero, tb.count(), false
	}
	value = n.loadValue()

	// deleteBST may content-swap n with its in-order successor rather than
	// physically removing n itself (the standard two-children BST delete);
	// detached is whichever node object actually left the tree, which is
	// the one to unlink from the doubly linked order — unlinking n here
	// unconditionally would, after a swap, strand the successor's key
	// under n's former list position while leaving the removed key's node
	// (now holding the successor's old content) in the order.
	var detached *TreeNode[K, V]
	tb.root, detached = tb.deleteBST(tb.root, n)

	prev, next := detached.loadPrev(), detached.loadNextLink()
	if prev == nil {
		tb.first = next
	} else {
		prev.storeNextLink(next)
	}
	if next != nil {
		next.storePrev(prev)
	}
	detached.storePrev(nil)
	detached.storeNextLink(nil)

	return value, tb.count(), true
}

func (tb *TreeBin[K, V]) count() int {
	n := 0
	for p := tb.first; p != nil; p = p.loadNextLink() {
		n++
	}
	return n
}

// nodes returns the bin's members in doubly-linked (insertion) order, for
// untreeify and for iteration support.
func (tb *TreeBin[K, V]) nodes() []*TreeNode[K, V] {
	var out []*TreeNode[K, V]
	for p := tb.first; p != nil; p = p.loadNextLink() {
		out = append(out, p)
	}
	return out
}

// deleteBST removes p's key from the tree rooted at root, rebalances, and
// returns the new root along with whichever *TreeNode object was actually
// excised from the tree structure. When p has two children that is its
// in-order successor (content-swapped into p's slot), not p itself — the
// caller must not assume the returned node is p.
func (tb *TreeBin[K, V]) deleteBST(root, p *TreeNode[K, V]) (*TreeNode[K, V], *TreeNode[K, V]) {
	if leftOf(p) != nil && rightOf(p) != nil {
		s := rightOf(p)
		for leftOf(s) != nil {
			s = leftOf(s)
		}
		p.hash, s.hash = s.hash, p.hash
		p.key, s.key = s.key, p.key
		pVal, sVal := p.loadValuePtr(), s.loadValuePtr()
		p.storeValue(*sVal)
		s.storeValue(*pVal)
		p = s
	}

	var replacement *TreeNode[K, V]
	if leftOf(p) != nil {
		replacement = leftOf(p)
	} else {
		replacement = rightOf(p)
	}

	if replacement != nil {
		replacement.storeParent(parentOf(p))
		if parentOf(p) == nil {
			root = replacement
		} else if p == parentOf(p).loadLeft() {
			parentOf(p).storeLeft(replacement)
		} else {
			parentOf(p).storeRight(replacement)
		}
		if !isRed(p) {
			root = tb.balanceDeletion(root, replacement)
		}
	} else if parentOf(p) == nil {
		root = nil
	} else {
		if !isRed(p) {
			root = tb.balanceDeletion(root, p)
		}
		if parentOf(p) != nil {
			if p == parentOf(p).loadLeft() {
				parentOf(p).storeLeft(nil)
			} else if p == parentOf(p).loadRight() {
				parentOf(p).storeRight(nil)
			}
			p.storeParent(nil)
		}
	}
	return root, p
}
