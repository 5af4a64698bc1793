package chashmap

import (
	"sync"

	"github.com/gopherlocks/chashmap/gatomic"
)

// Node is one entry in a list bin: an immutable hash/key pair with an
// atomically swappable value and an atomically swappable successor. mu is
// only ever locked on a bin's *head* Node — every Node carries one so the
// lock travels with whichever Node currently heads the chain after a CAS
// splices a new head in, exactly as java.util.concurrent.ConcurrentHashMap
// synchronizes on its first Node rather than a separate per-bin lock
// object.
type Node[K comparable, V any] struct {
	hash uint64
	key  K

	value *V
	next  *Node[K, V]

	mu sync.Mutex
}

func newNode[K comparable, V any](hash uint64, key K, value V) *Node[K, V] {
	n := &Node[K, V]{hash: hash, key: key}
	n.storeValue(value)
	return n
}

func (n *Node[K, V]) loadValuePtr() *V {
	return gatomic.LoadPointer(&n.value)
}

func (n *Node[K, V]) loadValue() V {
	if v := n.loadValuePtr(); v != nil {
		return *v
	}
	var zero V
	return zero
}

func (n *Node[K, V]) storeValue(v V) {
	gatomic.StorePointer(&n.value, &v)
}

func (n *Node[K, V]) loadNext() *Node[K, V] {
	return gatomic.LoadPointer(&n.next)
}

func (n *Node[K, V]) storeNext(next *Node[K, V]) {
	gatomic.StorePointer(&n.next, next)
}

func (n *Node[K, V]) casNext(old, new *Node[K, V]) bool {
	return gatomic.CompareAndSwapPointer(&n.next, old, new)
}

// find walks the list rooted at n looking for hash/key, the read-side
// counterpart to the head-locked list mutators in ops.go. It never
// blocks: readers never take n.mu, matching the data model invariant that
// reads for list bins are lock-free.
func (n *Node[K, V]) find(hash uint64, key K, eq func(K, K) bool) (*Node[K, V], bool) {
	for cur := n; cur != nil; cur = cur.loadNext() {
		if cur.hash == hash && eq(cur.key, key) {
			return cur, true
		}
	}
	return nil, false
}

// binEntry is the tagged union stored at each Table slot: nil means Empty,
// a non-nil node field means a list bin, a non-nil tree field means a tree
// bin, and pointer-equality with the owning Table's moved sentinel means
// Moved. Exactly one of node/tree is set on any binEntry that isn't the
// sentinel — this mirrors the nilable-field tagging ctrie.go uses for
// mainNode (cNode/tNode/lNode as mutually exclusive fields) rather than a
// Go interface, so the hot bin-read path never needs an interface method
// dispatch or an allocation to box the variant.
type binEntry[K comparable, V any] struct {
	node *Node[K, V]
	tree *TreeBin[K, V]
}

func listEntry[K comparable, V any](head *Node[K, V]) *binEntry[K, V] {
	return &binEntry[K, V]{node: head}
}

func treeEntry[K comparable, V any](tb *TreeBin[K, V]) *binEntry[K, V] {
	return &binEntry[K, V]{tree: tb}
}
