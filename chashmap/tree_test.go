package chashmap

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/require"
)

// reachableFromRoot walks the BST shape of tb, independent of the
// prev/next doubly linked order, collecting every key it can reach.
func reachableFromRoot[K comparable, V any](tb *TreeBin[K, V]) mapset.Set[K] {
	seen := mapset.NewThreadUnsafeSet[K]()
	var walk func(n *TreeNode[K, V])
	walk = func(n *TreeNode[K, V]) {
		if n == nil {
			return
		}
		seen.Add(n.key)
		walk(n.loadLeft())
		walk(n.loadRight())
	}
	walk(tb.root)
	return seen
}

// reachableFromOrder walks tb.first/next, the order untreeify and resize
// splitting rely on, independent of the tree shape.
func reachableFromOrder[K comparable, V any](tb *TreeBin[K, V]) mapset.Set[K] {
	seen := mapset.NewThreadUnsafeSet[K]()
	for n := tb.first; n != nil; n = n.loadNextLink() {
		seen.Add(n.key)
	}
	return seen
}

// assertBSTProperty walks the tree checking (hash, Less) ordering and
// parent back-pointers, the two invariants every rotation must preserve.
func assertBSTProperty[K comparable, V any](t *testing.T, tb *TreeBin[K, V]) {
	t.Helper()
	var walk func(n, parent *TreeNode[K, V])
	walk = func(n, parent *TreeNode[K, V]) {
		if n == nil {
			return
		}
		require.Equal(t, parent, n.loadParent())
		if l := n.loadLeft(); l != nil {
			require.True(t, l.hash < n.hash || (l.hash == n.hash && tb.hasher.Less(l.key, n.key)))
		}
		if r := n.loadRight(); r != nil {
			require.True(t, r.hash > n.hash || (r.hash == n.hash && tb.hasher.Less(n.key, r.key)))
		}
		walk(n.loadLeft(), n)
		walk(n.loadRight(), n)
	}
	walk(tb.root, nil)
}

// TestTreeBinRootAndOrderStayInAgreement rebuilds a TreeBin from a
// colliding-hash key set and, after every insert, checks that the set of
// keys reachable by descending the red-black tree is identical to the set
// reachable by walking the parallel doubly-linked order — the two views
// untreeify/resize-splitting and reader-fallback depend on independently.
func TestTreeBinRootAndOrderStayInAgreement(t *testing.T) {
	hasher := NewOrderedHasher[int]()
	var nodes []*TreeNode[int, int]
	for i := 0; i < 30; i++ {
		nodes = append(nodes, newTreeNode[int, int](42, i, i))
		tb := newTreeBin[int, int](hasher, append([]*TreeNode[int, int]{}, nodes...))

		fromRoot := reachableFromRoot[int, int](tb)
		fromOrder := reachableFromOrder[int, int](tb)
		require.True(t, fromRoot.Equal(fromOrder),
			"root-reachable set %v diverged from order-reachable set %v", fromRoot, fromOrder)
		require.Equal(t, len(nodes), fromRoot.Cardinality())

		assertBSTProperty(t, tb)
	}
}

// TestTreeBinPutAndRemovePreserveInvariants exercises putTreeVal and
// removeTreeNode directly (below the Map orchestrator) and re-checks the
// same root/order agreement and BST ordering after each mutation.
func TestTreeBinPutAndRemovePreserveInvariants(t *testing.T) {
	hasher := NewOrderedHasher[int]()
	tb := newTreeBin[int, int](hasher, nil)

	for i := 0; i < 25; i++ {
		existing, created := tb.putTreeVal(7, i, i*i)
		require.Nil(t, existing)
		require.NotNil(t, created)
	}
	require.Equal(t, 25, tb.count())
	assertBSTProperty(t, tb)
	require.True(t, reachableFromRoot[int, int](tb).Equal(reachableFromOrder[int, int](tb)))

	for i := 0; i < 20; i++ {
		_, remaining, removed := tb.removeTreeNode(7, i)
		require.True(t, removed)
		require.Equal(t, 24-i, remaining)
		assertBSTProperty(t, tb)
		require.True(t, reachableFromRoot[int, int](tb).Equal(reachableFromOrder[int, int](tb)))
	}

	for i := 20; i < 25; i++ {
		v, ok := tb.find(7, i)
		require.True(t, ok)
		require.Equal(t, i*i, v)
	}
}

// TestTreeBinRemoveTwoChildNodePreservesKeyIdentity removes keys in an
// order chosen to force two-children BST deletions (removing interior
// nodes first, never just the current minimum), and after every removal
// checks that every surviving key still resolves to its own value via
// find/findLinear and that the tree-shape and linked-order views of
// membership still agree. A content-swap-based delete that forgets to
// unlink the physically excised node (rather than the originally found
// one) shows up here as either a removed key still being findable or a
// surviving key returning the wrong value.
func TestTreeBinRemoveTwoChildNodePreservesKeyIdentity(t *testing.T) {
	hasher := NewOrderedHasher[int]()
	tb := newTreeBin[int, int](hasher, nil)

	const n = 31
	for i := 0; i < n; i++ {
		_, created := tb.putTreeVal(11, i, i*i)
		require.NotNil(t, created)
	}

	want := map[int]int{}
	for i := 0; i < n; i++ {
		want[i] = i * i
	}

	// Removal order deliberately hits interior (two-child) nodes first:
	// the middle of the key range, then alternating inward, rather than
	// always peeling off the current minimum.
	order := []int{15, 7, 23, 3, 11, 19, 27, 1, 5, 9, 13, 17, 21, 25, 29,
		0, 2, 4, 6, 8, 10, 12, 14, 16, 18, 20, 22, 24, 26, 28, 30}
	require.Len(t, order, n)

	for _, key := range order {
		_, remaining, removed := tb.removeTreeNode(11, key)
		require.True(t, removed, "key %d should have been removed", key)
		delete(want, key)
		require.Equal(t, len(want), remaining)

		assertBSTProperty(t, tb)

		fromRoot := reachableFromRoot[int, int](tb)
		fromOrder := reachableFromOrder[int, int](tb)
		require.True(t, fromRoot.Equal(fromOrder),
			"after removing %d: root-reachable %v != order-reachable %v", key, fromRoot, fromOrder)
		require.Equal(t, len(want), fromRoot.Cardinality())

		_, stillThere := tb.find(11, key)
		require.False(t, stillThere, "removed key %d must not be findable", key)

		for wantKey, wantVal := range want {
			gotVal, ok := tb.find(11, wantKey)
			require.True(t, ok, "surviving key %d should still be findable", wantKey)
			require.Equal(t, wantVal, gotVal, "surviving key %d has the wrong value", wantKey)

			gotLinear, ok := tb.findLinear(11, wantKey)
			require.True(t, ok, "surviving key %d should still be findable via findLinear", wantKey)
			require.Equal(t, wantVal, gotLinear, "surviving key %d has the wrong value via findLinear", wantKey)
		}
	}

	require.Equal(t, 0, tb.count())
	require.Nil(t, tb.root)
	require.Nil(t, tb.first)
}
