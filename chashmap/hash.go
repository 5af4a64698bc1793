package chashmap

import (
	"cmp"
	"hash/maphash"

	"github.com/cespare/xxhash/v2"
)

// Hasher defines the hash function, key equality, and tie-break ordering a
// Map uses. Equal need not be Go's built-in ==, but it must be consistent
// with Hash (equal keys must hash equal). Less only has to be *some*
// consistent strict order over distinct keys — it never becomes visible to
// callers (ordered iteration is an explicit non-goal) and exists purely so
// a bin's red-black tree has a tie-break when two distinct keys share a
// hash.
type Hasher[K comparable] interface {
	Hash(key K) uint64
	Equal(a, b K) bool
	Less(a, b K) bool
}

// splitmix64Finalize mixes the high bits of h into the low bits. Bin
// indexing uses a hash's low bits directly (Table.bini masks with N-1), so
// a hash function whose low bits correlate with key layout would skew bin
// occupancy; this finalizer is the xor-shift-and-multiply recommended when
// the underlying hasher isn't already finalizer-safe.
func splitmix64Finalize(h uint64) uint64 {
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

// stringHasher is the fast path for string keys: cespare/xxhash/v2 avoids
// the per-call maphash.Hash setup for the single most common key type.
type stringHasher struct{}

func (stringHasher) Hash(s string) uint64    { return splitmix64Finalize(xxhash.Sum64String(s)) }
func (stringHasher) Equal(a, b string) bool  { return a == b }
func (stringHasher) Less(a, b string) bool   { return a < b }

// orderedHasher is used by NewOrdered for any cmp.Ordered key type (all
// built-in numeric types and strings): Less is the real "<" operator, so
// tree traversal order happens to match natural order, though callers must
// not rely on that (iteration remains unordered).
type orderedHasher[K cmp.Ordered] struct {
	seed maphash.Seed
}

func (h orderedHasher[K]) Hash(k K) uint64   { return splitmix64Finalize(maphash.Comparable(h.seed, k)) }
func (h orderedHasher[K]) Equal(a, b K) bool { return a == b }
func (h orderedHasher[K]) Less(a, b K) bool  { return a < b }

// NewOrderedHasher returns a Hasher for any cmp.Ordered key type.
func NewOrderedHasher[K cmp.Ordered]() Hasher[K] {
	return orderedHasher[K]{seed: maphash.MakeSeed()}
}

// genericHasher backs any comparable key type that isn't cmp.Ordered
// (structs, pointers, interfaces, arrays...). Hash and the primary
// tie-break order come from hash/maphash.Comparable seeded once per
// Hasher; a second, independently seeded hash breaks ties on the
// (cryptographically improbable) event of a primary tie between two
// distinct keys, and a third seed breaks ties on that event in turn, so
// Less stays a genuine strict order without ever needing to panic.
type genericHasher[K comparable] struct {
	seed, seed2, seed3 maphash.Seed
}

func newGenericHasher[K comparable]() *genericHasher[K] {
	return &genericHasher[K]{
		seed:  maphash.MakeSeed(),
		seed2: maphash.MakeSeed(),
		seed3: maphash.MakeSeed(),
	}
}

func (h *genericHasher[K]) Hash(k K) uint64   { return splitmix64Finalize(maphash.Comparable(h.seed, k)) }
func (h *genericHasher[K]) Equal(a, b K) bool { return a == b }

func (h *genericHasher[K]) Less(a, b K) bool {
	if a == b {
		return false
	}
	if ha, hb := maphash.Comparable(h.seed2, a), maphash.Comparable(h.seed2, b); ha != hb {
		return ha < hb
	}
	return maphash.Comparable(h.seed3, a) < maphash.Comparable(h.seed3, b)
}

// NewHasher returns the default Hasher for any comparable key type: the
// xxhash-backed fast path for string keys, maphash.Comparable for
// everything else.
func NewHasher[K comparable]() Hasher[K] {
	var zero K
	if _, ok := any(zero).(string); ok {
		return any(stringHasher{}).(Hasher[K])
	}
	return newGenericHasher[K]()
}
