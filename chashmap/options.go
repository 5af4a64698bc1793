package chashmap

import "github.com/gopherlocks/chashmap/internal/xlog"

// Tuning constants, carried over from the java.util.concurrent.ConcurrentHashMap
// lineage this map generalizes (same names and values).
const (
	defaultCapacity    = 16
	maxCapacity        = 1 << 30
	loadFactor         = 0.75
	treeifyThreshold   = 8
	untreeifyThreshold = 6
	minTreeifyCapacity = 64

	// minTransferStride is the minimum number of bins a single resize
	// helper claims per stride; it keeps cooperative helpers from
	// thrashing transferIndex under contention when the table is small.
	minTransferStride = 16
)

// Option configures a Map at construction time.
type Option[K comparable, V any] func(*mapConfig[K, V])

type mapConfig[K comparable, V any] struct {
	capacity int
	hasher   Hasher[K]
	logger   xlog.Logger
}

func newMapConfig[K comparable, V any]() *mapConfig[K, V] {
	return &mapConfig[K, V]{
		capacity: defaultCapacity,
		logger:   xlog.Discard,
	}
}

// WithCapacity sets the length of the map's initial table to n rounded up
// to the next power of two and clamped to [defaultCapacity, maxCapacity].
// The table resizes once it holds three quarters of that length, so n
// entries fit without a resize only when n is below that threshold.
func WithCapacity[K comparable, V any](n int) Option[K, V] {
	return func(c *mapConfig[K, V]) { c.capacity = n }
}

// WithHasher overrides the default Hasher, e.g. to use a case-insensitive
// string comparison or to support a non-cmp.Ordered key type.
func WithHasher[K comparable, V any](h Hasher[K]) Option[K, V] {
	return func(c *mapConfig[K, V]) { c.hasher = h }
}

// WithLogger attaches a structured logger for resize/treeify/untreeify
// events. The default is xlog.Discard.
func WithLogger[K comparable, V any](l xlog.Logger) Option[K, V] {
	return func(c *mapConfig[K, V]) { c.logger = l }
}

func tableSizeFor(capacity int) int {
	n := defaultCapacity
	for n < capacity && n < maxCapacity {
		n <<= 1
	}
	if n > maxCapacity {
		n = maxCapacity
	}
	return n
}
