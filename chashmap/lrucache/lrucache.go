// Package lrucache is a small demonstration adapter: it layers a
// fixed-capacity LRU eviction policy on top of chashmap.Map, showing the
// map used as a collaborator rather than as the whole program. The
// fakeHead/fakeTail sentinel doubly-linked list (so link/unlink never
// needs a nil check) follows the usual Go LRU cache wrapper layout (e.g.
// hashicorp/golang-lru).
package lrucache

import (
	"sync"

	"github.com/gopherlocks/chashmap/chashmap"
)

type entry[K comparable, V any] struct {
	key   K
	value V
	prev  *entry[K, V]
	next  *entry[K, V]
}

func link[K comparable, V any](a, b *entry[K, V]) {
	a.next = b
	b.prev = a
}

// Cache is a fixed-capacity LRU cache backed by a chashmap.Map for O(1)
// lookup and a sentinel-bounded doubly linked list for eviction order. The
// map gives lock-free reads; the eviction list is protected by mu since
// every Get must also reorder it, which the map alone can't do.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	size     int

	m *chashmap.Map[K, *entry[K, V]]

	fakeHead *entry[K, V]
	fakeTail *entry[K, V]
}

// New constructs a Cache that holds at most capacity entries, evicting the
// least recently used one once a Put would exceed it.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity <= 0 {
		panic("lrucache: capacity must be positive")
	}
	c := &Cache[K, V]{
		capacity: capacity,
		m:        chashmap.New[K, *entry[K, V]](),
		fakeHead: &entry[K, V]{},
		fakeTail: &entry[K, V]{},
	}
	link(c.fakeHead, c.fakeTail)
	return c
}

func (c *Cache[K, V]) head() *entry[K, V] { return c.fakeHead.next }
func (c *Cache[K, V]) tail() *entry[K, V] { return c.fakeTail.prev }

func (c *Cache[K, V]) detach(e *entry[K, V]) {
	link[K, V](e.prev, e.next)
}

func (c *Cache[K, V]) pushMostRecent(e *entry[K, V]) {
	link[K, V](c.tail(), e)
	link[K, V](e, c.fakeTail)
}

func (c *Cache[K, V]) touch(e *entry[K, V]) {
	c.detach(e)
	c.pushMostRecent(e)
}

// Get returns the cached value for key, marking it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	e, ok := c.m.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	c.mu.Lock()
	c.touch(e)
	c.mu.Unlock()
	return e.value, true
}

// Put inserts or updates key's value, marking it most recently used and
// evicting the least recently used entry if the cache is over capacity.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.m.Get(key); ok {
		e.value = value
		c.touch(e)
		return
	}

	e := &entry[K, V]{key: key, value: value}
	c.m.Insert(key, e)
	c.pushMostRecent(e)
	c.size++

	if c.size > c.capacity {
		c.evictOldest()
	}
}

func (c *Cache[K, V]) evictOldest() {
	oldest := c.head()
	if oldest == c.fakeTail {
		return
	}
	c.detach(oldest)
	c.m.Remove(oldest.key)
	c.size--
}

// Len returns the number of entries currently cached.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Remove evicts key if present, returning whether it was.
func (c *Cache[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m.Get(key)
	if !ok {
		return false
	}
	c.detach(e)
	c.m.Remove(key)
	c.size--
	return true
}
