package lrucache

import "testing"

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := New[int, string](2)
	c.Put(1, "a")
	c.Put(2, "b")

	if _, ok := c.Get(1); !ok {
		t.Fatal("expected key 1 to still be cached")
	}

	c.Put(3, "c") // should evict 2, since 1 was just touched by Get

	if _, ok := c.Get(2); ok {
		t.Fatal("expected key 2 to have been evicted")
	}
	if v, ok := c.Get(1); !ok || v != "a" {
		t.Fatalf("expected key 1 = %q, got %q (ok=%v)", "a", v, ok)
	}
	if v, ok := c.Get(3); !ok || v != "c" {
		t.Fatalf("expected key 3 = %q, got %q (ok=%v)", "c", v, ok)
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
}

func TestLRURemove(t *testing.T) {
	c := New[string, int](4)
	c.Put("a", 1)
	if !c.Remove("a") {
		t.Fatal("expected Remove to report a hit")
	}
	if c.Remove("a") {
		t.Fatal("expected second Remove to report a miss")
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("expected key to be gone after Remove")
	}
}

func TestLRUPutUpdatesExistingKey(t *testing.T) {
	c := New[string, int](4)
	c.Put("a", 1)
	c.Put("a", 2)
	if v, ok := c.Get("a"); !ok || v != 2 {
		t.Fatalf("Get(a) = %d, %v; want 2, true", v, ok)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}
