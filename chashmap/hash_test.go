package chashmap

import "testing"

func TestStringHasherIsConsistentWithEqual(t *testing.T) {
	h := NewHasher[string]()
	if h.Hash("abc") != h.Hash("abc") {
		t.Fatal("Hash must be deterministic for the same key")
	}
	if !h.Equal("abc", "abc") {
		t.Fatal("Equal must hold for identical strings")
	}
	if h.Less("abc", "abc") {
		t.Fatal("Less must be irreflexive")
	}
}

func TestGenericHasherHandlesStructKeys(t *testing.T) {
	type point struct{ X, Y int }
	h := NewHasher[point]()

	a, b := point{1, 2}, point{1, 2}
	if h.Hash(a) != h.Hash(b) {
		t.Fatal("equal struct keys must hash equal")
	}
	if !h.Equal(a, b) {
		t.Fatal("Equal must hold for equal structs")
	}

	c := point{3, 4}
	if h.Less(a, a) {
		t.Fatal("Less must be irreflexive")
	}
	// Less must be a strict order: exactly one of Less(a,c), Less(c,a) holds.
	if h.Less(a, c) == h.Less(c, a) {
		t.Fatal("Less must be antisymmetric for distinct keys")
	}
}

func TestOrderedHasherUsesNaturalOrder(t *testing.T) {
	h := NewOrderedHasher[int]()
	if !h.Less(1, 2) {
		t.Fatal("expected 1 < 2")
	}
	if h.Less(2, 1) {
		t.Fatal("expected 2 to not be < 1")
	}
}
