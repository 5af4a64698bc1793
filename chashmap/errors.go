package chashmap

import (
	"fmt"

	"github.com/go-stack/stack"
)

// AlreadyPresentError is returned by TryInsert when the key already has a
// mapping; it carries the existing value so the caller doesn't need a
// second Get.
type AlreadyPresentError[V any] struct {
	Existing V
}

func (e *AlreadyPresentError[V]) Error() string {
	return fmt.Sprintf("chashmap: key already present with value %v", e.Existing)
}

// GuardMismatchError is the payload of the panic a Map raises when an
// operation is handed a Guard pinned from a different Map's collector. Per
// the design notes, a pinned Guard cannot legally outlive the epoch it was
// pinned under once handed to a foreign Map, so this is a programmer error,
// not a recoverable runtime condition — hence panic rather than an error
// return, matching how sync.Mutex panics on Unlock of an unlocked mutex.
type GuardMismatchError struct {
	// Site is the call site of the mismatched operation, captured with
	// go-stack/stack so a panicking goroutine's stack trace isn't the only
	// record of where the mismatch happened once recovered by a caller.
	Site stack.Call
}

func (e *GuardMismatchError) Error() string {
	return fmt.Sprintf("chashmap: guard pinned from a different Map's collector (at %v)", e.Site)
}

func newGuardMismatchError(skip int) *GuardMismatchError {
	return &GuardMismatchError{Site: stack.Caller(skip + 1)}
}
