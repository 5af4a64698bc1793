// Package cpuprobe provides the process-wide CPU-count probe the map's
// resize stride sizing depends on (spec design note: "the CPU-count probe
// ... is process-wide, initialized once ... implementers must use lazy,
// thread-safe initialization and must allow override in tests").
//
// The default count comes from runtime.GOMAXPROCS after letting
// go.uber.org/automaxprocs adjust it to any cgroup CPU quota, so a
// container-limited process picks a sane transfer stride instead of one
// sized for the host's full core count.
package cpuprobe

import (
	"runtime"
	"sync"
	"sync/atomic"

	automaxprocs "go.uber.org/automaxprocs/maxprocs"
)

var (
	once     sync.Once
	override int64 // atomic; 0 means "not overridden"
)

// NumCPU returns the process-wide CPU count used to size resize strides.
// It is computed once (applying automaxprocs) unless SetForTesting has
// pinned a value.
func NumCPU() int {
	if n := atomic.LoadInt64(&override); n != 0 {
		return int(n)
	}
	once.Do(func() {
		// Best effort: ignore the error and the undo func, mirroring how
		// most automaxprocs callers use it — a failure to detect a
		// cgroup quota just leaves GOMAXPROCS as Go already set it.
		_, _ = automaxprocs.Set()
	})
	return runtime.GOMAXPROCS(0)
}

// SetForTesting pins NumCPU to n, overriding the automaxprocs-derived
// value. Passing n <= 0 clears the override. It exists so concurrency
// tests can force the multi-helper resize path deterministically without
// needing hundreds of goroutines to exceed MIN_TRANSFER_STRIDE.
func SetForTesting(n int) {
	atomic.StoreInt64(&override, int64(n))
}
