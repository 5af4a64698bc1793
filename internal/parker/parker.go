// Package parker implements a permit-based park/unpark primitive: Go's stand-in
// for the "stored parked-waiter thread handle" a TreeBin's contended writer
// lock uses while readers drain.
//
// A buffered channel of capacity one holds the single permit a waiting
// tree-bin writer needs: block until an Unpark, or return immediately if
// the permit was already posted.
package parker

// Parker is a park/unpark gate holding at most one permit. The zero value
// is not usable (its permit channel is nil); construct one with New.
// Park and Unpark may each be called from a different goroutine, but
// neither is safe to call twice concurrently from multiple goroutines —
// a TreeBin hands out at most one Parker per contended writer.
type Parker struct {
	permit chan struct{}
}

// New returns a ready-to-use Parker.
func New() *Parker {
	return &Parker{permit: make(chan struct{}, 1)}
}

// Park blocks until Unpark is called. If Unpark was already called before
// Park, Park returns immediately.
func (p *Parker) Park() {
	<-p.permit
}

// Unpark posts the permit, waking a blocked Park (or pre-arming the next
// one). Calling Unpark again before a Park has consumed the permit is a
// no-op.
func (p *Parker) Unpark() {
	select {
	case p.permit <- struct{}{}:
	default:
	}
}
