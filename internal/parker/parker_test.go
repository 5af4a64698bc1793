package parker

import (
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestUnparkBeforePark(t *testing.T) {
	p := New()
	p.Unpark()
	done := make(chan struct{})
	go func() {
		p.Park()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Park did not return after a prior Unpark")
	}
}

func TestUnparkWakesBlockedPark(t *testing.T) {
	p := New()
	done := make(chan struct{})
	go func() {
		p.Park()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Park returned before Unpark was called")
	case <-time.After(20 * time.Millisecond):
	}
	p.Unpark()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Park did not return after Unpark")
	}
}
