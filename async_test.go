package dbus

import (
	"context"
	"testing"
	"time"
)

func TestFutureResolve(t *testing.T) {
	f := newFuture[int]()
	select {
	case <-f.Done():
		t.Fatal("future reports done before resolve")
	default:
	}

	go f.resolve(42, nil)

	got, err := f.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != 42 {
		t.Errorf("Get() = %d, want 42", got)
	}
	select {
	case <-f.Done():
	default:
		t.Error("future should report done after resolve")
	}
}

func TestFutureGetContextCancel(t *testing.T) {
	f := newFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx)
	if err == nil {
		t.Fatal("Get() on an unresolved future with expired context should fail")
	}
}

func TestPendingAsyncCallCancel(t *testing.T) {
	pend := &pendingCall{notify: make(chan struct{})}
	c := &Conn{calls: map[uint32]*pendingCall{42: pend}}
	p := newPendingAsyncCall(c, 42)

	if !p.IsPending() {
		t.Fatal("newly created call should be pending")
	}
	p.Cancel()
	if p.IsPending() {
		t.Error("call should no longer be pending after Cancel")
	}
	if _, ok := c.calls[42]; ok {
		t.Error("Cancel should remove the call from Conn.calls")
	}
	select {
	case <-pend.notify:
	default:
		t.Error("pend.notify should be closed after Cancel")
	}
	if !pend.cancelled {
		t.Error("pend.cancelled should be true after Cancel")
	}

	// Cancelling twice is a no-op, not a double-close panic.
	p.Cancel()
}

func TestPendingAsyncCallCancelAfterCompletion(t *testing.T) {
	pend := &pendingCall{notify: make(chan struct{})}
	c := &Conn{calls: map[uint32]*pendingCall{42: pend}}
	p := newPendingAsyncCall(c, 42)

	// Simulate a reply winning the race: dispatchReturn's claim
	// removes the call from c.calls and closes notify itself.
	delete(c.calls, 42)
	close(pend.notify)

	p.Cancel()
	if pend.cancelled {
		t.Error("Cancel losing the race to a genuine reply must not mark pend cancelled")
	}
}
