package hub

import (
	"testing"
	"time"

	"github.com/s32kdev/go-flexcan/internal/can"
)

func frame(id uint32) can.Frame {
	return can.Frame{ID: can.MustExtendedID(id)}
}

func TestHub_Broadcast_DropDoesNotBlock(t *testing.T) {
	h := New()
	cl := &Client{Out: make(chan can.Frame, 4), Closed: make(chan struct{})}
	h.Add(cl)
	defer h.Remove(cl)

	// Don't read from cl.Out to simulate slow client
	start := time.Now()
	for i := 0; i < 1000; i++ {
		h.Broadcast(frame(0x123))
	}
	elapsed := time.Since(start)
	if elapsed > time.Second {
		t.Fatalf("Broadcast took too long: %s", elapsed)
	}
	// Buffer should be full
	if len(cl.Out) != cap(cl.Out) {
		t.Fatalf("expected client buffer to be full, got len=%d cap=%d", len(cl.Out), cap(cl.Out))
	}
}

func TestHub_Broadcast_DropKeepsOthersFlowing(t *testing.T) {
	h := New()
	slow := &Client{Out: make(chan can.Frame, 1), Closed: make(chan struct{})}
	fast := &Client{Out: make(chan can.Frame, 16), Closed: make(chan struct{})}
	h.Add(slow)
	h.Add(fast)
	defer h.Remove(slow)
	defer h.Remove(fast)

	// Fill slow buffer
	h.Broadcast(frame(0x1))

	// Now send bursts that would drop on slow but must be delivered to fast
	for i := 0; i < 10; i++ {
		h.Broadcast(frame(0x2))
	}

	got := 0
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case <-fast.Out:
			got++
			if got >= 5 { // at least some got through
				break loop
			}
		case <-timeout:
			break loop
		}
	}
	if got == 0 {
		t.Fatalf("fast client did not receive any frames while slow was backpressured")
	}
}

func TestHub_KickClosesSlowClient(t *testing.T) {
	h := New()
	h.Policy = PolicyKick
	slow := &Client{Out: make(chan can.Frame, 1), Closed: make(chan struct{})}
	h.Add(slow)
	defer h.Remove(slow)

	h.Broadcast(frame(0x1)) // fills the buffer
	h.Broadcast(frame(0x2)) // overflows; kick policy closes

	select {
	case <-slow.Closed:
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("slow client not closed under kick policy")
	}
}

func TestHub_AddRemoveCount(t *testing.T) {
	h := New()
	c1 := &Client{Out: make(chan can.Frame, 1), Closed: make(chan struct{})}
	c2 := &Client{Out: make(chan can.Frame, 1), Closed: make(chan struct{})}
	h.Add(c1)
	h.Add(c2)
	if h.Count() != 2 {
		t.Fatalf("count %d want 2", h.Count())
	}
	h.Remove(c1)
	h.Remove(c1) // idempotent
	if h.Count() != 1 {
		t.Fatalf("count %d want 1", h.Count())
	}
	select {
	case <-c1.Closed:
	default:
		t.Fatalf("removed client not closed")
	}
}
