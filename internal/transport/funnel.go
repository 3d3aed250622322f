package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/s32kdev/go-flexcan/internal/can"
)

// Funnel serializes frame transmission through a single goroutine. The
// FlexCAN register block has exactly one owner and the per-mailbox write
// protocol must not interleave, so every producer (TCP clients, retransmit
// paths) enqueues here and one worker performs the actual sends in order.
//
// Enqueueing never blocks: when the buffer is full the configured OnDrop
// hook runs and its error (usually ErrTxOverflow) is returned, keeping
// producers from stalling behind a wedged bus.
type Funnel struct {
	mu     sync.Mutex
	ch     chan can.Frame
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	send   func(can.Frame) error
	hooks  Hooks
	closed atomic.Bool
}

// Hooks customize Funnel behavior per backend, so each keeps its own
// metrics and logging without duplicating the goroutine plumbing.
type Hooks struct {
	// OnError runs when send returns a non-nil error (frame not sent).
	OnError func(error)
	// OnAfter runs after each successful send.
	OnAfter func()
	// OnDrop runs when the buffer is full; its error is returned from
	// SendFrame. Nil makes overflow silent (fire-and-forget).
	OnDrop func() error
}

// ErrFunnelClosed is returned from SendFrame after Close.
var ErrFunnelClosed = errors.New("transport: funnel closed")

// NewFunnel starts a Funnel with a buffered queue of size buf.
func NewFunnel(parent context.Context, buf int, send func(can.Frame) error, hooks Hooks) *Funnel {
	ctx, cancel := context.WithCancel(parent)
	f := &Funnel{
		ch:     make(chan can.Frame, buf),
		ctx:    ctx,
		cancel: cancel,
		send:   send,
		hooks:  hooks,
	}
	f.wg.Add(1)
	go f.loop()
	return f
}

func (f *Funnel) loop() {
	defer f.wg.Done()
	for {
		select {
		case fr, ok := <-f.ch:
			if !ok {
				return
			}
			if err := f.send(fr); err != nil {
				if f.hooks.OnError != nil {
					f.hooks.OnError(err)
				}
				continue
			}
			if f.hooks.OnAfter != nil {
				f.hooks.OnAfter()
			}
		case <-f.ctx.Done():
			return
		}
	}
}

// SendFrame queues a frame for transmission, or returns the drop error when
// the buffer is full.
func (f *Funnel) SendFrame(fr can.Frame) error {
	// Fast path so steady-state sends skip the lock once shut down.
	if f.closed.Load() {
		return ErrFunnelClosed
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed.Load() {
		return ErrFunnelClosed
	}
	select {
	case f.ch <- fr:
		return nil
	default:
		if f.hooks.OnDrop != nil {
			return f.hooks.OnDrop()
		}
		return nil
	}
}

// Close stops the worker and waits for it to exit. Late SendFrame calls get
// ErrFunnelClosed.
func (f *Funnel) Close() {
	if f.closed.Swap(true) {
		return
	}
	f.cancel()
	f.mu.Lock()
	close(f.ch)
	f.mu.Unlock()
	f.wg.Wait()
}
