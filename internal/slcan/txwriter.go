package slcan

import (
	"context"
	"fmt"

	"github.com/s32kdev/go-flexcan/internal/can"
	"github.com/s32kdev/go-flexcan/internal/logging"
	"github.com/s32kdev/go-flexcan/internal/metrics"
	"github.com/s32kdev/go-flexcan/internal/transport"
)

// TXWriter funnels all serial writes through one goroutine.
type TXWriter struct{ base *transport.Funnel }

// NewTXWriter creates an SLCAN TXWriter with a buffered queue of size buf.
func NewTXWriter(parent context.Context, sp Port, codec Codec, buf int) *TXWriter {
	send := func(fr can.Frame) error {
		_, err := sp.Write(codec.Encode(fr))
		return err
	}
	hooks := transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrSlcanWrite)
			logging.L().Error("slcan_write_error", "error", err)
		},
		OnAfter: func() { metrics.IncSlcanTx() },
		OnDrop: func() error {
			metrics.IncError(metrics.ErrSlcanOverflow)
			return fmt.Errorf("%w: slcan", transport.ErrTxOverflow)
		},
	}
	return &TXWriter{base: transport.NewFunnel(parent, buf, send, hooks)}
}

// SendFrame queues a frame for asynchronous write (drops with a wrapped
// transport.ErrTxOverflow when the queue is full).
func (w *TXWriter) SendFrame(fr can.Frame) error { return w.base.SendFrame(fr) }

// Close stops the writer and waits for the worker to exit.
func (w *TXWriter) Close() { w.base.Close() }
