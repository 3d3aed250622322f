package main

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/s32kdev/go-flexcan/internal/can"
	"github.com/s32kdev/go-flexcan/internal/hub"
	"github.com/s32kdev/go-flexcan/internal/metrics"
	"github.com/s32kdev/go-flexcan/internal/slcan"
	"github.com/s32kdev/go-flexcan/internal/transport"
)

// blockingPort simulates a very slow serial port to force TX queue overflow.
type blockingPort struct{ block chan struct{} }

func (p *blockingPort) Read(b []byte) (int, error) {
	time.Sleep(5 * time.Millisecond)
	return 0, io.EOF
}
func (p *blockingPort) Write(b []byte) (int, error) { <-p.block; return len(b), nil }
func (p *blockingPort) Close() error                { close(p.block); return nil }

func TestSerialBackendTxOverflow(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bp := &blockingPort{block: make(chan struct{})}
	openSerialPort = func(name string, baud int, to time.Duration) (slcan.Port, error) { return bp, nil }
	defer func() { openSerialPort = slcan.Open }()
	beforeErrs := metrics.Snap().Errors

	h := hub.New()
	cfg := validConfig()
	cfg.backend = "slcan"
	var wg sync.WaitGroup
	send, cleanup, err := initSerialBackend(ctx, cfg, h, testLogger(), &wg)
	if err != nil {
		t.Fatalf("initSerialBackend: %v", err)
	}
	defer cleanup()

	// Fill the queue; the worker blocks on Write so nothing drains.
	var overflowErr error
	for i := 0; i < txQueueSize+2; i++ {
		fr := can.Frame{ID: can.MustBaseID(uint32(i & 0x7FF))}
		if err := send(fr); err != nil && overflowErr == nil {
			overflowErr = err
		}
	}
	if overflowErr == nil {
		t.Fatalf("expected at least one overflow error")
	}
	if !errors.Is(overflowErr, transport.ErrTxOverflow) {
		t.Fatalf("expected ErrTxOverflow, got %v", overflowErr)
	}
	afterErrs := metrics.Snap().Errors
	if afterErrs == beforeErrs {
		t.Fatalf("expected error metric increment on overflow")
	}
}
