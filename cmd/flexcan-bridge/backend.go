package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/s32kdev/go-flexcan/internal/can"
	"github.com/s32kdev/go-flexcan/internal/hub"
)

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// initBackend selects the backend, starts its RX loop and returns a frame
// sender and cleanup. It returns an error instead of exiting the process to
// allow graceful handling by the caller.
func initBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	switch cfg.backend {
	case "flexcan":
		return initFlexCANBackend(ctx, cfg, h, l, wg)
	case "slcan":
		return initSerialBackend(ctx, cfg, h, l, wg)
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use flexcan|slcan)", cfg.backend)
	}
}
