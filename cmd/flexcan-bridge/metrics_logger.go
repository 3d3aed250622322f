package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/s32kdev/go-flexcan/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"flexcan_rx", snap.FlexCANRx,
					"flexcan_tx", snap.FlexCANTx,
					"tx_buffer_full", snap.TxBufferFull,
					"busy_retries", snap.BusyRetries,
					"slcan_rx", snap.SlcanRx,
					"slcan_tx", snap.SlcanTx,
					"tcp_rx", snap.TCPRx,
					"tcp_tx", snap.TCPTx,
					"hub_drops", snap.HubDrops,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
