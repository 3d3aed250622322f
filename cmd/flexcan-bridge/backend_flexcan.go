package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/s32kdev/go-flexcan/internal/can"
	"github.com/s32kdev/go-flexcan/internal/flexcan"
	"github.com/s32kdev/go-flexcan/internal/hub"
	"github.com/s32kdev/go-flexcan/internal/metrics"
	"github.com/s32kdev/go-flexcan/internal/transport"
)

// openRegisterBlock is a hook for tests (overridden in unit tests).
var openRegisterBlock = func(cfg *appConfig) (flexcan.RegisterBlock, func(), error) {
	if cfg.memPath == "sim" {
		return flexcan.NewSim(), func() {}, nil
	}
	return openPhysicalBlock(cfg.memPath, cfg.canBase)
}

const (
	txRetryDelay = time.Millisecond
	txRetryLimit = 32
)

// initFlexCANBackend maps the register block, brings the controller up and
// launches the mailbox polling loop.
func initFlexCANBackend(ctx context.Context, cfg *appConfig, h *hub.Hub, l *slog.Logger, wg *sync.WaitGroup) (func(can.Frame) error, func(), error) {
	regs, closeRegs, err := openRegisterBlock(cfg)
	if err != nil {
		return nil, func() {}, fmt.Errorf("open register block: %w", err)
	}

	src := flexcan.ClockOscillator
	if cfg.clockSrc == "peripheral" {
		src = flexcan.ClockPeripheral
	}
	settings := flexcan.Settings{
		SourceFrequency: uint32(cfg.clockHz),
		BitRate:         uint32(cfg.bitRate),
		ClockSource:     src,
		SelfReception:   cfg.selfRx,
		Loopback:        cfg.loopback,
	}
	headers := make([]flexcan.Header, 0, cfg.rxMailboxes+cfg.txMailboxes)
	for i := 0; i < cfg.rxMailboxes; i++ {
		headers = append(headers, flexcan.ReceiveHeader())
	}
	for i := 0; i < cfg.txMailboxes; i++ {
		headers = append(headers, flexcan.TransmitHeader())
	}

	ctrl, err := flexcan.Open(regs, settings, headers, flexcan.WithLogger(l))
	if err != nil {
		closeRegs()
		return nil, func() {}, fmt.Errorf("flexcan open: %w", err)
	}
	l.Info("flexcan_backend", "mem", cfg.memPath,
		"rx_mailboxes", cfg.rxMailboxes, "tx_mailboxes", cfg.txMailboxes)

	// All transmit paths converge on one worker; when every transmit mailbox
	// stays occupied past the retry budget the frame is reported, not queued
	// forever.
	send := func(fr can.Frame) error {
		for attempt := 0; ; attempt++ {
			err := ctrl.Transmit(fr)
			if !errors.Is(err, flexcan.ErrTxBufferFull) {
				return err
			}
			if attempt >= txRetryLimit || ctx.Err() != nil {
				return err
			}
			sleepFn(txRetryDelay)
		}
	}
	tw := transport.NewFunnel(ctx, txQueueSize, send, transport.Hooks{
		OnError: func(err error) {
			metrics.IncError(metrics.ErrFlexCANTx)
			l.Warn("flexcan_tx_error", "error", err)
		},
		OnDrop: func() error {
			metrics.IncError(metrics.ErrFlexCANOverflow)
			return fmt.Errorf("%w: flexcan", transport.ErrTxOverflow)
		},
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.Info("flexcan_rx_end")
		backoff := rxBackoffMin
		for {
			if ctx.Err() != nil {
				return
			}
			got := 0
			for mb := 0; mb < cfg.rxMailboxes; mb++ {
				hdr, fr, err := ctrl.Receive(mb)
				if errors.Is(err, flexcan.ErrRxMailboxEmpty) {
					continue
				}
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					metrics.IncError(metrics.ErrFlexCANRx)
					l.Warn("flexcan_rx_error", "mailbox", mb, "error", err, "backoff", backoff)
					sleepFn(backoff)
					backoff *= 2
					if backoff > rxBackoffMax {
						backoff = rxBackoffMax
					}
					continue
				}
				got++
				backoff = rxBackoffMin
				if hdr.Code.Code == flexcan.RxOverrun {
					l.Warn("flexcan_rx_overrun", "mailbox", mb, "id", fr.ID.String())
				}
				h.Broadcast(fr)
			}
			if got == 0 {
				sleepFn(cfg.pollInterval)
			}
		}
	}()
	return tw.SendFrame, func() { tw.Close(); closeRegs() }, nil
}
