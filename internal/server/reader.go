package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/s32kdev/go-flexcan/internal/can"
	"github.com/s32kdev/go-flexcan/internal/hub"
	"github.com/s32kdev/go-flexcan/internal/metrics"
	"github.com/s32kdev/go-flexcan/internal/transport"
)

// startReader launches the goroutine draining frames a client pushes toward
// the bus.
func (s *Server) startReader(ctxDone <-chan struct{}, conn net.Conn, cl *hub.Client, logger *slog.Logger) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { _ = conn.Close() }()
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.readDeadline))
			var count int
			var err error
			if mfd, ok := s.Codec.(transport.MultiFrameDecoder); ok {
				count, err = mfd.DecodeN(conn, 16, func(fr can.Frame) { s.forward(fr, logger) })
			} else {
				var fr can.Frame
				fr, err = s.Codec.Decode(conn)
				if err == nil {
					s.forward(fr, logger)
					count = 1
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
					return
				}
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					continue
				}
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				s.setError(wrap)
				return
			}
			if count == 0 {
				time.Sleep(100 * time.Microsecond)
			}
			select {
			case <-ctxDone:
				return
			default:
			}
		}
	}()
}

// forward hands one client frame to the backend, classifying overflow drops
// apart from real backend failures.
func (s *Server) forward(fr can.Frame, logger *slog.Logger) {
	metrics.IncTCPRx()
	if err := s.Send(fr); err != nil {
		if errors.Is(err, transport.ErrTxOverflow) {
			s.totalOverflow.Add(1)
			logger.Debug("backend_overflow_drop", "id", fr.ID.String(), "len", fr.Len)
			return
		}
		wrap := fmt.Errorf("%w: %v", ErrBackendTx, err)
		s.setError(wrap)
		s.totalBackendErrs.Add(1)
		logger.Error("backend_tx_error", "error", wrap, "id", fr.ID.String())
	}
}
