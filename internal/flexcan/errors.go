package flexcan

import "errors"

// Sentinel errors used for wrapping so callers can classify via errors.Is.
//
// ErrSettings is fully recoverable: fix the settings and call Open again.
// ErrTxBufferFull, ErrTxMailboxBusy and ErrRxMailboxEmpty are ordinary
// steady-state outcomes the caller is expected to poll or retry on.
// ErrMailboxConfiguration reports a caller logic error (addressing a receive
// mailbox as if it were free for transmit); it is surfaced, never coerced.
// ErrWaitTimeout means an acknowledge or busy-bit poll exceeded its spin
// budget, which the datasheet says cannot happen on healthy hardware.
var (
	ErrSettings             = errors.New("flexcan: invalid settings")
	ErrTxBufferFull         = errors.New("flexcan: no inactive transmit mailbox")
	ErrTxMailboxBusy        = errors.New("flexcan: transmit mailbox busy")
	ErrRxMailboxEmpty       = errors.New("flexcan: mailbox empty")
	ErrMailboxConfiguration = errors.New("flexcan: unexpected mailbox code")
	ErrWaitTimeout          = errors.New("flexcan: acknowledge poll timed out")
)
