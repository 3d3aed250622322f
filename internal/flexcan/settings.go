package flexcan

import "fmt"

// ClockSource selects the protocol engine clock. The field is writable only
// while the module is disabled, which is why Open runs the full
// disable/reset sequence before anything else.
type ClockSource uint8

const (
	// ClockOscillator clocks the protocol engine from the crystal
	// oscillator (the jitter-free choice the bus timing normally wants).
	ClockOscillator ClockSource = iota
	// ClockPeripheral clocks it from the peripheral bus clock.
	ClockPeripheral
)

func (c ClockSource) String() string {
	if c == ClockPeripheral {
		return "peripheral"
	}
	return "oscillator"
}

// Settings is the user-facing controller configuration, validated and
// consumed by Open; it is not retained.
type Settings struct {
	// SourceFrequency is the selected clock's frequency in Hz. It must be
	// an exact multiple of BitRate and at least five times faster.
	SourceFrequency uint32
	// BitRate is the target CAN bus bit rate in Hz.
	BitRate uint32

	ClockSource ClockSource

	// SelfReception lets the controller receive frames it transmitted
	// itself (required for loop-back self test).
	SelfReception bool
	// IndividualMasking enables per-mailbox receive masks instead of the
	// global mask.
	IndividualMasking bool
	// Loopback feeds the transmitter output back internally; the receive
	// pin is ignored.
	Loopback bool

	// FIFOEnabled turns on the receive FIFO engine. The driver itself does
	// not service the FIFO; the flag exists because DMAEnable is only
	// legal alongside it.
	FIFOEnabled bool
	// DMAEnable requests DMA-driven FIFO reception. Invalid without
	// FIFOEnabled.
	DMAEnable bool
}

// Validate checks the pre-hardware invariants of the settings.
func (s Settings) Validate() error {
	if s.DMAEnable && !s.FIFOEnabled {
		return fmt.Errorf("%w: dma requires the receive fifo", ErrSettings)
	}
	_, err := CalculateBitTiming(s.SourceFrequency, s.BitRate)
	return err
}

// Header is the per-mailbox static configuration written once during Open.
// The timestamp is hardware-written and ignored at configuration time.
type Header struct {
	// ErrorStateIndicator is reflected in the mailbox control word.
	ErrorStateIndicator bool
	// Code is the initial mailbox code: RxEmpty for receive mailboxes,
	// TxInactive for transmit mailboxes.
	Code MailboxCode
	// Timestamp is the free-running timer capture of the last bus event on
	// this mailbox. Hardware-owned.
	Timestamp uint16
	// Priority is the 3-bit local arbitration priority for transmit
	// mailboxes.
	Priority uint8
}

// TransmitHeader is a mailbox header starting life as an idle transmitter.
func TransmitHeader() Header {
	return Header{Code: MailboxCode{Code: TxInactive}}
}

// ReceiveHeader is a mailbox header armed for reception.
func ReceiveHeader() Header {
	return Header{Code: MailboxCode{Code: RxEmpty}}
}

// MaxMailboxes is the size of the hardware mailbox array.
const MaxMailboxes = 32
