package flexcan

import (
	"fmt"

	"github.com/s32kdev/go-flexcan/internal/can"
	"github.com/s32kdev/go-flexcan/internal/metrics"
)

// busyRetryLimit caps the busy-bit re-read loop in Receive. The hardware
// holds the busy bit for at most a few microseconds while it moves a frame
// into the mailbox, so a loop that long means the peripheral is gone.
const busyRetryLimit = 256

// Transmit writes the frame into the first transmit mailbox whose live code
// is idle and arms it for arbitration. Mailboxes with a transmission in
// flight are skipped, as are receive mailboxes. When every mailbox is
// occupied it returns ErrTxBufferFull without blocking; the caller decides
// whether to retry.
func (c *Controller) Transmit(f can.Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}
	for mb := 0; mb <= c.maxMailbox; mb++ {
		if codeOf(c.regs.Read(mailboxCS(mb))).Code != TxInactive {
			continue
		}
		c.armTransmit(mb, f)
		metrics.IncFlexCANTx()
		return nil
	}
	metrics.IncTxBufferFull()
	return ErrTxBufferFull
}

// TransmitMailbox writes the frame into one specific mailbox. It reports
// ErrTxMailboxBusy while a previous transmission is still in flight and
// ErrMailboxConfiguration when the mailbox is not a transmit mailbox at all;
// it never overwrites a mailbox in an unexpected state.
func (c *Controller) TransmitMailbox(mb int, f can.Frame) error {
	if err := c.checkIndex(mb); err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}
	switch mc := codeOf(c.regs.Read(mailboxCS(mb))); mc.Code {
	case TxInactive:
		c.armTransmit(mb, f)
		metrics.IncFlexCANTx()
		return nil
	case TxDataOrRemote:
		return fmt.Errorf("%w: mailbox %d", ErrTxMailboxBusy, mb)
	default:
		c.logger.Warn("flexcan_tx_unexpected_code", "mailbox", mb, "code", mc.String())
		return fmt.Errorf("%w: mailbox %d is %s", ErrMailboxConfiguration, mb, mc)
	}
}

// armTransmit runs the mailbox write protocol. Field writes are inert until
// the final control word carrying the pending code lands, so the code write
// must come last; everything before it is just staging.
func (c *Controller) armTransmit(mb int, f can.Frame) {
	bit := uint32(1) << uint(mb)

	// A stale completion flag from a previous transmit must not be taken
	// for this one's.
	c.regs.Write(regIFLAG1, bit)

	// The 3-bit software priority is static per-mailbox configuration;
	// carry it over from the previous identifier word.
	prio := identifierPriority(c.regs.Read(mailboxID(mb)))
	c.regs.Write(mailboxID(mb), packIdentifier(f.ID, prio))

	w0, w1 := packPayload(f.Payload())
	c.regs.Write(mailboxData(mb, 0), w0)
	c.regs.Write(mailboxData(mb, 1), w1)

	cs := uint32(f.Len) << csDLCShift
	if f.ID.Extended() {
		cs |= csIDE | csSRR
	}
	if f.Remote {
		cs |= csRTR
	}
	cs = withCode(cs, MailboxCode{Code: TxDataOrRemote})
	c.regs.Write(mailboxCS(mb), cs)
}

// Receive reads a completed frame out of the mailbox. A clear interrupt flag
// is the normal "nothing new" outcome, reported as ErrRxMailboxEmpty for the
// caller to poll on. While the code reads back busy the hardware is still
// copying the frame in, and the control word is re-read until the hazard
// clears. The final timer read is a required side effect: it is what
// releases the lock the controller holds on a mailbox being read.
func (c *Controller) Receive(mb int) (Header, can.Frame, error) {
	if err := c.checkIndex(mb); err != nil {
		return Header{}, can.Frame{}, err
	}
	bit := uint32(1) << uint(mb)
	if c.regs.Read(regIFLAG1)&bit == 0 {
		return Header{}, can.Frame{}, fmt.Errorf("%w: mailbox %d", ErrRxMailboxEmpty, mb)
	}

	var cs uint32
	for retry := 0; ; retry++ {
		cs = c.regs.Read(mailboxCS(mb))
		if !codeOf(cs).Busy {
			break
		}
		metrics.IncBusyRetry()
		if retry >= busyRetryLimit {
			c.logger.Error("flexcan_rx_busy_stuck", "mailbox", mb, "retries", retry)
			return Header{}, can.Frame{}, fmt.Errorf("%w: mailbox %d busy bit", ErrWaitTimeout, mb)
		}
		if c.wait.OnSpin != nil {
			c.wait.OnSpin()
		}
	}

	hdr, frame := c.readMailbox(mb, cs)

	c.regs.Write(regIFLAG1, bit) // acknowledge
	_ = c.regs.Read(regTIMER)    // release the mailbox lock
	metrics.IncFlexCANRx()
	return hdr, frame, nil
}

// Abort tries to pull back a mailbox armed for transmission. The hardware
// signals completion of either outcome on the same flag, and "frame went out
// just before the abort landed" is not always distinguishable; the recovered
// frame is returned only when the code reads back as aborted, and nil means
// the frame was (or may have been) transmitted.
func (c *Controller) Abort(mb int) (*can.Frame, error) {
	if err := c.checkIndex(mb); err != nil {
		return nil, err
	}
	cs := c.regs.Read(mailboxCS(mb))
	if mc := codeOf(cs); mc.Code != TxDataOrRemote {
		return nil, fmt.Errorf("%w: abort on mailbox %d in state %s", ErrMailboxConfiguration, mb, mc)
	}
	bit := uint32(1) << uint(mb)
	c.regs.Write(regIFLAG1, bit)
	c.regs.Write(mailboxCS(mb), withCode(cs, MailboxCode{Code: TxAbort}))

	if err := c.wait.poll("abort completion flag", func() bool {
		return c.regs.Read(regIFLAG1)&bit != 0
	}); err != nil {
		return nil, err
	}

	cs = c.regs.Read(mailboxCS(mb))
	c.regs.Write(regIFLAG1, bit)
	if codeOf(cs).Code != TxAbort {
		return nil, nil // transmitted before the abort landed
	}
	_, frame := c.readMailbox(mb, cs)
	return &frame, nil
}

// readMailbox decodes the identifier, header and payload of a mailbox from
// its already-read control word.
func (c *Controller) readMailbox(mb int, cs uint32) (Header, can.Frame) {
	extended := cs&csIDE != 0
	idWord := c.regs.Read(mailboxID(mb))
	id := unpackIdentifier(idWord, extended)

	var frame can.Frame
	if cs&csRTR != 0 {
		frame = can.NewRemoteFrame(id)
	} else {
		dlc := int(cs >> csDLCShift & 0xF)
		if dlc > 8 {
			dlc = 8
		}
		frame = can.Frame{ID: id, Len: uint8(dlc)}
		w0 := c.regs.Read(mailboxData(mb, 0))
		w1 := c.regs.Read(mailboxData(mb, 1))
		unpackPayload(w0, w1, dlc, &frame.Data)
	}

	hdr := Header{
		ErrorStateIndicator: cs&csESI != 0,
		Code:                codeOf(cs),
		Timestamp:           uint16(cs & csTimestamp),
		Priority:            identifierPriority(idWord),
	}
	return hdr, frame
}

// writeMailbox applies a header and filler frame to a mailbox during
// configuration, using the same staging order as a live transmit.
func (c *Controller) writeMailbox(mb int, h Header, f can.Frame) {
	bit := uint32(1) << uint(mb)
	c.regs.Write(regIFLAG1, bit)
	c.regs.Write(mailboxID(mb), packIdentifier(f.ID, h.Priority))
	w0, w1 := packPayload(f.Payload())
	c.regs.Write(mailboxData(mb, 0), w0)
	c.regs.Write(mailboxData(mb, 1), w1)

	cs := uint32(f.Len) << csDLCShift
	if f.ID.Extended() {
		cs |= csIDE | csSRR
	}
	if f.Remote {
		cs |= csRTR
	}
	if h.ErrorStateIndicator {
		cs |= csESI
	}
	c.regs.Write(mailboxCS(mb), withCode(cs, h.Code))
}

func (c *Controller) checkIndex(mb int) error {
	if mb < 0 || mb > c.maxMailbox {
		return fmt.Errorf("%w: mailbox index %d out of range 0..%d", ErrMailboxConfiguration, mb, c.maxMailbox)
	}
	return nil
}
