package flexcan

import "github.com/s32kdev/go-flexcan/internal/can"

// RegisterBlock is exclusive word access to one FlexCAN peripheral instance.
// The Controller owns the block for its whole lifetime; nothing else may
// touch the registers while a Controller built on it exists.
type RegisterBlock interface {
	Read(offset uint32) uint32
	Write(offset uint32, value uint32)
}

// Register offsets within the FlexCAN block.
const (
	regMCR      = 0x00 // module configuration
	regCTRL1    = 0x04 // bus timing, clock source, loop back
	regTIMER    = 0x08 // free-running timer; reading releases the mailbox lock
	regRXMGMASK = 0x10 // global receive mask
	regRX14MASK = 0x14
	regRX15MASK = 0x18
	regECR      = 0x1C
	regESR1     = 0x20
	regIMASK1   = 0x28
	regIFLAG1   = 0x30 // per-mailbox interrupt flags, write-1-to-clear
	regCTRL2    = 0x34

	regMailboxBase = 0x80 // message buffer RAM, 16 bytes per mailbox
	mailboxStride  = 0x10

	// RegisterBlockSize is the span a RegisterBlock must cover.
	RegisterBlockSize = 0x1000
)

// MCR bits.
const (
	mcrMDIS    = 1 << 31 // module disable
	mcrFRZ     = 1 << 30 // freeze enable
	mcrRFEN    = 1 << 29 // receive FIFO enable
	mcrHALT    = 1 << 28 // halt (with FRZ: enter freeze mode)
	mcrNOTRDY  = 1 << 27
	mcrSOFTRST = 1 << 25 // soft reset, self-clearing
	mcrFRZACK  = 1 << 24 // freeze mode acknowledge
	mcrLPMACK  = 1 << 20 // low-power mode acknowledge
	mcrSRXDIS  = 1 << 17 // self reception disable
	mcrIRMQ    = 1 << 16 // individual receive masking
	mcrDMA     = 1 << 15 // DMA enable (FIFO only)
	mcrMAXMB   = 0x7F    // number of the last mailbox, bits 0-6
)

// CTRL1 bits. PRESDIV/RJW/PSEG1/PSEG2/PROPSEG hold the bit timing; CLKSRC is
// writable only while the module is disabled.
const (
	ctrl1PresDivShift = 24
	ctrl1RJWShift     = 22
	ctrl1PSeg1Shift   = 19
	ctrl1PSeg2Shift   = 16
	ctrl1CLKSRC       = 1 << 13
	ctrl1LPB          = 1 << 12 // loop back
	ctrl1PropSegMask  = 0x7
)

// Mailbox control/status word fields.
const (
	csESI       = 1 << 29 // error state indicator
	csCodeShift = 24      // 4-bit mailbox code, bits 24-27
	csCodeMask  = 0xF << csCodeShift
	csSRR       = 1 << 22 // substitute remote request, set for extended frames
	csIDE       = 1 << 21 // extended identifier
	csRTR       = 1 << 20 // remote transmission request
	csDLCShift  = 16      // data length code, bits 16-19
	csDLCMask   = 0xF << csDLCShift
	csTimestamp = 0xFFFF  // free-running timer capture, bits 0-15
)

// Mailbox identifier word fields. Base identifiers sit in bits 18-28,
// extended identifiers in bits 0-28, the software priority in bits 29-31.
const (
	idPrioShift = 29
	idStdShift  = 18
	idStdMask   = 0x7FF << idStdShift
	idExtMask   = 0x1FFFFFFF
)

func mailboxCS(mb int) uint32   { return regMailboxBase + uint32(mb)*mailboxStride }
func mailboxID(mb int) uint32   { return mailboxCS(mb) + 4 }
func mailboxData(mb, word int) uint32 { return mailboxCS(mb) + 8 + uint32(word)*4 }

// packIdentifier composes the mailbox identifier word from an identifier and
// a 3-bit software priority.
func packIdentifier(id can.ID, prio uint8) uint32 {
	w := uint32(prio&0x7) << idPrioShift
	if id.Extended() {
		return w | (id.Value() & idExtMask)
	}
	return w | (id.Value() << idStdShift & idStdMask)
}

// unpackIdentifier recovers the identifier from the mailbox identifier word.
func unpackIdentifier(word uint32, extended bool) can.ID {
	if extended {
		return can.MustExtendedID(word & idExtMask)
	}
	return can.MustBaseID(word & idStdMask >> idStdShift)
}

func identifierPriority(word uint32) uint8 {
	return uint8(word >> idPrioShift & 0x7)
}

// packPayload spreads up to 8 payload bytes over the two mailbox data words.
// Byte i lands in word i/4 at bit offset 24-8*(i%4): big-endian within each
// word, which is the order the bytes go out on the bus.
func packPayload(p []byte) (w0, w1 uint32) {
	for i, b := range p {
		shift := 24 - 8*(i%4)
		if i < 4 {
			w0 |= uint32(b) << shift
		} else {
			w1 |= uint32(b) << shift
		}
	}
	return w0, w1
}

// unpackPayload is the inverse of packPayload for n bytes.
func unpackPayload(w0, w1 uint32, n int, out *[8]byte) {
	for i := 0; i < n && i < 8; i++ {
		shift := 24 - 8*(i%4)
		w := w0
		if i >= 4 {
			w = w1
		}
		out[i] = byte(w >> shift)
	}
}
