package flexcan

import (
	"sync"

	"github.com/s32kdev/go-flexcan/internal/can"
)

// Sim is an in-memory model of the FlexCAN register block: acknowledge bits
// track the mode requests, the soft reset self-clears, mailbox RAM behaves
// like RAM, and arming a transmit mailbox while loop-back is enabled delivers
// the frame into the first empty receive mailbox. It backs the test suite and
// the bridge's hardware-less backend.
//
// Sim is safe for concurrent use; a real register block is not, and the
// Controller does not rely on this.
type Sim struct {
	mu  sync.Mutex
	mem [RegisterBlockSize / 4]uint32

	// HoldTx keeps armed transmissions pending until DeliverPending runs,
	// so tests can observe and abort in-flight mailboxes.
	HoldTx bool
	// AbortLoses makes an abort request complete as a transmission, the
	// race outcome the hardware cannot always report.
	AbortLoses bool
	// BusyWindow is the number of control word reads that present the busy
	// hazard bit after a frame lands in a receive mailbox.
	BusyWindow int

	busy  map[int]int
	timer uint32

	// TimerReads counts reads of the free-running timer, which is how the
	// driver releases the mailbox lock.
	TimerReads int
	// Writes counts all register writes (tests use it to assert an
	// operation left the hardware untouched).
	Writes int
}

func NewSim() *Sim {
	return &Sim{busy: make(map[int]int)}
}

func (s *Sim) word(off uint32) *uint32 { return &s.mem[off/4] }

func (s *Sim) Read(off uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case off == regTIMER:
		s.timer++
		s.TimerReads++
		return s.timer
	case off >= regMailboxBase && off < regMailboxBase+MaxMailboxes*mailboxStride:
		if (off-regMailboxBase)%mailboxStride == 0 {
			mb := int((off - regMailboxBase) / mailboxStride)
			if s.busy[mb] > 0 {
				s.busy[mb]--
				return *s.word(off) | uint32(rawBusy)<<csCodeShift
			}
		}
	}
	return *s.word(off)
}

func (s *Sim) Write(off uint32, v uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Writes++
	switch {
	case off == regMCR:
		s.writeMCR(v)
	case off == regIFLAG1:
		*s.word(regIFLAG1) &^= v // write-1-to-clear
	case off >= regMailboxBase && off < regMailboxBase+MaxMailboxes*mailboxStride &&
		(off-regMailboxBase)%mailboxStride == 0:
		s.writeCS(int((off-regMailboxBase)/mailboxStride), v)
	default:
		*s.word(off) = v
	}
}

func (s *Sim) writeMCR(v uint32) {
	v &^= uint32(mcrSOFTRST | mcrLPMACK | mcrFRZACK | mcrNOTRDY) // self-clearing / status bits
	if v&mcrMDIS != 0 {
		v |= mcrLPMACK
	} else if v&mcrFRZ != 0 && v&mcrHALT != 0 {
		v |= mcrFRZACK
	}
	*s.word(regMCR) = v
}

func (s *Sim) running() bool {
	mcr := *s.word(regMCR)
	return mcr&mcrMDIS == 0 && !(mcr&mcrFRZ != 0 && mcr&mcrHALT != 0)
}

func (s *Sim) writeCS(mb int, v uint32) {
	old := codeOf(*s.word(mailboxCS(mb)))
	*s.word(mailboxCS(mb)) = v
	if !s.running() {
		return
	}
	switch codeOf(v).Code {
	case TxDataOrRemote:
		if !s.HoldTx {
			s.complete(mb)
		}
	case TxAbort:
		if old.Code != TxDataOrRemote {
			return
		}
		if s.AbortLoses {
			s.complete(mb)
			return
		}
		// abort wins: frame stays in the mailbox, flag signals completion
		*s.word(regIFLAG1) |= 1 << uint(mb)
	}
}

// complete finishes a pending transmission: loop-back delivery if enabled,
// then the idle code and the completion flag on the transmit mailbox.
func (s *Sim) complete(mb int) {
	if *s.word(regCTRL1)&ctrl1LPB != 0 {
		s.deliver(mb)
	}
	*s.word(mailboxCS(mb)) = withCode(*s.word(mailboxCS(mb)), MailboxCode{Code: TxInactive})
	*s.word(regIFLAG1) |= 1 << uint(mb)
}

// deliver copies the armed frame into the first empty receive mailbox, or
// marks the first full one overrun when none is empty.
func (s *Sim) deliver(from int) {
	maxMB := int(*s.word(regMCR) & mcrMAXMB)
	firstFull := -1
	for mb := 0; mb <= maxMB; mb++ {
		code := codeOf(*s.word(mailboxCS(mb))).Code
		if code == RxFull && firstFull < 0 {
			firstFull = mb
		}
		if code != RxEmpty {
			continue
		}
		txCS := *s.word(mailboxCS(from))
		s.timer++
		cs := txCS&(csIDE|csSRR|csRTR|csDLCMask|csESI) | s.timer&csTimestamp
		*s.word(mailboxID(mb)) = *s.word(mailboxID(from))
		*s.word(mailboxData(mb, 0)) = *s.word(mailboxData(from, 0))
		*s.word(mailboxData(mb, 1)) = *s.word(mailboxData(from, 1))
		*s.word(mailboxCS(mb)) = withCode(cs, MailboxCode{Code: RxFull})
		*s.word(regIFLAG1) |= 1 << uint(mb)
		if s.BusyWindow > 0 {
			s.busy[mb] = s.BusyWindow
		}
		return
	}
	if firstFull >= 0 {
		*s.word(mailboxCS(firstFull)) = withCode(*s.word(mailboxCS(firstFull)), MailboxCode{Code: RxOverrun})
		*s.word(regIFLAG1) |= 1 << uint(firstFull)
	}
}

// DeliverPending completes every mailbox still armed for transmission (used
// together with HoldTx).
func (s *Sim) DeliverPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	maxMB := int(*s.word(regMCR) & mcrMAXMB)
	for mb := 0; mb <= maxMB; mb++ {
		if codeOf(*s.word(mailboxCS(mb))).Code == TxDataOrRemote {
			s.complete(mb)
		}
	}
}

// InjectFrame places a received frame straight into the given mailbox, as if
// it had arrived from the bus, honoring the configured busy window.
func (s *Sim) InjectFrame(mb int, f can.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer++
	cs := uint32(f.Len)<<csDLCShift | s.timer&csTimestamp
	if f.ID.Extended() {
		cs |= csIDE | csSRR
	}
	if f.Remote {
		cs |= csRTR
	}
	code := MailboxCode{Code: RxFull}
	if codeOf(*s.word(mailboxCS(mb))).Code == RxFull {
		code.Code = RxOverrun
	}
	w0, w1 := packPayload(f.Payload())
	*s.word(mailboxID(mb)) = packIdentifier(f.ID, 0)
	*s.word(mailboxData(mb, 0)) = w0
	*s.word(mailboxData(mb, 1)) = w1
	*s.word(mailboxCS(mb)) = withCode(cs, code)
	*s.word(regIFLAG1) |= 1 << uint(mb)
	if s.BusyWindow > 0 {
		s.busy[mb] = s.BusyWindow
	}
}

// CodeAt reports the decoded code of a mailbox (test hook).
func (s *Sim) CodeAt(mb int) MailboxCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return codeOf(*s.word(mailboxCS(mb)))
}

// SetRawCode overwrites a mailbox code field with a raw 4-bit pattern
// without any bus side effects (test hook).
func (s *Sim) SetRawCode(mb int, raw uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.word(mailboxCS(mb))
	*w = *w&^uint32(csCodeMask) | uint32(raw&0xF)<<csCodeShift
}
