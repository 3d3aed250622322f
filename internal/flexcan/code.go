package flexcan

import "fmt"

// Code is the semantic state behind a mailbox's 4-bit CODE field.
type Code uint8

const (
	RxInactive Code = iota
	RxEmpty
	RxFull
	RxOverrun
	RxRemoteAnswer
	TxInactive
	TxAbort
	TxDataOrRemote
	TxRemoteAnswer
)

func (c Code) IsTransmit() bool { return c >= TxInactive }

func (c Code) String() string {
	switch c {
	case RxInactive:
		return "rx-inactive"
	case RxEmpty:
		return "rx-empty"
	case RxFull:
		return "rx-full"
	case RxOverrun:
		return "rx-overrun"
	case RxRemoteAnswer:
		return "rx-remote-answer"
	case TxInactive:
		return "tx-inactive"
	case TxAbort:
		return "tx-abort"
	case TxDataOrRemote:
		return "tx-pending"
	case TxRemoteAnswer:
		return "tx-remote-answer"
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// MailboxCode is the full decoded CODE field: a state plus, for receive
// states, the busy hazard bit the hardware sets while it is mid-update of
// the mailbox contents. Busy is never set for transmit states.
type MailboxCode struct {
	Code Code
	Busy bool
}

func (m MailboxCode) String() string {
	if m.Busy {
		return m.Code.String() + "+busy"
	}
	return m.Code.String()
}

// Receive codes encode their 3-bit state in bits 1-3 with the busy bit in
// bit 0. Transmit codes use the full four bits with bit 3 always set.
const (
	rawRxInactive     = 0x0
	rawRxFull         = 0x2
	rawRxEmpty        = 0x4
	rawRxOverrun      = 0x6
	rawRxRemoteAnswer = 0xA
	rawBusy           = 0x1

	rawTxInactive     = 0x8
	rawTxAbort        = 0x9
	rawTxDataOrRemote = 0xC
	rawTxRemoteAnswer = 0xE
)

// EncodeCode maps a MailboxCode to the 4-bit hardware value.
func EncodeCode(m MailboxCode) uint8 {
	var raw uint8
	switch m.Code {
	case RxInactive:
		raw = rawRxInactive
	case RxFull:
		raw = rawRxFull
	case RxEmpty:
		raw = rawRxEmpty
	case RxOverrun:
		raw = rawRxOverrun
	case RxRemoteAnswer:
		raw = rawRxRemoteAnswer
	case TxInactive:
		return rawTxInactive
	case TxAbort:
		return rawTxAbort
	case TxDataOrRemote:
		return rawTxDataOrRemote
	case TxRemoteAnswer:
		return rawTxRemoteAnswer
	default:
		panic(fmt.Sprintf("flexcan: encode of unknown mailbox code %d", m.Code))
	}
	if m.Busy {
		raw |= rawBusy
	}
	return raw
}

// DecodeCode maps a raw 4-bit CODE value back to its semantic state. The
// hardware can only ever present the patterns enumerated here; the two
// undefined transmit patterns (0b1101, 0b1111) indicate a hardware fault and
// abort the process, since no caller response to them is well-defined.
func DecodeCode(raw uint8) MailboxCode {
	switch raw & 0xF {
	case rawTxInactive:
		return MailboxCode{Code: TxInactive}
	case rawTxAbort:
		return MailboxCode{Code: TxAbort}
	case rawTxDataOrRemote:
		return MailboxCode{Code: TxDataOrRemote}
	case rawTxRemoteAnswer:
		return MailboxCode{Code: TxRemoteAnswer}
	case 0xD, 0xF:
		panic(fmt.Sprintf("flexcan: reserved mailbox code 0b%04b read from hardware", raw&0xF))
	}
	busy := raw&rawBusy != 0
	switch raw & 0xE {
	case rawRxInactive:
		return MailboxCode{Code: RxInactive, Busy: busy}
	case rawRxFull:
		return MailboxCode{Code: RxFull, Busy: busy}
	case rawRxEmpty:
		return MailboxCode{Code: RxEmpty, Busy: busy}
	case rawRxOverrun:
		return MailboxCode{Code: RxOverrun, Busy: busy}
	case rawRxRemoteAnswer:
		return MailboxCode{Code: RxRemoteAnswer, Busy: busy}
	}
	panic(fmt.Sprintf("flexcan: unreachable mailbox code 0b%04b", raw&0xF))
}

// codeOf extracts and decodes the CODE field of a control/status word.
func codeOf(cs uint32) MailboxCode {
	return DecodeCode(uint8(cs >> csCodeShift & 0xF))
}

// withCode replaces the CODE field of a control/status word.
func withCode(cs uint32, m MailboxCode) uint32 {
	return cs&^uint32(csCodeMask) | uint32(EncodeCode(m))<<csCodeShift
}
