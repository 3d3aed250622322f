package flexcan

import "fmt"

// BitTiming is the derived protocol timing configuration: the prescaler
// divisor and the three bit segments plus the resynchronization jump width,
// all in register encoding (segment length minus one).
type BitTiming struct {
	PresDiv uint8 // 0..255, serial clock = source / (PresDiv+1)
	PropSeg uint8 // 0..7, propagation segment of PropSeg+1 quanta
	PSeg1   uint8 // 0..7, phase segment 1 of PSeg1+1 quanta
	PSeg2   uint8 // 1..7, phase segment 2 of PSeg2+1 quanta
	RJW     uint8 // 0..3, resync jump of RJW+1 quanta
}

// TimeQuanta returns the number of time quanta per bit: the sync quantum
// plus the three segments, each one longer than its register value.
func (t BitTiming) TimeQuanta() uint32 {
	return uint32(t.PropSeg) + uint32(t.PSeg1) + uint32(t.PSeg2) + 4
}

// CalculateBitTiming derives the bus timing for a target bit rate from the
// source clock. The source must be an exact multiple of the bit rate and at
// least five times faster (the minimum quantum count per bit).
//
// The prescaler is biased low (ratio/25) so the quantum count per bit lands
// as high as the datasheet's legal table allows; the phase segment 2 length
// and jump width then come from that table, and the remaining quanta are
// split between phase segment 1 and the propagation segment.
func CalculateBitTiming(sourceHz, bitRateHz uint32) (BitTiming, error) {
	if bitRateHz == 0 || sourceHz%bitRateHz != 0 {
		return BitTiming{}, fmt.Errorf("%w: source %d Hz not divisible by bit rate %d Hz",
			ErrSettings, sourceHz, bitRateHz)
	}
	ratio := sourceHz / bitRateHz
	if ratio < 5 {
		return BitTiming{}, fmt.Errorf("%w: source/bit-rate ratio %d below minimum 5", ErrSettings, ratio)
	}
	presdiv := ratio / 25
	if presdiv > 0xFF {
		return BitTiming{}, fmt.Errorf("%w: prescaler %d exceeds 8-bit divisor", ErrSettings, presdiv)
	}
	tqs := sourceHz / (presdiv + 1) / bitRateHz

	// Legal quantum counts per bit are 8..25 (datasheet table). Landing
	// outside that range means the requested bit rate is unreachable for
	// this clock and was already ruled out during validation, so it is a
	// programming error rather than a recoverable condition.
	var pseg2, rjw uint8
	switch {
	case tqs >= 8 && tqs < 10:
		pseg2, rjw = 1, 1
	case tqs >= 10 && tqs < 15:
		pseg2, rjw = 3, 2
	case tqs >= 15 && tqs < 20:
		pseg2, rjw = 6, 2
	case tqs >= 20 && tqs < 26:
		pseg2, rjw = 7, 3
	default:
		panic(fmt.Sprintf("flexcan: %d time quanta per bit outside legal range [8,26)", tqs))
	}

	pseg1 := uint8((tqs-uint32(pseg2)-1)/2 - 1)
	propseg := uint8(tqs - uint32(pseg2) - 1 - uint32(pseg1) - 1 - 2)

	return BitTiming{
		PresDiv: uint8(presdiv),
		PropSeg: propseg,
		PSeg1:   pseg1,
		PSeg2:   pseg2,
		RJW:     rjw,
	}, nil
}

// ctrl1Bits composes the CTRL1 timing fields.
func (t BitTiming) ctrl1Bits() uint32 {
	return uint32(t.PresDiv)<<ctrl1PresDivShift |
		uint32(t.RJW)<<ctrl1RJWShift |
		uint32(t.PSeg1)<<ctrl1PSeg1Shift |
		uint32(t.PSeg2)<<ctrl1PSeg2Shift |
		uint32(t.PropSeg)&ctrl1PropSegMask
}
