// Package slcan speaks the Lawicel ASCII serial CAN protocol used by
// USB/UART CAN adapters: one frame per CR-terminated line, 't'/'T' for
// base/extended data frames, 'r'/'R' for remote requests.
package slcan

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/s32kdev/go-flexcan/internal/can"
	"github.com/s32kdev/go-flexcan/internal/metrics"
)

type Codec struct{}

var ErrMalformed = errors.New("slcan: malformed frame")

const hexDigits = "0123456789ABCDEF"

// Encode renders one frame as an SLCAN line including the trailing CR.
func (Codec) Encode(f can.Frame) []byte {
	var cmd byte
	idDigits := 3
	switch {
	case f.Remote && f.ID.Extended():
		cmd, idDigits = 'R', 8
	case f.Remote:
		cmd = 'r'
	case f.ID.Extended():
		cmd, idDigits = 'T', 8
	default:
		cmd = 't'
	}
	out := make([]byte, 0, 1+idDigits+1+2*int(f.Len)+1)
	out = append(out, cmd)
	id := f.ID.Value()
	for i := idDigits - 1; i >= 0; i-- {
		out = append(out, hexDigits[id>>(4*uint(i))&0xF])
	}
	out = append(out, hexDigits[f.Len&0xF])
	for _, b := range f.Data[:f.Len] {
		out = append(out, hexDigits[b>>4], hexDigits[b&0xF])
	}
	return append(out, '\r')
}

// DecodeStream consumes complete CR-terminated lines from in, emitting each
// decoded frame via out. Unparseable lines are counted and skipped; partial
// lines stay buffered for the next read.
func (Codec) DecodeStream(in *bytes.Buffer, out func(can.Frame)) error {
	for {
		data := in.Bytes()
		end := bytes.IndexByte(data, '\r')
		if end < 0 {
			return nil
		}
		line := data[:end]
		in.Next(end + 1)
		if len(line) == 0 {
			continue // adapters often pad with bare CRs
		}
		f, err := decodeLine(line)
		if err != nil {
			metrics.IncMalformed()
			continue
		}
		out(f)
		metrics.IncSlcanRx()
	}
}

func decodeLine(line []byte) (can.Frame, error) {
	var (
		remote   bool
		extended bool
	)
	switch line[0] {
	case 't':
	case 'T':
		extended = true
	case 'r':
		remote = true
	case 'R':
		remote, extended = true, true
	default:
		// status/version responses and channel open/close echoes
		return can.Frame{}, fmt.Errorf("%w: command %q", ErrMalformed, line[0])
	}
	idDigits := 3
	if extended {
		idDigits = 8
	}
	if len(line) < 1+idDigits+1 {
		return can.Frame{}, fmt.Errorf("%w: short line", ErrMalformed)
	}
	idVal, err := parseHex(line[1 : 1+idDigits])
	if err != nil {
		return can.Frame{}, err
	}
	var id can.ID
	if extended {
		id, err = can.ExtendedID(idVal)
	} else {
		id, err = can.BaseID(idVal)
	}
	if err != nil {
		return can.Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	dlcVal, err := parseHex(line[1+idDigits : 1+idDigits+1])
	if err != nil {
		return can.Frame{}, err
	}
	if dlcVal > 8 {
		return can.Frame{}, fmt.Errorf("%w: dlc %d", ErrMalformed, dlcVal)
	}
	if remote {
		if len(line) != 1+idDigits+1 {
			return can.Frame{}, fmt.Errorf("%w: remote frame with payload", ErrMalformed)
		}
		return can.NewRemoteFrame(id), nil
	}
	hex := line[1+idDigits+1:]
	if len(hex) != 2*int(dlcVal) {
		return can.Frame{}, fmt.Errorf("%w: payload digits %d for dlc %d", ErrMalformed, len(hex), dlcVal)
	}
	f := can.Frame{ID: id, Len: uint8(dlcVal)}
	for i := 0; i < int(dlcVal); i++ {
		b, err := parseHex(hex[2*i : 2*i+2])
		if err != nil {
			return can.Frame{}, err
		}
		f.Data[i] = byte(b)
	}
	return f, nil
}

func parseHex(p []byte) (uint32, error) {
	var v uint32
	for _, c := range p {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= uint32(c - '0')
		case c >= 'A' && c <= 'F':
			v |= uint32(c-'A') + 10
		case c >= 'a' && c <= 'f':
			v |= uint32(c-'a') + 10
		default:
			return 0, fmt.Errorf("%w: hex digit %q", ErrMalformed, c)
		}
	}
	return v, nil
}
