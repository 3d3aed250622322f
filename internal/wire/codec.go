// Package wire is the TCP stream framing the bridge speaks with its
// clients: 4-byte big-endian identifier word (SocketCAN-style flag bits),
// one length byte, then the payload.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/s32kdev/go-flexcan/internal/can"
	"github.com/s32kdev/go-flexcan/internal/metrics"
)

// Identifier word flag bits, matching <linux/can.h> so captures stay
// readable with common tooling.
const (
	flagExtended = 0x80000000
	flagRemote   = 0x40000000
	maskExtended = 0x1FFFFFFF
	maskBase     = 0x7FF
)

// Codec encodes/decodes the stream framing. Stateless and safe for
// concurrent use.
type Codec struct{}

// ErrInvalidLength is returned when a frame length is outside 0..8 or a
// remote frame carries payload bytes.
var ErrInvalidLength = errors.New("wire: invalid length")

// ErrTruncatedFrame is returned when the underlying reader ends mid-frame.
var ErrTruncatedFrame = errors.New("wire: truncated frame")

// PackID folds a typed identifier into the flagged wire word.
func PackID(f can.Frame) uint32 {
	id := f.ID.Value()
	if f.ID.Extended() {
		id = id&maskExtended | flagExtended
	} else {
		id &= maskBase
	}
	if f.Remote {
		id |= flagRemote
	}
	return id
}

// UnpackID recovers the typed identifier and remote flag from a wire word.
func UnpackID(w uint32) (can.ID, bool) {
	remote := w&flagRemote != 0
	if w&flagExtended != 0 {
		return can.MustExtendedID(w & maskExtended), remote
	}
	return can.MustBaseID(w & maskBase), remote
}

// Encode packs frames into a single buffer.
func (c *Codec) Encode(frames []can.Frame) []byte {
	if len(frames) == 0 {
		return nil
	}
	var buf bytes.Buffer
	// Worst case per frame = 4(id)+1(len)+8(data)
	buf.Grow(len(frames) * (4 + 1 + 8))
	_, _ = c.EncodeTo(&buf, frames)
	return buf.Bytes()
}

// EncodeTo writes the wire representation of frames to w and returns bytes
// written.
func (c *Codec) EncodeTo(w io.Writer, frames []can.Frame) (int, error) {
	var total int
	for _, f := range frames {
		var id [4]byte
		binary.BigEndian.PutUint32(id[:], PackID(f))
		n, err := w.Write(id[:])
		total += n
		if err != nil {
			return total, fmt.Errorf("wire encode id: %w", err)
		}
		if _, err := w.Write([]byte{f.Len}); err != nil {
			total++ // conservative increment
			return total, fmt.Errorf("wire encode len: %w", err)
		}
		if f.Len > 0 {
			n, err = w.Write(f.Data[:f.Len])
			total += n
			if err != nil {
				return total, fmt.Errorf("wire encode data: %w", err)
			}
		}
	}
	return total, nil
}

// Decode reads exactly one frame from r. It returns io.EOF if called at a
// clean frame boundary with no more data available.
func (c *Codec) Decode(r io.Reader) (can.Frame, error) {
	var f can.Frame
	var idb [4]byte
	if _, err := io.ReadFull(r, idb[:]); err != nil {
		return f, err
	}
	id, remote := UnpackID(binary.BigEndian.Uint32(idb[:]))
	var lb [1]byte
	n, err := r.Read(lb[:])
	if err != nil {
		return f, err
	}
	if n == 0 {
		return f, io.EOF
	}
	ln := int(lb[0] & 0x7F) // high bit reserved
	if ln > 8 || (remote && ln != 0) {
		metrics.IncMalformed()
		return f, fmt.Errorf("wire decode: %w (%d)", ErrInvalidLength, ln)
	}
	f.ID = id
	f.Remote = remote
	f.Len = uint8(ln)
	if ln > 0 {
		if _, err := io.ReadFull(r, f.Data[:ln]); err != nil {
			metrics.IncMalformed()
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return f, fmt.Errorf("wire decode payload: %w", ErrTruncatedFrame)
			}
			return f, fmt.Errorf("wire decode payload: %w", err)
		}
	}
	return f, nil
}

// DecodeN decodes up to max frames (or until EOF if max<=0), invoking
// onFrame for each. The terminal error can be io.EOF.
func (c *Codec) DecodeN(r io.Reader, max int, onFrame func(can.Frame)) (int, error) {
	var n int
	for max <= 0 || n < max {
		fr, err := c.Decode(r)
		if err != nil {
			return n, err
		}
		onFrame(fr)
		n++
	}
	return n, nil
}
