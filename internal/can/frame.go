// Package can holds the identifier and frame value types shared by the
// FlexCAN driver and the bridge transports.
package can

import (
	"errors"
	"fmt"
)

// Identifier limits.
const (
	MaxBaseID     = 0x7FF      // 11-bit
	MaxExtendedID = 0x1FFFFFFF // 29-bit
)

var (
	ErrInvalidID     = errors.New("can: invalid identifier")
	ErrInvalidLength = errors.New("can: invalid payload length")
)

// ID is a CAN identifier, either base (11-bit) or extended (29-bit).
// Construct through BaseID/ExtendedID; the zero value is base 0.
type ID struct {
	value    uint32
	extended bool
}

// BaseID returns an 11-bit identifier.
func BaseID(v uint32) (ID, error) {
	if v > MaxBaseID {
		return ID{}, fmt.Errorf("%w: base 0x%X > 0x%X", ErrInvalidID, v, uint32(MaxBaseID))
	}
	return ID{value: v}, nil
}

// ExtendedID returns a 29-bit identifier.
func ExtendedID(v uint32) (ID, error) {
	if v > MaxExtendedID {
		return ID{}, fmt.Errorf("%w: extended 0x%X > 0x%X", ErrInvalidID, v, uint32(MaxExtendedID))
	}
	return ID{value: v, extended: true}, nil
}

// MustBaseID is BaseID for constants; panics on out-of-range values.
func MustBaseID(v uint32) ID {
	id, err := BaseID(v)
	if err != nil {
		panic(err)
	}
	return id
}

// MustExtendedID is ExtendedID for constants; panics on out-of-range values.
func MustExtendedID(v uint32) ID {
	id, err := ExtendedID(v)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ID) Value() uint32  { return id.value }
func (id ID) Extended() bool { return id.extended }

func (id ID) String() string {
	if id.extended {
		return fmt.Sprintf("ext:0x%08X", id.value)
	}
	return fmt.Sprintf("base:0x%03X", id.value)
}

// Frame is one classic CAN frame: a data frame carrying 0..8 payload bytes or
// a remote request frame carrying none. The driver never retains a Frame
// beyond the call it was passed to.
type Frame struct {
	ID     ID
	Remote bool
	Len    uint8
	Data   [8]byte
}

// NewDataFrame builds a data frame from id and payload (0..8 bytes).
func NewDataFrame(id ID, payload []byte) (Frame, error) {
	if len(payload) > 8 {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(payload))
	}
	f := Frame{ID: id, Len: uint8(len(payload))}
	copy(f.Data[:], payload)
	return f, nil
}

// NewRemoteFrame builds a remote (request) frame.
func NewRemoteFrame(id ID) Frame {
	return Frame{ID: id, Remote: true}
}

// Validate checks the frame invariants (length bound, id range).
func (f Frame) Validate() error {
	if f.Len > 8 {
		return fmt.Errorf("%w: %d", ErrInvalidLength, f.Len)
	}
	if f.Remote && f.Len != 0 {
		return fmt.Errorf("%w: remote frame with payload", ErrInvalidLength)
	}
	max := uint32(MaxBaseID)
	if f.ID.extended {
		max = MaxExtendedID
	}
	if f.ID.value > max {
		return fmt.Errorf("%w: %s", ErrInvalidID, f.ID)
	}
	return nil
}

// Payload returns the valid payload bytes (aliased, not copied).
func (f *Frame) Payload() []byte { return f.Data[:f.Len] }

func (f Frame) String() string {
	if f.Remote {
		return fmt.Sprintf("remote %s", f.ID)
	}
	return fmt.Sprintf("data %s % X", f.ID, f.Data[:f.Len])
}
