package can

import (
	"errors"
	"strings"
	"testing"
)

func TestIDConstructors(t *testing.T) {
	id, err := BaseID(0x7FF)
	if err != nil {
		t.Fatalf("BaseID(0x7FF): %v", err)
	}
	if id.Value() != 0x7FF || id.Extended() {
		t.Fatalf("unexpected id %v", id)
	}
	if _, err := BaseID(0x800); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("BaseID(0x800) err = %v", err)
	}

	ext, err := ExtendedID(0x1FFFFFFF)
	if err != nil {
		t.Fatalf("ExtendedID(max): %v", err)
	}
	if ext.Value() != 0x1FFFFFFF || !ext.Extended() {
		t.Fatalf("unexpected id %v", ext)
	}
	if _, err := ExtendedID(0x20000000); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("ExtendedID(over) err = %v", err)
	}
}

func TestMustConstructorsPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("MustBaseID(0x800) did not panic")
		}
	}()
	MustBaseID(0x800)
}

func TestMustExtendedPanic(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("MustExtendedID(0x20000000) did not panic")
		}
	}()
	MustExtendedID(0x20000000)
}

func TestNewDataFrame(t *testing.T) {
	fr, err := NewDataFrame(MustBaseID(0x123), []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("NewDataFrame: %v", err)
	}
	if fr.Len != 3 || fr.Data[0] != 1 || fr.Remote {
		t.Fatalf("unexpected frame %v", fr)
	}
	if _, err := NewDataFrame(MustBaseID(1), make([]byte, 9)); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("oversize payload err = %v", err)
	}
	empty, err := NewDataFrame(MustExtendedID(0x1ABCDEF0), nil)
	if err != nil || empty.Len != 0 {
		t.Fatalf("empty payload: %v %v", empty, err)
	}
}

func TestNewRemoteFrame(t *testing.T) {
	fr := NewRemoteFrame(MustBaseID(0x456))
	if !fr.Remote || fr.Len != 0 {
		t.Fatalf("unexpected remote frame %v", fr)
	}
	if err := fr.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  error
	}{
		{"ok", Frame{ID: MustBaseID(1), Len: 8}, nil},
		{"len too big", Frame{ID: MustBaseID(1), Len: 9}, ErrInvalidLength},
		{"remote with payload", Frame{ID: MustBaseID(1), Remote: true, Len: 1}, ErrInvalidLength},
		{"zero value", Frame{}, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.frame.Validate()
			if tc.want == nil && err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("Validate = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestPayloadAliases(t *testing.T) {
	fr, _ := NewDataFrame(MustBaseID(1), []byte{0xAA, 0xBB})
	p := fr.Payload()
	if len(p) != 2 {
		t.Fatalf("payload len %d", len(p))
	}
	p[0] = 0xCC
	if fr.Data[0] != 0xCC {
		t.Fatalf("Payload must alias the frame data")
	}
}

func TestString(t *testing.T) {
	fr, _ := NewDataFrame(MustExtendedID(0x1ABCDEF0), []byte{0x01})
	if s := fr.String(); !strings.Contains(s, "ext:0x1ABCDEF0") {
		t.Fatalf("String() = %q", s)
	}
	rm := NewRemoteFrame(MustBaseID(0x123))
	if s := rm.String(); !strings.Contains(s, "remote") || !strings.Contains(s, "base:0x123") {
		t.Fatalf("String() = %q", s)
	}
}
