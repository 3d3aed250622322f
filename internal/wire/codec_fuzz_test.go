package wire

import (
	"bytes"
	"testing"

	"github.com/s32kdev/go-flexcan/internal/can"
)

// FuzzCodecRoundTrip ensures arbitrary small frame sets survive encode/decode.
func FuzzCodecRoundTrip(f *testing.F) {
	c := Codec{}
	seed := [][]can.Frame{
		{mkFrame(0x100, 0)},
		{mkFrame(0x200, 8)},
		{mkFrame(0x300, 3), mkFrame(0x301, 5)},
	}
	for _, s := range seed {
		f.Add(c.Encode(s))
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		r := bytes.NewReader(data)
		_, _ = c.DecodeN(r, 16, func(can.Frame) {})
	})
}

// FuzzCodecDecodeInvalid ensures the decoder doesn't panic on random input.
func FuzzCodecDecodeInvalid(f *testing.F) {
	c := Codec{}
	f.Add([]byte{0, 0, 0, 1, 0})
	f.Add([]byte{0x40, 0, 0, 1, 2, 0xAA, 0xBB})
	f.Fuzz(func(t *testing.T, data []byte) {
		r := bytes.NewReader(data)
		_, _ = c.Decode(r)
	})
}
