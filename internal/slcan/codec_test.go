package slcan

import (
	"bytes"
	"testing"

	"github.com/s32kdev/go-flexcan/internal/can"
)

func f(id can.ID, data ...byte) can.Frame {
	fr := can.Frame{ID: id, Len: uint8(len(data))}
	copy(fr.Data[:], data)
	return fr
}

func TestCodec_EncodeVectors(t *testing.T) {
	tests := []struct {
		frame can.Frame
		want  string
	}{
		{f(can.MustBaseID(0x123), 0xAA, 0xBB), "t1232AABB\r"},
		{f(can.MustBaseID(0x7FF)), "t7FF0\r"},
		{f(can.MustExtendedID(0x1ABCDEF0), 0x01), "T1ABCDEF0101\r"},
		{can.NewRemoteFrame(can.MustBaseID(0x456)), "r4560\r"},
		{can.NewRemoteFrame(can.MustExtendedID(0xABCDE)), "R000ABCDE0\r"},
	}
	for _, tc := range tests {
		if got := string(Codec{}.Encode(tc.frame)); got != tc.want {
			t.Fatalf("encode %v: got %q want %q", tc.frame, got, tc.want)
		}
	}
}

func TestCodec_RoundTrip_Chunked(t *testing.T) {
	codec := Codec{}

	want := []can.Frame{
		f(can.MustBaseID(0x5A), 0x34, 0x7B, 0x70, 0xD7, 0x94, 0x10, 0x0D, 0xF7),
		f(can.MustExtendedID(0x1F55), 0xA1, 0xB2, 0xC3, 0xD4, 0xE5, 0xF6),
		f(can.MustExtendedID(0x123456), 0x9A, 0xBC),
		can.NewRemoteFrame(can.MustBaseID(0x100)),
		f(can.MustBaseID(0x2DE), 0xDE, 0xAD, 0xBE),
	}

	stream := make([]byte, 0, 256)
	for _, fr := range want {
		stream = append(stream, codec.Encode(fr)...)
	}

	var buf bytes.Buffer
	got := make([]can.Frame, 0, len(want))

	// Feed in irregular small chunks to stress partial line buffering.
	chunkSizes := []int{1, 2, 3, 4, 5, 7, 11}
	cs := 0
	for pos := 0; pos < len(stream); {
		n := chunkSizes[cs%len(chunkSizes)]
		cs++
		if pos+n > len(stream) {
			n = len(stream) - pos
		}
		buf.Write(stream[pos : pos+n])
		pos += n

		if err := codec.DecodeStream(&buf, func(fr can.Frame) { got = append(got, fr) }); err != nil {
			t.Fatalf("DecodeStream error: %v", err)
		}
	}

	if len(got) != len(want) {
		t.Fatalf("decoded %d frames, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Remote != want[i].Remote || got[i].Len != want[i].Len ||
			string(got[i].Data[:got[i].Len]) != string(want[i].Data[:want[i].Len]) {
			t.Fatalf("frame %d mismatch:\n got  %v\n want %v", i, got[i], want[i])
		}
	}
}

func TestCodec_MalformedLinesSkipped(t *testing.T) {
	codec := Codec{}
	good := f(can.MustBaseID(0x321), 0x42)

	var buf bytes.Buffer
	buf.WriteString("\r")            // bare CR padding
	buf.WriteString("v1013\r")       // version response
	buf.WriteString("t12\r")         // short line
	buf.WriteString("t123ZAABB\r")   // bad dlc digit
	buf.WriteString("t1232AA\r")     // payload shorter than dlc
	buf.WriteString("t8001FF\r")     // base id out of range
	buf.Write(codec.Encode(good))    // the one valid frame
	buf.WriteString("T12345")        // partial line stays buffered

	var got []can.Frame
	if err := codec.DecodeStream(&buf, func(fr can.Frame) { got = append(got, fr) }); err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("decoded %d frames, want 1", len(got))
	}
	if got[0].ID != good.ID || got[0].Data[0] != 0x42 {
		t.Fatalf("frame mismatch: %v", got[0])
	}
	if buf.String() != "T12345" {
		t.Fatalf("partial line consumed: %q", buf.String())
	}
}

func TestCodec_RemoteWithPayloadRejected(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("r1232AABB\r")
	var got []can.Frame
	if err := (Codec{}).DecodeStream(&buf, func(fr can.Frame) { got = append(got, fr) }); err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("remote frame with payload must be skipped, got %v", got)
	}
}
