package link

import (
	"bytes"
	"testing"
)

func TestFrame_StartEndFlags(t *testing.T) {
	got := Frame([]byte{0x30, 0x01})
	if got[0] != flagByte {
		t.Fatalf("missing start flag: 0x%02x", got[0])
	}
	if got[len(got)-1] != flagByte {
		t.Fatalf("missing end flag: 0x%02x", got[len(got)-1])
	}
}

func TestFrame_EscapesControlBytes(t *testing.T) {
	got := Frame([]byte{0x00, flagByte, escapeByte})
	for i := 1; i < len(got)-1; i++ {
		if got[i] == flagByte {
			t.Fatalf("unescaped flag byte found at %d", i)
		}
	}
}

func TestUnframe_RoundTrip(t *testing.T) {
	in := []byte{0x52, flagByte, 0x01, escapeByte, 0xFF, 0x00}
	pkt, ok, err := Unframe(Frame(in))
	if err != nil {
		t.Fatalf("Unframe() error: %v", err)
	}
	if !ok {
		t.Fatalf("crc mismatch")
	}
	if !bytes.Equal(pkt, in) {
		t.Fatalf("packet=% x want % x", pkt, in)
	}
}

func TestUnframe_DetectsCorruption(t *testing.T) {
	fr := Frame([]byte{0x30, 0x10, 0x20, 0x40})
	fr[2] ^= 0x01
	_, ok, err := Unframe(fr)
	if err != nil {
		t.Fatalf("Unframe() error: %v", err)
	}
	if ok {
		t.Fatalf("expected crc mismatch")
	}
}

func TestUnframe_Malformed(t *testing.T) {
	cases := [][]byte{
		{flagByte, 0x01, flagByte},
		{0x00, 0x01, 0x02, 0x03, flagByte},
		{flagByte, 0x01, 0x02, escapeByte, flagByte},
	}
	for i, c := range cases {
		if _, _, err := Unframe(c); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestDeframer_SplitsStream(t *testing.T) {
	a := Frame([]byte{0x01, 0x02})
	b := Frame([]byte{flagByte, 0x03})

	var stream []byte
	stream = append(stream, 0x99, 0x98) // noise before first flag
	stream = append(stream, a...)
	stream = append(stream, b...)

	var d Deframer
	// Feed in awkward chunks.
	var got [][]byte
	for i := 0; i < len(stream); i += 3 {
		end := i + 3
		if end > len(stream) {
			end = len(stream)
		}
		got = append(got, d.Feed(stream[i:end])...)
	}
	if len(got) != 2 {
		t.Fatalf("frames=%d want 2", len(got))
	}
	if !bytes.Equal(got[0], a) || !bytes.Equal(got[1], b) {
		t.Fatalf("frames=% x want % x, % x", got, a, b)
	}
}
