package link

import (
	"github.com/pkg/errors"
)

const (
	flagByte   = 0x7E
	escapeByte = 0x7D
	escapeXor  = 0x20
)

// Frame wraps a packet for a byte stream: CRC16 appended little-endian,
// 0x7E/0x7D byte-stuffed, and 0x7E flags at both ends.
func Frame(packet []byte) []byte {
	crc := crc16(packet)

	withCRC := make([]byte, 0, len(packet)+2)
	withCRC = append(withCRC, packet...)
	withCRC = append(withCRC, byte(crc&0xFF), byte((crc>>8)&0xFF))

	out := make([]byte, 0, 2+len(withCRC)*2)
	out = append(out, flagByte)
	for _, b := range withCRC {
		if b == flagByte || b == escapeByte {
			out = append(out, escapeByte, b^escapeXor)
			continue
		}
		out = append(out, b)
	}
	out = append(out, flagByte)
	return out
}

// Unframe reverses Frame. It returns the packet, whether its CRC matched,
// and an error for malformed frames.
func Unframe(frame []byte) (packet []byte, crcOK bool, err error) {
	if len(frame) < 4 {
		return nil, false, errors.Errorf("link: frame too short: %d", len(frame))
	}
	if frame[0] != flagByte || frame[len(frame)-1] != flagByte {
		return nil, false, errors.New("link: missing start/end flags")
	}

	raw := make([]byte, 0, len(frame))
	for i := 1; i < len(frame)-1; i++ {
		b := frame[i]
		if b == escapeByte {
			i++
			if i >= len(frame)-1 {
				return nil, false, errors.New("link: truncated escape at end of frame")
			}
			raw = append(raw, frame[i]^escapeXor)
			continue
		}
		raw = append(raw, b)
	}
	if len(raw) < 3 {
		return nil, false, errors.Errorf("link: unescaped payload too short: %d", len(raw))
	}

	packet = raw[:len(raw)-2]
	got := uint16(raw[len(raw)-2]) | uint16(raw[len(raw)-1])<<8
	return packet, got == crc16(packet), nil
}

// Deframer splits a byte stream into flag-delimited frames.
type Deframer struct {
	buf     []byte
	inFrame bool
}

// Feed consumes stream bytes and returns every complete frame, flags
// included. Back-to-back flags are treated as an end followed by a start.
func (d *Deframer) Feed(p []byte) [][]byte {
	var out [][]byte
	for _, b := range p {
		if b != flagByte {
			if d.inFrame {
				d.buf = append(d.buf, b)
			}
			continue
		}
		if !d.inFrame || len(d.buf) == 1 {
			d.buf = append(d.buf[:0], flagByte)
			d.inFrame = true
			continue
		}
		d.buf = append(d.buf, flagByte)
		out = append(out, append([]byte(nil), d.buf...))
		d.buf = d.buf[:0]
		d.inFrame = false
	}
	return out
}

func crc16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = crc16Table[crc>>8] ^ (crc << 8) ^ uint16(b)
	}
	return crc
}

var crc16Table = func() [256]uint16 {
	var table [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}()
