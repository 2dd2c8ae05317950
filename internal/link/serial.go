package link

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

type serialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

var openSerial = func(name string, baud int) (serialPort, error) {
	return serial.Open(name, &serial.Mode{BaudRate: baud})
}

// Serial carries framed CRTP packets over a UART radio bridge.
type Serial struct {
	name string
	port serialPort
	de   Deframer
	buf  []byte

	pending [][]byte
	// Corrupt counts frames dropped for a bad CRC or bad framing.
	Corrupt uint64
}

func OpenSerial(name string, baud int) (*Serial, error) {
	if baud <= 0 {
		baud = 115200
	}
	p, err := openSerial(name, baud)
	if err != nil {
		return nil, errors.Wrapf(err, "link: open serial %s", name)
	}
	return &Serial{name: name, port: p, buf: make([]byte, 256)}, nil
}

func (s *Serial) WritePacket(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	_, err := s.port.Write(Frame(p))
	return err
}

// ReadPacket returns the next valid packet, or (nil, nil) when none arrived
// within timeout.
func (s *Serial) ReadPacket(timeout time.Duration) ([]byte, error) {
	if p, ok := s.next(); ok {
		return p, nil
	}
	if err := s.port.SetReadTimeout(timeout); err != nil {
		return nil, err
	}
	n, err := s.port.Read(s.buf)
	if err != nil {
		return nil, err
	}
	for _, fr := range s.de.Feed(s.buf[:n]) {
		pkt, ok, err := Unframe(fr)
		if err != nil || !ok {
			s.Corrupt++
			continue
		}
		s.pending = append(s.pending, pkt)
	}
	p, _ := s.next()
	return p, nil
}

func (s *Serial) next() ([]byte, bool) {
	if len(s.pending) == 0 {
		return nil, false
	}
	p := s.pending[0]
	s.pending = s.pending[1:]
	return p, true
}

func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}

func (s *Serial) String() string { return "serial:" + s.name }
