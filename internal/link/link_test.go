package link

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"hoverhold/internal/vehicle"
)

type fakeConn struct {
	mu        sync.Mutex
	writes    [][]byte
	writeErr  error
	reads     chan []byte
	closed    bool
	writeHits int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeHits++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func (c *fakeConn) Read(p []byte) (int, error) {
	select {
	case b, ok := <-c.reads:
		if !ok {
			return 0, net.ErrClosed
		}
		return copy(p, b), nil
	case <-time.After(5 * time.Millisecond):
		return 0, timeoutErr{}
	}
}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.reads)
	}
	return nil
}

func newFakeUDP(t *testing.T) (*UDP, *fakeConn) {
	t.Helper()
	fc := &fakeConn{reads: make(chan []byte, 8)}
	u, err := dialUDP("127.0.0.1:2390", net.ResolveUDPAddr, func(string, *net.UDPAddr, *net.UDPAddr) (udpConn, error) {
		return fc, nil
	})
	if err != nil {
		t.Fatalf("dialUDP() error: %v", err)
	}
	return u, fc
}

func TestDialUDP_ResolveFailure(t *testing.T) {
	resolveErr := errors.New("nope")
	_, err := dialUDP("bad:addr", func(string, string) (*net.UDPAddr, error) {
		return nil, resolveErr
	}, nil)
	if !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
}

func TestUDP_ReadTimeoutIsNotAnError(t *testing.T) {
	u, _ := newFakeUDP(t)
	p, err := u.ReadPacket(time.Millisecond)
	if err != nil || p != nil {
		t.Fatalf("ReadPacket()=(%v, %v) want (nil, nil)", p, err)
	}
}

func TestLink_SendWritesSetpoint(t *testing.T) {
	u, fc := newFakeUDP(t)
	var taps []string
	l := New(u, clock.NewMock(), nil, func(dir string, _ time.Time, _ []byte) { taps = append(taps, dir) })

	f := vehicle.Frame{Roll: 1, Thrust: 30000}
	if err := l.Send(context.Background(), f); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if len(fc.writes) != 1 {
		t.Fatalf("writes=%d want 1", len(fc.writes))
	}
	got, err := DecodeSetpoint(fc.writes[0])
	if err != nil || got != f {
		t.Fatalf("decoded=%+v err=%v want %+v", got, err, f)
	}
	if len(taps) != 1 || taps[0] != Tx {
		t.Fatalf("taps=%v want [tx]", taps)
	}
}

func TestLink_SendPropagatesError(t *testing.T) {
	u, fc := newFakeUDP(t)
	wantErr := errors.New("boom")
	fc.writeErr = wantErr
	l := New(u, nil, nil, nil)

	err := l.Send(context.Background(), vehicle.Frame{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
}

func TestLink_ReceiveKeepsLatest(t *testing.T) {
	u, fc := newFakeUDP(t)
	l := New(u, clock.NewMock(), nil, nil)

	if got := l.Latest(); got != (vehicle.Telemetry{}) {
		t.Fatalf("latest before rx=%+v want zero", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)

	fc.reads <- EncodeTelemetry(1, 0, vehicle.Telemetry{Pressure: 1000, MagX: 1})
	fc.reads <- []byte{0x30, 0x01} // not telemetry
	fc.reads <- EncodeTelemetry(1, 0, vehicle.Telemetry{Pressure: 1001, MagX: 2})

	deadline := time.Now().Add(2 * time.Second)
	for l.Stats().Rx < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out, stats=%+v", l.Stats())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	if got := l.Latest(); got.Pressure != 1001 || got.MagX != 2 {
		t.Fatalf("latest=%+v", got)
	}
	if st := l.Stats(); st.Dropped != 1 {
		t.Fatalf("dropped=%d want 1", st.Dropped)
	}
}

type failingTransport struct {
	readErr error
	writes  atomic.Int32
}

func (f *failingTransport) WritePacket([]byte) error {
	f.writes.Add(1)
	return nil
}

func (f *failingTransport) ReadPacket(time.Duration) ([]byte, error) {
	return nil, f.readErr
}

func (f *failingTransport) Close() error { return nil }

func TestLink_ReceiveFailureIsReported(t *testing.T) {
	readErr := errors.New("device unplugged")
	ft := &failingTransport{readErr: readErr}
	l := New(ft, clock.NewMock(), nil, nil)

	if err := l.Err(); err != nil {
		t.Fatalf("Err() before start=%v want nil", err)
	}
	l.Start(context.Background())

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("receive loop did not stop")
	}
	if err := l.Err(); !errors.Is(err, readErr) {
		t.Fatalf("Err()=%v want %v", err, readErr)
	}
	if err := l.Send(context.Background(), vehicle.Frame{Thrust: 1}); !errors.Is(err, readErr) {
		t.Fatalf("Send() after failure=%v want %v", err, readErr)
	}
	if n := ft.writes.Load(); n != 0 {
		t.Fatalf("writes=%d want 0", n)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestLink_CancelIsNotAFailure(t *testing.T) {
	u, _ := newFakeUDP(t)
	l := New(u, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	l.Start(ctx)
	cancel()

	select {
	case <-l.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("receive loop did not stop")
	}
	if err := l.Err(); err != nil {
		t.Fatalf("Err()=%v want nil", err)
	}
	_ = l.Close()
}

type fakeSerial struct {
	in      []byte
	written []byte
}

func (f *fakeSerial) Read(p []byte) (int, error) {
	n := copy(p, f.in)
	f.in = f.in[n:]
	return n, nil
}

func (f *fakeSerial) Write(p []byte) (int, error) {
	f.written = append(f.written, p...)
	return len(p), nil
}

func (f *fakeSerial) Close() error                       { return nil }
func (f *fakeSerial) SetReadTimeout(time.Duration) error { return nil }

func TestSerial_FramesAndDropsCorrupt(t *testing.T) {
	fs := &fakeSerial{}
	prev := openSerial
	openSerial = func(string, int) (serialPort, error) { return fs, nil }
	t.Cleanup(func() { openSerial = prev })

	s, err := OpenSerial("/dev/ttyUSB0", 0)
	if err != nil {
		t.Fatalf("OpenSerial() error: %v", err)
	}

	if err := s.WritePacket([]byte{0x30, 0x7E}); err != nil {
		t.Fatalf("WritePacket() error: %v", err)
	}
	pkt, ok, err := Unframe(fs.written)
	if err != nil || !ok || len(pkt) != 2 || pkt[1] != 0x7E {
		t.Fatalf("written frame=% x", fs.written)
	}

	good := EncodeTelemetry(1, 0, vehicle.Telemetry{Pressure: 990})
	bad := Frame([]byte{0x52, 0x01, 0x02})
	bad[2] ^= 0xFF
	fs.in = append(append(append([]byte(nil), bad...), Frame(good)...), Frame(good)...)

	p, err := s.ReadPacket(time.Millisecond)
	if err != nil || p == nil {
		t.Fatalf("ReadPacket()=(%v, %v)", p, err)
	}
	if s.Corrupt != 1 {
		t.Fatalf("corrupt=%d want 1", s.Corrupt)
	}
	// Second packet was buffered from the same read.
	p, err = s.ReadPacket(time.Millisecond)
	if err != nil || p == nil {
		t.Fatalf("second ReadPacket()=(%v, %v)", p, err)
	}
	p, err = s.ReadPacket(time.Millisecond)
	if err != nil || p != nil {
		t.Fatalf("third ReadPacket()=(%v, %v) want nothing", p, err)
	}
}
