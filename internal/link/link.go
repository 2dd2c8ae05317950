// Package link talks to the vehicle over a radio bridge: it encodes command
// frames as CRTP setpoint packets and keeps the most recent telemetry sample
// decoded from the packets coming back.
package link

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"hoverhold/internal/vehicle"
)

// Transport moves whole CRTP packets.
type Transport interface {
	WritePacket(p []byte) error
	// ReadPacket returns (nil, nil) when nothing arrived within timeout.
	ReadPacket(timeout time.Duration) ([]byte, error)
	Close() error
}

// Direction of a tapped packet.
const (
	Tx = "tx"
	Rx = "rx"
)

// Tap observes every packet crossing the link.
type Tap func(dir string, at time.Time, packet []byte)

// Link is a vehicle.TelemetrySource and vehicle.CommandSink.
type Link struct {
	t   Transport
	clk clock.Clock
	log *zap.SugaredLogger
	tap Tap

	mu     sync.RWMutex
	latest vehicle.Telemetry
	err    error

	rx      atomic.Uint64
	tx      atomic.Uint64
	dropped atomic.Uint64

	wg   sync.WaitGroup
	done chan struct{}
}

func New(t Transport, clk clock.Clock, log *zap.SugaredLogger, tap Tap) *Link {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Link{t: t, clk: clk, log: log, tap: tap, done: make(chan struct{})}
}

// Start launches the receive loop. It stops when ctx is done or the
// transport fails; Done is closed in either case.
func (l *Link) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(l.done)
		l.receive(ctx)
	}()
}

// Done is closed when the receive loop has exited.
func (l *Link) Done() <-chan struct{} { return l.done }

// Err reports the transport error that stopped the receive loop, if any.
func (l *Link) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

func (l *Link) receive(ctx context.Context) {
	for ctx.Err() == nil {
		p, err := l.t.ReadPacket(100 * time.Millisecond)
		if err != nil {
			if ctx.Err() == nil {
				l.log.Errorw("link receive failed", "error", err)
				l.mu.Lock()
				l.err = errors.Wrap(err, "link: read telemetry")
				l.mu.Unlock()
			}
			return
		}
		if p == nil {
			continue
		}
		l.Handle(p)
	}
}

// Handle decodes one received packet. Packets that are not telemetry are
// counted and dropped.
func (l *Link) Handle(p []byte) {
	now := l.clk.Now()
	if l.tap != nil {
		l.tap(Rx, now, p)
	}
	t, err := DecodeTelemetry(p, now)
	if err != nil {
		l.dropped.Add(1)
		l.log.Debugw("dropped packet", "error", err, "len", len(p))
		return
	}
	l.rx.Add(1)
	l.mu.Lock()
	l.latest = t
	l.mu.Unlock()
}

// Latest returns the most recent telemetry. Before the first packet every
// field is zero.
func (l *Link) Latest() vehicle.Telemetry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest
}

// Send writes one setpoint packet synchronously. Once the receive loop has
// failed every Send returns its error.
func (l *Link) Send(_ context.Context, f vehicle.Frame) error {
	if err := l.Err(); err != nil {
		return err
	}
	p := EncodeSetpoint(f)
	if err := l.t.WritePacket(p); err != nil {
		return errors.Wrap(err, "link: write setpoint")
	}
	l.tx.Add(1)
	if l.tap != nil {
		l.tap(Tx, l.clk.Now(), p)
	}
	return nil
}

// Stats are packet counters since New.
type Stats struct {
	Rx      uint64 `json:"rx"`
	Tx      uint64 `json:"tx"`
	Dropped uint64 `json:"dropped"`
}

func (l *Link) Stats() Stats {
	return Stats{Rx: l.rx.Load(), Tx: l.tx.Load(), Dropped: l.dropped.Load()}
}

// Close closes the transport and waits for the receive loop.
func (l *Link) Close() error {
	err := l.t.Close()
	l.wg.Wait()
	return err
}
