package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"hoverhold/internal/config"
	"hoverhold/internal/link"
	"hoverhold/internal/replay"
	"hoverhold/internal/station"
)

func simConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Link.Transport = config.TransportSim
	cfg.Vision.Source = config.VisionSim
	cfg.Record.Enable = true
	cfg.Record.Path = filepath.Join(t.TempDir(), "session.log")
	return cfg
}

func TestRuntime_SimRecordsEveryTick(t *testing.T) {
	cfg := simConfig(t)
	clk := clock.NewMock()
	rt, err := newRuntime(cfg, runOptions{Auto: true}, clk, zaptest.NewLogger(t).Sugar(), nil)
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		clk.Add(cfg.Loop.Period)
		if err := rt.station.Step(ctx); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}

	st := rt.station.Status()
	if st.Mode != "auto" || st.Tick.Seq != 5 {
		t.Fatalf("status mode=%s seq=%d", st.Mode, st.Tick.Seq)
	}
	if !st.Tick.Observation.Found {
		t.Fatalf("simulated camera lost the target: %+v", st.Tick.Observation)
	}
	snap := rt.status.Snapshot(time.Time{}, st)
	if _, ok := snap.Sources["sim"]; !ok {
		t.Fatalf("sources=%v want sim", snap.Sources)
	}
	if snap.Transport != config.TransportSim {
		t.Fatalf("transport=%q", snap.Transport)
	}

	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	records, err := replay.Open(cfg.Record.Path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	segs := replay.Segments(records)
	if len(segs) != 1 || segs[0].Tx != 5 || segs[0].Rx != 5 {
		t.Fatalf("segments=%+v", segs)
	}
}

func TestRuntime_ApplyConfigTunesChangedLoops(t *testing.T) {
	cfg := simConfig(t)
	cfg.Record.Enable = false
	lvl := zap.NewAtomicLevelAt(zap.InfoLevel)
	rt, err := newRuntime(cfg, runOptions{Level: &lvl}, clock.NewMock(), nil, nil)
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	next := config.Default()
	g := next.Gains[station.LoopHeading]
	g.Kp = 42
	next.Gains[station.LoopHeading] = g
	next.Log.Level = "debug"
	rt.applyConfig(next)

	if err := rt.station.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if got := rt.station.Gains()[station.LoopHeading].Kp; got != 42 {
		t.Fatalf("heading kp=%v want 42", got)
	}
	if got := rt.station.Gains()[station.LoopAltitude]; got != station.DefaultGains()[station.LoopAltitude] {
		t.Fatalf("altitude gains changed: %+v", got)
	}
	if lvl.Level() != zap.DebugLevel {
		t.Fatalf("level=%s want debug", lvl.Level())
	}
}

func TestRuntime_RejectsBadWiring(t *testing.T) {
	cfg := config.Default()
	cfg.Link.Transport = "carrier-pigeon"
	if _, err := newRuntime(cfg, runOptions{}, clock.NewMock(), nil, nil); err == nil {
		t.Fatalf("expected error for unknown transport")
	}

	cfg = config.Default()
	cfg.Vision.Source = config.VisionDir
	cfg.Vision.Dir = t.TempDir()
	if _, err := newRuntime(cfg, runOptions{}, clock.NewMock(), nil, nil); err == nil {
		t.Fatalf("expected error for an empty frame directory")
	}
}

func TestRuntime_RunStopsWithContext(t *testing.T) {
	cfg := simConfig(t)
	cfg.Record.Enable = false
	cfg.Loop.Period = time.Millisecond
	rt, err := newRuntime(cfg, runOptions{}, clock.New(), nil, nil)
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := rt.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rt.station.Status().Tick.Seq == 0 {
		t.Fatalf("no ticks ran")
	}
}

type deadTransport struct{ err error }

func (d deadTransport) WritePacket([]byte) error                 { return nil }
func (d deadTransport) ReadPacket(time.Duration) ([]byte, error) { return nil, d.err }
func (d deadTransport) Close() error                             { return nil }

func TestLinkTask_ReturnsTransportFailure(t *testing.T) {
	readErr := errors.New("radio gone")
	l := link.New(deadTransport{err: readErr}, clock.NewMock(), nil, nil)
	t.Cleanup(func() { _ = l.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := linkTask(l)(ctx)
	if !errors.Is(err, readErr) {
		t.Fatalf("linkTask()=%v want %v", err, readErr)
	}
	if ctx.Err() != nil {
		t.Fatalf("linkTask waited for the context instead of the failure")
	}
}
