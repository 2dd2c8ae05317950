package main

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hoverhold/internal/link"
	"hoverhold/internal/replay"
	"hoverhold/internal/vehicle"
)

func txRecord(at time.Duration, thrust int, yawRate float64) replay.Record {
	return replay.Record{At: at, Dir: link.Tx, Packet: link.EncodeSetpoint(vehicle.Frame{Thrust: thrust, YawRate: yawRate})}
}

func rxRecord(at time.Duration, tel vehicle.Telemetry) replay.Record {
	return replay.Record{At: at, Dir: link.Rx, Packet: link.EncodeTelemetry(0, at, tel)}
}

func TestSummarizeSession(t *testing.T) {
	recs := []replay.Record{
		{}, // START
		txRecord(0, 30000, 1),
		rxRecord(5*time.Millisecond, vehicle.Telemetry{Pressure: 1000}),
		txRecord(16*time.Millisecond, 32000, 3),
		{At: 20 * time.Millisecond, Dir: link.Tx, Packet: []byte{0x01}},
		{},
		txRecord(0, 40000, 0),
	}

	segs := summarizeSession(recs)
	if len(segs) != 2 {
		t.Fatalf("segments=%d want 2", len(segs))
	}
	s := segs[0]
	if s.Tx != 3 || s.Rx != 1 || s.Invalid != 1 {
		t.Fatalf("seg0 counts tx=%d rx=%d invalid=%d", s.Tx, s.Rx, s.Invalid)
	}
	if s.Duration != 20*time.Millisecond {
		t.Fatalf("seg0 duration=%s", s.Duration)
	}
	if s.ThrustMean != 31000 || math.Abs(s.ThrustStdDev-math.Sqrt2*1000) > 1e-6 {
		t.Fatalf("thrust mean=%v stddev=%v", s.ThrustMean, s.ThrustStdDev)
	}
	if s.YawRateMean != 2 {
		t.Fatalf("yaw mean=%v want 2", s.YawRateMean)
	}
	if segs[1].ThrustMean != 40000 || segs[1].ThrustStdDev != 0 {
		t.Fatalf("seg1=%+v", segs[1])
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, "x.log", summarizeSession([]replay.Record{
		txRecord(0, 30000, 1),
		txRecord(16*time.Millisecond, 32000, 3),
	}))
	out := buf.String()
	for _, want := range []string{
		"path: x.log\n",
		"segments: 1\n",
		"  duration: 16ms\n",
		"  thrust: mean=31000.0 stddev=1414.2\n",
		"  yaw_rate: mean=2.000 stddev=1.414\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSummarizeCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.log")
	w, err := replay.CreateWriter(path, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("CreateWriter: %v", err)
	}
	if err := w.Write(link.Tx, time.Unix(0, 0), link.EncodeSetpoint(vehicle.Frame{Thrust: 1})); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := newApp().Run([]string{"hoverhold", "summarize", path}); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if err := newApp().Run([]string{"hoverhold", "summarize"}); err == nil {
		t.Fatalf("expected error without a session path")
	}
}
