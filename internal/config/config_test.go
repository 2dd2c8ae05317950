package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"hoverhold/internal/control"
	"hoverhold/internal/station"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hoverhold.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, ""))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Loop.Period != 16*time.Millisecond {
		t.Fatalf("period=%s want 16ms", cfg.Loop.Period)
	}
	if cfg.Link.Transport != TransportSim || cfg.Vision.Source != VisionNone {
		t.Fatalf("link=%q vision=%q", cfg.Link.Transport, cfg.Vision.Source)
	}
	if cfg.Arbiter.Ceiling != 44000 || cfg.Arbiter.TrimStep != 500 {
		t.Fatalf("arbiter=%+v", cfg.Arbiter)
	}
	if len(cfg.Gains) != 4 || cfg.Gains[station.LoopAltitude].Kp != 10000 {
		t.Fatalf("gains=%+v", cfg.Gains)
	}
	if cfg.Input.Joystick.Mapping.ThrustAxis != 4 || !cfg.Input.Joystick.Mapping.InvertPitch {
		t.Fatalf("mapping=%+v", cfg.Input.Joystick.Mapping)
	}
}

func TestLoad_OverridesKeepOtherDefaults(t *testing.T) {
	path := writeTempConfig(t, `
loop:
  period: 20ms
arbiter:
  ceiling: 40000
gains:
  heading: {kp: 50, integral_limit: 10, out_min: -50, out_max: 50}
input:
  joystick:
    mapping:
      yaw_axis: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Loop.Period != 20*time.Millisecond || cfg.Loop.StatusEvery != time.Second {
		t.Fatalf("loop=%+v", cfg.Loop)
	}
	if cfg.Arbiter.Ceiling != 40000 || cfg.Arbiter.RollRange != 20 {
		t.Fatalf("arbiter=%+v", cfg.Arbiter)
	}
	want := control.Gains{Kp: 50, IntegralLimit: 10, OutMin: -50, OutMax: 50}
	if cfg.Gains[station.LoopHeading] != want {
		t.Fatalf("heading gains=%+v want %+v", cfg.Gains[station.LoopHeading], want)
	}
	if cfg.Gains[station.LoopAltitude].Kd != 15000 {
		t.Fatalf("altitude gains lost: %+v", cfg.Gains[station.LoopAltitude])
	}
	m := cfg.Input.Joystick.Mapping
	if m.YawAxis != 3 || m.RollAxis != 0 || m.ThrustAxis != 4 || m.ToggleButton != 1 {
		t.Fatalf("mapping=%+v", m)
	}

	st := cfg.Station()
	if st.Period != 20*time.Millisecond || st.Gains[station.LoopHeading] != want || st.FrameWidth != 640 {
		t.Fatalf("station config=%+v", st)
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeTempConfig(t, "loop:\n  perod: 10ms\n"))
	if err == nil || !strings.Contains(err.Error(), "perod") {
		t.Fatalf("err=%v want unknown field perod", err)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
		want string
	}{
		{"udp dest", "link: {transport: udp}", "link.udp.dest is required when link.transport is 'udp'"},
		{"serial port", "link: {transport: serial}", "link.serial.port is required when link.transport is 'serial'"},
		{"transport", "link: {transport: carrier-pigeon}", `link.transport must be one of sim, udp, serial, bench (got "carrier-pigeon")`},
		{"vision dir", "vision: {source: dir}", "vision.dir is required when vision.source is 'dir'"},
		{"vision sim on udp", "link: {transport: udp, udp: {dest: '127.0.0.1:2390'}}\nvision: {source: sim}", "vision.source 'sim' requires link.transport 'sim'"},
		{"record path", "record: {enable: true, path: ''}", "record.path is required when record.enable is true"},
		{"period", "loop: {period: 0s}", "loop.period must be > 0"},
		{"unknown loop", "gains: {roll: {out_min: -1, out_max: 1}}", "gains.roll: unknown loop"},
		{"log level", "log: {level: chatty}", `log.level "chatty" is not a valid level`},
		{"roll range", "arbiter: {roll_range: 0}", "arbiter.roll_range, arbiter.pitch_range and arbiter.yaw_range must be > 0"},
		{"pitch range", "arbiter: {pitch_range: -5}", "arbiter.roll_range, arbiter.pitch_range and arbiter.yaw_range must be > 0"},
		{"yaw range", "arbiter: {yaw_range: 0}", "arbiter.roll_range, arbiter.pitch_range and arbiter.yaw_range must be > 0"},
		{"thrust max zero", "arbiter: {thrust_max: 0}", "arbiter.thrust_max must be in (0, 60000]"},
		{"thrust max over range", "arbiter: {thrust_max: 65535}", "arbiter.thrust_max must be in (0, 60000]"},
		{"ceiling above max", "arbiter: {thrust_max: 40000, ceiling: 44000}", "arbiter.ceiling must be between 0 and arbiter.thrust_max"},
		{"negative ceiling", "arbiter: {ceiling: -1}", "arbiter.ceiling must be between 0 and arbiter.thrust_max"},
		{"trim step", "arbiter: {trim_step: -500}", "arbiter.trim_step must be >= 0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.yaml+"\n"))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_InvalidGains(t *testing.T) {
	_, err := Load(writeTempConfig(t, "gains:\n  altitude: {out_min: 10, out_max: -10}\n"))
	if err == nil || !strings.HasPrefix(err.Error(), "gains.altitude: ") {
		t.Fatalf("err=%v want gains.altitude prefix", err)
	}
}

func TestLoad_RejectsNonFiniteGains(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"kp", "gains:\n  heading: {kp: .nan, out_min: -1, out_max: 1}\n"},
		{"ki", "gains:\n  altitude: {ki: .inf, out_min: -1, out_max: 1}\n"},
		{"kd", "gains:\n  position_x: {kd: -.inf, out_min: -1, out_max: 1}\n"},
		{"integral_limit", "gains:\n  position_y: {integral_limit: .inf, out_min: -1, out_max: 1}\n"},
		{"out_min", "gains:\n  heading: {out_min: -.inf, out_max: 1}\n"},
		{"out_max", "gains:\n  heading: {out_min: -1, out_max: .nan}\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.yaml))
			if err == nil {
				t.Fatalf("expected error for non-finite %s", tc.name)
			}
			if !strings.HasPrefix(err.Error(), "gains.") || !strings.Contains(err.Error(), tc.name+" ") {
				t.Fatalf("err=%v want gains.* error naming %s", err, tc.name)
			}
		})
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := writeTempConfig(t, "loop: {period: 16ms}\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, nil, func(c Config) { got <- c }) }()

	// The watcher registers asynchronously; keep rewriting until it reports.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case c := <-got:
			if c.Loop.Period != 10*time.Millisecond {
				t.Fatalf("period=%s want 10ms", c.Loop.Period)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch() error: %v", err)
			}
			return
		case <-tick.C:
			if err := os.WriteFile(path, []byte("loop: {period: 10ms}\n"), 0o644); err != nil {
				t.Fatalf("WriteFile() error: %v", err)
			}
		case <-deadline:
			t.Fatalf("no reload within 5s")
		}
	}
}

func TestLoad_SampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "hoverhold.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Link.Transport != TransportSim || cfg.Vision.Source != VisionSim {
		t.Fatalf("transport=%q vision=%q", cfg.Link.Transport, cfg.Vision.Source)
	}
	if !cfg.Web.Enable || cfg.Web.Listen != ":8080" {
		t.Fatalf("web=%+v", cfg.Web)
	}
	if cfg.Gains[station.LoopAltitude] != station.DefaultGains()[station.LoopAltitude] {
		t.Fatalf("altitude gains=%+v want defaults", cfg.Gains[station.LoopAltitude])
	}
}
