// Package config loads the hoverhold YAML configuration.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"hoverhold/internal/arbiter"
	"hoverhold/internal/bench"
	"hoverhold/internal/control"
	"hoverhold/internal/hold"
	"hoverhold/internal/input"
	"hoverhold/internal/sim"
	"hoverhold/internal/station"
	"hoverhold/internal/vision"
)

type Config struct {
	Loop     LoopConfig               `yaml:"loop"`
	Arbiter  arbiter.Config           `yaml:"arbiter"`
	Gains    map[string]control.Gains `yaml:"gains"`
	Altitude AltitudeConfig           `yaml:"altitude"`
	Link     LinkConfig               `yaml:"link"`
	Sim      SimConfig                `yaml:"sim"`
	Bench    bench.Config             `yaml:"bench"`
	Vision   VisionConfig             `yaml:"vision"`
	Input    InputConfig              `yaml:"input"`
	Record   RecordConfig             `yaml:"record"`
	Web      WebConfig                `yaml:"web"`
	Log      LogConfig                `yaml:"log"`
}

type LoopConfig struct {
	Period       time.Duration `yaml:"period"`
	StatusEvery  time.Duration `yaml:"status_every"`
	HeadingWiden float64       `yaml:"heading_widen"`
}

type AltitudeConfig struct {
	Smoothing bool    `yaml:"smoothing"`
	Q         float64 `yaml:"q"`
	R         float64 `yaml:"r"`
}

// Transports accepted in link.transport.
const (
	TransportSim    = "sim"
	TransportUDP    = "udp"
	TransportSerial = "serial"
	TransportBench  = "bench"
)

type LinkConfig struct {
	Transport string       `yaml:"transport"`
	UDP       UDPConfig    `yaml:"udp"`
	Serial    SerialConfig `yaml:"serial"`
}

type UDPConfig struct {
	Dest string `yaml:"dest"`
}

type SerialConfig struct {
	Port string `yaml:"port"`
	Baud int    `yaml:"baud"`
}

type SimConfig struct {
	Vehicle    sim.VehicleConfig `yaml:"vehicle"`
	Scenario   string            `yaml:"scenario"`
	PxPerMetre float64           `yaml:"px_per_metre"`
}

// Vision sources accepted in vision.source.
const (
	VisionNone = "none"
	VisionSim  = "sim"
	VisionDir  = "dir"
)

type VisionConfig struct {
	Source   string                `yaml:"source"`
	Dir      string                `yaml:"dir"`
	Width    int                   `yaml:"width"`
	Height   int                   `yaml:"height"`
	Detector vision.DetectorConfig `yaml:"detector"`
}

type InputConfig struct {
	Joystick JoystickConfig      `yaml:"joystick"`
	Buttons  input.ButtonsConfig `yaml:"buttons"`
}

type JoystickConfig struct {
	Enable  bool          `yaml:"enable"`
	Device  string        `yaml:"device"`
	Mapping input.Mapping `yaml:"mapping"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Lines kept in memory for /api/logs.
	BufferLines int `yaml:"buffer_lines"`
}

// Default is the configuration used for every key the file leaves out.
func Default() Config {
	st := station.DefaultConfig()
	return Config{
		Loop: LoopConfig{
			Period:       st.Period,
			StatusEvery:  st.StatusEvery,
			HeadingWiden: st.HeadingWiden,
		},
		Arbiter:  st.Arbiter,
		Gains:    station.DefaultGains(),
		Altitude: AltitudeConfig{Q: st.PressureQ, R: st.PressureR},
		Link: LinkConfig{
			Transport: TransportSim,
			Serial:    SerialConfig{Baud: 115200},
		},
		Sim:    SimConfig{PxPerMetre: 100},
		Vision: VisionConfig{Source: VisionNone, Width: st.FrameWidth, Height: st.FrameHeight, Detector: vision.DefaultDetectorConfig()},
		Input: InputConfig{
			Joystick: JoystickConfig{Device: "/dev/input/js0", Mapping: input.Xbox360Linux()},
		},
		Record: RecordConfig{Path: "hoverhold-session.log"},
		Web:    WebConfig{Listen: ":8080"},
		Log:    LogConfig{Level: "info", BufferLines: 500},
	}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML over Default and validates the result. Unknown keys are
// rejected. A loop listed under gains replaces its defaults entirely.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Loop.Period <= 0 {
		return errors.New("loop.period must be > 0")
	}
	if c.Loop.HeadingWiden < 0 {
		return errors.New("loop.heading_widen must be >= 0")
	}
	for _, name := range station.LoopNames() {
		if _, ok := c.Gains[name]; !ok {
			return errors.Errorf("gains.%s is required", name)
		}
	}
	for name, g := range c.Gains {
		if !validLoop(name) {
			return errors.Errorf("gains.%s: unknown loop", name)
		}
		if err := g.Validate(); err != nil {
			return errors.Wrapf(err, "gains.%s", name)
		}
	}
	if c.Arbiter.RollRange <= 0 || c.Arbiter.PitchRange <= 0 || c.Arbiter.YawRange <= 0 {
		return errors.New("arbiter.roll_range, arbiter.pitch_range and arbiter.yaw_range must be > 0")
	}
	if c.Arbiter.ThrustMax <= 0 || c.Arbiter.ThrustMax > hold.ThrustMax {
		return errors.Errorf("arbiter.thrust_max must be in (0, %d]", hold.ThrustMax)
	}
	if c.Arbiter.Ceiling < 0 || c.Arbiter.Ceiling > c.Arbiter.ThrustMax {
		return errors.New("arbiter.ceiling must be between 0 and arbiter.thrust_max")
	}
	if c.Arbiter.TrimStep < 0 {
		return errors.New("arbiter.trim_step must be >= 0")
	}
	if c.Altitude.Smoothing && (c.Altitude.Q < 0 || c.Altitude.R <= 0) {
		return errors.New("altitude.q must be >= 0 and altitude.r > 0 when altitude.smoothing is true")
	}

	switch c.Link.Transport {
	case TransportSim, TransportBench:
	case TransportUDP:
		if c.Link.UDP.Dest == "" {
			return errors.New("link.udp.dest is required when link.transport is 'udp'")
		}
	case TransportSerial:
		if c.Link.Serial.Port == "" {
			return errors.New("link.serial.port is required when link.transport is 'serial'")
		}
	default:
		return errors.Errorf("link.transport must be one of sim, udp, serial, bench (got %q)", c.Link.Transport)
	}

	switch c.Vision.Source {
	case VisionNone:
	case VisionSim:
		if c.Link.Transport != TransportSim {
			return errors.New("vision.source 'sim' requires link.transport 'sim'")
		}
	case VisionDir:
		if c.Vision.Dir == "" {
			return errors.New("vision.dir is required when vision.source is 'dir'")
		}
	default:
		return errors.Errorf("vision.source must be one of none, sim, dir (got %q)", c.Vision.Source)
	}
	if c.Vision.Width <= 0 || c.Vision.Height <= 0 {
		return errors.New("vision.width and vision.height must be > 0")
	}

	if c.Input.Joystick.Enable && c.Input.Joystick.Device == "" {
		return errors.New("input.joystick.device is required when input.joystick.enable is true")
	}
	if c.Record.Enable && c.Record.Path == "" {
		return errors.New("record.path is required when record.enable is true")
	}
	if c.Web.Enable && c.Web.Listen == "" {
		return errors.New("web.listen is required when web.enable is true")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.Errorf("log.level %q is not a valid level", c.Log.Level)
	}
	return nil
}

func validLoop(name string) bool {
	for _, n := range station.LoopNames() {
		if n == name {
			return true
		}
	}
	return false
}

// Station converts the loop-related sections into a station.Config.
func (c Config) Station() station.Config {
	st := station.DefaultConfig()
	st.Period = c.Loop.Period
	st.StatusEvery = c.Loop.StatusEvery
	st.HeadingWiden = c.Loop.HeadingWiden
	st.Arbiter = c.Arbiter
	st.Gains = make(map[string]control.Gains, len(c.Gains))
	for k, v := range c.Gains {
		st.Gains[k] = v
	}
	st.SmoothPressure = c.Altitude.Smoothing
	st.PressureQ = c.Altitude.Q
	st.PressureR = c.Altitude.R
	st.FrameWidth = c.Vision.Width
	st.FrameHeight = c.Vision.Height
	return st
}
