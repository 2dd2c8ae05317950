// Package arbiter merges the operator's manual input with the outputs of the
// engaged hold modes into one command frame per tick.
package arbiter

import (
	"hoverhold/internal/vehicle"
)

// Mode selects who flies the vehicle.
type Mode int

const (
	Manual Mode = iota
	Auto
)

func (m Mode) String() string {
	if m == Auto {
		return "auto"
	}
	return "manual"
}

// Config holds the command ranges and the throttle ceiling trim.
type Config struct {
	RollRange  float64 `yaml:"roll_range" json:"roll_range"`
	PitchRange float64 `yaml:"pitch_range" json:"pitch_range"`
	YawRange   float64 `yaml:"yaw_range" json:"yaw_range"`
	ThrustMax  int     `yaml:"thrust_max" json:"thrust_max"`
	Ceiling    int     `yaml:"ceiling" json:"ceiling"`
	TrimStep   int     `yaml:"trim_step" json:"trim_step"`
}

// DefaultConfig matches a Crazyflie-class vehicle on an Xbox 360 pad.
func DefaultConfig() Config {
	return Config{
		RollRange:  20,
		PitchRange: 20,
		YawRange:   100,
		ThrustMax:  60000,
		Ceiling:    44000,
		TrimStep:   500,
	}
}

// Inputs are everything Merge needs for one tick. A hold output is used only
// when its Have flag is set.
type Inputs struct {
	Manual vehicle.ManualInput

	YawRate float64
	HaveYaw bool

	Thrust     int
	HaveThrust bool

	Roll, Pitch  float64
	HavePosition bool
}

// Arbiter owns the mode and the throttle ceiling.
type Arbiter struct {
	cfg     Config
	mode    Mode
	ceiling int
}

func New(cfg Config) *Arbiter {
	a := &Arbiter{cfg: cfg}
	a.ceiling = a.clampCeiling(cfg.Ceiling)
	return a
}

func (a *Arbiter) Mode() Mode { return a.mode }

// Toggle flips between Manual and Auto and returns the new mode.
func (a *Arbiter) Toggle() Mode {
	if a.mode == Manual {
		a.mode = Auto
	} else {
		a.mode = Manual
	}
	return a.mode
}

func (a *Arbiter) Ceiling() int { return a.ceiling }

// TrimUp raises the manual throttle ceiling by one step.
func (a *Arbiter) TrimUp() int {
	a.ceiling = a.clampCeiling(a.ceiling + a.cfg.TrimStep)
	return a.ceiling
}

// TrimDown lowers the manual throttle ceiling by one step.
func (a *Arbiter) TrimDown() int {
	a.ceiling = a.clampCeiling(a.ceiling - a.cfg.TrimStep)
	return a.ceiling
}

func (a *Arbiter) clampCeiling(v int) int {
	if v < 0 {
		return 0
	}
	if v > a.cfg.ThrustMax {
		return a.cfg.ThrustMax
	}
	return v
}

// Merge builds the frame for this tick. In Manual every axis is the
// operator's, thrust scaled by the ceiling. In Auto each axis comes from its
// hold mode when that mode produced an output, otherwise from the operator.
func (a *Arbiter) Merge(in Inputs) vehicle.Frame {
	m := in.Manual
	f := vehicle.Frame{
		Roll:    m.Roll * a.cfg.RollRange,
		Pitch:   m.Pitch * a.cfg.PitchRange,
		YawRate: m.Yaw * a.cfg.YawRange,
		Thrust:  int(m.Thrust * float64(a.ceiling)),
	}
	if a.mode == Auto {
		if in.HaveYaw {
			f.YawRate = in.YawRate
		}
		if in.HaveThrust {
			f.Thrust = in.Thrust
		}
		if in.HavePosition {
			f.Roll, f.Pitch = in.Roll, in.Pitch
		}
	}

	f.Roll = clamp(f.Roll, a.cfg.RollRange)
	f.Pitch = clamp(f.Pitch, a.cfg.PitchRange)
	f.YawRate = clamp(f.YawRate, a.cfg.YawRange)
	if f.Thrust < 0 {
		f.Thrust = 0
	}
	if f.Thrust > a.cfg.ThrustMax {
		f.Thrust = a.cfg.ThrustMax
	}
	return f
}

func clamp(v, r float64) float64 {
	if v < -r {
		return -r
	}
	if v > r {
		return r
	}
	return v
}
