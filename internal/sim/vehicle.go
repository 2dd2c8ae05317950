// Package sim provides a deterministic stand-in for the vehicle and its
// downward camera, driven by an injected clock.
package sim

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"hoverhold/internal/vehicle"
)

// VehicleConfig describes the simulated airframe and sensors.
type VehicleConfig struct {
	// Magnetometer: counts = offset + scale*(cos, sin)(heading).
	MagOffsetX float64 `yaml:"mag_offset_x"`
	MagOffsetY float64 `yaml:"mag_offset_y"`
	MagScale   float64 `yaml:"mag_scale"`

	// HoverThrust holds altitude; each ClimbPerUnit thrust units above it
	// add 1 m/s of climb.
	HoverThrust  int     `yaml:"hover_thrust"`
	ClimbPerUnit float64 `yaml:"climb_per_unit"`

	// GroundPressure is in hPa at altitude zero.
	GroundPressure float64 `yaml:"ground_pressure"`

	// Horizontal speed in m/s per degree of roll/pitch.
	SpeedPerDeg float64 `yaml:"speed_per_deg"`

	StartHeadingDeg float64 `yaml:"start_heading_deg"`
	StartAltitude   float64 `yaml:"start_altitude"`
}

func (c VehicleConfig) withDefaults() VehicleConfig {
	if c.MagScale == 0 {
		c.MagScale = 300
	}
	if c.MagOffsetX == 0 && c.MagOffsetY == 0 {
		c.MagOffsetX, c.MagOffsetY = 120, -40
	}
	if c.HoverThrust == 0 {
		c.HoverThrust = 36000
	}
	if c.ClimbPerUnit == 0 {
		c.ClimbPerUnit = 4000
	}
	if c.GroundPressure == 0 {
		c.GroundPressure = 1013.25
	}
	if c.SpeedPerDeg == 0 {
		c.SpeedPerDeg = 0.05
	}
	return c
}

// PressurePerMetre is the barometric lapse near sea level, hPa per metre.
const PressurePerMetre = 0.12

// Vehicle integrates the last command between Send calls. It implements
// vehicle.TelemetrySource and vehicle.CommandSink.
type Vehicle struct {
	cfg   VehicleConfig
	clk   clock.Clock
	scn   *Scenario
	start time.Time

	mu       sync.Mutex
	booted   bool
	last     vehicle.Frame
	lastAt   time.Time
	heading  float64 // rad
	altitude float64 // m
	x, y     float64 // m, vehicle relative to world origin
}

// NewVehicle returns a vehicle at rest. scn may be nil for still air.
func NewVehicle(cfg VehicleConfig, clk clock.Clock, scn *Scenario) *Vehicle {
	if clk == nil {
		clk = clock.New()
	}
	cfg = cfg.withDefaults()
	return &Vehicle{
		cfg:      cfg,
		clk:      clk,
		scn:      scn,
		start:    clk.Now(),
		heading:  cfg.StartHeadingDeg * math.Pi / 180,
		altitude: cfg.StartAltitude,
	}
}

// Send applies f from now on.
func (v *Vehicle) Send(_ context.Context, f vehicle.Frame) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.advance()
	v.last = f
	v.booted = true
	return nil
}

// Latest reports the current state. Until the first command arrives the
// barometer and magnetometer read zero, as a freshly booted flight
// controller does.
func (v *Vehicle) Latest() vehicle.Telemetry {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.advance()
	t := vehicle.Telemetry{
		At:     v.clk.Now(),
		Thrust: v.last.Thrust,
		AccZ:   1,
	}
	if !v.booted {
		return t
	}
	t.Pressure = v.cfg.GroundPressure - PressurePerMetre*v.altitude
	t.MagX = math.Round(v.cfg.MagOffsetX + v.cfg.MagScale*math.Cos(v.heading))
	t.MagY = math.Round(v.cfg.MagOffsetY + v.cfg.MagScale*math.Sin(v.heading))
	t.MagZ = math.Round(-0.5 * v.cfg.MagScale)
	t.AccX = math.Sin(v.last.Pitch * math.Pi / 180)
	t.AccY = -math.Sin(v.last.Roll * math.Pi / 180)
	return t
}

// State is the simulated ground truth.
type State struct {
	HeadingDeg float64 `json:"heading_deg"`
	Altitude   float64 `json:"altitude"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	TargetX    float64 `json:"target_x"`
	TargetY    float64 `json:"target_y"`
}

func (v *Vehicle) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.advance()
	d := v.scn.At(v.clk.Now().Sub(v.start), true)
	return State{
		HeadingDeg: v.heading * 180 / math.Pi,
		Altitude:   v.altitude,
		X:          v.x,
		Y:          v.y,
		TargetX:    d.TargetX,
		TargetY:    d.TargetY,
	}
}

func (v *Vehicle) advance() {
	now := v.clk.Now()
	if v.lastAt.IsZero() {
		v.lastAt = now
		return
	}
	dt := now.Sub(v.lastAt).Seconds()
	v.lastAt = now
	if dt <= 0 || !v.booted {
		return
	}

	d := v.scn.At(now.Sub(v.start), true)

	yawDeg := v.last.YawRate + d.YawDrift
	v.heading = wrapPi(v.heading + yawDeg*math.Pi/180*dt)

	vz := float64(v.last.Thrust-v.cfg.HoverThrust)/v.cfg.ClimbPerUnit - d.LiftBias
	v.altitude += vz * dt
	if v.altitude < 0 {
		v.altitude = 0
	}

	v.x += (v.last.Roll*v.cfg.SpeedPerDeg + d.WindX) * dt
	v.y += (v.last.Pitch*v.cfg.SpeedPerDeg + d.WindY) * dt
}

func wrapPi(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
