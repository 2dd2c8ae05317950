// Package control holds the feedback-loop primitives shared by every hold mode:
// a PID controller, a running min/max axis calibrator and a scalar Kalman smoother.
package control

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
)

// MinDt is substituted for the elapsed time on the first Update and whenever
// the clock fails to move forward.
const MinDt = time.Millisecond

// Gains are the tunable coefficients of a PID.
type Gains struct {
	Kp            float64 `json:"kp" yaml:"kp"`
	Ki            float64 `json:"ki" yaml:"ki"`
	Kd            float64 `json:"kd" yaml:"kd"`
	IntegralLimit float64 `json:"integral_limit" yaml:"integral_limit"`
	OutMin        float64 `json:"out_min" yaml:"out_min"`
	OutMax        float64 `json:"out_max" yaml:"out_max"`
}

// Validate reports gains that cannot produce a bounded output.
func (g Gains) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"kp", g.Kp},
		{"ki", g.Ki},
		{"kd", g.Kd},
		{"integral_limit", g.IntegralLimit},
		{"out_min", g.OutMin},
		{"out_max", g.OutMax},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return errors.Errorf("control: %s %v must be finite", f.name, f.v)
		}
	}
	if g.OutMin > g.OutMax {
		return errors.Errorf("control: out_min %v > out_max %v", g.OutMin, g.OutMax)
	}
	if g.IntegralLimit < 0 {
		return errors.Errorf("control: integral_limit %v must be >= 0", g.IntegralLimit)
	}
	return nil
}

// State is a copy of the PID's mutable state.
type State struct {
	Setpoint  float64
	Integral  float64
	LastError float64
	LastAt    time.Time
	Updates   uint64
}

// PID is a proportional-integral-derivative loop with a clamped integral and
// a clamped output. It knows nothing about what it controls.
//
// Not safe for concurrent use.
type PID struct {
	gains Gains
	clk   clock.Clock

	setpoint  float64
	integral  float64
	lastError float64
	lastAt    time.Time
	havePrev  bool
	updates   uint64
	lastOut   float64
}

// New builds a PID. A nil clock means wall time.
func New(g Gains, clk clock.Clock) (*PID, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &PID{gains: g, clk: clk}, nil
}

// SetSetpoint replaces the target. Integral and derivative history are kept.
func (p *PID) SetSetpoint(v float64) { p.setpoint = v }

func (p *PID) Setpoint() float64 { return p.setpoint }

// SetGains swaps the coefficients in place. The integral is re-clamped to the
// new limit so the bound holds immediately.
func (p *PID) SetGains(g Gains) error {
	if err := g.Validate(); err != nil {
		return err
	}
	p.gains = g
	p.integral = clamp(p.integral, -g.IntegralLimit, g.IntegralLimit)
	return nil
}

func (p *PID) Gains() Gains { return p.gains }

// Reset clears the integral, derivative history and time base.
func (p *PID) Reset() {
	p.integral = 0
	p.lastError = 0
	p.lastAt = time.Time{}
	p.havePrev = false
	p.lastOut = 0
}

func (p *PID) State() State {
	return State{
		Setpoint:  p.setpoint,
		Integral:  p.integral,
		LastError: p.lastError,
		LastAt:    p.lastAt,
		Updates:   p.updates,
	}
}

// Update advances the loop by one sample and returns the clamped output.
// A NaN or infinite sample leaves the state untouched and repeats the
// previous output.
func (p *PID) Update(measured float64) float64 {
	if math.IsNaN(measured) || math.IsInf(measured, 0) {
		return clamp(p.lastOut, p.gains.OutMin, p.gains.OutMax)
	}
	now := p.clk.Now()
	dt := MinDt
	if p.havePrev {
		if d := now.Sub(p.lastAt); d > 0 {
			dt = d
		}
	}
	p.lastAt = now
	p.havePrev = true
	p.updates++

	sec := dt.Seconds()
	e := p.setpoint - measured

	p.integral = clamp(p.integral+e*sec, -p.gains.IntegralLimit, p.gains.IntegralLimit)
	derivative := (e - p.lastError) / sec
	p.lastError = e

	out := p.gains.Kp*e + p.gains.Ki*p.integral + p.gains.Kd*derivative
	p.lastOut = clamp(out, p.gains.OutMin, p.gains.OutMax)
	return p.lastOut
}

// clamp bounds v to [lo, hi]. NaN is treated as zero.
func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		v = 0
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
