package hold

import (
	"math"

	"go.uber.org/zap"
)

// Smoother filters a scalar measurement stream. *control.Kalman satisfies it.
type Smoother interface {
	Step(measurement float64) float64
}

// AltitudeSnapshot is a read-only view for status reporting.
type AltitudeSnapshot struct {
	Auto           bool    `json:"auto"`
	Engaged        bool    `json:"engaged"`
	TargetPressure float64 `json:"target_pressure"`
	Pressure       float64 `json:"pressure"`
	Baseline       int     `json:"baseline"`
	Thrust         int     `json:"thrust"`
}

// Altitude holds barometric pressure by biasing thrust around the thrust
// that was being applied when the hold engaged.
type Altitude struct {
	loop   Loop
	smooth Smoother
	log    *zap.SugaredLogger

	auto     bool
	engaged  bool
	pending  bool
	pendingT int

	target   float64
	baseline int
	pressure float64
	haveP    bool
	thrust   int
}

// NewAltitude wraps loop. smooth may be nil.
func NewAltitude(loop Loop, smooth Smoother, log *zap.SugaredLogger) *Altitude {
	return &Altitude{loop: loop, smooth: smooth, log: nopIfNil(log)}
}

// SetAuto engages or releases the hold. Only the false→true edge captures
// the target pressure and thrust baseline. A zero pressure means the
// barometer is not reporting yet; the capture is deferred until it is.
func (a *Altitude) SetAuto(auto bool, pressure float64, thrust int) {
	switch {
	case auto && !a.auto:
		if pressure == 0 {
			a.pending = true
			a.pendingT = thrust
		} else {
			a.capture(pressure, thrust)
		}
	case !auto:
		a.engaged = false
		a.pending = false
	}
	a.auto = auto
}

func (a *Altitude) Auto() bool { return a.auto }

func (a *Altitude) capture(pressure float64, thrust int) {
	if a.smooth != nil && a.haveP {
		pressure = a.pressure
	}
	a.target = pressure
	a.baseline = thrust
	a.loop.Reset()
	a.loop.SetSetpoint(pressure)
	a.engaged = true
	a.pending = false
	a.log.Debugw("altitude hold engaged", "target_pressure", pressure, "baseline", thrust)
}

// Step consumes one pressure sample. While engaged it returns the thrust
// command, clamped to the throttle range, and true. Zero and non-finite
// samples count as missing; the last good pressure is reused.
func (a *Altitude) Step(pressure float64) (int, bool) {
	if pressure != 0 && !math.IsNaN(pressure) && !math.IsInf(pressure, 0) {
		if a.smooth != nil {
			pressure = a.smooth.Step(pressure)
		}
		a.pressure = pressure
		a.haveP = true
	}
	if a.pending && a.haveP {
		a.capture(a.pressure, a.pendingT)
	}
	if !a.auto || !a.engaged || !a.haveP {
		return 0, false
	}

	delta := -a.loop.Update(a.pressure)
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		delta = 0
	}
	a.thrust = clampThrust(int(float64(a.baseline) + delta))
	a.log.Debugw("altitude", "pressure", a.pressure, "target", a.target, "delta", delta, "thrust", a.thrust)
	return a.thrust, true
}

func (a *Altitude) Snapshot() AltitudeSnapshot {
	return AltitudeSnapshot{
		Auto:           a.auto,
		Engaged:        a.engaged,
		TargetPressure: a.target,
		Pressure:       a.pressure,
		Baseline:       a.baseline,
		Thrust:         a.thrust,
	}
}
