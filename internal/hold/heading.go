package hold

import (
	"math"

	"go.uber.org/zap"

	"hoverhold/internal/control"
	"hoverhold/internal/vehicle"
)

// HeadingState tracks magnetometer calibration progress.
type HeadingState int

const (
	Uncalibrated HeadingState = iota
	Calibrating
	Active
)

func (s HeadingState) String() string {
	switch s {
	case Calibrating:
		return "calibrating"
	case Active:
		return "active"
	default:
		return "uncalibrated"
	}
}

// HeadingSnapshot is a read-only view for status reporting.
type HeadingSnapshot struct {
	State   string  `json:"state"`
	Auto    bool    `json:"auto"`
	Angle   float64 `json:"angle"`
	Target  float64 `json:"target"`
	Error   float64 `json:"error"`
	YawRate float64 `json:"yaw_rate"`
	Engaged bool    `json:"engaged"`
}

// Heading holds a compass heading by commanding yaw rate.
//
// The two horizontal magnetometer axes are self-calibrated with running
// min/max trackers. The target is kept in raw units in each axis' calibrator
// and re-normalized every tick, so it follows the range as it widens.
type Heading struct {
	loop Loop
	x, y control.Calibrator
	log  *zap.SugaredLogger

	auto       bool
	wantTarget bool

	state   HeadingState
	angle   float64
	target  float64
	err     float64
	yawRate float64
	engaged bool
}

// NewHeading wraps loop, whose setpoint is fixed at zero. widen is the seed
// widening applied to both axis calibrators.
func NewHeading(loop Loop, widen float64, log *zap.SugaredLogger) *Heading {
	loop.SetSetpoint(0)
	h := &Heading{loop: loop, log: nopIfNil(log)}
	h.x.Widen = widen
	h.y.Widen = widen
	return h
}

// SetAuto engages or releases the hold. Engaging requests a target capture,
// which happens on the first tick with a valid heading.
func (h *Heading) SetAuto(auto bool) {
	if auto && !h.auto {
		h.wantTarget = true
	}
	h.auto = auto
}

func (h *Heading) Auto() bool { return h.auto }

// CaptureTarget holds the heading observed on the next valid tick.
func (h *Heading) CaptureTarget() { h.wantTarget = true }

func (h *Heading) State() HeadingState { return h.state }

// Step consumes one telemetry sample. It returns the yaw-rate command and
// true only when the hold is engaged and the vehicle has positive thrust.
func (h *Heading) Step(t vehicle.Telemetry) (float64, bool) {
	h.engaged = false
	h.yawRate = 0

	rawX, rawY := t.MagX, t.MagY
	if !h.x.Seeded() || !h.y.Seeded() {
		sx := h.seed(&h.x, rawX)
		sy := h.seed(&h.y, rawY)
		switch {
		case sx && sy:
			h.state = Active
			h.log.Debugw("heading calibrators seeded", "mag_x", rawX, "mag_y", rawY)
		case sx || sy:
			h.state = Calibrating
			return 0, false
		default:
			return 0, false
		}
	}

	h.x.Observe(rawX)
	h.y.Observe(rawY)

	if h.wantTarget {
		h.x.Capture(rawX)
		h.y.Capture(rawY)
		h.loop.Reset()
		h.wantTarget = false
		h.log.Debugw("heading target captured", "mag_x", rawX, "mag_y", rawY)
	}

	h.angle = math.Atan2(h.y.Normalize(rawY), h.x.Normalize(rawX))
	refX, _ := h.x.Reference()
	refY, _ := h.y.Reference()
	h.target = math.Atan2(h.y.Normalize(refY), h.x.Normalize(refX))
	h.err = WrapAngle(h.angle - h.target)

	if !h.auto || t.Thrust <= 0 {
		return 0, false
	}
	h.yawRate = h.loop.Update(h.err)
	h.engaged = true
	h.log.Debugw("heading", "angle", h.angle, "target", h.target, "error", h.err, "yaw", h.yawRate)
	return h.yawRate, true
}

// seed seeds c from raw and, on the seeding sample, makes raw the default
// reference so there is always a target once the axis is live.
func (h *Heading) seed(c *control.Calibrator, raw float64) bool {
	if c.Seeded() {
		return true
	}
	if !c.Seed(raw) {
		return false
	}
	c.Capture(raw)
	return true
}

func (h *Heading) Snapshot() HeadingSnapshot {
	return HeadingSnapshot{
		State:   h.state.String(),
		Auto:    h.auto,
		Angle:   h.angle,
		Target:  h.target,
		Error:   h.err,
		YawRate: h.yawRate,
		Engaged: h.engaged,
	}
}

// WrapAngle maps a difference of two angles in (-π, π] back into (-π, π].
// It corrects by at most one period.
func WrapAngle(a float64) float64 {
	if a > math.Pi {
		return a - 2*math.Pi
	}
	if a <= -math.Pi {
		return a + 2*math.Pi
	}
	return a
}
