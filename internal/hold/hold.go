// Package hold implements the autonomous hold modes: compass heading,
// barometric altitude and camera position. Each controller owns its own
// feedback loops and calibration state and is driven from a single goroutine.
package hold

import (
	"go.uber.org/zap"
)

// Loop is the part of a feedback controller the hold modes drive.
// *control.PID satisfies it. Reset is called when a hold captures a new
// target, so no integral or derivative history carries across engagements.
type Loop interface {
	Update(measured float64) float64
	SetSetpoint(v float64)
	Reset()
}

// Throttle range of the flight controller, in thrust units.
const (
	ThrustMin = 0
	ThrustMax = 60000
)

func clampThrust(v int) int {
	if v < ThrustMin {
		return ThrustMin
	}
	if v > ThrustMax {
		return ThrustMax
	}
	return v
}

func nopIfNil(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}
