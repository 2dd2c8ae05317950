// Package vehicle defines the capabilities the ground station consumes from
// its collaborators: the telemetry source, the vision source, the manual
// input source and the command sink.
//
// By convention a telemetry field that has never been populated reads as
// exactly zero.
package vehicle

import (
	"context"
	"time"
)

// Telemetry is the latest sample reported by the vehicle (or a bench rig).
type Telemetry struct {
	At time.Time `json:"at"`

	// Pressure is barometric pressure in hPa.
	Pressure float64 `json:"pressure"`

	// Unscaled magnetometer counts.
	MagX float64 `json:"mag_x"`
	MagY float64 `json:"mag_y"`
	MagZ float64 `json:"mag_z"`

	AccX float64 `json:"acc_x"`
	AccY float64 `json:"acc_y"`
	AccZ float64 `json:"acc_z"`

	// Thrust is the thrust the flight controller is currently applying.
	Thrust int `json:"thrust"`
}

// Observation is one vision result: the centroid of the largest detected
// region, in pixels, or Found=false.
type Observation struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Found bool    `json:"found"`
}

// Event is a discrete, edge-triggered operator action.
type Event int

const (
	EventNone Event = iota
	EventTrimUp
	EventTrimDown
	EventToggleAuto
	EventCaptureHeading
)

func (e Event) String() string {
	switch e {
	case EventTrimUp:
		return "trim_up"
	case EventTrimDown:
		return "trim_down"
	case EventToggleAuto:
		return "toggle_auto"
	case EventCaptureHeading:
		return "capture_heading"
	default:
		return "none"
	}
}

// ManualInput is one poll of the operator's controls. Roll, pitch and yaw are
// in [-1, 1]; thrust is in [0, 1]. Events are in the order they happened.
type ManualInput struct {
	Roll   float64
	Pitch  float64
	Yaw    float64
	Thrust float64
	Events []Event
}

// Frame is one command for the flight controller.
type Frame struct {
	Roll    float64 `json:"roll"`
	Pitch   float64 `json:"pitch"`
	YawRate float64 `json:"yaw_rate"`
	Thrust  int     `json:"thrust"`
}

// TelemetrySource yields the most recent telemetry sample without blocking.
type TelemetrySource interface {
	Latest() Telemetry
}

// VisionSource yields one observation per call. It may block for at most
// one frame interval.
type VisionSource interface {
	Next(ctx context.Context) (Observation, error)
}

// ManualSource yields the operator's current axes and any events since the
// previous poll.
type ManualSource interface {
	Poll() ManualInput
}

// CommandSink accepts one frame per tick. A returned error means the link is
// unusable.
type CommandSink interface {
	Send(ctx context.Context, f Frame) error
}

// NoVision is a VisionSource that never detects anything.
type NoVision struct{}

func (NoVision) Next(context.Context) (Observation, error) { return Observation{}, nil }
