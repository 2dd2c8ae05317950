package hold

import (
	"go.uber.org/zap"

	"hoverhold/internal/vehicle"
)

// PositionSnapshot is a read-only view for status reporting.
type PositionSnapshot struct {
	Auto    bool                `json:"auto"`
	TargetX float64             `json:"target_x"`
	TargetY float64             `json:"target_y"`
	Last    vehicle.Observation `json:"last"`
	Roll    float64             `json:"roll"`
	Pitch   float64             `json:"pitch"`
	Misses  int                 `json:"misses"`
}

// Position holds a target's image-plane centroid at the frame center, with
// one loop per image axis: x drives roll and y drives pitch.
type Position struct {
	x, y Loop
	log  *zap.SugaredLogger

	cx, cy float64
	auto   bool

	last        vehicle.Observation
	roll, pitch float64
	misses      int
}

// NewPosition fixes both loops' setpoints at the center of a width×height frame.
func NewPosition(x, y Loop, width, height int, log *zap.SugaredLogger) *Position {
	p := &Position{x: x, y: y, log: nopIfNil(log), cx: float64(width) / 2, cy: float64(height) / 2}
	x.SetSetpoint(p.cx)
	y.SetSetpoint(p.cy)
	return p
}

func (p *Position) SetAuto(auto bool) { p.auto = auto }

func (p *Position) Auto() bool { return p.auto }

// Step consumes one observation. While engaged it returns (roll, pitch) and
// true; without a detection the command is level, (0, 0), and the loops are
// left untouched.
func (p *Position) Step(obs vehicle.Observation) (roll, pitch float64, ok bool) {
	p.last = obs
	p.roll, p.pitch = 0, 0
	if !obs.Found {
		p.misses++
	} else {
		p.misses = 0
	}
	if !p.auto {
		return 0, 0, false
	}
	if !obs.Found {
		return 0, 0, true
	}
	p.roll = p.x.Update(obs.X)
	p.pitch = p.y.Update(obs.Y)
	p.log.Debugw("position", "x", obs.X, "y", obs.Y, "roll", p.roll, "pitch", p.pitch)
	return p.roll, p.pitch, true
}

func (p *Position) Snapshot() PositionSnapshot {
	return PositionSnapshot{
		Auto:    p.auto,
		TargetX: p.cx,
		TargetY: p.cy,
		Last:    p.last,
		Roll:    p.roll,
		Pitch:   p.pitch,
		Misses:  p.misses,
	}
}
