package sim

import (
	"context"

	"hoverhold/internal/vehicle"
)

// Camera is a downward camera on a simulated Vehicle. It implements
// vehicle.VisionSource.
type Camera struct {
	v             *Vehicle
	width, height int
	pxPerMetre    float64
}

func NewCamera(v *Vehicle, width, height int, pxPerMetre float64) *Camera {
	if pxPerMetre <= 0 {
		pxPerMetre = 100
	}
	return &Camera{v: v, width: width, height: height, pxPerMetre: pxPerMetre}
}

// Next reports where the ground target appears in the frame. A vehicle
// offset of +x puts the target right of center. Outside the frame there is
// no detection.
func (c *Camera) Next(ctx context.Context) (vehicle.Observation, error) {
	if err := ctx.Err(); err != nil {
		return vehicle.Observation{}, err
	}
	s := c.v.State()
	px := float64(c.width)/2 + (s.X-s.TargetX)*c.pxPerMetre
	py := float64(c.height)/2 + (s.Y-s.TargetY)*c.pxPerMetre
	if px < 0 || py < 0 || px >= float64(c.width) || py >= float64(c.height) {
		return vehicle.Observation{}, nil
	}
	return vehicle.Observation{X: px, Y: py, Found: true}, nil
}
