package station

import (
	"hoverhold/internal/hold"
)

// Status is a point-in-time view of the loop for the web UI and logs.
type Status struct {
	Tick     Tick                  `json:"tick"`
	Mode     string                `json:"mode"`
	Ceiling  int                   `json:"ceiling"`
	Heading  hold.HeadingSnapshot  `json:"heading"`
	Altitude hold.AltitudeSnapshot `json:"altitude"`
	Position hold.PositionSnapshot `json:"position"`
}

// Status returns the state as of the last completed tick.
func (s *Station) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Station) publish(t Tick) {
	st := Status{
		Tick:     t,
		Mode:     s.arb.Mode().String(),
		Ceiling:  s.arb.Ceiling(),
		Heading:  s.heading.Snapshot(),
		Altitude: s.altitude.Snapshot(),
		Position: s.position.Snapshot(),
	}
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}
