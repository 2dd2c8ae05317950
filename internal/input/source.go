// Package input adapts operator controls (a joystick, GPIO push-buttons) to
// vehicle.ManualSource.
package input

import "hoverhold/internal/vehicle"

// Neutral holds every axis at zero and never produces events.
type Neutral struct{}

func (Neutral) Poll() vehicle.ManualInput { return vehicle.ManualInput{} }

// Merge polls every source each tick. Axes come from the first source and
// events from all of them, in source order.
func Merge(primary vehicle.ManualSource, others ...vehicle.ManualSource) vehicle.ManualSource {
	if len(others) == 0 {
		return primary
	}
	return merged(append([]vehicle.ManualSource{primary}, others...))
}

type merged []vehicle.ManualSource

func (m merged) Poll() vehicle.ManualInput {
	in := m[0].Poll()
	for _, s := range m[1:] {
		in.Events = append(in.Events, s.Poll().Events...)
	}
	return in
}

// Script replays a fixed sequence of inputs, one per poll, then repeats the
// last one without its events.
type Script struct {
	steps []vehicle.ManualInput
	next  int
}

func NewScript(steps ...vehicle.ManualInput) *Script {
	return &Script{steps: steps}
}

func (s *Script) Poll() vehicle.ManualInput {
	if len(s.steps) == 0 {
		return vehicle.ManualInput{}
	}
	if s.next < len(s.steps) {
		in := s.steps[s.next]
		s.next++
		return in
	}
	in := s.steps[len(s.steps)-1]
	in.Events = nil
	return in
}
