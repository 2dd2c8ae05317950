package input

import (
	"io"
	"sync"

	"go.uber.org/multierr"

	"hoverhold/internal/vehicle"
)

// ButtonsConfig maps BCM GPIO numbers to operator events. Zero disables a
// button. Buttons are active-low with the internal pull-up enabled.
type ButtonsConfig struct {
	TrimUp     int `yaml:"trim_up"`
	TrimDown   int `yaml:"trim_down"`
	Toggle     int `yaml:"toggle"`
	Capture    int `yaml:"capture"`
	DebounceMs int `yaml:"debounce_ms"`
}

func (c ButtonsConfig) Enabled() bool {
	return c.TrimUp > 0 || c.TrimDown > 0 || c.Toggle > 0 || c.Capture > 0
}

func (c ButtonsConfig) pins() map[int]vehicle.Event {
	m := map[int]vehicle.Event{}
	for pin, ev := range map[int]vehicle.Event{
		c.TrimUp:   vehicle.EventTrimUp,
		c.TrimDown: vehicle.EventTrimDown,
		c.Toggle:   vehicle.EventToggleAuto,
		c.Capture:  vehicle.EventCaptureHeading,
	} {
		if pin > 0 {
			m[pin] = ev
		}
	}
	return m
}

// Buttons is a ManualSource that only produces events. Axes are always zero.
type Buttons struct {
	mu      sync.Mutex
	pending []vehicle.Event
	lines   []io.Closer
}

func (b *Buttons) press(ev vehicle.Event) {
	b.mu.Lock()
	b.pending = append(b.pending, ev)
	b.mu.Unlock()
}

func (b *Buttons) Poll() vehicle.ManualInput {
	b.mu.Lock()
	defer b.mu.Unlock()
	in := vehicle.ManualInput{Events: b.pending}
	b.pending = nil
	return in
}

func (b *Buttons) Close() error {
	var err error
	for _, l := range b.lines {
		err = multierr.Append(err, l.Close())
	}
	b.lines = nil
	return err
}
