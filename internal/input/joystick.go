package input

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"hoverhold/internal/vehicle"
)

// Linux joystick API (linux/joystick.h).
const (
	jsEventButton = 0x01
	jsEventAxis   = 0x02
	jsEventInit   = 0x80

	jsEventLen = 8
	axisMax    = 32767
)

// Mapping assigns joystick axes and buttons. A negative button disables it.
type Mapping struct {
	RollAxis    int  `yaml:"roll_axis"`
	PitchAxis   int  `yaml:"pitch_axis"`
	YawAxis     int  `yaml:"yaw_axis"`
	ThrustAxis  int  `yaml:"thrust_axis"`
	InvertPitch bool `yaml:"invert_pitch"`

	TrimUpButton   int `yaml:"trim_up_button"`
	TrimDownButton int `yaml:"trim_down_button"`
	ToggleButton   int `yaml:"toggle_button"`
	CaptureButton  int `yaml:"capture_button"`
}

// Xbox360Linux is the xpad driver layout: left stick rolls and pitches, right
// stick yaws, right trigger is thrust. Y raises the ceiling, A lowers it, B
// toggles auto and X re-captures the heading target.
func Xbox360Linux() Mapping {
	return Mapping{
		RollAxis:       0,
		PitchAxis:      1,
		YawAxis:        2,
		ThrustAxis:     4,
		InvertPitch:    true,
		TrimUpButton:   3,
		TrimDownButton: 0,
		ToggleButton:   1,
		CaptureButton:  2,
	}
}

// Joystick decodes /dev/input/jsN events into a ManualSource.
type Joystick struct {
	m   Mapping
	log *zap.SugaredLogger

	mu     sync.Mutex
	axes   map[int]float64
	moved  bool // thrust axis has reported a nonzero value
	events []vehicle.Event

	f    io.Closer
	done chan struct{}
	err  error
}

func NewJoystick(m Mapping, log *zap.SugaredLogger) *Joystick {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Joystick{m: m, log: log, axes: map[int]float64{}, done: make(chan struct{})}
}

// OpenJoystick opens a joystick device and decodes it on its own goroutine
// until Close.
func OpenJoystick(path string, m Mapping, log *zap.SugaredLogger) (*Joystick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "input: open joystick")
	}
	j := NewJoystick(m, log)
	j.f = f
	go func() {
		defer close(j.done)
		if err := j.Consume(f); err != nil {
			j.mu.Lock()
			j.err = err
			j.mu.Unlock()
			j.log.Warnw("joystick read stopped", "path", path, "error", err)
		}
	}()
	return j, nil
}

// Consume decodes events from r until it ends. A clean EOF returns nil.
func (j *Joystick) Consume(r io.Reader) error {
	var buf [jsEventLen]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "input: read joystick event")
		}
		j.handle(buf)
	}
}

func (j *Joystick) handle(buf [jsEventLen]byte) {
	value := int16(binary.LittleEndian.Uint16(buf[4:6]))
	typ := buf[6]
	num := int(buf[7])
	initial := typ&jsEventInit != 0

	j.mu.Lock()
	defer j.mu.Unlock()
	switch typ &^ jsEventInit {
	case jsEventAxis:
		v := float64(value) / axisMax
		if v < -1 {
			v = -1
		}
		j.axes[num] = v
		if num == j.m.ThrustAxis && value != 0 {
			j.moved = true
		}
	case jsEventButton:
		if initial || value == 0 {
			return
		}
		if ev := j.buttonEvent(num); ev != vehicle.EventNone {
			j.log.Debugw("joystick button", "button", num, "event", ev.String())
			j.events = append(j.events, ev)
		}
	}
}

func (j *Joystick) buttonEvent(num int) vehicle.Event {
	switch num {
	case j.m.TrimUpButton:
		return vehicle.EventTrimUp
	case j.m.TrimDownButton:
		return vehicle.EventTrimDown
	case j.m.ToggleButton:
		return vehicle.EventToggleAuto
	case j.m.CaptureButton:
		return vehicle.EventCaptureHeading
	}
	return vehicle.EventNone
}

// Poll returns the current axes and drains pending button events.
func (j *Joystick) Poll() vehicle.ManualInput {
	j.mu.Lock()
	defer j.mu.Unlock()
	in := vehicle.ManualInput{
		Roll:   j.axes[j.m.RollAxis],
		Pitch:  j.axes[j.m.PitchAxis],
		Yaw:    j.axes[j.m.YawAxis],
		Events: j.events,
	}
	if j.m.InvertPitch {
		in.Pitch = -in.Pitch
	}
	// The trigger rests at 0 until first touched, then at -1.
	if j.moved {
		in.Thrust = (j.axes[j.m.ThrustAxis] + 1) / 2
	}
	j.events = nil
	return in
}

// Done is closed when the device reader stops.
func (j *Joystick) Done() <-chan struct{} { return j.done }

// Err reports why the reader stopped, if it did.
func (j *Joystick) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

func (j *Joystick) Close() error {
	if j.f == nil {
		return nil
	}
	err := j.f.Close()
	j.f = nil
	return err
}
