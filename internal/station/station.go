// Package station runs the ground station's fixed-rate control loop: poll the
// operator, read telemetry and vision, step the hold modes, merge and send one
// command frame per tick.
package station

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"hoverhold/internal/arbiter"
	"hoverhold/internal/control"
	"hoverhold/internal/hold"
	"hoverhold/internal/vehicle"
)

// Loop names accepted by Tune.
const (
	LoopHeading   = "heading"
	LoopAltitude  = "altitude"
	LoopPositionX = "position_x"
	LoopPositionY = "position_y"
)

// Config is everything the loop needs besides its collaborators.
type Config struct {
	Period time.Duration

	Arbiter arbiter.Config

	// Gains per loop name. Missing entries use DefaultGains.
	Gains map[string]control.Gains

	HeadingWiden float64

	// Kalman smoothing of pressure before the altitude loop.
	SmoothPressure bool
	PressureQ      float64
	PressureR      float64

	FrameWidth  int
	FrameHeight int

	// StatusEvery controls the periodic telemetry log. Zero disables it.
	StatusEvery time.Duration
}

// DefaultGains returns the stock gains for each loop.
func DefaultGains() map[string]control.Gains {
	return map[string]control.Gains{
		LoopHeading:   {Kp: 100, Ki: 0, Kd: 0, IntegralLimit: 100, OutMin: -100, OutMax: 100},
		LoopAltitude:  {Kp: 10000, Ki: 5000, Kd: 15000, IntegralLimit: 50000, OutMin: -4000, OutMax: 4000},
		LoopPositionX: {Kp: 0.5, Ki: 0.2, Kd: 0.75, IntegralLimit: 100, OutMin: -10, OutMax: 10},
		LoopPositionY: {Kp: 0.5, Ki: 0.2, Kd: 0.75, IntegralLimit: 100, OutMin: -10, OutMax: 10},
	}
}

// DefaultConfig is a 16 ms loop on a 640×480 camera.
func DefaultConfig() Config {
	return Config{
		Period:       16 * time.Millisecond,
		Arbiter:      arbiter.DefaultConfig(),
		Gains:        DefaultGains(),
		HeadingWiden: 0.001,
		PressureQ:    1e-4,
		PressureR:    0.05,
		FrameWidth:   640,
		FrameHeight:  480,
		StatusEvery:  time.Second,
	}
}

// Deps are the station's collaborators. Vision may be nil.
type Deps struct {
	Telemetry vehicle.TelemetrySource
	Vision    vehicle.VisionSource
	Manual    vehicle.ManualSource
	Sink      vehicle.CommandSink

	Clock  clock.Clock
	Logger *zap.SugaredLogger

	// Observer, if set, sees every completed tick.
	Observer func(Tick)
}

// Tick is the record of one completed loop iteration.
type Tick struct {
	Seq         uint64              `json:"seq"`
	At          time.Time           `json:"at"`
	Mode        string              `json:"mode"`
	Input       vehicle.ManualInput `json:"-"`
	Telemetry   vehicle.Telemetry   `json:"telemetry"`
	Observation vehicle.Observation `json:"observation"`
	Frame       vehicle.Frame       `json:"frame"`
}

// Station owns every controller. Step and Run must be called from one
// goroutine; Status, Gains, Tune and TuneAll are safe from any goroutine.
type Station struct {
	cfg  Config
	deps Deps
	clk  clock.Clock
	log  *zap.SugaredLogger

	loops    map[string]*control.PID
	heading  *hold.Heading
	altitude *hold.Altitude
	position *hold.Position
	arb      *arbiter.Arbiter

	tuneCh chan map[string]control.Gains

	seq        uint64
	lastFrame  vehicle.Frame
	sent       bool
	lastStatus time.Time

	mu     sync.RWMutex
	status Status
	gains  map[string]control.Gains
}

// New builds the controllers. Invalid gains are a construction error.
func New(deps Deps, cfg Config) (*Station, error) {
	if deps.Telemetry == nil || deps.Manual == nil || deps.Sink == nil {
		return nil, errors.New("station: telemetry, manual and sink are required")
	}
	if deps.Vision == nil {
		deps.Vision = vehicle.NoVision{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop().Sugar()
	}
	if cfg.Period <= 0 {
		return nil, errors.Errorf("station: period %s must be > 0", cfg.Period)
	}

	s := &Station{
		cfg:    cfg,
		deps:   deps,
		clk:    deps.Clock,
		log:    deps.Logger,
		loops:  map[string]*control.PID{},
		tuneCh: make(chan map[string]control.Gains, 16),
		gains:  map[string]control.Gains{},
	}

	defaults := DefaultGains()
	for _, name := range LoopNames() {
		g, ok := cfg.Gains[name]
		if !ok {
			g = defaults[name]
		}
		pid, err := control.New(g, s.clk)
		if err != nil {
			return nil, errors.Wrapf(err, "station: %s gains", name)
		}
		s.loops[name] = pid
		s.gains[name] = g
	}

	var smooth hold.Smoother
	if cfg.SmoothPressure {
		k, err := control.NewScalarKalman(cfg.PressureQ, cfg.PressureR)
		if err != nil {
			return nil, errors.Wrap(err, "station: pressure smoothing")
		}
		smooth = k
	}

	s.heading = hold.NewHeading(s.loops[LoopHeading], cfg.HeadingWiden, s.log.Named("heading"))
	s.altitude = hold.NewAltitude(s.loops[LoopAltitude], smooth, s.log.Named("altitude"))
	s.position = hold.NewPosition(s.loops[LoopPositionX], s.loops[LoopPositionY], cfg.FrameWidth, cfg.FrameHeight, s.log.Named("position"))
	s.arb = arbiter.New(cfg.Arbiter)
	s.publish(Tick{Mode: s.arb.Mode().String()})
	return s, nil
}

// LoopNames lists the tunable loops in a stable order.
func LoopNames() []string {
	names := []string{LoopHeading, LoopAltitude, LoopPositionX, LoopPositionY}
	sort.Strings(names)
	return names
}

// Tune queues new gains for a loop. They take effect at the start of the
// next tick, before any controller update.
func (s *Station) Tune(name string, g control.Gains) error {
	return s.TuneAll(map[string]control.Gains{name: g})
}

// TuneAll queues gains for several loops as one unit: either every entry is
// applied on the same tick or, if any entry is invalid or the queue is full,
// none is.
func (s *Station) TuneAll(batch map[string]control.Gains) error {
	if len(batch) == 0 {
		return errors.New("station: no gains given")
	}
	cp := make(map[string]control.Gains, len(batch))
	for name, g := range batch {
		if _, ok := s.loops[name]; !ok {
			return errors.Errorf("station: unknown loop %q", name)
		}
		if err := g.Validate(); err != nil {
			return errors.Wrapf(err, "station: loop %s", name)
		}
		cp[name] = g
	}
	select {
	case s.tuneCh <- cp:
		return nil
	default:
		return errors.New("station: tuning queue full")
	}
}

// Gains returns the gains currently in effect.
func (s *Station) Gains() map[string]control.Gains {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]control.Gains, len(s.gains))
	for k, v := range s.gains {
		out[k] = v
	}
	return out
}

// Run ticks until ctx is done. A send failure stops the loop and is returned.
func (s *Station) Run(ctx context.Context) error {
	ticker := s.clk.Ticker(s.cfg.Period)
	defer ticker.Stop()

	s.log.Infow("station running", "period", s.cfg.Period)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Step(ctx); err != nil {
				return err
			}
		}
	}
}

// Step runs exactly one tick.
func (s *Station) Step(ctx context.Context) error {
	s.applyTuning()

	tel := s.deps.Telemetry.Latest()
	commanded := tel.Thrust
	if s.sent {
		commanded = s.lastFrame.Thrust
	}

	in := s.deps.Manual.Poll()
	for _, ev := range in.Events {
		s.handle(ev, tel, commanded)
	}

	obs, err := s.deps.Vision.Next(ctx)
	if err != nil {
		s.log.Warnw("vision frame unavailable", "error", err)
		obs = vehicle.Observation{}
	}

	ht := tel
	ht.Thrust = commanded
	yaw, haveYaw := s.heading.Step(ht)
	thrust, haveThrust := s.altitude.Step(tel.Pressure)
	roll, pitch, havePos := s.position.Step(obs)

	f := s.arb.Merge(arbiter.Inputs{
		Manual:       in,
		YawRate:      yaw,
		HaveYaw:      haveYaw,
		Thrust:       thrust,
		HaveThrust:   haveThrust,
		Roll:         roll,
		Pitch:        pitch,
		HavePosition: havePos,
	})

	if err := s.deps.Sink.Send(ctx, f); err != nil {
		return errors.Wrap(err, "station: send frame")
	}
	s.lastFrame = f
	s.sent = true
	s.seq++

	tick := Tick{
		Seq:         s.seq,
		At:          s.clk.Now(),
		Mode:        s.arb.Mode().String(),
		Input:       in,
		Telemetry:   tel,
		Observation: obs,
		Frame:       f,
	}
	s.publish(tick)
	s.maybeLogStatus(tick)
	if s.deps.Observer != nil {
		s.deps.Observer(tick)
	}
	return nil
}

func (s *Station) handle(ev vehicle.Event, tel vehicle.Telemetry, commanded int) {
	switch ev {
	case vehicle.EventToggleAuto:
		mode := s.arb.Toggle()
		auto := mode == arbiter.Auto
		s.heading.SetAuto(auto)
		s.altitude.SetAuto(auto, tel.Pressure, commanded)
		s.position.SetAuto(auto)
		s.log.Infow("mode changed", "mode", mode.String(), "pressure", tel.Pressure, "thrust", commanded)
	case vehicle.EventTrimUp:
		s.log.Infow("throttle ceiling trimmed", "ceiling", s.arb.TrimUp())
	case vehicle.EventTrimDown:
		s.log.Infow("throttle ceiling trimmed", "ceiling", s.arb.TrimDown())
	case vehicle.EventCaptureHeading:
		s.heading.CaptureTarget()
		s.log.Infow("heading target capture requested")
	}
}

func (s *Station) applyTuning() {
	for {
		select {
		case batch := <-s.tuneCh:
			names := make([]string, 0, len(batch))
			for name := range batch {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				g := batch[name]
				if err := s.loops[name].SetGains(g); err != nil {
					s.log.Warnw("rejected gains", "loop", name, "error", err)
					continue
				}
				s.mu.Lock()
				s.gains[name] = g
				s.mu.Unlock()
				s.log.Infow("gains updated", "loop", name, "gains", g)
			}
		default:
			return
		}
	}
}

func (s *Station) maybeLogStatus(t Tick) {
	if s.cfg.StatusEvery <= 0 {
		return
	}
	if !s.lastStatus.IsZero() && t.At.Sub(s.lastStatus) < s.cfg.StatusEvery {
		return
	}
	s.lastStatus = t.At
	s.log.Infow("status",
		"mode", t.Mode,
		"thrust", t.Telemetry.Thrust,
		"pressure", t.Telemetry.Pressure,
		"mag_x", t.Telemetry.MagX,
		"mag_y", t.Telemetry.MagY,
		"mag_z", t.Telemetry.MagZ,
		"acc_x", t.Telemetry.AccX,
		"acc_y", t.Telemetry.AccY,
		"acc_z", t.Telemetry.AccZ,
		"cmd", t.Frame,
	)
}
