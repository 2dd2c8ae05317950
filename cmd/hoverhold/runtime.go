package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hoverhold/internal/bench"
	"hoverhold/internal/config"
	"hoverhold/internal/control"
	"hoverhold/internal/input"
	"hoverhold/internal/link"
	"hoverhold/internal/logging"
	"hoverhold/internal/replay"
	"hoverhold/internal/sim"
	"hoverhold/internal/station"
	"hoverhold/internal/vehicle"
	"hoverhold/internal/vision"
	"hoverhold/internal/web"
)

type runOptions struct {
	ConfigPath string
	Auto       bool
	// Level, if set, follows log.level on config reload.
	Level      *zap.AtomicLevel
}

// runtime owns everything the run command opens.
type runtime struct {
	cfg   config.Config
	opts  runOptions
	clk   clock.Clock
	log   *zap.SugaredLogger
	start time.Time

	station *station.Station
	status  *web.Status
	logs    *web.LogBuffer
	rec     *replay.Writer

	tasks   []func(context.Context) error
	closers []io.Closer
}

func newRuntime(cfg config.Config, opts runOptions, clk clock.Clock, log *zap.SugaredLogger, logs *web.LogBuffer) (*runtime, error) {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	rt := &runtime{
		cfg:    cfg,
		opts:   opts,
		clk:    clk,
		log:    log,
		start:  clk.Now(),
		status: web.NewStatus(),
		logs:   logs,
	}
	rt.status.SetStatic(cfg.Link.Transport, opts.ConfigPath)
	fail := func(err error) (*runtime, error) {
		_ = rt.Close()
		return nil, err
	}

	if cfg.Record.Enable {
		w, err := replay.CreateWriter(cfg.Record.Path, rt.start)
		if err != nil {
			return fail(err)
		}
		rt.rec = w
		rt.closers = append(rt.closers, w)
		log.Infow("recording session", "path", cfg.Record.Path)
	}

	tel, sink, simVehicle, err := rt.openTransport()
	if err != nil {
		return fail(err)
	}
	vis, err := rt.openVision(simVehicle)
	if err != nil {
		return fail(err)
	}
	manual, err := rt.openInput()
	if err != nil {
		return fail(err)
	}

	deps := station.Deps{
		Telemetry: tel,
		Vision:    vis,
		Manual:    manual,
		Sink:      sink,
		Clock:     clk,
		Logger:    log.Named("station"),
	}
	// Link transports record raw packets through their tap. The others
	// record what the loop saw and sent.
	if rt.rec != nil && !isLinkTransport(cfg.Link.Transport) {
		deps.Observer = rt.recordTick
	}
	st, err := station.New(deps, cfg.Station())
	if err != nil {
		return fail(err)
	}
	rt.station = st
	return rt, nil
}

func isLinkTransport(t string) bool {
	return t == config.TransportUDP || t == config.TransportSerial
}

func (rt *runtime) openTransport() (vehicle.TelemetrySource, vehicle.CommandSink, *sim.Vehicle, error) {
	cfg := rt.cfg
	switch cfg.Link.Transport {
	case config.TransportSim:
		var scn *sim.Scenario
		if cfg.Sim.Scenario != "" {
			script, err := sim.LoadScenarioScript(cfg.Sim.Scenario)
			if err != nil {
				return nil, nil, nil, errors.Wrapf(err, "load sim scenario %s", cfg.Sim.Scenario)
			}
			scn, err = sim.NewScenario(script)
			if err != nil {
				return nil, nil, nil, err
			}
		}
		v := sim.NewVehicle(cfg.Sim.Vehicle, rt.clk, scn)
		rt.status.AddSource("sim", func() any { return v.State() })
		return v, v, v, nil

	case config.TransportUDP, config.TransportSerial:
		var (
			t   link.Transport
			err error
		)
		if cfg.Link.Transport == config.TransportUDP {
			t, err = link.DialUDP(cfg.Link.UDP.Dest)
		} else {
			t, err = link.OpenSerial(cfg.Link.Serial.Port, cfg.Link.Serial.Baud)
		}
		if err != nil {
			return nil, nil, nil, err
		}
		var tap link.Tap
		if rt.rec != nil {
			tap = rt.rec.Tap
		}
		l := link.New(t, rt.clk, rt.log.Named("link"), tap)
		rt.closers = append(rt.closers, l)
		rt.tasks = append(rt.tasks, linkTask(l))
		rt.status.AddSource("link", func() any { return l.Stats() })
		return l, l, nil, nil

	case config.TransportBench:
		svc, err := bench.Open(cfg.Bench, rt.clk, rt.log.Named("bench"))
		if err != nil {
			return nil, nil, nil, err
		}
		rt.closers = append(rt.closers, svc)
		rt.tasks = append(rt.tasks, svc.Run)
		rt.status.AddSource("bench", func() any { return svc.Snapshot() })
		return svc, benchSink{log: rt.log.Named("bench")}, nil, nil
	}
	return nil, nil, nil, errors.Errorf("unknown transport %q", cfg.Link.Transport)
}

// linkTask runs the receive loop of l. A failed transport ends the run.
func linkTask(l *link.Link) func(context.Context) error {
	return func(ctx context.Context) error {
		l.Start(ctx)
		select {
		case <-ctx.Done():
		case <-l.Done():
			if err := l.Err(); err != nil {
				return errors.Wrap(err, "link")
			}
		}
		return nil
	}
}

// benchSink takes the frames of a bench run, where no radio is attached.
type benchSink struct {
	log *zap.SugaredLogger
}

func (s benchSink) Send(_ context.Context, f vehicle.Frame) error {
	s.log.Debugw("frame", "roll", f.Roll, "pitch", f.Pitch, "yaw_rate", f.YawRate, "thrust", f.Thrust)
	return nil
}

func (rt *runtime) openVision(v *sim.Vehicle) (vehicle.VisionSource, error) {
	cfg := rt.cfg.Vision
	switch cfg.Source {
	case config.VisionSim:
		if v == nil {
			return nil, errors.New("vision.source 'sim' needs the simulated vehicle")
		}
		return sim.NewCamera(v, cfg.Width, cfg.Height, rt.cfg.Sim.PxPerMetre), nil
	case config.VisionDir:
		src, err := vision.NewDirSource(cfg.Dir, vision.NewDetector(cfg.Detector))
		if err != nil {
			return nil, err
		}
		rt.status.AddSource("vision", func() any { return src.LastRegion() })
		return src, nil
	}
	return nil, nil
}

func (rt *runtime) openInput() (vehicle.ManualSource, error) {
	cfg := rt.cfg.Input
	var sources []vehicle.ManualSource

	if cfg.Joystick.Enable {
		js, err := input.OpenJoystick(cfg.Joystick.Device, cfg.Joystick.Mapping, rt.log.Named("joystick"))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, js)
		rt.tasks = append(rt.tasks, func(ctx context.Context) error {
			select {
			case <-ctx.Done():
			case <-js.Done():
				if err := js.Err(); err != nil {
					return errors.Wrap(err, "joystick")
				}
				rt.log.Warnw("joystick closed; axes stay at their last values")
			}
			return nil
		})
		sources = append(sources, js)
	}
	if cfg.Buttons.Enabled() {
		b, err := input.OpenButtons(cfg.Buttons, rt.log.Named("buttons"))
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, b)
		sources = append(sources, b)
	}
	if rt.opts.Auto {
		sources = append(sources, input.NewScript(vehicle.ManualInput{Events: []vehicle.Event{vehicle.EventToggleAuto}}))
	}

	if len(sources) == 0 {
		return input.Neutral{}, nil
	}
	return input.Merge(sources[0], sources[1:]...), nil
}

func (rt *runtime) recordTick(t station.Tick) {
	rt.rec.Tap(link.Rx, t.At, link.EncodeTelemetry(0, t.At.Sub(rt.start), t.Telemetry))
	rt.rec.Tap(link.Tx, t.At, link.EncodeSetpoint(t.Frame))
}

// applyConfig pushes a reloaded configuration into the running loop. Only
// gains and the log level apply live.
func (rt *runtime) applyConfig(cfg config.Config) {
	current := rt.station.Gains()
	changed := make(map[string]control.Gains)
	for _, name := range station.LoopNames() {
		if g, ok := cfg.Gains[name]; ok && g != current[name] {
			changed[name] = g
		}
	}
	if len(changed) > 0 {
		if err := rt.station.TuneAll(changed); err != nil {
			rt.log.Warnw("gain reload rejected", "error", err)
		}
	}
	if rt.opts.Level != nil && cfg.Log.Level != rt.opts.Level.String() {
		if err := rt.opts.Level.UnmarshalText([]byte(cfg.Log.Level)); err == nil {
			rt.log.Infow("log level changed", "level", cfg.Log.Level)
		}
	}
}

// Run blocks until ctx is done or any part of the runtime fails.
func (rt *runtime) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, task := range rt.tasks {
		task := task
		g.Go(func() error { return task(ctx) })
	}
	if rt.cfg.Web.Enable {
		h := web.Handler(rt.station, rt.status, rt.logs)
		g.Go(func() error { return web.Serve(ctx, rt.cfg.Web.Listen, h) })
		rt.log.Infow("web listening", "addr", rt.cfg.Web.Listen)
	}
	if rt.opts.ConfigPath != "" {
		g.Go(func() error {
			return config.Watch(ctx, rt.opts.ConfigPath, rt.log.Named("config"), rt.applyConfig)
		})
	}
	g.Go(func() error { return rt.station.Run(ctx) })
	return g.Wait()
}

// Close releases everything in reverse order of opening.
func (rt *runtime) Close() error {
	var err error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, rt.closers[i].Close())
	}
	rt.closers = nil
	return err
}

func runAction(c *cli.Context) error {
	path := c.String(flagConfig)
	cfg, err := config.Load(path)
	if err != nil {
		return errors.Wrapf(err, "load config %s", path)
	}

	logs := web.NewLogBuffer(cfg.Log.BufferLines)
	log, level, err := logging.New(cfg.Log.Level, logs)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := newRuntime(cfg, runOptions{ConfigPath: path, Auto: c.Bool(flagAuto), Level: &level}, clock.New(), log, logs)
	if err != nil {
		return err
	}
	log.Infow("hoverhold starting",
		"transport", cfg.Link.Transport,
		"vision", cfg.Vision.Source,
		"period", cfg.Loop.Period,
		"record", cfg.Record.Enable,
	)

	err = rt.Run(ctx)
	err = multierr.Append(err, rt.Close())
	log.Infow("hoverhold stopping")
	return err
}
