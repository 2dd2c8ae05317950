package main

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"hoverhold/internal/config"
	"hoverhold/internal/input"
	"hoverhold/internal/link"
	"hoverhold/internal/logging"
	"hoverhold/internal/replay"
	"hoverhold/internal/station"
	"hoverhold/internal/vehicle"
)

type replayOptions struct {
	Auto   bool
	Thrust float64
}

// recordedTelemetry hands the station whatever rx packet was decoded last.
type recordedTelemetry struct {
	latest vehicle.Telemetry
}

func (r *recordedTelemetry) Latest() vehicle.Telemetry { return r.latest }

type discardSink struct{}

func (discardSink) Send(context.Context, vehicle.Frame) error { return nil }

// mockSleeper advances a mock clock instead of waiting.
type mockSleeper struct {
	clk *clock.Mock
}

func (s mockSleeper) Sleep(d time.Duration) { s.clk.Add(d) }

var replayHeader = []string{"t_ms", "seq", "mode", "pressure", "mag_x", "mag_y", "roll", "pitch", "yaw_rate", "thrust"}

// replaySession runs one station tick per recorded rx telemetry packet, with
// a mock clock advanced by the recorded spacing, and writes each resulting
// frame to out as CSV. It returns the number of ticks.
func replaySession(ctx context.Context, records []replay.Record, cfg config.Config, opts replayOptions, out io.Writer, log *zap.SugaredLogger) (int, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	clk := clock.NewMock()
	start := clk.Now()
	tel := &recordedTelemetry{}

	first := vehicle.ManualInput{Thrust: opts.Thrust}
	if opts.Auto {
		first.Events = []vehicle.Event{vehicle.EventToggleAuto}
	}

	w := csv.NewWriter(out)
	if err := w.Write(replayHeader); err != nil {
		return 0, err
	}
	var writeErr error
	st, err := station.New(station.Deps{
		Telemetry: tel,
		Manual:    input.NewScript(first),
		Sink:      discardSink{},
		Clock:     clk,
		Logger:    log.Named("station"),
		Observer: func(t station.Tick) {
			writeErr = multierr.Append(writeErr, w.Write([]string{
				strconv.FormatInt(t.At.Sub(start).Milliseconds(), 10),
				strconv.FormatUint(t.Seq, 10),
				t.Mode,
				strconv.FormatFloat(t.Telemetry.Pressure, 'f', 2, 64),
				strconv.FormatFloat(t.Telemetry.MagX, 'f', 0, 64),
				strconv.FormatFloat(t.Telemetry.MagY, 'f', 0, 64),
				strconv.FormatFloat(t.Frame.Roll, 'f', 3, 64),
				strconv.FormatFloat(t.Frame.Pitch, 'f', 3, 64),
				strconv.FormatFloat(t.Frame.YawRate, 'f', 3, 64),
				strconv.Itoa(t.Frame.Thrust),
			}))
		},
	}, cfg.Station())
	if err != nil {
		return 0, err
	}

	ticks, skipped := 0, 0
	err = replay.Play(records, 1, false, mockSleeper{clk: clk}, func(r replay.Record) error {
		if r.Dir != link.Rx {
			return nil
		}
		t, err := link.DecodeTelemetry(r.Packet, clk.Now())
		if err != nil {
			skipped++
			log.Debugw("skipping rx packet", "at", r.At, "error", err)
			return nil
		}
		tel.latest = t
		ticks++
		return st.Step(ctx)
	})
	if skipped > 0 {
		log.Infow("replay skipped undecodable packets", "count", skipped)
	}
	w.Flush()
	return ticks, multierr.Combine(err, writeErr, w.Error())
}

func replayAction(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return errors.New("replay: session path is required")
	}

	cfg := config.Default()
	if p := c.String(flagConfig); p != "" {
		var err error
		if cfg, err = config.Load(p); err != nil {
			return errors.Wrapf(err, "load config %s", p)
		}
	}
	thrust := c.Float64(flagThrust)
	if thrust < 0 || thrust > 1 {
		return errors.Errorf("replay: --%s must be in [0,1]", flagThrust)
	}

	log, _, err := logging.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	records, err := replay.Open(path)
	if err != nil {
		return err
	}
	ticks, err := replaySession(c.Context, records, cfg, replayOptions{Auto: c.Bool(flagAuto), Thrust: thrust}, os.Stdout, log)
	if err != nil {
		return err
	}
	log.Infow("replay finished", "path", path, "ticks", ticks)
	return nil
}
