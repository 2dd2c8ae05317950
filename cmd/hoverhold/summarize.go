package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gonum.org/v1/gonum/stat"

	"hoverhold/internal/link"
	"hoverhold/internal/replay"
)

type segmentSummary struct {
	Index    int
	Tx, Rx   int
	Invalid  int
	Duration time.Duration

	ThrustMean, ThrustStdDev   float64
	YawRateMean, YawRateStdDev float64
}

// summarizeSession reports, per segment, the packet counts and the spread
// of the commanded thrust and yaw rate.
func summarizeSession(records []replay.Record) []segmentSummary {
	var out []segmentSummary
	for _, seg := range replay.Segments(records) {
		s := segmentSummary{Index: seg.Index, Tx: seg.Tx, Rx: seg.Rx, Duration: seg.Duration}
		var thrust, yaw []float64
		for _, r := range seg.Records {
			if r.Dir != link.Tx {
				continue
			}
			f, err := link.DecodeSetpoint(r.Packet)
			if err != nil {
				s.Invalid++
				continue
			}
			thrust = append(thrust, float64(f.Thrust))
			yaw = append(yaw, f.YawRate)
		}
		s.ThrustMean, s.ThrustStdDev = meanStdDev(thrust)
		s.YawRateMean, s.YawRateStdDev = meanStdDev(yaw)
		out = append(out, s)
	}
	return out
}

func meanStdDev(x []float64) (mean, std float64) {
	switch len(x) {
	case 0:
		return 0, 0
	case 1:
		return x[0], 0
	}
	return stat.MeanStdDev(x, nil)
}

func printSummary(w io.Writer, path string, segs []segmentSummary) {
	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", len(segs))
	for _, s := range segs {
		fmt.Fprintf(w, "segment %d:\n", s.Index)
		fmt.Fprintf(w, "  duration: %s\n", s.Duration)
		fmt.Fprintf(w, "  tx: %d\n", s.Tx)
		fmt.Fprintf(w, "  rx: %d\n", s.Rx)
		fmt.Fprintf(w, "  invalid_tx: %d\n", s.Invalid)
		fmt.Fprintf(w, "  thrust: mean=%.1f stddev=%.1f\n", s.ThrustMean, s.ThrustStdDev)
		fmt.Fprintf(w, "  yaw_rate: mean=%.3f stddev=%.3f\n", s.YawRateMean, s.YawRateStdDev)
	}
}

func summarizeAction(c *cli.Context) error {
	path := strings.TrimSpace(c.Args().First())
	if path == "" {
		return errors.New("summarize: session path is required")
	}
	records, err := replay.Open(path)
	if err != nil {
		return err
	}
	printSummary(os.Stdout, path, summarizeSession(records))
	return nil
}
