// Package sweep drives repeated experiments over a parameter grid, one
// subprocess per point.
package sweep

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"crossbench/internal/config"
	"crossbench/internal/execx"
	"crossbench/internal/model"
)

// Point is one experiment of the grid.
type Point struct {
	Iteration  int
	Parameters model.ExperimentParameters
}

// Grid expands bandwidths x cross traffic x iterations. Iterations vary
// slowest so every parameter pair is covered once before any repeats.
func Grid(cfg config.SweepConfig) []Point {
	out := make([]Point, 0, cfg.Iterations*len(cfg.Bandwidths)*len(cfg.CrossTraffic))
	for i := 1; i <= cfg.Iterations; i++ {
		for _, bw := range cfg.Bandwidths {
			for _, ct := range cfg.CrossTraffic {
				out = append(out, Point{
					Iteration:  i,
					Parameters: model.ExperimentParameters{AvailableBandwidth: bw, CrossTraffic: ct},
				})
			}
		}
	}
	return out
}

// Parameters returns each distinct parameter pair of the grid once.
func Parameters(cfg config.SweepConfig) []model.ExperimentParameters {
	out := make([]model.ExperimentParameters, 0, len(cfg.Bandwidths)*len(cfg.CrossTraffic))
	for _, bw := range cfg.Bandwidths {
		for _, ct := range cfg.CrossTraffic {
			out = append(out, model.ExperimentParameters{AvailableBandwidth: bw, CrossTraffic: ct})
		}
	}
	return out
}

// Failed records one abandoned point.
type Failed struct {
	Point  Point
	Stage  string // reset or run
	Err    error
	Output string
}

// Summary is what a sweep did.
type Summary struct {
	Total     int
	Completed int
	Failed    []Failed
	Took      time.Duration
}

// Driver runs the experiment binary once per point.
type Driver struct {
	Runner execx.Runner
	// Self is the crossbench binary; ConfigPath is handed to every child.
	Self       string
	ConfigPath string
	Logger     logrus.FieldLogger
}

// ResetArgs returns the cleanup invocation run before every point.
func (d *Driver) ResetArgs() []string {
	return withConfig([]string{"cleanup"}, d.ConfigPath)
}

// RunArgs returns the experiment invocation for p.
func (d *Driver) RunArgs(p model.ExperimentParameters) []string {
	args := withConfig(nil, d.ConfigPath)
	return append(args, p.Record()...)
}

func withConfig(args []string, path string) []string {
	if path == "" {
		return args
	}
	return append(args, "--config", path)
}

// Run executes points strictly one after another. A failed reset or run
// abandons that point and the sweep moves on; only cancellation stops it.
func (d *Driver) Run(ctx context.Context, points []Point) (Summary, error) {
	log := d.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	begin := time.Now()
	sum := Summary{Total: len(points)}

	for i, pt := range points {
		if err := ctx.Err(); err != nil {
			sum.Took = time.Since(begin)
			return sum, errors.Wrap(err, "sweep interrupted")
		}
		plog := log.WithFields(logrus.Fields{
			"point":     i + 1,
			"of":        len(points),
			"iteration": pt.Iteration,
			"bw":        model.FormatMbps(pt.Parameters.AvailableBandwidth),
			"ct":        model.FormatMbps(pt.Parameters.CrossTraffic),
		})

		if out, err := d.Runner.Output(ctx, d.Self, d.ResetArgs()...); err != nil {
			plog.WithError(err).WithField("output", outputOf(out, err)).Error("reset failed, skipping point")
			sum.Failed = append(sum.Failed, Failed{Point: pt, Stage: "reset", Err: err, Output: outputOf(out, err)})
			continue
		}

		plog.Info("running experiment")
		out, err := d.Runner.Output(ctx, d.Self, d.RunArgs(pt.Parameters)...)
		if err != nil {
			plog.WithError(err).WithField("output", outputOf(out, err)).Error("experiment failed")
			sum.Failed = append(sum.Failed, Failed{Point: pt, Stage: "run", Err: err, Output: outputOf(out, err)})
			continue
		}
		sum.Completed++
	}

	sum.Took = time.Since(begin)
	log.WithFields(logrus.Fields{
		"total":     sum.Total,
		"completed": sum.Completed,
		"failed":    len(sum.Failed),
		"took":      sum.Took.Round(time.Second),
	}).Info("sweep finished")
	return sum, nil
}

func outputOf(out string, err error) string {
	var exitErr *execx.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Output
	}
	return strings.TrimSpace(out)
}
