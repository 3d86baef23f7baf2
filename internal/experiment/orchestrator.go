// Package experiment runs one cross-traffic experiment end to end:
// preflight, topology, bring-up, both flows, the fixed window, teardown and
// the dataset row.
package experiment

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"crossbench/internal/config"
	"crossbench/internal/dataset"
	"crossbench/internal/execx"
	"crossbench/internal/model"
	"crossbench/internal/store"
	"crossbench/internal/topo"
	"crossbench/internal/traffic"
)

const (
	terminateGrace = 2 * time.Second
	stopTimeout    = 30 * time.Second
)

// Network is the emulation runtime the orchestrator drives.
type Network interface {
	traffic.Runtime
	Start(ctx context.Context, t topo.Topology) error
	Stop(ctx context.Context) error
}

// Checker is the controller preflight.
type Checker interface {
	Check(ctx context.Context) error
}

// Options wires an Orchestrator.
type Options struct {
	Config  config.Config
	Network Network
	Health  Checker
	Logger  logrus.FieldLogger
	// OnTransition, if set, sees every state change in order.
	OnTransition func(State)
}

// Orchestrator runs experiments one at a time.
type Orchestrator struct {
	cfg          config.Config
	net          Network
	health       Checker
	log          logrus.FieldLogger
	onTransition func(State)
	newID        func() string
}

// New returns an Orchestrator. A nil Logger falls back to the logrus
// standard logger.
func New(opts Options) *Orchestrator {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Orchestrator{
		cfg:          opts.Config,
		net:          opts.Network,
		health:       opts.Health,
		log:          log,
		onTransition: opts.OnTransition,
		newID:        func() string { return xid.New().String() },
	}
}

// Result describes a run, successful or not.
type Result struct {
	RunID        string
	Parameters   model.ExperimentParameters
	LogDir       string
	CrossTraffic *traffic.Launched
	Measurement  *traffic.Launched
	Transitions  []store.Transition
}

// Jobs returns every background job the run started.
func (r *Result) Jobs() []*execx.Process {
	return append(r.CrossTraffic.Jobs(), r.Measurement.Jobs()...)
}

// Run executes one experiment. A nil error means the dataset row was
// written; otherwise the error is a *Failure and no row exists.
func (o *Orchestrator) Run(ctx context.Context, params model.ExperimentParameters) (*Result, error) {
	r := &run{
		o:   o,
		res: &Result{RunID: o.newID(), Parameters: params},
	}
	r.res.LogDir = filepath.Join(o.cfg.Output.LogDir, r.res.RunID)
	r.log = o.log.WithFields(logrus.Fields{
		"run": r.res.RunID,
		"bw":  model.FormatMbps(params.AvailableBandwidth),
		"ct":  model.FormatMbps(params.CrossTraffic),
	})
	r.manifest = &store.Manifest{RunID: r.res.RunID, Parameters: params, StartedAt: time.Now().UTC()}

	err := r.execute(ctx)
	if kind, ok := KindOf(err); ok && kind == KindPreflight {
		return r.res, err
	}
	r.saveManifest(err)
	return r.res, err
}

type run struct {
	o        *Orchestrator
	res      *Result
	log      logrus.FieldLogger
	manifest *store.Manifest

	teardownOnce sync.Once
	teardownErr  error
}

func (r *run) execute(ctx context.Context) error {
	o := r.o
	r.log.Info("experiment starting")

	if err := o.health.Check(ctx); err != nil {
		r.enter(Aborted)
		r.log.WithError(err).Error("preflight failed, nothing was created")
		return fail(KindPreflight, err, "controller health check")
	}
	r.enter(PreflightChecked)

	t := topo.Build(r.res.Parameters.AvailableBandwidth)
	if b, ok := t.Bottleneck(); ok {
		r.log.WithFields(logrus.Fields{
			"bottleneck": b.IntfA + "<->" + b.IntfB,
			"mbps":       model.FormatMbps(b.BandwidthMbps),
		}).Debug("topology built")
	}
	r.enter(TopologyBuilt)

	if err := os.MkdirAll(r.res.LogDir, 0o755); err != nil {
		return fail(KindPersistence, err, "create log directory")
	}

	defer r.teardown(ctx)
	if err := o.net.Start(ctx, t); err != nil {
		return fail(KindInvocation, err, "start emulated network")
	}
	r.enter(RuntimeStarted)

	readyTimeout := o.cfg.Experiment.ReadyTimeout
	cross := traffic.CrossTraffic(o.cfg.CrossTraffic, r.res.Parameters, r.res.LogDir, readyTimeout)
	launched, err := cross.Launch(ctx, o.net, r.log)
	r.res.CrossTraffic = launched
	if err != nil {
		return fail(KindInvocation, err, "launch cross traffic")
	}
	r.enter(CrossTrafficStarted)

	measure := traffic.Measurement(o.cfg.Measurement, r.res.LogDir, readyTimeout)
	launched, err = measure.Launch(ctx, o.net, r.log)
	r.res.Measurement = launched
	if err != nil {
		return fail(KindInvocation, err, "launch measurement pair")
	}
	r.enter(MeasurementStarted)

	r.enter(Waiting)
	r.log.WithField("window", o.cfg.Experiment.Window).Info("waiting for flows")
	if err := wait(ctx, o.cfg.Experiment.Window); err != nil {
		return fail(KindInvocation, err, "experiment window interrupted")
	}

	r.teardown(ctx)

	if err := dataset.Append(o.cfg.Output.Dataset, r.res.Parameters); err != nil {
		r.log.WithError(err).Error("dataset append failed")
		return fail(KindPersistence, err, "append result row")
	}
	r.enter(Recorded)
	r.log.WithField("dataset", o.cfg.Output.Dataset).Info("experiment recorded")
	r.enter(Idle)
	return nil
}

// teardown joins every job for up to JoinTimeout, terminates the ones still
// running and stops the network. It runs once per experiment.
func (r *run) teardown(ctx context.Context) {
	r.teardownOnce.Do(func() {
		ctx = context.WithoutCancel(ctx)
		r.joinJobs(ctx)

		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		defer cancel()
		if err := r.o.net.Stop(stopCtx); err != nil {
			r.teardownErr = err
			r.log.WithError(err).Warn("network teardown incomplete")
		}
		r.enter(TornDown)
	})
}

func (r *run) joinJobs(ctx context.Context) {
	var g errgroup.Group
	for _, p := range r.res.Jobs() {
		p := p
		g.Go(func() error {
			waitCtx, cancel := context.WithTimeout(ctx, r.o.cfg.Experiment.JoinTimeout)
			defer cancel()
			if err := p.Wait(waitCtx); err == nil || waitCtx.Err() == nil {
				return nil
			}
			r.log.WithFields(logrus.Fields{"job": p.Name, "host": p.Host}).Warn("job still running at teardown, terminating")
			return p.Terminate(terminateGrace)
		})
	}
	if err := g.Wait(); err != nil {
		r.log.WithError(err).Warn("job termination failed")
	}
}

func (r *run) enter(s State) {
	tr := store.Transition{State: s.String(), At: time.Now().UTC()}
	r.res.Transitions = append(r.res.Transitions, tr)
	r.manifest.Transitions = append(r.manifest.Transitions, tr)
	r.log.WithField("state", s.String()).Debug("state")
	if r.o.onTransition != nil {
		r.o.onTransition(s)
	}
}

func (r *run) saveManifest(runErr error) {
	m := r.manifest
	m.FinishedAt = time.Now().UTC()
	m.Outcome = "recorded"
	if runErr != nil {
		m.Outcome = "failed"
		m.Error = runErr.Error()
	} else if r.teardownErr != nil {
		m.Error = r.teardownErr.Error()
	}
	for _, p := range r.res.Jobs() {
		info := store.JobInfo{
			Name:    p.Name,
			Host:    p.Host,
			Pid:     p.Pid(),
			Log:     p.LogPath,
			Started: p.Started.UTC(),
			State:   string(p.State()),
		}
		if err := p.Err(); err != nil {
			info.Exit = err.Error()
		}
		m.Jobs = append(m.Jobs, info)
	}
	path := filepath.Join(r.res.LogDir, store.ManifestName)
	if err := store.SaveManifest(path, m); err != nil {
		r.log.WithError(errors.Wrap(err, path)).Warn("manifest not saved")
	}
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
