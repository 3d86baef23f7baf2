package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"crossbench/internal/config"
	"crossbench/internal/dataset"
	"crossbench/internal/emunet"
	"crossbench/internal/execx"
	"crossbench/internal/experiment"
	"crossbench/internal/health"
	"crossbench/internal/model"
	"crossbench/internal/store"
	"crossbench/internal/sweep"
)

const usage = `crossbench - cross-traffic experiments on an emulated dumbbell network

Usage:
  crossbench [--config <path>] <bandwidth> <crossTraffic>
  crossbench sweep --config <path>
  crossbench cleanup [--config <path>]
  crossbench stats [--config <path>]

Run flags:
  --controller <host:port>   override controller address
  --window <dur>             override experiment window
  --dataset <path>           override dataset CSV path
  --log-dir <path>           override per-run log directory

Bandwidth and cross traffic are in Mbps and must be positive.
Running an experiment needs root, iproute2, Open vSwitch and iperf.
`

// errUsage makes run print usage and exit 1 without further output.
var errUsage = errors.New("usage")

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	var err error
	switch {
	case len(args) > 0 && (args[0] == "-h" || args[0] == "--help" || args[0] == "help"):
		fmt.Fprint(stdout, usage)
		return 0
	case len(args) > 0 && args[0] == "sweep":
		err = handleSweep(args[1:], stderr)
	case len(args) > 0 && args[0] == "cleanup":
		err = handleCleanup(args[1:], stderr)
	case len(args) > 0 && args[0] == "stats":
		err = handleStats(args[1:], stdout, stderr)
	default:
		err = handleRun(args, stderr)
	}
	if err == nil {
		return 0
	}
	if errors.Is(err, errUsage) {
		fmt.Fprint(stderr, usage)
		return 1
	}
	fmt.Fprintln(stderr, err)
	return 1
}

func handleRun(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("crossbench", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", "", "path to YAML config")
	controller := fs.String("controller", "", "controller host:port")
	window := fs.Duration("window", 0, "experiment window")
	datasetPath := fs.String("dataset", "", "dataset CSV path")
	logDir := fs.String("log-dir", "", "per-run log directory")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 2 {
		return errUsage
	}

	params, err := model.ParseParameters(fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if err := overrideRun(&cfg, *controller, *window, *datasetPath, *logDir); err != nil {
		return err
	}
	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		return err
	}

	log, err := newLogger(cfg.Log, stderr)
	if err != nil {
		return err
	}

	tools := append(append([]string{}, emunet.Tools...), cfg.CrossTraffic.Iperf, "ss")
	network := emunet.NewLinux(execx.NewOSRunner(io.Discard, stderr), emunet.Options{
		NSPrefix:       cfg.Network.NSPrefix,
		ControllerHost: cfg.Controller.Host,
		ControllerPort: cfg.Controller.Port,
		Logger:         log,
	})
	orch := experiment.New(experiment.Options{
		Config:  cfg,
		Network: network,
		Health:  health.New(cfg.Controller, tools...),
		Logger:  log,
	})

	ctx, cancel := signalContext()
	defer cancel()
	res, err := orch.Run(ctx, params)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"run": res.RunID, "logs": res.LogDir}).Info("done")
	return nil
}

func handleSweep(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("sweep", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML config")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if *configPath == "" {
		return errors.New("sweep requires --config")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	config.ApplyDefaults(&cfg)
	if err := config.ValidateSweep(cfg); err != nil {
		return err
	}
	log, err := newLogger(cfg.Log, stderr)
	if err != nil {
		return err
	}

	self, err := os.Executable()
	if err != nil {
		return err
	}
	d := &sweep.Driver{
		Runner:     execx.NewOSRunner(nil, stderr),
		Self:       self,
		ConfigPath: *configPath,
		Logger:     log,
	}

	ctx, cancel := signalContext()
	defer cancel()
	sum, err := d.Run(ctx, sweep.Grid(cfg.Sweep))
	if err != nil {
		return err
	}
	if rows, err := dataset.Read(cfg.Output.Dataset); err != nil {
		log.WithError(err).Warn("dataset not readable after sweep")
	} else if missing := dataset.Summarize(rows).Missing(sweep.Parameters(cfg.Sweep), cfg.Sweep.Iterations); len(missing) > 0 {
		for _, m := range missing {
			log.WithFields(logrus.Fields{"point": m.Parameters.String(), "rows": m.Runs}).Warn("point under-covered")
		}
	}
	if len(sum.Failed) > 0 {
		return fmt.Errorf("%d of %d experiments failed", len(sum.Failed), sum.Total)
	}
	return nil
}

func handleCleanup(args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML config")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	config.ApplyDefaults(&cfg)
	log, err := newLogger(cfg.Log, stderr)
	if err != nil {
		return err
	}

	network := emunet.NewLinux(execx.NewOSRunner(io.Discard, stderr), emunet.Options{
		NSPrefix:       cfg.Network.NSPrefix,
		ControllerHost: cfg.Controller.Host,
		ControllerPort: cfg.Controller.Port,
		Logger:         log,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return network.Cleanup(ctx)
}

func handleStats(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to YAML config")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	config.ApplyDefaults(&cfg)
	rows, err := dataset.Read(cfg.Output.Dataset)
	if err != nil {
		return err
	}
	recorded, failed, err := runOutcomes(cfg.Output.LogDir)
	if err != nil {
		return err
	}
	if recorded+failed > 0 {
		fmt.Fprintf(stdout, "runs recorded=%d failed=%d\n", recorded, failed)
	}

	sum := dataset.Summarize(rows)
	if sum.Rows == 0 {
		fmt.Fprintln(stdout, "no recorded experiments")
		return nil
	}

	fmt.Fprintf(stdout, "%-12s  %-12s  %-6s\n", "BW_MBPS", "CT_MBPS", "RUNS")
	for _, p := range sum.Points {
		fmt.Fprintf(stdout, "%-12s  %-12s  %-6d\n",
			model.FormatMbps(p.Parameters.AvailableBandwidth), model.FormatMbps(p.Parameters.CrossTraffic), p.Runs)
	}
	fmt.Fprintf(stdout, "rows=%d points=%d bw=[%s,%s] ct=[%s,%s]\n", sum.Rows, len(sum.Points),
		model.FormatMbps(sum.MinBandwidth), model.FormatMbps(sum.MaxBandwidth),
		model.FormatMbps(sum.MinCrossTraffic), model.FormatMbps(sum.MaxCrossTraffic))
	return nil
}

// runOutcomes counts the per-run manifests under logDir by outcome.
func runOutcomes(logDir string) (recorded, failed int, err error) {
	paths, err := filepath.Glob(filepath.Join(logDir, "*", store.ManifestName))
	if err != nil {
		return 0, 0, err
	}
	for _, path := range paths {
		m, err := store.LoadManifest(path)
		if err != nil {
			return 0, 0, fmt.Errorf("%s: %w", path, err)
		}
		if m.Outcome == "recorded" {
			recorded++
		} else {
			failed++
		}
	}
	return recorded, failed, nil
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Config{}, nil
	}
	return config.Load(path)
}

func overrideRun(cfg *config.Config, controller string, window time.Duration, datasetPath, logDir string) error {
	if controller != "" {
		host, port, err := net.SplitHostPort(controller)
		if err != nil || host == "" {
			return fmt.Errorf("--controller must be host:port, got %q", controller)
		}
		p, err := strconv.Atoi(port)
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("--controller port %q is not a valid port", port)
		}
		cfg.Controller.Host = host
		cfg.Controller.Port = p
	}
	if window > 0 {
		cfg.Experiment.Window = window
	}
	if datasetPath != "" {
		cfg.Output.Dataset = datasetPath
	}
	if logDir != "" {
		cfg.Output.LogDir = logDir
	}
	return nil
}

func newLogger(cfg config.LogConfig, out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(out)
	log.SetLevel(level)
	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(signals)
	}()
	return ctx, cancel
}
