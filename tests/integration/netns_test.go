//go:build integration

package integration

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crossbench/internal/config"
	"crossbench/internal/dataset"
	"crossbench/internal/model"
)

// This test requires:
// - Linux
// - root (netns, veth and OVS bridges)
// - iproute2 (`ip`, `ss`, `tc`)
// - Open vSwitch (`ovs-vsctl`, ovsdb running)
// - iperf
//
// It is gated behind -tags=integration and CROSSBENCH_INTEGRATION=1 to avoid
// accidental local network disruption.
func requireHost(t *testing.T) {
	t.Helper()
	if os.Getenv("CROSSBENCH_INTEGRATION") != "1" {
		t.Skip("set CROSSBENCH_INTEGRATION=1 to run")
	}
	if os.Geteuid() != 0 {
		t.Skip("requires root")
	}
	for _, tool := range []string{"ip", "ss", "tc", "ovs-vsctl", "iperf"} {
		if _, err := exec.LookPath(tool); err != nil {
			t.Skipf("missing %s", tool)
		}
	}
}

func build(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "crossbench")
	run(t, "../..", "go", "build", "-o", bin, "./cmd/crossbench")
	return bin
}

func writeConfig(t *testing.T, dir string, mutate func(*config.Config)) string {
	t.Helper()
	cfg := config.Default()
	cfg.Controller.Host = "127.0.0.1"
	cfg.Controller.Probe = config.ProbeOff
	cfg.Network.NSPrefix = "xbit-"
	cfg.CrossTraffic.Settle = 500 * time.Millisecond
	cfg.CrossTraffic.Duration = 3 * time.Second
	cfg.Measurement.ReceiverCmd = "iperf -s -p 6000"
	cfg.Measurement.SenderCmd = "iperf -c 10.0.0.2 -p 6000 -t 2; echo sender done"
	cfg.Measurement.Settle = 500 * time.Millisecond
	cfg.Measurement.ReadyProto = "tcp"
	cfg.Measurement.ReadyPort = 6000
	cfg.Experiment.Window = 5 * time.Second
	cfg.Experiment.JoinTimeout = time.Second
	cfg.Output.Dataset = filepath.Join(dir, "Data", "test_info.csv")
	cfg.Output.LogDir = filepath.Join(dir, "logs")
	if mutate != nil {
		mutate(&cfg)
	}
	path := filepath.Join(dir, "crossbench.yaml")
	if err := config.Save(path, cfg); err != nil {
		t.Fatalf("save config: %v", err)
	}
	return path
}

func TestExperiment_RecordsRow(t *testing.T) {
	requireHost(t)
	bin := build(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, nil)
	t.Cleanup(func() { _ = exec.Command(bin, "cleanup", "--config", cfgPath).Run() })

	run(t, ".", bin, "cleanup", "--config", cfgPath)
	run(t, ".", bin, "--config", cfgPath, "50", "12.5")

	rows, err := dataset.Read(filepath.Join(dir, "Data", "test_info.csv"))
	if err != nil {
		t.Fatalf("read dataset: %v", err)
	}
	if len(rows) != 1 || rows[0] != (model.ExperimentParameters{AvailableBandwidth: 50, CrossTraffic: 12.5}) {
		t.Fatalf("rows=%v", rows)
	}

	logs, err := filepath.Glob(filepath.Join(dir, "logs", "*", "*.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 4 {
		t.Fatalf("logs=%v", logs)
	}
	for _, l := range logs {
		if info, err := os.Stat(l); err != nil || info.Size() == 0 {
			t.Fatalf("log %s empty or missing: %v", l, err)
		}
	}

	out := runOut(t, ".", "ip", "netns", "list")
	if strings.Contains(string(out), "xbit-") {
		t.Fatalf("namespaces left behind:\n%s", out)
	}
}

func TestExperiment_UnreachableController(t *testing.T) {
	requireHost(t)
	bin := build(t)
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, func(cfg *config.Config) {
		cfg.Controller.Probe = config.ProbeTCP
		cfg.Controller.Port = 1
		cfg.Controller.ProbeTimeout = 500 * time.Millisecond
	})

	cmd := exec.Command(bin, "--config", cfgPath, "50", "12.5")
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("expected failure, got:\n%s", out)
	}
	if code := cmd.ProcessState.ExitCode(); code != 1 {
		t.Fatalf("exit=%d\n%s", code, out)
	}
	if ns := runOut(t, ".", "ip", "netns", "list"); strings.Contains(string(ns), "xbit-") {
		t.Fatalf("namespaces created:\n%s", ns)
	}
	if _, err := os.Stat(filepath.Join(dir, "Data", "test_info.csv")); !os.IsNotExist(err) {
		t.Fatalf("dataset written: %v", err)
	}
}

func run(t *testing.T, dir, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("%s %v: %v\n%s", name, args, err, string(out))
	}
}

func runOut(t *testing.T, dir, name string, args ...string) []byte {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("%s %v: %v\n%s", name, args, err, string(out))
	}
	return out
}
