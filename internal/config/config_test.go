package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyDefaults_MatchesOriginalConstants(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.Controller.Host != "10.17.5.63" || cfg.Controller.Port != 6653 {
		t.Fatalf("controller=%+v", cfg.Controller)
	}
	if cfg.CrossTraffic.Settle != 2*time.Second || cfg.Measurement.Settle != time.Second {
		t.Fatalf("settle cross=%s measure=%s", cfg.CrossTraffic.Settle, cfg.Measurement.Settle)
	}
	if cfg.CrossTraffic.Duration != 29*time.Second || cfg.Experiment.Window != 30*time.Second {
		t.Fatalf("duration=%s window=%s", cfg.CrossTraffic.Duration, cfg.Experiment.Window)
	}
	if cfg.Measurement.ReadyProto != "tcp" || cfg.Measurement.ReadyPort != 6000 {
		t.Fatalf("ready=%s/%d", cfg.Measurement.ReadyProto, cfg.Measurement.ReadyPort)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_FlowMustEndBeforeWindow(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.CrossTraffic.Duration = cfg.Experiment.Window
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidate_Probe(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Controller.Probe = "udp"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error")
	}
	cfg.Controller.Probe = ProbeOff
	cfg.Controller.Host = ""
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestValidateSweep(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := ValidateSweep(cfg); err == nil {
		t.Fatalf("expected error for empty grid")
	}
	cfg.Sweep = SweepConfig{Bandwidths: []float64{50}, CrossTraffic: []float64{12.5, 25, 37.5}, Iterations: 800}
	if err := ValidateSweep(cfg); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestLoad_ParsesDurations(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "crossbench.yaml")
	content := strings.Join([]string{
		"controller:",
		"  host: 127.0.0.1",
		"  port: 6633",
		"cross_traffic:",
		"  settle: 500ms",
		"  duration: 9s",
		"measurement:",
		"  ready_proto: none",
		"experiment:",
		"  window: 10s",
		"sweep:",
		"  bandwidths: [100]",
		"  cross_traffic: [25, 50, 75]",
		"  iterations: 3",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CrossTraffic.Settle != 500*time.Millisecond || cfg.CrossTraffic.Duration != 9*time.Second {
		t.Fatalf("cross=%+v", cfg.CrossTraffic)
	}
	if cfg.Measurement.ReadyProto != ReadyNone || cfg.Measurement.ReadyPort != 0 {
		t.Fatalf("ready=%s/%d", cfg.Measurement.ReadyProto, cfg.Measurement.ReadyPort)
	}
	if cfg.Measurement.Settle != DefaultMeasureSettle {
		t.Fatalf("measure settle=%s", cfg.Measurement.Settle)
	}
	if err := ValidateSweep(cfg); err != nil {
		t.Fatalf("ValidateSweep: %v", err)
	}
}

func TestSave_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sub", "crossbench.yaml")
	in := Default()
	in.Controller.Host = "192.0.2.10"
	if err := Save(path, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.Controller.Host != "192.0.2.10" || out.Experiment.Window != DefaultWindow {
		t.Fatalf("out=%+v", out)
	}
}

func TestValidateSweep_RejectsBadRates(t *testing.T) {
	t.Parallel()

	for _, grid := range []SweepConfig{
		{Bandwidths: []float64{50, 0}, CrossTraffic: []float64{10}, Iterations: 1},
		{Bandwidths: []float64{50}, CrossTraffic: []float64{-5}, Iterations: 1},
		{Bandwidths: []float64{math.NaN()}, CrossTraffic: []float64{10}, Iterations: 1},
		{Bandwidths: []float64{50}, CrossTraffic: []float64{math.Inf(1)}, Iterations: 1},
	} {
		cfg := Default()
		cfg.Sweep = grid
		if err := ValidateSweep(cfg); err == nil {
			t.Errorf("ValidateSweep(%+v): expected error", grid)
		}
	}
}

func TestValidate_ReadyPortRequired(t *testing.T) {
	t.Parallel()

	cfg := Config{Measurement: MeasurementConfig{ReadyProto: "udp"}}
	ApplyDefaults(&cfg)
	if cfg.Measurement.ReadyPort != 0 {
		t.Fatalf("ready_port=%d, want unset", cfg.Measurement.ReadyPort)
	}
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "ready_port") {
		t.Fatalf("err=%v", err)
	}

	cfg.Measurement.ReadyPort = 7000
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	cfg.Measurement.ReadyProto = ReadyNone
	cfg.Measurement.ReadyPort = 0
	if err := Validate(cfg); err != nil {
		t.Fatalf("none needs no port: %v", err)
	}
}

func TestApplyDefaults_ZeroSettleIsUnset(t *testing.T) {
	t.Parallel()

	cfg := Config{CrossTraffic: CrossTrafficConfig{Settle: 0}, Measurement: MeasurementConfig{Settle: 0}}
	ApplyDefaults(&cfg)
	if cfg.CrossTraffic.Settle != DefaultCrossTrafficSettle || cfg.Measurement.Settle != DefaultMeasureSettle {
		t.Fatalf("settle cross=%s measure=%s", cfg.CrossTraffic.Settle, cfg.Measurement.Settle)
	}
}
