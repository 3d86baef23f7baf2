package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"crossbench/internal/model"
)

const (
	DefaultControllerHost = "10.17.5.63"
	DefaultControllerPort = 6653
	DefaultProbe          = ProbeTCP
	DefaultProbeTimeout   = 2 * time.Second

	DefaultBackend  = BackendLinux
	DefaultNSPrefix = "xb-"

	DefaultIperf              = "iperf"
	DefaultCrossTrafficPort   = 5001
	DefaultCrossTrafficSettle = 2 * time.Second
	DefaultCrossTrafficTime   = 29 * time.Second

	DefaultReceiverCmd      = "go run receiver.go"
	DefaultSenderCmd        = "go run sender.go"
	DefaultExtraPath        = "/usr/local/go/bin"
	DefaultMeasureSettle    = 1 * time.Second
	DefaultMeasureReadyPort = 6000
	DefaultMeasureReadyProt = "tcp"

	DefaultWindow       = 30 * time.Second
	DefaultJoinTimeout  = 5 * time.Second
	DefaultReadyTimeout = 5 * time.Second

	DefaultDatasetPath = "../Data/test_info.csv"
	DefaultLogDir      = "logs"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "text"
)

// Health probe modes.
const (
	ProbeTCP  = "tcp"
	ProbeICMP = "icmp"
	ProbeOff  = "off"
)

// ReadyNone disables the receiver readiness probe; only the settle delay applies.
const ReadyNone = "none"

// Emulation backends.
const (
	BackendLinux = "linux"
)

// Config holds everything one experiment or one sweep needs.
type Config struct {
	Controller   ControllerConfig   `yaml:"controller"`
	Network      NetworkConfig      `yaml:"network"`
	CrossTraffic CrossTrafficConfig `yaml:"cross_traffic"`
	Measurement  MeasurementConfig  `yaml:"measurement"`
	Experiment   ExperimentConfig   `yaml:"experiment"`
	Output       OutputConfig       `yaml:"output"`
	Sweep        SweepConfig        `yaml:"sweep"`
	Log          LogConfig          `yaml:"log"`
}

// ControllerConfig points at the external OpenFlow controller.
type ControllerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Probe        string        `yaml:"probe"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

type NetworkConfig struct {
	Backend  string `yaml:"backend"`
	NSPrefix string `yaml:"ns_prefix"`
}

// CrossTrafficConfig drives the iperf UDP flow between h3 and h4.
// A zero Settle means unset and takes the default; the sender never starts
// back-to-back with its receiver.
type CrossTrafficConfig struct {
	Iperf    string        `yaml:"iperf"`
	Port     int           `yaml:"port"`
	Settle   time.Duration `yaml:"settle"`
	Duration time.Duration `yaml:"duration"`
}

// MeasurementConfig describes the external sender/receiver under test.
// Commands are run through "sh -c" inside the host. As for cross traffic, a
// zero Settle takes the default. ReadyPort is required unless ReadyProto is
// "none".
type MeasurementConfig struct {
	ReceiverCmd string        `yaml:"receiver_cmd"`
	SenderCmd   string        `yaml:"sender_cmd"`
	Workdir     string        `yaml:"workdir"`
	ExtraPath   string        `yaml:"extra_path"`
	Settle      time.Duration `yaml:"settle"`
	ReadyProto  string        `yaml:"ready_proto"`
	ReadyPort   int           `yaml:"ready_port"`
}

type ExperimentConfig struct {
	Window       time.Duration `yaml:"window"`
	JoinTimeout  time.Duration `yaml:"join_timeout"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
}

type OutputConfig struct {
	Dataset string `yaml:"dataset"`
	LogDir  string `yaml:"log_dir"`
}

// SweepConfig is the parameter grid for "crossbench sweep".
type SweepConfig struct {
	Bandwidths   []float64 `yaml:"bandwidths"`
	CrossTraffic []float64 `yaml:"cross_traffic"`
	Iterations   int       `yaml:"iterations"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a config with every default applied.
func Default() Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return cfg
}

// Load reads and parses a YAML config file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks required fields and the timing constraints between flows.
func Validate(cfg Config) error {
	if cfg.Controller.Host == "" && cfg.Controller.Probe != ProbeOff {
		return fmt.Errorf("controller.host is required")
	}
	if cfg.Controller.Port <= 0 || cfg.Controller.Port > 65535 {
		return fmt.Errorf("controller.port out of range: %d", cfg.Controller.Port)
	}
	switch cfg.Controller.Probe {
	case ProbeTCP, ProbeICMP, ProbeOff:
	default:
		return fmt.Errorf("controller.probe must be tcp, icmp or off, got %q", cfg.Controller.Probe)
	}
	if cfg.Network.Backend != BackendLinux {
		return fmt.Errorf("network.backend %q is not supported", cfg.Network.Backend)
	}
	if strings.TrimSpace(cfg.Measurement.ReceiverCmd) == "" || strings.TrimSpace(cfg.Measurement.SenderCmd) == "" {
		return fmt.Errorf("measurement.receiver_cmd and measurement.sender_cmd are required")
	}
	switch cfg.Measurement.ReadyProto {
	case ReadyNone, "tcp", "udp":
	default:
		return fmt.Errorf("measurement.ready_proto must be tcp, udp or none, got %q", cfg.Measurement.ReadyProto)
	}
	if cfg.Measurement.ReadyProto != ReadyNone && (cfg.Measurement.ReadyPort <= 0 || cfg.Measurement.ReadyPort > 65535) {
		return fmt.Errorf("measurement.ready_port must be set for ready_proto %q, got %d",
			cfg.Measurement.ReadyProto, cfg.Measurement.ReadyPort)
	}
	if cfg.Experiment.Window <= 0 {
		return fmt.Errorf("experiment.window must be positive")
	}
	if cfg.CrossTraffic.Duration >= cfg.Experiment.Window {
		return fmt.Errorf("cross_traffic.duration (%s) must be shorter than experiment.window (%s)",
			cfg.CrossTraffic.Duration, cfg.Experiment.Window)
	}
	if cfg.CrossTraffic.Settle < 0 || cfg.Measurement.Settle < 0 {
		return fmt.Errorf("settle delays must not be negative")
	}
	if cfg.Output.Dataset == "" {
		return fmt.Errorf("output.dataset is required")
	}
	return nil
}

// ValidateSweep checks the grid section on top of Validate.
func ValidateSweep(cfg Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	if len(cfg.Sweep.Bandwidths) == 0 || len(cfg.Sweep.CrossTraffic) == 0 {
		return fmt.Errorf("sweep.bandwidths and sweep.cross_traffic must not be empty")
	}
	for i, bw := range cfg.Sweep.Bandwidths {
		if err := model.CheckRate(fmt.Sprintf("sweep.bandwidths[%d]", i), bw); err != nil {
			return err
		}
	}
	for i, ct := range cfg.Sweep.CrossTraffic {
		if err := model.CheckRate(fmt.Sprintf("sweep.cross_traffic[%d]", i), ct); err != nil {
			return err
		}
	}
	if cfg.Sweep.Iterations <= 0 {
		return fmt.Errorf("sweep.iterations must be positive")
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.Controller.Host == "" {
		cfg.Controller.Host = DefaultControllerHost
	}
	if cfg.Controller.Port == 0 {
		cfg.Controller.Port = DefaultControllerPort
	}
	if cfg.Controller.Probe == "" {
		cfg.Controller.Probe = DefaultProbe
	}
	if cfg.Controller.ProbeTimeout == 0 {
		cfg.Controller.ProbeTimeout = DefaultProbeTimeout
	}

	if cfg.Network.Backend == "" {
		cfg.Network.Backend = DefaultBackend
	}
	if cfg.Network.NSPrefix == "" {
		cfg.Network.NSPrefix = DefaultNSPrefix
	}

	if cfg.CrossTraffic.Iperf == "" {
		cfg.CrossTraffic.Iperf = DefaultIperf
	}
	if cfg.CrossTraffic.Port == 0 {
		cfg.CrossTraffic.Port = DefaultCrossTrafficPort
	}
	if cfg.CrossTraffic.Settle == 0 {
		cfg.CrossTraffic.Settle = DefaultCrossTrafficSettle
	}
	if cfg.CrossTraffic.Duration == 0 {
		cfg.CrossTraffic.Duration = DefaultCrossTrafficTime
	}

	if cfg.Measurement.ReceiverCmd == "" {
		cfg.Measurement.ReceiverCmd = DefaultReceiverCmd
	}
	if cfg.Measurement.SenderCmd == "" {
		cfg.Measurement.SenderCmd = DefaultSenderCmd
	}
	if cfg.Measurement.ExtraPath == "" {
		cfg.Measurement.ExtraPath = DefaultExtraPath
	}
	if cfg.Measurement.Settle == 0 {
		cfg.Measurement.Settle = DefaultMeasureSettle
	}
	if cfg.Measurement.ReadyProto == "" {
		cfg.Measurement.ReadyProto = DefaultMeasureReadyProt
		if cfg.Measurement.ReadyPort == 0 {
			cfg.Measurement.ReadyPort = DefaultMeasureReadyPort
		}
	}

	if cfg.Experiment.Window == 0 {
		cfg.Experiment.Window = DefaultWindow
	}
	if cfg.Experiment.JoinTimeout == 0 {
		cfg.Experiment.JoinTimeout = DefaultJoinTimeout
	}
	if cfg.Experiment.ReadyTimeout == 0 {
		cfg.Experiment.ReadyTimeout = DefaultReadyTimeout
	}

	if cfg.Output.Dataset == "" {
		cfg.Output.Dataset = DefaultDatasetPath
	}
	if cfg.Output.LogDir == "" {
		cfg.Output.LogDir = DefaultLogDir
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
