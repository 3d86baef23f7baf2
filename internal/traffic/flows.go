package traffic

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"crossbench/internal/config"
	"crossbench/internal/model"
	"crossbench/internal/topo"
)

// Per-host log file names.
const (
	CrossReceiverLog   = "h4_iperf.txt"
	CrossSenderLog     = "h3_iperf.txt"
	MeasureReceiverLog = "h2_output.txt"
	MeasureSenderLog   = "h1_output.txt"
)

// CrossTraffic is the UDP iperf flow from h3 to h4 at the configured rate.
func CrossTraffic(cfg config.CrossTrafficConfig, params model.ExperimentParameters, logDir string, readyTimeout time.Duration) Pair {
	port := strconv.Itoa(cfg.Port)
	return Pair{
		Name: "cross-traffic",
		Receiver: Endpoint{
			Host:    topo.H4,
			LogPath: filepath.Join(logDir, CrossReceiverLog),
			Command: func(string) []string {
				return IperfServerArgs(cfg.Iperf, port)
			},
		},
		Sender: Endpoint{
			Host:    topo.H3,
			LogPath: filepath.Join(logDir, CrossSenderLog),
			Command: func(receiverIP string) []string {
				return IperfClientArgs(cfg.Iperf, receiverIP, port, params.CrossTraffic, cfg.Duration)
			},
		},
		Settle:       cfg.Settle,
		Ready:        Probe{Proto: "udp", Port: cfg.Port},
		ReadyTimeout: readyTimeout,
	}
}

// IperfServerArgs starts a UDP iperf server.
func IperfServerArgs(iperf, port string) []string {
	return []string{iperf, "-s", "-u", "-p", port}
}

// IperfClientArgs sends UDP at rateMbps to target for d.
func IperfClientArgs(iperf, target, port string, rateMbps float64, d time.Duration) []string {
	return []string{
		iperf,
		"-c", target,
		"-u",
		"-p", port,
		"-b", model.FormatMbps(rateMbps) + "M",
		"-t", strconv.FormatFloat(d.Seconds(), 'f', -1, 64),
	}
}

// Measurement is the external receiver on h2 and sender on h1. Both run
// through "sh -c" in Workdir with ExtraPath appended to PATH; their output
// is never parsed.
func Measurement(cfg config.MeasurementConfig, logDir string, readyTimeout time.Duration) Pair {
	var env []string
	if cfg.ExtraPath != "" {
		env = append(env, "PATH="+os.Getenv("PATH")+string(os.PathListSeparator)+cfg.ExtraPath)
	}
	ready := Probe{}
	if cfg.ReadyProto != config.ReadyNone {
		ready = Probe{Proto: cfg.ReadyProto, Port: cfg.ReadyPort}
	}
	return Pair{
		Name: "measurement",
		Receiver: Endpoint{
			Host:    topo.H2,
			LogPath: filepath.Join(logDir, MeasureReceiverLog),
			Dir:     cfg.Workdir,
			Env:     env,
			Command: shell(cfg.ReceiverCmd),
		},
		Sender: Endpoint{
			Host:    topo.H1,
			LogPath: filepath.Join(logDir, MeasureSenderLog),
			Dir:     cfg.Workdir,
			Env:     env,
			Command: shell(cfg.SenderCmd),
		},
		Settle:       cfg.Settle,
		Ready:        ready,
		ReadyTimeout: readyTimeout,
	}
}

func shell(cmd string) func(string) []string {
	return func(string) []string { return []string{"sh", "-c", cmd} }
}
