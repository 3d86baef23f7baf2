// Package traffic starts receiver/sender job pairs on emulated hosts: the
// iperf cross traffic and the measurement programs under test.
package traffic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"crossbench/internal/execx"
)

// Runtime is what a Pair needs from the emulated network.
type Runtime interface {
	Exec(ctx context.Context, host string, argv ...string) (string, error)
	Spawn(ctx context.Context, host string, spec execx.JobSpec) (*execx.Process, error)
	IP(host string) (string, error)
}

const defaultPollInterval = 100 * time.Millisecond

// Endpoint is one side of a Pair. Command receives the receiver's address
// (the receiver itself gets its own).
type Endpoint struct {
	Host    string
	LogPath string
	Dir     string
	Env     []string
	Command func(receiverIP string) []string
}

// Probe names a listening socket that proves the receiver is up.
type Probe struct {
	Proto string // tcp or udp
	Port  int
}

// Enabled reports whether the probe should be polled.
func (p Probe) Enabled() bool {
	return (p.Proto == "tcp" || p.Proto == "udp") && p.Port > 0
}

// Pair starts Receiver, waits, then starts Sender.
//
// The sender is never started earlier than Settle after the receiver. When
// Ready is enabled it additionally waits, up to ReadyTimeout, for the
// receiver's socket to show up.
type Pair struct {
	Name         string
	Receiver     Endpoint
	Sender       Endpoint
	Settle       time.Duration
	Ready        Probe
	ReadyTimeout time.Duration
	PollInterval time.Duration
}

// Launched holds the handles of a started pair.
type Launched struct {
	Name     string
	Receiver *execx.Process
	Sender   *execx.Process
	// Ready is true when the readiness probe saw the receiver listening.
	Ready bool
	// Gap is the time between the receiver spawn returning and the sender spawn.
	Gap time.Duration
}

// Jobs returns the non-nil handles.
func (l *Launched) Jobs() []*execx.Process {
	if l == nil {
		return nil
	}
	var out []*execx.Process
	for _, p := range []*execx.Process{l.Receiver, l.Sender} {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Launch starts the pair. On error the returned Launched still carries any
// job that did start so the caller can tear it down.
func (p Pair) Launch(ctx context.Context, rt Runtime, log logrus.FieldLogger) (*Launched, error) {
	log = log.WithField("pair", p.Name)
	out := &Launched{Name: p.Name}

	recvIP, err := rt.IP(p.Receiver.Host)
	if err != nil {
		return out, errors.Wrapf(err, "%s: resolve receiver", p.Name)
	}

	recv, err := rt.Spawn(ctx, p.Receiver.Host, p.spec("receiver", p.Receiver, recvIP))
	if err != nil {
		return out, errors.Wrapf(err, "%s: start receiver", p.Name)
	}
	out.Receiver = recv
	recvAt := time.Now()
	log.WithFields(logrus.Fields{"host": p.Receiver.Host, "log": p.Receiver.LogPath}).Info("receiver started")

	if p.Ready.Enabled() {
		out.Ready = p.waitReady(ctx, rt, recv, log)
	}
	if err := sleepUntil(ctx, recvAt.Add(p.Settle)); err != nil {
		return out, errors.Wrapf(err, "%s: settle", p.Name)
	}

	spawnAt := time.Now()
	send, err := rt.Spawn(ctx, p.Sender.Host, p.spec("sender", p.Sender, recvIP))
	if err != nil {
		return out, errors.Wrapf(err, "%s: start sender", p.Name)
	}
	out.Sender = send
	out.Gap = spawnAt.Sub(recvAt)
	log.WithFields(logrus.Fields{
		"host":   p.Sender.Host,
		"target": recvIP,
		"log":    p.Sender.LogPath,
		"gap":    out.Gap.Round(time.Millisecond),
		"ready":  out.Ready,
	}).Info("sender started")
	return out, nil
}

func (p Pair) spec(role string, e Endpoint, recvIP string) execx.JobSpec {
	return execx.JobSpec{
		Name:    p.Name + " " + role,
		Argv:    e.Command(recvIP),
		Dir:     e.Dir,
		Env:     e.Env,
		LogPath: e.LogPath,
	}
}

// waitReady polls the receiver's socket. A timeout or an early exit of the
// receiver is logged and the launch goes on with the settle delay only.
func (p Pair) waitReady(ctx context.Context, rt Runtime, recv *execx.Process, log logrus.FieldLogger) bool {
	interval := p.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	timeout := p.ReadyTimeout
	if timeout <= 0 {
		timeout = p.Settle
	}
	deadline := time.Now().Add(timeout)

	for {
		if listening(ctx, rt, p.Receiver.Host, p.Ready) {
			return true
		}
		select {
		case <-recv.Done():
			log.WithField("err", recv.Err()).Warn("receiver exited before it was ready")
			return false
		default:
		}
		if time.Now().After(deadline) {
			log.WithField("timeout", timeout).Warn("receiver not ready, falling back to settle delay")
			return false
		}
		if err := sleepUntil(ctx, time.Now().Add(interval)); err != nil {
			return false
		}
	}
}

// listening asks ss inside host whether anything is bound to the probe port.
func listening(ctx context.Context, rt Runtime, host string, pr Probe) bool {
	flag := "-t"
	if pr.Proto == "udp" {
		flag = "-u"
	}
	out, err := rt.Exec(ctx, host, "ss", "-H", "-l", "-n", flag, "sport", "=", fmt.Sprintf(":%d", pr.Port))
	return err == nil && strings.TrimSpace(out) != ""
}

func sleepUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
