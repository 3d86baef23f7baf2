// Package health probes the external OpenFlow controller before any
// emulated resource is created.
package health

import (
	"context"
	"net"
	"os/exec"
	"time"

	"github.com/go-ping/ping"
	"github.com/pkg/errors"

	"crossbench/internal/addrutil"
	"crossbench/internal/config"
)

var (
	// ErrUnreachable means the controller did not answer the probe.
	ErrUnreachable = errors.New("controller unreachable")
	// ErrToolUnavailable means a required binary or the probe itself could not run.
	ErrToolUnavailable = errors.New("probing tool unavailable")
)

// Checker runs the preflight probe selected by config.ControllerConfig.Probe.
type Checker struct {
	mode    string
	host    string
	port    int
	timeout time.Duration
	tools   []string

	lookPath func(string) (string, error)
	dial     func(ctx context.Context, network, addr string) (net.Conn, error)
	ping     func(ctx context.Context, host string, timeout time.Duration) error
}

// New builds a Checker. tools are binaries that must be on PATH for the
// run to make sense (ip, ovs-vsctl, tc, iperf).
func New(cfg config.ControllerConfig, tools ...string) *Checker {
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = config.DefaultProbeTimeout
	}
	return &Checker{
		mode:     cfg.Probe,
		host:     cfg.Host,
		port:     cfg.Port,
		timeout:  timeout,
		tools:    tools,
		lookPath: exec.LookPath,
		dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: timeout}
			return d.DialContext(ctx, network, addr)
		},
		ping: icmpProbe,
	}
}

// Check returns nil when every tool is present and the controller answers.
// Failures wrap ErrToolUnavailable or ErrUnreachable.
func (c *Checker) Check(ctx context.Context) error {
	for _, tool := range c.tools {
		if _, err := c.lookPath(tool); err != nil {
			return errors.Wrapf(ErrToolUnavailable, "%s not found on PATH", tool)
		}
	}

	switch c.mode {
	case config.ProbeOff:
		return nil
	case config.ProbeICMP:
		return c.ping(ctx, addrutil.Host(c.host), c.timeout)
	default:
		return c.tcpProbe(ctx)
	}
}

// tcpProbe opens and immediately closes a TCP connection; no data is sent.
func (c *Checker) tcpProbe(ctx context.Context) error {
	addr, ok := addrutil.ControllerAddr(c.host, c.port)
	if !ok {
		return errors.Wrapf(ErrUnreachable, "invalid controller address %q port %d", c.host, c.port)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dial(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(ErrUnreachable, "dial %s: %v", addr, err)
	}
	_ = conn.Close()
	return nil
}

func icmpProbe(ctx context.Context, host string, timeout time.Duration) error {
	pinger, err := ping.NewPinger(host)
	if err != nil {
		return errors.Wrapf(ErrUnreachable, "resolve %s: %v", host, err)
	}
	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(true)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			pinger.Stop()
		case <-done:
		}
	}()

	if err := pinger.Run(); err != nil {
		// Raw ICMP sockets need CAP_NET_RAW.
		return errors.Wrapf(ErrToolUnavailable, "icmp probe: %v", err)
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return errors.Wrapf(ErrUnreachable, "no echo reply from %s within %s", host, timeout)
	}
	return nil
}
