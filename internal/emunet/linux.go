// Package emunet instantiates a topo.Topology on Linux: one network
// namespace per host, one Open vSwitch bridge per switch, veth pairs for
// links, shaped with tc.
package emunet

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"crossbench/internal/addrutil"
	"crossbench/internal/execx"
	"crossbench/internal/model"
	"crossbench/internal/topo"
)

// Tools lists the binaries the Linux backend shells out to.
var Tools = []string{"ip", "ovs-vsctl", "tc"}

// Options configure a Linux network.
type Options struct {
	NSPrefix       string
	ControllerHost string
	ControllerPort int
	Logger         logrus.FieldLogger
}

// Linux is the namespace/OVS backend. The zero value is not usable; use NewLinux.
type Linux struct {
	r      execx.Runner
	opts   Options
	log    logrus.FieldLogger
	starts func(host string, spec execx.JobSpec) (*execx.Process, error)

	mu      sync.Mutex
	topo    topo.Topology
	started bool
	stopped bool
}

// NewLinux returns a backend that runs its commands through r.
func NewLinux(r execx.Runner, opts Options) *Linux {
	if r == nil {
		r = execx.NewOSRunner(os.Stdout, os.Stderr)
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Linux{r: r, opts: opts, log: log, starts: execx.Start}
}

// Namespace returns the netns name backing host.
func (n *Linux) Namespace(host string) string {
	return n.opts.NSPrefix + host
}

// Start creates every node and link of t and points the switches at the
// controller. It must succeed before Exec/Spawn are used.
func (n *Linux) Start(ctx context.Context, t topo.Topology) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.started {
		return errors.New("network already started")
	}
	n.started = true
	n.topo = t

	target, ok := addrutil.OpenFlowTarget(n.opts.ControllerHost, n.opts.ControllerPort)
	if !ok {
		return errors.Errorf("invalid controller %s:%d", n.opts.ControllerHost, n.opts.ControllerPort)
	}

	begin := time.Now()
	for _, h := range t.Hosts() {
		ns := n.Namespace(h.Name)
		if err := n.run(ctx, "ip", "netns", "add", ns); err != nil && !execx.IsExist(err) {
			return errors.Wrapf(err, "add host %s", h.Name)
		}
		if err := n.run(ctx, "ip", "netns", "exec", ns, "ip", "link", "set", "lo", "up"); err != nil {
			return errors.Wrapf(err, "host %s loopback", h.Name)
		}
	}

	for _, s := range t.Switches() {
		if err := n.run(ctx, "ovs-vsctl", "--may-exist", "add-br", s.Name,
			"--", "set", "bridge", s.Name, "fail-mode=secure", "other-config:datapath-id="+s.DPID); err != nil {
			return errors.Wrapf(err, "add switch %s", s.Name)
		}
		if err := n.run(ctx, "ovs-vsctl", "set-controller", s.Name, target); err != nil {
			return errors.Wrapf(err, "switch %s controller", s.Name)
		}
	}

	for _, l := range t.Links {
		if err := n.addLink(ctx, t, l); err != nil {
			return errors.Wrapf(err, "link %s-%s", l.A, l.B)
		}
	}

	for _, s := range t.Switches() {
		if err := n.run(ctx, "ip", "link", "set", s.Name, "up"); err != nil {
			return errors.Wrapf(err, "switch %s up", s.Name)
		}
	}

	n.log.WithFields(logrus.Fields{
		"hosts":      len(t.Hosts()),
		"switches":   len(t.Switches()),
		"links":      len(t.Links),
		"controller": target,
		"took":       time.Since(begin).Round(time.Millisecond),
	}).Info("emulated network started")
	return nil
}

func (n *Linux) addLink(ctx context.Context, t topo.Topology, l topo.Link) error {
	if err := n.run(ctx, "ip", "link", "add", l.IntfA, "type", "veth", "peer", "name", l.IntfB); err != nil && !execx.IsExist(err) {
		return err
	}
	if err := n.attach(ctx, t, l.A, l.IntfA); err != nil {
		return err
	}
	if err := n.attach(ctx, t, l.B, l.IntfB); err != nil {
		return err
	}
	if err := n.shape(ctx, t, l.A, l.IntfA, l); err != nil {
		return err
	}
	return n.shape(ctx, t, l.B, l.IntfB, l)
}

// attach moves a host end into its namespace and addresses it, or plugs a
// switch end into its bridge.
func (n *Linux) attach(ctx context.Context, t topo.Topology, node, intf string) error {
	nd, ok := t.Node(node)
	if !ok {
		return errors.Errorf("unknown node %q", node)
	}
	if nd.Kind == topo.KindSwitch {
		if err := n.run(ctx, "ovs-vsctl", "--may-exist", "add-port", node, intf); err != nil {
			return err
		}
		return n.run(ctx, "ip", "link", "set", intf, "up")
	}

	ns := n.Namespace(node)
	if err := n.run(ctx, "ip", "link", "set", intf, "netns", ns); err != nil {
		return err
	}
	cidr := fmt.Sprintf("%s/%d", nd.Addr, topo.PrefixLen)
	if err := n.run(ctx, "ip", "netns", "exec", ns, "ip", "addr", "replace", cidr, "dev", intf); err != nil {
		return err
	}
	return n.run(ctx, "ip", "netns", "exec", ns, "ip", "link", "set", intf, "up")
}

// shape installs htb for the rate and a netem child for delay/loss on one
// end of a link.
func (n *Linux) shape(ctx context.Context, t topo.Topology, node, intf string, l topo.Link) error {
	var prefix []string
	if nd, ok := t.Node(node); ok && nd.Kind == topo.KindHost {
		prefix = []string{"netns", "exec", n.Namespace(node), "tc"}
	}
	tc := func(args ...string) error {
		if prefix == nil {
			return n.run(ctx, "tc", args...)
		}
		return n.run(ctx, "ip", append(append([]string{}, prefix...), args...)...)
	}
	for _, args := range ShapeArgs(intf, l) {
		if err := tc(args...); err != nil {
			return err
		}
	}
	return nil
}

// ShapeArgs returns the tc invocations (without the "tc" word) that limit
// intf to the link's bandwidth, delay and loss.
func ShapeArgs(intf string, l topo.Link) [][]string {
	rate := model.FormatMbps(l.BandwidthMbps) + "mbit"
	netem := []string{"qdisc", "replace", "dev", intf, "parent", "5:1", "handle", "10:", "netem",
		"delay", fmt.Sprintf("%dms", l.Delay.Milliseconds())}
	if l.LossPct > 0 {
		netem = append(netem, "loss", model.FormatMbps(l.LossPct)+"%")
	}
	return [][]string{
		{"qdisc", "replace", "dev", intf, "root", "handle", "5:", "htb", "default", "1"},
		{"class", "replace", "dev", intf, "parent", "5:", "classid", "5:1", "htb", "rate", rate, "burst", "15k"},
		netem,
	}
}

// Exec runs argv inside host and returns its combined output.
func (n *Linux) Exec(ctx context.Context, host string, argv ...string) (string, error) {
	ns, err := n.hostNS(host)
	if err != nil {
		return "", err
	}
	return n.r.Output(ctx, "ip", append([]string{"netns", "exec", ns}, argv...)...)
}

// Spawn starts a background job inside host.
func (n *Linux) Spawn(_ context.Context, host string, spec execx.JobSpec) (*execx.Process, error) {
	ns, err := n.hostNS(host)
	if err != nil {
		return nil, err
	}
	spec.Argv = append([]string{"ip", "netns", "exec", ns}, spec.Argv...)
	p, err := n.starts(host, spec)
	if err != nil {
		return nil, errors.Wrapf(err, "spawn %s on %s", spec.Name, host)
	}
	n.log.WithFields(logrus.Fields{"host": host, "job": spec.Name, "pid": p.Pid(), "log": spec.LogPath}).Debug("job spawned")
	return p, nil
}

// IP returns the address allocated to host.
func (n *Linux) IP(host string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.topo.AddrOf(host)
}

// Stop removes everything Start created. Only the first call does work.
func (n *Linux) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started || n.stopped {
		return nil
	}
	n.stopped = true
	return n.remove(ctx, n.topo)
}

// Cleanup removes leftovers of an earlier run: every namespace carrying the
// prefix, the switch bridges and their veth ends. Safe when nothing exists.
func (n *Linux) Cleanup(ctx context.Context) error {
	if n.opts.NSPrefix == "" {
		return errors.New("cleanup needs a namespace prefix")
	}
	out, err := n.r.Output(ctx, "ip", "netns", "list")
	if err != nil {
		return errors.Wrap(err, "list namespaces")
	}
	var failed []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 || !strings.HasPrefix(fields[0], n.opts.NSPrefix) {
			continue
		}
		if err := n.run(ctx, "ip", "netns", "del", fields[0]); err != nil && !execx.IsNotExist(err) {
			failed = append(failed, err.Error())
		}
	}
	if err := n.remove(ctx, topo.Build(1)); err != nil {
		failed = append(failed, err.Error())
	}
	if len(failed) > 0 {
		return errors.Errorf("cleanup: %s", strings.Join(failed, "; "))
	}
	return nil
}

func (n *Linux) remove(ctx context.Context, t topo.Topology) error {
	var failed []string
	keep := func(err error) {
		if err != nil && !execx.IsNotExist(err) {
			failed = append(failed, err.Error())
		}
	}

	for _, h := range t.Hosts() {
		keep(n.run(ctx, "ip", "netns", "del", n.Namespace(h.Name)))
	}
	for _, s := range t.Switches() {
		keep(n.run(ctx, "ovs-vsctl", "--if-exists", "del-br", s.Name))
	}
	// The switch-to-switch veth lives in the root namespace and survives del-br.
	if l, ok := t.Bottleneck(); ok {
		keep(n.run(ctx, "ip", "link", "del", l.IntfA))
	}

	if len(failed) > 0 {
		return errors.Errorf("teardown: %s", strings.Join(failed, "; "))
	}
	n.log.Info("emulated network removed")
	return nil
}

func (n *Linux) hostNS(host string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.started {
		return "", errors.New("network not started")
	}
	if n.stopped {
		return "", errors.New("network already stopped")
	}
	if nd, ok := n.topo.Node(host); !ok || nd.Kind != topo.KindHost {
		return "", errors.Errorf("unknown host %q", host)
	}
	return n.Namespace(host), nil
}

func (n *Linux) run(ctx context.Context, name string, args ...string) error {
	if n == nil || n.r == nil {
		return errors.New("runner not initialized")
	}
	return n.r.Run(ctx, name, args...)
}
