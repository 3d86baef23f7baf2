// Package topo describes the fixed dumbbell used by every experiment: two
// host pairs on either side of a single switch-to-switch bottleneck.
package topo

import (
	"fmt"
	"time"
)

// Host and switch names.
const (
	H1 = "h1" // measurement sender
	H2 = "h2" // measurement receiver
	H3 = "h3" // cross-traffic sender
	H4 = "h4" // cross-traffic receiver
	S1 = "s1"
	S2 = "s2"
)

// PrefixLen is the host subnet length. All hosts share 10.0.0.0/8.
const PrefixLen = 8

type Kind string

const (
	KindHost   Kind = "host"
	KindSwitch Kind = "switch"
)

// Node is a host or a switch.
type Node struct {
	Name string
	Kind Kind
	// Addr is the IPv4 address of a host, empty for switches.
	Addr string
	// DPID is the OpenFlow datapath id of a switch, empty for hosts.
	DPID string
}

// Link joins interface IntfA on node A with IntfB on node B.
type Link struct {
	A, B          string
	IntfA, IntfB  string
	BandwidthMbps float64
	LossPct       float64
	Delay         time.Duration
}

// Topology is an immutable node/link graph.
type Topology struct {
	Nodes []Node
	Links []Link
}

// Build returns the dumbbell with every link limited to bandwidthMbps and
// no added loss or delay. h1,h3 hang off s1; h2,h4 off s2; s1-s2 is shared.
func Build(bandwidthMbps float64) Topology {
	b := &builder{ports: map[string]int{}}
	for i, h := range []string{H1, H2, H3, H4} {
		b.nodes = append(b.nodes, Node{Name: h, Kind: KindHost, Addr: fmt.Sprintf("10.0.0.%d", i+1)})
	}
	for i, s := range []string{S1, S2} {
		b.nodes = append(b.nodes, Node{Name: s, Kind: KindSwitch, DPID: fmt.Sprintf("%016x", i+1)})
	}

	b.link(H1, S1, bandwidthMbps)
	b.link(H3, S1, bandwidthMbps)
	b.link(H2, S2, bandwidthMbps)
	b.link(H4, S2, bandwidthMbps)
	b.link(S1, S2, bandwidthMbps)

	return Topology{Nodes: b.nodes, Links: b.links}
}

type builder struct {
	nodes []Node
	links []Link
	ports map[string]int
}

func (b *builder) link(a, z string, bw float64) {
	b.links = append(b.links, Link{
		A:             a,
		B:             z,
		IntfA:         b.nextIntf(a),
		IntfB:         b.nextIntf(z),
		BandwidthMbps: bw,
	})
}

// nextIntf numbers host ports from eth0 and switch ports from eth1.
func (b *builder) nextIntf(node string) string {
	n, ok := b.ports[node]
	if !ok {
		n = 0
		if isSwitch(node) {
			n = 1
		}
	}
	b.ports[node] = n + 1
	return fmt.Sprintf("%s-eth%d", node, n)
}

func isSwitch(name string) bool { return name == S1 || name == S2 }

// Hosts returns host nodes in address order.
func (t Topology) Hosts() []Node { return t.byKind(KindHost) }

// Switches returns switch nodes.
func (t Topology) Switches() []Node { return t.byKind(KindSwitch) }

func (t Topology) byKind(k Kind) []Node {
	var out []Node
	for _, n := range t.Nodes {
		if n.Kind == k {
			out = append(out, n)
		}
	}
	return out
}

// Node looks up a node by name.
func (t Topology) Node(name string) (Node, bool) {
	for _, n := range t.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return Node{}, false
}

// AddrOf returns the address assigned to a host.
func (t Topology) AddrOf(host string) (string, error) {
	n, ok := t.Node(host)
	if !ok || n.Kind != KindHost {
		return "", fmt.Errorf("unknown host %q", host)
	}
	return n.Addr, nil
}

// Bottleneck returns the switch-to-switch link.
func (t Topology) Bottleneck() (Link, bool) {
	for _, l := range t.Links {
		if isSwitch(l.A) && isSwitch(l.B) {
			return l, true
		}
	}
	return Link{}, false
}
