package topo

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuild_Shape(t *testing.T) {
	t.Parallel()

	for _, bw := range []float64{1, 12.5, 50, 100} {
		tp := Build(bw)
		if got := len(tp.Hosts()); got != 4 {
			t.Fatalf("bw=%v hosts=%d", bw, got)
		}
		if got := len(tp.Switches()); got != 2 {
			t.Fatalf("bw=%v switches=%d", bw, got)
		}
		if got := len(tp.Links); got != 5 {
			t.Fatalf("bw=%v links=%d", bw, got)
		}
		for _, l := range tp.Links {
			if l.BandwidthMbps != bw || l.LossPct != 0 || l.Delay != 0 {
				t.Fatalf("bw=%v link=%+v", bw, l)
			}
		}
	}
}

func TestBuild_Attachments(t *testing.T) {
	t.Parallel()

	tp := Build(50)
	got := map[string]string{}
	for _, l := range tp.Links {
		got[l.A+"-"+l.B] = l.IntfA + "/" + l.IntfB
	}
	want := map[string]string{
		"h1-s1": "h1-eth0/s1-eth1",
		"h3-s1": "h3-eth0/s1-eth2",
		"h2-s2": "h2-eth0/s2-eth1",
		"h4-s2": "h4-eth0/s2-eth2",
		"s1-s2": "s1-eth3/s2-eth3",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("links (-want +got):\n%s", diff)
	}

	b, ok := tp.Bottleneck()
	if !ok || b.A != S1 || b.B != S2 {
		t.Fatalf("bottleneck=%+v ok=%v", b, ok)
	}
}

func TestAddrOf(t *testing.T) {
	t.Parallel()

	tp := Build(50)
	addr, err := tp.AddrOf(H2)
	if err != nil {
		t.Fatalf("AddrOf: %v", err)
	}
	if addr != "10.0.0.2" {
		t.Fatalf("addr=%q", addr)
	}
	if _, err := tp.AddrOf(S1); err == nil {
		t.Fatal("switch has no address")
	}
	s, _ := tp.Node(S2)
	if s.DPID != "0000000000000002" {
		t.Fatalf("dpid=%q", s.DPID)
	}
}
