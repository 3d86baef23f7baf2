package model

import (
	"math"
	"testing"
)

func TestParseParameters(t *testing.T) {
	t.Parallel()

	p, err := ParseParameters("50", "12.5")
	if err != nil {
		t.Fatalf("ParseParameters: %v", err)
	}
	if p.AvailableBandwidth != 50 || p.CrossTraffic != 12.5 {
		t.Fatalf("params=%+v", p)
	}
	rec := p.Record()
	if rec[0] != "50" || rec[1] != "12.5" {
		t.Fatalf("record=%v", rec)
	}
}

func TestParseParameters_Rejects(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ bw, ct string }{
		{"abc", "1"},
		{"50", ""},
		{"0", "1"},
		{"50", "-2"},
		{"NaN", "10"},
		{"50", "nan"},
		{"Inf", "10"},
		{"50", "+Inf"},
		{"-inf", "10"},
	} {
		if _, err := ParseParameters(tc.bw, tc.ct); err == nil {
			t.Errorf("ParseParameters(%q, %q): expected error", tc.bw, tc.ct)
		}
	}
}

func TestCheckRate(t *testing.T) {
	t.Parallel()

	if err := CheckRate("bw", 12.5); err != nil {
		t.Fatalf("CheckRate(12.5): %v", err)
	}
	for _, v := range []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		if err := CheckRate("bw", v); err == nil {
			t.Errorf("CheckRate(%v): expected error", v)
		}
	}
}
