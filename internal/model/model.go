package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ExperimentParameters are the inputs of one experiment, in Mbps.
// CrossTraffic is expected to stay below AvailableBandwidth but that is not enforced.
type ExperimentParameters struct {
	AvailableBandwidth float64 `yaml:"available_bandwidth"`
	CrossTraffic       float64 `yaml:"cross_traffic"`
}

// ParseParameters parses the two positional CLI values.
func ParseParameters(bandwidth, crossTraffic string) (ExperimentParameters, error) {
	bw, err := parsePositive("bandwidth", bandwidth)
	if err != nil {
		return ExperimentParameters{}, err
	}
	ct, err := parsePositive("crossTraffic", crossTraffic)
	if err != nil {
		return ExperimentParameters{}, err
	}
	return ExperimentParameters{AvailableBandwidth: bw, CrossTraffic: ct}, nil
}

// Record returns the dataset row for these parameters.
func (p ExperimentParameters) Record() []string {
	return []string{FormatMbps(p.AvailableBandwidth), FormatMbps(p.CrossTraffic)}
}

func (p ExperimentParameters) String() string {
	return fmt.Sprintf("bw=%sMbps ct=%sMbps", FormatMbps(p.AvailableBandwidth), FormatMbps(p.CrossTraffic))
}

// FormatMbps renders a rate with the shortest exact decimal form (50, 12.5).
func FormatMbps(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parsePositive(name, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", name, raw)
	}
	if err := CheckRate(name, v); err != nil {
		return 0, err
	}
	return v, nil
}

// CheckRate rejects rates that are not finite and strictly positive.
func CheckRate(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%s: %s is not a finite number", name, FormatMbps(v))
	}
	if v <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, FormatMbps(v))
	}
	return nil
}
