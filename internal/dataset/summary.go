package dataset

import (
	"math"
	"sort"

	"crossbench/internal/model"
)

// PointCount is how many rows a parameter pair has.
type PointCount struct {
	Parameters model.ExperimentParameters
	Runs       int
}

// Summary is a coverage snapshot of the dataset.
type Summary struct {
	Rows            int
	Points          []PointCount
	MinBandwidth    float64
	MaxBandwidth    float64
	MinCrossTraffic float64
	MaxCrossTraffic float64
}

// Summarize groups rows by parameter pair, ordered by bandwidth then cross
// traffic.
func Summarize(rows []model.ExperimentParameters) Summary {
	if len(rows) == 0 {
		return Summary{}
	}

	counts := make(map[model.ExperimentParameters]int, len(rows))
	minBW, minCT := math.MaxFloat64, math.MaxFloat64
	maxBW, maxCT := 0.0, 0.0
	for _, r := range rows {
		counts[r]++
		minBW = math.Min(minBW, r.AvailableBandwidth)
		maxBW = math.Max(maxBW, r.AvailableBandwidth)
		minCT = math.Min(minCT, r.CrossTraffic)
		maxCT = math.Max(maxCT, r.CrossTraffic)
	}

	points := make([]PointCount, 0, len(counts))
	for p, n := range counts {
		points = append(points, PointCount{Parameters: p, Runs: n})
	}
	sort.Slice(points, func(i, j int) bool {
		a, b := points[i].Parameters, points[j].Parameters
		if a.AvailableBandwidth != b.AvailableBandwidth {
			return a.AvailableBandwidth < b.AvailableBandwidth
		}
		return a.CrossTraffic < b.CrossTraffic
	})

	return Summary{
		Rows:            len(rows),
		Points:          points,
		MinBandwidth:    minBW,
		MaxBandwidth:    maxBW,
		MinCrossTraffic: minCT,
		MaxCrossTraffic: maxCT,
	}
}

// Missing returns the points of want that have fewer than runs rows.
func (s Summary) Missing(want []model.ExperimentParameters, runs int) []PointCount {
	have := make(map[model.ExperimentParameters]int, len(s.Points))
	for _, p := range s.Points {
		have[p.Parameters] = p.Runs
	}
	var out []PointCount
	for _, w := range want {
		if have[w] < runs {
			out = append(out, PointCount{Parameters: w, Runs: have[w]})
		}
	}
	return out
}
