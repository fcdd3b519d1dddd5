package valuation

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// PerformanceSummary describes a return series.
type PerformanceSummary struct {
	Latest       float64 `json:"latest"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	MeanChange   float64 `json:"mean_change"`
	StdDevChange float64 `json:"stddev_change"`
	Points       int     `json:"points"`
}

// summarize computes summary statistics over unrounded return percentages.
// Changes are differences between consecutive points.
func summarize(returns []float64) *PerformanceSummary {
	if len(returns) == 0 {
		return nil
	}

	s := &PerformanceSummary{
		Latest: Round2(returns[len(returns)-1]),
		Min:    Round2(floats.Min(returns)),
		Max:    Round2(floats.Max(returns)),
		Points: len(returns),
	}

	if len(returns) < 2 {
		return s
	}
	changes := make([]float64, len(returns)-1)
	for i := 1; i < len(returns); i++ {
		changes[i-1] = returns[i] - returns[i-1]
	}
	s.MeanChange = Round2(stat.Mean(changes, nil))
	if len(changes) > 1 {
		if sd := stat.StdDev(changes, nil); !math.IsNaN(sd) {
			s.StdDevChange = Round2(sd)
		}
	}
	return s
}
