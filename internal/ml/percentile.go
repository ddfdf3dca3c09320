package ml

import (
	"fmt"
	"math"
	"sort"
)

// Percentile returns the q-th percentile (0..100) of values using linear
// interpolation between closest ranks, the same definition the exporter
// uses when it writes risk_percentiles.
func Percentile(values []float64, q float64) (float64, error) {
	if len(values) == 0 {
		return 0, fmt.Errorf("percentile of empty sample")
	}
	if q < 0 || q > 100 || math.IsNaN(q) {
		return 0, fmt.Errorf("percentile %v outside [0, 100]", q)
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return percentileSorted(sorted, q), nil
}

func percentileSorted(sorted []float64, q float64) float64 {
	pos := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// ComputePercentiles derives stratification thresholds from a population of
// risk scores.
func ComputePercentiles(scores []float64) (Percentiles, error) {
	if len(scores) == 0 {
		return Percentiles{}, fmt.Errorf("%w: no scores", ErrInvalidPercentiles)
	}
	sorted := make([]float64, 0, len(scores))
	for _, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return Percentiles{}, fmt.Errorf("%w: non-finite score %v", ErrInvalidPercentiles, s)
		}
		sorted = append(sorted, s)
	}
	sort.Float64s(sorted)
	return Percentiles{
		P25: percentileSorted(sorted, 25),
		P50: percentileSorted(sorted, 50),
		P75: percentileSorted(sorted, 75),
	}, nil
}
