package stats

import (
	"math"
	"sort"
)

// Percentile calculates the p-th percentile (0-100)
// Uses linear interpolation between closest ranks
func Percentile(values []float64, p float64) float64 {
	return Percentiles(values, []float64{p})[0]
}

// Percentiles calculates multiple percentiles at once
func Percentiles(values []float64, ps []float64) []float64 {
	if len(values) == 0 {
		return make([]float64, len(ps))
	}

	// Sort once for efficiency
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	results := make([]float64, len(ps))
	for i, p := range ps {
		p = math.Max(0, math.Min(100, p))
		index := p / 100.0 * float64(len(sorted)-1)
		lower := int(math.Floor(index))
		upper := int(math.Ceil(index))

		if lower == upper {
			results[i] = sorted[lower]
		} else {
			// Linear interpolation
			weight := index - float64(lower)
			results[i] = sorted[lower]*(1-weight) + sorted[upper]*weight
		}
	}

	return results
}
