package stats

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Finite returns the non-NaN, non-Inf values of vs.
func Finite(vs []float64) []float64 {
	out := make([]float64, 0, len(vs))
	for _, v := range vs {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// Mean calculates the arithmetic mean, 0 for empty input
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return stat.Mean(values, nil)
}

// Sum returns the sum of values
func Sum(values []float64) float64 {
	return floats.Sum(values)
}

// Range returns min and max; both are 0 for empty input
func Range(values []float64) (min, max float64) {
	if len(values) == 0 {
		return 0, 0
	}
	return floats.Min(values), floats.Max(values)
}

// MinMaxNormalize rescales values in place to [0,1] using the range of the
// finite values selected by mask (nil selects all). Unselected values are
// clamped; NaN stays NaN; a constant input maps to 0.
func MinMaxNormalize(values []float64, mask []bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, v := range values {
		if math.IsNaN(v) || (mask != nil && !mask[i]) {
			continue
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	span := hi - lo
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if !(span > 0) {
			values[i] = 0
			continue
		}
		values[i] = Clamp01((v - lo) / span)
	}
}

// Clamp01 limits v to [0,1].
func Clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Round1 rounds to one decimal place.
func Round1(v float64) float64 { return math.Round(v*10) / 10 }
