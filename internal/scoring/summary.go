package scoring

import (
	"math"

	"github.com/hydrowatch/hydrorisk-backend/internal/stats"
)

// ScenarioRefMMPerH is the rain intensity at which rain_norm is unchanged.
const ScenarioRefMMPerH = 50.0

// Scenario summarizes the AOI under one design rain intensity.
type Scenario struct {
	RainMMPerH           float64 `json:"rain_mm_per_h"`
	RainNorm             float64 `json:"rain_norm"`
	MeanScore            int     `json:"mean_score"`
	HighSharePercent     float64 `json:"high_share_percent"`
	VeryHighSharePercent float64 `json:"very_high_share_percent"`
}

// Scenarios rescores the masked cells with rain_norm·mm/50 for each intensity.
// Only the rain term changes, so results never decrease with intensity.
func (m Model) Scenarios(f *Factors, mask []bool, rainNorm float64, intensities []float64) []Scenario {
	out := make([]Scenario, 0, len(intensities))
	for _, mm := range intensities {
		rain := stats.Clamp01(rainNorm * mm / ScenarioRefMMPerH)
		var sum float64
		var n, high, veryHigh int
		for i := range f.Acc {
			if !f.Valid(i) || (mask != nil && !mask[i]) {
				continue
			}
			s := m.Score(f, i, rain)
			sum += s
			n++
			if s >= HighFrom {
				high++
			}
			if s >= VeryHighFrom {
				veryHigh++
			}
		}
		sc := Scenario{RainMMPerH: mm, RainNorm: math.Round(rain*1000) / 1000}
		if n > 0 {
			sc.MeanScore = int(math.Round(sum / float64(n)))
			sc.HighSharePercent = stats.Round1(float64(high) / float64(n) * 100)
			sc.VeryHighSharePercent = stats.Round1(float64(veryHigh) / float64(n) * 100)
		}
		out = append(out, sc)
	}
	return out
}

// ClassDistribution counts masked cells per class; every class is present.
func ClassDistribution(scores []float64, mask []bool) map[string]int {
	dist := make(map[string]int, len(Classes))
	for _, c := range Classes {
		dist[c] = 0
	}
	for i, s := range scores {
		if math.IsNaN(s) || (mask != nil && !mask[i]) {
			continue
		}
		dist[Classify(s)]++
	}
	return dist
}

// ScoreSummary is the mean and max of the masked scores.
func ScoreSummary(scores []float64, mask []bool) (mean, max int) {
	vals := make([]float64, 0, len(scores))
	for i, s := range scores {
		if !math.IsNaN(s) && (mask == nil || mask[i]) {
			vals = append(vals, s)
		}
	}
	if len(vals) == 0 {
		return 0, 0
	}
	_, hi := stats.Range(vals)
	return int(math.Round(stats.Mean(vals))), int(math.Round(hi))
}
