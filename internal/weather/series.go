package weather

import (
	"context"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/hydrowatch/hydrorisk-backend/internal/stats"
)

// Antecedent-moisture classes.
const (
	MoistureDry    = "trocken"
	MoistureNormal = "normal"
	MoistureWet    = "nass"
)

// Sample is one hourly precipitation observation.
type Sample struct {
	Time     time.Time `json:"t"`
	PrecipMM float64   `json:"precip_mm"`
}

// SeriesStats summarizes an hourly precipitation series.
type SeriesStats struct {
	Count         int                `json:"count"`
	SumMM         float64            `json:"sum_mm"`
	MaxMM         float64            `json:"max_mm"`
	QuantilesMM   map[string]float64 `json:"quantiles_mm"`
	API14         float64            `json:"api14"`
	MoistureClass string             `json:"moisture_class"`
}

// DefaultQuantiles are reported for every series.
var DefaultQuantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Summarize computes quantiles, totals and the antecedent moisture of series.
func Summarize(series []Sample) SeriesStats {
	vals := make([]float64, 0, len(series))
	for _, s := range series {
		if !math.IsNaN(s.PrecipMM) {
			vals = append(vals, s.PrecipMM)
		}
	}
	st := SeriesStats{Count: len(vals), QuantilesMM: map[string]float64{}}
	if len(vals) > 0 {
		_, st.MaxMM = stats.Range(vals)
		st.SumMM = stats.Sum(vals)
		ps := make([]float64, len(DefaultQuantiles))
		for i, q := range DefaultQuantiles {
			ps[i] = q * 100
		}
		for i, v := range stats.Percentiles(vals, ps) {
			st.QuantilesMM[strconv.FormatFloat(DefaultQuantiles[i], 'f', -1, 64)] = v
		}
	}
	st.API14 = API14(DailySums(series))
	st.MoistureClass = ClassifyMoisture(st.API14)
	return st
}

// DailySums totals precipitation per UTC day, oldest first.
func DailySums(series []Sample) []float64 {
	byDay := map[string]float64{}
	for _, s := range series {
		if s.Time.IsZero() {
			continue
		}
		v := s.PrecipMM
		if math.IsNaN(v) {
			v = 0
		}
		byDay[s.Time.UTC().Format("2006-01-02")] += v
	}
	days := make([]string, 0, len(byDay))
	for d := range byDay {
		days = append(days, d)
	}
	sort.Strings(days)
	out := make([]float64, len(days))
	for i, d := range days {
		out[i] = byDay[d]
	}
	return out
}

// API14 is an antecedent precipitation index over the last 14 days; the
// newest day weighs 1.0, the oldest 0.1, linearly in between.
func API14(daily []float64) float64 {
	if len(daily) > 14 {
		daily = daily[len(daily)-14:]
	}
	n := len(daily)
	if n == 0 {
		return 0
	}
	denom := math.Max(1, float64(n-1))
	var api float64
	for i := 0; i < n; i++ {
		w := 1.0 - float64(i)/denom*0.9
		api += daily[n-1-i] * w
	}
	return api
}

// ClassifyMoisture buckets an API14 value.
func ClassifyMoisture(api14 float64) string {
	switch {
	case api14 < 10:
		return MoistureDry
	case api14 < 25:
		return MoistureNormal
	}
	return MoistureWet
}

// Series derives the context from an observed precipitation series.
type Series struct {
	Samples   []Sample
	Scenarios []float64
}

func (s Series) Resolve(context.Context) (Context, error) {
	if len(s.Samples) == 0 {
		return Baseline(), nil
	}
	st := Summarize(s.Samples)
	c := Context{
		RainNorm:       RainNormForMoisture(st.MoistureClass),
		MoistureClass:  st.MoistureClass,
		Source:         "series",
		Mode:           "historical",
		ScenarioMMPerH: s.Scenarios,
		Stats:          &st,
	}
	return c.Normalize(), nil
}
