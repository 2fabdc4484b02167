// Package weather supplies the rain factor and antecedent-moisture context
// consumed by the scoring engine.
package weather

import (
	"context"
	"math"
	"sort"
)

// Baseline values used when no weather information is available.
const (
	BaselineRainNorm = 0.60
	MinRainNorm      = 0.05
	SourceBaseline   = "constant_baseline"
	ModeBaseline     = "baseline"
	maxScenarios     = 3
)

// DefaultScenarios are the design rain intensities in mm/h.
var DefaultScenarios = []float64{30, 50, 100}

// Context is the weather input of one analysis.
type Context struct {
	RainNorm       float64      `json:"rain_norm"`
	MoistureClass  string       `json:"moisture_class,omitempty"`
	Source         string       `json:"source"`
	Mode           string       `json:"mode"`
	ScenarioMMPerH []float64    `json:"scenarios_mm_per_h,omitempty"`
	Stats          *SeriesStats `json:"stats,omitempty"`
}

// Provider resolves the weather context for an analysis.
type Provider interface {
	Resolve(ctx context.Context) (Context, error)
}

// Static always yields the baseline context.
type Static struct{}

// Resolve returns Baseline.
func (Static) Resolve(context.Context) (Context, error) { return Baseline(), nil }

// Fixed yields a caller-supplied context, normalized.
type Fixed struct {
	C Context
}

// Resolve returns the supplied context with its fields clamped and its
// scenario list sorted.
func (f Fixed) Resolve(context.Context) (Context, error) { return f.C.Normalize(), nil }

// Baseline is the context used when weather data is absent.
func Baseline() Context {
	return Context{
		RainNorm:       BaselineRainNorm,
		Source:         SourceBaseline,
		Mode:           ModeBaseline,
		ScenarioMMPerH: append([]float64(nil), DefaultScenarios...),
	}
}

// Normalize clamps the rain factor and cleans the scenario list: positive,
// sorted, unique, at most three entries, defaults when empty.
func (c Context) Normalize() Context {
	if c.RainNorm <= 0 || math.IsNaN(c.RainNorm) {
		c.RainNorm = BaselineRainNorm
	}
	c.RainNorm = math.Max(MinRainNorm, math.Min(1, c.RainNorm))
	if c.Source == "" {
		c.Source = SourceBaseline
	}
	if c.Mode == "" {
		c.Mode = ModeBaseline
	}

	seen := map[float64]bool{}
	var out []float64
	for _, v := range c.ScenarioMMPerH {
		if v > 0 && !math.IsInf(v, 0) && !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	if len(out) > maxScenarios {
		out = out[:maxScenarios]
	}
	if len(out) == 0 {
		out = append(out, DefaultScenarios...)
	}
	c.ScenarioMMPerH = out
	return c
}

// RainNormForMoisture maps an antecedent-moisture class to a rain factor.
func RainNormForMoisture(class string) float64 {
	switch class {
	case MoistureDry:
		return 0.45
	case MoistureWet:
		return 0.85
	}
	return BaselineRainNorm
}
