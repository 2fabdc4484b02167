// Package scoring turns terrain factors into 0–100 runoff and erosion scores.
package scoring

import (
	"fmt"
	"math"

	"github.com/hydrowatch/hydrorisk-backend/internal/config"
)

// Risk classes, ordered from lowest to highest.
const (
	ClassLow      = "niedrig"
	ClassMedium   = "mittel"
	ClassHigh     = "hoch"
	ClassVeryHigh = "sehr_hoch"
)

// Classes lists the risk classes in ascending order.
var Classes = []string{ClassLow, ClassMedium, ClassHigh, ClassVeryHigh}

// Class thresholds; boundaries are lower-inclusive.
const (
	MediumFrom   = 45.0
	HighFrom     = 70.0
	VeryHighFrom = 85.0
)

// Classify maps a score to its class.
func Classify(score float64) string {
	switch {
	case score >= VeryHighFrom:
		return ClassVeryHigh
	case score >= HighFrom:
		return ClassHigh
	case score >= MediumFrom:
		return ClassMedium
	}
	return ClassLow
}

// Weights of the normalized factors.
type Weights struct {
	Acc        float64
	Slope      float64
	Soil       float64
	Impervious float64
	Rain       float64
}

func (w Weights) sum() float64 { return w.Acc + w.Slope + w.Soil + w.Impervious + w.Rain }

// Model is a weighted linear scoring model.
type Model struct {
	Kind    string
	Version string
	Weights Weights
}

var runoffWeights = Weights{Acc: 0.35, Slope: 0.25, Soil: 0.15, Impervious: 0.15, Rain: 0.10}

// NewModel returns the model for an analysis kind. Erosion drops the rain term
// and rescales the remaining weights to sum to one.
func NewModel(kind string) (Model, error) {
	switch kind {
	case config.KindStarkregen:
		return Model{Kind: kind, Version: "risk-v2-soil-impervious", Weights: runoffWeights}, nil
	case config.KindErosion:
		w := runoffWeights
		w.Rain = 0
		s := w.sum()
		w.Acc, w.Slope, w.Soil, w.Impervious = w.Acc/s, w.Slope/s, w.Soil/s, w.Impervious/s
		return Model{Kind: kind, Version: "erosion-v2-terrain", Weights: w}, nil
	}
	return Model{}, fmt.Errorf("unknown analysis kind %q", kind)
}

// UsesRain reports whether the model has a rain term.
func (m Model) UsesRain() bool { return m.Weights.Rain > 0 }

// Score returns the rounded score of cell i in [0,100], NaN for nodata.
func (m Model) Score(f *Factors, i int, rain float64) float64 {
	if !f.Valid(i) {
		return math.NaN()
	}
	w := m.Weights
	v := w.Acc*f.Acc[i] + w.Slope*f.Slope[i] + w.Soil*f.Soil[i] + w.Impervious*f.Impervious[i] + w.Rain*rain
	return math.Round(math.Max(0, math.Min(100, v*100)))
}

// ScoreGrid scores every cell.
func (m Model) ScoreGrid(f *Factors, rain float64) []float64 {
	out := make([]float64, len(f.Acc))
	for i := range out {
		out[i] = m.Score(f, i, rain)
	}
	return out
}
