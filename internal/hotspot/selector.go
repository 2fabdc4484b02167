// Package hotspot ranks high-score cells into spatially separated points
// with a generated rationale and remediation measures.
package hotspot

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
	"github.com/hydrowatch/hydrorisk-backend/internal/scoring"
	"github.com/hydrowatch/hydrorisk-backend/internal/stats"
)

// Factor names used in rationales and catalog lookups.
const (
	FactorAccumulation = "accumulation"
	FactorSlope        = "slope"
	FactorSoil         = "soil"
	FactorImpervious   = "impervious"
	FactorPonding      = "ponding"
	FactorCombined     = "combined"
)

// Hotspot types.
const (
	TypeRisk    = "risk"
	TypePonding = "ponding"
)

// Rationale thresholds for the soil and imperviousness factors.
const layerFlagFloor = 0.65

var reasonText = map[string]string{
	FactorAccumulation: "starke Fliessakkumulation",
	FactorSlope:        "hohe Hangneigung",
	FactorSoil:         "geringe Infiltration",
	FactorImpervious:   "hoher Versiegelungsgrad",
	FactorCombined:     "kombinierter Terrain-Risikoindikator",
}

// Hotspot is one selected point. X/Y are working-CRS coordinates; Lat/Lon
// are filled in by the caller.
type Hotspot struct {
	Rank            int       `json:"rank"`
	Lat             float64   `json:"lat"`
	Lon             float64   `json:"lon"`
	RiskScore       int       `json:"risk_score"`
	RiskClass       string    `json:"risk_class"`
	Reason          string    `json:"reason"`
	Factors         []string  `json:"factors"`
	DominantFactor  string    `json:"dominant_factor"`
	UpstreamAreaM2  int64     `json:"upstream_area_m2"`
	UpstreamAreaKM2 float64   `json:"upstream_area_km2"`
	PondingDepthM   *float64  `json:"ponding_depth_m,omitempty"`
	Type            string    `json:"hotspot_type"`
	Measures        []Measure `json:"measures"`

	Cell int     `json:"-"`
	X    float64 `json:"-"`
	Y    float64 `json:"-"`
}

// Selector performs greedy non-maximum suppression over candidate cells.
type Selector struct {
	Count         int
	MinSeparation float64 // metres between accepted hotspots
	ScoreFloor    float64
	Catalog       *Catalog
}

// Input is the per-analysis data the selector reads.
type Input struct {
	Grid    *raster.Grid
	Scores  []float64
	Acc     []int
	Factors *scoring.Factors
	Weights scoring.Weights
	Mask    []bool
}

// aoiProfile holds the AOI-local reference values for rationales.
type aoiProfile struct {
	accP90, slopeP75                      float64
	meanAcc, meanSlope, meanSoil, meanImp float64
	soilFlag, impFlag                     float64
}

func profile(in Input) aoiProfile {
	var accs, slopes, accN, slopeN, soil, imp []float64
	f := in.Factors
	for i := range in.Scores {
		if !f.Valid(i) || (in.Mask != nil && !in.Mask[i]) {
			continue
		}
		accs = append(accs, float64(in.Acc[i]))
		slopes = append(slopes, f.SlopeDeg[i])
		accN = append(accN, f.Acc[i])
		slopeN = append(slopeN, f.Slope[i])
		soil = append(soil, f.Soil[i])
		imp = append(imp, f.Impervious[i])
	}
	p := aoiProfile{
		accP90:    stats.Percentile(accs, 90),
		slopeP75:  stats.Percentile(stats.Finite(slopes), 75),
		meanAcc:   stats.Mean(accN),
		meanSlope: stats.Mean(slopeN),
		meanSoil:  stats.Mean(soil),
		meanImp:   stats.Mean(imp),
	}
	p.soilFlag = math.Max(layerFlagFloor, p.meanSoil)
	p.impFlag = math.Max(layerFlagFloor, p.meanImp)
	return p
}

// Select returns up to Count hotspots by descending score. Ties are broken
// by row-major cell order.
func (s *Selector) Select(in Input) []Hotspot {
	cands := make([]int, 0, 1024)
	for i, sc := range in.Scores {
		if math.IsNaN(sc) || sc < s.ScoreFloor || (in.Mask != nil && !in.Mask[i]) {
			continue
		}
		cands = append(cands, i)
	}
	if len(cands) == 0 || s.Count <= 0 {
		return nil
	}
	sort.SliceStable(cands, func(a, b int) bool { return in.Scores[cands[a]] > in.Scores[cands[b]] })

	prof := profile(in)
	cellArea := in.Grid.CellArea()
	var out []Hotspot
	for _, i := range cands {
		x, y := in.Grid.Transform.CellCenter(in.Grid.RC(i))
		if !separated(out, x, y, s.MinSeparation) {
			continue
		}
		score := int(in.Scores[i])
		factors := flaggedFactors(in, i, prof)
		h := Hotspot{
			Rank:           len(out) + 1,
			RiskScore:      score,
			RiskClass:      scoring.Classify(in.Scores[i]),
			Factors:        factors,
			DominantFactor: dominantFactor(in, i, prof),
			Type:           TypeRisk,
			Cell:           i,
			X:              x,
			Y:              y,
		}
		h.Reason = reasonFor(factors)
		setUpstream(&h, in.Acc[i], cellArea)
		if s.Catalog != nil {
			h.Measures = s.Catalog.For(appendUnique(factors, h.DominantFactor), score)
		}
		out = append(out, h)
		if len(out) >= s.Count {
			break
		}
	}
	return out
}

// SelectPonding picks filled depressions by fill depth. The score is the depth
// relative to the 95th percentile depth of the AOI.
func (s *Selector) SelectPonding(g *raster.Grid, depth []float64, acc []int, mask []bool) []Hotspot {
	var cands []int
	var depths []float64
	for i, d := range depth {
		if d > 0 && !math.IsNaN(d) && (mask == nil || mask[i]) {
			cands = append(cands, i)
			depths = append(depths, d)
		}
	}
	if len(cands) == 0 || s.Count <= 0 {
		return nil
	}
	ref := stats.Percentile(depths, 95)
	if !(ref > 0) {
		_, ref = stats.Range(depths)
	}
	sort.SliceStable(cands, func(a, b int) bool { return depth[cands[a]] > depth[cands[b]] })

	var out []Hotspot
	for _, i := range cands {
		x, y := g.Transform.CellCenter(g.RC(i))
		if !separated(out, x, y, s.MinSeparation) {
			continue
		}
		d := depth[i]
		score := math.Round(stats.Clamp01(d/ref) * 100)
		dm := math.Round(d*1000) / 1000
		h := Hotspot{
			Rank:           len(out) + 1,
			RiskScore:      int(score),
			RiskClass:      scoring.Classify(score),
			Reason:         fmt.Sprintf("Senke / pot. Stauwasser (Tiefe ~%d cm)", int(math.Round(d*100))),
			Factors:        []string{FactorPonding},
			DominantFactor: FactorPonding,
			PondingDepthM:  &dm,
			Type:           TypePonding,
			Cell:           i,
			X:              x,
			Y:              y,
		}
		setUpstream(&h, acc[i], g.CellArea())
		if s.Catalog != nil {
			h.Measures = s.Catalog.For(h.Factors, h.RiskScore)
		}
		out = append(out, h)
		if len(out) >= s.Count {
			break
		}
	}
	return out
}

func separated(accepted []Hotspot, x, y, minDist float64) bool {
	for _, h := range accepted {
		if math.Hypot(h.X-x, h.Y-y) < minDist {
			return false
		}
	}
	return true
}

func flaggedFactors(in Input, i int, p aoiProfile) []string {
	f := in.Factors
	out := []string{}
	if float64(in.Acc[i]) >= p.accP90 {
		out = append(out, FactorAccumulation)
	}
	if !math.IsNaN(f.SlopeDeg[i]) && f.SlopeDeg[i] >= p.slopeP75 {
		out = append(out, FactorSlope)
	}
	if f.Soil[i] >= p.soilFlag {
		out = append(out, FactorSoil)
	}
	if f.Impervious[i] >= p.impFlag {
		out = append(out, FactorImpervious)
	}
	return out
}

// dominantFactor is the factor with the largest weighted excess over the AOI mean.
func dominantFactor(in Input, i int, p aoiProfile) string {
	f, w := in.Factors, in.Weights
	excess := []struct {
		name string
		v    float64
	}{
		{FactorAccumulation, w.Acc * (f.Acc[i] - p.meanAcc)},
		{FactorSlope, w.Slope * (f.Slope[i] - p.meanSlope)},
		{FactorSoil, w.Soil * (f.Soil[i] - p.meanSoil)},
		{FactorImpervious, w.Impervious * (f.Impervious[i] - p.meanImp)},
	}
	best, bestV := FactorCombined, 0.0
	for _, e := range excess {
		if e.v > bestV {
			best, bestV = e.name, e.v
		}
	}
	return best
}

func reasonFor(factors []string) string {
	if len(factors) == 0 {
		return reasonText[FactorCombined]
	}
	parts := make([]string, len(factors))
	for k, f := range factors {
		parts[k] = reasonText[f]
	}
	return strings.Join(parts, " + ")
}

func setUpstream(h *Hotspot, acc int, cellArea float64) {
	m2 := float64(acc) * cellArea
	h.UpstreamAreaM2 = int64(math.Round(m2))
	h.UpstreamAreaKM2 = math.Round(m2/1e6*1e6) / 1e6
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(append([]string(nil), list...), v)
}
