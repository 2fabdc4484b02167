package scoring

import (
	"math"

	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
	"github.com/hydrowatch/hydrorisk-backend/internal/stats"
)

// MaxSlopeDeg caps the slope factor.
const MaxSlopeDeg = 45.0

// Defaults for external samples that fall on nodata.
const (
	soilFallback       = 0.5
	imperviousFallback = 0.35
)

// Factors holds the normalized per-cell inputs, NaN on nodata.
type Factors struct {
	Acc        []float64
	Slope      []float64
	Soil       []float64
	Impervious []float64
	SlopeDeg   []float64

	SoilKind       LayerKind
	ImperviousKind LayerKind
}

// Valid reports whether cell i has factor values.
func (f *Factors) Valid(i int) bool { return !math.IsNaN(f.Acc[i]) }

// BuildFactors normalizes accumulation (log1p, AOI min–max), slope (capped at
// 45°) and the soil/imperviousness layers over the working grid. Only cells
// inside mask contribute to the min–max ranges.
func BuildFactors(dem *raster.Grid, acc []int, slopeDeg []float64, mask []bool, soil, imp Layer) *Factors {
	n := dem.Len()
	f := &Factors{
		Acc:            make([]float64, n),
		Slope:          make([]float64, n),
		Soil:           make([]float64, n),
		Impervious:     make([]float64, n),
		SlopeDeg:       slopeDeg,
		SoilKind:       soil.Kind,
		ImperviousKind: imp.Kind,
	}
	for i := 0; i < n; i++ {
		if !dem.Valid(i) {
			f.Acc[i] = math.NaN()
			continue
		}
		f.Acc[i] = math.Log1p(float64(acc[i]))
		f.Slope[i] = math.Min(math.Max(slopeDeg[i], 0), MaxSlopeDeg) / MaxSlopeDeg
	}
	stats.MinMaxNormalize(f.Acc, mask)

	soilRaw := sampleLayer(dem, soil)
	impRaw := sampleLayer(dem, imp)
	if soilRaw != nil {
		stats.MinMaxNormalize(soilRaw, mask)
	}
	if impRaw != nil {
		stats.MinMaxNormalize(impRaw, mask)
	}

	for i := 0; i < n; i++ {
		if !f.Valid(i) {
			f.Slope[i], f.Soil[i], f.Impervious[i] = math.NaN(), math.NaN(), math.NaN()
			continue
		}
		if soilRaw != nil {
			// high infiltration lowers the runoff risk
			f.Soil[i] = orDefault(1-soilRaw[i], soilFallback)
		} else {
			f.Soil[i] = stats.Clamp01(0.45 + 0.25*f.Slope[i])
		}
		if impRaw != nil {
			f.Impervious[i] = orDefault(impRaw[i], imperviousFallback)
		} else {
			f.Impervious[i] = stats.Clamp01(0.35 + 0.50*f.Acc[i])
		}
	}
	return f
}

// sampleLayer reads an external layer at the DEM cell centers; nil for proxies.
func sampleLayer(dem *raster.Grid, l Layer) []float64 {
	if l.Kind != LayerExternal || l.Grid == nil {
		return nil
	}
	out := make([]float64, dem.Len())
	for r := 0; r < dem.Height; r++ {
		for c := 0; c < dem.Width; c++ {
			x, y := dem.Transform.CellCenter(r, c)
			out[r*dem.Width+c] = l.Grid.Sample(x, y)
		}
	}
	return out
}

func orDefault(v, def float64) float64 {
	if math.IsNaN(v) {
		return def
	}
	return v
}
