package config

import "math"

// DEM source modes.
const (
	SourceWCS     = "wcs"
	SourceCatalog = "catalog"
	SourceFile    = "file"
)

// Analysis kinds.
const (
	KindStarkregen = "starkregen"
	KindErosion    = "erosion"
)

// Pipeline is the immutable per-request configuration handed to every stage.
// Copy it with WithOverrides; never mutate a shared instance.
type Pipeline struct {
	Kind       string
	SourceMode string
	WorkCRS    string
	Resolution float64 // metres per cell requested from the source
	Threshold  int     // accumulation threshold (cells) for network extraction

	MaxAnalysisCells  int
	MaxOutputFeatures int
	MaxLinePoints     int

	HotspotCount           int
	HotspotMinSeparationM  float64 // <= 0 means HotspotSeparationCells * cell size
	HotspotSeparationCells int
	HotspotScoreFloor      float64
	PondingHotspotCount    int
	PondingSeparationCells int

	SnapRadiusCells   int
	WatershedMaxCells int // <= 0 means no budget beyond the grid size
}

// DefaultPipeline returns the baseline pipeline settings.
func DefaultPipeline() Pipeline {
	return Pipeline{
		Kind:                   KindStarkregen,
		SourceMode:             SourceWCS,
		WorkCRS:                DefaultWorkCRS,
		Resolution:             1,
		Threshold:              200,
		MaxAnalysisCells:       4_000_000,
		MaxOutputFeatures:      4_000,
		MaxLinePoints:          80,
		HotspotCount:           8,
		HotspotSeparationCells: 25,
		PondingHotspotCount:    4,
		PondingSeparationCells: 28,
		SnapRadiusCells:        10,
	}
}

// Overrides are the request-level knobs; zero values keep the defaults.
type Overrides struct {
	Kind       string  `json:"kind"`
	SourceMode string  `json:"dem_source"`
	Resolution float64 `json:"resolution_m"`
	Threshold  int     `json:"threshold"`
}

// WithOverrides returns a copy of p with the non-zero overrides applied.
func (p Pipeline) WithOverrides(o Overrides) Pipeline {
	if o.Kind != "" {
		p.Kind = o.Kind
	}
	if o.SourceMode != "" {
		p.SourceMode = o.SourceMode
	}
	if o.Resolution > 0 && !math.IsInf(o.Resolution, 0) {
		p.Resolution = o.Resolution
	}
	if o.Threshold > 0 {
		p.Threshold = o.Threshold
	}
	return p
}

// HotspotSeparation returns the minimum hotspot distance in metres for a grid of the given cell size.
func (p Pipeline) HotspotSeparation(cellSize float64) float64 {
	if p.HotspotMinSeparationM > 0 {
		return p.HotspotMinSeparationM
	}
	return float64(p.HotspotSeparationCells) * cellSize
}
