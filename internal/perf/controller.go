// Package perf bounds the work of one analysis: it downsamples oversized
// working grids up front and truncates oversized outputs at the end.
package perf

import (
	"math"
	"sort"

	"github.com/hydrowatch/hydrorisk-backend/internal/config"
	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
)

// Report is the performance section of an analysis result.
type Report struct {
	EstimatedCells    int     `json:"estimated_cells"`
	FetchFactor       int     `json:"fetch_factor"`
	FetchResolutionM  float64 `json:"fetch_resolution_m"`
	DownsampleApplied bool    `json:"downsample_applied"`
	InputWidth        int     `json:"input_width"`
	InputHeight       int     `json:"input_height"`
	WorkWidth         int     `json:"work_width"`
	WorkHeight        int     `json:"work_height"`
	ScaleFactor       int     `json:"scale_factor"`
	OutputTruncated   bool    `json:"output_truncated"`
	FeatureCount      int     `json:"feature_count"`
	OutputCount       int     `json:"feature_count_output"`
	MaxOutputFeatures int     `json:"max_output_features"`
	MaxLinePoints     int     `json:"max_line_points"`
	PartialCoverage   bool    `json:"partial_coverage"`
	CoverageRatio     float64 `json:"coverage_ratio"`
	MissingTiles      int     `json:"missing_tiles,omitempty"`
}

// Controller applies the size limits of a pipeline configuration.
type Controller struct {
	MaxCells      int
	MaxFeatures   int
	MaxLinePoints int
}

// New builds a controller from the pipeline limits.
func New(p config.Pipeline) *Controller {
	return &Controller{
		MaxCells:      p.MaxAnalysisCells,
		MaxFeatures:   p.MaxOutputFeatures,
		MaxLinePoints: p.MaxLinePoints,
	}
}

// Plan estimates the pixel count of bbox at res and the integer factor
// needed to bring it under MaxCells.
func (c *Controller) Plan(b raster.BBox, res float64) (cells, factor int) {
	w := math.Ceil(b.Width() / res)
	h := math.Ceil(b.Height() / res)
	cells = int(w * h)
	return cells, c.factorFor(cells)
}

// FetchResolution plans the request at res and returns the resolution the
// mosaic should be fetched at, so that oversized AOIs are never materialised
// at full resolution.
func (c *Controller) FetchResolution(b raster.BBox, res float64, rep *Report) float64 {
	cells, factor := c.Plan(b, res)
	rep.EstimatedCells = cells
	rep.FetchFactor = factor
	rep.FetchResolutionM = res * float64(factor)
	return rep.FetchResolutionM
}

func (c *Controller) factorFor(cells int) int {
	if c.MaxCells <= 0 || cells <= c.MaxCells {
		return 1
	}
	return int(math.Ceil(math.Sqrt(float64(cells) / float64(c.MaxCells))))
}

// Prepare downsamples g by area averaging when it still exceeds MaxCells and
// records the outcome in rep. ScaleFactor combines the fetch factor chosen by
// FetchResolution with the factor applied here.
func (c *Controller) Prepare(g *raster.Grid, rep *Report) *raster.Grid {
	rep.InputWidth, rep.InputHeight = g.Width, g.Height
	rep.MaxOutputFeatures, rep.MaxLinePoints = c.MaxFeatures, c.MaxLinePoints
	factor := c.factorFor(g.Len())
	out := raster.Downsample(g, factor)
	fetched := max(rep.FetchFactor, 1)
	rep.ScaleFactor = fetched * factor
	rep.DownsampleApplied = rep.ScaleFactor > 1
	rep.WorkWidth, rep.WorkHeight = out.Width, out.Height
	return out
}

// Truncate keeps at most MaxFeatures items with the highest score, preserving
// their original relative order.
func Truncate[T any](c *Controller, items []T, score func(T) float64, rep *Report) []T {
	rep.FeatureCount = len(items)
	if c.MaxFeatures <= 0 || len(items) <= c.MaxFeatures {
		rep.OutputCount = len(items)
		return items
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return score(items[idx[a]]) > score(items[idx[b]]) })
	keep := idx[:c.MaxFeatures]
	sort.Ints(keep)
	out := make([]T, len(keep))
	for k, i := range keep {
		out[k] = items[i]
	}
	rep.OutputTruncated = true
	rep.OutputCount = len(out)
	return out
}

// ReduceLine thins a polyline to at most MaxLinePoints vertices by taking
// every n-th point; both end points are always kept.
func (c *Controller) ReduceLine(pts [][2]float64) [][2]float64 {
	max := c.MaxLinePoints
	if max <= 0 || len(pts) <= max {
		return pts
	}
	if max < 3 {
		return [][2]float64{pts[0], pts[len(pts)-1]}
	}
	step := len(pts) / (max - 1)
	if step < 1 {
		step = 1
	}
	out := make([][2]float64, 0, max)
	for i := 0; i < len(pts) && len(out) < max-1; i += step {
		out = append(out, pts[i])
	}
	return append(out, pts[len(pts)-1])
}
