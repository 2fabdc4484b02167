// Package watershed delineates the upstream contributing area of a point on
// the conditioned flow grid and vectorizes it into polygon rings.
package watershed

import (
	"math"

	"github.com/ctessum/geom"

	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
	"github.com/hydrowatch/hydrorisk-backend/internal/hydro"
	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
)

// Options bound the delineation.
type Options struct {
	SnapRadiusCells int
	MaxCells        int // visited-cell budget; <= 0 means the whole grid
}

// Input is the read-only analysis state a delineation runs against.
type Input struct {
	Grid    *raster.Grid
	Flow    *hydro.FlowGrid
	Network *hydro.Network // optional, enables snapping
	Mask    []bool         // AOI mask; nil keeps every valid cell
	Clip    geom.Polygonal // AOI polygon in working coordinates; nil for bbox AOIs
}

// Result is one delineated watershed in working coordinates.
type Result struct {
	Outlet   int
	OutletX  float64
	OutletY  float64
	Snapped  bool
	Cells    int
	Degraded bool
	AreaM2   float64
	Polygons []Polygon
}

// AreaKM2 returns the area in square kilometres.
func (r *Result) AreaKM2() float64 { return r.AreaM2 / 1e6 }

// AreaHa returns the area in hectares.
func (r *Result) AreaHa() float64 { return r.AreaM2 / 1e4 }

// Delineate marks every cell that drains through the (snapped) query point
// and returns its boundary. A point outside the grid or the AOI is rejected
// with InvalidGeometry; an exhausted budget sets Degraded.
func Delineate(in Input, x, y float64, opts Options) (*Result, error) {
	g := in.Grid
	r, c := g.Transform.RowCol(x, y)
	if !g.In(r, c) {
		return nil, apperr.Ef(apperr.InvalidGeometry, "point (%.1f, %.1f) lies outside the analysed grid", x, y)
	}
	start := g.Index(r, c)
	if !in.inside(start) {
		return nil, apperr.E(apperr.InvalidGeometry, "point lies outside the AOI or on nodata", nil)
	}

	outlet, snapped := snap(in, start, opts.SnapRadiusCells)
	up := buildUpstream(in)
	marked, count, degraded := traverse(up, outlet, opts.MaxCells)

	res := &Result{Outlet: outlet, Snapped: snapped, Cells: count, Degraded: degraded}
	res.OutletX, res.OutletY = g.Transform.CellCenter(g.RC(outlet))
	res.Polygons = Vectorize(g, marked)
	res.AreaM2 = float64(count) * g.CellArea()
	if in.Clip != nil {
		res.Polygons = clip(res.Polygons, in.Clip)
		res.AreaM2 = area(res.Polygons)
	}
	return res, nil
}

func (in Input) inside(i int) bool {
	return in.Flow.Valid(i) && (in.Mask == nil || in.Mask[i])
}

// snap moves the start cell to the nearest channel cell within radius. Ties
// go to the lowest index.
func snap(in Input, start, radius int) (int, bool) {
	if in.Network == nil || radius <= 0 || in.Network.Channel[start] {
		return start, false
	}
	g := in.Grid
	r0, c0 := g.RC(start)
	best, bestD := -1, math.Inf(1)
	for dr := -radius; dr <= radius; dr++ {
		for dc := -radius; dc <= radius; dc++ {
			r, c := r0+dr, c0+dc
			if !g.In(r, c) {
				continue
			}
			i := g.Index(r, c)
			if !in.Network.Channel[i] || !in.inside(i) {
				continue
			}
			d := math.Hypot(float64(dr), float64(dc))
			if d > float64(radius) {
				continue
			}
			if d < bestD {
				best, bestD = i, d
			}
		}
	}
	if best < 0 {
		return start, false
	}
	return best, true
}

// upstream is the reversed flow graph in compressed sparse row form:
// the donors of cell i are src[off[i]:off[i+1]].
type upstream struct {
	off []int32
	src []int32
}

func buildUpstream(in Input) upstream {
	n := len(in.Flow.Dir)
	off := make([]int32, n+1)
	for i := 0; i < n; i++ {
		if d := in.Flow.Downstream(i); d >= 0 && in.inside(i) && in.inside(d) {
			off[d+1]++
		}
	}
	for i := 0; i < n; i++ {
		off[i+1] += off[i]
	}
	src := make([]int32, off[n])
	fill := make([]int32, n)
	copy(fill, off[:n])
	for i := 0; i < n; i++ {
		if d := in.Flow.Downstream(i); d >= 0 && in.inside(i) && in.inside(d) {
			src[fill[d]] = int32(i)
			fill[d]++
		}
	}
	return upstream{off: off, src: src}
}

// traverse runs a breadth-first walk from outlet over the donors. It stops
// when budget cells have been marked and work remains.
func traverse(up upstream, outlet, budget int) ([]bool, int, bool) {
	n := len(up.off) - 1
	if budget <= 0 || budget > n {
		budget = n
	}
	marked := make([]bool, n)
	marked[outlet] = true
	count := 1
	queue := []int32{int32(outlet)}
	for head := 0; head < len(queue); head++ {
		i := queue[head]
		for _, s := range up.src[up.off[i]:up.off[i+1]] {
			if marked[s] {
				continue
			}
			if count >= budget {
				return marked, count, true
			}
			marked[s] = true
			count++
			queue = append(queue, s)
		}
	}
	return marked, count, false
}
