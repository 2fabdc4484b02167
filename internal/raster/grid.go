// Package raster holds the elevation grid model shared by every pipeline stage.
//
// Grids are row-major with row 0 at the top (north). The affine transform is
// north-up: cell (r, c) has its upper-left corner at
// (OriginX + c*CellSize, OriginY - r*CellSize). Nodata cells are stored as NaN.
package raster

import (
	"fmt"
	"math"
)

// Transform is a north-up affine transform with square cells.
type Transform struct {
	OriginX  float64 `json:"origin_x"`
	OriginY  float64 `json:"origin_y"`
	CellSize float64 `json:"cell_size"`
}

// CellCenter returns the projected coordinate of the center of cell (r, c).
func (t Transform) CellCenter(r, c int) (x, y float64) {
	return t.OriginX + (float64(c)+0.5)*t.CellSize, t.OriginY - (float64(r)+0.5)*t.CellSize
}

// RowCol returns the cell containing (x, y). The result may be outside the grid.
func (t Transform) RowCol(x, y float64) (r, c int) {
	c = int(math.Floor((x - t.OriginX) / t.CellSize))
	r = int(math.Floor((t.OriginY - y) / t.CellSize))
	return r, c
}

// Grid is a 2D float raster. Grids handed to the pipeline are treated as immutable.
type Grid struct {
	Width     int
	Height    int
	Transform Transform
	CRS       string
	Data      []float64
}

// New allocates a grid filled with NaN.
func New(width, height int, t Transform, crs string) *Grid {
	data := make([]float64, width*height)
	for i := range data {
		data[i] = math.NaN()
	}
	return &Grid{Width: width, Height: height, Transform: t, CRS: crs, Data: data}
}

// FromRows builds a grid from row slices; nodata values equal to nodata become NaN.
func FromRows(rows [][]float64, t Transform, crs string, nodata float64) (*Grid, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, fmt.Errorf("empty grid")
	}
	g := New(len(rows[0]), len(rows), t, crs)
	for r, row := range rows {
		if len(row) != g.Width {
			return nil, fmt.Errorf("row %d has %d values, want %d", r, len(row), g.Width)
		}
		for c, v := range row {
			if v != nodata && !math.IsNaN(v) {
				g.Data[r*g.Width+c] = v
			}
		}
	}
	return g, nil
}

// Len is the number of cells.
func (g *Grid) Len() int { return g.Width * g.Height }

// Index returns the flat index of (r, c).
func (g *Grid) Index(r, c int) int { return r*g.Width + c }

// RC splits a flat index.
func (g *Grid) RC(i int) (r, c int) { return i / g.Width, i % g.Width }

// In reports whether (r, c) lies on the grid.
func (g *Grid) In(r, c int) bool { return r >= 0 && c >= 0 && r < g.Height && c < g.Width }

// At returns the value at (r, c), NaN when off-grid.
func (g *Grid) At(r, c int) float64 {
	if !g.In(r, c) {
		return math.NaN()
	}
	return g.Data[r*g.Width+c]
}

// Valid reports whether cell i holds data.
func (g *Grid) Valid(i int) bool { return !math.IsNaN(g.Data[i]) }

// ValidCount counts non-nodata cells.
func (g *Grid) ValidCount() int {
	n := 0
	for _, v := range g.Data {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// CellArea is the area of one cell in square units of the CRS.
func (g *Grid) CellArea() float64 { return g.Transform.CellSize * g.Transform.CellSize }

// Bounds returns the grid extent.
func (g *Grid) Bounds() BBox {
	t := g.Transform
	return BBox{
		MinX: t.OriginX,
		MinY: t.OriginY - float64(g.Height)*t.CellSize,
		MaxX: t.OriginX + float64(g.Width)*t.CellSize,
		MaxY: t.OriginY,
	}
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	out := *g
	out.Data = append([]float64(nil), g.Data...)
	return &out
}

// Sample returns the value of the cell containing (x, y), NaN if outside.
func (g *Grid) Sample(x, y float64) float64 {
	r, c := g.Transform.RowCol(x, y)
	return g.At(r, c)
}

// MinMax returns the finite extrema; ok is false when the grid has no data.
func (g *Grid) MinMax() (min, max float64, ok bool) {
	min, max = math.Inf(1), math.Inf(-1)
	for _, v := range g.Data {
		if math.IsNaN(v) {
			continue
		}
		ok = true
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max, ok
}
