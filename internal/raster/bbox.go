package raster

import (
	"fmt"
	"math"
)

// BBox is an axis-aligned box in projected coordinates.
type BBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

func (b BBox) Width() float64  { return b.MaxX - b.MinX }
func (b BBox) Height() float64 { return b.MaxY - b.MinY }
func (b BBox) Area() float64   { return b.Width() * b.Height() }

// Empty reports whether the box has no area.
func (b BBox) Empty() bool { return !(b.MaxX > b.MinX && b.MaxY > b.MinY) }

// Intersect returns the overlap of b and o.
func (b BBox) Intersect(o BBox) BBox {
	return BBox{
		MinX: math.Max(b.MinX, o.MinX),
		MinY: math.Max(b.MinY, o.MinY),
		MaxX: math.Min(b.MaxX, o.MaxX),
		MaxY: math.Min(b.MaxY, o.MaxY),
	}
}

// Intersects reports whether the boxes overlap with positive area.
func (b BBox) Intersects(o BBox) bool { return !b.Intersect(o).Empty() }

// Expand grows the box by d on every side.
func (b BBox) Expand(d float64) BBox {
	return BBox{MinX: b.MinX - d, MinY: b.MinY - d, MaxX: b.MaxX + d, MaxY: b.MaxY + d}
}

// Snap aligns the box outward to multiples of res.
func (b BBox) Snap(res float64) BBox {
	return BBox{
		MinX: math.Floor(b.MinX/res) * res,
		MinY: math.Floor(b.MinY/res) * res,
		MaxX: math.Ceil(b.MaxX/res) * res,
		MaxY: math.Ceil(b.MaxY/res) * res,
	}
}

// Split cuts the box into sub-boxes whose edges do not exceed maxEdge.
// Tiles are returned row by row from the north-west corner.
func (b BBox) Split(maxEdge float64) []BBox {
	if maxEdge <= 0 || (b.Width() <= maxEdge && b.Height() <= maxEdge) {
		return []BBox{b}
	}
	nx := int(math.Ceil(b.Width() / maxEdge))
	ny := int(math.Ceil(b.Height() / maxEdge))
	dx := b.Width() / float64(nx)
	dy := b.Height() / float64(ny)
	tiles := make([]BBox, 0, nx*ny)
	for j := 0; j < ny; j++ {
		maxY := b.MaxY - float64(j)*dy
		for i := 0; i < nx; i++ {
			minX := b.MinX + float64(i)*dx
			t := BBox{MinX: minX, MinY: maxY - dy, MaxX: minX + dx, MaxY: maxY}
			if i == nx-1 {
				t.MaxX = b.MaxX
			}
			if j == ny-1 {
				t.MinY = b.MinY
			}
			tiles = append(tiles, t)
		}
	}
	return tiles
}

// Quadrants splits the box into four equal parts (NW, NE, SW, SE).
func (b BBox) Quadrants() []BBox {
	mx := (b.MinX + b.MaxX) / 2
	my := (b.MinY + b.MaxY) / 2
	return []BBox{
		{MinX: b.MinX, MinY: my, MaxX: mx, MaxY: b.MaxY},
		{MinX: mx, MinY: my, MaxX: b.MaxX, MaxY: b.MaxY},
		{MinX: b.MinX, MinY: b.MinY, MaxX: mx, MaxY: my},
		{MinX: mx, MinY: b.MinY, MaxX: b.MaxX, MaxY: my},
	}
}

// Key renders a stable cache key fragment for the box at a resolution.
func (b BBox) Key(res float64) string {
	return fmt.Sprintf("%.2f,%.2f,%.2f,%.2f@%.3f", b.MinX, b.MinY, b.MaxX, b.MaxY, res)
}

// GridFor allocates an empty grid covering b at resolution res.
func GridFor(b BBox, res float64, crs string) *Grid {
	s := b.Snap(res)
	w := int(math.Round(s.Width() / res))
	h := int(math.Round(s.Height() / res))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return New(w, h, Transform{OriginX: s.MinX, OriginY: s.MaxY, CellSize: res}, crs)
}
