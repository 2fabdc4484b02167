package raster

import "math"

// PasteNearest copies src onto dst by nearest-neighbour sampling at dst cell
// centers. NaN source cells never overwrite. It returns the number of dst cells written.
func PasteNearest(dst, src *Grid) int {
	overlap := dst.Bounds().Intersect(src.Bounds())
	if overlap.Empty() {
		return 0
	}
	t := dst.Transform
	r0, c0 := t.RowCol(overlap.MinX, overlap.MaxY)
	r1, c1 := t.RowCol(overlap.MaxX, overlap.MinY)
	r0, c0 = clampInt(r0, 0, dst.Height-1), clampInt(c0, 0, dst.Width-1)
	r1, c1 = clampInt(r1, 0, dst.Height-1), clampInt(c1, 0, dst.Width-1)

	written := 0
	for r := r0; r <= r1; r++ {
		for c := c0; c <= c1; c++ {
			x, y := t.CellCenter(r, c)
			v := src.Sample(x, y)
			if math.IsNaN(v) {
				continue
			}
			dst.Data[r*dst.Width+c] = v
			written++
		}
	}
	return written
}

// Clip returns the window of g covering b, resampled to res.
func Clip(g *Grid, b BBox, res float64) *Grid {
	out := GridFor(b, res, g.CRS)
	PasteNearest(out, g)
	return out
}

// Downsample aggregates factor×factor blocks by averaging their valid cells.
// Blocks without any valid cell become nodata.
func Downsample(g *Grid, factor int) *Grid {
	if factor <= 1 {
		return g
	}
	w := (g.Width + factor - 1) / factor
	h := (g.Height + factor - 1) / factor
	t := g.Transform
	t.CellSize *= float64(factor)
	out := New(w, h, t, g.CRS)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			var sum float64
			n := 0
			for rr := r * factor; rr < (r+1)*factor && rr < g.Height; rr++ {
				for cc := c * factor; cc < (c+1)*factor && cc < g.Width; cc++ {
					v := g.Data[rr*g.Width+cc]
					if !math.IsNaN(v) {
						sum += v
						n++
					}
				}
			}
			if n > 0 {
				out.Data[r*w+c] = sum / float64(n)
			}
		}
	}
	return out
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
