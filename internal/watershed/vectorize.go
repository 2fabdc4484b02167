package watershed

import (
	"math"
	"sort"

	"github.com/ctessum/geom"

	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
)

// Ring is a closed sequence of working-CRS vertices (first == last).
type Ring [][2]float64

// Polygon is an exterior ring (counter-clockwise) followed by its holes
// (clockwise).
type Polygon []Ring

// edge is a unit cell side on the corner lattice, oriented with the marked
// cell on its left.
type edge struct {
	from, to int // lattice vertex ids r*(W+1)+c
}

// Vectorize traces the boundary of the marked cell union into polygons.
// Cells touching only at a corner end up in separate rings.
func Vectorize(g *raster.Grid, marked []bool) []Polygon {
	w, h := g.Width, g.Height
	vw := w + 1
	at := func(r, c int) bool { return r >= 0 && c >= 0 && r < h && c < w && marked[r*w+c] }
	vid := func(r, c int) int { return r*vw + c }

	var edges []edge
	out := map[int][]int{}
	add := func(from, to int) {
		out[from] = append(out[from], len(edges))
		edges = append(edges, edge{from, to})
	}
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			if !marked[r*w+c] {
				continue
			}
			if !at(r+1, c) {
				add(vid(r+1, c), vid(r+1, c+1))
			}
			if !at(r, c+1) {
				add(vid(r+1, c+1), vid(r, c+1))
			}
			if !at(r-1, c) {
				add(vid(r, c+1), vid(r, c))
			}
			if !at(r, c-1) {
				add(vid(r, c), vid(r+1, c))
			}
		}
	}

	// world direction of an edge: x east, y north
	dir := func(e edge) (int, int) {
		return e.to%vw - e.from%vw, -(e.to/vw - e.from/vw)
	}
	next := func(e edge) int {
		dx, dy := dir(e)
		best, bestTurn := -1, math.MinInt
		for _, k := range out[e.to] {
			ex, ey := dir(edges[k])
			if ex == -dx && ey == -dy {
				continue
			}
			turn := dx*ey - dy*ex
			if turn > bestTurn {
				best, bestTurn = k, turn
			}
		}
		return best
	}

	used := make([]bool, len(edges))
	var rings []Ring
	for s := range edges {
		if used[s] {
			continue
		}
		var verts []int
		for k := s; k >= 0 && !used[k]; k = next(edges[k]) {
			used[k] = true
			verts = append(verts, edges[k].from)
		}
		rings = append(rings, latticeRing(g, simplify(verts, vw)))
	}
	return assemble(rings)
}

// simplify drops vertices where the boundary continues straight.
func simplify(verts []int, vw int) []int {
	n := len(verts)
	if n < 4 {
		return verts
	}
	out := make([]int, 0, n)
	for i, v := range verts {
		p, q := verts[(i+n-1)%n], verts[(i+1)%n]
		d1r, d1c := v/vw-p/vw, v%vw-p%vw
		d2r, d2c := q/vw-v/vw, q%vw-v%vw
		if d1r == d2r && d1c == d2c {
			continue
		}
		out = append(out, v)
	}
	return out
}

func latticeRing(g *raster.Grid, verts []int) Ring {
	vw := g.Width + 1
	t := g.Transform
	ring := make(Ring, 0, len(verts)+1)
	for _, v := range verts {
		r, c := v/vw, v%vw
		ring = append(ring, [2]float64{t.OriginX + float64(c)*t.CellSize, t.OriginY - float64(r)*t.CellSize})
	}
	return append(ring, ring[0])
}

// assemble nests rings by containment depth: even depth rings are exteriors,
// odd depth rings are holes of the smallest exterior that contains them.
func assemble(rings []Ring) []Polygon {
	type info struct {
		ring  Ring
		area  float64
		depth int
		probe [2]float64
	}
	var rs []info
	for _, r := range rings {
		r = closeRing(r)
		a := signedArea(r)
		if len(r) < 4 || math.Abs(a) < 1e-9 {
			continue
		}
		rs = append(rs, info{ring: r, area: math.Abs(a), probe: probe(r)})
	}
	for i := range rs {
		for j := range rs {
			if i != j && rs[j].area > rs[i].area && containsPoint(rs[j].ring, rs[i].probe) {
				rs[i].depth++
			}
		}
	}
	// larger exteriors first keeps output order stable
	sort.SliceStable(rs, func(a, b int) bool { return rs[a].area > rs[b].area })

	var polys []Polygon
	owner := map[int]int{}
	for i, r := range rs {
		if r.depth%2 == 0 {
			owner[i] = len(polys)
			polys = append(polys, Polygon{orient(r.ring, true)})
		}
	}
	for _, r := range rs {
		if r.depth%2 == 0 {
			continue
		}
		parent, parentArea := -1, math.Inf(1)
		for j, e := range rs {
			if e.depth == r.depth-1 && e.area < parentArea && containsPoint(e.ring, r.probe) {
				parent, parentArea = j, e.area
			}
		}
		if parent < 0 {
			continue
		}
		p := owner[parent]
		polys[p] = append(polys[p], orient(r.ring, false))
	}
	return polys
}

func closeRing(r Ring) Ring {
	if len(r) > 0 && r[0] != r[len(r)-1] {
		r = append(append(Ring(nil), r...), r[0])
	}
	return r
}

// probe is the midpoint of the first edge. Traced rings never share an edge,
// so the probe is off every other ring.
func probe(r Ring) [2]float64 {
	return [2]float64{(r[0][0] + r[1][0]) / 2, (r[0][1] + r[1][1]) / 2}
}

func signedArea(r Ring) float64 {
	var s float64
	for i := 0; i+1 < len(r); i++ {
		s += r[i][0]*r[i+1][1] - r[i+1][0]*r[i][1]
	}
	return s / 2
}

func orient(r Ring, ccw bool) Ring {
	if (signedArea(r) > 0) == ccw {
		return r
	}
	out := make(Ring, len(r))
	for i := range r {
		out[i] = r[len(r)-1-i]
	}
	return out
}

func containsPoint(r Ring, p [2]float64) bool {
	in := false
	for i, j := 0, len(r)-1; i < len(r); j, i = i, i+1 {
		a, b := r[i], r[j]
		if (a[1] > p[1]) != (b[1] > p[1]) && p[0] < (b[0]-a[0])*(p[1]-a[1])/(b[1]-a[1])+a[0] {
			in = !in
		}
	}
	return in
}

// clip intersects the polygons with the AOI polygon.
func clip(polys []Polygon, aoi geom.Polygonal) []Polygon {
	if len(polys) == 0 {
		return nil
	}
	var subject geom.Polygon
	for _, p := range polys {
		for _, r := range p {
			path := make(geom.Path, len(r))
			for i, v := range r {
				path[i] = geom.Point{X: v[0], Y: v[1]}
			}
			subject = append(subject, path)
		}
	}
	var rings []Ring
	for _, p := range subject.Intersection(aoi).Polygons() {
		for _, path := range p {
			r := make(Ring, len(path))
			for i, pt := range path {
				r[i] = [2]float64{pt.X, pt.Y}
			}
			rings = append(rings, r)
		}
	}
	return assemble(rings)
}

// area sums exterior areas minus holes.
func area(polys []Polygon) float64 {
	var total float64
	for _, p := range polys {
		for k, r := range p {
			path := make(geom.Path, len(r))
			for i, v := range r {
				path[i] = geom.Point{X: v[0], Y: v[1]}
			}
			a := math.Abs(geom.Polygon{path}.Area())
			if k == 0 {
				total += a
			} else {
				total -= a
			}
		}
	}
	return total
}
