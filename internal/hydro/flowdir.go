// Package hydro implements the raster hydrology core: depression filling,
// flat resolution, D8 flow routing, accumulation and network extraction.
//
// Neighbour directions are scanned clockwise from east:
// 0=E 1=SE 2=S 3=SW 4=W 5=NW 6=N 7=NE. Ties in slope are broken by that order.
package hydro

import (
	"container/heap"
	"math"

	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
)

// Direction markers.
const (
	DirNone   int8 = -1 // nodata
	DirOutlet int8 = -2 // drains off the grid
)

var (
	dRow  = [8]int{0, 1, 1, 1, 0, -1, -1, -1}
	dCol  = [8]int{1, 1, 0, -1, -1, -1, 0, 1}
	dDist = [8]float64{1, math.Sqrt2, 1, math.Sqrt2, 1, math.Sqrt2, 1, math.Sqrt2}
)

// FlowGrid is the conditioned surface with one direction per valid cell.
type FlowGrid struct {
	Width, Height int
	Filled        []float64
	Depth         []float64 // filled - original, 0 outside depressions
	Dir           []int8
}

// Downstream returns the receiving cell of i, or -1 for outlets and nodata.
func (f *FlowGrid) Downstream(i int) int {
	d := f.Dir[i]
	if d < 0 {
		return -1
	}
	r, c := i/f.Width+dRow[d], i%f.Width+dCol[d]
	return r*f.Width + c
}

// IsOutlet reports whether cell i drains off the grid.
func (f *FlowGrid) IsOutlet(i int) bool { return f.Dir[i] == DirOutlet }

// Valid reports whether cell i carries data.
func (f *FlowGrid) Valid(i int) bool { return f.Dir[i] != DirNone }

// Condition fills depressions with a priority flood and assigns D8 directions.
// The flood is seeded from grid-edge cells and cells bordering nodata.
// Flat areas are drained toward the nearest already-draining cell, measured
// in BFS steps, so the resulting direction graph is acyclic.
func Condition(dem *raster.Grid) (*FlowGrid, error) {
	w, h := dem.Width, dem.Height
	n := w * h
	f := &FlowGrid{
		Width:  w,
		Height: h,
		Filled: make([]float64, n),
		Depth:  make([]float64, n),
		Dir:    make([]int8, n),
	}
	copy(f.Filled, dem.Data)

	closed := make([]bool, n)
	seed := make([]bool, n)
	pq := &cellQueue{}
	for i := 0; i < n; i++ {
		if math.IsNaN(dem.Data[i]) {
			f.Dir[i] = DirNone
			closed[i] = true
			continue
		}
		if onBoundary(dem, i) {
			seed[i] = true
			closed[i] = true
			heap.Push(pq, cellItem{z: dem.Data[i], idx: i, seq: pq.next()})
		}
	}
	if pq.Len() == 0 {
		return nil, apperr.E(apperr.ComputationError, "elevation grid has no valid cells", nil)
	}

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(cellItem)
		r, c := cur.idx/w, cur.idx%w
		for k := 0; k < 8; k++ {
			rr, cc := r+dRow[k], c+dCol[k]
			if rr < 0 || cc < 0 || rr >= h || cc >= w {
				continue
			}
			j := rr*w + cc
			if closed[j] {
				continue
			}
			closed[j] = true
			if f.Filled[j] < f.Filled[cur.idx] {
				f.Depth[j] = f.Filled[cur.idx] - f.Filled[j]
				f.Filled[j] = f.Filled[cur.idx]
			}
			heap.Push(pq, cellItem{z: f.Filled[j], idx: j, seq: pq.next()})
		}
	}

	unresolved := 0
	for i := 0; i < n; i++ {
		if f.Dir[i] == DirNone {
			continue
		}
		if d := steepest(f, i); d >= 0 {
			f.Dir[i] = d
		} else if seed[i] {
			f.Dir[i] = DirOutlet
		} else {
			f.Dir[i] = unresolvedDir
			unresolved++
		}
	}
	if unresolved > 0 {
		if err := resolveFlats(f, unresolved); err != nil {
			return nil, err
		}
	}
	return f, nil
}

const unresolvedDir int8 = -3

// steepest returns the D8 direction of maximum drop per unit distance, or -1
// when no neighbour is strictly lower.
func steepest(f *FlowGrid, i int) int8 {
	r, c := i/f.Width, i%f.Width
	z := f.Filled[i]
	best := int8(-1)
	bestDrop := 0.0
	for k := 0; k < 8; k++ {
		rr, cc := r+dRow[k], c+dCol[k]
		if rr < 0 || cc < 0 || rr >= f.Height || cc >= f.Width {
			continue
		}
		zn := f.Filled[rr*f.Width+cc]
		if math.IsNaN(zn) {
			continue
		}
		if drop := (z - zn) / dDist[k]; drop > bestDrop {
			best, bestDrop = int8(k), drop
		}
	}
	return best
}

// resolveFlats runs a multi-source BFS from draining cells into equal-elevation
// unresolved cells; each reached cell points at the cell it was reached from.
func resolveFlats(f *FlowGrid, unresolved int) error {
	w, h := f.Width, f.Height
	queue := make([]int, 0, unresolved)
	for i, d := range f.Dir {
		if d < 0 && d != DirOutlet {
			continue
		}
		if hasUnresolvedPeer(f, i) {
			queue = append(queue, i)
		}
	}
	for head := 0; head < len(queue); head++ {
		p := queue[head]
		r, c := p/w, p%w
		for k := 0; k < 8; k++ {
			rr, cc := r+dRow[k], c+dCol[k]
			if rr < 0 || cc < 0 || rr >= h || cc >= w {
				continue
			}
			j := rr*w + cc
			if f.Dir[j] != unresolvedDir || f.Filled[j] != f.Filled[p] {
				continue
			}
			f.Dir[j] = int8((k + 4) % 8)
			unresolved--
			queue = append(queue, j)
		}
	}
	if unresolved > 0 {
		return apperr.Ef(apperr.ComputationError, "%d flat cells could not be drained", unresolved)
	}
	return nil
}

func hasUnresolvedPeer(f *FlowGrid, i int) bool {
	r, c := i/f.Width, i%f.Width
	for k := 0; k < 8; k++ {
		rr, cc := r+dRow[k], c+dCol[k]
		if rr < 0 || cc < 0 || rr >= f.Height || cc >= f.Width {
			continue
		}
		j := rr*f.Width + cc
		if f.Dir[j] == unresolvedDir && f.Filled[j] == f.Filled[i] {
			return true
		}
	}
	return false
}

func onBoundary(g *raster.Grid, i int) bool {
	r, c := g.RC(i)
	if r == 0 || c == 0 || r == g.Height-1 || c == g.Width-1 {
		return true
	}
	for k := 0; k < 8; k++ {
		if math.IsNaN(g.Data[(r+dRow[k])*g.Width+c+dCol[k]]) {
			return true
		}
	}
	return false
}

type cellItem struct {
	z   float64
	idx int
	seq int
}

// cellQueue is a min-heap on elevation; insertion order breaks ties.
type cellQueue struct {
	items []cellItem
	seq   int
}

func (q *cellQueue) next() int { q.seq++; return q.seq }

func (q *cellQueue) Len() int { return len(q.items) }
func (q *cellQueue) Less(i, j int) bool {
	if q.items[i].z != q.items[j].z {
		return q.items[i].z < q.items[j].z
	}
	return q.items[i].seq < q.items[j].seq
}
func (q *cellQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *cellQueue) Push(x any)    { q.items = append(q.items, x.(cellItem)) }
func (q *cellQueue) Pop() any {
	old := q.items
	it := old[len(old)-1]
	q.items = old[:len(old)-1]
	return it
}
