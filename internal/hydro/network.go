package hydro

import "math"

// Segment is one chain of channel cells between a head or confluence and the
// next confluence or outlet. Cells lists the owned cells upstream to
// downstream; when the chain ends in a confluence that cell is appended as
// Connector so the polyline joins the receiving segment.
type Segment struct {
	ID        int
	Cells     []int
	Connector int // -1 when the segment ends at an outlet
	AccCells  int // accumulation of the downstream-most owned cell
	LengthM   float64
	SlopeDeg  float64 // sampled at the midpoint owned cell
	MidCell   int
}

// Vertices returns the cell indices forming the polyline, connector included.
func (s *Segment) Vertices() []int {
	if s.Connector < 0 {
		return s.Cells
	}
	out := make([]int, len(s.Cells)+1)
	copy(out, s.Cells)
	out[len(s.Cells)] = s.Connector
	return out
}

// Network is the extracted drainage network.
type Network struct {
	Threshold int
	Channel   []bool // cell belongs to the network
	Segments  []*Segment
}

// ExtractNetwork selects cells with accumulation above threshold and chains
// them along flow links. Segments are ordered by the row-major position of
// their first cell.
func ExtractNetwork(f *FlowGrid, acc []int, threshold int, cellSize float64, slope []float64) *Network {
	n := len(acc)
	net := &Network{Threshold: threshold, Channel: make([]bool, n)}
	for i := 0; i < n; i++ {
		net.Channel[i] = f.Valid(i) && acc[i] > threshold
	}

	inflow := make([]uint8, n)
	for i := 0; i < n; i++ {
		if !net.Channel[i] {
			continue
		}
		if d := f.Downstream(i); d >= 0 && net.Channel[d] {
			inflow[d]++
		}
	}

	for i := 0; i < n; i++ {
		if !net.Channel[i] || inflow[i] == 1 {
			continue
		}
		seg := &Segment{ID: len(net.Segments), Connector: -1}
		cur := i
		for {
			seg.Cells = append(seg.Cells, cur)
			next := f.Downstream(cur)
			if next < 0 || !net.Channel[next] {
				break
			}
			if inflow[next] != 1 {
				seg.Connector = next
				break
			}
			cur = next
		}
		last := seg.Cells[len(seg.Cells)-1]
		seg.AccCells = acc[last]
		seg.MidCell = seg.Cells[len(seg.Cells)/2]
		if slope != nil {
			seg.SlopeDeg = slope[seg.MidCell]
		}
		seg.LengthM = pathLength(f.Width, seg.Vertices(), cellSize)
		net.Segments = append(net.Segments, seg)
	}
	return net
}

func pathLength(width int, cells []int, cellSize float64) float64 {
	var l float64
	for k := 1; k < len(cells); k++ {
		dr := cells[k]/width - cells[k-1]/width
		dc := cells[k]%width - cells[k-1]%width
		l += math.Hypot(float64(dr), float64(dc)) * cellSize
	}
	return l
}
