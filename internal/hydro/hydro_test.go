package hydro

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
)

func gridFrom(w, h int, z func(r, c int) float64) *raster.Grid {
	g := raster.New(w, h, raster.Transform{OriginX: 0, OriginY: float64(h), CellSize: 1}, "")
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			g.Data[r*w+c] = z(r, c)
		}
	}
	return g
}

func onEdge(f *FlowGrid, i int) bool {
	r, c := i/f.Width, i%f.Width
	return r == 0 || c == 0 || r == f.Height-1 || c == f.Width-1
}

// trace follows directions from i and returns the terminal outlet.
func trace(t *testing.T, f *FlowGrid, i int) int {
	t.Helper()
	for steps := 0; steps <= len(f.Dir); steps++ {
		d := f.Downstream(i)
		if d < 0 {
			return i
		}
		require.LessOrEqual(t, f.Filled[d], f.Filled[i], "flow must never climb")
		i = d
	}
	t.Fatalf("flow path from %d does not terminate", i)
	return -1
}

func TestTieBreakPrefersEast(t *testing.T) {
	dem, err := raster.FromRows([][]float64{
		{5, 5, 5},
		{5, 9, 1},
		{5, 1, 5},
	}, raster.Transform{OriginY: 3, CellSize: 1}, "", raster.DefaultNodata)
	require.NoError(t, err)

	f, err := Condition(dem)
	require.NoError(t, err)
	assert.Equal(t, int8(0), f.Dir[4])
}

func TestDiagonalDropIsDistanceWeighted(t *testing.T) {
	// SE drop 4 over sqrt2 (2.83) loses to S drop 3 over 1.
	dem, err := raster.FromRows([][]float64{
		{9, 9, 9},
		{9, 9, 9},
		{9, 6, 5},
	}, raster.Transform{OriginY: 3, CellSize: 1}, "", raster.DefaultNodata)
	require.NoError(t, err)

	f, err := Condition(dem)
	require.NoError(t, err)
	assert.Equal(t, int8(2), f.Dir[4])
}

func TestCentralDepressionDrainsToGridEdge(t *testing.T) {
	const size = 100
	dem := gridFrom(size, size, func(r, c int) float64 {
		if r >= 48 && r <= 52 && c >= 48 && c <= 52 {
			return 8
		}
		return 10
	})

	f, err := Condition(dem)
	require.NoError(t, err)

	for i := range f.Dir {
		if onEdge(f, i) {
			continue
		}
		require.GreaterOrEqual(t, f.Dir[i], int8(0), "interior cell %d must drain", i)
		assert.Equal(t, 10.0, f.Filled[i])
	}
	assert.Equal(t, 2.0, f.Depth[50*size+50])
	assert.Equal(t, 0.0, f.Depth[10*size+10])

	for i := range f.Dir {
		if f.IsOutlet(i) {
			assert.True(t, onEdge(f, i), "outlet %d must sit on the grid edge", i)
		}
	}
	center := trace(t, f, 50*size+50)
	assert.True(t, f.IsOutlet(center))
	assert.Equal(t, center, trace(t, f, 50*size+50), "routing is deterministic")
	for r := 48; r <= 52; r++ {
		for c := 48; c <= 52; c++ {
			o := trace(t, f, r*size+c)
			assert.True(t, onEdge(f, o))
		}
	}

	acc, err := Accumulate(f)
	require.NoError(t, err)
	for i := range acc {
		assert.GreaterOrEqual(t, acc[i], 1)
	}
}

func TestTiltedPlaneNetwork(t *testing.T) {
	const w, h = 10, 300
	dem := gridFrom(w, h, func(r, c int) float64 { return float64(h - r) })

	f, err := Condition(dem)
	require.NoError(t, err)
	acc, err := Accumulate(f)
	require.NoError(t, err)

	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			require.Equal(t, r+1, acc[r*w+c], "accumulation grows linearly with flow length")
		}
	}

	net := ExtractNetwork(f, acc, 200, 1, Slope(dem))
	require.Len(t, net.Segments, w)
	for k, seg := range net.Segments {
		assert.Equal(t, -1, seg.Connector)
		require.Len(t, seg.Cells, 100)
		col := seg.Cells[0] % w
		assert.Equal(t, k, col)
		assert.Equal(t, 200, seg.Cells[0]/w)
		for j, cell := range seg.Cells {
			assert.Equal(t, col, cell%w, "segment stays straight")
			assert.Equal(t, 200+j, cell/w)
		}
		assert.Equal(t, 300, seg.AccCells)
		assert.InDelta(t, 99.0, seg.LengthM, 1e-9)
		assert.InDelta(t, 45.0, seg.SlopeDeg, 1e-9)
	}
}

func TestConfluenceSplitsSegments(t *testing.T) {
	// V-shaped valley draining south along column 2.
	const w, h = 5, 40
	dem := gridFrom(w, h, func(r, c int) float64 {
		return float64(h-r) + 3*math.Abs(float64(c-2))
	})
	f, err := Condition(dem)
	require.NoError(t, err)
	acc, err := Accumulate(f)
	require.NoError(t, err)

	// Columns 1 and 3 feed column 2 at every row, so each valley cell is a confluence.
	net := ExtractNetwork(f, acc, 1, 1, nil)
	require.Len(t, net.Segments, 3*h)
	owned := map[int]int{}
	for _, seg := range net.Segments {
		for _, c := range seg.Cells {
			owned[c]++
		}
		if seg.Connector >= 0 {
			assert.True(t, net.Channel[seg.Connector])
		}
	}
	for i, ch := range net.Channel {
		if ch {
			assert.Equal(t, 1, owned[i], "cell %d owned once", i)
		}
	}
}

func TestAccumulationPropertiesOnRandomTerrain(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const w, h = 60, 45
	dem := gridFrom(w, h, func(r, c int) float64 {
		if rng.Float64() < 0.03 {
			return math.NaN()
		}
		return 50 + 0.2*float64(r) + 5*rng.Float64()
	})

	f, err := Condition(dem)
	require.NoError(t, err)
	acc, err := Accumulate(f)
	require.NoError(t, err)

	upstream := make([]int, len(acc))
	for i := range acc {
		if !f.Valid(i) {
			assert.Equal(t, int8(DirNone), f.Dir[i])
			continue
		}
		require.GreaterOrEqual(t, acc[i], 1)
		if d := f.Downstream(i); d >= 0 {
			require.True(t, f.Valid(d))
			assert.GreaterOrEqual(t, acc[d], acc[i]+1)
			upstream[d] += acc[i]
		}
		trace(t, f, i)
	}
	for i := range acc {
		if f.Valid(i) {
			assert.Equal(t, 1+upstream[i], acc[i])
		}
	}
}

func TestAccumulateDetectsCycle(t *testing.T) {
	f := &FlowGrid{
		Width: 2, Height: 1,
		Filled: []float64{1, 1},
		Depth:  []float64{0, 0},
		Dir:    []int8{0, 4},
	}
	_, err := Accumulate(f)
	require.Error(t, err)
	assert.Equal(t, apperr.ComputationError, apperr.KindOf(err))
}

func TestConditionRejectsEmptyGrid(t *testing.T) {
	dem := raster.New(3, 3, raster.Transform{CellSize: 1}, "")
	_, err := Condition(dem)
	assert.True(t, apperr.Is(err, apperr.ComputationError))
}

func TestSlopeUsesCentralDifferences(t *testing.T) {
	// z = c² along each row: interior cells see (z[c+1]-z[c-1])/2, edges a
	// one-sided difference, and nodata neighbours are skipped
	dem := gridFrom(4, 3, func(r, c int) float64 { return float64(c * c) })
	dem.Data[1*4+3] = math.NaN()
	s := Slope(dem)

	deg := func(v float64) float64 { return math.Atan(v) * 180 / math.Pi }
	assert.InDelta(t, deg(1), s[0], 1e-9)     // (1-0)/1
	assert.InDelta(t, deg(2), s[1], 1e-9)     // (4-0)/2
	assert.InDelta(t, deg(4), s[2], 1e-9)     // (9-1)/2
	assert.InDelta(t, deg(5), s[3], 1e-9)     // (9-4)/1
	assert.InDelta(t, deg(3), s[1*4+2], 1e-9) // (4-1)/1, east neighbour is nodata
	assert.True(t, math.IsNaN(s[1*4+3]))
}
