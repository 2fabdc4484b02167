package watershed

import (
	"context"
	"fmt"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
	"github.com/hydrowatch/hydrorisk-backend/internal/hydro"
	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
)

// tiltedPlane is a 10x30 one-metre grid draining south.
func tiltedPlane(t *testing.T) (*raster.Grid, *hydro.FlowGrid, []int) {
	t.Helper()
	const w, h = 10, 30
	rows := make([][]float64, h)
	for r := range rows {
		rows[r] = make([]float64, w)
		for c := range rows[r] {
			rows[r][c] = float64(h - r)
		}
	}
	g, err := raster.FromRows(rows, raster.Transform{OriginY: h, CellSize: 1}, "", raster.DefaultNodata)
	require.NoError(t, err)
	f, err := hydro.Condition(g)
	require.NoError(t, err)
	acc, err := hydro.Accumulate(f)
	require.NoError(t, err)
	return g, f, acc
}

func TestRidgeCellYieldsSingleCell(t *testing.T) {
	g, f, acc := tiltedPlane(t)
	require.Equal(t, 1, acc[g.Index(0, 3)])

	res, err := Delineate(Input{Grid: g, Flow: f}, 3.5, 29.5, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cells)
	assert.False(t, res.Degraded)
	assert.Equal(t, 1.0, res.AreaM2)
	require.Len(t, res.Polygons, 1)
	require.Len(t, res.Polygons[0], 1)
	assert.Equal(t, Ring{{3, 29}, {4, 29}, {4, 30}, {3, 30}, {3, 29}}, rotateToMin(res.Polygons[0][0]))
}

func TestColumnUpstreamArea(t *testing.T) {
	g, f, acc := tiltedPlane(t)
	i := g.Index(20, 4)

	res, err := Delineate(Input{Grid: g, Flow: f}, 4.5, 9.5, Options{})
	require.NoError(t, err)
	assert.Equal(t, i, res.Outlet)
	assert.Equal(t, acc[i], res.Cells)
	assert.Equal(t, 21.0, res.AreaM2)
	assert.InDelta(t, 21e-6, res.AreaKM2(), 1e-12)
	assert.InDelta(t, 21e-4, res.AreaHa(), 1e-12)
	require.Len(t, res.Polygons, 1)
	assert.Len(t, res.Polygons[0][0], 5)
}

func TestBudgetMarksDegraded(t *testing.T) {
	g, f, _ := tiltedPlane(t)

	res, err := Delineate(Input{Grid: g, Flow: f}, 4.5, 9.5, Options{MaxCells: 5})
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Equal(t, 5, res.Cells)
	assert.NotEmpty(t, res.Polygons)
}

func TestSnapToNetwork(t *testing.T) {
	g, f, acc := tiltedPlane(t)
	net := hydro.ExtractNetwork(f, acc, 15, 1, hydro.Slope(g))
	in := Input{Grid: g, Flow: f, Network: net}

	// cell (5,4) is ten cells above the channel head at (15,4)
	res, err := Delineate(in, 4.5, 24.5, Options{SnapRadiusCells: 10})
	require.NoError(t, err)
	assert.True(t, res.Snapped)
	assert.Equal(t, g.Index(15, 4), res.Outlet)
	assert.Equal(t, 16, res.Cells)

	res, err = Delineate(in, 4.5, 24.5, Options{SnapRadiusCells: 5})
	require.NoError(t, err)
	assert.False(t, res.Snapped)
	assert.Equal(t, 6, res.Cells)
}

func TestPointOutsideGrid(t *testing.T) {
	g, f, _ := tiltedPlane(t)
	_, err := Delineate(Input{Grid: g, Flow: f}, -5, 10, Options{})
	assert.True(t, apperr.Is(err, apperr.InvalidGeometry))

	mask := make([]bool, g.Len())
	_, err = Delineate(Input{Grid: g, Flow: f, Mask: mask}, 4.5, 9.5, Options{})
	assert.True(t, apperr.Is(err, apperr.InvalidGeometry))
}

func TestClipToPolygonalAOI(t *testing.T) {
	g, f, _ := tiltedPlane(t)
	tri := Ring{{0, 0}, {10.2, 0}, {0, 30.6}, {0, 0}}
	mask := make([]bool, g.Len())
	for i := range mask {
		x, y := g.Transform.CellCenter(g.RC(i))
		mask[i] = containsPoint(tri, [2]float64{x, y})
	}
	clipPoly := geom.Polygon{{{X: 0, Y: 0}, {X: 10.2, Y: 0}, {X: 0, Y: 30.6}, {X: 0, Y: 0}}}

	res, err := Delineate(Input{Grid: g, Flow: f, Mask: mask, Clip: clipPoly}, 2.5, 4.5, Options{})
	require.NoError(t, err)
	// rows 7..25 of column 2 lie inside the triangle; the hypotenuse cuts a
	// 0.4667 x 1.4 corner off the top of the column
	assert.Equal(t, 19, res.Cells)
	assert.InDelta(t, 19-0.98/3, res.AreaM2, 1e-3)
	assert.LessOrEqual(t, res.AreaM2, clipPoly.Area())
}

func TestVectorizeHoleAndCornerContact(t *testing.T) {
	g := raster.GridFor(raster.BBox{MaxX: 6, MaxY: 6}, 1, "")
	marked := make([]bool, g.Len())
	// 3x3 donut at rows/cols 0..2
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			marked[g.Index(r, c)] = !(r == 1 && c == 1)
		}
	}
	// a single cell touching the donut only at a corner
	marked[g.Index(3, 3)] = true

	polys := Vectorize(g, marked)
	require.Len(t, polys, 2)
	require.Len(t, polys[0], 2, "donut has one hole")
	assert.Equal(t, 9.0, signedArea(polys[0][0]))
	assert.Equal(t, -1.0, signedArea(polys[0][1]))
	require.Len(t, polys[1], 1)
	assert.Equal(t, 1.0, signedArea(polys[1][0]))
	assert.Equal(t, 9.0, area(polys))
}

func TestTrackerDiscardsStaleResult(t *testing.T) {
	tr := NewTracker()
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := Run(context.Background(), tr, "s1", func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		done <- err
	}()
	<-started

	v, err := Run(context.Background(), tr, "s1", func(context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	close(release)
	assert.True(t, apperr.Is(<-done, apperr.Superseded))

	// other sessions are independent
	gen := tr.Begin("s2")
	assert.True(t, tr.Current("s2", gen))
	assert.True(t, tr.End("s2", gen))
	assert.False(t, tr.Current("s2", gen))
	assert.Zero(t, tr.Sessions())
}

func TestTrackerDropsFinishedSessions(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 1000; i++ {
		_, err := Run(context.Background(), tr, fmt.Sprintf("session-%d", i), func(context.Context) (int, error) { return i, nil })
		require.NoError(t, err)
	}
	assert.Zero(t, tr.Sessions())
}

func TestTrackerStaleRunAfterNewerFinished(t *testing.T) {
	tr := NewTracker()
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := Run(context.Background(), tr, "s1", func(context.Context) (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		done <- err
	}()
	<-started

	// a newer run finishes and clears the entry, a third one is still running
	_, err := Run(context.Background(), tr, "s1", func(context.Context) (int, error) { return 2, nil })
	require.NoError(t, err)
	third := tr.Begin("s1")

	close(release)
	assert.True(t, apperr.Is(<-done, apperr.Superseded))
	assert.True(t, tr.End("s1", third))
	assert.Zero(t, tr.Sessions())
}

// rotateToMin rotates a closed ring so it starts at its lowest-left vertex.
func rotateToMin(r Ring) Ring {
	open := r[:len(r)-1]
	k := 0
	for i, v := range open {
		if v[1] < open[k][1] || (v[1] == open[k][1] && v[0] < open[k][0]) {
			k = i
		}
	}
	out := append(append(Ring(nil), open[k:]...), open[:k]...)
	return append(out, out[0])
}
