package spatial

import (
	"testing"

	geojson "github.com/paulmach/go.geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
	"github.com/hydrowatch/hydrorisk-backend/internal/config"
	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
)

func TestHaversineDistance(t *testing.T) {
	// one degree of latitude on the mean sphere
	d := HaversineDistance(50, 9, 51, 9)
	assert.InDelta(t, 111195, d, 1)
	assert.Zero(t, HaversineDistance(50, 9, 50, 9))
}

func TestBBoxAOI(t *testing.T) {
	a, err := NewBBoxAOI(9.0, 50.0, 9.01, 50.01)
	require.NoError(t, err)
	assert.False(t, a.Polygonal)
	assert.InEpsilon(t, 794_700, a.AreaM2(), 0.01)
	assert.True(t, a.Contains(9.005, 50.005))
	assert.False(t, a.Contains(9.02, 50.005))

	minLon, minLat, maxLon, maxLat := a.Bounds()
	assert.Equal(t, []float64{9.0, 50.0, 9.01, 50.01}, []float64{minLon, minLat, maxLon, maxLat})
}

func TestInvalidAOIs(t *testing.T) {
	cases := map[string]AOIRequest{
		"empty":      {},
		"degenerate": {BBox: []float64{9, 50, 9, 50.1}},
		"point":      {Geometry: geojson.NewPointGeometry([]float64{9, 50})},
		"bowtie": {Geometry: geojson.NewPolygonGeometry([][][]float64{
			{{9, 50}, {9.01, 50.01}, {9.01, 50}, {9, 50.01}, {9, 50}},
		})},
		"two vertices": {Geometry: geojson.NewPolygonGeometry([][][]float64{
			{{9, 50}, {9.01, 50.01}, {9, 50}},
		})},
		"out of range": {BBox: []float64{179, 50, 181, 51}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseAOI(req)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.InvalidGeometry), "got %v", err)
		})
	}
}

func TestPolygonAOIFromGeoJSON(t *testing.T) {
	// clockwise ring is accepted and normalized
	req := AOIRequest{Geometry: geojson.NewPolygonGeometry([][][]float64{
		{{9, 50}, {9, 50.01}, {9.01, 50.01}, {9.01, 50}, {9, 50}},
	})}
	a, err := ParseAOI(req)
	require.NoError(t, err)
	assert.True(t, a.Polygonal)
	assert.Len(t, a.Ring, 4)
	assert.InEpsilon(t, 794_700, a.AreaM2(), 0.01)
	assert.True(t, a.Contains(9.005, 50.005))
}

func TestProjectorRoundTrip(t *testing.T) {
	p, err := NewProjector(config.DefaultWorkCRS)
	require.NoError(t, err)

	x, y, err := p.ToWork(9, 50)
	require.NoError(t, err)
	assert.InDelta(t, 500_000, x, 1)
	assert.InDelta(t, 5_538_630, y, 50)

	lon, lat, err := p.ToWGS84(x, y)
	require.NoError(t, err)
	assert.InDelta(t, 9, lon, 1e-7)
	assert.InDelta(t, 50, lat, 1e-7)
}

func TestProjectedMask(t *testing.T) {
	p, err := NewProjector(config.DefaultWorkCRS)
	require.NoError(t, err)

	tri, err := NewPolygonAOI([][2]float64{{9, 50}, {9.01, 50}, {9, 50.01}})
	require.NoError(t, err)
	pa, err := p.Project(tri)
	require.NoError(t, err)
	assert.InEpsilon(t, tri.AreaM2(), pa.PlanarArea(), 0.01)

	g := raster.GridFor(pa.BBox, 10, config.DefaultWorkCRS)
	mask := pa.Mask(g)
	inside := 0
	for _, m := range mask {
		if m {
			inside++
		}
	}
	// roughly half of the envelope for a right triangle
	ratio := float64(inside) / float64(len(mask))
	assert.InDelta(t, 0.5, ratio, 0.08)

	sw := g.Index(g.Height-3, 2)
	ne := g.Index(2, g.Width-3)
	assert.True(t, mask[sw])
	assert.False(t, mask[ne])

	box, err := NewBBoxAOI(9, 50, 9.01, 50.01)
	require.NoError(t, err)
	pb, err := p.Project(box)
	require.NoError(t, err)
	for _, m := range pb.Mask(raster.GridFor(pb.BBox.Expand(-20), 10, config.DefaultWorkCRS)) {
		require.True(t, m)
	}
}

func TestPathRoundsToSevenDecimals(t *testing.T) {
	p, err := NewProjector(config.DefaultWorkCRS)
	require.NoError(t, err)
	x, y, err := p.ToWork(9.123456789, 50.987654321)
	require.NoError(t, err)

	path, err := p.Path([][2]float64{{x, y}})
	require.NoError(t, err)
	require.Len(t, path, 1)
	assert.InDelta(t, 9.1234568, path[0][0], 1e-9)
	assert.InDelta(t, 50.9876543, path[0][1], 1e-9)
}
