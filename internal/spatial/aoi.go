package spatial

import (
	"math"

	"github.com/golang/geo/s2"
	geojson "github.com/paulmach/go.geojson"

	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
)

// AOI is the area of interest in WGS84 (lon, lat). Ring is open: the first
// vertex is not repeated at the end.
type AOI struct {
	Ring      [][2]float64
	Polygonal bool // false when built from a bounding box

	loop *s2.Loop
}

// AOIRequest is the wire form of an AOI: either a [minLon, minLat, maxLon, maxLat]
// bbox or a GeoJSON Polygon geometry. Only the outer ring of a polygon is used.
type AOIRequest struct {
	BBox     []float64         `json:"bbox,omitempty"`
	Geometry *geojson.Geometry `json:"geometry,omitempty"`
}

// ParseAOI validates the request and builds the AOI.
func ParseAOI(req AOIRequest) (*AOI, error) {
	switch {
	case req.Geometry != nil:
		if !req.Geometry.IsPolygon() || len(req.Geometry.Polygon) == 0 {
			return nil, apperr.E(apperr.InvalidGeometry, "AOI geometry must be a Polygon", nil)
		}
		ring := make([][2]float64, 0, len(req.Geometry.Polygon[0]))
		for _, p := range req.Geometry.Polygon[0] {
			if len(p) < 2 {
				return nil, apperr.E(apperr.InvalidGeometry, "AOI vertex needs two coordinates", nil)
			}
			ring = append(ring, [2]float64{p[0], p[1]})
		}
		return NewPolygonAOI(ring)
	case len(req.BBox) == 4:
		return NewBBoxAOI(req.BBox[0], req.BBox[1], req.BBox[2], req.BBox[3])
	}
	return nil, apperr.E(apperr.InvalidGeometry, "AOI requires bbox or polygon geometry", nil)
}

// NewBBoxAOI builds a rectangular AOI.
func NewBBoxAOI(minLon, minLat, maxLon, maxLat float64) (*AOI, error) {
	if !(maxLon > minLon && maxLat > minLat) {
		return nil, apperr.Ef(apperr.InvalidGeometry, "degenerate bbox [%g %g %g %g]", minLon, minLat, maxLon, maxLat)
	}
	a, err := newAOI([][2]float64{{minLon, minLat}, {maxLon, minLat}, {maxLon, maxLat}, {minLon, maxLat}})
	if err != nil {
		return nil, err
	}
	a.Polygonal = false
	return a, nil
}

// NewPolygonAOI validates ring (closed or open) and builds a polygonal AOI.
func NewPolygonAOI(ring [][2]float64) (*AOI, error) {
	if n := len(ring); n > 1 && ring[0] == ring[n-1] {
		ring = ring[:n-1]
	}
	return newAOI(ring)
}

func newAOI(ring [][2]float64) (*AOI, error) {
	ring = dedupe(ring)
	if len(ring) < 3 {
		return nil, apperr.E(apperr.InvalidGeometry, "AOI needs at least three distinct vertices", nil)
	}
	pts := make([]s2.Point, len(ring))
	for i, v := range ring {
		lon, lat := v[0], v[1]
		if math.IsNaN(lon) || math.IsNaN(lat) || lon < -180 || lon > 180 || lat < -90 || lat > 90 {
			return nil, apperr.Ef(apperr.InvalidGeometry, "vertex %d out of range: (%g, %g)", i, lon, lat)
		}
		pts[i] = s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon))
	}
	if i, j, ok := selfIntersection(pts); ok {
		return nil, apperr.Ef(apperr.InvalidGeometry, "AOI edges %d and %d intersect", i, j)
	}

	loop := s2.LoopFromPoints(pts)
	loop.Normalize()
	if loop.Area() == 0 {
		return nil, apperr.E(apperr.InvalidGeometry, "AOI has zero area", nil)
	}
	return &AOI{Ring: ring, Polygonal: true, loop: loop}, nil
}

// selfIntersection reports the first pair of non-adjacent edges that cross.
func selfIntersection(pts []s2.Point) (int, int, bool) {
	n := len(pts)
	for i := 0; i < n; i++ {
		a, b := pts[i], pts[(i+1)%n]
		for j := i + 1; j < n; j++ {
			if j == i+1 || (i == 0 && j == n-1) {
				continue
			}
			c, d := pts[j], pts[(j+1)%n]
			if s2.CrossingSign(a, b, c, d) != s2.DoNotCross {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}

func dedupe(ring [][2]float64) [][2]float64 {
	out := make([][2]float64, 0, len(ring))
	for _, v := range ring {
		if len(out) > 0 && out[len(out)-1] == v {
			continue
		}
		out = append(out, v)
	}
	return out
}

// AreaM2 is the geodesic area of the AOI on the mean-radius sphere.
func (a *AOI) AreaM2() float64 {
	return a.loop.Area() * EarthRadiusMeters * EarthRadiusMeters
}

// Contains reports whether (lon, lat) lies inside the AOI.
func (a *AOI) Contains(lon, lat float64) bool {
	return a.loop.ContainsPoint(s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon)))
}

// Bounds returns the lon/lat envelope.
func (a *AOI) Bounds() (minLon, minLat, maxLon, maxLat float64) {
	minLon, minLat = math.Inf(1), math.Inf(1)
	maxLon, maxLat = math.Inf(-1), math.Inf(-1)
	for _, v := range a.Ring {
		minLon, maxLon = math.Min(minLon, v[0]), math.Max(maxLon, v[0])
		minLat, maxLat = math.Min(minLat, v[1]), math.Max(maxLat, v[1])
	}
	return
}
