package spatial

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"

	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
)

// WGS84 is the geographic reference used for every output coordinate.
const WGS84 = "+proj=longlat +ellps=WGS84 +datum=WGS84 +no_defs"

// Projector converts between WGS84 and the working CRS.
type Projector struct {
	CRS     string
	forward proj.Transformer
	inverse proj.Transformer
}

// NewProjector parses the working CRS definition (proj4 syntax).
func NewProjector(workCRS string) (*Projector, error) {
	geoSR, err := proj.Parse(WGS84)
	if err != nil {
		return nil, fmt.Errorf("parse WGS84: %w", err)
	}
	workSR, err := proj.Parse(workCRS)
	if err != nil {
		return nil, fmt.Errorf("parse working CRS: %w", err)
	}
	fwd, err := geoSR.NewTransform(workSR)
	if err != nil {
		return nil, fmt.Errorf("forward transform: %w", err)
	}
	inv, err := workSR.NewTransform(geoSR)
	if err != nil {
		return nil, fmt.Errorf("inverse transform: %w", err)
	}
	return &Projector{CRS: workCRS, forward: fwd, inverse: inv}, nil
}

// ToWork projects (lon, lat) into the working CRS.
func (p *Projector) ToWork(lon, lat float64) (x, y float64, err error) {
	return p.forward(lon, lat)
}

// ToWGS84 converts a working-CRS coordinate back to (lon, lat).
func (p *Projector) ToWGS84(x, y float64) (lon, lat float64, err error) {
	return p.inverse(x, y)
}

// ProjectedAOI is the AOI ring expressed in the working CRS.
type ProjectedAOI struct {
	*AOI
	Polygon geom.Polygon
	BBox    raster.BBox
}

// Project converts the AOI into working coordinates.
func (p *Projector) Project(a *AOI) (*ProjectedAOI, error) {
	ring := make(geom.Path, 0, len(a.Ring)+1)
	for _, v := range a.Ring {
		x, y, err := p.ToWork(v[0], v[1])
		if err != nil {
			return nil, fmt.Errorf("project AOI vertex: %w", err)
		}
		ring = append(ring, geom.Point{X: x, Y: y})
	}
	ring = append(ring, ring[0])
	if signedArea(ring) < 0 {
		for i, j := 0, len(ring)-1; i < j; i, j = i+1, j-1 {
			ring[i], ring[j] = ring[j], ring[i]
		}
	}
	poly := geom.Polygon{ring}
	b := poly.Bounds()
	return &ProjectedAOI{
		AOI:     a,
		Polygon: poly,
		BBox:    raster.BBox{MinX: b.Min.X, MinY: b.Min.Y, MaxX: b.Max.X, MaxY: b.Max.Y},
	}, nil
}

// PlanarArea is the projected area of the AOI in square CRS units.
func (pa *ProjectedAOI) PlanarArea() float64 { return pa.Polygon.Area() }

// ContainsXY is an even-odd point-in-polygon test in working coordinates.
func (pa *ProjectedAOI) ContainsXY(x, y float64) bool {
	ring := pa.Polygon[0]
	in := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Y > y) != (b.Y > y) && x < (b.X-a.X)*(y-a.Y)/(b.Y-a.Y)+a.X {
			in = !in
		}
	}
	return in
}

// Mask marks grid cells whose center lies inside the AOI. For bbox AOIs every
// cell inside the projected envelope is kept.
func (pa *ProjectedAOI) Mask(g *raster.Grid) []bool {
	mask := make([]bool, g.Len())
	for r := 0; r < g.Height; r++ {
		for c := 0; c < g.Width; c++ {
			x, y := g.Transform.CellCenter(r, c)
			if pa.Polygonal {
				mask[r*g.Width+c] = pa.ContainsXY(x, y)
				continue
			}
			mask[r*g.Width+c] = x >= pa.BBox.MinX && x <= pa.BBox.MaxX && y >= pa.BBox.MinY && y <= pa.BBox.MaxY
		}
	}
	return mask
}

// Path converts working-CRS vertices into GeoJSON [lon, lat] positions,
// rounded to 7 decimals.
func (p *Projector) Path(pts [][2]float64) ([][]float64, error) {
	out := make([][]float64, len(pts))
	for i, v := range pts {
		lon, lat, err := p.ToWGS84(v[0], v[1])
		if err != nil {
			return nil, err
		}
		out[i] = []float64{round7(lon), round7(lat)}
	}
	return out, nil
}

func round7(v float64) float64 { return math.Round(v*1e7) / 1e7 }

func signedArea(ring geom.Path) float64 {
	var s float64
	for i := 0; i+1 < len(ring); i++ {
		s += ring[i].X*ring[i+1].Y - ring[i+1].X*ring[i].Y
	}
	return s / 2
}
