package service

import (
	"context"
	"fmt"
	"math"

	geojson "github.com/paulmach/go.geojson"
	"go.uber.org/zap"

	"github.com/hydrowatch/hydrorisk-backend/internal/analysis"
	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
	"github.com/hydrowatch/hydrorisk-backend/internal/config"
	"github.com/hydrowatch/hydrorisk-backend/internal/spatial"
	"github.com/hydrowatch/hydrorisk-backend/internal/watershed"
)

const defaultSession = "anonymous"

// TerrainRunner conditions the working grid of a request
type TerrainRunner interface {
	Terrain(ctx context.Context, req analysis.Request, progress analysis.ProgressFunc) (*analysis.Terrain, error)
}

// WatershedRequest asks for the contributing area of one point
type WatershedRequest struct {
	SessionID string             `json:"session_id"`
	AOI       spatial.AOIRequest `json:"aoi"`
	Lat       float64            `json:"lat"`
	Lon       float64            `json:"lon"`
	Snap      *bool              `json:"snap,omitempty"` // nil snaps to the network
	config.Overrides
}

// WatershedMeta describes a delineated watershed
type WatershedMeta struct {
	AreaM2    float64 `json:"area_m2"`
	AreaKM2   float64 `json:"area_km2"`
	AreaHa    float64 `json:"area_ha"`
	Cells     int     `json:"cells"`
	Degraded  bool    `json:"degraded"`
	Snapped   bool    `json:"snapped"`
	OutletLat float64 `json:"outlet_lat"`
	OutletLon float64 `json:"outlet_lon"`
	// OutletDistanceM is the great-circle distance from the requested point
	// to the centre of the outlet cell.
	OutletDistanceM float64  `json:"outlet_distance_m"`
	Warnings        []string `json:"warnings,omitempty"`
}

// WatershedResponse is the polygon output of a delineation
type WatershedResponse struct {
	GeoJSON *geojson.FeatureCollection `json:"geojson"`
	Meta    WatershedMeta              `json:"meta"`
}

// WatershedService delineates watersheds on demand. A newer request of the
// same session supersedes an older one still in flight.
type WatershedService struct {
	runner  TerrainRunner
	base    config.Pipeline
	tracker *watershed.Tracker
	logger  *zap.Logger
}

// NewWatershedService creates a new watershed service
func NewWatershedService(runner TerrainRunner, base config.Pipeline, logger *zap.Logger) *WatershedService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WatershedService{
		runner:  runner,
		base:    base,
		tracker: watershed.NewTracker(),
		logger:  logger.With(zap.String("component", "watershed")),
	}
}

// Delineate computes the watershed draining through (lat, lon).
func (s *WatershedService) Delineate(ctx context.Context, req WatershedRequest) (*WatershedResponse, error) {
	if math.IsNaN(req.Lat) || math.IsNaN(req.Lon) || math.Abs(req.Lat) > 90 || math.Abs(req.Lon) > 180 {
		return nil, apperr.Ef(apperr.InvalidGeometry, "invalid point (%g, %g)", req.Lat, req.Lon)
	}
	aoi, err := spatial.ParseAOI(req.AOI)
	if err != nil {
		return nil, err
	}
	if !aoi.Contains(req.Lon, req.Lat) {
		return nil, apperr.E(apperr.InvalidGeometry, "point lies outside the AOI", nil)
	}
	session := req.SessionID
	if session == "" {
		session = defaultSession
	}
	p := s.base.WithOverrides(req.Overrides)

	return watershed.Run(ctx, s.tracker, session, func(ctx context.Context) (*WatershedResponse, error) {
		t, err := s.runner.Terrain(ctx, analysis.Request{JobID: "watershed:" + session, AOI: aoi, Pipeline: p}, nil)
		if err != nil {
			return nil, err
		}
		x, y, err := t.Projector.ToWork(req.Lon, req.Lat)
		if err != nil {
			return nil, apperr.E(apperr.InvalidGeometry, "point cannot be projected", err)
		}
		in := watershed.Input{Grid: t.DEM, Flow: t.Flow, Network: t.Network, Mask: t.Mask}
		if t.AOI.Polygonal {
			in.Clip = t.AOI.Polygon
		}
		radius := p.SnapRadiusCells
		if req.Snap != nil && !*req.Snap {
			radius = 0
		}
		res, err := watershed.Delineate(in, x, y, watershed.Options{
			SnapRadiusCells: radius,
			MaxCells:        p.WatershedMaxCells,
		})
		if err != nil {
			return nil, err
		}
		out, err := s.response(t, res)
		if err != nil {
			return nil, err
		}
		out.Meta.OutletDistanceM = math.Round(spatial.HaversineDistance(req.Lat, req.Lon, out.Meta.OutletLat, out.Meta.OutletLon)*10) / 10
		if t.Perf.PartialCoverage {
			out.Meta.Warnings = append(out.Meta.Warnings, string(apperr.PartialCoverage))
		}
		s.logger.Info("watershed delineated",
			zap.String("session", session),
			zap.Int("cells", res.Cells),
			zap.Bool("degraded", res.Degraded),
			zap.Bool("snapped", res.Snapped),
			zap.Float64("outlet_distance_m", out.Meta.OutletDistanceM))
		return out, nil
	})
}

func (s *WatershedService) response(t *analysis.Terrain, res *watershed.Result) (*WatershedResponse, error) {
	polys := make([][][][]float64, 0, len(res.Polygons))
	for _, poly := range res.Polygons {
		rings := make([][][]float64, 0, len(poly))
		for _, ring := range poly {
			path, err := t.Projector.Path(ring)
			if err != nil {
				return nil, fmt.Errorf("reproject watershed ring: %w", err)
			}
			rings = append(rings, path)
		}
		polys = append(polys, rings)
	}

	fc := geojson.NewFeatureCollection()
	switch len(polys) {
	case 0:
	case 1:
		fc.AddFeature(geojson.NewPolygonFeature(polys[0]))
	default:
		fc.AddFeature(geojson.NewMultiPolygonFeature(polys...))
	}
	for _, f := range fc.Features {
		f.SetProperty("area_m2", math.Round(res.AreaM2))
		f.SetProperty("cells", res.Cells)
	}

	lon, lat, err := t.Projector.ToWGS84(res.OutletX, res.OutletY)
	if err != nil {
		return nil, fmt.Errorf("reproject outlet: %w", err)
	}
	meta := WatershedMeta{
		AreaM2:    math.Round(res.AreaM2),
		AreaKM2:   math.Round(res.AreaKM2()*1e4) / 1e4,
		AreaHa:    math.Round(res.AreaHa()*100) / 100,
		Cells:     res.Cells,
		Degraded:  res.Degraded,
		Snapped:   res.Snapped,
		OutletLat: math.Round(lat*1e7) / 1e7,
		OutletLon: math.Round(lon*1e7) / 1e7,
	}
	if res.Degraded {
		meta.Warnings = append(meta.Warnings, string(apperr.DegradedWatershed))
	}
	return &WatershedResponse{GeoJSON: fc, Meta: meta}, nil
}
