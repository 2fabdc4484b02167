package source

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
	"github.com/hydrowatch/hydrorisk-backend/internal/config"
	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
)

// Mosaic is the composited elevation grid of one request.
type Mosaic struct {
	Grid          *raster.Grid
	Source        string
	Tiles         int
	MissingTiles  int
	CoverageRatio float64
}

// Partial reports whether some tiles could not be fetched.
func (m *Mosaic) Partial() bool { return m.MissingTiles > 0 }

// Builder fetches the sub-tiles of a request with bounded fan-out and
// composites them in tile order.
type Builder struct {
	Source        Source
	CRS           string
	MaxEdge       float64
	Fanout        int
	TileTimeout   time.Duration
	Retries       int
	Backoff       time.Duration
	MaxSplitDepth int
	CoverageFloor float64
	Logger        *zap.Logger
}

// NewBuilder wires a builder from the service configuration.
func NewBuilder(src Source, cfg *config.Config, logger *zap.Logger) *Builder {
	return &Builder{
		Source:        src,
		CRS:           cfg.Pipeline.WorkCRS,
		MaxEdge:       cfg.TileMaxEdgeM,
		Fanout:        cfg.TileFanout,
		TileTimeout:   cfg.TileTimeout,
		Retries:       cfg.TileRetries,
		Backoff:       500 * time.Millisecond,
		MaxSplitDepth: 3,
		CoverageFloor: cfg.CoverageFloor,
		Logger:        logger,
	}
}

type tileResult struct {
	grids   []*raster.Grid
	missing int
	err     error
}

// Build fetches b at res. Tiles that still fail after retry and splitting
// leave nodata holes; the request fails with CoverageError only when the
// valid share of the mosaic drops below CoverageFloor.
func (bd *Builder) Build(ctx context.Context, b raster.BBox, res float64) (*Mosaic, error) {
	log := bd.logger().With(zap.String("component", "mosaic"), zap.String("source", bd.Source.Name()))
	tiles := []raster.BBox{b}
	if isRemote(bd.Source) {
		tiles = b.Split(bd.MaxEdge)
	}

	results := make([]tileResult, len(tiles))
	g, gctx := errgroup.WithContext(ctx)
	if bd.Fanout > 0 {
		g.SetLimit(bd.Fanout)
	}
	for i, t := range tiles {
		g.Go(func() error {
			r, err := bd.fetchTile(gctx, t, res, 0)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := raster.GridFor(b, res, bd.CRS)
	m := &Mosaic{Grid: out, Source: bd.Source.Name(), Tiles: len(tiles)}
	var lastErr error
	for i, r := range results {
		for _, tg := range r.grids {
			raster.PasteNearest(out, tg)
		}
		if r.missing > 0 {
			m.MissingTiles += r.missing
			lastErr = r.err
			log.Warn("tile missing", zap.Int("tile", i), zap.Error(r.err))
		}
	}

	valid := out.ValidCount()
	m.CoverageRatio = float64(valid) / float64(out.Len())
	if valid == 0 {
		return nil, apperr.E(apperr.CoverageError, "no elevation data available for the AOI", lastErr)
	}
	if m.CoverageRatio < bd.CoverageFloor {
		return nil, apperr.E(apperr.CoverageError,
			"elevation coverage below the configured floor", lastErr)
	}
	log.Info("mosaic built",
		zap.Int("tiles", m.Tiles),
		zap.Int("missing", m.MissingTiles),
		zap.Float64("coverage", m.CoverageRatio))
	return m, nil
}

// fetchTile retries transient failures with exponential backoff and splits
// rejected requests into quadrants. Only context cancellation is returned as
// an error; everything else is reported through tileResult.
func (bd *Builder) fetchTile(ctx context.Context, t raster.BBox, res float64, depth int) (tileResult, error) {
	for attempt := 0; ; attempt++ {
		tctx, cancel := bd.tileContext(ctx)
		g, err := bd.Source.Fetch(tctx, t, res)
		cancel()
		if err == nil {
			return tileResult{grids: []*raster.Grid{g}}, nil
		}
		if ctx.Err() != nil {
			return tileResult{}, ctx.Err()
		}

		kind, _ := KindOf(err)
		switch kind {
		case NotCovered:
			return tileResult{missing: 1, err: err}, nil
		case ParameterRejected:
			if depth >= bd.MaxSplitDepth || t.Width() <= 2*res || t.Height() <= 2*res {
				return tileResult{missing: 1, err: err}, nil
			}
			bd.logger().Debug("tile rejected, splitting", zap.Int("depth", depth+1), zap.Error(err))
			var merged tileResult
			for _, q := range t.Quadrants() {
				r, err := bd.fetchTile(ctx, q, res, depth+1)
				if err != nil {
					return tileResult{}, err
				}
				merged.grids = append(merged.grids, r.grids...)
				merged.missing += r.missing
				if r.err != nil {
					merged.err = r.err
				}
			}
			return merged, nil
		}

		if attempt >= bd.Retries {
			return tileResult{missing: 1, err: err}, nil
		}
		wait := bd.Backoff << attempt
		bd.logger().Debug("tile fetch failed, retrying", zap.Int("attempt", attempt+1), zap.Duration("wait", wait), zap.Error(err))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return tileResult{}, ctx.Err()
		case <-timer.C:
		}
	}
}

func (bd *Builder) tileContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if bd.TileTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, bd.TileTimeout)
}

func (bd *Builder) logger() *zap.Logger {
	if bd.Logger == nil {
		return zap.NewNop()
	}
	return bd.Logger
}
