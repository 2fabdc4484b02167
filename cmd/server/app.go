package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/hydrowatch/hydrorisk-backend/internal/analysis"
	"github.com/hydrowatch/hydrorisk-backend/internal/config"
	"github.com/hydrowatch/hydrorisk-backend/internal/database"
	"github.com/hydrowatch/hydrorisk-backend/internal/repository"
	"github.com/hydrowatch/hydrorisk-backend/internal/source"
)

// app holds the long-lived components of a running server.
type app struct {
	runner *analysis.Runner
	jobs   repository.JobRepository
	closes []func()
}

func (a *app) Close() {
	for i := len(a.closes) - 1; i >= 0; i-- {
		a.closes[i]()
	}
}

func newLogger(mode string) (*zap.Logger, error) {
	if mode == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newRunner wires one mosaic builder per configured DEM source, the mosaic
// cache and the optional auxiliary rasters.
func newRunner(cfg *config.Config, store source.MosaicStore, logger *zap.Logger) (*analysis.Runner, error) {
	client := &http.Client{Timeout: cfg.TileTimeout}
	builders := make(map[string]*source.Builder)
	for _, mode := range []string{config.SourceWCS, config.SourceCatalog, config.SourceFile} {
		src, err := source.New(cfg, mode, client)
		if err != nil {
			logger.Debug("DEM source not configured", zap.String("dem_source", mode), zap.Error(err))
			continue
		}
		builders[mode] = source.NewBuilder(src, cfg, logger)
	}
	if _, ok := builders[cfg.DEMSource]; !ok {
		return nil, fmt.Errorf("default DEM source %q is not configured", cfg.DEMSource)
	}

	runner, err := analysis.NewRunner(builders, source.NewCache(cfg.MosaicEntries, store, logger), logger)
	if err != nil {
		return nil, err
	}
	if cfg.SoilRasterPath != "" {
		runner.Soil = source.NewFileSource(cfg.SoilRasterPath, cfg.Pipeline.WorkCRS)
	}
	if cfg.ImperviousRasterPath != "" {
		runner.Impervious = source.NewFileSource(cfg.ImperviousRasterPath, cfg.Pipeline.WorkCRS)
	}
	return runner, nil
}

// newApp opens the stores and builds the analysis runner. Jobs go to
// postgres when DATABASE_URL is set and to sqlite otherwise; persisted
// mosaics always live in sqlite.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}
	var db *sql.DB
	openSQLite := func() error {
		if db != nil {
			return nil
		}
		var err error
		if db, err = database.Open(database.Config{Path: cfg.DBPath}, logger); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		a.closes = append(a.closes, func() { db.Close() })
		return nil
	}

	if cfg.DatabaseURL != "" {
		pool, err := database.OpenPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		a.closes = append(a.closes, pool.Close)
		a.jobs = repository.NewPostgresJobRepository(pool)
	} else {
		if err := openSQLite(); err != nil {
			return nil, err
		}
		a.jobs = repository.NewSQLiteJobRepository(db)
	}

	var store source.MosaicStore
	if cfg.PersistMosaics {
		if err := openSQLite(); err != nil {
			a.Close()
			return nil, err
		}
		store = repository.NewMosaicRepository(db)
	}

	runner, err := newRunner(cfg, store, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.runner = runner
	return a, nil
}
