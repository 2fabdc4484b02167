package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hydrowatch/hydrorisk-backend/internal/models"
)

// MosaicRepository persists elevation mosaics for the source cache
type MosaicRepository struct {
	db *sql.DB
}

// NewMosaicRepository creates a new mosaic repository
func NewMosaicRepository(db *sql.DB) *MosaicRepository {
	return &MosaicRepository{db: db}
}

// GetMosaic returns the stored mosaic for key, or nil when absent
func (r *MosaicRepository) GetMosaic(ctx context.Context, key string) (*models.MosaicBlob, error) {
	query := `
		SELECT cache_key, source, grid, crs, tiles, missing_tiles, coverage_ratio, created_at
		FROM mosaic_cache
		WHERE cache_key = ?
	`

	b := &models.MosaicBlob{}
	err := r.db.QueryRowContext(ctx, query, key).Scan(
		&b.Key,
		&b.Source,
		&b.Grid,
		&b.CRS,
		&b.Tiles,
		&b.MissingTiles,
		&b.CoverageRatio,
		&b.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mosaic: %w", err)
	}
	return b, nil
}

// PutMosaic stores or replaces a mosaic
func (r *MosaicRepository) PutMosaic(ctx context.Context, b *models.MosaicBlob) error {
	query := `
		INSERT OR REPLACE INTO mosaic_cache (
			cache_key, source, grid, crs, tiles, missing_tiles, coverage_ratio, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`

	_, err := r.db.ExecContext(ctx, query, b.Key, b.Source, b.Grid, b.CRS, b.Tiles, b.MissingTiles, b.CoverageRatio)
	if err != nil {
		return fmt.Errorf("failed to store mosaic: %w", err)
	}
	return nil
}
