package models

import "time"

// MosaicBlob is a persisted elevation mosaic keyed by source, bbox and resolution
type MosaicBlob struct {
	Key           string    `json:"key" db:"cache_key"`
	Source        string    `json:"source" db:"source"`
	Grid          []byte    `json:"-" db:"grid"` // ESRI ASCII grid
	CRS           string    `json:"crs" db:"crs"`
	Tiles         int       `json:"tiles" db:"tiles"`
	MissingTiles  int       `json:"missing_tiles" db:"missing_tiles"`
	CoverageRatio float64   `json:"coverage_ratio" db:"coverage_ratio"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
