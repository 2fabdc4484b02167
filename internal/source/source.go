// Package source fetches elevation rasters from remote coverages, local tile
// catalogs or single files, and assembles them into one working mosaic.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hydrowatch/hydrorisk-backend/internal/config"
	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
)

// FetchKind classifies a failed fetch.
type FetchKind string

const (
	NotCovered        FetchKind = "not_covered"
	ProviderFailure   FetchKind = "provider_failure"
	ParameterRejected FetchKind = "parameter_rejected"
)

// FetchError is returned by every Source.
type FetchError struct {
	Kind   FetchKind
	Source string
	Detail string
	Err    error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s: %s: %s", e.Source, e.Kind, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

func fetchErr(kind FetchKind, src, detail string, err error) error {
	return &FetchError{Kind: kind, Source: src, Detail: detail, Err: err}
}

// KindOf returns the fetch kind of err, if it is a FetchError.
func KindOf(err error) (FetchKind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// Source returns the elevation grid covering bbox (working CRS) at res.
type Source interface {
	Name() string
	Fetch(ctx context.Context, b raster.BBox, res float64) (*raster.Grid, error)
}

// remote sources get their requests split into bounded sub-tiles.
type remote interface {
	Remote() bool
}

func isRemote(s Source) bool {
	r, ok := s.(remote)
	return ok && r.Remote()
}

// New builds the source selected by mode from the service configuration.
func New(cfg *config.Config, mode string, client *http.Client) (Source, error) {
	crs := cfg.Pipeline.WorkCRS
	switch mode {
	case config.SourceWCS:
		return &WCSSource{
			BaseURL:    cfg.WCSURL,
			CoverageID: cfg.WCSCoverageID,
			SubsetCRS:  cfg.WCSCRS,
			Format:     FormatASCII,
			CRS:        crs,
			Encoding:   raster.DefaultTIFFEncoding,
			Client:     client,
		}, nil
	case config.SourceCatalog:
		if cfg.DEMCatalogDir == "" {
			return nil, fmt.Errorf("DEM_CATALOG_DIR is not set")
		}
		return &CatalogSource{Dir: cfg.DEMCatalogDir, TileSize: cfg.DEMCatalogTile, CRS: crs}, nil
	case config.SourceFile:
		if cfg.DEMFile == "" {
			return nil, fmt.Errorf("DEM_FILE is not set")
		}
		return NewFileSource(cfg.DEMFile, crs), nil
	}
	return nil, fmt.Errorf("unknown DEM source %q", mode)
}
