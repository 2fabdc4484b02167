package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
	"github.com/hydrowatch/hydrorisk-backend/internal/scoring"
)

// FileSource serves windows of a single local raster. ESRI ASCII grids carry
// their own georeference; TIFFs need a sibling world file (.tfw).
// It also serves as a scoring.AuxLayer for soil and imperviousness rasters.
type FileSource struct {
	path     string
	crs      string
	Encoding raster.TIFFEncoding

	once sync.Once
	grid *raster.Grid
	err  error
}

// NewFileSource returns a lazily loaded file source.
func NewFileSource(path, crs string) *FileSource {
	return &FileSource{path: path, crs: crs, Encoding: raster.DefaultTIFFEncoding}
}

func (s *FileSource) Name() string { return "file" }

// Path returns the raster path.
func (s *FileSource) Path() string { return s.path }

func (s *FileSource) load() (*raster.Grid, error) {
	s.once.Do(func() {
		switch ext := strings.ToLower(filepath.Ext(s.path)); ext {
		case ".asc":
			s.grid, s.err = readASCIIFile(s.path, s.crs)
		case ".tif", ".tiff":
			s.grid, s.err = s.readTIFF()
		default:
			s.err = fmt.Errorf("unsupported raster extension %q", ext)
		}
	})
	return s.grid, s.err
}

func (s *FileSource) readTIFF() (*raster.Grid, error) {
	tfw := strings.TrimSuffix(s.path, filepath.Ext(s.path)) + ".tfw"
	wf, err := os.Open(tfw)
	if err != nil {
		return nil, fmt.Errorf("world file: %w", err)
	}
	defer wf.Close()
	t, err := raster.ReadWorldFile(wf)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return raster.ReadTIFF(f, t, s.crs, s.Encoding)
}

// Fetch clips the window covering b and resamples it to res.
func (s *FileSource) Fetch(ctx context.Context, b raster.BBox, res float64) (*raster.Grid, error) {
	g, err := s.load()
	if err != nil {
		return nil, fetchErr(ProviderFailure, s.Name(), filepath.Base(s.path), err)
	}
	if !g.Bounds().Intersects(b) {
		return nil, fetchErr(NotCovered, s.Name(), "request outside raster extent", nil)
	}
	out := raster.Clip(g, b, res)
	if out.ValidCount() == 0 {
		return nil, fetchErr(NotCovered, s.Name(), "window contains only nodata", nil)
	}
	return out, nil
}

// Sample returns the window covering b at the raster's native cell size.
func (s *FileSource) Sample(ctx context.Context, b raster.BBox) (*raster.Grid, error) {
	g, err := s.load()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, scoring.ErrAbsent
	}
	if err != nil {
		return nil, err
	}
	if !g.Bounds().Intersects(b) {
		return nil, scoring.ErrAbsent
	}
	return raster.Clip(g, b, g.Transform.CellSize), nil
}
