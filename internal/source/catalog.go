package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
)

// DefaultTilePattern names catalog tiles by their south-west corner in
// kilometres, e.g. dgm1_32_350_5620_1.asc.
const DefaultTilePattern = "dgm1_32_%d_%d_1.asc"

// CatalogSource reads ESRI ASCII grid tiles from a local directory. Tile
// (i, j) covers [i*TileSize, (i+1)*TileSize) x [j*TileSize, (j+1)*TileSize).
type CatalogSource struct {
	Dir      string
	TileSize float64 // metres
	Pattern  string  // fmt pattern taking easting and northing in km
	CRS      string
}

func (s *CatalogSource) Name() string { return "catalog" }

func (s *CatalogSource) tileSize() float64 {
	if s.TileSize <= 0 {
		return 1000
	}
	return s.TileSize
}

// TileName returns the file name of the tile whose south-west corner is (x, y).
func (s *CatalogSource) TileName(x, y float64) string {
	p := s.Pattern
	if p == "" {
		p = DefaultTilePattern
	}
	return fmt.Sprintf(p, int(math.Round(x/1000)), int(math.Round(y/1000)))
}

// Tiles lists the tile corners intersecting b.
func (s *CatalogSource) Tiles(b raster.BBox) [][2]float64 {
	ts := s.tileSize()
	i0, i1 := int(math.Floor(b.MinX/ts)), int(math.Ceil(b.MaxX/ts))
	j0, j1 := int(math.Floor(b.MinY/ts)), int(math.Ceil(b.MaxY/ts))
	var out [][2]float64
	for j := j1 - 1; j >= j0; j-- {
		for i := i0; i < i1; i++ {
			out = append(out, [2]float64{float64(i) * ts, float64(j) * ts})
		}
	}
	return out
}

// Fetch pastes every available tile intersecting b onto a grid at res.
func (s *CatalogSource) Fetch(ctx context.Context, b raster.BBox, res float64) (*raster.Grid, error) {
	out := raster.GridFor(b, res, s.CRS)
	found := 0
	for _, t := range s.Tiles(b) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path := filepath.Join(s.Dir, s.TileName(t[0], t[1]))
		g, err := readASCIIFile(path, s.CRS)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fetchErr(ProviderFailure, s.Name(), filepath.Base(path), err)
		}
		if raster.PasteNearest(out, g) > 0 {
			found++
		}
	}
	if found == 0 {
		return nil, fetchErr(NotCovered, s.Name(), fmt.Sprintf("no catalog tile under %s covers the request", s.Dir), nil)
	}
	return out, nil
}

func readASCIIFile(path, crs string) (*raster.Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return raster.ReadASCII(f, crs)
}
