package raster

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"io"
	"strconv"
	"strings"

	"golang.org/x/image/tiff"
)

// TIFFEncoding maps integer TIFF samples to elevations: z = raw*Scale + Offset.
// Raw values equal to Nodata are treated as missing.
type TIFFEncoding struct {
	Scale  float64
	Offset float64
	Nodata *float64
}

// DefaultTIFFEncoding is the decimetre encoding used for 16-bit DEM tiles.
var DefaultTIFFEncoding = TIFFEncoding{Scale: 0.1}

// ReadTIFF decodes a single-band TIFF into a grid georeferenced by t.
func ReadTIFF(r io.Reader, t Transform, crs string, enc TIFFEncoding) (*Grid, error) {
	img, err := tiff.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("tiff: %w", err)
	}
	b := img.Bounds()
	g := New(b.Dx(), b.Dy(), t, crs)
	scale := enc.Scale
	if scale == 0 {
		scale = 1
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			raw := sample(img, x, y)
			if enc.Nodata != nil && raw == *enc.Nodata {
				continue
			}
			g.Data[(y-b.Min.Y)*g.Width+(x-b.Min.X)] = raw*scale + enc.Offset
		}
	}
	return g, nil
}

func sample(img image.Image, x, y int) float64 {
	switch im := img.(type) {
	case *image.Gray16:
		return float64(im.Gray16At(x, y).Y)
	case *image.Gray:
		return float64(im.GrayAt(x, y).Y)
	}
	return float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
}

// ReadWorldFile parses a six-line world file (.tfw) into a transform.
// Rotation terms must be zero and pixels square.
func ReadWorldFile(r io.Reader) (Transform, error) {
	var vals []float64
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return Transform{}, fmt.Errorf("world file: %w", err)
		}
		vals = append(vals, v)
	}
	if err := sc.Err(); err != nil {
		return Transform{}, fmt.Errorf("world file: %w", err)
	}
	if len(vals) != 6 {
		return Transform{}, fmt.Errorf("world file: got %d values, want 6", len(vals))
	}
	a, d, b, e, cx, cy := vals[0], vals[1], vals[2], vals[3], vals[4], vals[5]
	if d != 0 || b != 0 || a <= 0 || e != -a {
		return Transform{}, fmt.Errorf("world file: only north-up square pixels are supported")
	}
	// world files reference the center of the upper-left pixel
	return Transform{OriginX: cx - a/2, OriginY: cy + a/2, CellSize: a}, nil
}
