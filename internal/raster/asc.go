package raster

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// DefaultNodata is written for NaN cells when encoding.
const DefaultNodata = -9999.0

// ReadASCII decodes an ESRI ASCII grid (.asc). Both xllcorner and xllcenter
// headers are accepted.
func ReadASCII(r io.Reader, crs string) (*Grid, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1024*1024), 64*1024*1024)
	sc.Split(bufio.ScanWords)

	header := map[string]float64{}
	var first string
	for sc.Scan() {
		tok := sc.Text()
		key := strings.ToLower(tok)
		if !isHeaderKey(key) {
			first = tok
			break
		}
		if !sc.Scan() {
			return nil, fmt.Errorf("asc: missing value for %s", key)
		}
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("asc: header %s: %w", key, err)
		}
		header[key] = v
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("asc: %w", err)
	}

	ncols, nrows := int(header["ncols"]), int(header["nrows"])
	size, ok := header["cellsize"]
	if ncols <= 0 || nrows <= 0 || !ok || size <= 0 {
		return nil, fmt.Errorf("asc: incomplete header")
	}
	nodata, hasNodata := header["nodata_value"]
	if !hasNodata {
		nodata = DefaultNodata
	}
	x0, y0 := header["xllcorner"], header["yllcorner"]
	if _, ok := header["xllcenter"]; ok {
		x0 = header["xllcenter"] - size/2
		y0 = header["yllcenter"] - size/2
	}

	t := Transform{OriginX: x0, OriginY: y0 + float64(nrows)*size, CellSize: size}
	g := New(ncols, nrows, t, crs)
	i := 0
	parse := func(tok string) error {
		if i >= len(g.Data) {
			return fmt.Errorf("asc: more than %d values", len(g.Data))
		}
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return fmt.Errorf("asc: value %d: %w", i, err)
		}
		if v != nodata {
			g.Data[i] = v
		}
		i++
		return nil
	}
	if first != "" {
		if err := parse(first); err != nil {
			return nil, err
		}
	}
	for sc.Scan() {
		if err := parse(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("asc: %w", err)
	}
	if i != len(g.Data) {
		return nil, fmt.Errorf("asc: got %d values, want %d", i, len(g.Data))
	}
	return g, nil
}

// WriteASCII encodes g as an ESRI ASCII grid.
func WriteASCII(w io.Writer, g *Grid) error {
	bw := bufio.NewWriter(w)
	b := g.Bounds()
	fmt.Fprintf(bw, "ncols %d\nnrows %d\nxllcorner %s\nyllcorner %s\ncellsize %s\nNODATA_value %s\n",
		g.Width, g.Height, ftoa(b.MinX), ftoa(b.MinY), ftoa(g.Transform.CellSize), ftoa(DefaultNodata))
	for r := 0; r < g.Height; r++ {
		for c := 0; c < g.Width; c++ {
			if c > 0 {
				bw.WriteByte(' ')
			}
			v := g.Data[r*g.Width+c]
			if math.IsNaN(v) {
				v = DefaultNodata
			}
			bw.WriteString(ftoa(v))
		}
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

func isHeaderKey(k string) bool {
	switch k {
	case "ncols", "nrows", "xllcorner", "yllcorner", "xllcenter", "yllcenter", "cellsize", "nodata_value":
		return true
	}
	return false
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
