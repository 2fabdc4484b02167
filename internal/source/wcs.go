package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
)

// Output formats requested from the coverage service.
const (
	FormatASCII = "application/x-ogc-aaigrid"
	FormatTIFF  = "image/tiff"
)

const maxErrorBody = 4 << 10

// WCSSource requests DEM tiles from an OGC WCS 2.0.1 GetCoverage endpoint.
type WCSSource struct {
	BaseURL    string
	CoverageID string
	SubsetCRS  string
	Format     string
	CRS        string
	Encoding   raster.TIFFEncoding
	Client     *http.Client
}

func (s *WCSSource) Name() string { return "wcs" }

func (s *WCSSource) Remote() bool { return true }

// URL builds the GetCoverage request. SUBSET parentheses and commas are left
// unencoded; several servers reject the encoded form.
func (s *WCSSource) URL(b raster.BBox, res float64) string {
	w, h := pixels(b, res)
	var sb strings.Builder
	sb.WriteString(s.BaseURL)
	if strings.Contains(s.BaseURL, "?") {
		sb.WriteByte('&')
	} else {
		sb.WriteByte('?')
	}
	fmt.Fprintf(&sb, "SERVICE=WCS&VERSION=2.0.1&REQUEST=GetCoverage&COVERAGEID=%s", s.CoverageID)
	fmt.Fprintf(&sb, "&FORMAT=%s", s.format())
	fmt.Fprintf(&sb, "&SUBSET=x(%.2f,%.2f)&SUBSET=y(%.2f,%.2f)", b.MinX, b.MaxX, b.MinY, b.MaxY)
	fmt.Fprintf(&sb, "&SCALESIZE=x(%d),y(%d)", w, h)
	if s.SubsetCRS != "" {
		fmt.Fprintf(&sb, "&SUBSETTINGCRS=%s&OUTPUTCRS=%s", s.SubsetCRS, s.SubsetCRS)
	}
	return sb.String()
}

func (s *WCSSource) format() string {
	if s.Format == "" {
		return FormatASCII
	}
	return s.Format
}

func (s *WCSSource) client() *http.Client {
	if s.Client == nil {
		return http.DefaultClient
	}
	return s.Client
}

// Fetch performs one GetCoverage request for b.
func (s *WCSSource) Fetch(ctx context.Context, b raster.BBox, res float64) (*raster.Grid, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL(b, res), nil)
	if err != nil {
		return nil, fmt.Errorf("build WCS request: %w", err)
	}
	resp, err := s.client().Do(req)
	if err != nil {
		return nil, fetchErr(ProviderFailure, s.Name(), "coverage service unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, classifyStatus(s.Name(), resp.StatusCode, string(body))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fetchErr(ProviderFailure, s.Name(), "read coverage body", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fetchErr(NotCovered, s.Name(), "empty coverage response", nil)
	}

	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	var g *raster.Grid
	switch {
	case strings.Contains(ct, "xml"):
		return nil, classifyException(s.Name(), string(body))
	case strings.Contains(ct, "tiff"):
		g, err = raster.ReadTIFF(bytes.NewReader(body), raster.Transform{OriginX: b.MinX, OriginY: b.MaxY, CellSize: res}, s.CRS, s.Encoding)
	default:
		g, err = raster.ReadASCII(bytes.NewReader(body), s.CRS)
	}
	if err != nil {
		return nil, fetchErr(ProviderFailure, s.Name(), "decode coverage", err)
	}
	if g.ValidCount() == 0 {
		return nil, fetchErr(NotCovered, s.Name(), "coverage contains only nodata", nil)
	}
	return g, nil
}

func classifyStatus(src string, code int, body string) error {
	detail := fmt.Sprintf("HTTP %d", code)
	switch {
	case code == http.StatusNotFound || code == http.StatusNoContent:
		return fetchErr(NotCovered, src, detail, nil)
	case code == http.StatusBadRequest || code == http.StatusRequestEntityTooLarge || code == http.StatusRequestURITooLong:
		if isOutsideExtent(body) {
			return fetchErr(NotCovered, src, detail, nil)
		}
		return fetchErr(ParameterRejected, src, detail+": "+snippet(body), nil)
	}
	return fetchErr(ProviderFailure, src, detail, nil)
}

// classifyException inspects an OWS ExceptionReport delivered with HTTP 200.
func classifyException(src, body string) error {
	switch {
	case isOutsideExtent(body):
		return fetchErr(NotCovered, src, "subset outside coverage", nil)
	case isSizeLimit(body):
		return fetchErr(ParameterRejected, src, snippet(body), nil)
	}
	return fetchErr(ProviderFailure, src, snippet(body), nil)
}

func isOutsideExtent(body string) bool {
	b := strings.ToLower(body)
	return strings.Contains(b, "invalidsubsetting") || strings.Contains(b, "outside") || strings.Contains(b, "does not intersect")
}

func isSizeLimit(body string) bool {
	b := strings.ToLower(body)
	for _, k := range []string{"too large", "exceeds", "limit", "maximum", "size"} {
		if strings.Contains(b, k) {
			return true
		}
	}
	return false
}

func snippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 300 {
		return s[:300]
	}
	return s
}

func pixels(b raster.BBox, res float64) (int, int) {
	w := int(math.Max(1, math.Round(b.Width()/res)))
	h := int(math.Max(1, math.Round(b.Height()/res)))
	return w, h
}
