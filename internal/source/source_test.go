package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hydrowatch/hydrorisk-backend/internal/apperr"
	"github.com/hydrowatch/hydrorisk-backend/internal/models"
	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
	"github.com/hydrowatch/hydrorisk-backend/internal/scoring"
)

// fakeSource returns constant grids unless fail rejects the request.
type fakeSource struct {
	mu    sync.Mutex
	calls int
	fail  func(b raster.BBox, call int) error
}

func (f *fakeSource) Name() string { return "fake" }
func (f *fakeSource) Remote() bool { return true }

func (f *fakeSource) Fetch(ctx context.Context, b raster.BBox, res float64) (*raster.Grid, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(b, n); err != nil {
			return nil, err
		}
	}
	g := raster.GridFor(b, res, "")
	for i := range g.Data {
		g.Data[i] = 1
	}
	return g, nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testBuilder(src Source) *Builder {
	return &Builder{
		Source:        src,
		MaxEdge:       5000,
		Fanout:        4,
		TileTimeout:   time.Second,
		Retries:       3,
		Backoff:       time.Millisecond,
		MaxSplitDepth: 3,
		CoverageFloor: 0.5,
	}
}

func TestBuilderSplitsRejectedTiles(t *testing.T) {
	src := &fakeSource{fail: func(b raster.BBox, _ int) error {
		if b.Width() > 1000 {
			return fetchErr(ParameterRejected, "fake", "payload too large", nil)
		}
		return nil
	}}

	m, err := testBuilder(src).Build(context.Background(), raster.BBox{MaxX: 4000, MaxY: 4000}, 10)
	require.NoError(t, err)
	assert.Equal(t, 1+4+16, src.Calls())
	assert.Equal(t, 0, m.MissingTiles)
	assert.False(t, m.Partial())
	assert.Equal(t, 1.0, m.CoverageRatio)
	assert.Equal(t, 400, m.Grid.Width)
}

func TestBuilderRetriesProviderFailure(t *testing.T) {
	src := &fakeSource{fail: func(_ raster.BBox, call int) error {
		if call <= 2 {
			return fetchErr(ProviderFailure, "fake", "HTTP 503", nil)
		}
		return nil
	}}

	m, err := testBuilder(src).Build(context.Background(), raster.BBox{MaxX: 100, MaxY: 100}, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, src.Calls())
	assert.Equal(t, 1.0, m.CoverageRatio)

	down := &fakeSource{fail: func(raster.BBox, int) error {
		return fetchErr(ProviderFailure, "fake", "HTTP 503", nil)
	}}
	b := testBuilder(down)
	b.Retries = 1
	_, err = b.Build(context.Background(), raster.BBox{MaxX: 100, MaxY: 100}, 10)
	assert.True(t, apperr.Is(err, apperr.CoverageError), "got %v", err)
	assert.Equal(t, 2, down.Calls())
}

func TestBuilderPartialCoverage(t *testing.T) {
	westMissing := func(b raster.BBox, _ int) error {
		if b.MinX < 1000 {
			return fetchErr(NotCovered, "fake", "outside", nil)
		}
		return nil
	}
	bbox := raster.BBox{MaxX: 2000, MaxY: 1000}

	b := testBuilder(&fakeSource{fail: westMissing})
	b.MaxEdge = 1000
	b.CoverageFloor = 0.4
	m, err := b.Build(context.Background(), bbox, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Tiles)
	assert.Equal(t, 1, m.MissingTiles)
	assert.True(t, m.Partial())
	assert.InDelta(t, 0.5, m.CoverageRatio, 1e-9)

	b = testBuilder(&fakeSource{fail: westMissing})
	b.MaxEdge = 1000
	b.CoverageFloor = 0.6
	_, err = b.Build(context.Background(), bbox, 10)
	assert.True(t, apperr.Is(err, apperr.CoverageError))
}

func TestBuilderHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &fakeSource{fail: func(raster.BBox, int) error {
		cancel()
		return fetchErr(ProviderFailure, "fake", "HTTP 503", nil)
	}}
	_, err := testBuilder(src).Build(ctx, raster.BBox{MaxX: 100, MaxY: 100}, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

type memStore struct {
	mu    sync.Mutex
	blobs map[string]*models.MosaicBlob
}

func (s *memStore) GetMosaic(_ context.Context, key string) (*models.MosaicBlob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blobs[key], nil
}

func (s *memStore) PutMosaic(_ context.Context, b *models.MosaicBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[b.Key] = b
	return nil
}

func TestCacheBuildsEachKeyOnce(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := &memStore{blobs: map[string]*models.MosaicBlob{}}
	c := NewCache(4, store, nil)
	src := &fakeSource{}
	bd := testBuilder(src)
	bd.CRS = "EPSG:25832"
	bbox := raster.BBox{MaxX: 100, MaxY: 100}
	key := Key(src.Name(), bbox, 10)

	release := make(chan struct{})
	build := func(ctx context.Context) (*Mosaic, error) {
		<-release
		return bd.Build(ctx, bbox, 10)
	}

	var wg sync.WaitGroup
	results := make([]*Mosaic, 10)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := c.Get(context.Background(), key, build)
			assert.NoError(t, err)
			results[i] = m
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, 1, c.Builds())
	assert.Equal(t, 1, src.Calls())
	for _, m := range results {
		assert.Same(t, results[0], m)
	}
	require.Contains(t, store.blobs, key)

	// a fresh cache restores from the store without building
	c2 := NewCache(4, store, nil)
	m, err := c2.Get(context.Background(), key, func(context.Context) (*Mosaic, error) {
		return nil, fmt.Errorf("must not build")
	})
	require.NoError(t, err)
	assert.Equal(t, 0, c2.Builds())
	assert.Equal(t, results[0].Grid.ValidCount(), m.Grid.ValidCount())
	assert.Equal(t, "EPSG:25832", m.Grid.CRS)
	assert.Equal(t, results[0].Grid.Transform, m.Grid.Transform)
}

func TestCacheWaiterCancellation(t *testing.T) {
	c := NewCache(4, nil, nil)
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Get(ctx, "k", func(context.Context) (*Mosaic, error) {
		<-release
		return nil, fmt.Errorf("unreachable")
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

const tileASC = `ncols 2
nrows 2
xllcorner 0
yllcorner 0
cellsize 500
NODATA_value -9999
10 11
12 13
`

func TestWCSSource(t *testing.T) {
	var gotQuery string
	status, body, ctype := http.StatusOK, tileASC, "text/plain"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", ctype)
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	s := &WCSSource{BaseURL: srv.URL, CoverageID: "dgm", Client: srv.Client()}
	g, err := s.Fetch(context.Background(), raster.BBox{MaxX: 1000, MaxY: 1000}, 500)
	require.NoError(t, err)
	assert.Equal(t, 4, g.ValidCount())
	assert.Contains(t, gotQuery, "SUBSET=x(0.00,1000.00)&SUBSET=y(0.00,1000.00)")
	assert.Contains(t, gotQuery, "SCALESIZE=x(2),y(2)")
	assert.Contains(t, gotQuery, "COVERAGEID=dgm")

	cases := []struct {
		status int
		ctype  string
		body   string
		want   FetchKind
	}{
		{http.StatusServiceUnavailable, "text/plain", "maintenance", ProviderFailure},
		{http.StatusBadRequest, "text/plain", "requested size exceeds the maximum", ParameterRejected},
		{http.StatusRequestURITooLong, "text/plain", "", ParameterRejected},
		{http.StatusNotFound, "text/plain", "", NotCovered},
		{http.StatusOK, "application/xml", `<ows:Exception exceptionCode="InvalidSubsetting"/>`, NotCovered},
		{http.StatusOK, "text/plain", "   ", NotCovered},
	}
	for _, tc := range cases {
		status, ctype, body = tc.status, tc.ctype, tc.body
		_, err := s.Fetch(context.Background(), raster.BBox{MaxX: 1000, MaxY: 1000}, 500)
		kind, ok := KindOf(err)
		require.True(t, ok, "status %d: %v", tc.status, err)
		assert.Equal(t, tc.want, kind, "status %d", tc.status)
	}
}

func TestCatalogSource(t *testing.T) {
	dir := t.TempDir()
	s := &CatalogSource{Dir: dir, TileSize: 1000}
	name := s.TileName(0, 0)
	assert.Equal(t, "dgm1_32_0_0_1.asc", name)
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(tileASC), 0o644))

	assert.Len(t, s.Tiles(raster.BBox{MinX: 500, MinY: 500, MaxX: 1500, MaxY: 1500}), 4)

	g, err := s.Fetch(context.Background(), raster.BBox{MaxX: 2000, MaxY: 1000}, 250)
	require.NoError(t, err)
	assert.Equal(t, 8, g.Width)
	assert.Equal(t, 16, g.ValidCount())
	assert.Equal(t, 10.0, g.At(0, 0))

	_, err = s.Fetch(context.Background(), raster.BBox{MinX: 5000, MinY: 5000, MaxX: 6000, MaxY: 6000}, 250)
	kind, _ := KindOf(err)
	assert.Equal(t, NotCovered, kind)
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dem.asc")
	require.NoError(t, os.WriteFile(path, []byte(tileASC), 0o644))
	s := NewFileSource(path, "")

	g, err := s.Fetch(context.Background(), raster.BBox{MaxX: 500, MaxY: 1000}, 250)
	require.NoError(t, err)
	assert.Equal(t, 2, g.Width)
	assert.Equal(t, 4, g.Height)
	assert.Equal(t, 12.0, g.At(3, 0))

	_, err = s.Fetch(context.Background(), raster.BBox{MinX: 5000, MinY: 5000, MaxX: 6000, MaxY: 6000}, 250)
	kind, _ := KindOf(err)
	assert.Equal(t, NotCovered, kind)

	layer, err := scoring.ResolveLayer(context.Background(), s, raster.BBox{MaxX: 1000, MaxY: 1000})
	require.NoError(t, err)
	assert.Equal(t, scoring.LayerExternal, layer.Kind)
	assert.Equal(t, path, layer.Path)

	missing := NewFileSource(filepath.Join(t.TempDir(), "none.asc"), "")
	layer, err = scoring.ResolveLayer(context.Background(), missing, raster.BBox{MaxX: 1000, MaxY: 1000})
	require.NoError(t, err)
	assert.Equal(t, scoring.LayerProxy, layer.Kind)
}
