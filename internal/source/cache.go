package source

import (
	"bytes"
	"context"
	"sync"

	"github.com/golang/groupcache/lru"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hydrowatch/hydrorisk-backend/internal/models"
	"github.com/hydrowatch/hydrorisk-backend/internal/raster"
)

// MosaicStore persists mosaics across restarts.
type MosaicStore interface {
	GetMosaic(ctx context.Context, key string) (*models.MosaicBlob, error) // nil when absent
	PutMosaic(ctx context.Context, blob *models.MosaicBlob) error
}

// BuildFunc produces the mosaic for a cache miss.
type BuildFunc func(ctx context.Context) (*Mosaic, error)

// Cache keeps recently built mosaics keyed by (source, bbox, resolution).
// Concurrent requests for one key share a single build. Cached grids are
// shared between jobs and must not be mutated.
type Cache struct {
	mu     sync.Mutex
	lru    *lru.Cache
	group  singleflight.Group
	store  MosaicStore
	logger *zap.Logger

	builds int
}

// NewCache returns a cache holding at most maxEntries mosaics in memory.
// store may be nil.
func NewCache(maxEntries int, store MosaicStore, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{lru: lru.New(maxEntries), store: store, logger: logger.With(zap.String("component", "mosaic_cache"))}
}

// Key renders the cache key of a request.
func Key(source string, b raster.BBox, res float64) string {
	return source + "|" + b.Key(res)
}

// Get returns the cached mosaic for key or builds it. A waiter whose ctx ends
// stops waiting; the shared build keeps running for the others.
func (c *Cache) Get(ctx context.Context, key string, build BuildFunc) (*Mosaic, error) {
	if m, ok := c.lookup(key); ok {
		return m, nil
	}
	ch := c.group.DoChan(key, func() (interface{}, error) {
		if m, ok := c.lookup(key); ok {
			return m, nil
		}
		bctx := context.WithoutCancel(ctx)
		if m := c.load(bctx, key); m != nil {
			c.add(key, m)
			return m, nil
		}
		c.mu.Lock()
		c.builds++
		c.mu.Unlock()
		m, err := build(bctx)
		if err != nil {
			return nil, err
		}
		c.add(key, m)
		c.save(bctx, key, m)
		return m, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Mosaic), nil
	}
}

// Builds returns how many mosaics were built (not served from memory or store).
func (c *Cache) Builds() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.builds
}

func (c *Cache) lookup(key string) (*Mosaic, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return v.(*Mosaic), true
}

func (c *Cache) add(key string, m *Mosaic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, m)
}

func (c *Cache) load(ctx context.Context, key string) *Mosaic {
	if c.store == nil {
		return nil
	}
	blob, err := c.store.GetMosaic(ctx, key)
	if err != nil {
		c.logger.Warn("load persisted mosaic", zap.String("key", key), zap.Error(err))
		return nil
	}
	if blob == nil {
		return nil
	}
	g, err := raster.ReadASCII(bytes.NewReader(blob.Grid), blob.CRS)
	if err != nil {
		c.logger.Warn("decode persisted mosaic", zap.String("key", key), zap.Error(err))
		return nil
	}
	return &Mosaic{
		Grid:          g,
		Source:        blob.Source,
		Tiles:         blob.Tiles,
		MissingTiles:  blob.MissingTiles,
		CoverageRatio: blob.CoverageRatio,
	}
}

func (c *Cache) save(ctx context.Context, key string, m *Mosaic) {
	if c.store == nil {
		return
	}
	var buf bytes.Buffer
	if err := raster.WriteASCII(&buf, m.Grid); err != nil {
		c.logger.Warn("encode mosaic", zap.String("key", key), zap.Error(err))
		return
	}
	blob := &models.MosaicBlob{
		Key:           key,
		Source:        m.Source,
		Grid:          buf.Bytes(),
		CRS:           m.Grid.CRS,
		Tiles:         m.Tiles,
		MissingTiles:  m.MissingTiles,
		CoverageRatio: m.CoverageRatio,
	}
	if err := c.store.PutMosaic(ctx, blob); err != nil {
		c.logger.Warn("persist mosaic", zap.String("key", key), zap.Error(err))
	}
}
