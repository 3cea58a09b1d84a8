// Package templates keeps decoded reference images of the known paper forms
// in memory for the lifetime of the process.
package templates

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"

	"github.com/Lllllllleong/documentrouting/internal/metrics"
	"github.com/Lllllllleong/documentrouting/internal/models"
	"github.com/Lllllllleong/documentrouting/internal/raster"
	"golang.org/x/sync/singleflight"
)

// Store is the slice of object storage the cache needs.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

type entry struct {
	raw    []byte
	bitmap *image.Gray
}

// Cache maps template image paths to decoded bitmaps. Entries are never
// evicted; the first load of a path is coalesced across goroutines.
type Cache struct {
	store   Store
	width   int
	height  int
	prefix  string
	metrics *metrics.Metrics

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
}

// Option configures a Cache.
type Option func(*Cache)

// WithWriteBack stores every normalized bitmap as PNG under prefix and reads
// that copy first on later cold starts.
func WithWriteBack(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

// WithSize overrides the bitmap size; it must match the rasterizer's.
func WithSize(w, h int) Option {
	return func(c *Cache) { c.width, c.height = w, h }
}

// WithMetrics records cache fetches.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// NewCache builds an empty cache in front of store.
func NewCache(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:   store,
		width:   raster.Width,
		height:  raster.Height,
		entries: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the bitmap for path, loading it from the store on first use.
// Failures wrap models.ErrTemplateLoadFailed and are not cached.
func (c *Cache) Get(ctx context.Context, path string) (*image.Gray, error) {
	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if ok {
		c.metrics.ObserveTemplateCache(true)
		return e.bitmap, nil
	}

	v, err, _ := c.group.Do(path, func() (interface{}, error) {
		c.mu.RLock()
		e, ok := c.entries[path]
		c.mu.RUnlock()
		if ok {
			return e, nil
		}
		c.metrics.ObserveTemplateCache(false)
		// Coalesced callers share this load; one of them going away must not fail the rest.
		e, err := c.load(context.WithoutCancel(ctx), path)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[path] = e
		c.mu.Unlock()
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrTemplateLoadFailed, path, err)
	}
	return v.(entry).bitmap, nil
}

// Raw returns the bytes a cached path was decoded from.
func (c *Cache) Raw(path string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[path]
	return e.raw, ok
}

// Len reports the number of cached templates.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) load(ctx context.Context, path string) (entry, error) {
	logCtx := slog.With("templatePath", path)

	if c.prefix != "" {
		data, err := c.store.Get(ctx, c.writeBackKey(path))
		switch {
		case err == nil:
			if bitmap, derr := raster.Decode(data, c.width, c.height); derr == nil {
				return entry{raw: data, bitmap: bitmap}, nil
			}
			logCtx.Warn("Ignoring undecodable write-back copy.")
		case !errors.Is(err, models.ErrObjectNotFound):
			logCtx.Warn("Failed to read write-back copy.", "error", err)
		}
	}

	data, err := c.store.Get(ctx, path)
	if err != nil {
		return entry{}, err
	}
	bitmap, err := raster.Decode(data, c.width, c.height)
	if err != nil {
		return entry{}, err
	}
	logCtx.Info("Template image loaded.", "bytes", len(data))

	if c.prefix != "" {
		encoded, err := raster.EncodePNG(bitmap)
		if err == nil {
			err = c.store.Put(ctx, c.writeBackKey(path), encoded)
		}
		if err != nil {
			logCtx.Warn("Failed to write back normalized template.", "error", err)
		}
	}
	return entry{raw: data, bitmap: bitmap}, nil
}

func (c *Cache) writeBackKey(path string) string {
	return fmt.Sprintf("%s/%dx%d/%s.png", c.prefix, c.width, c.height, path)
}
