// Package tilecache stores computed tile results in Redis with
// zoom-dependent TTLs. The cache is a strict performance optimization: every
// failure here is logged, counted and absorbed, never surfaced to a request.
package tilecache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/casavista/listing-tile-cache/internal/config"
	"github.com/casavista/listing-tile-cache/internal/model"
	"github.com/casavista/listing-tile-cache/internal/observability"
	"github.com/casavista/listing-tile-cache/internal/tilecache/redisstore"
)

const defaultTTL = time.Minute

type Cache struct {
	cli       *redisstore.Client
	bands     []config.TTLBand
	opTimeout time.Duration
	logger    *slog.Logger
}

// New builds a tile cache. A nil client yields a disabled cache that misses
// on every read and drops every write, so the pipeline runs uncached.
func New(cli *redisstore.Client, bands []config.TTLBand, opTimeout time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{cli: cli, bands: bands, opTimeout: opTimeout, logger: logger}
}

func (c *Cache) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.opTimeout)
}

// Get returns the cached result for the key, or a miss. Store errors count
// as misses.
func (c *Cache) Get(ctx context.Context, key string) (*model.TileResult, bool) {
	if c.cli == nil {
		observability.IncCacheMiss()
		return nil, false
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	raw, ok, err := c.cli.Get(ctx, key)
	if err != nil {
		observability.IncCacheError()
		c.logger.Warn("tile cache read failed, recomputing", "key", key, "err", err)
		return nil, false
	}
	if !ok {
		observability.IncCacheMiss()
		return nil, false
	}

	var res model.TileResult
	if err := json.Unmarshal(raw, &res); err != nil {
		observability.IncCacheError()
		c.logger.Warn("tile cache entry undecodable, recomputing", "key", key, "err", err)
		return nil, false
	}
	observability.IncCacheHit()
	return &res, true
}

// Set stores the result under the key with the TTL for its zoom. Failures
// are absorbed.
func (c *Cache) Set(ctx context.Context, key string, res *model.TileResult, zoom int) {
	if c.cli == nil || res == nil {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		c.logger.Warn("tile cache encode failed", "key", key, "err", err)
		return
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if err := c.cli.Set(ctx, key, raw, c.TTLFor(zoom)); err != nil {
		observability.IncCacheError()
		c.logger.Warn("tile cache write failed", "key", key, "err", err)
	}
}

// Drop deletes tile keys (invalidation path). Errors propagate so the
// consumer can decide whether to retry the event.
func (c *Cache) Drop(ctx context.Context, keys ...string) error {
	if c.cli == nil || len(keys) == 0 {
		return nil
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.cli.Del(ctx, keys...)
}

// TTLFor maps a zoom level to its cache TTL. Coarse tiles change
// proportionally less per unit time and are requested far more often, so the
// configured bands give them the longest TTLs.
func (c *Cache) TTLFor(zoom int) time.Duration {
	for _, b := range c.bands {
		if zoom >= b.MinZoom && zoom <= b.MaxZoom {
			return b.TTL
		}
	}
	return defaultTTL
}

// MaxTTL returns the longest configured band TTL; the key index uses it so
// index sets outlive every tile they reference.
func (c *Cache) MaxTTL() time.Duration {
	max := defaultTTL
	for _, b := range c.bands {
		if b.TTL > max {
			max = b.TTL
		}
	}
	return max
}
