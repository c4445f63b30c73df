// Package service wires the tile pipeline: viewport validation, key
// normalization, cache lookup, datastore retrieval, clustering and overload
// protection.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/casavista/listing-tile-cache/internal/clusterindex"
	"github.com/casavista/listing-tile-cache/internal/fetcher"
	"github.com/casavista/listing-tile-cache/internal/guard"
	"github.com/casavista/listing-tile-cache/internal/logger"
	"github.com/casavista/listing-tile-cache/internal/model"
	"github.com/casavista/listing-tile-cache/internal/observability"
	"github.com/casavista/listing-tile-cache/internal/tilecache"
	"github.com/casavista/listing-tile-cache/internal/tilekey"
)

type Config struct {
	KeyPrecision          int
	MaxPerTile            int
	LowZoomThreshold      int
	RequestTimeout        time.Duration
	RequestTimeoutLowZoom time.Duration
}

func (c Config) withDefaults() Config {
	if c.KeyPrecision <= 0 {
		c.KeyPrecision = tilekey.DefaultPrecision
	}
	if c.MaxPerTile <= 0 {
		c.MaxPerTile = 1000
	}
	if c.LowZoomThreshold <= 0 {
		c.LowZoomThreshold = 8
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.RequestTimeoutLowZoom <= 0 {
		c.RequestTimeoutLowZoom = 20 * time.Second
	}
	return c
}

type Service struct {
	cfg     Config
	cache   *tilecache.Cache
	index   *tilecache.KeyIndex
	fetcher *fetcher.Fetcher
	engine  *clusterindex.Engine
	logger  *slog.Logger
}

// New assembles the pipeline. cache and index may be built over a nil redis
// client, in which case every request recomputes.
func New(cfg Config, cache *tilecache.Cache, index *tilecache.KeyIndex, f *fetcher.Fetcher, engine *clusterindex.Engine, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		cache:   cache,
		index:   index,
		fetcher: f,
		engine:  engine,
		logger:  logger,
	}
}

// TileKey returns the canonical cache key for the request, for logging and
// client-side deduplication.
func (s *Service) TileKey(v model.Viewport, f model.Filters) string {
	return tilekey.NormalizeWithPrecision(v, f, s.cfg.KeyPrecision)
}

// GetTile serves one tile request: cache hit if possible, otherwise fetch,
// cluster, guard and store.
func (s *Service) GetTile(ctx context.Context, v model.Viewport, f model.Filters) (*model.TileResult, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	key := s.TileKey(v, f)
	ctx = logger.WithTileKey(ctx, key)
	if res, ok := s.cache.Get(ctx, key); ok {
		return res, nil
	}

	timeout := s.cfg.RequestTimeout
	if v.Zoom < s.cfg.LowZoomThreshold {
		timeout = s.cfg.RequestTimeoutLowZoom
	}
	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	points, err := s.fetcher.Fetch(fctx, v, f)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	clustered := s.engine.Cluster(points, v)
	visible, overloaded := guard.Apply(clustered.Points, s.cfg.MaxPerTile)

	res := &model.TileResult{
		Clusters:          clustered.Clusters,
		Properties:        visible,
		TotalCount:        clustered.TotalCount,
		HasTooManyResults: overloaded,
	}
	if overloaded {
		observability.IncOverloadDegraded()
		res.Clusters = s.engine.Degrade(points, v)
		s.logger.Info("tile over marker budget, degraded to clusters",
			"key", key, "zoom", v.Zoom, "points", clustered.TotalCount, "clusters", len(res.Clusters))
	}
	if res.Clusters == nil {
		res.Clusters = []model.Cluster{}
	}
	if res.Properties == nil {
		res.Properties = []model.Point{}
	}
	observability.ObserveClustering(time.Since(start).Seconds(), len(res.Clusters), len(res.Properties))

	s.cache.Set(ctx, key, res, v.Zoom)
	s.index.Register(ctx, v, key)
	return res, nil
}
