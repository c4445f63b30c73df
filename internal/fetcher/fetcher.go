// Package fetcher retrieves every candidate listing for a tile, paging
// through the datastore's result-size limit.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/casavista/listing-tile-cache/internal/model"
	"github.com/casavista/listing-tile-cache/internal/store"
)

type Config struct {
	// Margin expands the requested box (degrees) so clusters near tile
	// edges see their complete neighborhood and do not pop when panning.
	Margin float64
	// BatchSize is the page size per datastore query.
	BatchSize int
	// MaxBatches caps the page loop; MaxBatchesLowZoom applies at zooms
	// below LowZoomThreshold, where the candidate set can be nationwide.
	MaxBatches        int
	MaxBatchesLowZoom int
	LowZoomThreshold  int
}

func (c Config) withDefaults() Config {
	if c.Margin < 0 {
		c.Margin = 0
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = 10
	}
	if c.MaxBatchesLowZoom < c.MaxBatches {
		c.MaxBatchesLowZoom = c.MaxBatches
	}
	if c.LowZoomThreshold < 0 {
		c.LowZoomThreshold = 0
	}
	return c
}

type Fetcher struct {
	ds     store.Datastore
	logger *slog.Logger
	cfg    Config
}

func New(ds store.Datastore, logger *slog.Logger, cfg Config) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{ds: ds, logger: logger, cfg: cfg.withDefaults()}
}

// Fetch pages through all listings intersecting the expanded viewport. A
// query error aborts the whole fetch: pages already read are discarded so the
// caller never renders a misleadingly sparse map from partial data.
func (f *Fetcher) Fetch(ctx context.Context, v model.Viewport, flt model.Filters) ([]model.Point, error) {
	expanded := v.Expand(f.cfg.Margin)

	maxBatches := f.cfg.MaxBatches
	if v.Zoom < f.cfg.LowZoomThreshold {
		maxBatches = f.cfg.MaxBatchesLowZoom
	}

	var out []model.Point
	for batch := 0; batch < maxBatches; batch++ {
		page, err := f.ds.QueryBoundingBox(ctx, store.Query{
			MinLng:  expanded.MinLng,
			MinLat:  expanded.MinLat,
			MaxLng:  expanded.MaxLng,
			MaxLat:  expanded.MaxLat,
			Filters: flt,
			Offset:  batch * f.cfg.BatchSize,
			Limit:   f.cfg.BatchSize,
		})
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: batch %d: %v", model.ErrRetrievalTimeout, batch, err)
			}
			return nil, fmt.Errorf("%w: batch %d: %v", model.ErrRetrievalFailed, batch, err)
		}
		out = append(out, page...)
		if len(page) < f.cfg.BatchSize {
			return out, nil
		}
	}

	f.logger.Warn("fetch hit batch cutoff",
		"zoom", v.Zoom, "batches", maxBatches, "points", len(out))
	return out, nil
}
