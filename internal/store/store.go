// Package store defines the narrow datastore seam the tile pipeline consumes.
// The underlying store (postgres, a dedicated geo index, ...) is swappable as
// long as it supports indexed lat/lng range filtering and offset paging.
package store

import (
	"context"

	"github.com/casavista/listing-tile-cache/internal/model"
)

// Query is one bounding-box page request. Limit is the page size; a result
// shorter than Limit (including empty) signals exhaustion, never an error.
type Query struct {
	MinLng, MinLat float64
	MaxLng, MaxLat float64
	Filters        model.Filters
	Offset         int
	Limit          int
}

type Datastore interface {
	QueryBoundingBox(ctx context.Context, q Query) ([]model.Point, error)
}
