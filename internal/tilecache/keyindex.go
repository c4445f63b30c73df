package tilecache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	h3 "github.com/uber/h3-go/v4"

	"github.com/casavista/listing-tile-cache/internal/model"
	"github.com/casavista/listing-tile-cache/internal/tilecache/redisstore"
)

const indexKeyPrefix = "tileidx:"

// KeyIndex maps H3 cells to the tile keys whose viewports cover them. Tile
// keys embed a filter hash, so a listing-change event cannot reconstruct
// them; the index is the reverse lookup the invalidation consumer needs.
type KeyIndex struct {
	cli    *redisstore.Client
	res    int
	ttl    time.Duration
	logger *slog.Logger
}

// NewKeyIndex builds the index at the given H3 resolution. Index entries
// live for ttl, which should be at least the longest tile TTL so no live
// tile outlasts its index.
func NewKeyIndex(cli *redisstore.Client, res int, ttl time.Duration, logger *slog.Logger) *KeyIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &KeyIndex{cli: cli, res: res, ttl: ttl, logger: logger}
}

// Register records the tile key under every H3 cell its viewport covers.
// Failures are absorbed: a missing index entry only means a stale tile
// survives until its TTL.
func (ki *KeyIndex) Register(ctx context.Context, vp model.Viewport, tileKey string) {
	if ki == nil || ki.cli == nil {
		return
	}
	cells, err := ki.coverCells(vp)
	if err != nil {
		ki.logger.Warn("key index cover failed", "key", tileKey, "err", err)
		return
	}
	for _, cell := range cells {
		if err := ki.cli.SAddExpire(ctx, indexKeyPrefix+cell, ki.ttl, tileKey); err != nil {
			ki.logger.Warn("key index write failed", "cell", cell, "err", err)
			return
		}
	}
}

// KeysForPoint returns the tile keys indexed under the cell containing the
// coordinate.
func (ki *KeyIndex) KeysForPoint(ctx context.Context, lat, lng float64) ([]string, error) {
	if ki == nil || ki.cli == nil {
		return nil, nil
	}
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, ki.res)
	if err != nil {
		return nil, fmt.Errorf("h3 cell for %.6f,%.6f: %w", lat, lng, err)
	}
	return ki.cli.SMembers(ctx, indexKeyPrefix+cell.String())
}

// coverCells polyfills the viewport rectangle at the index resolution. The
// corner cells are added explicitly because PolygonToCells only returns
// cells whose center falls inside the polygon, and a viewport smaller than
// one cell would otherwise cover nothing.
func (ki *KeyIndex) coverCells(vp model.Viewport) ([]string, error) {
	outer := h3.GeoLoop{
		{Lat: vp.MinLat, Lng: vp.MinLng},
		{Lat: vp.MinLat, Lng: vp.MaxLng},
		{Lat: vp.MaxLat, Lng: vp.MaxLng},
		{Lat: vp.MaxLat, Lng: vp.MinLng},
	}
	poly := h3.GeoPolygon{GeoLoop: outer}
	cells, err := h3.PolygonToCells(poly, ki.res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	seen := make(map[string]struct{}, len(cells)+4)
	out := make([]string, 0, len(cells)+4)
	add := func(s string) {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, c := range cells {
		add(c.String())
	}
	for _, ll := range outer {
		c, err := h3.LatLngToCell(ll, ki.res)
		if err != nil {
			return nil, fmt.Errorf("h3 corner cell: %w", err)
		}
		add(c.String())
	}
	return out, nil
}
