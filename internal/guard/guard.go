// Package guard caps the individual-marker layer of a tile response.
package guard

import "github.com/casavista/listing-tile-cache/internal/model"

// Apply enforces the per-tile marker budget. The cap is all-or-nothing: a
// truncated 1000-of-50000 subset would be a misleading map, so an oversized
// marker list is dropped entirely and the caller is told to fall back to
// clusters.
func Apply(points []model.Point, maxPerTile int) ([]model.Point, bool) {
	if maxPerTile > 0 && len(points) > maxPerTile {
		return []model.Point{}, true
	}
	return points, false
}
