// Package tilekey canonicalizes a viewport and filter set into a stable
// cache key. Two viewports within the rounding tolerance of each other map to
// the same key; this trades a little geographic precision for much higher
// cache hit rates and request deduplication.
package tilekey

import (
	"fmt"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/casavista/listing-tile-cache/internal/model"
)

// DefaultPrecision is the number of decimal degrees bounds are rounded to
// (3 decimals is roughly 111 m at the equator).
const DefaultPrecision = 3

// Normalize builds a TileKey at the default precision.
func Normalize(v model.Viewport, f model.Filters) string {
	return NormalizeWithPrecision(v, f, DefaultPrecision)
}

// NormalizeWithPrecision is Normalize with an explicit rounding precision.
// Pure and deterministic; always succeeds for finite input.
func NormalizeWithPrecision(v model.Viewport, f model.Filters, precision int) string {
	if precision < 0 {
		precision = DefaultPrecision
	}
	filterText := f.Canonical()
	sum := xxhash.Sum64String(filterText)

	var b strings.Builder
	b.WriteString("tile:v1:")
	b.WriteString(roundCoord(v.MinLng, precision))
	b.WriteByte(',')
	b.WriteString(roundCoord(v.MinLat, precision))
	b.WriteByte(',')
	b.WriteString(roundCoord(v.MaxLng, precision))
	b.WriteByte(',')
	b.WriteString(roundCoord(v.MaxLat, precision))
	fmt.Fprintf(&b, ":z%d:f=%016x", v.Zoom, sum)
	return b.String()
}

// roundCoord formats a coordinate rounded to the given number of decimals.
// Negative zero is folded into zero so -0.0001 and 0.0001 at precision 3
// cannot yield distinct "-0.000"/"0.000" keys.
func roundCoord(x float64, precision int) string {
	scale := math.Pow10(precision)
	r := math.Round(x*scale) / scale
	if r == 0 {
		r = 0
	}
	return fmt.Sprintf("%.*f", precision, r)
}
