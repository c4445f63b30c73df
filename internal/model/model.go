// Package model defines the shared data types of the tile service.
package model

import (
	"fmt"
	"math"
	"strings"
)

// MaxZoom is the deepest zoom level the platform accepts.
const MaxZoom = 20

// Viewport is a map viewport: a lng/lat bounding box plus the zoom level it
// is rendered at. Created per user interaction, never persisted.
type Viewport struct {
	MinLng float64 `json:"minLng"`
	MinLat float64 `json:"minLat"`
	MaxLng float64 `json:"maxLng"`
	MaxLat float64 `json:"maxLat"`
	Zoom   int     `json:"zoom"`
}

func (v Viewport) Validate() error {
	for _, f := range []float64{v.MinLng, v.MinLat, v.MaxLng, v.MaxLat} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite bound", ErrInvalidViewport)
		}
	}
	if !(v.MinLng >= -180 && v.MaxLng <= 180) {
		return fmt.Errorf("%w: longitude must be in [-180,180]", ErrInvalidViewport)
	}
	if !(v.MinLat >= -90 && v.MaxLat <= 90) {
		return fmt.Errorf("%w: latitude must be in [-90,90]", ErrInvalidViewport)
	}
	if v.MaxLng < v.MinLng || v.MaxLat < v.MinLat {
		return fmt.Errorf("%w: inverted bounds", ErrInvalidViewport)
	}
	if v.Zoom < 0 || v.Zoom > MaxZoom {
		return fmt.Errorf("%w: zoom must be in [0,%d]", ErrInvalidViewport, MaxZoom)
	}
	return nil
}

// Expand grows the viewport by margin degrees on every side, clamped to the
// valid lng/lat ranges. Zoom is preserved.
func (v Viewport) Expand(margin float64) Viewport {
	out := v
	out.MinLng = math.Max(v.MinLng-margin, -180)
	out.MaxLng = math.Min(v.MaxLng+margin, 180)
	out.MinLat = math.Max(v.MinLat-margin, -90)
	out.MaxLat = math.Min(v.MaxLat+margin, 90)
	return out
}

// Contains reports whether the point lies inside the viewport box.
func (v Viewport) Contains(lng, lat float64) bool {
	return lng >= v.MinLng && lng <= v.MaxLng && lat >= v.MinLat && lat <= v.MaxLat
}

func (v Viewport) String() string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f@z%d", v.MinLng, v.MinLat, v.MaxLng, v.MaxLat, v.Zoom)
}

// Filters is the flat listing filter set. The zero value of a field means the
// predicate is absent; Canonical always emits every slot so two filter sets
// are equal iff their canonical strings match.
type Filters struct {
	Region       string  `json:"region"`
	Municipality string  `json:"municipality"`
	ListingType  string  `json:"listingType"`
	PropertyType string  `json:"propertyType"`
	MinPrice     float64 `json:"minPrice"`
	MaxPrice     float64 `json:"maxPrice"`
	MinBedrooms  int     `json:"minBedrooms"`
	MinBathrooms int     `json:"minBathrooms"`
}

// Canonical renders the filters in a fixed field order with explicit empty
// slots, so the derived cache keys keep a uniform shape.
func (f Filters) Canonical() string {
	var b strings.Builder
	b.WriteString("region=")
	b.WriteString(slot(f.Region))
	b.WriteString("|muni=")
	b.WriteString(slot(f.Municipality))
	b.WriteString("|lt=")
	b.WriteString(slot(f.ListingType))
	b.WriteString("|pt=")
	b.WriteString(slot(f.PropertyType))
	fmt.Fprintf(&b, "|price=%s..%s", numSlot(f.MinPrice), numSlot(f.MaxPrice))
	fmt.Fprintf(&b, "|bed=%d|bath=%d", f.MinBedrooms, f.MinBathrooms)
	return b.String()
}

func (f Filters) IsZero() bool {
	return f == Filters{}
}

func slot(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "-"
	}
	return s
}

func numSlot(v float64) string {
	if v <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f", v)
}

// Point is a single listing marker. Owned by the datastore, read-only here.
type Point struct {
	ID           int64   `json:"id" db:"id"`
	Lat          float64 `json:"lat" db:"lat"`
	Lng          float64 `json:"lng" db:"lng"`
	Price        float64 `json:"price" db:"price"`
	Currency     string  `json:"currency" db:"currency"`
	PropertyType string  `json:"propertyType" db:"property_type"`
	ListingType  string  `json:"listingType" db:"listing_type"`
	Bedrooms     int     `json:"bedrooms" db:"bedrooms"`
	Bathrooms    int     `json:"bathrooms" db:"bathrooms"`
	Featured     bool    `json:"isFeatured" db:"is_featured"`
}

// Cluster is an aggregated group of nearby listings at a given zoom. IDs are
// derived from the rounded centroid and zoom, so identical requests produce
// identical IDs.
type Cluster struct {
	ID       string  `json:"clusterId"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Count    int     `json:"count"`
	AvgPrice float64 `json:"avgPrice"`
}

// TileResult is the tile endpoint payload. Clusters and Properties are
// mutually exclusive apart from the small-cluster list expansion: in cluster
// mode Properties carries singles plus expanded leaves of small clusters.
type TileResult struct {
	Clusters          []Cluster `json:"clusters"`
	Properties        []Point   `json:"properties"`
	TotalCount        int       `json:"totalCount"`
	HasTooManyResults bool      `json:"hasTooManyResults"`
}
