package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/casavista/listing-tile-cache/internal/model"
)

// ParseTileRequest validates /tiles query parameters and returns the
// normalized viewport and filters.
func ParseTileRequest(r *http.Request) (model.Viewport, model.Filters, error) {
	q := r.URL.Query()

	var vp model.Viewport
	var err error
	if vp.MinLng, err = parseFloat(q.Get("minLng")); err != nil {
		return model.Viewport{}, model.Filters{}, fmt.Errorf("minLng: %w", err)
	}
	if vp.MinLat, err = parseFloat(q.Get("minLat")); err != nil {
		return model.Viewport{}, model.Filters{}, fmt.Errorf("minLat: %w", err)
	}
	if vp.MaxLng, err = parseFloat(q.Get("maxLng")); err != nil {
		return model.Viewport{}, model.Filters{}, fmt.Errorf("maxLng: %w", err)
	}
	if vp.MaxLat, err = parseFloat(q.Get("maxLat")); err != nil {
		return model.Viewport{}, model.Filters{}, fmt.Errorf("maxLat: %w", err)
	}
	if vp.Zoom, err = parseInt(q.Get("zoom")); err != nil {
		return model.Viewport{}, model.Filters{}, fmt.Errorf("zoom: %w", err)
	}
	if err := vp.Validate(); err != nil {
		return model.Viewport{}, model.Filters{}, err
	}

	f := model.Filters{
		Region:       strings.TrimSpace(q.Get("region")),
		Municipality: strings.TrimSpace(q.Get("municipality")),
		ListingType:  strings.TrimSpace(q.Get("listingType")),
		PropertyType: strings.TrimSpace(q.Get("propertyType")),
	}
	if v := q.Get("minPrice"); v != "" {
		if f.MinPrice, err = parseFloat(v); err != nil {
			return model.Viewport{}, model.Filters{}, fmt.Errorf("minPrice: %w", err)
		}
	}
	if v := q.Get("maxPrice"); v != "" {
		if f.MaxPrice, err = parseFloat(v); err != nil {
			return model.Viewport{}, model.Filters{}, fmt.Errorf("maxPrice: %w", err)
		}
	}
	if v := q.Get("minBedrooms"); v != "" {
		if f.MinBedrooms, err = parseInt(v); err != nil {
			return model.Viewport{}, model.Filters{}, fmt.Errorf("minBedrooms: %w", err)
		}
	}
	if v := q.Get("minBathrooms"); v != "" {
		if f.MinBathrooms, err = parseInt(v); err != nil {
			return model.Viewport{}, model.Filters{}, fmt.Errorf("minBathrooms: %w", err)
		}
	}
	if f.MinPrice < 0 || f.MaxPrice < 0 || f.MinBedrooms < 0 || f.MinBathrooms < 0 {
		return model.Viewport{}, model.Filters{}, errors.New("filter values must be non-negative")
	}
	if f.MinPrice > 0 && f.MaxPrice > 0 && f.MinPrice > f.MaxPrice {
		return model.Viewport{}, model.Filters{}, errors.New("minPrice must not exceed maxPrice")
	}
	return vp, f, nil
}

func parseFloat(v string) (float64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, errors.New("missing required parameter")
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}

func parseInt(v string) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, errors.New("missing required parameter")
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse int: %w", err)
	}
	return n, nil
}
