// Package invalidation defines the listing-change event that drives cache
// eviction. Producers publish one event per listing mutation; the consumer
// resolves affected tile keys through the H3 key index and drops them.
package invalidation

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Event struct {
	Version   int       `json:"version"`
	Op        string    `json:"op"`
	ListingID string    `json:"listing_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	TS        time.Time `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case "create", "update", "delete":
	default:
		return fmt.Errorf("op must be create|update|delete")
	}
	if strings.TrimSpace(e.ListingID) == "" {
		return fmt.Errorf("listing_id is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	if math.IsNaN(e.Lat) || math.IsNaN(e.Lng) {
		return fmt.Errorf("coordinates must be numbers")
	}
	if e.Lat < -90 || e.Lat > 90 {
		return fmt.Errorf("lat out of range")
	}
	if e.Lng < -180 || e.Lng > 180 {
		return fmt.Errorf("lng out of range")
	}
	return nil
}
