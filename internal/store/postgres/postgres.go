// Package postgres implements the datastore seam on top of a listings table
// with btree indexes on (lng, lat) and the filterable columns.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/casavista/listing-tile-cache/internal/model"
	"github.com/casavista/listing-tile-cache/internal/observability"
	"github.com/casavista/listing-tile-cache/internal/store"
)

type Repository struct {
	db *sqlx.DB
}

func New(dsn string) (*Repository, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(32)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Repository{db: db}, nil
}

func (r *Repository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

var _ store.Datastore = (*Repository)(nil)

// QueryBoundingBox returns one page of listings inside the box. All
// non-geographic filters are pushed into the query so pages arrive already
// filtered.
func (r *Repository) QueryBoundingBox(ctx context.Context, q store.Query) ([]model.Point, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, lat, lng, price, currency, property_type, listing_type,
		       bedrooms, bathrooms, is_featured
		FROM listings
		WHERE lng BETWEEN $1 AND $2
		  AND lat BETWEEN $3 AND $4
		  AND status = 'active'`)
	args := []any{q.MinLng, q.MaxLng, q.MinLat, q.MaxLat}

	appendPred := func(cond string, v any) {
		args = append(args, v)
		fmt.Fprintf(&sb, "\n\t\t  AND %s $%d", cond, len(args))
	}

	f := q.Filters
	if f.Region != "" {
		appendPred("region =", f.Region)
	}
	if f.Municipality != "" {
		appendPred("municipality =", f.Municipality)
	}
	if f.ListingType != "" {
		appendPred("listing_type =", f.ListingType)
	}
	if f.PropertyType != "" {
		appendPred("property_type =", f.PropertyType)
	}
	if f.MinPrice > 0 {
		appendPred("price >=", f.MinPrice)
	}
	if f.MaxPrice > 0 {
		appendPred("price <=", f.MaxPrice)
	}
	if f.MinBedrooms > 0 {
		appendPred("bedrooms >=", f.MinBedrooms)
	}
	if f.MinBathrooms > 0 {
		appendPred("bathrooms >=", f.MinBathrooms)
	}

	// Stable order so offset paging never skips or repeats rows.
	args = append(args, q.Limit, q.Offset)
	fmt.Fprintf(&sb, "\n\t\tORDER BY id\n\t\tLIMIT $%d OFFSET $%d", len(args)-1, len(args))

	start := time.Now()
	var rows []model.Point
	err := r.db.SelectContext(ctx, &rows, sb.String(), args...)
	observability.ObserveDatastoreQuery(err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("query listings bbox: %w", err)
	}
	return rows, nil
}
