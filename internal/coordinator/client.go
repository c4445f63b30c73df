package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/casavista/listing-tile-cache/internal/model"
	"github.com/casavista/listing-tile-cache/internal/tilekey"
)

// Client fetches tiles from the HTTP service.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Transport: transport, Timeout: 30 * time.Second},
	}
}

var _ TileFetcher = (*Client)(nil)

func (c *Client) TileKey(v model.Viewport, f model.Filters) string {
	return tilekey.Normalize(v, f)
}

func (c *Client) FetchTile(ctx context.Context, v model.Viewport, f model.Filters) (*model.TileResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tiles?"+BuildQuery(v, f).Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tile request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, fmt.Errorf("tile request: status %d: %s", resp.StatusCode, body.Error)
	}

	var out model.TileResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode tile response: %w", err)
	}
	return &out, nil
}

// BuildQuery encodes a tile request as /tiles query parameters. Exported for
// tests and the load generator.
func BuildQuery(v model.Viewport, f model.Filters) url.Values {
	params := url.Values{}
	params.Set("minLng", strconv.FormatFloat(v.MinLng, 'f', -1, 64))
	params.Set("minLat", strconv.FormatFloat(v.MinLat, 'f', -1, 64))
	params.Set("maxLng", strconv.FormatFloat(v.MaxLng, 'f', -1, 64))
	params.Set("maxLat", strconv.FormatFloat(v.MaxLat, 'f', -1, 64))
	params.Set("zoom", strconv.Itoa(v.Zoom))

	if f.Region != "" {
		params.Set("region", f.Region)
	}
	if f.Municipality != "" {
		params.Set("municipality", f.Municipality)
	}
	if f.ListingType != "" {
		params.Set("listingType", f.ListingType)
	}
	if f.PropertyType != "" {
		params.Set("propertyType", f.PropertyType)
	}
	if f.MinPrice > 0 {
		params.Set("minPrice", strconv.FormatFloat(f.MinPrice, 'f', -1, 64))
	}
	if f.MaxPrice > 0 {
		params.Set("maxPrice", strconv.FormatFloat(f.MaxPrice, 'f', -1, 64))
	}
	if f.MinBedrooms > 0 {
		params.Set("minBedrooms", strconv.Itoa(f.MinBedrooms))
	}
	if f.MinBathrooms > 0 {
		params.Set("minBathrooms", strconv.Itoa(f.MinBathrooms))
	}
	return params
}
