package tilecache

import (
	"context"
	"testing"
	"time"

	"github.com/casavista/listing-tile-cache/internal/model"
	"github.com/casavista/listing-tile-cache/internal/tilecache/redisstore"

	"github.com/alicebob/miniredis/v2"
)

func newIndex(t *testing.T, res int) (*KeyIndex, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli, err := redisstore.New(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	t.Cleanup(func() { cli.Close() })
	return NewKeyIndex(cli, res, 5*time.Minute, nil), mr
}

func TestKeyIndexRoundTrip(t *testing.T) {
	ki, _ := newIndex(t, 5)
	ctx := context.Background()

	vp := model.Viewport{MinLng: -99.2, MinLat: 19.3, MaxLng: -99.0, MaxLat: 19.5, Zoom: 12}
	ki.Register(ctx, vp, "tile:v1:a")
	ki.Register(ctx, vp, "tile:v1:b")

	keys, err := ki.KeysForPoint(ctx, 19.4, -99.1)
	if err != nil {
		t.Fatalf("KeysForPoint: %v", err)
	}
	found := map[string]bool{}
	for _, k := range keys {
		found[k] = true
	}
	if !found["tile:v1:a"] || !found["tile:v1:b"] {
		t.Fatalf("keys=%v want both tile keys", keys)
	}
}

func TestKeyIndexTinyViewportStillCovered(t *testing.T) {
	// viewport far smaller than a res-3 cell: corner cells must still index it
	ki, _ := newIndex(t, 3)
	ctx := context.Background()

	vp := model.Viewport{MinLng: 18.06, MinLat: 59.32, MaxLng: 18.07, MaxLat: 59.33, Zoom: 16}
	ki.Register(ctx, vp, "tile:v1:c")

	keys, err := ki.KeysForPoint(ctx, 59.325, 18.065)
	if err != nil {
		t.Fatalf("KeysForPoint: %v", err)
	}
	if len(keys) != 1 || keys[0] != "tile:v1:c" {
		t.Fatalf("keys=%v want [tile:v1:c]", keys)
	}
}

func TestKeyIndexMissOutsideViewport(t *testing.T) {
	ki, _ := newIndex(t, 5)
	ctx := context.Background()

	vp := model.Viewport{MinLng: -99.2, MinLat: 19.3, MaxLng: -99.0, MaxLat: 19.5, Zoom: 12}
	ki.Register(ctx, vp, "tile:v1:d")

	keys, err := ki.KeysForPoint(ctx, 40.7, -74.0)
	if err != nil {
		t.Fatalf("KeysForPoint: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("keys=%v want none for a distant point", keys)
	}
}

func TestKeyIndexEntriesExpire(t *testing.T) {
	ki, mr := newIndex(t, 5)
	ctx := context.Background()

	vp := model.Viewport{MinLng: -99.2, MinLat: 19.3, MaxLng: -99.0, MaxLat: 19.5, Zoom: 12}
	ki.Register(ctx, vp, "tile:v1:e")

	mr.FastForward(6 * time.Minute)
	keys, err := ki.KeysForPoint(ctx, 19.4, -99.1)
	if err != nil {
		t.Fatalf("KeysForPoint: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("keys=%v want none after expiry", keys)
	}
}

func TestKeyIndexNilClient(t *testing.T) {
	ki := NewKeyIndex(nil, 5, time.Minute, nil)
	ctx := context.Background()

	ki.Register(ctx, model.Viewport{MinLng: 0, MinLat: 0, MaxLng: 1, MaxLat: 1, Zoom: 10}, "tile:v1:f")
	keys, err := ki.KeysForPoint(ctx, 0.5, 0.5)
	if err != nil {
		t.Fatalf("KeysForPoint: %v", err)
	}
	if keys != nil {
		t.Fatalf("keys=%v want nil", keys)
	}
}
