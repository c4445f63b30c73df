package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/casavista/listing-tile-cache/internal/model"
	"github.com/casavista/listing-tile-cache/internal/tilekey"
)

type fakeFetcher struct {
	mu      sync.Mutex
	fetched []string
	delay   time.Duration
	err     error
}

func (f *fakeFetcher) FetchTile(ctx context.Context, v model.Viewport, flt model.Filters) (*model.TileResult, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, f.TileKey(v, flt))
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &model.TileResult{TotalCount: 1}, nil
}

func (f *fakeFetcher) TileKey(v model.Viewport, flt model.Filters) string {
	return tilekey.Normalize(v, flt)
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

func (f *fakeFetcher) fetchedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

func testViewport() model.Viewport {
	return model.Viewport{MinLng: -99.3, MinLat: 19.2, MaxLng: -98.9, MaxLat: 19.6, Zoom: 12}
}

func waitUpdate(t *testing.T, c *Coordinator) Update {
	t.Helper()
	select {
	case u := <-c.Updates():
		return u
	case <-time.After(5 * time.Second):
		t.Fatal("no update delivered")
		return Update{}
	}
}

func TestDebouncedFetchAndPrefetch(t *testing.T) {
	ff := &fakeFetcher{}
	c := New(ff, Options{Debounce: 20 * time.Millisecond})
	defer c.Close()

	c.ViewportChanged(testViewport(), model.Filters{})
	u := waitUpdate(t, c)
	if u.Err != nil {
		t.Fatalf("update err: %v", u.Err)
	}
	if want := ff.TileKey(testViewport(), model.Filters{}); u.Key != want {
		t.Fatalf("key=%q want %q", u.Key, want)
	}

	// primary fetch plus eight neighbor prefetches
	deadline := time.Now().Add(2 * time.Second)
	for ff.count() < 9 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := ff.count(); got != 9 {
		t.Fatalf("fetches=%d want 9", got)
	}
}

func TestDebounceAbsorbsBursts(t *testing.T) {
	ff := &fakeFetcher{}
	c := New(ff, Options{Debounce: 40 * time.Millisecond, NoPrefetch: true})
	defer c.Close()

	vp := testViewport()
	for i := 0; i < 10; i++ {
		jitter := vp
		jitter.MinLng += float64(i) * 0.01
		jitter.MaxLng += float64(i) * 0.01
		c.ViewportChanged(jitter, model.Filters{})
		time.Sleep(5 * time.Millisecond)
	}

	u := waitUpdate(t, c)
	final := vp
	final.MinLng += 0.09
	final.MaxLng += 0.09
	if want := ff.TileKey(final, model.Filters{}); u.Key != want {
		t.Fatalf("settled key=%q want %q (only the last viewport fetches)", u.Key, want)
	}
	if got := ff.count(); got != 1 {
		t.Fatalf("fetches=%d want 1", got)
	}
}

func TestCachedViewportSkipsNetwork(t *testing.T) {
	ff := &fakeFetcher{}
	c := New(ff, Options{Debounce: 20 * time.Millisecond, NoPrefetch: true})
	defer c.Close()

	c.ViewportChanged(testViewport(), model.Filters{})
	waitUpdate(t, c)

	c.ViewportChanged(testViewport(), model.Filters{})
	u := waitUpdate(t, c)
	if u.Result == nil {
		t.Fatal("expected cached result")
	}
	if got := ff.count(); got != 1 {
		t.Fatalf("fetches=%d want 1 (second request cached)", got)
	}
}

func TestPrefetchWarmsCacheForPan(t *testing.T) {
	ff := &fakeFetcher{}
	c := New(ff, Options{Debounce: 20 * time.Millisecond})
	defer c.Close()

	vp := testViewport()
	c.ViewportChanged(vp, model.Filters{})
	waitUpdate(t, c)

	deadline := time.Now().Add(2 * time.Second)
	for ff.count() < 9 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	// pan one full viewport east: the NE/E/SE prefetches already cover it
	east := vp
	east.MinLng += vp.MaxLng - vp.MinLng
	east.MaxLng += vp.MaxLng - vp.MinLng
	c.ViewportChanged(east, model.Filters{})
	u := waitUpdate(t, c)
	if u.Result == nil {
		t.Fatalf("pan east: %v", u.Err)
	}
	if want := ff.TileKey(east, model.Filters{}); u.Key != want {
		t.Fatalf("key=%q want %q", u.Key, want)
	}
	// the east tile itself was prefetched; the pan must not refetch it
	seen := map[string]int{}
	for _, k := range ff.fetchedKeys() {
		seen[k]++
	}
	if n := seen[ff.TileKey(east, model.Filters{})]; n != 1 {
		t.Fatalf("east tile fetched %d times, want exactly 1 (prefetch)", n)
	}
}

func TestFetchErrorReachesCaller(t *testing.T) {
	ff := &fakeFetcher{err: errors.New("service down")}
	c := New(ff, Options{Debounce: 20 * time.Millisecond, NoPrefetch: true})
	defer c.Close()

	c.ViewportChanged(testViewport(), model.Filters{})
	u := waitUpdate(t, c)
	if u.Err == nil {
		t.Fatal("expected error update")
	}
}

// gateFetcher blocks every fetch until the test releases its key with
// either a result or an error.
type gateFetcher struct {
	mu      sync.Mutex
	gates   map[string]chan error
	started map[string]bool
}

func newGateFetcher() *gateFetcher {
	return &gateFetcher{gates: make(map[string]chan error), started: make(map[string]bool)}
}

func (g *gateFetcher) gate(key string) chan error {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[key]
	if !ok {
		ch = make(chan error, 1)
		g.gates[key] = ch
	}
	return ch
}

func (g *gateFetcher) FetchTile(ctx context.Context, v model.Viewport, flt model.Filters) (*model.TileResult, error) {
	key := g.TileKey(v, flt)
	g.mu.Lock()
	g.started[key] = true
	g.mu.Unlock()
	select {
	case err := <-g.gate(key):
		if err != nil {
			return nil, err
		}
		return &model.TileResult{TotalCount: 1}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (g *gateFetcher) TileKey(v model.Viewport, flt model.Filters) string {
	return tilekey.Normalize(v, flt)
}

func (g *gateFetcher) release(key string, err error) {
	g.gate(key) <- err
}

func (g *gateFetcher) waitStarted(t *testing.T, key string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		ok := g.started[key]
		g.mu.Unlock()
		if ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("fetch for %q never started", key)
}

// A viewport can settle on a tile whose prefetch is still in flight. If
// that fetch then fails, the caller must still get an error update.
func TestInflightPrefetchFailureReachesCaller(t *testing.T) {
	gf := newGateFetcher()
	c := New(gf, Options{Debounce: 20 * time.Millisecond})
	defer c.Close()

	vp := testViewport()
	c.ViewportChanged(vp, model.Filters{})

	east := vp
	east.MinLng += vp.MaxLng - vp.MinLng
	east.MaxLng += vp.MaxLng - vp.MinLng
	eastKey := gf.TileKey(east, model.Filters{})

	gf.release(gf.TileKey(vp, model.Filters{}), nil)
	waitUpdate(t, c)
	gf.waitStarted(t, eastKey)

	// settle on the east tile while its prefetch is still blocked,
	// then fail that fetch
	c.ViewportChanged(east, model.Filters{})
	time.Sleep(200 * time.Millisecond)
	gf.release(eastKey, errors.New("service down"))

	u := waitUpdate(t, c)
	if u.Key != eastKey {
		t.Fatalf("key=%q want %q", u.Key, eastKey)
	}
	if u.Err == nil {
		t.Fatal("expected error update for the settled tile")
	}
}

// When two viewports settle in quick succession, only the result for the
// most recently requested key reaches the caller, regardless of which
// fetch completes first.
func TestLateResultForSupersededViewportIsSwallowed(t *testing.T) {
	gf := newGateFetcher()
	c := New(gf, Options{Debounce: 20 * time.Millisecond, NoPrefetch: true})
	defer c.Close()

	first := testViewport()
	second := first
	second.MinLng += 2.0
	second.MaxLng += 2.0
	firstKey := gf.TileKey(first, model.Filters{})
	secondKey := gf.TileKey(second, model.Filters{})

	c.ViewportChanged(first, model.Filters{})
	gf.waitStarted(t, firstKey)

	c.ViewportChanged(second, model.Filters{})
	gf.waitStarted(t, secondKey)

	gf.release(secondKey, nil)
	u := waitUpdate(t, c)
	if u.Key != secondKey {
		t.Fatalf("key=%q want %q", u.Key, secondKey)
	}
	if u.Err != nil {
		t.Fatalf("update err: %v", u.Err)
	}

	// the superseded fetch completes later and must be swallowed
	gf.release(firstKey, nil)
	select {
	case u := <-c.Updates():
		t.Fatalf("superseded viewport delivered update for %q", u.Key)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNeighborsClamped(t *testing.T) {
	vp := model.Viewport{MinLng: 179.0, MinLat: 84.0, MaxLng: 180.0, MaxLat: 85.0, Zoom: 6}
	for _, nb := range Neighbors(vp) {
		if nb.MinLng < -180 || nb.MaxLng > 180 || nb.MinLat < -85 || nb.MaxLat > 85 {
			t.Fatalf("neighbor out of range: %+v", nb)
		}
		if nb.MinLng >= nb.MaxLng || nb.MinLat >= nb.MaxLat {
			t.Fatalf("degenerate neighbor survived: %+v", nb)
		}
	}

	center := model.Viewport{MinLng: -99.3, MinLat: 19.2, MaxLng: -98.9, MaxLat: 19.6, Zoom: 12}
	if got := len(Neighbors(center)); got != 8 {
		t.Fatalf("neighbors=%d want 8", got)
	}
	corner := Neighbors(vp)
	if len(corner) >= 8 {
		t.Fatalf("neighbors=%d want fewer than 8 at the map edge", len(corner))
	}
}

func TestCloseStopsLoop(t *testing.T) {
	ff := &fakeFetcher{delay: time.Hour}
	c := New(ff, Options{Debounce: 10 * time.Millisecond, NoPrefetch: true})

	c.ViewportChanged(testViewport(), model.Filters{})
	time.Sleep(50 * time.Millisecond)
	c.Close()
	c.Close()

	// events after close must not block
	done := make(chan struct{})
	go func() {
		c.ViewportChanged(testViewport(), model.Filters{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ViewportChanged blocked after Close")
	}
}
