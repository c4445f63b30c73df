// Package coordinator is the client-side companion to the tile service. It
// debounces viewport-change events from a panning map, deduplicates fetches
// through a local LRU keyed by tile key, and prefetches the eight adjacent
// tiles so the next pan usually resolves locally.
package coordinator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/casavista/listing-tile-cache/internal/model"
)

// TileFetcher performs one tile request. The HTTP client in this package
// implements it; tests substitute fakes.
type TileFetcher interface {
	FetchTile(ctx context.Context, v model.Viewport, f model.Filters) (*model.TileResult, error)
	TileKey(v model.Viewport, f model.Filters) string
}

// Update is delivered for each settled viewport once its primary fetch
// completes. Superseded fetches are swallowed: only the most recently
// requested key produces an update.
type Update struct {
	Key      string
	Viewport model.Viewport
	Result   *model.TileResult
	Err      error
}

type Options struct {
	// Debounce is how long the viewport must hold still before fetching.
	Debounce  time.Duration
	CacheSize int
	// NoPrefetch disables neighbor prefetching (useful on metered links).
	NoPrefetch bool
	Logger     *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 256
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type viewportEvent struct {
	vp model.Viewport
	f  model.Filters
}

type fetchDone struct {
	key     string
	vp      model.Viewport
	res     *model.TileResult
	err     error
	primary bool
}

// Coordinator owns all state in a single goroutine; callers interact only
// through channels, so no locks are needed.
type Coordinator struct {
	opts    Options
	fetcher TileFetcher

	events  chan viewportEvent
	updates chan Update
	done    chan struct{}
	once    sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

func New(fetcher TileFetcher, opts Options) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		opts:    opts.withDefaults(),
		fetcher: fetcher,
		events:  make(chan viewportEvent, 16),
		updates: make(chan Update, 16),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go c.loop()
	return c
}

// ViewportChanged reports a pan or zoom. Bursts are absorbed by the debounce
// window; only the viewport that settles triggers a fetch.
func (c *Coordinator) ViewportChanged(v model.Viewport, f model.Filters) {
	select {
	case c.events <- viewportEvent{vp: v, f: f}:
	case <-c.done:
	}
}

// Updates delivers results for settled viewports.
func (c *Coordinator) Updates() <-chan Update {
	return c.updates
}

// Close cancels in-flight fetches and stops the loop.
func (c *Coordinator) Close() {
	c.cancel()
	c.once.Do(func() { close(c.done) })
}

func (c *Coordinator) loop() {
	cache, _ := lru.New[string, *model.TileResult](c.opts.CacheSize)
	inflight := make(map[string]bool)

	var pending viewportEvent
	var havePending bool
	timer := time.NewTimer(time.Hour)
	timer.Stop()

	results := make(chan fetchDone, 16)
	lastRequested := ""

	for {
		select {
		case <-c.done:
			return

		case ev := <-c.events:
			// a new gesture resets the window
			pending, havePending = ev, true
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.opts.Debounce)

		case <-timer.C:
			if !havePending {
				continue
			}
			ev := pending
			havePending = false

			key := c.fetcher.TileKey(ev.vp, ev.f)
			lastRequested = key

			if res, ok := cache.Get(key); ok {
				c.emit(Update{Key: key, Viewport: ev.vp, Result: res})
			} else if !inflight[key] {
				inflight[key] = true
				go c.fetch(results, key, ev.vp, ev.f, true)
			}
			// primary already in flight: its completion emits the update

			if !c.opts.NoPrefetch {
				for _, nb := range Neighbors(ev.vp) {
					nkey := c.fetcher.TileKey(nb, ev.f)
					if _, ok := cache.Get(nkey); ok || inflight[nkey] {
						continue
					}
					inflight[nkey] = true
					go c.fetch(results, nkey, nb, ev.f, false)
				}
			}

		case d := <-results:
			delete(inflight, d.key)
			if d.err != nil {
				// a prefetch can be the carrier for a viewport that
				// settled on its tile afterwards, so the last-requested
				// key decides whether the caller hears about the failure
				if d.key == lastRequested {
					c.emit(Update{Key: d.key, Viewport: d.vp, Err: d.err})
				} else if !d.primary {
					c.opts.Logger.Debug("prefetch failed", "key", d.key, "err", d.err)
				}
				continue
			}
			cache.Add(d.key, d.res)
			// last-requested-key wins regardless of arrival order
			if d.key == lastRequested {
				c.emit(Update{Key: d.key, Viewport: d.vp, Result: d.res})
			}
		}
	}
}

func (c *Coordinator) fetch(results chan<- fetchDone, key string, v model.Viewport, f model.Filters, primary bool) {
	res, err := c.fetcher.FetchTile(c.ctx, v, f)
	select {
	case results <- fetchDone{key: key, vp: v, res: res, err: err, primary: primary}:
	case <-c.done:
	}
}

func (c *Coordinator) emit(u Update) {
	select {
	case c.updates <- u:
	case <-c.done:
	}
}

// Neighbors returns the eight viewports adjacent to v at the same zoom,
// sized to v's span and clamped to lng [-180,180], lat [-85,85]. Tiles that
// collapse entirely past a pole or the antimeridian are dropped.
func Neighbors(v model.Viewport) []model.Viewport {
	w := v.MaxLng - v.MinLng
	h := v.MaxLat - v.MinLat

	var out []model.Viewport
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			if dx == 0 && dy == 0 {
				continue
			}
			nb := model.Viewport{
				MinLng: clamp(v.MinLng+float64(dx)*w, -180, 180),
				MaxLng: clamp(v.MaxLng+float64(dx)*w, -180, 180),
				MinLat: clamp(v.MinLat+float64(dy)*h, -85, 85),
				MaxLat: clamp(v.MaxLat+float64(dy)*h, -85, 85),
				Zoom:   v.Zoom,
			}
			if nb.MinLng >= nb.MaxLng || nb.MinLat >= nb.MaxLat {
				continue
			}
			out = append(out, nb)
		}
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
