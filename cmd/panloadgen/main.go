// panloadgen drives a running tileserver the way map clients do: each
// session starts at a random city viewport, then pans and zooms with a
// debounced coordinator so the server sees realistic request patterns.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/casavista/listing-tile-cache/internal/coordinator"
	"github.com/casavista/listing-tile-cache/internal/model"
)

type cityBox struct {
	name     string
	lng, lat float64
}

// rough city centers to anchor sessions
var cities = []cityBox{
	{"mexico-city", -99.13, 19.43},
	{"guadalajara", -103.35, 20.67},
	{"monterrey", -100.32, 25.67},
	{"cancun", -86.85, 21.16},
	{"merida", -89.62, 20.97},
}

func viewportAt(c cityBox, zoom int, rng *rand.Rand) model.Viewport {
	span := 360 / float64(int(1)<<uint(zoom)) // one tile width in degrees
	cx := c.lng + (rng.Float64()-0.5)*span
	cy := c.lat + (rng.Float64()-0.5)*span
	return model.Viewport{
		MinLng: cx - span/2,
		MaxLng: cx + span/2,
		MinLat: cy - span/4,
		MaxLat: cy + span/4,
		Zoom:   zoom,
	}
}

func pan(v model.Viewport, rng *rand.Rand) model.Viewport {
	w := v.MaxLng - v.MinLng
	h := v.MaxLat - v.MinLat
	dx := (rng.Float64() - 0.5) * w
	dy := (rng.Float64() - 0.5) * h
	v.MinLng += dx
	v.MaxLng += dx
	v.MinLat += dy
	v.MaxLat += dy
	return v
}

func main() {
	var (
		baseURL  = flag.String("base", "http://localhost:8090", "tileserver base URL")
		sessions = flag.Int("sessions", 4, "concurrent pan sessions")
		moves    = flag.Int("moves", 20, "viewport moves per session")
		minZoom  = flag.Int("min-zoom", 9, "lowest zoom visited")
		maxZoom  = flag.Int("max-zoom", 16, "highest zoom visited")
		debounce = flag.Duration("debounce", 150*time.Millisecond, "coordinator debounce window")
		seed     = flag.Int64("seed", time.Now().UnixNano(), "rng seed")
	)
	flag.Parse()

	if *minZoom > *maxZoom || *sessions <= 0 || *moves <= 0 {
		fmt.Fprintln(os.Stderr, "invalid flags")
		os.Exit(2)
	}

	var (
		mu        sync.Mutex
		latencies []time.Duration
		errs      int
		overload  int
	)

	var wg sync.WaitGroup
	for s := 0; s < *sessions; s++ {
		wg.Add(1)
		go func(session int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(*seed + int64(session)))
			client := coordinator.NewClient(*baseURL)
			coord := coordinator.New(client, coordinator.Options{Debounce: *debounce})
			defer coord.Close()

			city := cities[rng.Intn(len(cities))]
			zoom := *minZoom + rng.Intn(*maxZoom-*minZoom+1)
			vp := viewportAt(city, zoom, rng)

			for m := 0; m < *moves; m++ {
				switch rng.Intn(4) {
				case 0:
					if zoom < *maxZoom {
						zoom++
					}
					vp = viewportAt(cityBox{city.name, (vp.MinLng + vp.MaxLng) / 2, (vp.MinLat + vp.MaxLat) / 2}, zoom, rng)
				case 1:
					if zoom > *minZoom {
						zoom--
					}
					vp = viewportAt(cityBox{city.name, (vp.MinLng + vp.MaxLng) / 2, (vp.MinLat + vp.MaxLat) / 2}, zoom, rng)
				default:
					vp = pan(vp, rng)
				}

				start := time.Now()
				coord.ViewportChanged(vp, model.Filters{})
				select {
				case u := <-coord.Updates():
					mu.Lock()
					if u.Err != nil {
						errs++
					} else {
						latencies = append(latencies, time.Since(start))
						if u.Result.HasTooManyResults {
							overload++
						}
					}
					mu.Unlock()
				case <-time.After(30 * time.Second):
					mu.Lock()
					errs++
					mu.Unlock()
				}
			}
		}(s)
	}
	wg.Wait()

	if len(latencies) == 0 {
		fmt.Println("no successful tile fetches")
		os.Exit(1)
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	pct := func(p float64) time.Duration {
		i := int(p * float64(len(latencies)-1))
		return latencies[i]
	}
	fmt.Printf("tiles ok=%d errors=%d overloaded=%d\n", len(latencies), errs, overload)
	fmt.Printf("latency p50=%v p90=%v p99=%v max=%v\n", pct(0.50), pct(0.90), pct(0.99), latencies[len(latencies)-1])
	fmt.Println("note: latencies include the debounce window")
}
