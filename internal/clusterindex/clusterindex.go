// Package clusterindex builds a zoom-aware spatial index over fetched
// listings and produces merged clusters or individual markers for a viewport.
// The index is built fresh for every request, so nothing here needs locking;
// the dataset per tile is bounded by the fetcher's batch budget.
package clusterindex

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/casavista/listing-tile-cache/internal/model"
)

type Options struct {
	// Radius is the pixel radius (at the Extent reference tile size)
	// within which points merge into one cluster.
	Radius float64
	// Extent is the reference tile size in pixels.
	Extent int
	// MaxClusterZoom is the zoom at or above which clustering stops and
	// individual markers are returned.
	MaxClusterZoom int
	// MinPoints is the minimum member count to form a cluster; smaller
	// groups stay individual markers even below MaxClusterZoom.
	MinPoints int
	// ExpandThreshold and ExpandCap control the small-cluster leaf
	// expansion that feeds the paired list view.
	ExpandThreshold int
	ExpandCap       int
}

func (o Options) withDefaults() Options {
	if o.Radius <= 0 {
		o.Radius = 60
	}
	if o.Extent <= 0 {
		o.Extent = 256
	}
	if o.MaxClusterZoom <= 0 {
		o.MaxClusterZoom = 15
	}
	if o.MinPoints <= 0 {
		o.MinPoints = 2
	}
	if o.ExpandThreshold <= 0 {
		o.ExpandThreshold = 30
	}
	if o.ExpandCap <= 0 {
		o.ExpandCap = 300
	}
	return o
}

type Engine struct {
	opts Options
}

func New(opts Options) *Engine {
	return &Engine{opts: opts.withDefaults()}
}

// Result is the engine output for one tile. In marker mode Points holds
// every visible listing; in cluster mode it holds solitary markers plus the
// expanded leaves of small clusters.
type Result struct {
	Clusters   []model.Cluster
	Points     []model.Point
	TotalCount int
}

// Cluster computes the features visible in the viewport at its zoom. The
// input points may extend past the viewport (fetch margin); they contribute
// to edge clusters but only features positioned inside the box are returned.
func (e *Engine) Cluster(points []model.Point, v model.Viewport) Result {
	if v.Zoom >= e.opts.MaxClusterZoom {
		return e.markers(points, v)
	}
	return e.clusterAt(points, v, v.Zoom, true)
}

// Degrade re-clusters for an overloaded marker-mode tile, capping the zoom
// below MaxClusterZoom so the response still carries a usable cluster layer.
func (e *Engine) Degrade(points []model.Point, v model.Viewport) []model.Cluster {
	zoom := v.Zoom
	if zoom >= e.opts.MaxClusterZoom {
		zoom = e.opts.MaxClusterZoom - 1
	}
	res := e.clusterAt(points, v, zoom, false)
	return res.Clusters
}

func (e *Engine) markers(points []model.Point, v model.Viewport) Result {
	var out Result
	for _, p := range points {
		if v.Contains(p.Lng, p.Lat) {
			out.Points = append(out.Points, p)
		}
	}
	out.TotalCount = len(out.Points)
	return out
}

type projected struct {
	px, py float64
	idx    int
}

func (e *Engine) clusterAt(points []model.Point, v model.Viewport, zoom int, expand bool) Result {
	var out Result

	scale := float64(e.opts.Extent) * math.Pow(2, float64(zoom))
	proj := make([]projected, len(points))
	for i, p := range points {
		x, y := project(p.Lng, p.Lat)
		proj[i] = projected{px: x * scale, py: y * scale, idx: i}
	}

	// Grid buckets sized to the merge radius: all neighbors within Radius
	// of a point live in its own or one of the eight surrounding cells.
	r := e.opts.Radius
	type cell struct{ cx, cy int }
	grid := make(map[cell][]int, len(points))
	for i, pp := range proj {
		c := cell{int(math.Floor(pp.px / r)), int(math.Floor(pp.py / r))}
		grid[c] = append(grid[c], i)
	}

	processed := make([]bool, len(points))
	expandBudget := e.opts.ExpandCap
	seenIDs := make(map[int64]struct{})

	appendPoint := func(p model.Point) bool {
		if _, ok := seenIDs[p.ID]; ok {
			return false
		}
		seenIDs[p.ID] = struct{}{}
		out.Points = append(out.Points, p)
		return true
	}

	for i := range proj {
		if processed[i] {
			continue
		}
		seed := proj[i]
		c := cell{int(math.Floor(seed.px / r)), int(math.Floor(seed.py / r))}

		group := []int{i}
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				for _, j := range grid[cell{c.cx + dx, c.cy + dy}] {
					if j == i || processed[j] {
						continue
					}
					ddx := proj[j].px - seed.px
					ddy := proj[j].py - seed.py
					if ddx*ddx+ddy*ddy <= r*r {
						group = append(group, j)
					}
				}
			}
		}

		if len(group) < e.opts.MinPoints {
			// Solitary marker; neighbors stay available for other seeds.
			processed[i] = true
			p := points[i]
			if v.Contains(p.Lng, p.Lat) {
				out.TotalCount++
				appendPoint(p)
			}
			continue
		}

		var sumLat, sumLng, sumPrice float64
		visibleMembers := 0
		for _, j := range group {
			processed[j] = true
			p := points[j]
			sumLat += p.Lat
			sumLng += p.Lng
			sumPrice += p.Price
			if v.Contains(p.Lng, p.Lat) {
				visibleMembers++
			}
		}
		n := float64(len(group))
		cl := model.Cluster{
			Lat:      sumLat / n,
			Lng:      sumLng / n,
			Count:    len(group),
			AvgPrice: sumPrice / n,
		}
		cl.ID = ClusterID(cl.Lat, cl.Lng, zoom)

		if !v.Contains(cl.Lng, cl.Lat) {
			// Edge cluster centered outside the tile; its visible members
			// still count toward the tile's total.
			out.TotalCount += visibleMembers
			continue
		}
		out.TotalCount += visibleMembers
		out.Clusters = append(out.Clusters, cl)

		if expand && cl.Count <= e.opts.ExpandThreshold && expandBudget > 0 {
			for _, j := range group {
				if expandBudget == 0 {
					break
				}
				// already-listed members must not consume the budget
				if appendPoint(points[j]) {
					expandBudget--
				}
			}
		}
	}

	return out
}

// ClusterID derives a stable identifier from the rounded centroid and zoom,
// so repeated requests for the same tile never jitter cluster identities.
func ClusterID(lat, lng float64, zoom int) string {
	key := fmt.Sprintf("%.6f,%.6f,%d", roundTo(lat, 6), roundTo(lng, 6), zoom)
	return fmt.Sprintf("c%016x", xxhash.Sum64String(key))
}

func roundTo(x float64, decimals int) float64 {
	s := math.Pow10(decimals)
	return math.Round(x*s) / s
}

// project maps lng/lat to normalized web-mercator [0,1) coordinates.
func project(lng, lat float64) (x, y float64) {
	sin := math.Sin(lat * math.Pi / 180)
	x = lng/360 + 0.5
	y = 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	if y < 0 {
		y = 0
	}
	if y > 1 {
		y = 1
	}
	return x, y
}
