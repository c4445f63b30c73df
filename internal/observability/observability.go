// Package observability exposes Prometheus metrics for the tile service.
package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	datastoreQueryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datastore_query_duration_seconds",
			Help:    "Latency of datastore bounding-box page queries.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"outcome"},
	)

	datastorePagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datastore_pages_total",
			Help: "Number of datastore pages fetched.",
		},
	)

	cacheOpTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Cache operations by op and outcome.",
		},
		[]string{"op", "outcome"},
	)

	cacheOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Latency of cache store operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	cacheResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_cache_results_total",
			Help: "Tile cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	clusterDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cluster_duration_seconds",
			Help:    "Time spent building and querying the per-request cluster index.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
	)

	clusterOutputSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cluster_output_size",
			Help:    "Number of features produced per tile, by kind.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"kind"},
	)

	overloadDegradedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tile_overload_degraded_total",
			Help: "Tiles degraded to clusters-only by the overload guard.",
		},
	)

	invalidationEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Listing-change invalidation events by result.",
		},
		[]string{"result"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveDatastoreQuery(err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	datastoreQueryDurationSeconds.WithLabelValues(outcome).Observe(durationSeconds)
	if err == nil {
		datastorePagesTotal.Inc()
	}
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	cacheOpTotal.WithLabelValues(op, outcome).Inc()
	cacheOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncCacheHit()   { cacheResultsTotal.WithLabelValues("hit").Inc() }
func IncCacheMiss()  { cacheResultsTotal.WithLabelValues("miss").Inc() }
func IncCacheError() { cacheResultsTotal.WithLabelValues("error").Inc() }

func ObserveClustering(durationSeconds float64, clusters, markers int) {
	clusterDurationSeconds.Observe(durationSeconds)
	clusterOutputSize.WithLabelValues("clusters").Observe(float64(clusters))
	clusterOutputSize.WithLabelValues("markers").Observe(float64(markers))
}

func IncOverloadDegraded() { overloadDegradedTotal.Inc() }

func IncInvalidation(result string) {
	invalidationEventsTotal.WithLabelValues(result).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
