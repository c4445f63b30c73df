// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type InvalidationCfg struct {
	Enabled bool
	Brokers string
	Topic   string
	GroupID string
	CellRes int
}

type TTLBand struct {
	MinZoom int
	MaxZoom int
	TTL     time.Duration
}

type Config struct {
	Addr        string
	LogLevel    string
	PostgresDSN string
	RedisAddr   string

	KeyPrecision int

	FetchMargin       float64
	BatchSize         int
	MaxBatches        int
	MaxBatchesLowZoom int
	LowZoomThreshold  int

	ClusterRadius    float64
	MaxClusterZoom   int
	MinClusterPoints int
	ExpandThreshold  int
	ExpandCap        int

	MaxPerTile int

	CacheOpTimeout time.Duration
	CacheTTLBands  []TTLBand

	RequestTimeout        time.Duration
	RequestTimeoutLowZoom time.Duration

	RateLimitCooldown time.Duration

	Invalidation InvalidationCfg
}

func FromEnv() Config {
	return Config{
		Addr:        getenv("ADDR", ":8090"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		PostgresDSN: getenv("POSTGRES_DSN", "postgres://localhost:5432/listings?sslmode=disable"),
		RedisAddr:   getenv("REDIS_ADDR", "localhost:6379"),

		KeyPrecision: getint("TILE_KEY_PRECISION", 3),

		FetchMargin:       getfloat("FETCH_MARGIN_DEG", 0.5),
		BatchSize:         getint("FETCH_BATCH_SIZE", 1000),
		MaxBatches:        getint("FETCH_MAX_BATCHES", 10),
		MaxBatchesLowZoom: getint("FETCH_MAX_BATCHES_LOW_ZOOM", 50),
		LowZoomThreshold:  getint("FETCH_LOW_ZOOM_THRESHOLD", 8),

		ClusterRadius:    getfloat("CLUSTER_RADIUS_PX", 60),
		MaxClusterZoom:   getint("CLUSTER_MAX_ZOOM", 15),
		MinClusterPoints: getint("CLUSTER_MIN_POINTS", 2),
		ExpandThreshold:  getint("CLUSTER_EXPAND_THRESHOLD", 30),
		ExpandCap:        getint("CLUSTER_EXPAND_CAP", 300),

		MaxPerTile: getint("TILE_MAX_MARKERS", 1000),

		CacheOpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		CacheTTLBands:  parseTTLBands(getenv("CACHE_TTL_BANDS", "0-7=5m,8-12=2m,13-20=30s")),

		RequestTimeout:        getduration("REQUEST_TIMEOUT", 5*time.Second),
		RequestTimeoutLowZoom: getduration("REQUEST_TIMEOUT_LOW_ZOOM", 20*time.Second),

		RateLimitCooldown: getduration("RATE_LIMIT_COOLDOWN", 200*time.Millisecond),

		Invalidation: InvalidationCfg{
			Enabled: getbool("INVALIDATION_ENABLED", false),
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("KAFKA_TOPIC", "listing-changes"),
			GroupID: getenv("KAFKA_GROUP_ID", "tile-invalidator"),
			CellRes: getint("INVALIDATION_CELL_RES", 5),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parseTTLBands parses "0-7=5m,8-12=2m,13-20=30s" into zoom bands. Malformed
// entries are skipped.
func parseTTLBands(s string) []TTLBand {
	var out []TTLBand
	for p := range strings.SplitSeq(strings.TrimSpace(s), ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		zr := strings.SplitN(strings.TrimSpace(kv[0]), "-", 2)
		if len(zr) != 2 {
			continue
		}
		lo, err := strconv.Atoi(strings.TrimSpace(zr[0]))
		if err != nil {
			continue
		}
		hi, err := strconv.Atoi(strings.TrimSpace(zr[1]))
		if err != nil || hi < lo {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(kv[1]))
		if err != nil || d <= 0 {
			continue
		}
		out = append(out, TTLBand{MinZoom: lo, MaxZoom: hi, TTL: d})
	}
	return out
}
