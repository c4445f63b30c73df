package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/casavista/listing-tile-cache/internal/clusterindex"
	"github.com/casavista/listing-tile-cache/internal/config"
	"github.com/casavista/listing-tile-cache/internal/fetcher"
	"github.com/casavista/listing-tile-cache/internal/invalidation/kafkaconsumer"
	"github.com/casavista/listing-tile-cache/internal/logger"
	"github.com/casavista/listing-tile-cache/internal/observability"
	"github.com/casavista/listing-tile-cache/internal/ratelimit"
	"github.com/casavista/listing-tile-cache/internal/server"
	"github.com/casavista/listing-tile-cache/internal/service"
	"github.com/casavista/listing-tile-cache/internal/store/postgres"
	"github.com/casavista/listing-tile-cache/internal/tilecache"
	"github.com/casavista/listing-tile-cache/internal/tilecache/redisstore"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   strings.EqualFold(os.Getenv("LOG_CONSOLE"), "true"),
		Component: "tileserver",
	}, os.Stdout)
	log := logger.NewSlog(&zl)

	observability.ExposeBuildInfo(Version)
	log.Info("starting tileserver", "addr", cfg.Addr, "version", Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.New(cfg.PostgresDSN)
	if err != nil {
		log.Error("postgres connect failed", "err", err)
		return 1
	}
	defer db.Close()
	if err := db.Ping(ctx); err != nil {
		log.Error("postgres unreachable", "err", err)
		return 1
	}

	// redis is optional: without it every tile recomputes
	redisCli, err := redisstore.New(ctx, cfg.RedisAddr)
	if err != nil {
		log.Error("redis unavailable, serving uncached", "addr", cfg.RedisAddr, "err", err)
		redisCli = nil
	} else {
		defer redisCli.Close()
	}

	cache := tilecache.New(redisCli, cfg.CacheTTLBands, cfg.CacheOpTimeout, log)
	index := tilecache.NewKeyIndex(redisCli, cfg.Invalidation.CellRes, cache.MaxTTL(), log)

	f := fetcher.New(db, log, fetcher.Config{
		Margin:            cfg.FetchMargin,
		BatchSize:         cfg.BatchSize,
		MaxBatches:        cfg.MaxBatches,
		MaxBatchesLowZoom: cfg.MaxBatchesLowZoom,
		LowZoomThreshold:  cfg.LowZoomThreshold,
	})
	engine := clusterindex.New(clusterindex.Options{
		Radius:          cfg.ClusterRadius,
		MaxClusterZoom:  cfg.MaxClusterZoom,
		MinPoints:       cfg.MinClusterPoints,
		ExpandThreshold: cfg.ExpandThreshold,
		ExpandCap:       cfg.ExpandCap,
	})
	svc := service.New(service.Config{
		KeyPrecision:          cfg.KeyPrecision,
		MaxPerTile:            cfg.MaxPerTile,
		LowZoomThreshold:      cfg.LowZoomThreshold,
		RequestTimeout:        cfg.RequestTimeout,
		RequestTimeoutLowZoom: cfg.RequestTimeoutLowZoom,
	}, cache, index, f, engine, log)

	if cfg.Invalidation.Enabled {
		if redisCli == nil {
			log.Warn("invalidation enabled but redis is down, consumer not started")
		} else {
			consumer := kafkaconsumer.New(kafkaconsumer.Config{
				Brokers: strings.Split(cfg.Invalidation.Brokers, ","),
				Topic:   cfg.Invalidation.Topic,
				GroupID: cfg.Invalidation.GroupID,
			}, log, index, cache)
			go func() {
				if err := consumer.Start(ctx); err != nil {
					log.Error("invalidation consumer stopped", "err", err)
				}
			}()
		}
	}

	limiter := ratelimit.New(cfg.RateLimitCooldown)

	if err := server.Run(ctx, server.Options{
		Addr:             cfg.Addr,
		LowZoomThreshold: cfg.LowZoomThreshold,
		DB:               db,
	}, log, svc, limiter); err != nil {
		log.Error("server exited", "err", err)
		return 1
	}
	return 0
}
