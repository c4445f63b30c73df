// Package server exposes the tile pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/casavista/listing-tile-cache/internal/model"
	"github.com/casavista/listing-tile-cache/internal/ratelimit"
)

// TileService is the pipeline seam the HTTP layer calls into.
type TileService interface {
	GetTile(ctx context.Context, v model.Viewport, f model.Filters) (*model.TileResult, error)
	TileKey(v model.Viewport, f model.Filters) string
}

type Options struct {
	Addr             string
	LowZoomThreshold int
	DB               Pinger
}

// Run serves until ctx is canceled. limiter may be nil to disable per-IP
// sequencing.
func Run(ctx context.Context, opts Options, logger *slog.Logger, svc TileService, limiter *ratelimit.Limiter) error {
	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           NewRouter(opts, logger, svc, limiter),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", opts.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// NewRouter assembles middleware and routes; split from Run so tests can
// serve the full stack with httptest.
func NewRouter(opts Options, logger *slog.Logger, svc TileService, limiter *ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(Recover(logger))
	r.Use(RequestID())
	r.Use(Logging(logger))
	r.Use(CORS())

	r.Get("/healthz", Liveness())
	r.Get("/readyz", Readiness(opts.DB))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/tiles", HandleTiles(logger, svc, limiter, opts.LowZoomThreshold))
	return r
}

// HandleTiles parses, rate-limits and serves one tile request.
func HandleTiles(logger *slog.Logger, svc TileService, limiter *ratelimit.Limiter, lowZoomThreshold int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vp, f, err := ParseTileRequest(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		kind := ratelimit.RequestTile
		if vp.Zoom < lowZoomThreshold {
			kind = ratelimit.RequestWide
		}
		permit, err := limiter.Acquire(r.Context(), clientIP(r), kind)
		if err != nil {
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		defer permit.Release()

		res, err := svc.GetTile(r.Context(), vp, f)
		if err != nil {
			status := http.StatusInternalServerError
			switch {
			case errors.Is(err, model.ErrInvalidViewport):
				status = http.StatusBadRequest
			case errors.Is(err, model.ErrRetrievalTimeout):
				status = http.StatusGatewayTimeout
			case errors.Is(err, model.ErrRetrievalFailed):
				status = http.StatusBadGateway
			}
			if status == http.StatusInternalServerError {
				logger.Error("tile request failed", "key", svc.TileKey(vp, f), "err", err)
			}
			writeError(w, status, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-Tile-Key", svc.TileKey(vp, f))
		if err := json.NewEncoder(w).Encode(res); err != nil {
			logger.Warn("tile response write failed", "err", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
