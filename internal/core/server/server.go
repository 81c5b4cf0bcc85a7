package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/farm-segmentation/internal/core/config"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/health"
	middleware "github.com/mohammed-shakir/farm-segmentation/internal/core/middleware"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/router"
)

// Deps are the handlers' collaborators. Metrics may be nil.
type Deps struct {
	Segmenter router.Segmenter
	Ready     health.ReadinessReporter
	Metrics   http.Handler
	Version   string
}

// NewHandler builds the chi router with every route mounted.
func NewHandler(cfg config.Config, logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/", router.Index(d.Version, cfg.Oracle.Checkpoint))
	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Ready, cfg.Oracle.Checkpoint))
	if d.Metrics != nil {
		r.Method(http.MethodGet, cfg.MetricsPath, d.Metrics)
	}

	seg := router.HandleSegment(logger, d.Segmenter)
	r.Post("/segment", seg)
	r.Get("/segment", seg)
	return r
}

// WriteTimeout covers a cold request: the tile fetch runs alongside the
// model load, then inference follows, and both oracle calls are bounded by
// ORACLE_TIMEOUT.
func WriteTimeout(cfg config.Config) time.Duration {
	return max(cfg.Tile.Timeout, cfg.Oracle.Timeout) + cfg.Oracle.Timeout + 30*time.Second
}

// sets up http and starts serving
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(cfg, logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      WriteTimeout(cfg),
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
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
