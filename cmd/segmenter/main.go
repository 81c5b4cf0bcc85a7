package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/farm-segmentation/internal/cache/redisstore"
	"github.com/mohammed-shakir/farm-segmentation/internal/cache/resultstore"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/config"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/httpclient"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/observability"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/server"
	"github.com/mohammed-shakir/farm-segmentation/internal/logger"
	h3mapper "github.com/mohammed-shakir/farm-segmentation/internal/mapper/h3"
	"github.com/mohammed-shakir/farm-segmentation/internal/metrics"
	"github.com/mohammed-shakir/farm-segmentation/internal/oracle"
	"github.com/mohammed-shakir/farm-segmentation/internal/oracle/remote"
	"github.com/mohammed-shakir/farm-segmentation/internal/segevents"
	"github.com/mohammed-shakir/farm-segmentation/internal/segment"
	"github.com/mohammed-shakir/farm-segmentation/internal/selector"
	"github.com/mohammed-shakir/farm-segmentation/internal/tiles"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "farm-segmenter",
		Component: "segmenter",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	var prov *metrics.Provider
	if cfg.MetricsEnabled {
		prov = metrics.Init(metrics.Config{
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
			Model: metrics.ModelInfo{Checkpoint: cfg.Oracle.Checkpoint, ModelType: cfg.Oracle.ModelType},
		})
		observability.Init(prov.Registerer())
	}
	observability.ExposeBuildInfo(Version)

	appLog.Info("starting segmenter",
		"addr", cfg.Addr,
		"version", Version,
		"checkpoint", cfg.Oracle.Checkpoint,
		"oracle", cfg.Oracle.URL,
		"zoom", cfg.Tile.Zoom,
		"tile_pixels", cfg.Tile.Pixels)
	if cfg.Tile.APIKey == "" {
		appLog.Warn("GOOGLE_MAPS_API_KEY is not set; /segment will answer with a configuration error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher, err := tiles.New(appLog, httpclient.NewOutbound(cfg.Tile.Timeout), cfg.Tile.BaseURL, cfg.Tile.APIKey)
	if err != nil {
		appLog.Error("tile fetcher setup failed", "err", err)
		return 1
	}

	loader, err := remote.NewLoader(appLog, httpclient.NewOutbound(cfg.Oracle.Timeout), cfg.Oracle.URL, cfg.Oracle.ModelType)
	if err != nil {
		appLog.Error("oracle backend setup failed", "err", err)
		return 1
	}
	registry := oracle.NewRegistry(appLog, loader)
	if cfg.Oracle.Warmup {
		if err := registry.Warm(ctx, cfg.Oracle.Checkpoint); err != nil {
			appLog.Error("oracle warmup failed", "checkpoint", cfg.Oracle.Checkpoint, "err", err)
			return 1
		}
	}

	var extra []segment.Option
	if cfg.ResultCache.Enabled {
		var l2 resultstore.Remote
		if cfg.ResultCache.RedisAddr != "" {
			rc, err := redisstore.New(ctx, cfg.ResultCache.RedisAddr)
			if err != nil {
				appLog.Error("redis connect failed", "addr", cfg.ResultCache.RedisAddr, "err", err)
				return 1
			}
			defer func() { _ = rc.Close() }()
			l2 = rc
		}
		store := resultstore.New(appLog, cfg.ResultCache.Size, cfg.ResultCache.TTL, cfg.ResultCache.OpTimeout, l2)
		extra = append(extra, segment.WithCache(store))
	}
	if cfg.Events.Enabled {
		pub, err := segevents.NewPublisher(appLog, cfg.Events.BrokerList(), cfg.Events.Topic, cfg.Events.Queue)
		if err != nil {
			appLog.Error("kafka producer setup failed", "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		extra = append(extra, segment.WithEvents(pub))
	}

	svc := segment.New(appLog, fetcher, registry, h3mapper.New(), segment.Options{
		Checkpoint: cfg.Oracle.Checkpoint,
		ModelType:  cfg.Oracle.ModelType,
		Zoom:       cfg.Tile.Zoom,
		SizePx:     cfg.Tile.Pixels,
		Thresholds: selector.Thresholds{
			MinAreaRatio:     cfg.Selection.MinAreaRatio,
			MaxAreaRatio:     cfg.Selection.MaxAreaRatio,
			AreaPeak:         cfg.Selection.AreaPeak,
			ConfidenceWeight: cfg.Selection.ConfidenceWeight,
		},
		H3Res:         cfg.ResultCache.H3Res,
		EventCellsRes: cfg.Events.CellsRes,
	}, extra...)

	deps := server.Deps{Segmenter: svc, Ready: registry, Version: Version}
	if prov != nil {
		deps.Metrics = prov.Handler()
	}
	if err := server.Run(ctx, cfg, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
