// Package segment runs the click-to-polygon pipeline.
package segment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strconv"
	"time"

	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/farm-segmentation/internal/assemble"
	"github.com/mohammed-shakir/farm-segmentation/internal/cache/keys"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/model"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/observability"
	"github.com/mohammed-shakir/farm-segmentation/internal/geo"
	"github.com/mohammed-shakir/farm-segmentation/internal/logger"
	"github.com/mohammed-shakir/farm-segmentation/internal/mapper"
	"github.com/mohammed-shakir/farm-segmentation/internal/oracle"
	"github.com/mohammed-shakir/farm-segmentation/internal/polygon"
	"github.com/mohammed-shakir/farm-segmentation/internal/segevents"
	"github.com/mohammed-shakir/farm-segmentation/internal/selector"
	"github.com/mohammed-shakir/farm-segmentation/internal/tiles"
)

type TileFetcher interface {
	tiles.Interface
	HasKey() bool
}

type OracleSource interface {
	Get(ctx context.Context, checkpoint string) (oracle.Oracle, error)
}

type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, val []byte)
}

type EventPublisher interface {
	Publish(ctx context.Context, ev segevents.Event)
}

type Options struct {
	Checkpoint string
	ModelType  string
	Zoom       int
	SizePx     int
	Thresholds selector.Thresholds
	// H3Res is the resolution of the clicked cell.
	H3Res int
	// EventCellsRes is the resolution used to cover the polygon in events.
	EventCellsRes int
}

type Service struct {
	logger  *slog.Logger
	fetcher TileFetcher
	oracles OracleSource
	mapper  mapper.Interface
	cache   ResultCache
	events  EventPublisher
	opts    Options
}

type Option func(*Service)

// WithCache enables result caching; a nil cache is ignored.
func WithCache(c ResultCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithEvents publishes every successful segmentation.
func WithEvents(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

func New(logger *slog.Logger, fetcher TileFetcher, oracles OracleSource, m mapper.Interface, opts Options, extra ...Option) *Service {
	s := &Service{
		logger:  logger,
		fetcher: fetcher,
		oracles: oracles,
		mapper:  m,
		opts:    opts,
	}
	for _, o := range extra {
		o(s)
	}
	return s
}

func (s *Service) Checkpoint() string { return s.opts.Checkpoint }

// Segment returns the farm polygon under p as a feature collection with zero
// or one feature.
func (s *Service) Segment(ctx context.Context, p model.GeoPoint) (*geojson.FeatureCollection, error) {
	total := time.Now()
	if err := p.Validate(); err != nil {
		return nil, &ValidationError{Err: err}
	}
	if !s.fetcher.HasKey() {
		return nil, &ConfigurationError{Reason: "GOOGLE_MAPS_API_KEY is not set"}
	}
	if s.opts.Checkpoint == "" {
		return nil, &ConfigurationError{Reason: "no oracle checkpoint configured"}
	}
	ctx = logger.WithCheckpoint(ctx, s.opts.Checkpoint)

	tr := model.TileRequest{Center: p, Zoom: s.opts.Zoom, SizePx: s.opts.SizePx}

	cell, err := s.mapper.CellForPoint(p, s.opts.H3Res)
	if err != nil {
		s.logger.WarnContext(ctx, "h3 cell lookup failed", "err", err)
	}

	var cacheKey string
	if s.cache != nil && cell != "" {
		cacheKey = keys.Key(s.opts.Checkpoint, tr.Zoom, tr.SizePx, cell, s.fingerprint())
		if b, ok := s.cache.Get(ctx, cacheKey); ok {
			fc, err := geojson.UnmarshalFeatureCollection(b)
			if err == nil {
				s.logger.DebugContext(ctx, "result cache hit", "key", cacheKey)
				return fc, nil
			}
			s.logger.WarnContext(ctx, "discarding unreadable cached result", "key", cacheKey, "err", err)
		}
	}

	var (
		img image.Image
		orc oracle.Oracle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		start := time.Now()
		defer func() { observability.ObserveStage("fetch", time.Since(start).Seconds()) }()
		var err error
		img, err = s.fetcher.Fetch(gctx, tr)
		if errors.Is(err, tiles.ErrNoAPIKey) {
			return &ConfigurationError{Reason: err.Error()}
		}
		if err != nil {
			return fmt.Errorf("fetch tile: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		start := time.Now()
		defer func() { observability.ObserveStage("oracle_get", time.Since(start).Seconds()) }()
		var err error
		orc, err = s.oracles.Get(gctx, s.opts.Checkpoint)
		if err != nil {
			return fmt.Errorf("get oracle: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	prompt := tr.Prompt()
	start := time.Now()
	masks, err := orc.Predict(ctx, img, prompt)
	observability.ObserveStage("predict", time.Since(start).Seconds())
	if err != nil {
		return nil, &PredictError{Err: err}
	}

	start = time.Now()
	sel, ok := selector.Select(ctx, s.logger, s.opts.Thresholds, masks, prompt, tr.SizePx)
	observability.ObserveStage("select", time.Since(start).Seconds())
	if !ok {
		return nil, &PredictError{Err: oracle.ErrNoMasks}
	}
	ctx = logger.WithSelection(ctx, sel.Outcome)

	bbox := geo.TileBBox(tr)
	start = time.Now()
	polys := polygon.Extract(ctx, s.logger, sel.Mask, bbox)
	observability.ObserveStage("extract", time.Since(start).Seconds())

	fc := assemble.FeatureCollection(polys, assemble.Meta{
		Confidence: sel.Mask.Score,
		Selection:  sel.Outcome,
		H3Cell:     cell,
	})

	var area *float64
	if len(polys) > 0 {
		area = polys[0].AreaM2
	}
	s.logger.InfoContext(ctx, "segmentation done",
		"point", p.String(),
		"bbox", bbox.String(),
		"mask", sel.Index,
		"score", sel.Mask.Score,
		"polygons", len(polys),
		"area_m2", area,
		"m_per_px", geo.MetersPerPixel(p.Lat, tr.Zoom),
		"duration", time.Since(total).String())

	if cacheKey != "" {
		if b, err := json.Marshal(fc); err != nil {
			s.logger.WarnContext(ctx, "result not cached", "err", err)
		} else {
			s.cache.Put(ctx, cacheKey, b)
		}
	}
	if s.events != nil {
		s.events.Publish(ctx, s.event(ctx, p, cell, polys, sel))
	}

	observability.ObserveStage("total", time.Since(total).Seconds())
	return fc, nil
}

func (s *Service) event(ctx context.Context, p model.GeoPoint, cell string, polys []polygon.Polygon, sel selector.Result) segevents.Event {
	ev := segevents.Event{
		Lat:        p.Lat,
		Lon:        p.Lon,
		H3Cell:     cell,
		Selection:  sel.Outcome,
		Confidence: sel.Mask.Score,
		Checkpoint: s.opts.Checkpoint,
	}
	if len(polys) > 0 {
		ev.AreaM2 = polys[0].AreaM2
		cells, err := s.mapper.CellsForPolygon(polys[0].Geometry, s.opts.EventCellsRes)
		if err != nil {
			s.logger.WarnContext(ctx, "event cell cover failed", "err", err)
		}
		ev.Cells = cells
	}
	return ev
}

// fingerprint covers the settings that change the result for a click.
func (s *Service) fingerprint() string {
	th := s.opts.Thresholds
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return "model=" + s.opts.ModelType +
		" min=" + f(th.MinAreaRatio) +
		" max=" + f(th.MaxAreaRatio) +
		" peak=" + f(th.AreaPeak) +
		" w=" + f(th.ConfidenceWeight)
}
