package segment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/farm-segmentation/internal/assemble"
	"github.com/mohammed-shakir/farm-segmentation/internal/cache/resultstore"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/model"
	"github.com/mohammed-shakir/farm-segmentation/internal/geo"
	"github.com/mohammed-shakir/farm-segmentation/internal/logger"
	h3mapper "github.com/mohammed-shakir/farm-segmentation/internal/mapper/h3"
	"github.com/mohammed-shakir/farm-segmentation/internal/oracle"
	"github.com/mohammed-shakir/farm-segmentation/internal/segevents"
	"github.com/mohammed-shakir/farm-segmentation/internal/selector"
	"github.com/mohammed-shakir/farm-segmentation/internal/tiles"
)

const tilePx = 640

type fakeFetcher struct {
	noKey bool
	err   error
	calls atomic.Int32
}

func (f *fakeFetcher) HasKey() bool { return !f.noKey }

func (f *fakeFetcher) Fetch(_ context.Context, t model.TileRequest) (image.Image, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return imaging.New(t.SizePx, t.SizePx, color.NRGBA{G: 100, A: 255}), nil
}

type fakeOracle struct {
	masks []oracle.Mask
	err   error
	calls atomic.Int32
}

func (o *fakeOracle) Predict(_ context.Context, img image.Image, prompt model.PixelPoint) ([]oracle.Mask, error) {
	o.calls.Add(1)
	if b := img.Bounds(); b.Dx() != tilePx || prompt != (model.PixelPoint{X: tilePx / 2, Y: tilePx / 2}) {
		return nil, errors.New("unexpected image or prompt")
	}
	return o.masks, o.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []segevents.Event
}

func (r *recordingPublisher) Publish(_ context.Context, ev segevents.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

// square fills a centered side x side block of a tilePx mask.
func square(side int, score float64) oracle.Mask {
	m := oracle.NewMask(tilePx, tilePx, score)
	lo := (tilePx - side) / 2
	for y := lo; y < lo+side; y++ {
		for x := lo; x < lo+side; x++ {
			m.Set(x, y, true)
		}
	}
	return m
}

func newService(f *fakeFetcher, o oracle.Oracle, loadErr error, extra ...Option) *Service {
	reg := oracle.NewRegistry(logger.Discard(), oracle.LoaderFunc(func(context.Context, string) (oracle.Oracle, error) {
		if loadErr != nil {
			return nil, loadErr
		}
		return o, nil
	}))
	return New(logger.Discard(), f, reg, h3mapper.New(), Options{
		Checkpoint:    "sam_vit_h.pth",
		ModelType:     "vit_h",
		Zoom:          19,
		SizePx:        tilePx,
		Thresholds:    selector.DefaultThresholds(),
		H3Res:         15,
		EventCellsRes: 12,
	}, extra...)
}

func props(t *testing.T, fc *geojson.FeatureCollection) geojson.Properties {
	t.Helper()
	if len(fc.Features) != 1 {
		t.Fatalf("features=%d want 1", len(fc.Features))
	}
	return fc.Features[0].Properties
}

func TestSegment_QuarterTileSquare(t *testing.T) {
	orc := &fakeOracle{masks: []oracle.Mask{
		square(64, 0.95),  // 1%
		square(320, 0.9),  // 25%
		square(600, 0.97), // 88%, too large
	}}
	svc := newService(&fakeFetcher{}, orc, nil)

	p := model.GeoPoint{Lat: 0.0005, Lon: 36.8}
	fc, err := svc.Segment(context.Background(), p)
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	pr := props(t, fc)
	if pr["selection"] != selector.OutcomeScored || pr["confidence"] != 0.9 {
		t.Fatalf("properties=%v", pr)
	}
	if cell, _ := pr["h3_cell"].(string); len(cell) != 15 {
		t.Fatalf("h3_cell=%v", pr["h3_cell"])
	}

	area, ok := assemble.AreaM2(fc)
	if !ok {
		t.Fatalf("area missing: %v", pr)
	}
	half := 0.5 * geo.TileSideMeters(model.TileRequest{Center: p, Zoom: 19, SizePx: tilePx})
	if rel := math.Abs(area-half*half) / (half * half); rel > 0.10 {
		t.Fatalf("area=%f want ~%f", area, half*half)
	}

	crs, _ := fc.ExtraMembers["crs"].(map[string]any)
	if crs == nil {
		t.Fatalf("crs member missing: %v", fc.ExtraMembers)
	}
}

func TestSegment_AllOversizedFallsBackToHighestScore(t *testing.T) {
	orc := &fakeOracle{masks: []oracle.Mask{
		square(600, 0.71),
		square(620, 0.88),
		square(610, 0.80),
	}}
	svc := newService(&fakeFetcher{}, orc, nil)

	fc, err := svc.Segment(context.Background(), model.GeoPoint{Lat: 19.54841, Lon: 74.188663})
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	pr := props(t, fc)
	if pr["selection"] != selector.OutcomeFallback || pr["confidence"] != 0.88 {
		t.Fatalf("properties=%v", pr)
	}
}

func TestSegment_EmptyMaskYieldsEmptyCollection(t *testing.T) {
	orc := &fakeOracle{masks: []oracle.Mask{oracle.NewMask(tilePx, tilePx, 0.2)}}
	svc := newService(&fakeFetcher{}, orc, nil)

	fc, err := svc.Segment(context.Background(), model.GeoPoint{Lat: 10, Lon: 10})
	if err != nil {
		t.Fatalf("segment: %v", err)
	}
	if len(fc.Features) != 0 {
		t.Fatalf("features=%d want 0", len(fc.Features))
	}
}

func TestSegment_MissingKeyIsConfigurationError(t *testing.T) {
	f := &fakeFetcher{noKey: true}
	svc := newService(f, &fakeOracle{}, nil)

	_, err := svc.Segment(context.Background(), model.GeoPoint{Lat: 10, Lon: 10})
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Fatalf("want *ConfigurationError, got %T %v", err, err)
	}
	if f.calls.Load() != 0 {
		t.Fatalf("fetcher should not be called without a key")
	}
}

func TestSegment_InvalidPoint(t *testing.T) {
	svc := newService(&fakeFetcher{}, &fakeOracle{}, nil)
	for _, p := range []model.GeoPoint{{Lat: 90, Lon: 0}, {Lat: 0, Lon: 181}, {Lat: math.NaN(), Lon: 0}} {
		_, err := svc.Segment(context.Background(), p)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("%v: want *ValidationError, got %v", p, err)
		}
	}
}

func TestSegment_FetchErrorSurfaces(t *testing.T) {
	f := &fakeFetcher{err: &tiles.FetchError{Status: http.StatusForbidden, Body: "denied"}}
	svc := newService(f, &fakeOracle{}, nil)

	_, err := svc.Segment(context.Background(), model.GeoPoint{Lat: 10, Lon: 10})
	var fe *tiles.FetchError
	if !errors.As(err, &fe) || fe.Status != http.StatusForbidden {
		t.Fatalf("want *tiles.FetchError 403, got %v", err)
	}
}

func TestSegment_OracleInitErrorIsSticky(t *testing.T) {
	orc := &fakeOracle{}
	svc := newService(&fakeFetcher{}, orc, errors.New("checkpoint unreadable"))

	for range 2 {
		_, err := svc.Segment(context.Background(), model.GeoPoint{Lat: 10, Lon: 10})
		var ie *oracle.InitError
		if !errors.As(err, &ie) {
			t.Fatalf("want *oracle.InitError, got %T %v", err, err)
		}
	}
	if orc.calls.Load() != 0 {
		t.Fatalf("predict must not run without an oracle")
	}
}

func TestSegment_PredictFailure(t *testing.T) {
	svc := newService(&fakeFetcher{}, &fakeOracle{err: errors.New("cuda oom")}, nil)
	_, err := svc.Segment(context.Background(), model.GeoPoint{Lat: 10, Lon: 10})
	var pe *PredictError
	if !errors.As(err, &pe) {
		t.Fatalf("want *PredictError, got %v", err)
	}

	svc = newService(&fakeFetcher{}, &fakeOracle{}, nil)
	_, err = svc.Segment(context.Background(), model.GeoPoint{Lat: 10, Lon: 10})
	if !errors.As(err, &pe) || !errors.Is(err, oracle.ErrNoMasks) {
		t.Fatalf("empty mask list: want PredictError(ErrNoMasks), got %v", err)
	}
}

func TestSegment_CacheServesRepeatClicks(t *testing.T) {
	orc := &fakeOracle{masks: []oracle.Mask{square(320, 0.9)}}
	f := &fakeFetcher{}
	store := resultstore.New(logger.Discard(), 16, time.Minute, 0, nil)
	svc := newService(f, orc, nil, WithCache(store))

	p := model.GeoPoint{Lat: 19.54841, Lon: 74.188663}
	first, err := svc.Segment(context.Background(), p)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := svc.Segment(context.Background(), p)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if orc.calls.Load() != 1 || f.calls.Load() != 1 {
		t.Fatalf("second click should be cached: predict=%d fetch=%d", orc.calls.Load(), f.calls.Load())
	}
	a1, _ := assemble.AreaM2(first)
	a2, _ := assemble.AreaM2(second)
	if a1 != a2 || props(t, second)["selection"] != selector.OutcomeScored {
		t.Fatalf("cached result differs: %v vs %v", a1, a2)
	}
}

func TestSegment_PublishesEvent(t *testing.T) {
	pub := &recordingPublisher{}
	svc := newService(&fakeFetcher{}, &fakeOracle{masks: []oracle.Mask{square(320, 0.9)}}, nil, WithEvents(pub))

	if _, err := svc.Segment(context.Background(), model.GeoPoint{Lat: 19.54841, Lon: 74.188663}); err != nil {
		t.Fatalf("segment: %v", err)
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) != 1 {
		t.Fatalf("events=%d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.AreaM2 == nil || ev.Selection != selector.OutcomeScored || ev.Checkpoint != "sam_vit_h.pth" || ev.H3Cell == "" {
		t.Fatalf("event=%+v", ev)
	}
	// a ~9000 m2 square covers several res-12 cells
	if len(ev.Cells) == 0 {
		t.Fatalf("event should carry covering cells")
	}
}

func TestSegment_LogsTileBBox(t *testing.T) {
	var buf bytes.Buffer
	svc := newService(&fakeFetcher{}, &fakeOracle{masks: []oracle.Mask{square(320, 0.9)}}, nil)
	svc.logger = slog.New(slog.NewJSONHandler(&buf, nil))

	p := model.GeoPoint{Lat: 19.5, Lon: 74.2}
	if _, err := svc.Segment(context.Background(), p); err != nil {
		t.Fatalf("segment: %v", err)
	}

	want := geo.TileBBox(model.TileRequest{Center: p, Zoom: 19, SizePx: tilePx}).String()
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			t.Fatalf("decode log: %v", err)
		}
		if rec["msg"] == "segmentation done" {
			if rec["bbox"] != want {
				t.Fatalf("bbox=%v want %s", rec["bbox"], want)
			}
			return
		}
	}
	t.Fatalf("no completion log line")
}
