// Package tiles downloads satellite tiles from the static maps provider.
package tiles

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/stat"

	"github.com/mohammed-shakir/farm-segmentation/internal/core/model"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/observability"
)

// Uniform tiles (clouds, missing imagery) fall below this luminance std.
const lowContrastStd = 5.0

// ErrNoAPIKey is returned when the fetcher has no key to sign requests with.
var ErrNoAPIKey = errors.New("maps api key not configured")

type Interface interface {
	Fetch(ctx context.Context, t model.TileRequest) (image.Image, error)
}

// FetchError describes a failed tile download. Status is zero for
// transport failures.
type FetchError struct {
	Status int
	Body   string
	Err    error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("tile fetch: upstream status %d: %s", e.Status, e.Body)
	case e.Err != nil:
		return "tile fetch: " + e.Err.Error()
	default:
		return "tile fetch failed"
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

type Fetcher struct {
	logger   *slog.Logger
	client   *http.Client
	baseURL  *url.URL
	apiKey   string
	startNow func() time.Time // for tests
}

func New(logger *slog.Logger, client *http.Client, baseURL, apiKey string) (*Fetcher, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse maps url: %w", err)
	}
	return &Fetcher{
		logger:   logger,
		client:   client,
		baseURL:  u,
		apiKey:   apiKey,
		startNow: time.Now,
	}, nil
}

// HasKey reports whether requests can be signed.
func (f *Fetcher) HasKey() bool { return f.apiKey != "" }

// BuildParams returns the static maps query for t.
func BuildParams(t model.TileRequest, apiKey string) url.Values {
	size := strconv.Itoa(t.SizePx)
	p := url.Values{}
	p.Set("center", strconv.FormatFloat(t.Center.Lat, 'f', -1, 64)+","+strconv.FormatFloat(t.Center.Lon, 'f', -1, 64))
	p.Set("zoom", strconv.Itoa(t.Zoom))
	p.Set("size", size+"x"+size)
	p.Set("maptype", "satellite")
	p.Set("scale", "1")
	p.Set("key", apiKey)
	return p
}

// Fetch downloads one tile and returns it as an SizePx x SizePx image.
func (f *Fetcher) Fetch(ctx context.Context, t model.TileRequest) (image.Image, error) {
	if f.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	u := *f.baseURL
	u.RawQuery = BuildParams(t, f.apiKey).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	start := f.startNow()
	resp, err := f.client.Do(req)
	dur := time.Since(start)
	if err != nil {
		observability.ObserveUpstreamLatency("maps", err, dur.Seconds())
		return nil, &FetchError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		observability.ObserveUpstreamLatency("maps", errors.New("status"), dur.Seconds())
		return nil, &FetchError{Status: resp.StatusCode, Body: string(b)}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.ObserveUpstreamLatency("maps", err, dur.Seconds())
		return nil, &FetchError{Err: fmt.Errorf("read body: %w", err)}
	}
	observability.ObserveUpstreamLatency("maps", nil, time.Since(start).Seconds())

	img, err := imaging.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, &FetchError{Status: resp.StatusCode, Err: fmt.Errorf("decode tile: %w", err)}
	}

	if bnd := img.Bounds(); bnd.Dx() != t.SizePx || bnd.Dy() != t.SizePx {
		f.logger.Warn("tile size mismatch, resizing",
			"got", fmt.Sprintf("%dx%d", bnd.Dx(), bnd.Dy()),
			"want", t.SizePx)
		img = imaging.Resize(img, t.SizePx, t.SizePx, imaging.Lanczos)
	}

	mean, std := LuminanceStats(img)
	f.logger.Debug("tile fetched",
		"center", t.Center.String(),
		"zoom", t.Zoom,
		"bytes", len(b),
		"mean", mean,
		"std", std,
		"duration", dur.String())
	if std < lowContrastStd {
		f.logger.Warn("tile looks blank or uniform", "center", t.Center.String(), "std", std)
	}
	return img, nil
}

// LuminanceStats returns the mean and standard deviation of Rec. 601 luma
// over all pixels, on a 0-255 scale.
func LuminanceStats(img image.Image) (mean, std float64) {
	b := img.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0, 0
	}
	ys := make([]float64, 0, n)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			ys = append(ys, (0.299*float64(r)+0.587*float64(g)+0.114*float64(bl))/257)
		}
	}
	if n == 1 {
		return ys[0], 0
	}
	return stat.MeanStdDev(ys, nil)
}
