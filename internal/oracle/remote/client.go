// Package remote is an oracle backend served by an out-of-process inference
// server over HTTP/JSON.
package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/mohammed-shakir/farm-segmentation/internal/core/model"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/observability"
	"github.com/mohammed-shakir/farm-segmentation/internal/oracle"
)

const expectedMasks = 3

type loadRequest struct {
	Checkpoint string `json:"checkpoint"`
	ModelType  string `json:"model_type"`
}

type loadResponse struct {
	Model  string `json:"model"`
	Device string `json:"device"`
}

type predictRequest struct {
	Model           string   `json:"model"`
	Image           string   `json:"image"`
	PointCoords     [][2]int `json:"point_coords"`
	PointLabels     []int    `json:"point_labels"`
	MultimaskOutput bool     `json:"multimask_output"`
}

type wireMask struct {
	Score  float64 `json:"score"`
	Size   [2]int  `json:"size"` // [height, width]
	Counts []int   `json:"counts"`
}

type predictResponse struct {
	Masks []wireMask `json:"masks"`
}

// StatusError is a non-2xx answer from the inference server.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: inference server status %d: %s", e.Op, e.Status, e.Body)
}

// Loader loads checkpoints on the inference server. It satisfies
// oracle.Loader.
type Loader struct {
	logger    *slog.Logger
	client    *http.Client
	baseURL   *url.URL
	modelType string
}

func NewLoader(logger *slog.Logger, client *http.Client, baseURL, modelType string) (*Loader, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse oracle url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("oracle url %q must be absolute", baseURL)
	}
	return &Loader{logger: logger, client: client, baseURL: u, modelType: modelType}, nil
}

func (l *Loader) Load(ctx context.Context, checkpoint string) (oracle.Oracle, error) {
	var out loadResponse
	if err := l.post(ctx, "load", "/v1/models", loadRequest{Checkpoint: checkpoint, ModelType: l.modelType}, &out); err != nil {
		return nil, err
	}
	if out.Model == "" {
		return nil, errors.New("load: inference server returned no model id")
	}
	l.logger.Info("oracle model loaded", "checkpoint", checkpoint, "model", out.Model, "device", out.Device)
	return &Model{loader: l, id: out.Model, device: out.Device}, nil
}

// Model is a loaded checkpoint on the inference server.
type Model struct {
	loader *Loader
	id     string
	device string
}

func (m *Model) ID() string     { return m.id }
func (m *Model) Device() string { return m.device }

func (m *Model) Predict(ctx context.Context, img image.Image, prompt model.PixelPoint) ([]oracle.Mask, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode image: %w", err)
	}
	req := predictRequest{
		Model:           m.id,
		Image:           base64.StdEncoding.EncodeToString(buf.Bytes()),
		PointCoords:     [][2]int{{prompt.X, prompt.Y}},
		PointLabels:     []int{1},
		MultimaskOutput: true,
	}

	var out predictResponse
	if err := m.loader.post(ctx, "predict", "/v1/predict", req, &out); err != nil {
		return nil, err
	}
	if len(out.Masks) == 0 {
		return nil, oracle.ErrNoMasks
	}
	if len(out.Masks) != expectedMasks {
		m.loader.logger.Warn("unexpected mask count", "got", len(out.Masks), "want", expectedMasks)
	}

	b := img.Bounds()
	masks := make([]oracle.Mask, 0, len(out.Masks))
	for i, wm := range out.Masks {
		h, w := wm.Size[0], wm.Size[1]
		if w != b.Dx() || h != b.Dy() {
			return nil, fmt.Errorf("mask %d is %dx%d, image is %dx%d", i, w, h, b.Dx(), b.Dy())
		}
		mk, err := DecodeRLE(w, h, wm.Counts, wm.Score)
		if err != nil {
			return nil, fmt.Errorf("mask %d: %w", i, err)
		}
		masks = append(masks, mk)
	}
	return masks, nil
}

func (l *Loader) post(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}
	u := *l.baseURL
	u.Path += path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		observability.ObserveUpstreamLatency("oracle_"+op, err, time.Since(start).Seconds())
		return fmt.Errorf("%s: do request: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		serr := &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		observability.ObserveUpstreamLatency("oracle_"+op, serr, time.Since(start).Seconds())
		return serr
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		observability.ObserveUpstreamLatency("oracle_"+op, err, time.Since(start).Seconds())
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	observability.ObserveUpstreamLatency("oracle_"+op, nil, time.Since(start).Seconds())
	return nil
}
