// Package pmfby is a client for the PMFBY crop-yield prediction API.
package pmfby

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohammed-shakir/farm-segmentation/internal/core/httpclient"
	"github.com/mohammed-shakir/farm-segmentation/internal/core/observability"
)

const (
	DefaultTimeout   = 60 * time.Second
	healthTimeout    = 10 * time.Second
	thresholdTimeout = 30 * time.Second
)

type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
}

type Option func(*Client)

// WithHTTPClient replaces the pooled default client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New builds a client. timeout bounds Predict; a zero value uses DefaultTimeout.
func New(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		timeout: timeout,
		// per-call deadlines come from the request context
		http: httpclient.NewOutbound(0),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var out HealthStatus
	if err := c.do(ctx, healthTimeout, http.MethodGet, "/api/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Threshold(ctx context.Context, req ThresholdRequest) (*ThresholdResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("threshold request: %w", err)
	}
	var out ThresholdResponse
	if err := c.do(ctx, thresholdTimeout, http.MethodPost, "/api/threshold", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Predict(ctx context.Context, req PredictRequest) (*PredictResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("predict request: %w", err)
	}
	var out PredictResponse
	if err := c.do(ctx, c.timeout, http.MethodPost, "/api/predict", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BatchPredict runs the requests one after another. A failed farm does not
// stop the batch; only a canceled ctx does.
func (c *Client) BatchPredict(ctx context.Context, reqs []PredictRequest) []BatchResult {
	out := make([]BatchResult, 0, len(reqs))
	for _, r := range reqs {
		if err := ctx.Err(); err != nil {
			out = append(out, BatchResult{Request: r, Err: err})
			continue
		}
		resp, err := c.Predict(ctx, r)
		out = append(out, BatchResult{Request: r, Response: resp, Err: err})
	}
	return out
}

func (c *Client) do(ctx context.Context, timeout time.Duration, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	observability.ObserveUpstreamLatency("pmfby", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
