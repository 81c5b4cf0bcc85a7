package health

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mohammed-shakir/farm-segmentation/internal/core/model"
	"github.com/mohammed-shakir/farm-segmentation/internal/logger"
	"github.com/mohammed-shakir/farm-segmentation/internal/oracle"
)

type nopOracle struct{}

func (nopOracle) Predict(context.Context, image.Image, model.PixelPoint) ([]oracle.Mask, error) {
	return nil, nil
}

type readyBody struct {
	Status      string         `json:"status"`
	Checkpoint  string         `json:"checkpoint"`
	Checkpoints []oracle.State `json:"checkpoints"`
}

func probe(t *testing.T, rr ReadinessReporter, cp string) (int, readyBody) {
	t.Helper()
	rec := httptest.NewRecorder()
	Readiness(rr, cp)(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var b readyBody
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return rec.Code, b
}

func TestReadiness_IdleBeforeFirstUse(t *testing.T) {
	reg := oracle.NewRegistry(logger.Discard(), oracle.LoaderFunc(func(context.Context, string) (oracle.Oracle, error) {
		return nopOracle{}, nil
	}))

	code, b := probe(t, reg, "sam.pth")
	if code != http.StatusOK || b.Status != "idle" {
		t.Fatalf("code=%d status=%q, want 200 idle", code, b.Status)
	}
}

func TestReadiness_Ready(t *testing.T) {
	reg := oracle.NewRegistry(logger.Discard(), oracle.LoaderFunc(func(context.Context, string) (oracle.Oracle, error) {
		return nopOracle{}, nil
	}))
	if err := reg.Warm(context.Background(), "sam.pth"); err != nil {
		t.Fatalf("warm: %v", err)
	}

	code, b := probe(t, reg, "sam.pth")
	if code != http.StatusOK || b.Status != "ready" {
		t.Fatalf("code=%d status=%q, want 200 ready", code, b.Status)
	}
	if len(b.Checkpoints) != 1 || b.Checkpoints[0].Checkpoint != "sam.pth" {
		t.Fatalf("checkpoints=%+v", b.Checkpoints)
	}
}

func TestReadiness_FailedCheckpoint(t *testing.T) {
	reg := oracle.NewRegistry(logger.Discard(), oracle.LoaderFunc(func(context.Context, string) (oracle.Oracle, error) {
		return nil, errors.New("checkpoint not found")
	}))
	_ = reg.Warm(context.Background(), "missing.pth")

	code, b := probe(t, reg, "missing.pth")
	if code != http.StatusServiceUnavailable || b.Status != "not_ready" {
		t.Fatalf("code=%d status=%q, want 503 not_ready", code, b.Status)
	}
	if b.Checkpoints[0].Error == "" {
		t.Fatalf("expected the load error to be reported")
	}
}

func TestReadiness_Loading(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	reg := oracle.NewRegistry(logger.Discard(), oracle.LoaderFunc(func(context.Context, string) (oracle.Oracle, error) {
		<-release
		return nopOracle{}, nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, _ = reg.Get(ctx, "slow.pth")

	code, b := probe(t, reg, "slow.pth")
	if code != http.StatusServiceUnavailable || b.Status != "loading" {
		t.Fatalf("code=%d status=%q, want 503 loading", code, b.Status)
	}
}
