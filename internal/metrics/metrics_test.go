package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestInit_BuildAndModelInfoLabels(t *testing.T) {
	p := Init(Config{
		Build: BuildInfo{Version: "v0.4.1", Revision: "abc123", Branch: "main", BuildDate: "2026-10-01"},
		Model: ModelInfo{Checkpoint: "sam_vit_h.pth", ModelType: "vit_h"},
	})
	body := scrape(t, p)

	assertHasMetricLine(t, body, "app_build_info",
		`service="farm-segmenter"`, `version="v0.4.1"`, `revision="abc123"`, `branch="main"`, `build_date="2026-10-01"`)
	assertHasMetricLine(t, body, "segmenter_model_info",
		`checkpoint="sam_vit_h.pth"`, `model_type="vit_h"`)
	if !strings.Contains(body, "go_goroutines") {
		t.Fatalf("expected go_goroutines in payload")
	}
	if !strings.Contains(body, "process_cpu_seconds_total") && !strings.Contains(body, "process_start_time_seconds") {
		t.Fatalf("expected process_* metrics in payload")
	}
}

func TestInit_DefaultsVersionAndSkipsModelInfo(t *testing.T) {
	body := scrape(t, Init(Config{}))

	assertHasMetricLine(t, body, "app_build_info", `service="farm-segmenter"`, `version="dev"`)
	if strings.Contains(body, "segmenter_model_info") {
		t.Fatalf("model info should be absent without a checkpoint")
	}
}

func TestProvider_RegisterExtraCollector(t *testing.T) {
	p := Init(Config{})
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "segmenter_warm_checkpoints", Help: "test"})
	p.Register(g)
	g.Set(1)

	if n := testutil.CollectAndCount(g); n != 1 {
		t.Fatalf("samples=%d want 1", n)
	}
	if body := scrape(t, p); !strings.Contains(body, "segmenter_warm_checkpoints 1") {
		t.Fatalf("registered gauge missing from payload:\n%s", body)
	}
}
