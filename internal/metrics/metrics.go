// Package metrics owns the Prometheus registry the segmenter exposes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type BuildInfo struct {
	Version   string
	Revision  string
	Branch    string
	BuildDate string
}

// ModelInfo names the segmentation model this process serves.
type ModelInfo struct {
	Checkpoint string
	ModelType  string
}

type Config struct {
	Service string
	Build   BuildInfo
	Model   ModelInfo
}

type Provider struct {
	reg       *prometheus.Registry
	buildInfo *prometheus.GaugeVec
	modelInfo *prometheus.GaugeVec
}

// Init builds a fresh registry with the Go and process collectors,
// app_build_info and, when a checkpoint is given, segmenter_model_info.
func Init(cfg Config) *Provider {
	reg := prometheus.NewRegistry()

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	build := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build info for this binary (value is always 1).",
		},
		[]string{"service", "version", "revision", "branch", "build_date"},
	)
	reg.MustRegister(build)
	v := cfg.Build
	if v.Version == "" {
		v.Version = "dev"
	}
	svc := cfg.Service
	if svc == "" {
		svc = "farm-segmenter"
	}
	build.WithLabelValues(svc, v.Version, v.Revision, v.Branch, v.BuildDate).Set(1)

	p := &Provider{reg: reg, buildInfo: build}
	if cfg.Model.Checkpoint != "" {
		p.modelInfo = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "segmenter_model_info",
				Help: "Checkpoint and model type served by this process (value is always 1).",
			},
			[]string{"checkpoint", "model_type"},
		)
		reg.MustRegister(p.modelInfo)
		p.modelInfo.WithLabelValues(cfg.Model.Checkpoint, cfg.Model.ModelType).Set(1)
	}
	return p
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{})
}

func (p *Provider) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		p.reg.MustRegister(c)
	}
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }
