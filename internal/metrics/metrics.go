// Package metrics exposes Prometheus collectors for downloads and HTTP
// traffic.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lvcoi/tubeflow/internal/extract"
	"github.com/lvcoi/tubeflow/internal/history"
)

// Metrics owns a registry and every tubeflow collector.
type Metrics struct {
	registry *prometheus.Registry

	DownloadsTotal      *prometheus.CounterVec
	FallbacksTotal      *prometheus.CounterVec
	DownloadsInFlight   prometheus.Gauge
	DeliveredBytesTotal *prometheus.CounterVec

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	BackendInfo *prometheus.GaugeVec
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		DownloadsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tubeflow_downloads_total",
				Help: "Finished downloads by kind, backend and outcome",
			},
			[]string{"kind", "backend", "outcome"},
		),
		FallbacksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tubeflow_fallbacks_total",
				Help: "Retries against an alternate backend after the first was blocked",
			},
			[]string{"from", "to"},
		),
		DownloadsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tubeflow_downloads_in_flight",
				Help: "Downloads currently running",
			},
		),
		DeliveredBytesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tubeflow_delivered_bytes_total",
				Help: "Bytes delivered to clients",
			},
			[]string{"kind"},
		),
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tubeflow_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tubeflow_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.05, 0.25, 1, 5, 30, 120, 600},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "tubeflow_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
		),
		BackendInfo: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tubeflow_backend_info",
				Help: "Selected extraction backend (value is always 1)",
			},
			[]string{"backend", "version", "encoder"},
		),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) DownloadStarted(extract.Kind) {
	m.DownloadsInFlight.Inc()
}

func (m *Metrics) DownloadFinished(kind extract.Kind, backend extract.Backend, status history.Status, bytes int64) {
	m.DownloadsInFlight.Dec()
	if backend == "" {
		backend = extract.BackendUnavailable
	}
	m.DownloadsTotal.WithLabelValues(string(kind), string(backend), string(status)).Inc()
	if bytes > 0 {
		m.DeliveredBytesTotal.WithLabelValues(string(kind)).Add(float64(bytes))
	}
}

func (m *Metrics) FallbackTriggered(from, to extract.Backend) {
	m.FallbacksTotal.WithLabelValues(string(from), string(to)).Inc()
}

// SetBackend records the backend chosen at startup.
func (m *Metrics) SetBackend(backend extract.Backend, version string, encoder bool) {
	m.BackendInfo.Reset()
	m.BackendInfo.WithLabelValues(string(backend), version, strconv.FormatBool(encoder)).Set(1)
}
