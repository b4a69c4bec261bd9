// Package metrics exposes engine counters in Prometheus format.
package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's counters. Hot paths update plain atomics, and
// Prometheus reads them lazily when the metrics endpoint is scraped.
type Metrics struct {
	FramesProcessed atomic.Uint64 // Frames fully analyzed and published
	ProcessErrors   atomic.Uint64 // Frames that fell back to raw video because a pipeline stage failed
	FramesDropped   atomic.Uint64 // Frames discarded because a stream subscriber was too slow
	ActiveSessions  atomic.Int64  // Camera sessions currently running
	ActiveStreams   atomic.Int64  // Live stream viewers currently connected

	registry *prometheus.Registry
}

// New creates a Metrics instance with its own Prometheus registry, so the
// exposition contains only our metrics, without the Go runtime defaults.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "zonecam_frames_processed_total",
			Help: "Total frames analyzed and published",
		},
		func() float64 { return float64(m.FramesProcessed.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "zonecam_process_errors_total",
			Help: "Total frames that fell back to raw video",
		},
		func() float64 { return float64(m.ProcessErrors.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "zonecam_frames_dropped_total",
			Help: "Total frames dropped on slow stream subscribers",
		},
		func() float64 { return float64(m.FramesDropped.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "zonecam_active_sessions",
			Help: "Camera sessions currently running",
		},
		func() float64 { return float64(m.ActiveSessions.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "zonecam_active_streams",
			Help: "Live stream viewers currently connected",
		},
		func() float64 { return float64(m.ActiveStreams.Load()) },
	))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
