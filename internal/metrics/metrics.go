// Package metrics exposes the recorder's Prometheus instruments.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Segment outcome labels.
const (
	OutcomeSaved  = "saved"
	OutcomeFailed = "failed"
	OutcomeEmpty  = "empty"
)

// Metrics holds the instruments on a private registry so several recorders
// (or tests) never collide on registration.
type Metrics struct {
	reg *prometheus.Registry

	segments      *prometheus.CounterVec
	state         prometheus.Gauge
	torchToggles  *prometheus.CounterVec
	finalize      prometheus.Histogram
	starts        prometheus.Counter
	startFailures prometheus.Counter
}

// New registers all instruments, plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		segments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "torchrec_segments_total",
			Help: "Segments settled, by outcome (saved, failed, empty)",
		}, []string{"outcome"}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Name: "torchrec_recording_state",
			Help: "Recorder state (0=idle, 1=starting, 2=recording, 3=stopping)",
		}),
		torchToggles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "torchrec_torch_toggles_total",
			Help: "Torch mode changes, by result (ok, unavailable, failed)",
		}, []string{"result"}),
		finalize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "torchrec_segment_finalize_seconds",
			Help:    "Time spent committing a segment file",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
		}),
		starts: f.NewCounter(prometheus.CounterOpts{
			Name: "torchrec_recording_starts_total",
			Help: "Recording starts accepted",
		}),
		startFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "torchrec_recording_start_failures_total",
			Help: "Recording starts aborted because the capture device was unavailable",
		}),
	}
}

// Segment records one settled segment.
func (m *Metrics) Segment(outcome string, finalize time.Duration) {
	if m == nil {
		return
	}
	m.segments.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSaved {
		m.finalize.Observe(finalize.Seconds())
	}
}

// State publishes the recorder state as its numeric value.
func (m *Metrics) State(v int) {
	if m == nil {
		return
	}
	m.state.Set(float64(v))
}

// Torch records a torch toggle result.
func (m *Metrics) Torch(result string) {
	if m == nil {
		return
	}
	m.torchToggles.WithLabelValues(result).Inc()
}

// Start records an accepted start request.
func (m *Metrics) Start() {
	if m == nil {
		return
	}
	m.starts.Inc()
}

// StartFailed records a start aborted before Recording.
func (m *Metrics) StartFailed() {
	if m == nil {
		return
	}
	m.startFailures.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
