package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics
type Metrics struct {
	// Frame flow counters
	FramesReceived   atomic.Uint64
	FramesProcessed  atomic.Uint64
	FramesSuperseded atomic.Uint64 // dropped by the capacity-1 slot
	FramesPaced      atomic.Uint64 // dropped by target-FPS spacing
	EnvelopesSent    atomic.Uint64
	OverlaysRendered atomic.Uint64

	// Evaluation counters
	NoPoseResults  atomic.Uint64
	RuleViolations atomic.Uint64
	RepsCounted    atomic.Uint64

	// Error counters
	EstimatorErrors  atomic.Uint64
	MalformedInbound atomic.Uint64
	TransportErrors  atomic.Uint64

	// Latency tracking
	ProcessLatencyMs  atomic.Uint64 // last full-pipeline latency in ms
	EstimateLatencyMs atomic.Uint64

	// Session tracking
	ActiveSessions atomic.Uint64
	TotalSessions  atomic.Uint64

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauges := []struct {
		name string
		help string
		load func() uint64
	}{
		{"posture_frames_received_total", "Total frames received over the wire", m.FramesReceived.Load},
		{"posture_frames_processed_total", "Total frames run through the pipeline", m.FramesProcessed.Load},
		{"posture_frames_superseded_total", "Frames dropped because a newer frame replaced them", m.FramesSuperseded.Load},
		{"posture_frames_paced_total", "Frames dropped by target-FPS spacing", m.FramesPaced.Load},
		{"posture_envelopes_sent_total", "Feedback envelopes sent", m.EnvelopesSent.Load},
		{"posture_overlays_rendered_total", "Skeleton overlays rendered", m.OverlaysRendered.Load},
		{"posture_no_pose_total", "Frames with no detectable pose", m.NoPoseResults.Load},
		{"posture_rule_violations_total", "Rule violations reported", m.RuleViolations.Load},
		{"posture_reps_total", "Completed repetitions across sessions", m.RepsCounted.Load},
		{"posture_estimator_errors_total", "Estimator failures recovered as no-pose", m.EstimatorErrors.Load},
		{"posture_malformed_inbound_total", "Malformed inbound messages dropped", m.MalformedInbound.Load},
		{"posture_transport_errors_total", "Transport-level send/receive errors", m.TransportErrors.Load},
		{"posture_process_latency_ms", "Last full-pipeline latency in milliseconds", m.ProcessLatencyMs.Load},
		{"posture_estimate_latency_ms", "Last pose-estimation latency in milliseconds", m.EstimateLatencyMs.Load},
		{"posture_active_sessions", "Currently connected sessions", m.ActiveSessions.Load},
		{"posture_total_sessions", "Sessions accepted since start", m.TotalSessions.Load},
	}

	for _, g := range gauges {
		load := g.load
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			func() float64 { return float64(load()) },
		))
	}
}

// UpdateProcessLatency records the latency of one full pipeline pass
func (m *Metrics) UpdateProcessLatency(duration time.Duration) {
	m.ProcessLatencyMs.Store(uint64(duration.Milliseconds()))
}

// UpdateEstimateLatency records the latency of one pose estimation
func (m *Metrics) UpdateEstimateLatency(duration time.Duration) {
	m.EstimateLatencyMs.Store(uint64(duration.Milliseconds()))
}

// SessionOpened tracks a new session
func (m *Metrics) SessionOpened() {
	m.ActiveSessions.Add(1)
	m.TotalSessions.Add(1)
}

// SessionClosed tracks a session teardown
func (m *Metrics) SessionClosed() {
	// Decrement via two's-complement add; counter never goes below zero in
	// practice because opens precede closes.
	m.ActiveSessions.Add(^uint64(0))
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
