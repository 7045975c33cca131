package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the orchestrator.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RequestTotal         *prometheus.CounterVec
	RequestDurationMs    *prometheus.HistogramVec
	NodeDurationMs       *prometheus.HistogramVec
	BackendCallTotal     *prometheus.CounterVec
	BackendDurationMs    *prometheus.HistogramVec
	CacheLookupTotal     *prometheus.CounterVec
	RateLimitHitTotal    *prometheus.CounterVec
	BreakerTransitions   *prometheus.CounterVec
	BreakerState         *prometheus.GaugeVec
	ClassificationTotal  *prometheus.CounterVec
	DiscoveryTotal       *prometheus.CounterVec
	ValidationTotal      *prometheus.CounterVec
	DiscoveryQueueLength prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hearth_request_total",
			Help: "Total number of queries processed.",
		}, []string{"intent", "mode", "status"}),

		RequestDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hearth_request_duration_ms",
			Help:    "End-to-end query duration in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000, 30000},
		}, []string{"intent"}),

		NodeDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hearth_node_duration_ms",
			Help:    "Duration of each pipeline node in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}, []string{"node"}),

		BackendCallTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hearth_backend_call_total",
			Help: "Backend calls by outcome.",
		}, []string{"backend", "outcome"}),

		BackendDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hearth_backend_duration_ms",
			Help:    "Backend call latency in milliseconds.",
			Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 12000},
		}, []string{"backend"}),

		CacheLookupTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hearth_cache_lookup_total",
			Help: "Semantic cache lookups by result.",
		}, []string{"result"}),

		RateLimitHitTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hearth_rate_limit_hit_total",
			Help: "Calls rejected by the per-service rate limiter.",
		}, []string{"service", "mode"}),

		BreakerTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hearth_breaker_transitions_total",
			Help: "Circuit breaker state transitions.",
		}, []string{"dependency", "to"}),

		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hearth_breaker_state",
			Help: "Circuit breaker state per dependency (0=closed, 1=open, 2=half_open).",
		}, []string{"dependency"}),

		ClassificationTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hearth_classification_total",
			Help: "Classified queries by classifier and intent.",
		}, []string{"classifier", "intent"}),

		DiscoveryTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hearth_discovery_total",
			Help: "Intent discovery outcomes.",
		}, []string{"outcome"}),

		ValidationTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hearth_validation_total",
			Help: "Answer validation results.",
		}, []string{"result"}),

		DiscoveryQueueLength: f.NewGauge(prometheus.GaugeOpts{
			Name: "hearth_discovery_in_flight",
			Help: "Discovery tasks currently running.",
		}),
	}
}

// RecordRequest records metrics for a completed query.
func (m *Metrics) RecordRequest(labels RequestLabels) {
	if m == nil {
		return
	}
	m.RequestTotal.WithLabelValues(labels.Intent, labels.Mode, labels.Status).Inc()
	m.RequestDurationMs.WithLabelValues(labels.Intent).Observe(labels.DurationMs)
}

func (m *Metrics) RecordNode(node string, durationMs float64) {
	if m == nil {
		return
	}
	m.NodeDurationMs.WithLabelValues(node).Observe(durationMs)
}

// RecordBackendCall records one backend call. outcome is success, failure,
// timeout, circuit_open, rate_limited or empty.
func (m *Metrics) RecordBackendCall(backend, outcome string, durationMs float64) {
	if m == nil {
		return
	}
	m.BackendCallTotal.WithLabelValues(backend, outcome).Inc()
	if durationMs > 0 {
		m.BackendDurationMs.WithLabelValues(backend).Observe(durationMs)
	}
}

func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRateLimitHit(service, mode string) {
	if m == nil {
		return
	}
	m.RateLimitHitTotal.WithLabelValues(service, mode).Inc()
}

// RecordBreakerTransition counts a transition and sets the state gauge to
// stateValue.
func (m *Metrics) RecordBreakerTransition(dependency, to string, stateValue int) {
	if m == nil {
		return
	}
	m.BreakerTransitions.WithLabelValues(dependency, to).Inc()
	m.BreakerState.WithLabelValues(dependency).Set(float64(stateValue))
}

func (m *Metrics) RecordClassification(classifier, intent string) {
	if m == nil {
		return
	}
	m.ClassificationTotal.WithLabelValues(classifier, intent).Inc()
}

func (m *Metrics) RecordDiscovery(outcome string) {
	if m == nil {
		return
	}
	m.DiscoveryTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordValidation(passed bool) {
	if m == nil {
		return
	}
	result := "failed"
	if passed {
		result = "passed"
	}
	m.ValidationTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) DiscoveryStarted() {
	if m == nil {
		return
	}
	m.DiscoveryQueueLength.Inc()
}

func (m *Metrics) DiscoveryFinished() {
	if m == nil {
		return
	}
	m.DiscoveryQueueLength.Dec()
}

// RequestLabels holds the label values for recording a request.
type RequestLabels struct {
	Intent     string
	Mode       string
	Status     string
	DurationMs float64
}
