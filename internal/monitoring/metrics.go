// Package monitoring exposes the orchestrator's Prometheus metric set.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the orchestration core.
type Metrics struct {
	// Pipeline metrics
	EventsProcessed  *prometheus.CounterVec
	PipelineDuration *prometheus.HistogramVec
	VetoesTotal      *prometheus.CounterVec

	// Routing metrics
	FailoversTotal     prometheus.Counter
	BreakerTransitions *prometheus.CounterVec

	// Completion metrics
	CompletionDuration *prometheus.HistogramVec
	TokensConsumed     *prometheus.CounterVec

	// Environment metrics
	InfestationLevel prometheus.Gauge
	BusConnections   prometheus.Gauge
	RetryQueueSize   prometheus.Gauge
	RetryQueueDrops  prometheus.Counter
	SimFallbacks     prometheus.Counter
}

// NewMetrics creates and registers all metrics against reg. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mesh_events_processed_total",
				Help: "Total game events run through the orchestration pipeline",
			},
			[]string{"tier", "outcome"}, // outcome: completed, vetoed, error
		),

		PipelineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mesh_pipeline_duration_seconds",
				Help:    "End to end pipeline processing time",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"tier"},
		),

		VetoesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mesh_vetoes_total",
				Help: "Pipeline responses denied by the cognitive rails",
			},
			[]string{"rule"},
		),

		FailoversTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mesh_backend_failovers_total",
				Help: "Routing decisions that skipped an inadmissible primary backend",
			},
		),

		BreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mesh_breaker_transitions_total",
				Help: "Circuit breaker state transitions",
			},
			[]string{"backend", "from", "to"},
		),

		CompletionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mesh_completion_duration_seconds",
				Help:    "LLM backend completion latency",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
			},
			[]string{"backend", "model"},
		),

		TokensConsumed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mesh_tokens_consumed_total",
				Help: "Input plus output tokens billed per backend",
			},
			[]string{"backend", "direction"}, // direction: input, output
		),

		InfestationLevel: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mesh_infestation_level",
				Help: "Current environmental infestation level (0-100)",
			},
		),

		BusConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mesh_bus_connections",
				Help: "Live websocket subscribers on the broadcast bus",
			},
		),

		RetryQueueSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "mesh_retry_queue_size",
				Help: "Pending operations in the memory retry queue",
			},
		),

		RetryQueueDrops: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mesh_retry_queue_drops_total",
				Help: "Operations evicted from the retry queue at capacity",
			},
		),

		SimFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "mesh_simulation_fallbacks_total",
				Help: "Simulation calls that fell back to the secondary wire",
			},
		),
	}
}

// RecordEvent records one pipeline completion.
func (m *Metrics) RecordEvent(tier string, vetoed bool, seconds float64) {
	outcome := "completed"
	if vetoed {
		outcome = "vetoed"
	}
	m.EventsProcessed.WithLabelValues(tier, outcome).Inc()
	m.PipelineDuration.WithLabelValues(tier).Observe(seconds)
}

// RecordError records one pipeline failure.
func (m *Metrics) RecordError(tier string) {
	m.EventsProcessed.WithLabelValues(tier, "error").Inc()
}

// RecordVeto records a rail denial by rule tag.
func (m *Metrics) RecordVeto(rule string) {
	m.VetoesTotal.WithLabelValues(rule).Inc()
}

// RecordCompletion records one successful backend call.
func (m *Metrics) RecordCompletion(backend, model string, inputTokens, outputTokens int, seconds float64) {
	m.CompletionDuration.WithLabelValues(backend, model).Observe(seconds)
	m.TokensConsumed.WithLabelValues(backend, "input").Add(float64(inputTokens))
	m.TokensConsumed.WithLabelValues(backend, "output").Add(float64(outputTokens))
}

// RecordBreakerTransition records a circuit state change.
func (m *Metrics) RecordBreakerTransition(backend, from, to string) {
	m.BreakerTransitions.WithLabelValues(backend, from, to).Inc()
}
