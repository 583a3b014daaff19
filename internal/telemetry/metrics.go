package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the facility assistant.
// Record methods are safe to call on a nil *Metrics.
type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDurationMs      *prometheus.HistogramVec
	RoundTripsTotal    *prometheus.CounterVec
	RoundTripLatencyMs *prometheus.HistogramVec
	ToolCallsTotal     *prometheus.CounterVec
	TokensTotal        *prometheus.CounterVec
	RateLimitHitsTotal *prometheus.CounterVec
	QueryTotal         *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics with reg.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_runs_total",
			Help: "Total number of conversation runs.",
		}, []string{"status"}),

		RunDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assistant_run_duration_ms",
			Help:    "Conversation run duration in milliseconds, including every round trip.",
			Buckets: []float64{250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
		}, []string{"status"}),

		RoundTripsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_round_trips_total",
			Help: "Total model round trips.",
		}, []string{"provider", "status"}),

		RoundTripLatencyMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "assistant_round_trip_latency_ms",
			Help:    "Model round trip latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"provider"}),

		ToolCallsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_tool_calls_total",
			Help: "Total tool calls requested by the model.",
		}, []string{"tool", "outcome"}),

		TokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_tokens_total",
			Help: "Total tokens processed.",
		}, []string{"model", "direction"}),

		RateLimitHitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_rate_limit_hits_total",
			Help: "Requests rejected by a rate limit.",
		}, []string{"dimension"}),

		QueryTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "assistant_query_total",
			Help: "Room queries evaluated, by aggregation type.",
		}, []string{"type"}),
	}
}

// RunLabels holds the label values for recording a finished conversation run.
type RunLabels struct {
	Model            string
	Status           string
	DurationMs       float64
	PromptTokens     int
	CompletionTokens int
}

// RecordRun records metrics for a completed conversation run.
func (m *Metrics) RecordRun(labels RunLabels) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(labels.Status).Inc()
	m.RunDurationMs.WithLabelValues(labels.Status).Observe(labels.DurationMs)

	if labels.PromptTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "prompt").Add(float64(labels.PromptTokens))
	}
	if labels.CompletionTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Model, "completion").Add(float64(labels.CompletionTokens))
	}
}

// RecordRoundTrip records one exchange with a provider.
func (m *Metrics) RecordRoundTrip(provider, status string, latencyMs float64) {
	if m == nil {
		return
	}
	m.RoundTripsTotal.WithLabelValues(provider, status).Inc()
	m.RoundTripLatencyMs.WithLabelValues(provider).Observe(latencyMs)
}

// RecordToolCall records a dispatched (or skipped) tool call.
func (m *Metrics) RecordToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordRateLimitHit records a request rejected by the limiter or the token budget.
func (m *Metrics) RecordRateLimitHit(dimension string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(dimension).Inc()
}

// RecordQuery records one query engine evaluation.
func (m *Metrics) RecordQuery(queryType string) {
	if m == nil {
		return
	}
	m.QueryTotal.WithLabelValues(queryType).Inc()
}
