package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics.
// Components receive it by injection instead of touching the global
// Prometheus collectors directly.
type MetricsRegistry interface {
	// HTTP request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Lifecycle metrics
	IncrementRequestsCreated(tier string)
	IncrementDecisions(decision string)

	// Event tracking metrics
	IncrementImpressions(status string)
	IncrementClicks(status string)

	// Rotation metrics
	IncrementEmptyRotations()

	// Sweeper metrics
	AddExpiredEntries(count int)
	RecordSweepDuration(duration time.Duration)
	IncrementSweepErrors()
}

// PrometheusRegistry implements MetricsRegistry using the package-level
// Prometheus collectors.
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry.
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementRequestsCreated(tier string) {
	RequestsCreated.WithLabelValues(tier).Inc()
}

func (r *PrometheusRegistry) IncrementDecisions(decision string) {
	DecisionCount.WithLabelValues(decision).Inc()
}

func (r *PrometheusRegistry) IncrementImpressions(status string) {
	ImpressionCount.WithLabelValues(status).Inc()
}

func (r *PrometheusRegistry) IncrementClicks(status string) {
	ClickCount.WithLabelValues(status).Inc()
}

func (r *PrometheusRegistry) IncrementEmptyRotations() {
	EmptyRotationCount.Inc()
}

func (r *PrometheusRegistry) AddExpiredEntries(count int) {
	ExpiredEntries.Add(float64(count))
}

func (r *PrometheusRegistry) RecordSweepDuration(duration time.Duration) {
	SweepDuration.Observe(duration.Seconds())
}

func (r *PrometheusRegistry) IncrementSweepErrors() {
	SweepErrors.Inc()
}
