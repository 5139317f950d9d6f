package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promoserve_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "promoserve_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// promotion requests created, labelled by tier
	RequestsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promoserve_promotion_requests_total",
			Help: "Total promotion requests created",
		},
		[]string{"tier"},
	)

	// admin decisions, labelled by outcome (approved/rejected)
	DecisionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promoserve_decisions_total",
			Help: "Total request decisions taken",
		},
		[]string{"decision"},
	)

	// impression events received (status code label)
	ImpressionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promoserve_impressions_total",
			Help: "Total impression events",
		},
		[]string{"status"},
	)

	// click events received (status code label)
	ClickCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promoserve_clicks_total",
			Help: "Total click events",
		},
		[]string{"status"},
	)

	// rotation selections that returned no eligible entries
	EmptyRotationCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "promoserve_empty_rotations_total",
			Help: "Total rotation selections with no eligible entries",
		},
	)

	// entries transitioned to expired by the sweeper
	ExpiredEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "promoserve_expired_entries_total",
			Help: "Total active entries expired by sweeps",
		},
	)

	// sweep pass duration
	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "promoserve_sweep_duration_seconds",
			Help:    "Duration of expiration sweep passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	// per-entry sweep failures
	SweepErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "promoserve_sweep_errors_total",
			Help: "Total per-entry sweep failures",
		},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		RequestsCreated,
		DecisionCount,
		ImpressionCount,
		ClickCount,
		EmptyRotationCount,
		ExpiredEntries,
		SweepDuration,
		SweepErrors,
	)
}
