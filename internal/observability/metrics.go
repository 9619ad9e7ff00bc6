package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "carpool"

var (
	// DetourEvaluations counts evaluator runs by outcome: allowed, rejected or error.
	DetourEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "detour_evaluations_total", Help: "Detour evaluations by outcome"},
		[]string{"outcome"},
	)
	SearchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "search_latency_seconds", Help: "Candidate search latency seconds",
		Buckets: prometheus.DefBuckets,
	})
	// RideMutations counts orchestrated ride mutations by operation and result.
	RideMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_mutations_total", Help: "Ride mutations by operation and result"},
		[]string{"op", "result"},
	)
	AutoDeclines = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "auto_declines_total", Help: "Requests declined by the system"},
		[]string{"reason"},
	)
	RidesExpired = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "rides_expired_total", Help: "Rides deactivated by the expire sweep"})
	SweepErrors  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "sweep_ride_errors_total", Help: "Per-ride failures during the expire sweep"})

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "notifications_total", Help: "Notification deliveries by sink and result"},
		[]string{"sink", "result"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Result labels a mutation outcome for RideMutations.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
