package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DriverLocationUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_matching", Name: "driver_location_updates_total", Help: "Driver location updates by source and outcome"},
		[]string{"source", "outcome"},
	)

	RideRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_matching", Name: "ride_requests_total", Help: "Ride request submissions by mode and outcome"},
		[]string{"mode", "outcome"},
	)
	SubmitLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_matching", Name: "submit_latency_seconds", Help: "Ride request submission latency seconds"})
	CandidateDrivers = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_matching",
		Name:      "candidate_drivers",
		Help:      "Drivers notified per ride request",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})
	PoolingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_matching", Name: "pooling_decisions_total", Help: "Pooling eligibility checks by result"},
		[]string{"result"},
	)

	AcceptancesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_matching", Name: "acceptances_total", Help: "Acceptance attempts by outcome"},
		[]string{"outcome"},
	)
	AcceptLatency = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "ride_matching", Name: "accept_latency_seconds", Help: "Acceptance latency seconds"})
	CancellationsTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_matching", Name: "cancellations_total", Help: "Cancelled ride requests"})

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_matching", Name: "notifications_total", Help: "Notification deliveries by channel and outcome"},
		[]string{"channel", "outcome"},
	)
	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_matching", Name: "side_effect_failures_total", Help: "Best-effort post-commit steps that failed"},
		[]string{"step"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_matching", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_matching",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
