package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Ride state transitions by target status and result"},
		[]string{"to", "result"},
	)
	MatchLatency    = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "match_latency_seconds", Help: "Candidate ranking latency"})
	MatchCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "match_candidates",
		Help:      "Number of candidates considered per matching query",
		Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
	})
	EstimatorTrainings = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "estimator_trainings_total", Help: "Acceptance estimator training attempts"},
		[]string{"result"},
	)
	WeatherVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "weather_verdicts_total", Help: "Weather gate verdicts by severity"},
		[]string{"severity", "available"},
	)
	TrackingRooms   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "tracking_rooms", Help: "Open tracking rooms"})
	PositionReports = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "position_reports_total", Help: "Driver position reports by result"},
		[]string{"result"},
	)
	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "drivers_online", Help: "Drivers currently online"})

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
