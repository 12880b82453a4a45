package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Generation outcomes
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"

	// Collaborator services
	ServiceRouting   = "routing"
	ServiceElevation = "elevation"
	ServicePlaces    = "places"

	// Collaborator operations
	OpNearest      = "nearest"
	OpShortestPath = "shortest_path"
	OpElevation    = "elevation"
	OpLamps        = "lamps"
	OpCCTV         = "cctv"
	OpSidewalks    = "sidewalks"
	OpHazards      = "hazards"

	// Results
	ResultSuccess = "success"
	ResultRetry   = "retry"
	ResultFailure = "failure"
	ResultCached  = "cached"

	// Fix decisions
	FixAccepted = "accepted"
	FixRejected = "rejected"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"route"},
	)
)

// Generation Metrics
var (
	GenerationTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_tasks_total",
			Help: "Route generation tasks by terminal outcome",
		},
		[]string{"outcome"},
	)

	GenerationFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_failures_total",
			Help: "Failed route generation tasks by reason code",
		},
		[]string{"code"},
	)

	GenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "generation_duration_seconds",
			Help:    "Wall time of a route generation job",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
	)

	GenerationQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "generation_queue_depth",
			Help: "Jobs waiting for a generation worker",
		},
	)

	GenerationOptionsTotal = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "generation_options_per_route",
			Help:    "Distinct options produced per completed route",
			Buckets: []float64{1, 2, 3},
		},
	)
)

// Collaborator Metrics
var (
	CollaboratorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collaborator_requests_total",
			Help: "Calls to external collaborators",
		},
		[]string{"service", "operation", "result"},
	)

	CollaboratorRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collaborator_request_duration_seconds",
			Help:    "Latency of external collaborator calls",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"service", "operation"},
	)
)

// Workout Metrics
var (
	WorkoutFixesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workout_fixes_total",
			Help: "GPS fixes by acceptance decision",
		},
		[]string{"decision", "reason"},
	)

	WorkoutTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "workout_transitions_total",
			Help: "Workout session state transitions",
		},
		[]string{"to"},
	)
)
