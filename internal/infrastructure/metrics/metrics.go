package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method"},
	)

	// Command pipeline
	CommandsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_commands_routed_total",
			Help: "Commands accepted or refused by the router",
		},
		[]string{"command", "outcome"}, // outcome: "queued", "rejected", "rate_limited"
	)

	CommandsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_commands_processed_total",
			Help: "Commands consumed from the queues",
		},
		[]string{"command", "outcome"}, // outcome: "applied", "violation", "fatal", "requeued"
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "parley_command_duration_seconds",
			Help:    "Time to apply a command including retries",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"command"},
	)

	CommandRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_command_retries_total",
			Help: "In-process retries of retryable command failures",
		},
		[]string{"command"},
	)

	DeadLetters = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_dead_letters_total",
			Help: "Commands received on the dead-letter queue",
		},
		[]string{"command"},
	)

	// Fan-out
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_events_published_total",
			Help: "Events handed to the notifier",
		},
		[]string{"scope", "type"}, // scope: "room" or "public"
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "parley_events_dropped_total",
			Help: "Events dropped because a client send buffer was full",
		},
	)

	// Presence
	ConnectedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "parley_connected_users",
			Help: "Users holding a live connection on this instance",
		},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "parley_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"surface"}, // "http" or "command"
	)
)
