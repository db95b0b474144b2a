package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the openclaw world-simulation server.
//
// Naming convention: namespace_subsystem_name
// - namespace: openclaw (application-level grouping)
// - subsystem: room, aic, chat, skill, store (feature-level grouping)
// - name: specific metric (rooms_active, requests_total, etc.)
//
// Metric Types:
// - Gauge: Current state (rooms, entities, connections)
// - Counter: Cumulative events (intents processed, errors)
// - Histogram: Latency/duration distributions (tick time, request time)

var (
	// ActiveRooms tracks the current number of live rooms (Gauge).
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "openclaw",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomEntities tracks the number of entities present in each room (GaugeVec).
	RoomEntities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "openclaw",
		Subsystem: "room",
		Name:      "entities_count",
		Help:      "Number of entities present in each room",
	}, []string{"room_id"})

	// TickDuration tracks the wall-clock time spent executing a single room
	// simulation tick (Histogram).
	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "openclaw",
		Subsystem: "room",
		Name:      "tick_duration_seconds",
		Help:      "Time spent executing a single room simulation tick",
		Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
	}, []string{"room_id"})

	// TickOverruns counts ticks whose processing time exceeded the configured
	// tick period (Counter).
	TickOverruns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "room",
		Name:      "tick_overruns_total",
		Help:      "Total number of ticks that exceeded the tick period",
	}, []string{"room_id"})

	// IntentsProcessed counts intents applied by the Room Runtime, by kind and
	// outcome (Counter).
	IntentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "room",
		Name:      "intents_processed_total",
		Help:      "Total intents processed by the room runtime",
	}, []string{"intent", "outcome"})

	// EventLogAppends counts events appended to the per-room event log (Counter).
	EventLogAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "eventlog",
		Name:      "appends_total",
		Help:      "Total events appended to room event logs",
	}, []string{"room_id", "event_type"})

	// EventLogLongPollWaiters tracks the number of in-flight long-poll waiters
	// blocked on new events (Gauge).
	EventLogLongPollWaiters = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "openclaw",
		Subsystem: "eventlog",
		Name:      "longpoll_waiters",
		Help:      "Current number of in-flight long-poll waiters",
	})

	// ChatMessages counts chat messages accepted per channel (Counter).
	ChatMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "chat",
		Name:      "messages_total",
		Help:      "Total chat messages accepted",
	}, []string{"channel"})

	// SkillInvocations counts skill invoke/cast attempts by outcome (Counter).
	SkillInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "skill",
		Name:      "invocations_total",
		Help:      "Total skill invocation attempts",
	}, []string{"skill_id", "outcome"})

	// AICRequests counts Agent Interface Contract HTTP requests by endpoint
	// and status class (Counter).
	AICRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "aic",
		Name:      "requests_total",
		Help:      "Total Agent Interface Contract requests",
	}, []string{"endpoint", "status"})

	// AICRequestDuration tracks AIC request handling latency (HistogramVec).
	AICRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "openclaw",
		Subsystem: "aic",
		Name:      "request_duration_seconds",
		Help:      "Time spent handling an Agent Interface Contract request",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	// CircuitBreakerState tracks the current state of a circuit breaker (GaugeVec).
	// 0: Closed (Healthy), 1: Open (Failure), 2: Half-Open (Recovering)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "openclaw",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of the circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	// CircuitBreakerFailures tracks the total number of requests rejected by
	// the circuit breaker (CounterVec).
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by the circuit breaker",
	}, []string{"service"})

	// RateLimitExceeded tracks requests rejected by the rate limiter, by
	// endpoint class (CounterVec).
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total number of requests that exceeded the rate limit",
	}, []string{"endpoint_class", "reason"})

	// RateLimitRequests tracks requests checked against the rate limiter, by
	// endpoint class (CounterVec).
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total number of requests checked against the rate limiter",
	}, []string{"endpoint_class"})

	// StoreOperationsTotal tracks operations against the optional shared
	// store (CounterVec).
	StoreOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "openclaw",
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Total number of shared store operations",
	}, []string{"operation", "status"})

	// StoreOperationDuration tracks the duration of shared store operations
	// (HistogramVec).
	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "openclaw",
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Duration of shared store operations",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// ActiveWebSocketConnections tracks the current number of connected
	// realtime transport clients (Gauge).
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "openclaw",
		Subsystem: "transport",
		Name:      "connections_active",
		Help:      "Current number of active realtime transport connections",
	})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
