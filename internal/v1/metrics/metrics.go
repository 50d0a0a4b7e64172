package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the party-game room server.
//
// Naming convention: namespace_subsystem_name
// - namespace: party_game (application-level grouping)
// - subsystem: websocket, room, intent, sync, ratelimit (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, players)
// - Counter: Cumulative events (events applied, intents rejected)
// - Histogram: Latency distributions (ACK round trips, intent processing)

var (
	// ActiveWebSocketConnections tracks the current number of live WebSocket connections
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "party_game",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of registered rooms
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "party_game",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomPlayers tracks the number of players per room
	RoomPlayers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "party_game",
		Subsystem: "room",
		Name:      "players_count",
		Help:      "Number of players in each room",
	}, []string{"room_code"})

	// EventsApplied counts authoritative events applied to room state
	EventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "party_game",
		Subsystem: "room",
		Name:      "events_total",
		Help:      "Total authoritative events applied",
	}, []string{"event_type"})

	// SnapshotsTaken counts state snapshots captured per room
	SnapshotsTaken = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "party_game",
		Subsystem: "room",
		Name:      "snapshots_total",
		Help:      "Total state snapshots captured",
	}, []string{"room_code", "trigger"})

	// IntentsProcessed counts intents by outcome (applied, rejected, duplicate, error)
	IntentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "party_game",
		Subsystem: "intent",
		Name:      "processed_total",
		Help:      "Total intents processed by outcome",
	}, []string{"action", "outcome"})

	// IntentProcessingDuration tracks the time spent inside the intent pipeline
	IntentProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "party_game",
		Subsystem: "intent",
		Name:      "processing_seconds",
		Help:      "Time spent processing intents",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"action"})

	// SyncBroadcasts counts state_sync broadcasts by mode (full, delta)
	SyncBroadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "party_game",
		Subsystem: "sync",
		Name:      "broadcasts_total",
		Help:      "Total state sync broadcasts by mode",
	}, []string{"mode"})

	// AckLatency tracks client-reported ACK round-trip latency
	AckLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "party_game",
		Subsystem: "sync",
		Name:      "ack_latency_seconds",
		Help:      "Observed ACK round-trip latency",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
	})

	// AcksMissing counts versions that timed out waiting for a recipient ACK
	AcksMissing = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "party_game",
		Subsystem: "sync",
		Name:      "acks_missing_total",
		Help:      "Total ACK timeouts that triggered a resync",
	})

	// Resyncs counts targeted snapshot+replay resyncs by cause
	Resyncs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "party_game",
		Subsystem: "sync",
		Name:      "resyncs_total",
		Help:      "Total targeted resyncs issued",
	}, []string{"cause"})

	// RateLimitExceeded counts requests rejected by the rate limiter
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "party_game",
		Subsystem: "ratelimit",
		Name:      "exceeded_total",
		Help:      "Total requests rejected by rate limiting",
	}, []string{"scope", "tier"})

	// RateLimitRequests counts requests that passed through the rate limiter
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "party_game",
		Subsystem: "ratelimit",
		Name:      "requests_total",
		Help:      "Total requests checked by the rate limiter",
	}, []string{"scope"})

	// CircuitBreakerState reflects the redis circuit breaker state (0 closed, 1 open, 2 half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "party_game",
		Subsystem: "bus",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// CircuitBreakerFailures counts publishes dropped while the breaker was open
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "party_game",
		Subsystem: "bus",
		Name:      "circuit_breaker_failures_total",
		Help:      "Total operations rejected by an open circuit breaker",
	}, []string{"service"})

	// AuditRecords counts security-log records by severity
	AuditRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "party_game",
		Subsystem: "audit",
		Name:      "records_total",
		Help:      "Total security log records by severity",
	}, []string{"severity"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
