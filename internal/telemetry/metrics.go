// Package telemetry exposes the platform's Prometheus collectors and the
// OpenTelemetry tracer. Collectors are registered once at import via
// promauto; the orchestrator serves them on /metrics.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CollectionsTotal counts collection attempts by terminal status.
	CollectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optiinfra_collections_total",
			Help: "Collection attempts by provider, data type and status",
		},
		[]string{"provider", "data_type", "status"},
	)

	// CollectionDuration observes end-to-end collection latency.
	CollectionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optiinfra_collection_duration_seconds",
			Help:    "Collection duration from adapter call to history write",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"provider", "data_type"},
	)

	// RowsWritten counts time-series rows landed per table.
	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optiinfra_rows_written_total",
			Help: "Time-series rows written per table",
		},
		[]string{"table"},
	)

	// RowsRejected counts rows failing per-row validation.
	RowsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optiinfra_rows_rejected_total",
			Help: "Adapter rows rejected by writer validation",
		},
		[]string{"table"},
	)

	// HeartbeatsTotal counts heartbeats accepted per agent type.
	HeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optiinfra_heartbeats_total",
			Help: "Agent heartbeats accepted",
		},
		[]string{"agent_type"},
	)

	// AgentsByStatus tracks the registry view of agent health.
	AgentsByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "optiinfra_agents",
			Help: "Registered agents by status",
		},
		[]string{"status"},
	)

	// WorkflowsTotal counts workflow executions by terminal status.
	WorkflowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optiinfra_workflows_total",
			Help: "Workflow executions by agent type and terminal status",
		},
		[]string{"agent_type", "status"},
	)

	// ApprovalVotes counts peer approval votes by decision.
	ApprovalVotes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optiinfra_approval_votes_total",
			Help: "Peer approval votes by voting agent type and decision",
		},
		[]string{"agent_type", "decision"},
	)

	// CacheHits and CacheMisses cover the TTL and Redis caches.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optiinfra_cache_hits_total",
			Help: "Cache hits by cache name",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "optiinfra_cache_misses_total",
			Help: "Cache misses by cache name",
		},
		[]string{"cache"},
	)

	// EventsDropped counts bus events dropped on saturated subscribers.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "optiinfra_events_dropped_total",
			Help: "Bus events dropped because a subscriber channel was full",
		},
	)

	// WebsocketClients tracks live dashboard stream connections.
	WebsocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "optiinfra_websocket_clients",
			Help: "Connected websocket event-stream clients",
		},
	)

	// HTTPRequestDuration observes orchestrator request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "optiinfra_http_request_duration_seconds",
			Help:    "HTTP request duration by route and status class",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)
)
