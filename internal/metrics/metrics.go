package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection lifecycle metrics
var (
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mentorlive_active_connections",
			Help: "Currently attached WebSocket connections.",
		},
		[]string{"channel"}, // channel: "session", "notification"
	)

	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mentorlive_connections_total",
			Help: "Total connection attempts by outcome.",
		},
		[]string{"outcome"}, // outcome: "joined", "unauthorized", "forbidden", "not_found"
	)
)

// Routing metrics
var (
	EnvelopesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mentorlive_envelopes_routed_total",
			Help: "Inbound envelopes routed by message type.",
		},
		[]string{"type"},
	)

	EnvelopesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mentorlive_envelopes_dropped_total",
			Help: "Outbound envelopes dropped on slow or dead recipients.",
		},
	)

	RoutingErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mentorlive_routing_errors_total",
			Help: "Error envelopes returned to senders.",
		},
		[]string{"reason"}, // reason: "unknown_type", "invalid_payload", "oversized"
	)
)

// Notification channel metrics
var (
	NotificationsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mentorlive_notifications_published_total",
			Help: "Per-user notification publishes by outcome.",
		},
		[]string{"outcome"}, // outcome: "delivered", "no_subscriber", "failed"
	)
)
