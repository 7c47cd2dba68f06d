// Package metrics defines the Prometheus metrics exposed by smtp4dev.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smtp4dev_connections_total",
			Help: "Total number of SMTP connections established",
		},
	)

	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "smtp4dev_connections_current",
			Help: "Current number of active SMTP connections",
		},
	)

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smtp4dev_commands_total",
			Help: "Total number of SMTP commands processed",
		},
		[]string{"command", "status"},
	)

	CommandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smtp4dev_command_duration_seconds",
			Help:    "Duration of SMTP command processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	MessageSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smtp4dev_message_size_bytes",
			Help:    "Size of received messages in bytes",
			Buckets: prometheus.ExponentialBuckets(256, 4, 10),
		},
	)
)

// Routing metrics
var (
	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smtp4dev_messages_routed_total",
			Help: "Total number of recipients routed to a mailbox",
		},
		[]string{"mailbox"},
	)

	MessagesUnmatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smtp4dev_messages_unmatched_total",
			Help: "Total number of recipients that matched no configured mailbox",
		},
	)

	RoutingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "smtp4dev_routing_duration_seconds",
			Help:    "Duration of a single routing decision in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.1, 0.5, 1.0, 2.0},
		},
	)
)

// Store metrics
var (
	StoreOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smtp4dev_store_operations_total",
			Help: "Total number of message store operations",
		},
		[]string{"operation", "status"},
	)

	StoredMessagesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "smtp4dev_stored_messages_pruned_total",
			Help: "Total number of messages pruned by per-mailbox retention",
		},
	)
)
