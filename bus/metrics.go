package bus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the "never lose silently" rule: every dropped or skipped
// message shows up somewhere.
var (
	producedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_messages_produced_total",
		Help: "Messages appended to the bus, per topic.",
	}, []string{"topic"})

	produceRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_produce_retries_total",
		Help: "Publish attempts that failed and were retried, per topic.",
	}, []string{"topic"})

	outboxDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_outbox_dropped_total",
		Help: "Messages dropped from a full outbox (oldest first), per topic.",
	}, []string{"topic"})

	outboxDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bus_outbox_depth",
		Help: "Messages currently waiting in the outbox, per topic.",
	}, []string{"topic"})

	consumedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_messages_consumed_total",
		Help: "Messages dispatched to a handler, per topic and group.",
	}, []string{"topic", "group"})

	skippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bus_messages_skipped_total",
		Help: "Messages skipped on decode or handler error, per topic and group.",
	}, []string{"topic", "group"})
)
