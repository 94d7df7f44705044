package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenrec_sessions_started_total",
		Help: "Recording sessions that reached the recording state",
	})

	SessionStartFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenrec_session_start_failures_total",
		Help: "Rejected or rolled-back session starts by failure kind",
	}, []string{"kind"})

	StateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenrec_state_transitions_total",
		Help: "Recording state transitions by target state",
	}, []string{"state"})

	FinalizationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenrec_finalizations_total",
		Help: "Finalization runs by outcome (saved, promoted, promotion_failed, discarded)",
	}, []string{"outcome"})

	FinalizationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "screenrec_finalization_duration_seconds",
		Help:    "Wall time from stop to finalization record",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	PromotedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "screenrec_promoted_bytes_total",
		Help: "Bytes copied from working files into scoped locations",
	})

	CommandQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "screenrec_command_queue_depth",
		Help: "Commands waiting for the recorder loop",
	})

	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenrec_bus_dropped_total",
		Help: "In-memory bus message drops by topic and reason",
	}, []string{"topic", "reason"})

	SinkErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "screenrec_broadcast_sink_errors_total",
		Help: "Failed deliveries to external broadcast sinks",
	}, []string{"sink"})
)

// IncBusDropReason records a dropped bus message with a concrete reason.
func IncBusDropReason(topic, reason string) {
	if topic == "" {
		topic = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	BusDroppedTotal.WithLabelValues(topic, reason).Inc()
}

// IncStartFailure records a failed start under its failure kind.
func IncStartFailure(kind string) {
	if kind == "" {
		kind = "unknown"
	}
	SessionStartFailuresTotal.WithLabelValues(kind).Inc()
}
