package outbox

import "github.com/prometheus/client_golang/prometheus"

var (
	stepEventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepsync",
		Subsystem: "outbox",
		Name:      "step_events_published_total",
		Help:      "Step events acknowledged by Kafka, by topic.",
	}, []string{"topic"})

	stepEventsDeadLettered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepsync",
		Subsystem: "outbox",
		Name:      "step_events_dead_lettered_total",
		Help:      "Step events parked in outbox_dlq after a failed publish, by topic.",
	}, []string{"topic"})

	dispatchSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stepsync",
		Subsystem: "outbox",
		Name:      "dispatch_batch_seconds",
		Help:      "Time to claim, publish and settle one non-empty outbox batch.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	dispatchBatchEvents = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stepsync",
		Subsystem: "outbox",
		Name:      "dispatch_batch_events",
		Help:      "Step events claimed per non-empty outbox batch.",
		Buckets:   prometheus.LinearBuckets(1, 10, 10),
	})
)

func init() {
	prometheus.MustRegister(stepEventsPublished, stepEventsDeadLettered, dispatchSeconds, dispatchBatchEvents)
}

func recordPublished(messages []Message) {
	for _, msg := range messages {
		stepEventsPublished.WithLabelValues(msg.Topic).Inc()
	}
}
