package consumer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeHandled     = "handled"
	outcomeFailed      = "failed"
	outcomeUndecodable = "undecodable"
)

var (
	stepEventOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepsync",
		Subsystem: "consumer",
		Name:      "step_events_total",
		Help:      "Step events read from Kafka, by topic and outcome.",
	}, []string{"topic", "outcome"})

	handlerRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stepsync",
		Subsystem: "consumer",
		Name:      "handler_retries_total",
		Help:      "Handler attempts repeated after a failure.",
	})

	stepEventLag = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stepsync",
		Subsystem: "consumer",
		Name:      "step_event_lag_seconds",
		Help:      "Time from a step event being published to it being handled.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

func init() {
	prometheus.MustRegister(stepEventOutcomes, handlerRetries, stepEventLag)
}

func recordOutcome(topic, outcome string) {
	stepEventOutcomes.WithLabelValues(topic, outcome).Inc()
}

func recordLag(msg Message) {
	if msg.Timestamp.IsZero() {
		return
	}
	stepEventLag.Observe(time.Since(msg.Timestamp).Seconds())
}
