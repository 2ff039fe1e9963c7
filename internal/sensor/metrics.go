package sensor

import "github.com/prometheus/client_golang/prometheus"

var (
	openCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepsync",
		Subsystem: "sensor",
		Name:      "feed_opens_total",
		Help:      "Feed open attempts grouped by outcome.",
	}, []string{"result"})

	readingsAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stepsync",
		Subsystem: "sensor",
		Name:      "readings_accepted_total",
		Help:      "Cumulative step readings that advanced a feed.",
	})

	readingsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stepsync",
		Subsystem: "sensor",
		Name:      "readings_dropped_total",
		Help:      "Readings discarded because they did not exceed the previous count.",
	})

	activeFeeds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stepsync",
		Subsystem: "sensor",
		Name:      "active_subscriptions",
		Help:      "Capability subscriptions currently held open.",
	})
)

func init() {
	prometheus.MustRegister(openCounter, readingsAccepted, readingsDropped, activeFeeds)
}

func recordOpen(result string) {
	openCounter.WithLabelValues(result).Inc()
}
