package tracker

import "github.com/prometheus/client_golang/prometheus"

var (
	loadCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepsync",
		Subsystem: "tracker",
		Name:      "loads_total",
		Help:      "Day record loads grouped by outcome (found, defaulted, failed).",
	}, []string{"result"})

	saveCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepsync",
		Subsystem: "tracker",
		Name:      "saves_total",
		Help:      "Day record saves grouped by outcome (ok, failed, invalid).",
	}, []string{"result"})

	saveAttempts = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "stepsync",
		Subsystem: "tracker",
		Name:      "save_attempts",
		Help:      "Store attempts spent per save, including retries.",
		Buckets:   []float64{1, 2, 3, 4, 6, 8},
	})

	writesCoalesced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stepsync",
		Subsystem: "tracker",
		Name:      "writes_coalesced_total",
		Help:      "Pending writes replaced by a newer payload before reaching the store.",
	})

	writesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "stepsync",
		Subsystem: "tracker",
		Name:      "writes_skipped_total",
		Help:      "Writes skipped because the payload matched the last one saved.",
	})

	activeSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stepsync",
		Subsystem: "tracker",
		Name:      "active_sessions",
		Help:      "Tracking sessions currently running.",
	})

	stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepsync",
		Subsystem: "tracker",
		Name:      "state_transitions_total",
		Help:      "Session state changes grouped by the state entered.",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(loadCounter, saveCounter, saveAttempts, writesCoalesced, writesSkipped, activeSessions, stateTransitions)
}

func recordLoad(result string) {
	loadCounter.WithLabelValues(result).Inc()
}

func recordSave(result string) {
	saveCounter.WithLabelValues(result).Inc()
}

func recordTransition(state State) {
	stateTransitions.WithLabelValues(string(state)).Inc()
}
