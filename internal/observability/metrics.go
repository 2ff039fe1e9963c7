// Package observability holds process-wide watermark gauges.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	stepsPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stepsync",
		Subsystem: "persistence",
		Name:      "last_steps_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent day record written to Postgres.",
	})
	leaderboardProjectedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "stepsync",
		Subsystem: "leaderboard",
		Name:      "last_projected_timestamp_seconds",
		Help:      "Unix timestamp of the most recent step event applied to the leaderboard.",
	})
)

func init() {
	prometheus.MustRegister(stepsPersistGauge, leaderboardProjectedGauge)
}

// RecordStepsPersisted updates the persistence watermark gauge.
func RecordStepsPersisted(ts time.Time) {
	if ts.IsZero() {
		return
	}
	stepsPersistGauge.Set(float64(ts.Unix()))
}

// RecordLeaderboardProjected updates the projection watermark gauge.
func RecordLeaderboardProjected(ts time.Time) {
	if ts.IsZero() {
		return
	}
	leaderboardProjectedGauge.Set(float64(ts.Unix()))
}
