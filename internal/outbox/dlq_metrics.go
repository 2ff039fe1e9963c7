package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes of one DLQ pass over an entry.
const (
	dlqRequeued    = "requeued"
	dlqRescheduled = "rescheduled"
	dlqQuarantined = "quarantined"
)

var (
	dlqOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "stepsync",
		Subsystem: "dlq",
		Name:      "step_events_total",
		Help:      "Dead-lettered step events handled by the DLQ manager, by outcome.",
	}, []string{"event_type", "outcome"})

	dlqEntries = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "stepsync",
		Subsystem: "dlq",
		Name:      "step_events",
		Help:      "Step events currently held in the DLQ, split into waiting and quarantined.",
	}, []string{"state"})
)

func init() {
	prometheus.MustRegister(dlqOutcomes, dlqEntries)
}

func recordDLQOutcome(entry dlqEntry, outcome string) {
	dlqOutcomes.WithLabelValues(entry.EventType, outcome).Inc()
}

// refreshDLQGauge recounts the table; a failed count leaves the last values.
func refreshDLQGauge(ctx context.Context, pool *pgxpool.Pool) {
	var waiting, quarantined int
	err := pool.QueryRow(ctx, `SELECT
            COUNT(*) FILTER (WHERE quarantined_at IS NULL),
            COUNT(*) FILTER (WHERE quarantined_at IS NOT NULL)
        FROM outbox_dlq`).Scan(&waiting, &quarantined)
	if err != nil {
		return
	}
	dlqEntries.WithLabelValues("waiting").Set(float64(waiting))
	dlqEntries.WithLabelValues("quarantined").Set(float64(quarantined))
}
