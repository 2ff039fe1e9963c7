package leaderboard

import (
	"context"
	"fmt"
	"log"

	"example.com/stepsync/internal/consumer"
	"example.com/stepsync/internal/docstore"
	"example.com/stepsync/internal/domain"
	"example.com/stepsync/internal/events"
	"example.com/stepsync/internal/observability"
)

// ProjectorOption configures a Projector.
type ProjectorOption func(*Projector)

// WithLogger overrides the projector logger.
func WithLogger(logger *log.Logger) ProjectorOption {
	return func(p *Projector) {
		p.logger = logger
	}
}

// Projector keeps leaderboard/{uid} in step with the newest day each user
// has recorded. It is a consumer.Handler.
type Projector struct {
	store  docstore.Store
	logger *log.Logger
}

// NewProjector constructs a Projector.
func NewProjector(store docstore.Store, opts ...ProjectorOption) *Projector {
	p := &Projector{
		store:  store,
		logger: log.New(log.Writer(), "[leaderboard] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle applies a StepsRecorded event. Events for a day older than the one
// already projected are ignored; other event types are skipped.
func (p *Projector) Handle(ctx context.Context, msg consumer.Message) error {
	if msg.EventType != events.StepsRecordedType || msg.Steps == nil {
		return nil
	}

	event := *msg.Steps
	day, err := domain.ParseDayKey(event.Date)
	if err != nil || event.UserID == "" {
		// Retrying cannot fix the event, and an error would hold the partition.
		p.logger.Printf("skipping event at %s/%d/%d with user=%q date=%q", msg.Topic, msg.Partition, msg.Offset, event.UserID, event.Date)
		return nil
	}

	path, err := Path(event.UserID)
	if err != nil {
		return err
	}
	current, err := p.store.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if current != nil {
		if projected, ok := current.String(FieldDate); ok && day.Before(domain.DayKey(projected)) {
			return nil
		}
	}

	if err := p.store.Upsert(ctx, path, docstore.Fields{
		FieldDailySteps: event.Steps,
		FieldDate:       string(day),
	}); err != nil {
		return fmt.Errorf("project %s: %w", path, err)
	}
	observability.RecordLeaderboardProjected(event.RecordedAt)
	return nil
}
