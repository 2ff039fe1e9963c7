package tracker

import (
	"context"

	"example.com/stepsync/internal/docstore"
	"example.com/stepsync/internal/domain"
)

// Field names of the per-day document.
const (
	FieldSteps      = "steps"
	FieldDistance   = "distance"
	FieldCalories   = "calories"
	FieldStepTarget = "stepTarget"
	FieldDate       = "date"
)

// Repository persists day records.
type Repository interface {
	// GetDay returns nil, nil when no record exists for the day.
	GetDay(ctx context.Context, userID string, day domain.DayKey) (*domain.DailyStepRecord, error)
	UpsertDay(ctx context.Context, record domain.DailyStepRecord) error
}

// DayPath is the document path of a user's day record.
func DayPath(userID string, day domain.DayKey) (docstore.Path, error) {
	return docstore.NewPath("users", userID, "stepData", string(day))
}

// DocumentRepository stores day records in a docstore.Store.
type DocumentRepository struct {
	store docstore.Store
}

// NewDocumentRepository constructs a DocumentRepository.
func NewDocumentRepository(store docstore.Store) *DocumentRepository {
	return &DocumentRepository{store: store}
}

// GetDay implements Repository.
func (r *DocumentRepository) GetDay(ctx context.Context, userID string, day domain.DayKey) (*domain.DailyStepRecord, error) {
	path, err := DayPath(userID, day)
	if err != nil {
		return nil, err
	}
	doc, err := r.store.Get(ctx, path)
	if err != nil || doc == nil {
		return nil, err
	}

	rec := domain.DailyStepRecord{UserID: userID, Date: day}
	rec.Steps, _ = doc.Int(FieldSteps)
	rec.DistanceMeters, _ = doc.Float(FieldDistance)
	rec.CaloriesKcal, _ = doc.Float(FieldCalories)
	if target, ok := doc.Int(FieldStepTarget); ok {
		rec.StepTarget = int(target)
	}
	return &rec, nil
}

// UpsertDay implements Repository.
func (r *DocumentRepository) UpsertDay(ctx context.Context, rec domain.DailyStepRecord) error {
	path, err := DayPath(rec.UserID, rec.Date)
	if err != nil {
		return err
	}
	return r.store.Upsert(ctx, path, docstore.Fields{
		FieldSteps:      rec.Steps,
		FieldDistance:   rec.DistanceMeters,
		FieldCalories:   rec.CaloriesKcal,
		FieldStepTarget: rec.StepTarget,
		FieldDate:       string(rec.Date),
	})
}
