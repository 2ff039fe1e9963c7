// Package events defines the payloads published through the outbox.
package events

import "time"

const (
	// StepsRecordedType is the outbox event_type of StepsRecorded.
	StepsRecordedType = "steps.recorded"
	// StepTopic carries StepsRecorded events keyed by user id.
	StepTopic = "step_events"
	// StepSubject is the Schema Registry subject of StepTopic values.
	StepSubject = StepTopic + "-value"
	// DayRecordAggregate is the outbox aggregate_type of day record events;
	// their aggregate_id is the day document path.
	DayRecordAggregate = "day_record"
)

// StepsRecorded is emitted whenever a day record is written.
type StepsRecorded struct {
	UserID         string    `json:"user_id"`
	Date           string    `json:"date"`
	Steps          int64     `json:"steps"`
	DistanceMeters float64   `json:"distance_meters"`
	CaloriesKcal   float64   `json:"calories_kcal"`
	StepTarget     int       `json:"step_target"`
	RecordedAt     time.Time `json:"recorded_at"`
}
