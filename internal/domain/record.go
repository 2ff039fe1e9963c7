// Package domain defines the daily step record and the arithmetic derived from it.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrInvalidDay is returned when a day key is not in YYYY-MM-DD form.
	ErrInvalidDay = errors.New("day key must be YYYY-MM-DD")
	// ErrInvalidTarget is returned for non-positive step targets.
	ErrInvalidTarget = errors.New("step target must be > 0")
)

const dayLayout = "2006-01-02"

// DayKey identifies a calendar day in device-local time, formatted YYYY-MM-DD.
type DayKey string

// DayOf returns the day key for t in t's own location.
func DayOf(t time.Time) DayKey {
	return DayKey(t.Format(dayLayout))
}

// ParseDayKey validates and canonicalises a day key.
func ParseDayKey(value string) (DayKey, error) {
	parsed, err := time.Parse(dayLayout, strings.TrimSpace(value))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidDay, value)
	}
	return DayKey(parsed.Format(dayLayout)), nil
}

// String implements fmt.Stringer.
func (d DayKey) String() string { return string(d) }

// Valid reports whether the key parses as a calendar day.
func (d DayKey) Valid() bool {
	_, err := time.Parse(dayLayout, string(d))
	return err == nil
}

// AddDays returns the key n days away. Invalid keys are returned unchanged.
func (d DayKey) AddDays(n int) DayKey {
	parsed, err := time.Parse(dayLayout, string(d))
	if err != nil {
		return d
	}
	return DayKey(parsed.AddDate(0, 0, n).Format(dayLayout))
}

// Before reports whether d is an earlier day than other.
func (d DayKey) Before(other DayKey) bool {
	return d < other
}

// DailyStepRecord is the persisted per-user, per-day step tally.
type DailyStepRecord struct {
	UserID         string
	Date           DayKey
	Steps          int64
	DistanceMeters float64
	CaloriesKcal   float64
	StepTarget     int
}

// DefaultRecord is the record shown for a day that has never been saved.
func DefaultRecord(userID string, day DayKey) DailyStepRecord {
	return DailyStepRecord{
		UserID:     userID,
		Date:       day,
		StepTarget: DefaultStepTarget,
	}
}

// WithSteps returns a copy carrying steps and the metrics derived from them.
func (r DailyStepRecord) WithSteps(steps int64, strideLength float64) (DailyStepRecord, error) {
	metrics, err := Derive(steps, strideLength)
	if err != nil {
		return r, err
	}
	r.Steps = steps
	r.DistanceMeters = metrics.DistanceMeters
	r.CaloriesKcal = metrics.CaloriesKcal
	return r, nil
}

// Remaining is the number of steps left to reach the target, never negative.
func (r DailyStepRecord) Remaining() int64 {
	left := int64(r.StepTarget) - r.Steps
	if left < 0 {
		return 0
	}
	return left
}

// Progress is the completed fraction of the target, capped at 1.
func (r DailyStepRecord) Progress() float64 {
	if r.StepTarget <= 0 {
		return 0
	}
	p := float64(r.Steps) / float64(r.StepTarget)
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}

// ValidateTarget rejects non-positive step targets.
func ValidateTarget(target int) error {
	if target <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidTarget, target)
	}
	return nil
}
