// Package tracker reconciles live step counts with the persisted day records.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"example.com/stepsync/internal/domain"
)

var (
	// ErrLoadFailed wraps store errors raised while loading a day.
	ErrLoadFailed = errors.New("load day record")
	// ErrSaveFailed wraps the last store error once retries are exhausted.
	ErrSaveFailed = errors.New("save day record")
	// ErrInvalidWrite is returned for writes that can never succeed.
	ErrInvalidWrite = errors.New("invalid day record write")
)

// RetryPolicy bounds how hard Save retries a failing store.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     4,
	InitialInterval: 250 * time.Millisecond,
	MaxElapsed:      15 * time.Second,
}

// WriteKey scopes a write to one user and one day. It is fixed when a write
// is created and never re-read afterwards.
type WriteKey struct {
	UserID string
	Day    domain.DayKey
}

func (k WriteKey) String() string {
	return k.UserID + "/" + string(k.Day)
}

// Write is a full day-record payload addressed by its key.
type Write struct {
	Key            WriteKey
	Steps          int64
	DistanceMeters float64
	CaloriesKcal   float64
	StepTarget     int
}

// WriteFor captures a record as a write for its own user and day.
func WriteFor(rec domain.DailyStepRecord) Write {
	return Write{
		Key:            WriteKey{UserID: rec.UserID, Day: rec.Date},
		Steps:          rec.Steps,
		DistanceMeters: rec.DistanceMeters,
		CaloriesKcal:   rec.CaloriesKcal,
		StepTarget:     rec.StepTarget,
	}
}

func (w Write) record() domain.DailyStepRecord {
	return domain.DailyStepRecord{
		UserID:         w.Key.UserID,
		Date:           w.Key.Day,
		Steps:          w.Steps,
		DistanceMeters: w.DistanceMeters,
		CaloriesKcal:   w.CaloriesKcal,
		StepTarget:     w.StepTarget,
	}
}

func (w Write) validate() error {
	switch {
	case strings.TrimSpace(w.Key.UserID) == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidWrite)
	case !w.Key.Day.Valid():
		return fmt.Errorf("%w: bad day %q", ErrInvalidWrite, w.Key.Day)
	case w.Steps < 0 || w.DistanceMeters < 0 || w.CaloriesKcal < 0:
		return fmt.Errorf("%w: negative values", ErrInvalidWrite)
	case w.StepTarget <= 0:
		return fmt.Errorf("%w: step target must be > 0", ErrInvalidWrite)
	}
	return nil
}

// SyncOption configures optional behaviour for the Synchronizer.
type SyncOption func(*Synchronizer)

// WithSyncLogger overrides the logger used to report store failures.
func WithSyncLogger(logger *log.Logger) SyncOption {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(policy RetryPolicy) SyncOption {
	return func(s *Synchronizer) {
		if policy.MaxAttempts <= 0 {
			policy.MaxAttempts = 1
		}
		if policy.InitialInterval <= 0 {
			policy.InitialInterval = DefaultRetryPolicy.InitialInterval
		}
		s.policy = policy
	}
}

// Synchronizer loads and saves day records.
type Synchronizer struct {
	repo   Repository
	policy RetryPolicy
	logger *log.Logger
}

// NewSynchronizer constructs a Synchronizer.
func NewSynchronizer(repo Repository, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		repo:   repo,
		policy: DefaultRetryPolicy,
		logger: log.New(log.Writer(), "[tracker] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the stored record for the day, or a zeroed record with the
// default target when none exists. found reports which case applied. On
// error the caller should keep whatever it was showing.
func (s *Synchronizer) Load(ctx context.Context, userID string, day domain.DayKey) (rec domain.DailyStepRecord, found bool, err error) {
	stored, err := s.repo.GetDay(ctx, userID, day)
	if err != nil {
		recordLoad("failed")
		return domain.DailyStepRecord{}, false, fmt.Errorf("%w %s/%s: %w", ErrLoadFailed, userID, day, err)
	}
	if stored == nil {
		recordLoad("defaulted")
		return domain.DefaultRecord(userID, day), false, nil
	}
	if stored.StepTarget <= 0 {
		stored.StepTarget = domain.DefaultStepTarget
	}
	recordLoad("found")
	return *stored, true, nil
}

// Save merge-upserts the write, retrying with exponential backoff up to the
// policy's attempt and time limits.
func (s *Synchronizer) Save(ctx context.Context, w Write) error {
	if err := w.validate(); err != nil {
		recordSave("invalid")
		return err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = s.policy.InitialInterval
	expo.MaxElapsedTime = s.policy.MaxElapsed
	expo.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(s.policy.MaxAttempts-1)), ctx)

	attempts := 0
	start := time.Now()
	err := backoff.Retry(func() error {
		attempts++
		return s.repo.UpsertDay(ctx, w.record())
	}, policy)
	saveAttempts.Observe(float64(attempts))

	if err != nil {
		recordSave("failed")
		s.logger.Printf("dropping write for %s after %d attempts in %s: %v", w.Key, attempts, time.Since(start).Round(time.Millisecond), err)
		return fmt.Errorf("%w %s: %w", ErrSaveFailed, w.Key, err)
	}
	recordSave("ok")
	return nil
}
