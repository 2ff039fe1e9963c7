package tracker

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"example.com/stepsync/internal/docstore"
	"example.com/stepsync/internal/domain"
)

var errStoreDown = errors.New("store down")

// fakeRepo wraps a DocumentRepository over a MemoryStore and lets tests hold
// loads, inject failures and inspect the write log.
type fakeRepo struct {
	inner *DocumentRepository

	mu         sync.Mutex
	loadGate   map[domain.DayKey]chan struct{}
	loadErr    error
	upsertErrs int
	upserts    []domain.DailyStepRecord
	inLoad     map[domain.DayKey]int
	overlapped bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		inner:    NewDocumentRepository(docstore.NewMemoryStore()),
		loadGate: make(map[domain.DayKey]chan struct{}),
		inLoad:   make(map[domain.DayKey]int),
	}
}

func (r *fakeRepo) holdLoads(day domain.DayKey) (release func()) {
	gate := make(chan struct{})
	r.mu.Lock()
	r.loadGate[day] = gate
	r.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

func (r *fakeRepo) failLoads(err error) {
	r.mu.Lock()
	r.loadErr = err
	r.mu.Unlock()
}

func (r *fakeRepo) failUpserts(n int) {
	r.mu.Lock()
	r.upsertErrs = n
	r.mu.Unlock()
}

func (r *fakeRepo) GetDay(ctx context.Context, userID string, day domain.DayKey) (*domain.DailyStepRecord, error) {
	r.mu.Lock()
	gate := r.loadGate[day]
	loadErr := r.loadErr
	r.inLoad[day]++
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.inLoad[day]--
		r.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if loadErr != nil {
		return nil, loadErr
	}
	return r.inner.GetDay(ctx, userID, day)
}

func (r *fakeRepo) UpsertDay(ctx context.Context, rec domain.DailyStepRecord) error {
	r.mu.Lock()
	if r.inLoad[rec.Date] > 0 {
		r.overlapped = true
	}
	if r.upsertErrs > 0 {
		r.upsertErrs--
		r.mu.Unlock()
		return errStoreDown
	}
	r.upserts = append(r.upserts, rec)
	r.mu.Unlock()
	return r.inner.UpsertDay(ctx, rec)
}

func (r *fakeRepo) writes() []domain.DailyStepRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.DailyStepRecord(nil), r.upserts...)
}

func (r *fakeRepo) writesFor(day domain.DayKey) []domain.DailyStepRecord {
	var out []domain.DailyStepRecord
	for _, w := range r.writes() {
		if w.Date == day {
			out = append(out, w)
		}
	}
	return out
}

func (r *fakeRepo) sawOverlap() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overlapped
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func fastRetry(attempts int) SyncOption {
	return WithRetryPolicy(RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxElapsed: time.Second})
}
