package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrWriterClosed is returned by Submit after Close.
var ErrWriterClosed = errors.New("writer closed")

// Writer coalesces bursts of writes for a single key. Only the newest pending
// payload is kept and it is saved at most once per interval; writes for the
// key never overlap, so an older payload cannot land after a newer one.
type Writer struct {
	sync     *Synchronizer
	key      WriteKey
	interval time.Duration
	ctx      context.Context

	mu      sync.Mutex
	pending *Write
	last    *Write
	timer   *time.Timer
	gen     uint64
	closed  bool

	writeMu sync.Mutex
}

// NewWriter returns a Writer bound to key. Timer-driven saves run with ctx.
func (s *Synchronizer) NewWriter(ctx context.Context, key WriteKey, interval time.Duration) *Writer {
	return &Writer{
		sync:     s,
		key:      key,
		interval: interval,
		ctx:      ctx,
	}
}

// Key returns the user and day this writer targets.
func (w *Writer) Key() WriteKey {
	return w.key
}

// Submit queues payload, replacing any payload not yet written.
func (w *Writer) Submit(payload Write) error {
	if payload.Key != w.key {
		return fmt.Errorf("%w: writer for %s received %s", ErrInvalidWrite, w.key, payload.Key)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}
	if w.pending != nil {
		writesCoalesced.Inc()
	}
	p := payload
	w.pending = &p

	if w.timer == nil {
		w.gen++
		gen := w.gen
		w.timer = time.AfterFunc(w.interval, func() { w.fire(gen) })
	}
	return nil
}

func (w *Writer) fire(gen uint64) {
	w.mu.Lock()
	if w.gen == gen {
		w.timer = nil
	}
	w.mu.Unlock()
	// Save already logs and counts failures; the next Submit schedules a fresh attempt.
	_ = w.flush(w.ctx)
}

// Flush saves the pending payload immediately.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()
	return w.flush(ctx)
}

// Close flushes and rejects further submissions.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return w.Flush(ctx)
}

func (w *Writer) flush(ctx context.Context) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	p := w.pending
	w.pending = nil
	if p == nil {
		w.mu.Unlock()
		return nil
	}
	if w.last != nil && *w.last == *p {
		w.mu.Unlock()
		writesSkipped.Inc()
		return nil
	}
	w.mu.Unlock()

	if err := w.sync.Save(ctx, *p); err != nil {
		return err
	}

	w.mu.Lock()
	w.last = p
	w.mu.Unlock()
	return nil
}
