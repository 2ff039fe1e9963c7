package sensor

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Option configures optional behaviour for the Ingest.
type Option func(*Ingest)

// WithLogger overrides the logger used to report capability problems.
func WithLogger(logger *log.Logger) Option {
	return func(in *Ingest) {
		in.logger = logger
	}
}

// Ingest opens feeds against a Capability.
type Ingest struct {
	logger *log.Logger
}

// NewIngest constructs an Ingest.
func NewIngest(opts ...Option) *Ingest {
	in := &Ingest{
		logger: log.New(log.Writer(), "[sensor] ", log.LstdFlags|log.Lshortfile),
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Open requests permission, probes availability and subscribes. The returned
// feed is released when Close is called or ctx is done, whichever comes first.
func (in *Ingest) Open(ctx context.Context, capability Capability) (*Feed, error) {
	granted, err := capability.RequestPermission(ctx)
	if err != nil {
		recordOpen("error")
		return nil, fmt.Errorf("request permission: %w", err)
	}
	if !granted {
		in.logger.Printf("permission denied")
		recordOpen("permission_denied")
		return nil, ErrPermissionDenied
	}

	available, err := capability.IsAvailable(ctx)
	if err != nil {
		recordOpen("error")
		return nil, fmt.Errorf("probe availability: %w", err)
	}
	if !available {
		recordOpen("unavailable")
		return nil, ErrUnavailable
	}

	feed := newFeed()
	sub, err := capability.Subscribe(feed.deliver)
	if err != nil {
		feed.Close()
		recordOpen("error")
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	feed.attach(sub)

	if err := ctx.Err(); err != nil {
		feed.Close()
		return nil, err
	}

	go func() {
		select {
		case <-ctx.Done():
			feed.Close()
		case <-feed.done:
		}
	}()

	recordOpen("ok")
	return feed, nil
}

// Feed is a normalized view of one subscription: counts never go down, and a
// slow reader only ever sees the newest value.
type Feed struct {
	mu     sync.Mutex
	latest int64
	seen   bool
	closed bool
	sub    Subscription

	ready chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newFeed() *Feed {
	return &Feed{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func (f *Feed) attach(sub Subscription) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		sub.Release()
		return
	}
	f.sub = sub
	activeFeeds.Inc()
	f.mu.Unlock()
}

func (f *Feed) deliver(cumulative int64) {
	if cumulative < 0 {
		cumulative = 0
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	if f.seen && cumulative <= f.latest {
		f.mu.Unlock()
		readingsDropped.Inc()
		return
	}
	f.latest = cumulative
	f.seen = true
	f.mu.Unlock()

	readingsAccepted.Inc()
	select {
	case f.ready <- struct{}{}:
	default:
	}
}

// Ready is signalled whenever a newer count is available.
func (f *Feed) Ready() <-chan struct{} {
	return f.ready
}

// Done is closed once the feed has been released.
func (f *Feed) Done() <-chan struct{} {
	return f.done
}

// Latest returns the newest count and whether any reading has arrived.
func (f *Feed) Latest() (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, f.seen
}

// Close releases the subscription exactly once.
func (f *Feed) Close() {
	f.once.Do(func() {
		f.mu.Lock()
		f.closed = true
		sub := f.sub
		attached := sub != nil
		f.sub = nil
		f.mu.Unlock()

		if attached {
			sub.Release()
			activeFeeds.Dec()
		}
		close(f.done)
	})
}
