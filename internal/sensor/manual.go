package sensor

import (
	"context"
	"sync"
)

// Manual is a Capability driven by explicit calls: Declare reports what the
// device supports and Emit forwards the device's running step total. Each
// subscription sees totals relative to the device total when it opened.
type Manual struct {
	mu         sync.Mutex
	declared   chan struct{}
	isDeclared bool
	available  bool
	permission bool
	total      int64
	haveTotal  bool
	subs       map[*manualSub]struct{}
}

type manualSub struct {
	owner    *Manual
	fn       func(int64)
	origin   int64
	anchored bool
	last     int64
	once     sync.Once
}

// NewManual constructs a Manual whose availability is unknown until Declare.
func NewManual() *Manual {
	return &Manual{
		declared: make(chan struct{}),
		subs:     make(map[*manualSub]struct{}),
	}
}

// Declare records availability and permission. Calls after the first update
// the values but do not re-signal waiters.
func (m *Manual) Declare(available, permission bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
	m.permission = permission
	if !m.isDeclared {
		m.isDeclared = true
		close(m.declared)
	}
}

func (m *Manual) wait(ctx context.Context) error {
	select {
	case <-m.declared:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestPermission implements Capability. It blocks until Declare has been called.
func (m *Manual) RequestPermission(ctx context.Context) (bool, error) {
	if err := m.wait(ctx); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.permission, nil
}

// IsAvailable implements Capability. It blocks until Declare has been called.
func (m *Manual) IsAvailable(ctx context.Context) (bool, error) {
	if err := m.wait(ctx); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available, nil
}

// Subscribe implements Capability.
func (m *Manual) Subscribe(fn func(int64)) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub := &manualSub{owner: m, fn: fn}
	if m.haveTotal {
		sub.origin = m.total
		sub.anchored = true
	}
	m.subs[sub] = struct{}{}
	return sub, nil
}

// Subscribers reports how many subscriptions are open.
func (m *Manual) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Emit forwards a device running total to every open subscription. A total
// lower than the previous one is treated as a device counter reset.
func (m *Manual) Emit(total int64) {
	if total < 0 {
		total = 0
	}

	type delivery struct {
		fn    func(int64)
		value int64
	}

	m.mu.Lock()
	reset := m.haveTotal && total < m.total
	m.total = total
	m.haveTotal = true
	out := make([]delivery, 0, len(m.subs))
	for sub := range m.subs {
		switch {
		case !sub.anchored:
			sub.origin = total
			sub.anchored = true
		case reset:
			sub.origin = total - sub.last
		}
		sub.last = total - sub.origin
		out = append(out, delivery{fn: sub.fn, value: sub.last})
	}
	m.mu.Unlock()

	for _, d := range out {
		d.fn(d.value)
	}
}

func (s *manualSub) Release() {
	s.once.Do(func() {
		s.owner.mu.Lock()
		delete(s.owner.subs, s)
		s.owner.mu.Unlock()
	})
}
