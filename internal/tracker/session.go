package tracker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"example.com/stepsync/internal/domain"
	"example.com/stepsync/internal/sensor"
)

// State is the observation state of the selected day.
type State string

const (
	StateIdle        State = "idle"
	StateLoading     State = "loading"
	StateLoaded      State = "loaded"
	StateDefaulted   State = "defaulted"
	StateLive        State = "live"
	StateUnavailable State = "unavailable"
	StateStale       State = "stale"
)

var (
	// ErrSessionClosed is returned by commands sent after Close.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionNotStarted is returned by commands sent before Start.
	ErrSessionNotStarted = errors.New("session not started")
)

const defaultFlushTimeout = 10 * time.Second

// Snapshot is what a client renders. Record is the last known record and
// may belong to another day than Day while loading or when stale.
type Snapshot struct {
	State        State
	Availability sensor.Availability
	Day          domain.DayKey
	Record       domain.DailyStepRecord
	StrideLength float64
	Notice       string
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithClock overrides the clock used to pick the initial day.
func WithClock(clock func() time.Time) SessionOption {
	return func(s *Session) {
		s.clock = clock
	}
}

// WithLocation sets the device-local time zone that defines day boundaries.
func WithLocation(loc *time.Location) SessionOption {
	return func(s *Session) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithStrideLength sets the initial stride length in meters.
func WithStrideLength(meters float64) SessionOption {
	return func(s *Session) {
		if domain.ValidateStride(meters) == nil {
			s.stride = meters
		}
	}
}

// WithSaveDebounce sets the interval writes are coalesced over.
func WithSaveDebounce(d time.Duration) SessionOption {
	return func(s *Session) {
		if d >= 0 {
			s.debounce = d
		}
	}
}

// WithSessionLogger overrides the session logger.
func WithSessionLogger(logger *log.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithInitialDay selects a day other than today at start.
func WithInitialDay(day domain.DayKey) SessionOption {
	return func(s *Session) {
		if day.Valid() {
			s.day = day
		}
	}
}

// WithIngest overrides the sensor ingest used for subscriptions.
func WithIngest(in *sensor.Ingest) SessionOption {
	return func(s *Session) {
		s.ingest = in
	}
}

type commandKind int

const (
	cmdSelectDay commandKind = iota
	cmdShiftDay
	cmdSetStride
	cmdSetTarget
)

type command struct {
	kind   commandKind
	day    domain.DayKey
	days   int
	stride float64
	target int
	reply  chan error
}

type loadResult struct {
	rec   domain.DailyStepRecord
	found bool
	err   error
}

type openResult struct {
	feed *sensor.Feed
	err  error
}

// period is one observation of (user, day, stride). Everything in it is owned
// by the session loop.
type period struct {
	key    WriteKey
	stride float64
	ctx    context.Context
	cancel context.CancelFunc

	loadCh chan loadResult
	openCh chan openResult

	feed   *sensor.Feed
	writer *Writer

	record        domain.DailyStepRecord
	base          int64
	carried       int64
	found         bool
	loaded        bool
	stale         bool
	unavailable   bool
	pendingTarget int
}

func (p *period) accepting() bool {
	return p.loaded && !p.stale
}

// Session tracks one user's selected day: it loads the stored record, adds
// live sensor readings on top and writes the result back.
type Session struct {
	userID     string
	capability sensor.Capability
	sync       *Synchronizer
	ingest     *sensor.Ingest
	logger     *log.Logger
	clock      func() time.Time
	location   *time.Location
	debounce   time.Duration

	// owned by the loop once started
	day    domain.DayKey
	stride float64

	cmds    chan command
	updates chan Snapshot

	mu   sync.RWMutex
	snap Snapshot

	lifeMu   sync.Mutex
	started  bool
	closed   bool
	cancel   context.CancelFunc
	writeCtx context.Context
	done     chan struct{}

	retiring   sync.WaitGroup
	retireMu   sync.Mutex
	retirement map[WriteKey]chan struct{}
}

// NewSession constructs a Session. Call Start to begin observing.
func NewSession(userID string, capability sensor.Capability, synchronizer *Synchronizer, opts ...SessionOption) *Session {
	s := &Session{
		userID:     userID,
		capability: capability,
		sync:       synchronizer,
		logger:     log.New(log.Writer(), "[session] ", log.LstdFlags|log.Lshortfile),
		clock:      time.Now,
		location:   time.Local,
		debounce:   time.Second,
		stride:     domain.DefaultStrideLength,
		cmds:       make(chan command),
		updates:    make(chan Snapshot, 1),
		done:       make(chan struct{}),
		retirement: make(map[WriteKey]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.ingest == nil {
		s.ingest = sensor.NewIngest(sensor.WithLogger(s.logger))
	}
	if s.day == "" {
		s.day = domain.DayOf(s.clock().In(s.location))
	}
	s.snap = Snapshot{
		State:        StateIdle,
		Availability: sensor.AvailabilityChecking,
		Day:          s.day,
		Record:       domain.DefaultRecord(userID, s.day),
		StrideLength: s.stride,
	}
	return s
}

// Start launches the session loop. Calling it again has no effect.
func (s *Session) Start(ctx context.Context) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.writeCtx = context.WithoutCancel(ctx)
	activeSessions.Inc()
	go s.run(ctx)
}

// Close ends the current period, waits for its writes to settle and stops
// the loop.
func (s *Session) Close() error {
	s.lifeMu.Lock()
	if s.closed {
		s.lifeMu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	started := s.started
	if s.cancel != nil {
		s.cancel()
	}
	s.lifeMu.Unlock()

	if !started {
		close(s.done)
		return nil
	}
	<-s.done
	s.retiring.Wait()
	return nil
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Updates delivers snapshots as they change. A slow reader only sees the newest.
func (s *Session) Updates() <-chan Snapshot {
	return s.updates
}

// SelectDate switches observation to day.
func (s *Session) SelectDate(day domain.DayKey) error {
	if !day.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrInvalidDay, day)
	}
	return s.send(command{kind: cmdSelectDay, day: day})
}

// NextDay moves the selection one day forward.
func (s *Session) NextDay() error {
	return s.send(command{kind: cmdShiftDay, days: 1})
}

// PreviousDay moves the selection one day back.
func (s *Session) PreviousDay() error {
	return s.send(command{kind: cmdShiftDay, days: -1})
}

// SetStrideLength changes the stride used for distance and restarts the period.
func (s *Session) SetStrideLength(meters float64) error {
	if err := domain.ValidateStride(meters); err != nil {
		return err
	}
	return s.send(command{kind: cmdSetStride, stride: meters})
}

// SetStepTarget updates the selected day's target.
func (s *Session) SetStepTarget(target int) error {
	if err := domain.ValidateTarget(target); err != nil {
		return err
	}
	return s.send(command{kind: cmdSetTarget, target: target})
}

func (s *Session) send(cmd command) error {
	s.lifeMu.Lock()
	started, closed := s.started, s.closed
	s.lifeMu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	if !started {
		return ErrSessionNotStarted
	}

	cmd.reply = make(chan error, 1)
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return ErrSessionClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer activeSessions.Dec()

	p := s.begin(ctx, s.day, s.stride, nil, 0)
	for {
		var ready <-chan struct{}
		if p.feed != nil && p.accepting() {
			ready = p.feed.Ready()
		}

		select {
		case <-ctx.Done():
			s.end(p, false)
			s.update(func(sn *Snapshot) { sn.State = StateIdle })
			return
		case cmd := <-s.cmds:
			p = s.handle(ctx, p, cmd)
		case res := <-p.loadCh:
			p.loadCh = nil
			s.onLoad(p, res)
		case res := <-p.openCh:
			p.openCh = nil
			s.onOpen(p, res)
		case <-ready:
			s.onReading(p)
		}
	}
}

// begin starts loading the day and opening the sensor concurrently. A
// carried writer is reused when only the stride changed.
func (s *Session) begin(ctx context.Context, day domain.DayKey, stride float64, carry *Writer, carried int64) *period {
	pctx, cancel := context.WithCancel(ctx)
	p := &period{
		key:     WriteKey{UserID: s.userID, Day: day},
		stride:  stride,
		ctx:     pctx,
		cancel:  cancel,
		loadCh:  make(chan loadResult, 1),
		openCh:  make(chan openResult, 1),
		writer:  carry,
		carried: carried,
	}

	pending := s.retirementOf(p.key)
	go func() {
		if pending != nil {
			select {
			case <-pending:
			case <-pctx.Done():
				return
			}
		}
		if carry != nil {
			// A carried save must land before the reload reads the same document.
			fctx, fcancel := context.WithTimeout(s.writeCtx, defaultFlushTimeout)
			err := carry.Flush(fctx)
			fcancel()
			if err != nil {
				s.logger.Printf("flush before reload of %s: %v", p.key, err)
			}
		}
		rec, found, err := s.sync.Load(pctx, s.userID, day)
		p.loadCh <- loadResult{rec: rec, found: found, err: err}
	}()
	go func() {
		feed, err := s.ingest.Open(pctx, s.capability)
		p.openCh <- openResult{feed: feed, err: err}
	}()

	s.update(func(sn *Snapshot) {
		sn.State = StateLoading
		sn.Day = day
		sn.StrideLength = stride
		sn.Notice = ""
	})
	return p
}

// end releases the period: feed first, then the writer. With keepWriter the
// writer is handed back instead of closed.
func (s *Session) end(p *period, keepWriter bool) *Writer {
	p.cancel()
	if p.feed != nil {
		p.feed.Close()
		p.feed = nil
	}
	if p.writer == nil {
		return nil
	}
	if keepWriter {
		return p.writer
	}
	s.retire(p.writer)
	return nil
}

// retire closes w in the background. Loads for the same key wait for it.
func (s *Session) retire(w *Writer) {
	done := make(chan struct{})
	key := w.Key()

	s.retireMu.Lock()
	s.retirement[key] = done
	s.retireMu.Unlock()

	s.retiring.Add(1)
	go func() {
		defer s.retiring.Done()
		defer close(done)

		ctx, cancel := context.WithTimeout(s.writeCtx, defaultFlushTimeout)
		defer cancel()
		if err := w.Close(ctx); err != nil {
			s.logger.Printf("final write for %s: %v", key, err)
		}

		s.retireMu.Lock()
		if s.retirement[key] == done {
			delete(s.retirement, key)
		}
		s.retireMu.Unlock()
	}()
}

func (s *Session) retirementOf(key WriteKey) chan struct{} {
	s.retireMu.Lock()
	defer s.retireMu.Unlock()
	return s.retirement[key]
}

func (s *Session) handle(ctx context.Context, p *period, cmd command) *period {
	var err error
	switch cmd.kind {
	case cmdSelectDay, cmdShiftDay:
		day := cmd.day
		if cmd.kind == cmdShiftDay {
			day = s.day.AddDays(cmd.days)
		}
		switch {
		case day != s.day:
			s.end(p, false)
			s.day = day
			p = s.begin(ctx, day, s.stride, nil, 0)
		case p.stale:
			// Selecting the day again retries a failed load.
			p = s.restart(ctx, p)
		}
	case cmdSetStride:
		if cmd.stride != s.stride {
			s.stride = cmd.stride
			p = s.restart(ctx, p)
		}
	case cmdSetTarget:
		err = s.setTarget(p, cmd.target)
	}
	cmd.reply <- err
	return p
}

// restart reopens the selected day with the current stride. The writer,
// any steps counted so far and a queued target survive, including those
// carried into a period whose load has not finished yet.
func (s *Session) restart(ctx context.Context, p *period) *period {
	carried := p.carried
	if p.accepting() && p.record.Steps > carried {
		carried = p.record.Steps
	}
	target := p.pendingTarget
	carry := s.end(p, true)
	next := s.begin(ctx, s.day, s.stride, carry, carried)
	next.pendingTarget = target
	return next
}

func (s *Session) setTarget(p *period, target int) error {
	if !p.accepting() {
		p.pendingTarget = target
		s.update(func(sn *Snapshot) {
			if sn.Record.Date == p.key.Day {
				sn.Record.StepTarget = target
			}
		})
		return nil
	}

	p.record.StepTarget = target
	rec := p.record
	s.update(func(sn *Snapshot) { sn.Record = rec })
	return p.writer.Submit(WriteFor(rec))
}

func (s *Session) onLoad(p *period, res loadResult) {
	if res.err != nil {
		p.stale = true
		if p.feed != nil {
			p.feed.Close()
			p.feed = nil
		}
		s.logger.Printf("keeping last known values for %s: %v", p.key, res.err)
		s.update(func(sn *Snapshot) {
			sn.State = StateStale
			sn.Notice = fmt.Sprintf("could not load steps for %s; showing last known values", p.key.Day)
		})
		return
	}

	rec := res.rec
	rec.UserID, rec.Date = s.userID, p.key.Day
	base := rec.Steps
	if p.carried > base {
		base = p.carried
	}
	if updated, err := rec.WithSteps(base, p.stride); err == nil {
		rec = updated
	}
	if p.pendingTarget > 0 {
		rec.StepTarget = p.pendingTarget
	}

	p.record = rec
	p.base = base
	p.found = res.found
	p.loaded = true
	if p.writer == nil {
		p.writer = s.sync.NewWriter(s.writeCtx, p.key, s.debounce)
	}
	if p.pendingTarget > 0 || base != res.rec.Steps {
		p.pendingTarget = 0
		if err := p.writer.Submit(WriteFor(rec)); err != nil {
			s.logger.Printf("queue write for %s: %v", p.key, err)
		}
	}

	state := StateDefaulted
	if res.found {
		state = StateLoaded
	}
	switch {
	case p.feed != nil:
		state = StateLive
	case p.unavailable:
		state = StateUnavailable
	}
	s.update(func(sn *Snapshot) {
		sn.State = state
		sn.Record = rec
	})
}

func (s *Session) onOpen(p *period, res openResult) {
	if res.err != nil {
		if p.ctx.Err() != nil {
			return
		}
		p.unavailable = true
		notice := "step counting is not available on this device"
		if errors.Is(res.err, sensor.ErrPermissionDenied) {
			notice = "motion permission was denied; showing saved steps only"
		}
		s.update(func(sn *Snapshot) {
			sn.Availability = sensor.AvailabilityUnavailable
			sn.Notice = notice
			if p.accepting() {
				sn.State = StateUnavailable
			}
		})
		return
	}

	if p.stale {
		res.feed.Close()
		s.update(func(sn *Snapshot) { sn.Availability = sensor.AvailabilityAvailable })
		return
	}
	p.feed = res.feed
	s.update(func(sn *Snapshot) {
		sn.Availability = sensor.AvailabilityAvailable
		if p.loaded {
			sn.State = StateLive
		}
	})
}

func (s *Session) onReading(p *period) {
	counted, ok := p.feed.Latest()
	if !ok {
		return
	}
	rec, err := p.record.WithSteps(p.base+counted, p.stride)
	if err != nil {
		s.logger.Printf("derive metrics for %s: %v", p.key, err)
		return
	}
	if rec == p.record {
		return
	}
	p.record = rec
	s.update(func(sn *Snapshot) {
		sn.State = StateLive
		sn.Record = rec
	})
	if err := p.writer.Submit(WriteFor(rec)); err != nil {
		s.logger.Printf("queue write for %s: %v", p.key, err)
	}
}

func (s *Session) update(fn func(*Snapshot)) {
	s.mu.Lock()
	before := s.snap.State
	fn(&s.snap)
	snap := s.snap
	s.mu.Unlock()

	if snap.State != before {
		recordTransition(snap.State)
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snap:
	default:
	}
}
