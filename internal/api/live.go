package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"example.com/stepsync/internal/auth"
	"example.com/stepsync/internal/domain"
	"example.com/stepsync/internal/sensor"
	"example.com/stepsync/internal/tracker"
)

const (
	liveWriteWait  = 10 * time.Second
	livePongWait   = 60 * time.Second
	livePingPeriod = 25 * time.Second
	liveReadLimit  = 4096
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client message types on /v1/live.
const (
	msgHello       = "hello"
	msgSteps       = "steps"
	msgSelectDate  = "select_date"
	msgNextDay     = "next_day"
	msgPreviousDay = "previous_day"
	msgSetStride   = "set_stride"
	msgSetTarget   = "set_target"
)

// LiveCommand is a message sent by the device. The first message on a
// connection must be hello; TZ and Date on it fix the day the session opens on.
type LiveCommand struct {
	Type         string  `json:"type"`
	Available    bool    `json:"available,omitempty"`
	Permission   bool    `json:"permission,omitempty"`
	TZ           string  `json:"tz,omitempty"`
	Steps        int64   `json:"steps,omitempty"`
	Date         string  `json:"date,omitempty"`
	StrideLength float64 `json:"stride_length,omitempty"`
	StepTarget   int     `json:"step_target,omitempty"`
}

// sessionOptions converts hello's device context into session options.
func (c LiveCommand) sessionOptions() ([]tracker.SessionOption, error) {
	var opts []tracker.SessionOption
	if c.TZ != "" {
		loc, err := time.LoadLocation(c.TZ)
		if err != nil || c.TZ == "Local" {
			return nil, fmt.Errorf("unknown time zone %q", c.TZ)
		}
		opts = append(opts, tracker.WithLocation(loc))
	}
	if c.Date != "" {
		day, err := domain.ParseDayKey(c.Date)
		if err != nil {
			return nil, err
		}
		opts = append(opts, tracker.WithInitialDay(day))
	}
	if c.StrideLength != 0 {
		if err := domain.ValidateStride(c.StrideLength); err != nil {
			return nil, err
		}
		opts = append(opts, tracker.WithStrideLength(c.StrideLength))
	}
	return opts, nil
}

// LiveEvent is a message sent to the device: either a snapshot or an error.
type LiveEvent struct {
	Type         string   `json:"type"`
	State        string   `json:"state,omitempty"`
	Availability string   `json:"availability,omitempty"`
	Day          string   `json:"day,omitempty"`
	StrideLength float64  `json:"stride_length,omitempty"`
	Record       *DayView `json:"record,omitempty"`
	Notice       string   `json:"notice,omitempty"`
	Detail       string   `json:"detail,omitempty"`
}

func snapshotEvent(s tracker.Snapshot) LiveEvent {
	view := toDayView(s.Record, false)
	return LiveEvent{
		Type:         "snapshot",
		State:        string(s.State),
		Availability: s.Availability.String(),
		Day:          s.Day.String(),
		StrideLength: s.StrideLength,
		Record:       &view,
		Notice:       s.Notice,
	}
}

// live runs one tracking session per connection. The connection is the
// session's sensor: hello declares the capability and steps forwards the
// device running total.
func (h *Handler) live(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeStepsWrite)
	if !ok {
		return
	}
	if !h.admitLive() {
		writeError(w, http.StatusServiceUnavailable, "shutting_down", "server is shutting down")
		return
	}
	defer h.liveConns.Done()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// Hijacked connections outlive the server's own shutdown, so the handler
	// ends them itself.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(h.liveCtx, cancel)
	defer stop()

	conn.SetReadLimit(liveReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(livePongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(livePongWait))
	})

	hello, opts, ok := h.awaitHello(ctx, conn, claims.Subject)
	if !ok {
		return
	}

	capability := sensor.NewManual()
	capability.Declare(hello.Available, hello.Permission)
	opts = append(append([]tracker.SessionOption(nil), h.sessionOpts...), opts...)
	session := tracker.NewSession(claims.Subject, capability, h.synchronizer, opts...)
	session.Start(ctx)
	defer func() {
		if err := session.Close(); err != nil {
			h.logger.Printf("close live session %s: %v", claims.Subject, err)
		}
	}()

	replies := make(chan LiveEvent, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// Closing the socket unblocks the read loop when a write fails.
		defer conn.Close()
		defer cancel()
		h.writeLoop(ctx, conn, session, replies)
	}()

	for {
		var cmd LiveCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Printf("live read %s: %v", claims.Subject, err)
			}
			break
		}
		if err := apply(session, capability, cmd); err != nil {
			select {
			case replies <- LiveEvent{Type: "error", Detail: err.Error()}:
			case <-ctx.Done():
			}
		}
	}

	cancel()
	<-writerDone
}

// awaitHello reads until a usable hello arrives. Nothing else writes to conn
// yet, so error replies go out directly.
func (h *Handler) awaitHello(ctx context.Context, conn *websocket.Conn, subject string) (LiveCommand, []tracker.SessionOption, bool) {
	unblock := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer unblock()

	reject := func(detail string) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		return conn.WriteJSON(LiveEvent{Type: "error", Detail: detail}) == nil
	}
	for {
		var cmd LiveCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Printf("live hello %s: %v", subject, err)
			}
			return LiveCommand{}, nil, false
		}
		if cmd.Type != msgHello {
			if !reject(fmt.Sprintf("expected %s before %q", msgHello, cmd.Type)) {
				return LiveCommand{}, nil, false
			}
			continue
		}
		opts, err := cmd.sessionOptions()
		if err != nil {
			if !reject(err.Error()) {
				return LiveCommand{}, nil, false
			}
			continue
		}
		return cmd, opts, ctx.Err() == nil
	}
}

func apply(session *tracker.Session, capability *sensor.Manual, cmd LiveCommand) error {
	switch cmd.Type {
	case msgHello:
		capability.Declare(cmd.Available, cmd.Permission)
		return nil
	case msgSteps:
		capability.Emit(cmd.Steps)
		return nil
	case msgSelectDate:
		day, err := domain.ParseDayKey(cmd.Date)
		if err != nil {
			return err
		}
		return session.SelectDate(day)
	case msgNextDay:
		return session.NextDay()
	case msgPreviousDay:
		return session.PreviousDay()
	case msgSetStride:
		return session.SetStrideLength(cmd.StrideLength)
	case msgSetTarget:
		return session.SetStepTarget(cmd.StepTarget)
	default:
		return fmt.Errorf("unknown message type %q", cmd.Type)
	}
}

// writeLoop owns all writes to conn.
func (h *Handler) writeLoop(ctx context.Context, conn *websocket.Conn, session *tracker.Session, replies <-chan LiveEvent) {
	ticker := time.NewTicker(livePingPeriod)
	defer ticker.Stop()

	send := func(ev LiveEvent) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
		payload, err := json.Marshal(ev)
		if err != nil {
			h.logger.Printf("encode live event: %v", err)
			return true
		}
		return conn.WriteMessage(websocket.TextMessage, payload) == nil
	}

	if !send(snapshotEvent(session.Snapshot())) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(liveWriteWait))
			return
		case snap := <-session.Updates():
			if !send(snapshotEvent(snap)) {
				return
			}
		case ev := <-replies:
			if !send(ev) {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
