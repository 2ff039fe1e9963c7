// Package api exposes HTTP handlers for the step tracker.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"example.com/stepsync/internal/auth"
	"example.com/stepsync/internal/domain"
	"example.com/stepsync/internal/identity"
	"example.com/stepsync/internal/leaderboard"
	"example.com/stepsync/internal/tracker"
)

// Option configures optional Handler behaviour.
type Option func(*Handler)

// WithLogger overrides the handler logger.
func WithLogger(logger *log.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithClock overrides the clock used to stamp issued tokens.
func WithClock(clock func() time.Time) Option {
	return func(h *Handler) {
		h.now = clock
	}
}

// WithSessionOptions applies opts to every live tracking session.
func WithSessionOptions(opts ...tracker.SessionOption) Option {
	return func(h *Handler) {
		h.sessionOpts = append(h.sessionOpts, opts...)
	}
}

// Handler coordinates HTTP requests with identity, day records and the leaderboard.
type Handler struct {
	identity     identity.Provider
	synchronizer *tracker.Synchronizer
	board        *leaderboard.Service
	tokens       auth.Config
	now          func() time.Time
	logger       *log.Logger
	sessionOpts  []tracker.SessionOption

	liveCtx   context.Context
	stopLive  context.CancelFunc
	liveMu    sync.Mutex
	draining  bool
	liveConns sync.WaitGroup
}

// NewHandler builds a Handler.
func NewHandler(provider identity.Provider, synchronizer *tracker.Synchronizer, board *leaderboard.Service, tokens auth.Config, opts ...Option) *Handler {
	h := &Handler{
		identity:     provider,
		synchronizer: synchronizer,
		board:        board,
		tokens:       tokens,
		now:          time.Now,
		logger:       log.New(log.Writer(), "[api] ", log.LstdFlags|log.Lshortfile),
	}
	h.liveCtx, h.stopLive = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Shutdown ends every live session and waits until their final writes have
// been attempted. New live connections are refused from then on.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.liveMu.Lock()
	h.draining = true
	h.liveMu.Unlock()
	h.stopLive()

	done := make(chan struct{})
	go func() {
		h.liveConns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handler) admitLive() bool {
	h.liveMu.Lock()
	defer h.liveMu.Unlock()
	if h.draining {
		return false
	}
	h.liveConns.Add(1)
	return true
}

// PublicPaths lists the routes served without a bearer token.
var PublicPaths = []string{"/v1/auth/signup", "/v1/auth/signin", "/healthz"}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/auth/signup", h.signUp)
	mux.HandleFunc("POST /v1/auth/signin", h.signIn)
	mux.HandleFunc("GET /v1/me", h.me)
	mux.HandleFunc("GET /v1/steps/{date}", h.stepsForDay)
	mux.HandleFunc("GET /v1/leaderboard", h.leaderboard)
	mux.HandleFunc("GET /v1/live", h.live)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// SignUpRequest is the payload for POST /v1/auth/signup.
type SignUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignInRequest is the payload for POST /v1/auth/signin.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse is returned by sign-up and sign-in.
type TokenResponse struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) signUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	user, err := h.identity.SignUp(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.writeIdentityError(w, err, identity.SignUpMessage(err))
		return
	}
	h.writeToken(w, http.StatusCreated, user)
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	user, err := h.identity.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeIdentityError(w, err, identity.SignInMessage(err))
		return
	}
	h.writeToken(w, http.StatusOK, user)
}

func (h *Handler) writeToken(w http.ResponseWriter, status int, user identity.User) {
	token, expires, err := auth.Issue(user.ID, auth.UserScopes, h.tokens, h.now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, status, TokenResponse{UserID: user.ID, Token: token, ExpiresAt: expires})
}

func (h *Handler) writeIdentityError(w http.ResponseWriter, err error, message string) {
	code := identity.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case identity.CodeMissingFields, identity.CodeInvalidEmail, identity.CodeWeakPassword:
		status = http.StatusBadRequest
	case identity.CodeUserNotFound, identity.CodeWrongPassword:
		status = http.StatusUnauthorized
	case identity.CodeUserDisabled:
		status = http.StatusForbidden
	case identity.CodeEmailAlreadyInUse:
		status = http.StatusConflict
	default:
		h.logger.Printf("identity failure: %v", err)
	}
	writeError(w, status, string(code), message)
}

// UserView describes the signed-in user.
type UserView struct {
	UserID string `json:"user_id"`
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	user, err := h.identity.CurrentUser(r.Context())
	switch {
	case errors.Is(err, identity.ErrSignedOut):
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	case errors.Is(err, identity.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", "user not found")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, UserView{UserID: user.ID, Name: user.Name, Email: user.Email})
}

// DayView exposes a day record and the values derived from it.
type DayView struct {
	Date           string  `json:"date"`
	Steps          int64   `json:"steps"`
	DistanceMeters float64 `json:"distance_meters"`
	CaloriesKcal   float64 `json:"calories_kcal"`
	StepTarget     int     `json:"step_target"`
	Remaining      int64   `json:"remaining"`
	Progress       float64 `json:"progress"`
	Stored         bool    `json:"stored,omitempty"`
}

func toDayView(rec domain.DailyStepRecord, stored bool) DayView {
	return DayView{
		Date:           rec.Date.String(),
		Steps:          rec.Steps,
		DistanceMeters: rec.DistanceMeters,
		CaloriesKcal:   rec.CaloriesKcal,
		StepTarget:     rec.StepTarget,
		Remaining:      rec.Remaining(),
		Progress:       rec.Progress(),
		Stored:         stored,
	}
}

func (h *Handler) stepsForDay(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeStepsRead)
	if !ok {
		return
	}

	day, err := domain.ParseDayKey(r.PathValue("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	rec, found, err := h.synchronizer.Load(r.Context(), claims.Subject, day)
	if err != nil {
		h.logger.Printf("load %s/%s: %v", claims.Subject, day, err)
		writeError(w, http.StatusServiceUnavailable, "load_failed", "day record is temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, toDayView(rec, found))
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeLeaderboardRead)
	if !ok {
		return
	}

	limit := leaderboard.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	page, err := h.board.List(r.Context(), claims.Subject, limit, strings.TrimSpace(r.URL.Query().Get("cursor")))
	if err != nil {
		if errors.Is(err, leaderboard.ErrInvalidCursor) {
			writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasScope(scope) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
