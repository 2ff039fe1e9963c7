package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"example.com/stepsync/internal/auth"
	"example.com/stepsync/internal/docstore"
	"example.com/stepsync/internal/domain"
	"example.com/stepsync/internal/identity"
	"example.com/stepsync/internal/leaderboard"
	"example.com/stepsync/internal/tracker"
)

var testTokens = auth.Config{Secret: "test-secret", Issuer: "stepsync.test", TTL: time.Hour}

var testDay = domain.DayKey("2026-10-17")

type fixture struct {
	store        *docstore.MemoryStore
	synchronizer *tracker.Synchronizer
	handler      *Handler
	server       http.Handler
}

func newFixture(t *testing.T, sessionOpts ...tracker.SessionOption) *fixture {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	store := docstore.NewMemoryStore()
	synchronizer := tracker.NewSynchronizer(tracker.NewDocumentRepository(store), tracker.WithSyncLogger(quiet))
	handler := NewHandler(
		identity.NewLocalProvider(store, identity.WithHashCost(bcrypt.MinCost)),
		synchronizer,
		leaderboard.NewService(store),
		testTokens,
		WithLogger(quiet),
		WithSessionOptions(
			tracker.WithClock(func() time.Time { return time.Date(2026, time.October, 17, 12, 0, 0, 0, time.UTC) }),
			tracker.WithLocation(time.UTC),
			tracker.WithSaveDebounce(5*time.Millisecond),
			tracker.WithSessionLogger(quiet),
		),
		WithSessionOptions(sessionOpts...),
	)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mw := auth.NewMiddleware(testTokens, auth.PublicPaths(PublicPaths...))
	return &fixture{store: store, synchronizer: synchronizer, handler: handler, server: mw.Wrap(mux)}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.server.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) signUp(t *testing.T, name, email string) TokenResponse {
	t.Helper()
	rr := f.do(t, http.MethodPost, "/v1/auth/signup", "", SignUpRequest{Name: name, Email: email, Password: "secret1"})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp TokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestSignUpSignInAndMe(t *testing.T) {
	f := newFixture(t)

	created := f.signUp(t, "Ada", "ada@example.com")
	require.NotEmpty(t, created.UserID)
	require.NotEmpty(t, created.Token)

	rr := f.do(t, http.MethodPost, "/v1/auth/signin", "", SignInRequest{Email: "ada@example.com", Password: "secret1"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var signedIn TokenResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &signedIn))
	require.Equal(t, created.UserID, signedIn.UserID)

	claims, err := auth.Parse(signedIn.Token, testTokens)
	require.NoError(t, err)
	require.True(t, claims.HasScope(auth.ScopeStepsWrite))

	rr = f.do(t, http.MethodGet, "/v1/me", signedIn.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var me UserView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
	require.Equal(t, UserView{UserID: created.UserID, Name: "Ada", Email: "ada@example.com"}, me)
}

func TestIdentityErrorsMapToStatus(t *testing.T) {
	f := newFixture(t)
	f.signUp(t, "Ada", "ada@example.com")

	cases := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
		detail string
	}{
		{"weak password", "/v1/auth/signup", SignUpRequest{Name: "Bo", Email: "bo@example.com", Password: "12345"}, http.StatusBadRequest, "weak-password", "Password should be at least 6 characters long."},
		{"duplicate", "/v1/auth/signup", SignUpRequest{Name: "Ada", Email: "ada@example.com", Password: "secret1"}, http.StatusConflict, "email-already-in-use", "This email is already in use."},
		{"wrong password", "/v1/auth/signin", SignInRequest{Email: "ada@example.com", Password: "nope-nope"}, http.StatusUnauthorized, "wrong-password", "Incorrect password. Please try again."},
		{"unknown user", "/v1/auth/signin", SignInRequest{Email: "cy@example.com", Password: "secret1"}, http.StatusUnauthorized, "user-not-found", "No account found with this email."},
		{"bad email", "/v1/auth/signin", SignInRequest{Email: "cy@", Password: "secret1"}, http.StatusBadRequest, "invalid-email", "Invalid email address format."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := f.do(t, http.MethodPost, tc.path, "", tc.body)
			require.Equal(t, tc.status, rr.Code, rr.Body.String())
			require.Equal(t, map[string]string{"type": tc.code, "detail": tc.detail}, decodeError(t, rr))
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/auth/signin", bytes.NewBufferString("{"))
	rr := httptest.NewRecorder()
	f.server.ServeHTTP(rr, req)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "invalid_request", decodeError(t, rr)["type"])
}

func TestStepsForDay(t *testing.T) {
	f := newFixture(t)
	user := f.signUp(t, "Ada", "ada@example.com")

	rr := f.do(t, http.MethodGet, "/v1/steps/"+testDay.String(), user.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var view DayView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	require.Equal(t, DayView{Date: "2026-10-17", StepTarget: 10000, Remaining: 10000}, view)

	rec, err := domain.DefaultRecord(user.UserID, testDay).WithSteps(1000, domain.DefaultStrideLength)
	require.NoError(t, err)
	require.NoError(t, f.synchronizer.Save(context.Background(), tracker.WriteFor(rec)))

	rr = f.do(t, http.MethodGet, "/v1/steps/"+testDay.String(), user.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	require.True(t, view.Stored)
	require.Equal(t, int64(1000), view.Steps)
	require.InDelta(t, 780.0, view.DistanceMeters, 1e-9)
	require.InDelta(t, 40.0, view.CaloriesKcal, 1e-9)

	rr = f.do(t, http.MethodGet, "/v1/steps/17-10-2026", user.Token, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "validation_failed", decodeError(t, rr)["type"])
}

func TestStepsForDayRequiresScope(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/steps/2026-10-17", nil)
	req.SetPathValue("date", "2026-10-17")
	req = req.WithContext(auth.WithClaims(req.Context(), &auth.Claims{
		Subject: "u1",
		Scopes:  map[string]struct{}{auth.ScopeLeaderboardRead: {}},
	}))
	rr := httptest.NewRecorder()
	f.handler.stepsForDay(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestLeaderboardRanksByDailySteps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	low := f.signUp(t, "Low", "low@example.com")
	high := f.signUp(t, "High", "high@example.com")
	mid := f.signUp(t, "Mid", "mid@example.com")
	for id, steps := range map[string]int{low.UserID: 50, high.UserID: 500, mid.UserID: 200} {
		path, err := leaderboard.Path(id)
		require.NoError(t, err)
		require.NoError(t, f.store.Upsert(ctx, path, docstore.Fields{leaderboard.FieldDailySteps: steps}))
	}

	rr := f.do(t, http.MethodGet, "/v1/leaderboard?limit=2", low.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var page leaderboard.Page
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Entries, 2)
	require.Equal(t, "High", page.Entries[0].Name)
	require.Equal(t, int64(500), page.Entries[0].DailySteps)
	require.Equal(t, "Mid", page.Entries[1].Name)
	require.NotEmpty(t, page.NextCursor)

	rr = f.do(t, http.MethodGet, "/v1/leaderboard?cursor="+page.NextCursor, low.Token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	require.Len(t, page.Entries, 1)
	require.Equal(t, 3, page.Entries[0].Rank)
	require.True(t, page.Entries[0].IsCurrentUser)

	rr = f.do(t, http.MethodGet, "/v1/leaderboard?cursor=@@@", low.Token, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newFixture(t)

	rr := f.do(t, http.MethodGet, "/v1/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	require.Equal(t, "unauthorized", decodeError(t, rr)["type"])

	rr = f.do(t, http.MethodGet, "/v1/leaderboard", "not-a-jwt", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}
