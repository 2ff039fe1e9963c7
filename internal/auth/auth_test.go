package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testConfig = Config{Secret: "test-secret", Issuer: "stepsync-test", TTL: time.Hour}

func TestIssueParseRoundTrip(t *testing.T) {
	now := time.Now()
	token, expires, err := Issue("u1", UserScopes, testConfig, now)
	require.NoError(t, err)
	require.WithinDuration(t, now.Add(time.Hour), expires, time.Second)

	claims, err := Parse(token, testConfig)
	require.NoError(t, err)
	require.Equal(t, "u1", claims.Subject)
	require.True(t, claims.HasScope(ScopeStepsWrite))
	require.True(t, claims.HasScope(ScopeLeaderboardRead))
	require.False(t, claims.HasScope("admin"))
}

func TestParseRejectsBadTokens(t *testing.T) {
	_, err := Parse("", testConfig)
	require.ErrorIs(t, err, ErrMissingToken)

	token, _, err := Issue("u1", nil, testConfig, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken, "expired")

	other := testConfig
	other.Secret = "different"
	token, _, err = Issue("u1", nil, other, time.Now())
	require.NoError(t, err)
	_, err = Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	other = testConfig
	other.Issuer = "someone-else"
	token, _, err = Issue("u1", nil, other, time.Now())
	require.NoError(t, err)
	_, err = Parse(token, testConfig)
	require.ErrorIs(t, err, ErrInvalidToken, "wrong issuer")

	_, _, err = Issue(" ", nil, testConfig, time.Now())
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	var seen *Claims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	handler := NewMiddleware(testConfig, PublicPaths("/healthz")).Wrap(next)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Nil(t, seen)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/me", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "unauthorized")

	token, _, err := Issue("u1", UserScopes, testConfig, time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "u1", seen.Subject)

	req = httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set("Authorization", "Basic abc")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	seen = nil
	req = httptest.NewRequest(http.MethodGet, "/v1/live?access_token="+token, nil)
	req.Header.Set("Upgrade", "websocket")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "u1", seen.Subject)

	req = httptest.NewRequest(http.MethodGet, "/v1/me?access_token="+token, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code, "query tokens only accepted on upgrades")
}
