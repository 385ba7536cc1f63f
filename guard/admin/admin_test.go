package admin

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gatekeeper/guard/limiter"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	svc, err := limiter.New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	h, err := NewHandler(svc, Config{Secret: "test-secret", Issuer: "gatekeeper"})
	require.NoError(t, err)
	return h
}

func authedRequest(t *testing.T, h *Handler, method, target, body string) *http.Request {
	t.Helper()
	token, err := h.IssueToken("tester")
	require.NoError(t, err)

	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.Header.Set("Authorization", "Bearer "+token)
	return r
}

func TestNewHandlerValidation(t *testing.T) {
	svc, err := limiter.New(nil)
	require.NoError(t, err)
	defer svc.Close()

	_, err = NewHandler(svc, Config{})
	assert.Error(t, err, "missing secret must be rejected")

	_, err = NewHandler(svc, Config{Secret: "s", Algorithm: "RS256"})
	assert.Error(t, err, "unsupported algorithm must be rejected")

	_, err = NewHandler(svc, Config{Secret: "s", Algorithm: "HS512"})
	assert.NoError(t, err)
}

func TestAuthRequired(t *testing.T) {
	h := newTestHandler(t)
	mux := h.Routes()

	// No token.
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/admin/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Token signed with the wrong secret.
	svc, err := limiter.New(nil)
	require.NoError(t, err)
	defer svc.Close()
	other, err := NewHandler(svc, Config{Secret: "other-secret", Issuer: "gatekeeper"})
	require.NoError(t, err)
	token, err := other.IssueToken("intruder")
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/admin/stats", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Garbage token.
	r = httptest.NewRequest("GET", "/admin/stats", nil)
	r.Header.Set("Authorization", "Bearer not.a.token")
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestIssuerChecked(t *testing.T) {
	svc, err := limiter.New(nil)
	require.NoError(t, err)
	defer svc.Close()

	// Same secret, different issuer claim.
	minter, err := NewHandler(svc, Config{Secret: "test-secret", Issuer: "someone-else"})
	require.NoError(t, err)
	token, err := minter.IssueToken("tester")
	require.NoError(t, err)

	h := newTestHandler(t)
	r := httptest.NewRequest("GET", "/admin/stats", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStatsEndpoint(t *testing.T) {
	h := newTestHandler(t)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, authedRequest(t, h, "GET", "/admin/stats", ""))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "activeKeys")
}

func TestIdentityEndpoint(t *testing.T) {
	h := newTestHandler(t)

	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, authedRequest(t, h, "GET", "/admin/identity", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code, "missing id parameter")

	w = httptest.NewRecorder()
	h.Routes().ServeHTTP(w, authedRequest(t, h, "GET", "/admin/identity?id=203.0.113.7", ""))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "203.0.113.7")
}

func TestBlockUnblockRoundTrip(t *testing.T) {
	h := newTestHandler(t)
	mux := h.Routes()

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, authedRequest(t, h, "POST", "/admin/block",
		`{"identity":"203.0.113.7","durationMs":3600000}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	blocked, until := h.svc.Rules().IsBlocked("203.0.113.7")
	assert.True(t, blocked)
	assert.WithinDuration(t, time.Now().Add(time.Hour), until, time.Minute)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, authedRequest(t, h, "POST", "/admin/unblock",
		`{"identity":"203.0.113.7"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	blocked, _ = h.svc.Rules().IsBlocked("203.0.113.7")
	assert.False(t, blocked)
}

func TestBlockValidation(t *testing.T) {
	h := newTestHandler(t)
	mux := h.Routes()

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"missing identity", `{"durationMs":1000}`},
		{"negative duration", `{"identity":"203.0.113.7","durationMs":-5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, authedRequest(t, h, "POST", "/admin/block", tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}
