package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipe-box/internal/apperr"
	"recipe-box/internal/logging"
)

type stubAuth map[string]string

func (s stubAuth) Authenticate(_ context.Context, token string) (string, error) {
	if id, ok := s[token]; ok {
		return id, nil
	}
	return "", apperr.Unauthenticated("session expired or revoked")
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(UserID(r.Context())))
	})
}

func TestAuthMiddleware(t *testing.T) {
	h := NewAuthMiddleware(stubAuth{"good": "user-1"}).Handler(echoUser())

	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
		body   string
	}{
		{"no token", func(*http.Request) {}, http.StatusUnauthorized, ""},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") }, http.StatusOK, "user-1"},
		{"cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "session", Value: "good"}) }, http.StatusOK, "user-1"},
		{"revoked", func(r *http.Request) { r.Header.Set("Authorization", "Bearer stale") }, http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			tt.setup(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, tt.body, rec.Body.String())
			} else {
				assert.Contains(t, rec.Body.String(), "UNAUTHENTICATED")
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	called := false
	h := NewCORSMiddleware([]string{"https://app.example.com/"}).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/recipes", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.False(t, called)

	req = httptest.NewRequest(http.MethodGet, "/api/recipes", nil)
	req.Header.Set("Origin", "https://evil.app.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, called)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	hit := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1:1000").Code)
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1:2000").Code)

	rec := hit("10.0.0.1:3000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Another client has its own bucket.
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.2:1000").Code)

	// The bucket refills with time.
	now = now.Add(time.Second)
	assert.Equal(t, http.StatusNoContent, hit("10.0.0.1:4000").Code)

	now = now.Add(time.Hour)
	assert.Equal(t, 0, rl.Cleanup(2*time.Hour))
	assert.Equal(t, 2, rl.Cleanup(time.Minute))
}

func TestRateLimiterKeysByUser(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	h := NewAuthMiddleware(stubAuth{"a": "user-a", "b": "user-b"}).Handler(
		rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	hit := func(token string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusOK, hit("a"))
	assert.Equal(t, http.StatusTooManyRequests, hit("a"))
	assert.Equal(t, http.StatusOK, hit("b"))
}

func TestTracingAndRecover(t *testing.T) {
	var buf bytes.Buffer
	log := logging.NewWithOutput("info", "json", &buf)

	h := NewTracingMiddleware(log).Handler(Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/panic" {
			panic("boom")
		}
		assert.Equal(t, "trace-abc", logging.GetTraceID(r.Context()))
		w.WriteHeader(http.StatusAccepted)
	})))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(TraceHeader, "trace-abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "trace-abc", rec.Header().Get(TraceHeader))
	assert.Contains(t, buf.String(), `"status":202`)

	buf.Reset()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	traceID := rec.Header().Get(TraceHeader)
	require.NotEmpty(t, traceID)

	var body struct {
		Error struct {
			Code    string `json:"code"`
			TraceID string `json:"trace_id"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INTERNAL", body.Error.Code)
	assert.Equal(t, traceID, body.Error.TraceID)
	assert.True(t, strings.Contains(buf.String(), "handler panicked"))
	assert.Contains(t, buf.String(), `"status":500`)
}
