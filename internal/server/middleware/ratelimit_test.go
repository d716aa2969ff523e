package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLimiter struct {
	keys    []string
	allowed bool
	err     error
}

func (l *recordingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	return l.allowed, l.err
}

func ok() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitBucketsByAccount(t *testing.T) {
	limiter := &recordingLimiter{allowed: true}
	h := Auth("", map[string]string{"alice": "alice-key"})(
		RateLimit(limiter, 10, time.Second)(ok()))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("X-API-Key", "alice-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, limiter.keys, 1)
	assert.Equal(t, "ratelimit:account:alice", limiter.keys[0])
}

func TestRateLimitBucketsByIPWhenAnonymous(t *testing.T) {
	limiter := &recordingLimiter{allowed: true}
	h := RateLimit(limiter, 10, time.Second)(ok())

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Len(t, limiter.keys, 1)
	assert.Equal(t, "ratelimit:ip:203.0.113.7", limiter.keys[0])
}

func TestRateLimitRejectsWhenExhausted(t *testing.T) {
	limiter := &recordingLimiter{allowed: false}
	h := RateLimit(limiter, 1, 2*time.Second)(ok())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestRateLimitSkipsHealthAndFailsOpen(t *testing.T) {
	limiter := &recordingLimiter{allowed: false}
	h := RateLimit(limiter, 1, time.Second)(ok())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, limiter.keys, "health probes bypass the limiter")

	limiter.err = context.DeadlineExceeded
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "limiter failure must not block trading")
}
