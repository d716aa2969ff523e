package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/versebet/exchange/internal/domain"
)

// RateLimit returns middleware that throttles API traffic through the shared
// domain.RateLimiter. Requests authenticated with an account key are counted
// per account, so one trader cannot starve another behind the same proxy;
// anonymous traffic falls back to per-IP buckets. Health probes are exempt.
// Limiter failures fail open so a cache outage does not halt trading.
func RateLimit(limiter domain.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	retryAfter := strconv.Itoa(int(window.Round(time.Second) / time.Second))
	if retryAfter == "0" {
		retryAfter = "1"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/api/health" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), limitKey(r), limit, window)
			if err != nil || allowed {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", retryAfter)
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
		})
	}
}

// limitKey picks the bucket for a request: the authenticated account when
// one is bound, otherwise the client address.
func limitKey(r *http.Request) string {
	if account, ok := AccountFromContext(r.Context()); ok {
		return "ratelimit:account:" + account
	}
	return "ratelimit:ip:" + clientAddr(r)
}

// clientAddr resolves the originating client address, preferring standard
// proxy headers over the socket peer.
func clientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
