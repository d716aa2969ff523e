package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type contextKey int

const accountContextKey contextKey = iota

// AccountFromContext returns the account authenticated by the Auth
// middleware, if the request presented an account-scoped key.
func AccountFromContext(ctx context.Context) (string, bool) {
	account, ok := ctx.Value(accountContextKey).(string)
	return account, ok
}

// Auth returns middleware that authenticates requests against the exchange's
// key set. serviceKey grants unscoped access (operators, internal tooling);
// accountKeys maps account IDs to their API keys and binds the request to
// that account via the context, which downstream handlers enforce on order
// operations. With no keys configured the middleware passes everything
// through.
func Auth(serviceKey string, accountKeys map[string]string) func(http.Handler) http.Handler {
	enabled := serviceKey != "" || len(accountKeys) > 0
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				next.ServeHTTP(w, r)
				return
			}

			credential := requestCredential(r)
			if credential == "" {
				denyUnauthorized(w, "missing credentials")
				return
			}

			if serviceKey != "" &&
				subtle.ConstantTimeCompare([]byte(credential), []byte(serviceKey)) == 1 {
				next.ServeHTTP(w, r)
				return
			}

			// Every account key is compared so a miss costs the same as a
			// hit regardless of map iteration order.
			matched := ""
			for account, key := range accountKeys {
				if subtle.ConstantTimeCompare([]byte(credential), []byte(key)) == 1 {
					matched = account
				}
			}
			if matched == "" {
				denyUnauthorized(w, "invalid credentials")
				return
			}

			ctx := context.WithValue(r.Context(), accountContextKey, matched)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requestCredential extracts the API key from the Authorization header
// (Bearer scheme) or the X-API-Key header.
func requestCredential(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func denyUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}
