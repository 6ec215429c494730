// Package middleware provides HTTP middleware for the web server.
package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Sessions issues and validates admin bearer tokens. A token is granted on
// a successful password login and expires after the configured TTL or on
// logout. Tokens live in memory only; a restart logs every operator out.
type Sessions struct {
	mu     sync.Mutex
	tokens map[string]time.Time // token -> expiry
	ttl    time.Duration
}

// NewSessions creates a Sessions store with the given token lifetime.
func NewSessions(ttl time.Duration) *Sessions {
	return &Sessions{
		tokens: make(map[string]time.Time),
		ttl:    ttl,
	}
}

// Issue creates a new token and returns it with its expiry time.
func (s *Sessions) Issue() (string, time.Time) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// rand.Read does not fail on supported platforms.
		panic(err)
	}
	token := hex.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	expiry := time.Now().Add(s.ttl)
	s.tokens[token] = expiry
	return token, expiry
}

// Validate reports whether the token is known and unexpired. Expired
// entries are pruned as a side effect. The comparison runs over every
// stored token in constant time per token, so timing does not reveal
// which token matched.
func (s *Sessions) Validate(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	valid := 0
	for stored, expiry := range s.tokens {
		if now.After(expiry) {
			delete(s.tokens, stored)
			continue
		}
		valid |= subtle.ConstantTimeCompare([]byte(token), []byte(stored))
	}
	return valid == 1
}

// Revoke removes a token immediately.
func (s *Sessions) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// Auth guards a route group with bearer-token authentication.
// Requests without a valid "Authorization: Bearer <token>" header get a
// 401 JSON response.
func (s *Sessions) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := BearerToken(r)
		if token == "" {
			slog.Warn("auth: missing bearer token",
				"path", r.URL.Path,
				"method", r.Method,
				"remote_addr", r.RemoteAddr,
			)
			unauthorized(w, "missing credentials", "AUTH_MISSING")
			return
		}

		if !s.Validate(token) {
			slog.Warn("auth: invalid or expired token",
				"path", r.URL.Path,
				"method", r.Method,
				"remote_addr", r.RemoteAddr,
			)
			unauthorized(w, "invalid or expired credentials", "AUTH_INVALID")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// BearerToken extracts the token from the Authorization header, or "".
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// CheckPassword compares a submitted password against the configured one
// in constant time.
func CheckPassword(submitted, configured string) bool {
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(configured)) == 1
}

func unauthorized(w http.ResponseWriter, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `","code":"` + code + `"}`))
}
