package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"subsync/internal/web/middleware"
)

type loginRequest struct {
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// handleLogin checks the admin password and issues a bearer token for the
// /api routes. Wrong passwords get a uniform 401 with no detail.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	if !middleware.CheckPassword(req.Password, s.cfg.Security.AdminPassword) {
		slog.Warn("login failed", "remote_addr", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "invalid credentials",
			"code":  "AUTH_INVALID",
		})
		return
	}

	token, expiry := s.sessions.Issue()
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: expiry})
}

// handleLogout revokes the caller's token.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.BearerToken(r); token != "" {
		s.sessions.Revoke(token)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}
