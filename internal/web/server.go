// Package web provides the HTTP server and handlers for the reconciliation
// admin API: upload runs, applicant listings, and the manual-match and
// grant/revoke actions.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"subsync/internal/config"
	"subsync/internal/reconcile"
	"subsync/internal/store"
	"subsync/internal/web/middleware"
)

// Server is the HTTP server for the reconciliation service.
type Server struct {
	cfg      *config.Config
	store    store.Store
	engine   *reconcile.Engine
	sessions *middleware.Sessions
	router   *chi.Mux
	server   *http.Server

	// uploadMu serializes reconciliation runs. Two concurrent runs against
	// the same applicant tables have undefined ordering, so the second
	// upload is rejected rather than queued.
	uploadMu sync.Mutex
}

// NewServer creates a Server wired to the given store and engine.
func NewServer(cfg *config.Config, st store.Store, engine *reconcile.Engine) *Server {
	s := &Server{
		cfg:      cfg,
		store:    st,
		engine:   engine,
		sessions: middleware.NewSessions(cfg.Security.SessionTTL),
		router:   chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(chimw.Compress(5))
	s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))

	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		limiter := newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute)
		s.router.Use(limiter.middleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Post("/login", s.handleLogin)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.sessions.Auth)

		r.Post("/logout", s.handleLogout)

		// Upload runs. The upload endpoint gets its own tighter limit;
		// each upload triggers a full reconciliation pass.
		if s.cfg.Rate.Enabled {
			uploadLimiter := newRateLimiter(s.cfg.Rate.UploadLimit, time.Minute)
			r.With(uploadLimiter.middleware).Post("/uploads", s.handleUpload)
		} else {
			r.Post("/uploads", s.handleUpload)
		}
		r.Get("/uploads", s.handleListRuns)
		r.Get("/uploads/{id}", s.handleGetRun)
		r.Delete("/uploads/{id}", s.handleDeleteRun)

		// Applicants, per pool ("service" or "discount").
		r.Route("/applicants/{pool}", func(r chi.Router) {
			r.Get("/", s.handleListApplicants)
			r.Post("/", s.handleCreateApplicant)
			r.Get("/{id}", s.handleGetApplicant)
			r.Delete("/{id}", s.handleDeleteApplicant)
			r.Post("/{id}/manual-match", s.handleManualMatch)
			r.Post("/{id}/grant", s.handleGrant)
			r.Post("/{id}/revoke", s.handleRevoke)
		})

		r.Get("/subscribers", s.handleListSubscribers)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Start begins listening for HTTP requests.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		next.ServeHTTP(w, r)
	})
}

// rateLimiter implements a simple token bucket rate limiter per IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int
	window   time.Duration
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

func newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	go rl.cleanup()
	return rl
}

// cleanup removes stale visitor entries every minute.
func (rl *rateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastReset) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// allow checks if the request should be allowed and consumes a token if so.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists {
		rl.visitors[ip] = &visitor{
			tokens:    rl.rate - 1,
			lastReset: time.Now(),
		}
		return true
	}

	if time.Since(v.lastReset) > rl.window {
		v.tokens = rl.rate - 1
		v.lastReset = time.Now()
		return true
	}

	if v.tokens <= 0 {
		return false
	}

	v.tokens--
	return true
}

// middleware returns an HTTP middleware that rate limits by IP.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			ip = realIP
		}

		if !rl.allow(ip) {
			w.Header().Set("Retry-After", "60")
			respondErrorJSON(w, reconcile.UserMessage{
				Message: "Too many requests",
				Action:  "Please wait a moment before trying again",
				Code:    "RATE001",
			}, http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}
