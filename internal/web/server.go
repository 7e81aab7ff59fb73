// Package web serves the embedded mission status API. It exposes the live
// mission state, accepts operator-injected target fixes, and streams status
// over a websocket for the TUI and other observers.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/openuav/follow-gcs/internal/auth"
	"github.com/openuav/follow-gcs/internal/follow"
	"github.com/openuav/follow-gcs/pkg/config"
	"github.com/openuav/follow-gcs/pkg/location"
	"github.com/openuav/follow-gcs/pkg/vehicle"
)

type contextKey string

const (
	contextKeyUsername contextKey = "username"
	contextKeyRole     contextKey = "role"
)

// StatsFunc returns the current relay counters.
type StatsFunc func() follow.Stats

// Server is the embedded HTTP API.
type Server struct {
	router    *chi.Mux
	telemetry vehicle.Telemetry
	stats     StatsFunc
	push      *location.PushSource
	authSvc   *auth.Service
	cfg       config.WebConfig
	logger    *logrus.Logger
}

// NewServer creates the API server. push may be nil when the mission uses
// an external location source; target injection then returns 409.
func NewServer(tel vehicle.Telemetry, stats StatsFunc, push *location.PushSource, cfg config.WebConfig, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		telemetry: tel,
		stats:     stats,
		push:      push,
		authSvc: auth.NewService(auth.Config{
			JWTSecret: cfg.JWTSecret,
		}),
		cfg:    cfg,
		logger: logger,
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves the API until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("status API listening on http://%s", s.cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/status", s.handleStatus)
			r.Get("/ws", s.handleWebSocket)

			r.Group(func(r chi.Router) {
				r.Use(s.requireRole(auth.RoleOperator))
				r.Post("/target", s.handleInjectTarget)
			})
		})
	})
}

// authMiddleware validates the bearer token and stores the claims in the
// request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			// The websocket handler cannot set headers from browser
			// clients; accept the token as a query parameter there.
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			http.Error(w, "Missing authorization header", http.StatusUnauthorized)
			return
		}

		claims, err := s.authSvc.ValidateToken(token)
		if err != nil {
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyUsername, claims.Username)
		ctx = context.WithValue(ctx, contextKeyRole, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole gates a route group on the role stored by authMiddleware.
func (s *Server) requireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, _ := r.Context().Value(contextKeyRole).(string)
			if !auth.HasRole(got, role) {
				http.Error(w, "Insufficient permissions", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && header[:7] == "Bearer " {
		return header[7:]
	}
	return ""
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Headers are gone at this point; nothing left to do.
		return
	}
}
