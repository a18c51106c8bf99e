// Package api exposes the playbook and run store over HTTP. Handlers are
// thin: validation and JSON plumbing here, semantics in the store and the
// derived-computation packages.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/opatlas/opatlas/pkg/auth"
	"github.com/opatlas/opatlas/pkg/config"
	"github.com/opatlas/opatlas/pkg/middleware"
	"github.com/opatlas/opatlas/pkg/observability"
	"github.com/opatlas/opatlas/pkg/store"
)

// Server is the opatlas HTTP API server.
type Server struct {
	log      *logrus.Logger
	cfg      *config.Config
	store    store.Store
	sessions *auth.Manager
	limiter  *middleware.RateLimiter

	httpServer *http.Server

	mu      sync.Mutex
	started bool
}

// New creates an API server over the given store.
func New(log *logrus.Logger, cfg *config.Config, st store.Store, sessions *auth.Manager) *Server {
	return &Server{
		log:      log,
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		limiter:  middleware.NewRateLimiter(log, cfg.RateLimit),
	}
}

// Router builds the chi router with all routes and middleware attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(observability.NewLoggingMiddleware(s.log).Middleware())
	if s.cfg.Observability.MetricsEnabled {
		r.Use(observability.MetricsMiddleware)
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.sessions.Middleware)

		r.Route("/playbooks", func(r chi.Router) {
			r.Get("/", s.handleListPlaybooks)
			r.Get("/search", s.handleSearchPlaybooks)
			r.Get("/tags", s.handleListTags)
			r.With(s.limiter.Middleware).Post("/", s.handleCreatePlaybook)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetPlaybook)
				r.With(s.limiter.Middleware).Patch("/", s.handleUpdatePlaybook)
				r.With(s.limiter.Middleware).Delete("/", s.handleDeletePlaybook)
			})
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/metrics", s.handleRunMetrics)
			r.With(s.limiter.Middleware).Post("/", s.handleCreateRun)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRun)
				r.Get("/checklist", s.handleRunChecklist)
				r.With(s.limiter.Middleware).Patch("/", s.handleUpdateRun)
				r.With(s.limiter.Middleware).Delete("/", s.handleDeleteRun)
			})
		})

		r.Get("/recommendations", s.handleRecommendations)
	})

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.httpServer = &http.Server{
		Addr:              s.cfg.Server.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.started = true
	s.mu.Unlock()

	s.log.WithField("addr", s.cfg.Server.Addr()).Info("API server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false

	s.limiter.Close()

	return s.httpServer.Shutdown(ctx)
}
