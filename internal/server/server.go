// Package server provides the HTTP server and routing for the allocator.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/events"
	"github.com/aristath/allocator/internal/metrics"
	"github.com/aristath/allocator/internal/modules/allocation"
	optimizationhandlers "github.com/aristath/allocator/internal/modules/optimization/handlers"
	"github.com/aristath/allocator/internal/scheduler"
)

// Config holds server configuration
type Config struct {
	Log        zerolog.Logger
	Port       int
	DevMode    bool
	DataDir    string
	RunsDB     *database.DB
	CacheDB    *database.DB
	Allocation *allocation.Service
	EventBus   *events.Bus
	Metrics    *metrics.Recorder
	Scheduler  *scheduler.Scheduler // optional
}

// Server represents the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            Config
	systemHandlers *SystemHandlers
	eventsStream   *EventsStreamHandler
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg,
	}

	var dbs []*database.DB
	for _, db := range []*database.DB{cfg.RunsDB, cfg.CacheDB} {
		if db != nil {
			dbs = append(dbs, db)
		}
	}
	s.systemHandlers = NewSystemHandlers(cfg.Log, dbs, cfg.Scheduler, cfg.EventBus)
	if cfg.EventBus != nil {
		s.eventsStream = NewEventsStreamHandler(cfg.EventBus, cfg.Log)
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: event streams stay open and optimization runs
		// are bounded by their own route timeout.
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	if s.cfg.Metrics != nil {
		s.router.Use(s.cfg.Metrics.Middleware)
	}

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5, "application/json", "text/csv"))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	if s.cfg.Metrics != nil {
		s.router.Handle("/metrics", s.cfg.Metrics.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		if s.eventsStream != nil {
			r.Get("/events/stream", s.eventsStream.ServeSSE)
			r.Get("/events/ws", s.eventsStream.ServeWebSocket)
		}

		r.Route("/system", func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
			r.Get("/jobs", s.systemHandlers.HandleJobsStatus)
			r.Post("/jobs/{name}", s.systemHandlers.HandleTriggerJob)
		})

		if s.cfg.Allocation != nil {
			var history optimizationhandlers.RunHistory
			if repo := s.cfg.Allocation.History(); repo != nil {
				history = repo
			}
			optimizerHandler := optimizationhandlers.NewHandler(
				s.cfg.Allocation,
				history,
				s.cfg.Allocation.Optimizer().Defaults(),
				s.log,
			)
			optimizerHandler.RegisterRoutes(r)
		}
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
