package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kozaktomas/face-attendance/internal/blob"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/events"
	"github.com/kozaktomas/face-attendance/internal/logger"
	"github.com/kozaktomas/face-attendance/internal/quality"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/kozaktomas/face-attendance/internal/review"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

// Deps are the services the HTTP layer exposes.
type Deps struct {
	Store       database.Store
	Blobs       blob.Store
	Bus         *events.Bus
	Gate        quality.Gate
	Sessions    *enrollment.SessionManager
	Pipeline    *enrollment.Pipeline
	Reviewer    *review.Reviewer
	Recognition *recognition.Service
	Logger      *logger.Logger
}

// Server represents the web server
type Server struct {
	config     *config.Config
	deps       Deps
	log        *logger.Logger
	router     *chi.Mux
	httpServer *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.Default()
	}
	log := deps.Logger.Component("web")
	r := chi.NewRouter()

	s := &Server{
		config: cfg,
		deps:   deps,
		log:    log,
		router: r,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.RequestLogger(&chiMiddleware.DefaultLogFormatter{Logger: log.Entry, NoColor: true}))
	r.Use(middleware.Logger(log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE streams stay open; handlers bound their own work
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start runs the background workers and serves until Shutdown.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.startBackground(ctx)

	s.log.WithField("addr", s.httpServer.Addr).Info("Starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cancel()
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// startBackground prunes idle enrollment sessions.
func (s *Server) startBackground(ctx context.Context) {
	if s.deps.Sessions != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ticker := time.NewTicker(constants.EnrollmentSessionSweep)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := s.deps.Sessions.Prune(constants.EnrollmentSessionTTL); n > 0 {
						s.log.WithField("sessions", n).Debug("Pruned idle enrollment sessions")
					}
				}
			}
		}()
	}
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down web server")

	if s.cancel != nil {
		s.cancel()
	}
	err := s.httpServer.Shutdown(ctx)
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
