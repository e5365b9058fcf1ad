package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/capture"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/recognition"
	"github.com/kozaktomas/face-attendance/internal/tasks"
	"github.com/kozaktomas/face-attendance/internal/users"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
	"github.com/kozaktomas/face-attendance/internal/web/static"
)

// Services are the domain services exposed over HTTP.
type Services struct {
	Attendance *attendance.Service
	Users      *users.Service
	Tasks      *tasks.Service
	Camera     *capture.Manager
	Recognizer *recognition.Recognizer
	Enroller   *recognition.Enroller
}

// Server represents the web server
type Server struct {
	config         *config.Config
	services       Services
	router         *chi.Mux
	httpServer     *http.Server
	jobManager     *handlers.JobManager
	sessionManager *middleware.SessionManager
}

// NewServer creates a new web server. sessionRepo may be nil.
func NewServer(cfg *config.Config, services Services, sessionRepo middleware.SessionRepository) *Server {
	r := chi.NewRouter()

	sessionManager := middleware.NewSessionManager(cfg.Web.SessionSecret, sessionRepo)
	sessionManager.SetLifetime(cfg.Web.SessionLifetime)
	sessionManager.SetTokenIssuer(middleware.NewTokenIssuer(cfg.Auth.JWTSecret, 0))
	sessionManager.StartCleanup()

	s := &Server{
		config:         cfg,
		services:       services,
		router:         r,
		jobManager:     handlers.NewJobManager(),
		sessionManager: sessionManager,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.SecurityHeaders())

	s.setupRoutes()
	if !static.HasBundle() {
		slog.Info("dashboard bundle not embedded, serving placeholder page")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // MJPEG and SSE streams stay open
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting web server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown releases the camera and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down web server")

	if s.sessionManager != nil {
		s.sessionManager.Stop()
	}
	if s.services.Camera != nil {
		s.services.Camera.Stop()
	}
	if job := s.jobManager.ActiveJob(); job != nil {
		job.Cancel()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Sessions returns the session manager
func (s *Server) Sessions() *middleware.SessionManager {
	return s.sessionManager
}
