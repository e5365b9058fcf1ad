package web

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/face-attendance/internal/users"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
	"github.com/kozaktomas/face-attendance/internal/web/static"
)

const requestTimeout = 2 * time.Minute

func (s *Server) setupRoutes() {
	svc := s.services
	sm := s.sessionManager

	var cameraStopper handlers.CameraStopper
	if svc.Camera != nil {
		cameraStopper = svc.Camera
	}

	authHandler := handlers.NewAuthHandler(svc.Users, sm, cameraStopper)
	dashboardHandler := handlers.NewDashboardHandler(svc.Attendance, s.config.Recognition.Identity, svc.Camera, svc.Recognizer)
	attendanceHandler := handlers.NewAttendanceHandler(svc.Attendance)
	usersHandler := handlers.NewUsersHandler(svc.Users)
	tasksHandler := handlers.NewTasksHandler(svc.Tasks)
	cameraHandler := handlers.NewCameraHandler(svc.Camera, svc.Recognizer)
	enrollHandler := handlers.NewEnrollHandler(svc.Enroller, svc.Recognizer, s.jobManager, s.config.Storage.FacesDir, s.config.Storage.ReferenceFile)
	configHandler := handlers.NewConfigHandler(s.config)

	adminOnly := middleware.RequireRole(users.RoleAdmin)
	employeeOnly := middleware.RequireRole(users.RoleEmployee)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.Timeout(requestTimeout))

			r.Get("/health", handlers.HealthCheck)

			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/auth/status", authHandler.Status)
			r.Post("/auth/token", authHandler.Token)
		})

		// Streaming endpoints run without the request timeout
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sm))

			r.Get("/camera/feed", cameraHandler.Feed)
			r.With(adminOnly).Get("/enroll/{jobId}/events", enrollHandler.Events)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(sm))
			r.Use(chiMiddleware.Timeout(requestTimeout))

			// Any logged in user
			r.Get("/tasks", tasksHandler.List)
			r.Get("/notifications", tasksHandler.Notifications)
			r.Post("/camera/start", cameraHandler.Start)
			r.Post("/camera/stop", cameraHandler.Stop)
			r.Get("/camera/status", cameraHandler.Status)

			r.Group(func(r chi.Router) {
				r.Use(adminOnly)

				r.Get("/dashboard", dashboardHandler.Get)
				r.Get("/config", configHandler.Get)

				r.Get("/attendance", attendanceHandler.List)
				r.Get("/attendance/summary", attendanceHandler.Summary)
				r.Get("/attendance/export", attendanceHandler.Export)
				r.Post("/attendance/import", attendanceHandler.Import)

				r.Get("/users", usersHandler.List)
				r.Post("/users", usersHandler.Create)

				r.Post("/tasks", tasksHandler.Create)

				r.Post("/enroll", enrollHandler.Start)
				r.Get("/enroll/{jobId}", enrollHandler.Status)
				r.Delete("/enroll/{jobId}", enrollHandler.Cancel)
			})

			r.Group(func(r chi.Router) {
				r.Use(employeeOnly)

				r.Post("/attendance/mark", attendanceHandler.Mark)
				r.Get("/tasks/active", tasksHandler.Active)
				r.Put("/tasks/{id}/status", tasksHandler.UpdateStatus)
			})
		})
	})

	// Serve static files for frontend (SPA)
	s.router.Get("/*", s.serveSPA)
}

// serveSPA serves the single-page application
func (s *Server) serveSPA(w http.ResponseWriter, r *http.Request) {
	fs := static.GetFileSystem()
	path := r.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	f, err := fs.Open(path)
	if err != nil {
		if strings.HasPrefix(path, "/assets/") {
			http.NotFound(w, r)
			return
		}
		// SPA routing: unknown paths get index.html
		path = "/index.html"
		if f, err = fs.Open(path); err != nil {
			http.Error(w, "frontend not available", http.StatusNotFound)
			return
		}
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil || stat.IsDir() {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", contentType(path))
	if strings.HasPrefix(path, "/assets/") {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	}
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}

func contentType(path string) string {
	switch {
	case strings.HasSuffix(path, ".html"):
		return "text/html; charset=utf-8"
	case strings.HasSuffix(path, ".css"):
		return "text/css; charset=utf-8"
	case strings.HasSuffix(path, ".js"):
		return "application/javascript; charset=utf-8"
	case strings.HasSuffix(path, ".json"):
		return "application/json"
	case strings.HasSuffix(path, ".svg"):
		return "image/svg+xml"
	case strings.HasSuffix(path, ".png"):
		return "image/png"
	case strings.HasSuffix(path, ".ico"):
		return "image/x-icon"
	default:
		return "application/octet-stream"
	}
}
