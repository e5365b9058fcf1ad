package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/tasks"
	"github.com/kozaktomas/face-attendance/internal/users"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

// activeTaskID in the URL selects the caller's active task.
const activeTaskID = "active"

// TasksHandler handles task assignment and notifications
type TasksHandler struct {
	tasks *tasks.Service
}

// NewTasksHandler creates a new tasks handler
func NewTasksHandler(svc *tasks.Service) *TasksHandler {
	return &TasksHandler{tasks: svc}
}

func isAdmin(s *middleware.Session) bool {
	return s.Role == users.RoleAdmin
}

// List returns task history: all tasks for admins, own tasks otherwise
func (h *TasksHandler) List(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	history, err := h.tasks.History(r.Context(), session.Username, isAdmin(session))
	if err != nil {
		slog.Error("failed to list tasks", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read tasks")
		return
	}
	respondJSON(w, http.StatusOK, history)
}

type assignTaskRequest struct {
	User string `json:"user"`
	Task string `json:"task"`
}

// Create assigns a task to an employee
func (h *TasksHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req assignTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	task, err := h.tasks.Assign(r.Context(), req.User, req.Task)
	switch {
	case errors.Is(err, tasks.ErrEmptyTask):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, tasks.ErrUnknownUser):
		respondError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		slog.Error("failed to assign task", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to assign task")
		return
	}

	slog.Info("task assigned", "user", sanitizeForLog(task.User), "id", task.ID)
	respondJSON(w, http.StatusCreated, task)
}

// Active returns the caller's most recent task
func (h *TasksHandler) Active(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	task, err := h.tasks.Active(r.Context(), session.Username)
	if err != nil {
		slog.Error("failed to load active task", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read tasks")
		return
	}
	respondJSON(w, http.StatusOK, map[string]*tasks.Task{"task": task})
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus changes the status of one of the caller's tasks
func (h *TasksHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req updateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := chi.URLParam(r, "id")
	if id == activeTaskID {
		id = ""
	}

	task, err := h.tasks.UpdateStatus(r.Context(), session.Username, id, req.Status)
	switch {
	case errors.Is(err, tasks.ErrInvalidStatus):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, tasks.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, tasks.ErrForbidden):
		respondError(w, http.StatusForbidden, err.Error())
		return
	case err != nil:
		slog.Error("failed to update task", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to update task")
		return
	}
	respondJSON(w, http.StatusOK, task)
}

// Notifications returns unseen task changes and marks them seen
func (h *TasksHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	n, err := h.tasks.CheckNotifications(r.Context(), session.Username, isAdmin(session))
	if err != nil {
		slog.Error("failed to check notifications", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read tasks")
		return
	}
	respondJSON(w, http.StatusOK, n)
}
