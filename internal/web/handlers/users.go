package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/users"
)

// UsersHandler manages employee accounts
type UsersHandler struct {
	users *users.Service
}

// NewUsersHandler creates a new users handler
func NewUsersHandler(us *users.Service) *UsersHandler {
	return &UsersHandler{users: us}
}

// List returns all employees
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.users.List(r.Context())
	if err != nil {
		slog.Error("failed to list users", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read users")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

type createUserRequest struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Password string `json:"password"`
}

// Create adds an employee account
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.users.Add(r.Context(), req.Username, req.FullName, req.Password)
	switch {
	case errors.Is(err, users.ErrMissingFields):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, users.ErrUserExists):
		respondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		slog.Error("failed to add user", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to add user")
		return
	}

	slog.Info("user added", "username", sanitizeForLog(user.Username))
	respondJSON(w, http.StatusCreated, user)
}
