package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/kozaktomas/face-attendance/internal/users"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

// CameraStopper releases the camera.
type CameraStopper interface {
	Stop()
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	users          *users.Service
	sessionManager *middleware.SessionManager
	camera         CameraStopper
}

// NewAuthHandler creates a new auth handler. camera may be nil.
func NewAuthHandler(us *users.Service, sm *middleware.SessionManager, camera CameraStopper) *AuthHandler {
	return &AuthHandler{
		users:          us,
		sessionManager: sm,
		camera:         camera,
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents a login response
type LoginResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id,omitempty"`
	Username  string `json:"username,omitempty"`
	Role      string `json:"role,omitempty"`
	ExpiresAt string `json:"expires_at,omitempty"`
	Error     string `json:"error,omitempty"`
}

// authenticate decodes credentials and checks them. It writes the error
// response itself and returns nil on failure.
func (h *AuthHandler) authenticate(w http.ResponseWriter, r *http.Request) *users.User {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return nil
	}
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password are required")
		return nil
	}

	user, err := h.users.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		slog.Info("login failed", "username", sanitizeForLog(req.Username))
		respondJSON(w, http.StatusUnauthorized, LoginResponse{Error: "invalid credentials"})
		return nil
	}
	if err != nil {
		slog.Error("authentication error", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to authenticate")
		return nil
	}
	return user
}

// Login handles dashboard login and sets the session cookie
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	user := h.authenticate(w, r)
	if user == nil {
		return
	}

	session, err := h.sessionManager.CreateSession(user.Username, user.Role)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	h.sessionManager.SetSessionCookie(w, r, session)

	respondJSON(w, http.StatusOK, LoginResponse{
		Success:   true,
		SessionID: session.ID,
		Username:  session.Username,
		Role:      session.Role,
		ExpiresAt: session.ExpiresAt.Format(time.RFC3339),
	})
}

// Logout ends the session and releases the camera
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if session := h.sessionManager.GetSessionFromRequest(r); session != nil && session.ID != "" {
		h.sessionManager.DeleteSession(session.ID)
	}
	if h.camera != nil {
		h.camera.Stop()
	}

	h.sessionManager.ClearSessionCookie(w)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// StatusResponse represents the auth status response
type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	Role          string `json:"role,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
}

// Status checks if the user is authenticated by validating the session.
func (h *AuthHandler) Status(w http.ResponseWriter, r *http.Request) {
	session := h.sessionManager.GetSessionFromRequest(r)
	if session == nil {
		respondJSON(w, http.StatusOK, StatusResponse{Authenticated: false})
		return
	}
	respondJSON(w, http.StatusOK, StatusResponse{
		Authenticated: true,
		Username:      session.Username,
		Role:          session.Role,
		ExpiresAt:     session.ExpiresAt.Format(time.RFC3339),
	})
}

// TokenResponse is returned to mobile clients
type TokenResponse struct {
	Token     string `json:"token"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	ExpiresAt string `json:"expires_at"`
}

// Token authenticates a mobile client and returns a signed token
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	tokens := h.sessionManager.Tokens()
	if tokens == nil {
		respondError(w, http.StatusNotImplemented, "token login is disabled")
		return
	}

	user := h.authenticate(w, r)
	if user == nil {
		return
	}

	token, expires, err := tokens.Issue(user.Username, user.Role)
	if err != nil {
		slog.Error("failed to issue token", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	respondJSON(w, http.StatusOK, TokenResponse{
		Token:     token,
		Username:  user.Username,
		Role:      user.Role,
		ExpiresAt: expires.Format(time.RFC3339),
	})
}
