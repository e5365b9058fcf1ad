package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/config"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Identity       string  `json:"identity"`
	Threshold      float64 `json:"threshold"`
	FaceSize       int     `json:"face_size"`
	CaptureCount   int     `json:"capture_count"`
	FacesDir       string  `json:"faces_dir"`
	MirrorEnabled  bool    `json:"mirror_enabled"`
	TokensEnabled  bool    `json:"tokens_enabled"`
	SessionMinutes int     `json:"session_minutes"`
}

// Get returns the non-secret runtime configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ConfigResponse{
		Identity:       h.config.Recognition.Identity,
		Threshold:      h.config.Recognition.Threshold,
		FaceSize:       h.config.Recognition.FaceSize,
		CaptureCount:   h.config.Recognition.CaptureCount,
		FacesDir:       h.config.Storage.FacesDir,
		MirrorEnabled:  h.config.Mirror.URL != "",
		TokensEnabled:  h.config.Auth.JWTSecret != "",
		SessionMinutes: int(h.config.Web.SessionLifetime.Minutes()),
	})
}
