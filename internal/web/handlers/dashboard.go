package handlers

import (
	"log/slog"
	"net/http"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/capture"
)

// CameraStatusProvider reports the capture session state.
type CameraStatusProvider interface {
	Status() capture.Status
}

// ReferenceChecker reports whether recognition has a reference loaded.
type ReferenceChecker interface {
	HasReference() bool
}

// DashboardHandler serves the admin overview
type DashboardHandler struct {
	attendance *attendance.Service
	identity   string
	camera     CameraStatusProvider
	recognizer ReferenceChecker
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(svc *attendance.Service, identity string, camera CameraStatusProvider, recognizer ReferenceChecker) *DashboardHandler {
	return &DashboardHandler{attendance: svc, identity: identity, camera: camera, recognizer: recognizer}
}

// DashboardResponse combines today's status with the camera state
type DashboardResponse struct {
	*attendance.DayStatus
	Camera   capture.Status `json:"camera"`
	Enrolled bool           `json:"enrolled"`
}

// Get returns today's attendance status and the latest log entries
func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	status, err := h.attendance.Today(r.Context(), h.identity)
	if err != nil {
		slog.Error("failed to load dashboard", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read attendance")
		return
	}

	resp := DashboardResponse{DayStatus: status}
	if h.camera != nil {
		resp.Camera = h.camera.Status()
	}
	if h.recognizer != nil {
		resp.Enrolled = h.recognizer.HasReference()
	}
	respondJSON(w, http.StatusOK, resp)
}
