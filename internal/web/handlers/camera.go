package handlers

import (
	"context"
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/kozaktomas/face-attendance/internal/capture"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

const mjpegBoundary = "frame"

// CameraHandler starts, stops and streams the recognition session
type CameraHandler struct {
	camera     *capture.Manager
	recognizer *recognition.Recognizer
}

// NewCameraHandler creates a new camera handler
func NewCameraHandler(camera *capture.Manager, recognizer *recognition.Recognizer) *CameraHandler {
	return &CameraHandler{camera: camera, recognizer: recognizer}
}

// Start opens the camera and begins recognition
func (h *CameraHandler) Start(w http.ResponseWriter, r *http.Request) {
	if !h.recognizer.HasReference() {
		respondError(w, http.StatusConflict, recognition.ErrNoReference.Error())
		return
	}

	// The session outlives this request; it ends on Stop, logout or shutdown.
	err := h.camera.Start(context.WithoutCancel(r.Context()), h.recognizer.Process)
	switch {
	case errors.Is(err, capture.ErrCameraBusy):
		respondError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		slog.Error("failed to start camera", "error", err)
		respondError(w, http.StatusServiceUnavailable, "failed to open camera")
		return
	}

	slog.Info("camera started")
	respondJSON(w, http.StatusOK, h.camera.Status())
}

// Stop ends the session and releases the camera
func (h *CameraHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.camera.Stop()
	respondJSON(w, http.StatusOK, h.camera.Status())
}

// Status reports the capture session state
func (h *CameraHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.camera.Status())
}

// Feed streams annotated frames as MJPEG until the session ends or the
// client disconnects
func (h *CameraHandler) Feed(w http.ResponseWriter, r *http.Request) {
	if h.camera.Status().State != capture.StateStreaming {
		respondError(w, http.StatusConflict, "camera is not running")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	frames, unsubscribe := h.camera.Subscribe()
	defer unsubscribe()
	done := h.camera.Done()

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(mjpegBoundary); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to start stream")
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+mjpegBoundary)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			mw.Close()
			return
		case frame := <-frames:
			part, err := mw.CreatePart(textproto.MIMEHeader{
				"Content-Type":   {"image/jpeg"},
				"Content-Length": {strconv.Itoa(len(frame))},
			})
			if err != nil {
				return
			}
			if _, err := part.Write(frame); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
