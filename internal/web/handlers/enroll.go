package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// ReferenceSetter receives a new reference after enrollment.
type ReferenceSetter interface {
	SetReference(ref []float64)
}

// EnrollHandler runs enrollment as a background job
type EnrollHandler struct {
	enroller   *recognition.Enroller
	recognizer ReferenceSetter
	jobs       *JobManager
	facesDir   string
	output     string
}

// NewEnrollHandler creates a new enroll handler
func NewEnrollHandler(enroller *recognition.Enroller, recognizer ReferenceSetter, jobs *JobManager, facesDir, output string) *EnrollHandler {
	return &EnrollHandler{
		enroller:   enroller,
		recognizer: recognizer,
		jobs:       jobs,
		facesDir:   facesDir,
		output:     output,
	}
}

// Start launches an enrollment job over the configured faces directory
func (h *EnrollHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(context.Background())
	job, created := h.jobs.CreateJob(uuid.NewString(), cancel)
	if !created {
		cancel()
		respondJSON(w, http.StatusConflict, map[string]string{
			"error":  "enrollment already running",
			"job_id": job.State().ID,
		})
		return
	}

	go h.run(ctx, job)

	respondJSON(w, http.StatusAccepted, job.State())
}

func (h *EnrollHandler) run(ctx context.Context, job *EnrollJob) {
	job.setStatus(JobStatusRunning)
	slog.Info("enrollment started", "job", job.State().ID, "dir", h.facesDir)

	result, ref, err := h.enroller.Enroll(ctx, h.facesDir, h.output, job.progress)
	switch {
	case errors.Is(err, context.Canceled):
		job.finish(JobStatusCancelled, result, err)
	case err != nil:
		slog.Warn("enrollment failed", "job", job.State().ID, "error", err)
		job.finish(JobStatusFailed, result, err)
	default:
		h.recognizer.SetReference(ref)
		slog.Info("enrollment completed", "embedded", result.Embedded, "skipped", result.Skipped, "dim", result.Dim)
		job.finish(JobStatusCompleted, result, nil)
	}
}

func (h *EnrollHandler) lookup(w http.ResponseWriter, r *http.Request) *EnrollJob {
	job := h.jobs.GetJob(chi.URLParam(r, "jobId"))
	if job == nil {
		respondError(w, http.StatusNotFound, "job not found")
	}
	return job
}

// Status returns the job state
func (h *EnrollHandler) Status(w http.ResponseWriter, r *http.Request) {
	if job := h.lookup(w, r); job != nil {
		respondJSON(w, http.StatusOK, job.State())
	}
}

// Events streams job progress via SSE
func (h *EnrollHandler) Events(w http.ResponseWriter, r *http.Request) {
	streamSSEEvents(w, r,
		func(id string) SSEJob {
			if job := h.jobs.GetJob(id); job != nil {
				return job
			}
			return nil
		},
		func(job SSEJob) any { return job.(*EnrollJob).State() },
	)
}

// Cancel stops a running job
func (h *EnrollHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	job := h.lookup(w, r)
	if job == nil {
		return
	}
	job.Cancel()
	respondJSON(w, http.StatusOK, job.State())
}
