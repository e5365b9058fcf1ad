package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AttendanceHandler serves the attendance log
type AttendanceHandler struct {
	attendance *attendance.Service
}

// NewAttendanceHandler creates a new attendance handler
func NewAttendanceHandler(svc *attendance.Service) *AttendanceHandler {
	return &AttendanceHandler{attendance: svc}
}

// parseFilter reads name, date_from and date_to query parameters.
func parseFilter(r *http.Request) (attendance.Filter, error) {
	q := r.URL.Query()
	f := attendance.Filter{Name: strings.TrimSpace(q.Get("name"))}

	parse := func(key string) (time.Time, error) {
		v := strings.TrimSpace(q.Get(key))
		if v == "" {
			return time.Time{}, nil
		}
		t, err := time.ParseInLocation(constants.QueryDateFormat, v, time.Local)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s, expected YYYY-MM-DD", key)
		}
		return t, nil
	}

	var err error
	if f.From, err = parse("date_from"); err != nil {
		return f, err
	}
	if f.To, err = parse("date_to"); err != nil {
		return f, err
	}
	return f, nil
}

// AttendanceListResponse is the filtered log
type AttendanceListResponse struct {
	Records []attendance.Record `json:"records"`
	Count   int                 `json:"count"`
}

// List returns the filtered log, most recent first
func (h *AttendanceHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.attendance.List(r.Context(), f)
	if err != nil {
		slog.Error("failed to list attendance", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read attendance")
		return
	}
	respondJSON(w, http.StatusOK, AttendanceListResponse{Records: records, Count: len(records)})
}

// Summary returns per-day counts and the most frequent names
func (h *AttendanceHandler) Summary(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	summary, err := h.attendance.Summarize(r.Context(), f)
	if err != nil {
		slog.Error("failed to summarize attendance", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read attendance")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// Export downloads the filtered log as a spreadsheet
func (h *AttendanceHandler) Export(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var buf bytes.Buffer
	if _, err := h.attendance.ExportXLSX(r.Context(), &buf, f); err != nil {
		slog.Error("failed to export attendance", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to export attendance")
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	filename := "attendance_" + h.attendance.Now().Format("20060102") + ".xlsx"
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// Import appends records from an uploaded .csv or .xlsx file
func (h *AttendanceHandler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse upload")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	result, err := h.attendance.Import(r.Context(), file, header.Filename)
	switch {
	case errors.Is(err, attendance.ErrUnsupportedFormat), errors.Is(err, attendance.ErrMissingColumns):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("failed to import attendance", "file", sanitizeForLog(header.Filename), "error", err)
		respondError(w, http.StatusBadRequest, "failed to import file")
		return
	}

	slog.Info("attendance imported", "file", sanitizeForLog(header.Filename), "added", result.Added, "skipped", result.Skipped)
	respondJSON(w, http.StatusOK, result)
}

// MarkResponse is returned by a manual attendance mark
type MarkResponse struct {
	Record  attendance.Record `json:"record"`
	Created bool              `json:"created"`
	Message string            `json:"message"`
}

// Mark records the calling employee as present today
func (h *AttendanceHandler) Mark(w http.ResponseWriter, r *http.Request) {
	session := middleware.GetSessionFromContext(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	rec, created, err := h.attendance.MarkPresent(r.Context(), session.Username, h.attendance.Now(), database.SourceManual)
	if err != nil {
		slog.Error("failed to mark attendance", "user", session.Username, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to mark attendance")
		return
	}

	resp := MarkResponse{Record: rec, Created: created, Message: "Attendance marked"}
	if !created {
		resp.Message = "Attendance already marked today"
	}
	respondJSON(w, http.StatusOK, resp)
}
