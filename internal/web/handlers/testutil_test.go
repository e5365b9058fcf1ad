package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/tasks"
	"github.com/kozaktomas/face-attendance/internal/users"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

const (
	testAdmin         = "admin"
	testAdminPassword = "admin-pass"
)

// testConfig creates a minimal config rooted at dir
func testConfig(dir string) *config.Config {
	return &config.Config{
		Storage: config.StorageConfig{
			DataDir:        dir,
			AttendanceFile: filepath.Join(dir, "attendance.csv"),
			UsersFile:      filepath.Join(dir, "users.csv"),
			TasksFile:      filepath.Join(dir, "tasks_local.csv"),
			ReferenceFile:  filepath.Join(dir, "model", "face_embedding.npy"),
			FacesDir:       filepath.Join(dir, "faces_new"),
		},
		Recognition: config.RecognitionConfig{
			Identity:     "Aman",
			Threshold:    0.7,
			FaceSize:     160,
			CaptureCount: 80,
		},
		Web:  config.WebConfig{SessionLifetime: 25 * time.Minute},
		Auth: config.AuthConfig{AdminUser: testAdmin, AdminPassword: testAdminPassword},
	}
}

// testEnv wires the services over temporary files
type testEnv struct {
	cfg        *config.Config
	sm         *middleware.SessionManager
	attendance *attendance.Service
	users      *users.Service
	tasks      *tasks.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testConfig(t.TempDir())

	us := users.NewService(database.NewTable(cfg.Storage.UsersFile, database.UserColumns), nil, cfg.Auth.AdminUser, cfg.Auth.AdminPassword)
	return &testEnv{
		cfg:        cfg,
		sm:         middleware.NewSessionManager("test-secret", nil),
		attendance: attendance.NewService(database.NewTable(cfg.Storage.AttendanceFile, database.AttendanceColumns), nil),
		users:      us,
		tasks:      tasks.NewService(database.NewTable(cfg.Storage.TasksFile, database.TaskColumns), nil, us),
	}
}

func (e *testEnv) addEmployee(t *testing.T, username string) {
	t.Helper()
	if _, err := e.users.Add(context.Background(), username, username+" Full", "secret"); err != nil {
		t.Fatalf("add user %s: %v", username, err)
	}
}

// requestAs creates a request carrying a session for username
func requestAs(method, path string, body io.Reader, username, role string) *http.Request {
	req := httptest.NewRequest(method, path, body)
	session := &middleware.Session{ID: "test-" + username, Username: username, Role: role}
	return req.WithContext(middleware.SetSessionInContext(req.Context(), session))
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONError checks if the response is a JSON error with the expected message
func assertJSONError(t *testing.T, recorder *httptest.ResponseRecorder, expectedMessage string) {
	t.Helper()
	var result map[string]string
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse error response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result["error"] != expectedMessage {
		t.Errorf("expected error '%s', got '%s'", expectedMessage, result["error"])
	}
}
