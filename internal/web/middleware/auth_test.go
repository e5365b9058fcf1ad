package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNewSessionManager(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	if sm == nil {
		t.Fatal("NewSessionManager returned nil")
		return
	}
	if sm.sessions == nil {
		t.Error("sessions map is nil")
	}
	if sm.lifetime != DefaultSessionLifetime {
		t.Errorf("lifetime = %v, want %v", sm.lifetime, DefaultSessionLifetime)
	}
}

func TestSessionManager_CreateSession(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)

	session, err := sm.CreateSession("alice", "employee")
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if session.ID == "" {
		t.Error("session ID is empty")
	}
	if session.Username != "alice" || session.Role != "employee" {
		t.Errorf("session = %+v", session)
	}
	if got := session.ExpiresAt.Sub(session.CreatedAt); got != 25*time.Minute {
		t.Errorf("lifetime = %v, want 25m", got)
	}
}

func TestSessionManager_GetSession(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)

	session, _ := sm.CreateSession("alice", "employee")

	retrieved := sm.GetSession(session.ID)
	if retrieved == nil {
		t.Fatal("GetSession() returned nil for existing session")
		return
	}
	if retrieved.Username != "alice" {
		t.Errorf("Username = %s, want alice", retrieved.Username)
	}

	if sm.GetSession("nonexistent-id") != nil {
		t.Error("GetSession() should return nil for non-existing session")
	}
}

func TestSessionManager_Expiry(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return now }

	session, _ := sm.CreateSession("alice", "employee")

	now = now.Add(24 * time.Minute)
	if sm.GetSession(session.ID) == nil {
		t.Fatal("session should still be valid after 24 minutes")
	}

	now = now.Add(2 * time.Minute)
	if sm.GetSession(session.ID) != nil {
		t.Error("session should expire after 25 minutes")
	}
}

func TestSessionManager_DeleteSession(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)

	session, _ := sm.CreateSession("alice", "employee")
	sm.DeleteSession(session.ID)

	if sm.GetSession(session.ID) != nil {
		t.Error("GetSession() should return nil after deletion")
	}
}

func TestSessionManager_SetAndGetSessionCookie(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	session, _ := sm.CreateSession("admin", "admin")

	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)
	sm.SetSessionCookie(w, r, session)

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName {
			sessionCookie = c
			break
		}
	}
	if sessionCookie == nil {
		t.Fatal("Session cookie not found")
		return
	}
	if !sessionCookie.HttpOnly {
		t.Error("cookie should be HttpOnly")
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.AddCookie(sessionCookie)

	retrieved := sm.GetSessionFromRequest(req)
	if retrieved == nil {
		t.Fatal("GetSessionFromRequest() returned nil")
		return
	}
	if retrieved.ID != session.ID {
		t.Errorf("Session ID = %s, want %s", retrieved.ID, session.ID)
	}
}

func TestSessionManager_InvalidCookie(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	session, _ := sm.CreateSession("admin", "admin")

	tests := []struct {
		name  string
		value string
	}{
		{"bad signature", session.ID + ".invalid-signature"},
		{"no signature", session.ID},
		{"unknown session", "invalid-session." + sm.signData("invalid-session")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: tt.value})
			if sm.GetSessionFromRequest(req) != nil {
				t.Error("GetSessionFromRequest() should return nil")
			}
		})
	}
}

func TestSessionManager_BearerAuth(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	session, _ := sm.CreateSession("alice", "employee")

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+session.ID)

	retrieved := sm.GetSessionFromRequest(req)
	if retrieved == nil {
		t.Fatal("GetSessionFromRequest() returned nil for Bearer auth")
		return
	}
	if retrieved.ID != session.ID {
		t.Errorf("Session ID = %s, want %s", retrieved.ID, session.ID)
	}
}

func TestSessionManager_BearerJWT(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)

	req := httptest.NewRequest("GET", "/", nil)
	token, _, _ := NewTokenIssuer("jwt-secret", time.Hour).Issue("bob", "employee")
	req.Header.Set("Authorization", "Bearer "+token)
	if sm.GetSessionFromRequest(req) != nil {
		t.Fatal("tokens must be rejected when no issuer is configured")
	}

	sm.SetTokenIssuer(NewTokenIssuer("jwt-secret", time.Hour))
	session := sm.GetSessionFromRequest(req)
	if session == nil {
		t.Fatal("GetSessionFromRequest() returned nil for a valid JWT")
		return
	}
	if session.Username != "bob" || session.Role != "employee" {
		t.Errorf("session = %+v", session)
	}
}

// memoryRepo is an in-memory SessionRepository.
type memoryRepo struct {
	mu       sync.Mutex
	sessions map[string]StoredSession
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{sessions: make(map[string]StoredSession)}
}

func (m *memoryRepo) Save(ctx context.Context, s StoredSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *memoryRepo) Get(ctx context.Context, id string) (*StoredSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *memoryRepo) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memoryRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(m.sessions, id)
			n++
		}
	}
	return n, nil
}

func TestSessionManager_Persistence(t *testing.T) {
	repo := newMemoryRepo()
	first := NewSessionManager("test-secret", repo)
	session, _ := first.CreateSession("alice", "employee")

	// A new manager, e.g. after a restart, finds the session in the repository.
	second := NewSessionManager("test-secret", repo)
	restored := second.GetSession(session.ID)
	if restored == nil {
		t.Fatal("session not restored from repository")
		return
	}
	if restored.Username != "alice" || restored.Role != "employee" {
		t.Errorf("restored = %+v", restored)
	}

	second.DeleteSession(session.ID)
	if got, _ := repo.Get(context.Background(), session.ID); got != nil {
		t.Error("session should be removed from repository")
	}
}

func TestSessionManager_Cleanup(t *testing.T) {
	repo := newMemoryRepo()
	sm := NewSessionManager("test-secret", repo)
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	sm.now = func() time.Time { return now }

	sm.CreateSession("alice", "employee")
	now = now.Add(time.Hour)
	fresh, _ := sm.CreateSession("bob", "employee")

	sm.cleanup()

	if len(sm.sessions) != 1 || sm.sessions[fresh.ID] == nil {
		t.Errorf("expected only the fresh session in memory, got %d", len(sm.sessions))
	}
	if len(repo.sessions) != 1 {
		t.Errorf("expected 1 stored session, got %d", len(repo.sessions))
	}
}

func TestSessionManager_StartStopCleanup(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	sm.StartCleanup()
	if sm.scheduler == nil {
		t.Fatal("scheduler not started")
	}
	sm.Stop()
	sm.Stop()
	if sm.scheduler != nil {
		t.Error("scheduler not cleared")
	}
}

func TestRequireAuth(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)
	session, _ := sm.CreateSession("alice", "employee")

	handlerCalled := false
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		if GetSessionFromContext(r.Context()) == nil {
			t.Error("Session not found in context")
		}
		w.WriteHeader(http.StatusOK)
	})

	protectedHandler := RequireAuth(sm)(testHandler)

	t.Run("valid session", func(t *testing.T) {
		handlerCalled = false
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/protected", nil)
		req.Header.Set("Authorization", "Bearer "+session.ID)

		protectedHandler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusOK)
		}
		if !handlerCalled {
			t.Error("Handler was not called")
		}
	})

	t.Run("no session", func(t *testing.T) {
		handlerCalled = false
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/protected", nil)

		protectedHandler.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("Status = %d, want %d", w.Code, http.StatusUnauthorized)
		}
		if handlerCalled {
			t.Error("Handler should not be called for unauthorized request")
		}
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["error"] != "unauthorized" {
			t.Errorf("unexpected body %q", w.Body.String())
		}
	})
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireRole("admin")(ok)

	tests := []struct {
		name    string
		session *Session
		want    int
	}{
		{"admin", &Session{Username: "admin", Role: "admin"}, http.StatusNoContent},
		{"employee", &Session{Username: "alice", Role: "employee"}, http.StatusForbidden},
		{"anonymous", nil, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.session != nil {
				req = req.WithContext(SetSessionInContext(req.Context(), tt.session))
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("Status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestGetSessionFromContext(t *testing.T) {
	session := &Session{ID: "test123", Username: "alice"}
	ctx := context.WithValue(context.Background(), sessionContextKey, session)

	retrieved := GetSessionFromContext(ctx)
	if retrieved == nil {
		t.Fatal("GetSessionFromContext() returned nil")
		return
	}
	if retrieved.ID != "test123" {
		t.Errorf("Session ID = %s, want test123", retrieved.ID)
	}

	if GetSessionFromContext(context.Background()) != nil {
		t.Error("GetSessionFromContext() should return nil for empty context")
	}
}

func TestSessionManager_ClearSessionCookie(t *testing.T) {
	sm := NewSessionManager("test-secret", nil)

	w := httptest.NewRecorder()
	sm.ClearSessionCookie(w)

	var sessionCookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == sessionCookieName {
			sessionCookie = c
			break
		}
	}
	if sessionCookie == nil {
		t.Fatal("Session cookie not found")
		return
	}
	if sessionCookie.MaxAge != -1 {
		t.Errorf("MaxAge = %d, want -1 (expired)", sessionCookie.MaxAge)
	}
}

func TestSession_MarshalJSON(t *testing.T) {
	session := &Session{
		ID:        "test123",
		Username:  "alice",
		Role:      "employee",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(25 * time.Minute),
	}

	data, err := session.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON() error = %v", err)
	}

	jsonStr := string(data)
	for _, want := range []string{`"session_id":"test123"`, `"username":"alice"`, `"role":"employee"`} {
		if !strings.Contains(jsonStr, want) {
			t.Errorf("JSON %s should contain %s", jsonStr, want)
		}
	}
}
