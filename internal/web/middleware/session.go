package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
)

const (
	sessionCookieName = "attendance_session"

	// DefaultSessionLifetime is how long a dashboard login stays valid.
	DefaultSessionLifetime = 25 * time.Minute

	cleanupIntervalMinutes = 5
	repoTimeout            = 5 * time.Second
)

// Session represents a logged in user
type Session struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// StoredSession is the persisted form of a session
type StoredSession struct {
	ID        string
	Username  string
	Role      string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionRepository persists sessions so logins survive restarts
type SessionRepository interface {
	Save(ctx context.Context, s StoredSession) error
	Get(ctx context.Context, sessionID string) (*StoredSession, error)
	Delete(ctx context.Context, sessionID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// SessionManager handles session creation and validation
type SessionManager struct {
	secret   []byte
	lifetime time.Duration
	sessions map[string]*Session
	mu       sync.RWMutex
	repo     SessionRepository
	tokens   *TokenIssuer

	scheduler *gocron.Scheduler
	now       func() time.Time
}

// NewSessionManager creates a new session manager. repo may be nil, in which
// case sessions live in memory only.
func NewSessionManager(secret string, repo SessionRepository) *SessionManager {
	if secret == "" {
		slog.Warn("WEB_SESSION_SECRET not set, using a random secret; sessions end on restart")
		secret = randomString(32)
	}
	return &SessionManager{
		secret:   []byte(secret),
		lifetime: DefaultSessionLifetime,
		sessions: make(map[string]*Session),
		repo:     repo,
		now:      time.Now,
	}
}

// SetLifetime overrides the session lifetime. Non-positive values are ignored.
func (sm *SessionManager) SetLifetime(d time.Duration) {
	if d > 0 {
		sm.lifetime = d
	}
}

// SetTokenIssuer enables JWT bearer tokens in addition to session IDs.
func (sm *SessionManager) SetTokenIssuer(t *TokenIssuer) {
	sm.tokens = t
}

// Tokens returns the JWT issuer, or nil when tokens are disabled.
func (sm *SessionManager) Tokens() *TokenIssuer {
	return sm.tokens
}

// CreateSession creates a new session for a user
func (sm *SessionManager) CreateSession(username, role string) (*Session, error) {
	idBytes := make([]byte, 32)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, err
	}

	now := sm.now()
	session := &Session{
		ID:        base64.URLEncoding.EncodeToString(idBytes),
		Username:  username,
		Role:      role,
		CreatedAt: now,
		ExpiresAt: now.Add(sm.lifetime),
	}

	sm.mu.Lock()
	sm.sessions[session.ID] = session
	sm.mu.Unlock()

	if sm.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), repoTimeout)
		defer cancel()
		if err := sm.repo.Save(ctx, StoredSession(*session)); err != nil {
			slog.Warn("failed to persist session", "error", err)
		}
	}

	return session, nil
}

// GetSession retrieves a session by ID. Sessions missing from memory are
// looked up in the repository.
func (sm *SessionManager) GetSession(sessionID string) *Session {
	sm.mu.RLock()
	session, ok := sm.sessions[sessionID]
	sm.mu.RUnlock()

	if !ok {
		session = sm.loadSession(sessionID)
		if session == nil {
			return nil
		}
	}

	if sm.now().After(session.ExpiresAt) {
		sm.DeleteSession(sessionID)
		return nil
	}

	return session
}

func (sm *SessionManager) loadSession(sessionID string) *Session {
	if sm.repo == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), repoTimeout)
	defer cancel()

	stored, err := sm.repo.Get(ctx, sessionID)
	if err != nil {
		slog.Warn("failed to load session", "error", err)
		return nil
	}
	if stored == nil {
		return nil
	}

	session := Session(*stored)
	sm.mu.Lock()
	sm.sessions[sessionID] = &session
	sm.mu.Unlock()
	return &session
}

// DeleteSession removes a session
func (sm *SessionManager) DeleteSession(sessionID string) {
	sm.mu.Lock()
	delete(sm.sessions, sessionID)
	sm.mu.Unlock()

	if sm.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), repoTimeout)
		defer cancel()
		if err := sm.repo.Delete(ctx, sessionID); err != nil {
			slog.Warn("failed to delete session", "error", err)
		}
	}
}

// SetSessionCookie sets the signed session cookie on the response
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, r *http.Request, session *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.ID + "." + sm.signData(session.ID),
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sm.lifetime.Seconds()),
	})
}

// ClearSessionCookie removes the session cookie
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// GetSessionFromRequest extracts the session from the cookie or from an
// Authorization header carrying either a session ID or a JWT.
func (sm *SessionManager) GetSessionFromRequest(r *http.Request) *Session {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if sessionID, signature, ok := strings.Cut(cookie.Value, "."); ok && sm.verifySignature(sessionID, signature) {
			if session := sm.GetSession(sessionID); session != nil {
				return session
			}
		}
	}

	bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || bearer == "" {
		return nil
	}
	if session := sm.GetSession(bearer); session != nil {
		return session
	}
	if sm.tokens != nil {
		claims, err := sm.tokens.Parse(bearer)
		if err != nil {
			return nil
		}
		return claims.session()
	}
	return nil
}

// StartCleanup periodically drops expired sessions from memory and the
// repository.
func (sm *SessionManager) StartCleanup() {
	if sm.scheduler != nil {
		return
	}
	s := gocron.NewScheduler(time.Local)
	s.SingletonModeAll()
	if _, err := s.Every(cleanupIntervalMinutes).Minutes().Do(sm.cleanup); err != nil {
		slog.Error("failed to schedule session cleanup", "error", err)
		return
	}
	s.StartAsync()
	sm.scheduler = s
}

// Stop halts the cleanup scheduler.
func (sm *SessionManager) Stop() {
	if sm.scheduler != nil {
		sm.scheduler.Stop()
		sm.scheduler = nil
	}
}

func (sm *SessionManager) cleanup() {
	now := sm.now()

	sm.mu.Lock()
	for id, s := range sm.sessions {
		if now.After(s.ExpiresAt) {
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()

	if sm.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), repoTimeout)
	defer cancel()
	n, err := sm.repo.DeleteExpired(ctx, now)
	if err != nil {
		slog.Warn("failed to delete expired sessions", "error", err)
		return
	}
	if n > 0 {
		slog.Debug("expired sessions removed", "count", n)
	}
}

// signData creates an HMAC signature for data
func (sm *SessionManager) signData(data string) string {
	h := hmac.New(sha256.New, sm.secret)
	h.Write([]byte(data))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

// verifySignature verifies an HMAC signature
func (sm *SessionManager) verifySignature(data, signature string) bool {
	expected := sm.signData(data)
	return hmac.Equal([]byte(signature), []byte(expected))
}

func randomString(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

// SessionData is a helper struct for JSON responses
type SessionData struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	ExpiresAt string `json:"expires_at"`
}

// ToJSON returns the session data for JSON response
func (s *Session) ToJSON() SessionData {
	return SessionData{
		SessionID: s.ID,
		Username:  s.Username,
		Role:      s.Role,
		ExpiresAt: s.ExpiresAt.Format(time.RFC3339),
	}
}

// MarshalJSON implements json.Marshaler
func (s *Session) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.ToJSON())
}
