// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// MockMirror is an in-memory implementation of database.Mirror
type MockMirror struct {
	mu         sync.RWMutex
	attendance []database.AttendanceRecord
	users      map[string]database.UserRecord
	tasks      map[string]database.TaskRecord
	references map[string]database.ReferenceRecord
	closed     bool

	// Error injection
	SaveAttendanceError error
	SaveUserError       error
	SaveTaskError       error
	SaveReferenceError  error
	CloseError          error
}

// NewMockMirror creates a new mock mirror
func NewMockMirror() *MockMirror {
	return &MockMirror{
		users:      make(map[string]database.UserRecord),
		tasks:      make(map[string]database.TaskRecord),
		references: make(map[string]database.ReferenceRecord),
	}
}

// SaveAttendance records an attendance row
func (m *MockMirror) SaveAttendance(ctx context.Context, rec database.AttendanceRecord) error {
	if m.SaveAttendanceError != nil {
		return m.SaveAttendanceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attendance = append(m.attendance, rec)
	return nil
}

// SaveUser upserts a user
func (m *MockMirror) SaveUser(ctx context.Context, rec database.UserRecord) error {
	if m.SaveUserError != nil {
		return m.SaveUserError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[rec.Username] = rec
	return nil
}

// SaveTask upserts a task
func (m *MockMirror) SaveTask(ctx context.Context, rec database.TaskRecord) error {
	if m.SaveTaskError != nil {
		return m.SaveTaskError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[rec.ID] = rec
	return nil
}

// SaveReference replaces a reference embedding
func (m *MockMirror) SaveReference(ctx context.Context, rec database.ReferenceRecord) error {
	if m.SaveReferenceError != nil {
		return m.SaveReferenceError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Embedding = slices.Clone(rec.Embedding)
	m.references[rec.Identity] = rec
	return nil
}

// Close marks the mirror as closed
func (m *MockMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.CloseError
}

// Attendance returns a copy of all stored attendance rows
func (m *MockMirror) Attendance() []database.AttendanceRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.attendance)
}

// User returns a stored user, or false if absent
func (m *MockMirror) User(username string) (database.UserRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[username]
	return u, ok
}

// Task returns a stored task, or false if absent
func (m *MockMirror) Task(id string) (database.TaskRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok
}

// TaskCount returns the number of stored tasks
func (m *MockMirror) TaskCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tasks)
}

// Reference returns a stored reference embedding, or false if absent
func (m *MockMirror) Reference(identity string) (database.ReferenceRecord, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.references[identity]
	return r, ok
}

// IsClosed reports whether Close was called
func (m *MockMirror) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

var _ database.Mirror = (*MockMirror)(nil)
