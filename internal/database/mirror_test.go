package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingMirror struct {
	mu         sync.Mutex
	attendance []AttendanceRecord
	users      []UserRecord
	block      chan struct{}
	fail       bool
	closed     bool
}

func (m *recordingMirror) wait() {
	if m.block != nil {
		<-m.block
	}
}

func (m *recordingMirror) SaveAttendance(ctx context.Context, rec AttendanceRecord) error {
	m.wait()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("backend down")
	}
	m.attendance = append(m.attendance, rec)
	return nil
}

func (m *recordingMirror) SaveUser(ctx context.Context, rec UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, rec)
	return nil
}

func (m *recordingMirror) SaveTask(ctx context.Context, rec TaskRecord) error { return nil }

func (m *recordingMirror) SaveReference(ctx context.Context, rec ReferenceRecord) error { return nil }

func (m *recordingMirror) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestAsyncMirror_DeliversOnClose(t *testing.T) {
	backend := &recordingMirror{}
	m := NewAsyncMirror(backend, 8)

	m.EnqueueAttendance(AttendanceRecord{Name: "Aman", Date: "01-02-2025"})
	m.EnqueueUser(UserRecord{Username: "ravi"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if len(backend.attendance) != 1 || len(backend.users) != 1 {
		t.Errorf("expected writes to be drained, got %d attendance, %d users", len(backend.attendance), len(backend.users))
	}
	if !backend.closed {
		t.Error("backend was not closed")
	}
}

func TestAsyncMirror_DropsWhenFull(t *testing.T) {
	backend := &recordingMirror{block: make(chan struct{})}
	m := NewAsyncMirror(backend, 1)

	// First job is picked up by the worker and blocks, second fills the queue.
	m.EnqueueAttendance(AttendanceRecord{Name: "a"})
	deadline := time.Now().Add(2 * time.Second)
	for len(m.jobs) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.EnqueueAttendance(AttendanceRecord{Name: "b"})

	done := make(chan struct{})
	go func() {
		m.EnqueueAttendance(AttendanceRecord{Name: "c"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}

	if m.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", m.Dropped())
	}

	close(backend.block)
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestAsyncMirror_FailuresAreSwallowed(t *testing.T) {
	backend := &recordingMirror{fail: true}
	m := NewAsyncMirror(backend, 4)

	m.EnqueueAttendance(AttendanceRecord{Name: "a"})
	m.EnqueueAttendance(AttendanceRecord{Name: "b"})
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if m.Failed() != 2 {
		t.Errorf("Failed() = %d, want 2", m.Failed())
	}
}

func TestAsyncMirror_NilBackend(t *testing.T) {
	m := NewAsyncMirror(nil, 4)
	if m.Enabled() {
		t.Error("expected disabled mirror")
	}
	m.EnqueueAttendance(AttendanceRecord{Name: "a"})
	if err := m.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestAsyncMirror_EnqueueAfterClose(t *testing.T) {
	m := NewAsyncMirror(&recordingMirror{}, 4)
	if err := m.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.EnqueueAttendance(AttendanceRecord{Name: "late"})
	if err := m.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
