package database

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

type mirrorJob struct {
	kind string
	key  string
	run  func(ctx context.Context, m Mirror) error
}

// AsyncMirror forwards writes to a Mirror on a single background worker.
// Enqueueing never blocks the caller: when the queue is full the write is
// dropped and a warning logged. Backend failures are logged and dropped.
type AsyncMirror struct {
	backend Mirror
	jobs    chan mirrorJob
	done    chan struct{}

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
	failed  atomic.Int64
}

// NewAsyncMirror starts the mirror worker. A nil backend yields a mirror that
// accepts and discards everything.
func NewAsyncMirror(backend Mirror, queueSize int) *AsyncMirror {
	if queueSize <= 0 {
		queueSize = constants.DefaultMirrorQueueSize
	}
	m := &AsyncMirror{
		backend: backend,
		done:    make(chan struct{}),
	}
	if backend == nil {
		close(m.done)
		return m
	}
	m.jobs = make(chan mirrorJob, queueSize)
	go m.worker()
	return m
}

// Enabled reports whether a backend is attached.
func (m *AsyncMirror) Enabled() bool {
	return m != nil && m.backend != nil
}

func (m *AsyncMirror) worker() {
	defer close(m.done)
	for job := range m.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorWriteTimeout)
		err := job.run(ctx, m.backend)
		cancel()
		if err != nil {
			m.failed.Add(1)
			slog.Warn("mirror write failed", "kind", job.kind, "key", job.key, "error", err)
		}
	}
}

func (m *AsyncMirror) enqueue(job mirrorJob) {
	if !m.Enabled() {
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}

	select {
	case m.jobs <- job:
	default:
		m.dropped.Add(1)
		slog.Warn("mirror queue full, dropping write", "kind", job.kind, "key", job.key)
	}
}

// EnqueueAttendance queues an attendance row for the mirror.
func (m *AsyncMirror) EnqueueAttendance(rec AttendanceRecord) {
	m.enqueue(mirrorJob{
		kind: "attendance",
		key:  rec.Name + " " + rec.Date,
		run: func(ctx context.Context, b Mirror) error {
			return b.SaveAttendance(ctx, rec)
		},
	})
}

// EnqueueUser queues a user upsert.
func (m *AsyncMirror) EnqueueUser(rec UserRecord) {
	m.enqueue(mirrorJob{
		kind: "user",
		key:  rec.Username,
		run: func(ctx context.Context, b Mirror) error {
			return b.SaveUser(ctx, rec)
		},
	})
}

// EnqueueTask queues a task upsert.
func (m *AsyncMirror) EnqueueTask(rec TaskRecord) {
	m.enqueue(mirrorJob{
		kind: "task",
		key:  rec.ID,
		run: func(ctx context.Context, b Mirror) error {
			return b.SaveTask(ctx, rec)
		},
	})
}

// EnqueueReference queues a reference embedding replacement.
func (m *AsyncMirror) EnqueueReference(rec ReferenceRecord) {
	m.enqueue(mirrorJob{
		kind: "reference",
		key:  rec.Identity,
		run: func(ctx context.Context, b Mirror) error {
			return b.SaveReference(ctx, rec)
		},
	})
}

// Dropped returns how many writes were discarded because the queue was full.
func (m *AsyncMirror) Dropped() int64 {
	return m.dropped.Load()
}

// Failed returns how many backend writes returned an error.
func (m *AsyncMirror) Failed() int64 {
	return m.failed.Load()
}

// Close stops accepting writes, drains the queue until ctx expires and then
// closes the backend. Writes still queued after the deadline are abandoned.
func (m *AsyncMirror) Close(ctx context.Context) error {
	if !m.Enabled() {
		return nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.jobs)
	m.mu.Unlock()

	select {
	case <-m.done:
	case <-ctx.Done():
		slog.Warn("mirror drain interrupted", "pending", len(m.jobs))
		return ctx.Err()
	}
	return m.backend.Close()
}
