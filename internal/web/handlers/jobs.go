package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/recognition"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// EnrollJobState is the JSON view of an enrollment job.
type EnrollJobState struct {
	ID          string                    `json:"id"`
	Status      JobStatus                 `json:"status"`
	Total       int                       `json:"total"`
	Done        int                       `json:"done"`
	Error       string                    `json:"error,omitempty"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
	Result      *recognition.EnrollResult `json:"result,omitempty"`
}

// EnrollJob is a background enrollment run.
type EnrollJob struct {
	EventBroadcaster
	state EnrollJobState
}

// GetStatus returns the current job status (implements SSEJob).
func (j *EnrollJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state.Status
}

// State returns a copy of the job state.
func (j *EnrollJob) State() EnrollJobState {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Cancel cancels the job.
func (j *EnrollJob) Cancel() {
	j.EventBroadcaster.Cancel()
	j.mu.Lock()
	if !isJobTerminal(j.state.Status) {
		j.state.Status = JobStatusCancelled
	}
	j.mu.Unlock()
}

func (j *EnrollJob) setStatus(status JobStatus) {
	j.mu.Lock()
	j.state.Status = status
	j.mu.Unlock()
}

func (j *EnrollJob) progress(done, total int) {
	j.mu.Lock()
	j.state.Done = done
	j.state.Total = total
	j.mu.Unlock()
	j.SendEvent(JobEvent{Type: "progress", Data: map[string]int{"done": done, "total": total}})
}

func (j *EnrollJob) finish(status JobStatus, result *recognition.EnrollResult, err error) {
	now := time.Now()
	j.mu.Lock()
	if j.state.Status != JobStatusCancelled {
		j.state.Status = status
	}
	j.state.Result = result
	j.state.CompletedAt = &now
	if err != nil {
		j.state.Error = err.Error()
	}
	status = j.state.Status
	j.mu.Unlock()

	event := JobEvent{Type: string(status), Data: result}
	if err != nil {
		event.Message = err.Error()
	}
	j.SendEvent(event)
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Cancel cancels the job via context and sends a cancelled event.
func (b *EventBroadcaster) Cancel() {
	if b.cancel != nil {
		b.cancel()
	}
	b.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled by user"})
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// JobManager tracks enrollment jobs. Only one may run at a time.
type JobManager struct {
	jobs   map[string]*EnrollJob
	active *EnrollJob
	mu     sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*EnrollJob),
	}
}

// CreateJob registers a new job unless one is still running.
func (m *JobManager) CreateJob(id string, cancel context.CancelFunc) (*EnrollJob, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && !isJobTerminal(m.active.GetStatus()) {
		return m.active, false
	}

	job := &EnrollJob{state: EnrollJobState{
		ID:        id,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
	}}
	job.cancel = cancel
	m.jobs[id] = job
	m.active = job
	return job, true
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *EnrollJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ActiveJob returns the most recent job, if any.
func (m *JobManager) ActiveJob() *EnrollJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}
