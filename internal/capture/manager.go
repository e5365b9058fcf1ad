package capture

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/pkg/errors"
)

// ErrCameraBusy is returned when a session is already running.
var ErrCameraBusy = errors.New("camera already in use")

// State of the capture manager.
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
)

// Status is a snapshot of the manager.
type Status struct {
	State     State      `json:"state"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Frames    int64      `json:"frames"`
	Skipped   int64      `json:"skipped"`
	LastError string     `json:"last_error,omitempty"`
}

// Manager runs at most one capture session. A session owns the camera from
// Start until Stop, context cancellation, or a frame read failure.
type Manager struct {
	open Opener

	mu        sync.Mutex
	state     State
	cancel    context.CancelFunc
	done      chan struct{}
	startedAt time.Time
	frames    int64
	skipped   int64
	lastErr   error

	subMu       sync.Mutex
	subscribers map[chan []byte]struct{}
}

// NewManager creates an idle manager.
func NewManager(open Opener) *Manager {
	done := make(chan struct{})
	close(done)
	return &Manager{
		open:        open,
		state:       StateIdle,
		done:        done,
		subscribers: make(map[chan []byte]struct{}),
	}
}

// Start acquires the camera and processes frames in the background until
// the session ends. ctx bounds the whole session.
func (m *Manager) Start(ctx context.Context, process Processor) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateStreaming {
		return ErrCameraBusy
	}

	cam, err := m.open(ctx)
	if err != nil {
		m.lastErr = err
		return errors.Wrap(err, "start capture")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.state = StateStreaming
	m.cancel = cancel
	m.done = make(chan struct{})
	m.startedAt = time.Now()
	m.frames = 0
	m.skipped = 0
	m.lastErr = nil

	go m.run(runCtx, cam, process, m.done)
	return nil
}

func (m *Manager) run(ctx context.Context, cam Camera, process Processor, done chan struct{}) {
	var runErr error
	defer func() {
		if err := cam.Close(); err != nil {
			slog.Warn("camera close failed", "error", err)
		}

		m.mu.Lock()
		m.state = StateIdle
		m.cancel = nil
		if runErr != nil {
			m.lastErr = runErr
		}
		m.mu.Unlock()
		close(done)
		slog.Info("capture session ended")
	}()

	badFrames := 0
	for {
		frame, err := cam.ReadFrame(ctx)
		if err != nil && ctx.Err() == nil && errors.Is(err, ErrBadFrame) {
			badFrames++
			m.mu.Lock()
			m.skipped++
			m.mu.Unlock()
			if badFrames < constants.MaxConsecutiveBadFrames {
				slog.Warn("corrupt frame skipped", "error", err)
				continue
			}
			err = errors.Wrapf(err, "%d corrupt frames in a row", badFrames)
		}
		if err != nil {
			if ctx.Err() == nil {
				runErr = err
				slog.Error("frame read failed, releasing camera", "error", err)
			}
			return
		}
		badFrames = 0

		out, err := process(ctx, frame)
		m.mu.Lock()
		if err != nil {
			m.skipped++
		} else {
			m.frames++
		}
		m.mu.Unlock()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("frame skipped", "error", err)
			continue
		}
		if out != nil {
			m.publish(out)
		}
	}
}

// Stop ends the running session and waits until the camera is released.
// Stopping an idle manager is a no-op.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-done
}

// Done is closed when the current session ends. For an idle manager it is
// already closed.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

// Err returns the error that ended the last session, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Status{State: m.state, Frames: m.frames, Skipped: m.skipped}
	if m.state == StateStreaming {
		started := m.startedAt
		s.StartedAt = &started
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}

// Subscribe returns a channel of preview JPEGs. Slow subscribers miss
// frames rather than slowing the session down. Call the returned function
// to unsubscribe.
func (m *Manager) Subscribe() (<-chan []byte, func()) {
	ch := make(chan []byte, constants.PreviewChannelBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		delete(m.subscribers, ch)
		m.subMu.Unlock()
	}
}

func (m *Manager) publish(frame []byte) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for ch := range m.subscribers {
		select {
		case ch <- frame:
		default:
		}
	}
}
