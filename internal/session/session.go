// Package session holds the analysis session aggregate and its storage contract.
package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"example.com/repcount/internal/exercise"
	"example.com/repcount/internal/recorder"
)

var (
	// ErrNotFound is returned by stores for unknown or expired sessions.
	ErrNotFound = errors.New("session not found")
	// ErrAlreadyStarted is returned when a second pipeline tries to claim a session.
	ErrAlreadyStarted = errors.New("session already started")
)

// State is the lifecycle position of a session.
type State string

const (
	StateCreated   State = "created"
	StateStreaming State = "streaming"
	StateDone      State = "done"
)

// LiveMetrics is the latest per-frame snapshot shown to a polling viewer.
type LiveMetrics struct {
	Count      int    `json:"count"`
	Feedback   string `json:"feedback"`
	ElbowAngle int    `json:"elbow_angle"`
	HipAngle   int    `json:"hip_angle"`
}

// Outcome is everything the pipeline hands back once a session finishes.
type Outcome struct {
	Records     []recorder.FrameRecord
	Summary     recorder.Summary
	DatasetPath string
	Err         error
}

// Session is one uploaded video and its analysis. Exactly one pipeline owns it while streaming;
// afterwards it is read-only.
type Session struct {
	ID        string
	TenantID  string
	UserID    string
	Exercise  exercise.Kind
	VideoPath string
	CreatedAt time.Time

	metrics atomic.Pointer[LiveMetrics]

	mu          sync.RWMutex
	state       State
	basicMode   bool
	startedAt   time.Time
	completedAt time.Time
	outcome     Outcome
}

// New returns a session in the created state.
func New(id, tenantID, userID string, kind exercise.Kind, videoPath string, now time.Time) *Session {
	s := &Session{
		ID:        id,
		TenantID:  tenantID,
		UserID:    userID,
		Exercise:  kind,
		VideoPath: videoPath,
		CreatedAt: now,
		state:     StateCreated,
	}
	s.metrics.Store(&LiveMetrics{})
	return s
}

// Begin moves the session from created to streaming.
func (s *Session) Begin(basicMode bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCreated {
		return ErrAlreadyStarted
	}
	s.state = StateStreaming
	s.basicMode = basicMode
	s.startedAt = now
	return nil
}

// Finish stores the pipeline outcome and marks the session done.
func (s *Session) Finish(outcome Outcome, now time.Time) {
	s.mu.Lock()
	s.outcome = outcome
	s.state = StateDone
	s.completedAt = now
	s.mu.Unlock()
}

// PublishMetrics replaces the live metrics snapshot.
func (s *Session) PublishMetrics(m LiveMetrics) {
	s.metrics.Store(&m)
}

// Metrics returns the latest live metrics snapshot.
func (s *Session) Metrics() LiveMetrics {
	return *s.metrics.Load()
}

// State reports the lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Done reports whether the pipeline has finished.
func (s *Session) Done() bool {
	return s.State() == StateDone
}

// BasicMode reports whether the session ran without a landmark detector.
func (s *Session) BasicMode() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.basicMode
}

// Outcome returns the stored outcome and whether the session is done.
func (s *Session) Outcome() (Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.outcome, s.state == StateDone
}

// Timing returns when streaming started and finished. Zero values mean not yet.
func (s *Session) Timing() (startedAt, completedAt time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt, s.completedAt
}

// Store keeps sessions addressable by id.
type Store interface {
	Put(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
	Len() int
}
