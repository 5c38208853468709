// Package events defines the event payloads published for analysis sessions.
package events

import "time"

// EventSessionCompleted is the outbox event type for a finished analysis session.
const EventSessionCompleted = "exercise_session.completed"

// ExerciseSessionCompleted is emitted once per session after its results are archived.
type ExerciseSessionCompleted struct {
	SessionID     string    `json:"session_id"`
	TenantID      string    `json:"tenant_id"`
	UserID        string    `json:"user_id"`
	Exercise      string    `json:"exercise"`
	Mode          string    `json:"mode"`
	EndReason     string    `json:"end_reason"`
	TotalFrames   int       `json:"total_frames"`
	TotalReps     int       `json:"total_reps"`
	DurationMS    float64   `json:"duration_ms"`
	AvgElbowAngle float64   `json:"avg_elbow_angle"`
	AvgHipAngle   float64   `json:"avg_hip_angle"`
	LastFeedback  string    `json:"last_feedback"`
	DatasetReady  bool      `json:"dataset_ready"`
	CompletedAt   time.Time `json:"completed_at"`
	Version       string    `json:"version"`
}
