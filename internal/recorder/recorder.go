// Package recorder keeps the per-frame records of one analysis session and turns them into a
// CSV dataset and a session summary.
package recorder

import (
	"sync"

	"example.com/repcount/internal/exercise"
)

// FrameRecord is the analysis result of one frame with a detected body.
type FrameRecord struct {
	Frame       int            `json:"frame"`
	TimestampMS float64        `json:"timestamp_ms"`
	ElbowAngle  float64        `json:"elbow_angle"`
	HipAngle    float64        `json:"hip_angle"`
	Stage       exercise.Stage `json:"stage"`
	Count       int            `json:"count"`
	Feedback    string         `json:"feedback"`
}

// Recorder collects records in frame order. It is safe for concurrent readers while a single
// pipeline appends.
type Recorder struct {
	mu      sync.RWMutex
	records []FrameRecord
}

// New returns an empty recorder.
func New() *Recorder {
	return &Recorder{}
}

// Append adds one record.
func (r *Recorder) Append(record FrameRecord) {
	r.mu.Lock()
	r.records = append(r.records, record)
	r.mu.Unlock()
}

// Len returns the number of records so far.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Records returns a copy of everything appended so far.
func (r *Recorder) Records() []FrameRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FrameRecord, len(r.records))
	copy(out, r.records)
	return out
}
