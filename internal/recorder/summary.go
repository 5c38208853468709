package recorder

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"example.com/repcount/internal/exercise"
)

// Summary aggregates a whole session. The zero value describes an empty session.
type Summary struct {
	TotalFrames      int            `json:"total_frames"`
	TotalReps        int            `json:"total_reps"`
	DurationMS       float64        `json:"duration_ms"`
	AvgElbowAngle    float64        `json:"avg_elbow_angle"`
	AvgHipAngle      float64        `json:"avg_hip_angle"`
	MinElbowAngle    float64        `json:"min_elbow_angle"`
	MaxElbowAngle    float64        `json:"max_elbow_angle"`
	MinHipAngle      float64        `json:"min_hip_angle"`
	MaxHipAngle      float64        `json:"max_hip_angle"`
	HipWarningFrames int            `json:"hip_warning_frames"`
	GoLowerFrames    int            `json:"go_lower_frames"`
	GoodFormFrames   int            `json:"good_form_frames"`
	FeedbackCounts   map[string]int `json:"feedback_counts"`
	LastFeedback     string         `json:"last_feedback"`
}

// Summarize computes the session summary from records in frame order.
func Summarize(records []FrameRecord) Summary {
	summary := Summary{FeedbackCounts: map[string]int{}}
	if len(records) == 0 {
		return summary
	}

	elbows := make([]float64, len(records))
	hips := make([]float64, len(records))
	for i, rec := range records {
		elbows[i] = rec.ElbowAngle
		hips[i] = rec.HipAngle

		summary.FeedbackCounts[rec.Feedback]++
		switch rec.Feedback {
		case exercise.FeedbackHipsStraight:
			summary.HipWarningFrames++
		case exercise.FeedbackGoLower:
			summary.GoLowerFrames++
		case exercise.FeedbackGoodForm:
			summary.GoodFormFrames++
		}
	}

	first, last := records[0], records[len(records)-1]
	summary.TotalFrames = len(records)
	summary.TotalReps = last.Count
	summary.LastFeedback = last.Feedback
	if last.TimestampMS >= first.TimestampMS {
		summary.DurationMS = last.TimestampMS - first.TimestampMS
	}

	summary.AvgElbowAngle = stat.Mean(elbows, nil)
	summary.AvgHipAngle = stat.Mean(hips, nil)
	summary.MinElbowAngle = floats.Min(elbows)
	summary.MaxElbowAngle = floats.Max(elbows)
	summary.MinHipAngle = floats.Min(hips)
	summary.MaxHipAngle = floats.Max(hips)
	return summary
}
