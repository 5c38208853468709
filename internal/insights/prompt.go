package insights

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"example.com/repcount/internal/exercise"
	"example.com/repcount/internal/recorder"
)

var exerciseNames = map[exercise.Kind]string{
	exercise.KindPushUp:      "push-up",
	exercise.KindPullUp:      "pull-up",
	exercise.KindSitUp:       "sit-up",
	exercise.KindJumpingJack: "jumping jack",
	exercise.KindPlank:       "plank",
}

// BuildPrompt assembles the coach instruction, the session summary and the user request.
func BuildPrompt(kind exercise.Kind, summary recorder.Summary, request string) string {
	name, ok := exerciseNames[kind]
	if !ok {
		name = exerciseNames[exercise.KindPushUp]
	}
	request = strings.TrimSpace(request)
	if request == "" {
		request = defaultRequest
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a certified strength coach. Analyze the %s session metrics and provide: "+
		"1) brief form assessment, 2) top improvement priorities, 3) best exercises and progressions "+
		"tailored to the observed data (with sets/reps and cues), 4) safety notes.", name)
	b.WriteString("\n\nSESSION SUMMARY:\n")
	fmt.Fprintf(&b, "Total reps: %d\n", summary.TotalReps)
	fmt.Fprintf(&b, "Duration (s): %s\n", round(summary.DurationMS/1000, 2))
	fmt.Fprintf(&b, "Avg elbow angle: %s\n", round(summary.AvgElbowAngle, 1))
	fmt.Fprintf(&b, "Avg hip angle: %s\n", round(summary.AvgHipAngle, 1))
	fmt.Fprintf(&b, "Min/Max elbow: %s/%s\n", round(summary.MinElbowAngle, 1), round(summary.MaxElbowAngle, 1))
	fmt.Fprintf(&b, "Min/Max hip: %s/%s\n", round(summary.MinHipAngle, 1), round(summary.MaxHipAngle, 1))
	fmt.Fprintf(&b, "Hip warning frames: %d\n", summary.HipWarningFrames)
	fmt.Fprintf(&b, "Go lower frames: %d\n", summary.GoLowerFrames)
	fmt.Fprintf(&b, "Good form frames: %d\n", summary.GoodFormFrames)
	fmt.Fprintf(&b, "Last feedback: %s\n", summary.LastFeedback)
	fmt.Fprintf(&b, "\nUSER REQUEST (optional): %s", request)
	return b.String()
}

func round(v float64, places int) string {
	scale := math.Pow(10, float64(places))
	return strconv.FormatFloat(math.Round(v*scale)/scale, 'f', -1, 64)
}
