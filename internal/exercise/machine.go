// Package exercise implements the repetition-counting state machines, one variant per exercise kind.
package exercise

import "strings"

// Kind identifies the exercise a session is analysing.
type Kind string

const (
	KindPushUp      Kind = "pushup"
	KindPullUp      Kind = "pullup"
	KindSitUp       Kind = "situp"
	KindJumpingJack Kind = "jumping_jack"
	KindPlank       Kind = "plank"
)

// Kinds lists every supported exercise in display order.
var Kinds = []Kind{KindPushUp, KindPullUp, KindSitUp, KindJumpingJack, KindPlank}

// ParseKind maps a user supplied token to a Kind. Unknown tokens fall back to push-up rules.
func ParseKind(token string) Kind {
	normalized := strings.ToLower(strings.TrimSpace(token))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	for _, kind := range Kinds {
		if string(kind) == normalized {
			return kind
		}
	}
	return KindPushUp
}

// Stage is the current phase label of a repetition cycle.
type Stage string

const (
	StageUp     Stage = "up"
	StageDown   Stage = "down"
	StageOpen   Stage = "open"
	StageClosed Stage = "closed"
	StageHold   Stage = "hold"
	StageSag    Stage = "sag"
)

// Measurements are the per-frame inputs derived from landmarks.
type Measurements struct {
	ElbowAngle  float64
	HipAngle    float64
	FeetApart   float64
	HandsHigh   bool
	TimestampMS float64
}

// Step is the machine state after consuming one frame.
type Step struct {
	Stage    Stage
	Count    int
	Feedback string
}

// Machine is a per-session repetition counter. Implementations are not safe for concurrent use;
// a session's pipeline is the only caller.
type Machine interface {
	Kind() Kind
	Process(m Measurements) Step
}

// New returns a fresh machine for kind in its initial state.
func New(kind Kind) Machine {
	stage := InitialStage(kind)
	switch kind {
	case KindPullUp:
		return &pullUp{stage: stage}
	case KindSitUp:
		return &sitUp{stage: stage}
	case KindJumpingJack:
		return &jumpingJack{stage: stage}
	case KindPlank:
		return &plank{stage: stage}
	default:
		return &pushUp{stage: stage}
	}
}

// InitialStage is the phase a fresh machine for kind starts in.
func InitialStage(kind Kind) Stage {
	switch kind {
	case KindJumpingJack:
		return StageClosed
	case KindPlank:
		return StageHold
	default:
		return StageUp
	}
}
