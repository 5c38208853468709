package exercise

import "math"

// Feedback vocabulary. Push-up strings match the cues counted by the session summary.
const (
	FeedbackHipsStraight = "Keep your hips straight!"
	FeedbackGoLower      = "Go lower!"
	FeedbackGoodForm     = "Good form!"

	FeedbackFullyHang      = "Fully hang"
	FeedbackStrongPull     = "Strong pull"
	FeedbackPullVertically = "Keep pulling vertically"
	FeedbackStartFlat      = "Start flat"
	FeedbackGoodHeight     = "Good height"
	FeedbackCurlSmoothly   = "Curl smoothly"
	FeedbackArmsOverhead   = "Arms overhead, feet wide"
	FeedbackReturnToStart  = "Return to start"
	FeedbackHipsLevel      = "Hips level"
	FeedbackLiftHips       = "Lift hips"
	FeedbackBasicAnalysis  = "Basic analysis mode"
)

type pushUp struct {
	stage Stage
	count int
}

func (p *pushUp) Kind() Kind { return KindPushUp }

func (p *pushUp) Process(m Measurements) Step {
	elbow, hip := m.ElbowAngle, m.HipAngle

	if elbow <= 90 && hip > 160 {
		p.stage = StageDown
	}
	if elbow >= 160 && hip > 160 && p.stage == StageDown {
		p.count++
		p.stage = StageUp
	}

	var feedback string
	switch {
	case hip < 160:
		feedback = FeedbackHipsStraight
	case elbow > 100 && p.stage == StageDown:
		feedback = FeedbackGoLower
	default:
		feedback = FeedbackGoodForm
	}
	return Step{Stage: p.stage, Count: p.count, Feedback: feedback}
}

type pullUp struct {
	stage Stage
	count int
}

func (p *pullUp) Kind() Kind { return KindPullUp }

func (p *pullUp) Process(m Measurements) Step {
	elbow := m.ElbowAngle

	if elbow >= 150 {
		p.stage = StageDown
	}
	if elbow <= 70 && p.stage == StageDown {
		p.count++
		p.stage = StageUp
	}

	var feedback string
	switch {
	case elbow > 160:
		feedback = FeedbackFullyHang
	case elbow < 60:
		feedback = FeedbackStrongPull
	default:
		feedback = FeedbackPullVertically
	}
	return Step{Stage: p.stage, Count: p.count, Feedback: feedback}
}

type sitUp struct {
	stage Stage
	count int
}

func (s *sitUp) Kind() Kind { return KindSitUp }

func (s *sitUp) Process(m Measurements) Step {
	hip := m.HipAngle

	if hip >= 150 {
		s.stage = StageDown
	}
	if hip <= 100 && s.stage == StageDown {
		s.count++
		s.stage = StageUp
	}

	var feedback string
	switch {
	case hip > 170:
		feedback = FeedbackStartFlat
	case hip < 90:
		feedback = FeedbackGoodHeight
	default:
		feedback = FeedbackCurlSmoothly
	}
	return Step{Stage: s.stage, Count: s.count, Feedback: feedback}
}

// jumpingJackFeetApart is the normalized ankle separation that counts as "feet wide".
const jumpingJackFeetApart = 0.35

type jumpingJack struct {
	stage Stage
	count int
}

func (j *jumpingJack) Kind() Kind { return KindJumpingJack }

func (j *jumpingJack) Process(m Measurements) Step {
	open := m.FeetApart > jumpingJackFeetApart && m.HandsHigh

	if open {
		j.stage = StageOpen
	} else if j.stage == StageOpen {
		j.stage = StageClosed
		j.count++
	}

	feedback := FeedbackReturnToStart
	if open {
		feedback = FeedbackArmsOverhead
	}
	return Step{Stage: j.stage, Count: j.count, Feedback: feedback}
}

// plankHipLevel is the hip angle above which the body counts as a straight plank.
const plankHipLevel = 165

// plank counts whole seconds held since the first frame it saw. The count is only refreshed
// while the hips are level, so a sagging hold freezes the timer display without resetting it.
type plank struct {
	stage   Stage
	count   int
	started bool
	startMS float64
}

func (p *plank) Kind() Kind { return KindPlank }

func (p *plank) Process(m Measurements) Step {
	if !p.started {
		p.started = true
		p.startMS = m.TimestampMS
	}

	if m.HipAngle > plankHipLevel {
		p.stage = StageHold
		elapsed := int(math.Floor((m.TimestampMS - p.startMS) / 1000))
		if elapsed > p.count {
			p.count = elapsed
		}
		return Step{Stage: p.stage, Count: p.count, Feedback: FeedbackHipsLevel}
	}

	p.stage = StageSag
	return Step{Stage: p.stage, Count: p.count, Feedback: FeedbackLiftHips}
}
