package exercise

// Placeholder angles reported in basic mode, where no landmarks exist to measure.
const (
	BasicElbowAngle = 90.0
	BasicHipAngle   = 180.0
)

// cadenceFrames is the number of frames treated as one repetition (or, for plank, one second).
var cadenceFrames = map[Kind]int{
	KindPushUp:      45,
	KindPullUp:      60,
	KindSitUp:       40,
	KindJumpingJack: 30,
	KindPlank:       30,
}

// Cadence is the basic-mode counter used when no pose detector is available. It derives the
// count purely from the frame position, so it never needs landmarks.
type Cadence struct {
	kind     Kind
	interval int
	stage    Stage
}

// NewCadence returns a basic-mode counter for kind.
func NewCadence(kind Kind) *Cadence {
	interval, ok := cadenceFrames[kind]
	if !ok {
		kind = KindPushUp
		interval = cadenceFrames[KindPushUp]
	}
	return &Cadence{kind: kind, interval: interval, stage: InitialStage(kind)}
}

// Kind reports the exercise being counted.
func (c *Cadence) Kind() Kind { return c.kind }

// Interval reports the frames per repetition.
func (c *Cadence) Interval() int { return c.interval }

// Tick returns the state at the given 1-based frame position.
func (c *Cadence) Tick(frame int) Step {
	count := 0
	if frame > 0 {
		count = frame / c.interval
	}
	return Step{Stage: c.stage, Count: count, Feedback: FeedbackBasicAnalysis}
}
