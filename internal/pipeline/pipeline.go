// Package pipeline runs one analysis session: it reads frames, detects landmarks, steps the
// exercise machine, streams annotated frames and records the results.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"example.com/repcount/internal/exercise"
	"example.com/repcount/internal/observability"
	"example.com/repcount/internal/overlay"
	"example.com/repcount/internal/pose"
	"example.com/repcount/internal/recorder"
	"example.com/repcount/internal/session"
	"example.com/repcount/internal/video"
)

// Mode says whether landmarks drive the count.
type Mode string

const (
	ModeFull  Mode = "full"
	ModeBasic Mode = "basic"
)

// End describes why a run stopped.
type End string

const (
	EndExhausted      End = "exhausted"
	EndCancelled      End = "cancelled"
	EndDetectorClosed End = "detector_closed"
	EndReadError      End = "read_error"
)

// frameOutcome is what happened to a single frame.
type frameOutcome int

const (
	outcomeRecorded frameOutcome = iota
	outcomeNoDetection
	outcomeEncodeFailed
)

func (o frameOutcome) String() string {
	switch o {
	case outcomeRecorded:
		return "recorded"
	case outcomeNoDetection:
		return "no_detection"
	case outcomeEncodeFailed:
		return "encode_failed"
	default:
		return "unknown"
	}
}

// MetricsSink receives every live metrics snapshot. Implementations must not block.
type MetricsSink interface {
	PublishMetrics(sessionID string, kind exercise.Kind, m session.LiveMetrics)
}

// Result summarises a finished run.
type Result struct {
	End         End
	Err         error
	Mode        Mode
	FramesRead  int
	NoDetection int
	EncodeFails int
	Outcome     session.Outcome
}

// Option configures optional behaviour for the Pipeline.
type Option func(*Pipeline)

// WithLogger overrides the pipeline logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithRenderer overrides the frame renderer.
func WithRenderer(r *overlay.Renderer) Option {
	return func(p *Pipeline) {
		p.renderer = r
	}
}

// WithDatasetDir sets where the CSV dataset is written.
func WithDatasetDir(dir string) Option {
	return func(p *Pipeline) {
		p.datasetDir = dir
	}
}

// WithMetricsSink adds a live metrics subscriber.
func WithMetricsSink(sink MetricsSink) Option {
	return func(p *Pipeline) {
		if sink != nil {
			p.sinks = append(p.sinks, sink)
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// Pipeline owns a session from streaming until done. A nil detector runs basic mode.
type Pipeline struct {
	session  *session.Session
	source   video.Source
	detector pose.Detector
	machine  exercise.Machine
	cadence  *exercise.Cadence
	renderer *overlay.Renderer
	recorder *recorder.Recorder

	datasetDir string
	sinks      []MetricsSink
	logger     *log.Logger
	now        func() time.Time
}

// New builds a pipeline for sess reading from source. The caller has already moved sess into
// the streaming state; the pipeline takes ownership of source and detector.
func New(sess *session.Session, source video.Source, detector pose.Detector, opts ...Option) *Pipeline {
	p := &Pipeline{
		session:    sess,
		source:     source,
		detector:   detector,
		renderer:   overlay.NewRenderer(0),
		recorder:   recorder.New(),
		datasetDir: "datasets",
		logger:     log.New(log.Writer(), "[pipeline] ", log.LstdFlags|log.Lshortfile),
		now:        time.Now,
	}
	if detector == nil {
		p.cadence = exercise.NewCadence(sess.Exercise)
	} else {
		p.machine = exercise.New(sess.Exercise)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Mode reports how the pipeline counts.
func (p *Pipeline) Mode() Mode {
	if p.detector == nil {
		return ModeBasic
	}
	return ModeFull
}

// Run processes frames until the source is exhausted, ctx is cancelled or the detector dies.
// Encoded frames are sent on frames, which blocks when the viewer falls behind. frames is
// closed when Run returns, and the session is always marked done.
func (p *Pipeline) Run(ctx context.Context, frames chan<- []byte) Result {
	defer close(frames)
	stopped := observability.StreamStarted()
	defer stopped()

	started := p.now()
	res := Result{End: EndExhausted, Mode: p.Mode()}
	p.logger.Printf("session %s: analysing %s in %s mode", p.session.ID, p.session.Exercise, res.Mode)

	for {
		frame, err := p.source.Next(ctx)
		if err != nil {
			res.End, res.Err = classifyStop(ctx, err)
			break
		}
		res.FramesRead++

		outcome, err := p.processFrame(ctx, frame, frames)
		if err != nil {
			res.End, res.Err = classifyStop(ctx, err)
			break
		}
		switch outcome {
		case outcomeNoDetection:
			res.NoDetection++
		case outcomeEncodeFailed:
			res.EncodeFails++
		}
		if outcome != outcomeRecorded {
			observability.RecordSkippedFrame(outcome.String())
		}
	}

	p.complete(&res, started)
	return res
}

func classifyStop(ctx context.Context, err error) (End, error) {
	switch {
	case errors.Is(err, io.EOF):
		return EndExhausted, nil
	case errors.Is(err, pose.ErrDetectorClosed):
		return EndDetectorClosed, err
	case ctx.Err() != nil:
		return EndCancelled, ctx.Err()
	default:
		return EndReadError, err
	}
}

func (p *Pipeline) processFrame(ctx context.Context, frame video.Frame, out chan<- []byte) (frameOutcome, error) {
	if p.detector == nil {
		return p.processBasic(ctx, frame, out)
	}

	result, err := p.detector.Detect(ctx, frame.Index, frame.Image)
	if err != nil {
		if errors.Is(err, pose.ErrDetectorClosed) || ctx.Err() != nil {
			return outcomeNoDetection, err
		}
		p.logger.Printf("session %s frame %d: %v", p.session.ID, frame.Index, err)
		result = pose.NotDetected
	}

	if !result.Detected {
		encoded, err := p.renderer.Encode(frame.Image)
		if err != nil {
			p.logger.Printf("session %s frame %d: %v", p.session.ID, frame.Index, err)
			return outcomeEncodeFailed, nil
		}
		return outcomeNoDetection, emit(ctx, out, encoded)
	}

	m := measure(&result.Landmarks, frame.TimestampMS)
	step := p.machine.Process(m)
	metrics := session.LiveMetrics{
		Count:      step.Count,
		Feedback:   step.Feedback,
		ElbowAngle: roundAngle(m.ElbowAngle),
		HipAngle:   roundAngle(m.HipAngle),
	}
	p.publish(metrics)

	return p.deliver(ctx, out, frame, overlay.Overlay{
		Count:      metrics.Count,
		Feedback:   metrics.Feedback,
		ElbowAngle: metrics.ElbowAngle,
		HipAngle:   metrics.HipAngle,
		Landmarks:  &result.Landmarks,
	}, recorder.FrameRecord{
		ElbowAngle: m.ElbowAngle,
		HipAngle:   m.HipAngle,
		Stage:      step.Stage,
		Count:      step.Count,
		Feedback:   step.Feedback,
	})
}

func (p *Pipeline) processBasic(ctx context.Context, frame video.Frame, out chan<- []byte) (frameOutcome, error) {
	step := p.cadence.Tick(frame.Index)
	metrics := session.LiveMetrics{
		Count:      step.Count,
		Feedback:   step.Feedback,
		ElbowAngle: roundAngle(exercise.BasicElbowAngle),
		HipAngle:   roundAngle(exercise.BasicHipAngle),
	}
	p.publish(metrics)

	return p.deliver(ctx, out, frame, overlay.Overlay{
		Count:      metrics.Count,
		Feedback:   metrics.Feedback,
		ElbowAngle: metrics.ElbowAngle,
		HipAngle:   metrics.HipAngle,
		BasicMode:  true,
	}, recorder.FrameRecord{
		ElbowAngle: exercise.BasicElbowAngle,
		HipAngle:   exercise.BasicHipAngle,
		Stage:      step.Stage,
		Count:      step.Count,
		Feedback:   step.Feedback,
	})
}

// deliver renders and emits the annotated frame, then appends its record. A frame that cannot
// be encoded leaves no record. A frame whose emit is cut short by cancellation keeps its record.
func (p *Pipeline) deliver(ctx context.Context, out chan<- []byte, frame video.Frame, o overlay.Overlay, rec recorder.FrameRecord) (frameOutcome, error) {
	encoded, err := p.renderer.Render(frame.Image, o)
	if err != nil {
		p.logger.Printf("session %s frame %d: %v", p.session.ID, frame.Index, err)
		return outcomeEncodeFailed, nil
	}
	err = emit(ctx, out, encoded)

	rec.Frame = frame.Index
	rec.TimestampMS = frame.TimestampMS
	p.recorder.Append(rec)
	observability.RecordFrame(string(p.Mode()))
	return outcomeRecorded, err
}

func (p *Pipeline) publish(m session.LiveMetrics) {
	p.session.PublishMetrics(m)
	for _, sink := range p.sinks {
		sink.PublishMetrics(p.session.ID, p.session.Exercise, m)
	}
}

func emit(ctx context.Context, out chan<- []byte, encoded []byte) error {
	select {
	case out <- encoded:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// complete releases the source and detector, writes the dataset and marks the session done.
func (p *Pipeline) complete(res *Result, started time.Time) {
	if err := p.source.Close(); err != nil {
		p.logger.Printf("session %s: close video: %v", p.session.ID, err)
	}
	if p.detector != nil {
		if err := p.detector.Close(); err != nil {
			p.logger.Printf("session %s: close detector: %v", p.session.ID, err)
		}
	}

	records := p.recorder.Records()
	outcome := session.Outcome{
		Records: records,
		Summary: recorder.Summarize(records),
		Err:     res.Err,
	}
	path, err := p.recorder.Complete(p.datasetDir, p.session.ID)
	if err != nil {
		p.logger.Printf("session %s: dataset not written: %v", p.session.ID, err)
		observability.RecordDatasetFailure()
	} else {
		outcome.DatasetPath = path
	}

	finished := p.now()
	p.session.Finish(outcome, finished)
	res.Outcome = outcome

	observability.RecordSessionCompleted(string(p.session.Exercise), string(res.End), outcome.Summary.TotalReps, finished.Sub(started), finished)
	p.logger.Printf("session %s: done (end=%s, frames=%d, recorded=%d, reps=%d)",
		p.session.ID, res.End, res.FramesRead, len(records), outcome.Summary.TotalReps)
}
