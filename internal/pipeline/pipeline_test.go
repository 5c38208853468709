package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/repcount/internal/exercise"
	"example.com/repcount/internal/pose"
	"example.com/repcount/internal/recorder"
	"example.com/repcount/internal/session"
	"example.com/repcount/internal/video"
)

type stubDetector struct {
	mu      sync.Mutex
	results map[int]pose.Result
	errs    map[int]error
	seen    []int
	closed  bool
}

func (s *stubDetector) Detect(_ context.Context, seq int, _ image.Image) (pose.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, seq)
	if err, ok := s.errs[seq]; ok {
		return pose.NotDetected, err
	}
	if res, ok := s.results[seq]; ok {
		return res, nil
	}
	return pose.NotDetected, nil
}

func (s *stubDetector) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type recordingSink struct {
	mu      sync.Mutex
	metrics []session.LiveMetrics
}

func (r *recordingSink) PublishMetrics(_ string, _ exercise.Kind, m session.LiveMetrics) {
	r.mu.Lock()
	r.metrics = append(r.metrics, m)
	r.mu.Unlock()
}

// pushUpPose returns a body with hips straight and the left elbow bent to the given angle.
func pushUpPose(elbowAngle float64) pose.Result {
	var set pose.Landmarks
	for i := range set {
		set[i] = pose.Landmark{X: 0.5, Y: 0.5, Visibility: 1}
	}
	rad := elbowAngle * math.Pi / 180
	set[pose.LeftShoulder] = pose.Landmark{X: 0.5, Y: 0.3, Visibility: 1}
	set[pose.LeftElbow] = pose.Landmark{X: 0.5, Y: 0.5, Visibility: 1}
	set[pose.LeftWrist] = pose.Landmark{X: 0.5 + 0.2*math.Sin(rad), Y: 0.5 - 0.2*math.Cos(rad), Visibility: 1}
	set[pose.LeftHip] = pose.Landmark{X: 0.5, Y: 0.6, Visibility: 1}
	set[pose.LeftAnkle] = pose.Landmark{X: 0.5, Y: 0.9, Visibility: 1}
	set[pose.RightShoulder] = pose.Landmark{X: 0.55, Y: 0.3, Visibility: 1}
	set[pose.RightWrist] = pose.Landmark{X: 0.55, Y: 0.7, Visibility: 1}
	set[pose.RightAnkle] = pose.Landmark{X: 0.55, Y: 0.9, Visibility: 1}
	return pose.Result{Detected: true, Landmarks: set}
}

func frames(n int) []image.Image {
	images := make([]image.Image, n)
	for i := range images {
		images[i] = image.NewRGBA(image.Rect(0, 0, 32, 24))
	}
	return images
}

func newSession(kind exercise.Kind) *session.Session {
	s := session.New("sess-1", "tenant", "user", kind, "video.mp4", time.Now())
	if err := s.Begin(false, time.Now()); err != nil {
		panic(err)
	}
	return s
}

func quiet() Option {
	return WithLogger(log.New(io.Discard, "", 0))
}

func drain(ch <-chan []byte) <-chan int {
	done := make(chan int, 1)
	go func() {
		n := 0
		for range ch {
			n++
		}
		done <- n
	}()
	return done
}

func TestPushUpSessionEndToEnd(t *testing.T) {
	dir := t.TempDir()
	sess := newSession(exercise.KindPushUp)
	source := video.NewSliceSource(frames(3), 2)
	detector := &stubDetector{results: map[int]pose.Result{
		1: pushUpPose(170),
		2: pushUpPose(85),
		3: pushUpPose(170),
	}}
	sink := &recordingSink{}

	p := New(sess, source, detector, quiet(), WithDatasetDir(dir), WithMetricsSink(sink))
	require.Equal(t, ModeFull, p.Mode())

	out := make(chan []byte, 2)
	streamed := drain(out)
	res := p.Run(context.Background(), out)

	require.Equal(t, EndExhausted, res.End)
	require.NoError(t, res.Err)
	require.Equal(t, 3, <-streamed)
	require.Equal(t, 3, res.FramesRead)

	records := res.Outcome.Records
	require.Len(t, records, 3)
	require.Equal(t, []exercise.Stage{exercise.StageUp, exercise.StageDown, exercise.StageUp},
		[]exercise.Stage{records[0].Stage, records[1].Stage, records[2].Stage})
	require.Equal(t, 1, records[2].Count)
	require.InDelta(t, 85, records[1].ElbowAngle, 1e-6)
	require.InDelta(t, 500, records[1].TimestampMS, 1e-9)
	for _, rec := range records {
		require.NotEqual(t, exercise.FeedbackGoLower, rec.Feedback)
	}

	require.True(t, sess.Done())
	require.Equal(t, session.LiveMetrics{Count: 1, Feedback: exercise.FeedbackGoodForm, ElbowAngle: 170, HipAngle: 180}, sess.Metrics())
	require.Len(t, sink.metrics, 3)

	require.Equal(t, filepath.Join(dir, "sess-1.csv"), res.Outcome.DatasetPath)
	file, err := os.Open(res.Outcome.DatasetPath)
	require.NoError(t, err)
	defer file.Close()
	persisted, err := recorder.ReadDataset(file)
	require.NoError(t, err)
	require.Len(t, persisted, 3)
	require.Equal(t, 1, res.Outcome.Summary.TotalReps)

	require.True(t, detector.closed)
	require.True(t, source.Closed())
}

func TestNoDetectionFramesStreamButAreNotRecorded(t *testing.T) {
	sess := newSession(exercise.KindPushUp)
	detector := &stubDetector{results: map[int]pose.Result{
		1: pushUpPose(170),
		3: pushUpPose(85),
		4: pushUpPose(170),
	}}

	out := make(chan []byte, 2)
	streamed := drain(out)
	res := New(sess, video.NewSliceSource(frames(4), 30), detector, quiet(), WithDatasetDir(t.TempDir())).Run(context.Background(), out)

	require.Equal(t, 4, <-streamed)
	require.Equal(t, 1, res.NoDetection)

	var indexes []int
	for _, rec := range res.Outcome.Records {
		indexes = append(indexes, rec.Frame)
	}
	require.Equal(t, []int{1, 3, 4}, indexes)
	require.Equal(t, 1, res.Outcome.Summary.TotalReps)
}

func TestDetectorErrorsCountAsNoDetection(t *testing.T) {
	sess := newSession(exercise.KindPushUp)
	detector := &stubDetector{
		results: map[int]pose.Result{1: pushUpPose(170)},
		errs:    map[int]error{2: errors.New("frame 2: no answer")},
	}

	out := make(chan []byte, 2)
	streamed := drain(out)
	res := New(sess, video.NewSliceSource(frames(2), 30), detector, quiet(), WithDatasetDir(t.TempDir())).Run(context.Background(), out)

	require.Equal(t, 2, <-streamed)
	require.Equal(t, EndExhausted, res.End)
	require.Len(t, res.Outcome.Records, 1)
}

// oversized is wider than JPEG can encode.
func oversized() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 1<<16, 1))
}

func TestEncodeFailureLeavesNoRecord(t *testing.T) {
	sess := newSession(exercise.KindPushUp)
	detector := &stubDetector{results: map[int]pose.Result{
		1: pushUpPose(170),
		2: pushUpPose(85),
	}}
	images := []image.Image{oversized(), frames(1)[0]}

	out := make(chan []byte, 2)
	streamed := drain(out)
	res := New(sess, video.NewSliceSource(images, 30), detector, quiet(), WithDatasetDir(t.TempDir())).Run(context.Background(), out)

	require.Equal(t, 1, <-streamed)
	require.Equal(t, 1, res.EncodeFails)
	require.Len(t, res.Outcome.Records, 1)
	require.Equal(t, 2, res.Outcome.Records[0].Frame)
}

func TestEncodeFailureWithoutBodyIsCountedAsEncodeFailure(t *testing.T) {
	sess := newSession(exercise.KindPushUp)

	out := make(chan []byte, 2)
	streamed := drain(out)
	res := New(sess, video.NewSliceSource([]image.Image{oversized()}, 30), &stubDetector{}, quiet(), WithDatasetDir(t.TempDir())).Run(context.Background(), out)

	require.Equal(t, 0, <-streamed)
	require.Equal(t, 1, res.EncodeFails)
	require.Zero(t, res.NoDetection)
	require.Empty(t, res.Outcome.Records)
}

func TestBasicModeEncodeFailureLeavesNoRecord(t *testing.T) {
	sess := newSession(exercise.KindPushUp)

	out := make(chan []byte, 2)
	streamed := drain(out)
	res := New(sess, video.NewSliceSource([]image.Image{oversized()}, 30), nil, quiet(), WithDatasetDir(t.TempDir())).Run(context.Background(), out)

	require.Equal(t, 0, <-streamed)
	require.Equal(t, 1, res.EncodeFails)
	require.Empty(t, res.Outcome.Records)
	require.True(t, sess.Done())
}

func TestBasicModeCountsByCadence(t *testing.T) {
	sess := newSession(exercise.KindPushUp)
	source := video.NewSliceSource(frames(200), 30)

	p := New(sess, source, nil, quiet(), WithDatasetDir(t.TempDir()))
	require.Equal(t, ModeBasic, p.Mode())

	out := make(chan []byte, 2)
	streamed := drain(out)
	res := p.Run(context.Background(), out)

	require.Equal(t, 200, <-streamed)
	require.Len(t, res.Outcome.Records, 200)
	require.Equal(t, 4, res.Outcome.Summary.TotalReps)
	for _, rec := range res.Outcome.Records {
		require.Equal(t, exercise.FeedbackBasicAnalysis, rec.Feedback)
		require.Equal(t, 90.0, rec.ElbowAngle)
		require.Equal(t, 180.0, rec.HipAngle)
	}
	require.Equal(t, session.LiveMetrics{Count: 4, Feedback: exercise.FeedbackBasicAnalysis, ElbowAngle: 90, HipAngle: 180}, sess.Metrics())
}

func TestViewerLeavingStillCompletesSession(t *testing.T) {
	sess := newSession(exercise.KindPushUp)
	source := video.NewSliceSource(frames(50), 30)
	detector := &stubDetector{}
	ctx, cancel := context.WithCancel(context.Background())

	out := make(chan []byte)
	go func() {
		<-out
		cancel()
	}()
	res := New(sess, source, detector, quiet(), WithDatasetDir(t.TempDir())).Run(ctx, out)

	require.Equal(t, EndCancelled, res.End)
	require.ErrorIs(t, res.Err, context.Canceled)
	require.Less(t, res.FramesRead, 50)
	require.True(t, sess.Done())
	require.True(t, source.Closed())
	require.True(t, detector.closed)
	require.NotEmpty(t, res.Outcome.DatasetPath)

	_, open := <-out
	require.False(t, open, "frames channel is closed")
}

func TestDetectorDeathAbortsButCompletes(t *testing.T) {
	sess := newSession(exercise.KindPushUp)
	detector := &stubDetector{
		results: map[int]pose.Result{1: pushUpPose(170), 2: pushUpPose(85)},
		errs:    map[int]error{3: pose.ErrDetectorClosed},
	}

	out := make(chan []byte, 2)
	streamed := drain(out)
	res := New(sess, video.NewSliceSource(frames(10), 30), detector, quiet(), WithDatasetDir(t.TempDir())).Run(context.Background(), out)

	require.Equal(t, 2, <-streamed)
	require.Equal(t, EndDetectorClosed, res.End)
	require.ErrorIs(t, res.Err, pose.ErrDetectorClosed)
	require.Len(t, res.Outcome.Records, 2)
	require.Equal(t, []int{1, 2, 3}, detector.seen)
	require.True(t, sess.Done())
	require.NotEmpty(t, res.Outcome.DatasetPath)
}

func TestDatasetFailureLeavesNoPath(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	sess := newSession(exercise.KindPushUp)
	out := make(chan []byte, 2)
	streamed := drain(out)
	res := New(sess, video.NewSliceSource(frames(2), 30), nil, quiet(), WithDatasetDir(filepath.Join(blocker, "sessions"))).Run(context.Background(), out)
	<-streamed

	require.Empty(t, res.Outcome.DatasetPath)
	outcome, done := sess.Outcome()
	require.True(t, done)
	require.Empty(t, outcome.DatasetPath)
	require.Len(t, outcome.Records, 2)
}

func TestMeasure(t *testing.T) {
	res := pushUpPose(90)
	m := measure(&res.Landmarks, 42)
	require.InDelta(t, 90, m.ElbowAngle, 1e-6)
	require.InDelta(t, 180, m.HipAngle, 1e-6)
	require.InDelta(t, 0.05, m.FeetApart, 1e-9)
	require.False(t, m.HandsHigh)
	require.Equal(t, 42.0, m.TimestampMS)

	res.Landmarks[pose.LeftWrist].Y = 0.1
	res.Landmarks[pose.RightWrist].Y = 0.1
	require.True(t, measure(&res.Landmarks, 0).HandsHigh)
}

func TestRoundAngle(t *testing.T) {
	require.Equal(t, 170, roundAngle(169.6))
	require.Equal(t, 85, roundAngle(85.4))
}
