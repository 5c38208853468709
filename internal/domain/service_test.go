package domain

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/repcount/internal/exercise"
	"example.com/repcount/internal/insights"
	"example.com/repcount/internal/persistence/memory"
	"example.com/repcount/internal/pipeline"
	"example.com/repcount/internal/pose"
	"example.com/repcount/internal/recorder"
	"example.com/repcount/internal/session"
	"example.com/repcount/internal/video"
)

type stubDetector struct {
	closed bool
}

func (s *stubDetector) Detect(context.Context, int, image.Image) (pose.Result, error) {
	return pose.NotDetected, nil
}

func (s *stubDetector) Close() error {
	s.closed = true
	return nil
}

type stubArchive struct {
	mu        sync.Mutex
	archived  []CompletedSession
	summaries map[string]recorder.Summary
	err       error
}

func (s *stubArchive) Archive(_ context.Context, completed CompletedSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.archived = append(s.archived, completed)
	return s.err
}

func (s *stubArchive) LoadSummary(_ context.Context, tenantID, sessionID string) (*recorder.Summary, error) {
	summary, ok := s.summaries[tenantID+"/"+sessionID]
	if !ok {
		return nil, nil
	}
	return &summary, nil
}

type stubInsighter struct {
	kind    exercise.Kind
	summary recorder.Summary
	prompt  string
}

func (s *stubInsighter) Generate(_ context.Context, kind exercise.Kind, summary recorder.Summary, prompt string) (string, error) {
	s.kind, s.summary, s.prompt = kind, summary, prompt
	return "keep your core tight", nil
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	archive  *stubArchive
	opened   []string
	sources  []*video.SliceSource
	detector *stubDetector
}

func newFixture(t *testing.T, frameCount int, detectorErr error, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(16, time.Hour, memory.WithLogger(log.New(io.Discard, "", 0))),
		archive:  &stubArchive{summaries: map[string]recorder.Summary{}},
		detector: &stubDetector{},
	}
	videos := video.OpenerFunc(func(_ context.Context, path string) (video.Source, error) {
		if strings.HasSuffix(path, "broken.mp4") {
			return nil, video.ErrOpen
		}
		images := make([]image.Image, frameCount)
		for i := range images {
			images[i] = image.NewRGBA(image.Rect(0, 0, 16, 12))
		}
		source := video.NewSliceSource(images, 30)
		f.opened = append(f.opened, path)
		f.sources = append(f.sources, source)
		return source, nil
	})
	detectors := func(context.Context) (pose.Detector, error) {
		if detectorErr != nil {
			return nil, detectorErr
		}
		return f.detector, nil
	}

	dir := t.TempDir()
	cfg := Config{
		UploadDir:  filepath.Join(dir, "uploads"),
		DatasetDir: filepath.Join(dir, "datasets"),
	}
	all := append([]Option{
		WithLogger(log.New(io.Discard, "", 0)),
		WithArchiver(f.archive),
	}, opts...)
	f.svc = NewService(f.store, videos, detectors, cfg, all...)
	return f
}

func (f *fixture) create(t *testing.T, filename string) *session.Session {
	t.Helper()
	sess, err := f.svc.CreateSession(context.Background(), CreateSessionInput{
		TenantID: "tenant-a",
		UserID:   "user-1",
		Exercise: "situp",
		Filename: filename,
		Video:    bytes.NewBufferString("not really a video"),
	})
	require.NoError(t, err)
	return sess
}

func drain(frames <-chan []byte) int {
	n := 0
	for range frames {
		n++
	}
	return n
}

func TestCreateSessionStoresUpload(t *testing.T) {
	f := newFixture(t, 1, nil)
	sess := f.create(t, "../../clips/morning.mp4")

	require.Equal(t, exercise.KindSitUp, sess.Exercise)
	require.Equal(t, "tenant-a", sess.TenantID)
	require.Equal(t, session.StateCreated, sess.State())
	require.Equal(t, sess.ID+"_morning.mp4", filepath.Base(sess.VideoPath))

	body, err := os.ReadFile(sess.VideoPath)
	require.NoError(t, err)
	require.Equal(t, "not really a video", string(body))
	require.Equal(t, 1, f.store.Len())
}

func TestCreateSessionRejectsEmptyUpload(t *testing.T) {
	f := newFixture(t, 1, nil)
	_, err := f.svc.CreateSession(context.Background(), CreateSessionInput{
		TenantID: "tenant-a",
		Filename: "empty.mp4",
		Video:    bytes.NewReader(nil),
	})
	require.ErrorIs(t, err, ErrInvalidUpload)

	_, err = f.svc.CreateSession(context.Background(), CreateSessionInput{TenantID: "tenant-a"})
	require.ErrorIs(t, err, ErrInvalidUpload)
	require.Zero(t, f.store.Len())
}

func TestUnknownExerciseFallsBackToPushUp(t *testing.T) {
	f := newFixture(t, 1, nil)
	sess, err := f.svc.CreateSession(context.Background(), CreateSessionInput{
		TenantID: "tenant-a",
		Exercise: "burpee",
		Filename: "clip.mp4",
		Video:    bytes.NewBufferString("x"),
	})
	require.NoError(t, err)
	require.Equal(t, exercise.KindPushUp, sess.Exercise)
}

func TestOtherTenantCannotSeeSession(t *testing.T) {
	f := newFixture(t, 1, nil)
	sess := f.create(t, "clip.mp4")

	_, err := f.svc.GetSession(context.Background(), "tenant-b", sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.svc.StartStream(context.Background(), "tenant-b", sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.svc.GetSession(context.Background(), "tenant-a", "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStreamCompletesSessionAndArchives(t *testing.T) {
	f := newFixture(t, 5, nil)
	sess := f.create(t, "clip.mp4")
	ctx := context.Background()

	view, err := f.svc.Metrics(ctx, "tenant-a", sess.ID)
	require.NoError(t, err)
	require.False(t, view.IsDone)
	require.Zero(t, view.Count)
	require.Empty(t, view.AnalysisMode)

	_, err = f.svc.Dataset(ctx, "tenant-a", sess.ID)
	require.ErrorIs(t, err, ErrDatasetNotReady)
	_, err = f.svc.Chart(ctx, "tenant-a", sess.ID)
	require.ErrorIs(t, err, ErrSessionNotDone)

	stream, err := f.svc.StartStream(ctx, "tenant-a", sess.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.ModeFull, stream.Mode)
	require.Equal(t, 5, drain(stream.Frames))

	res := stream.Wait()
	require.Equal(t, pipeline.EndExhausted, res.End)
	require.True(t, f.detector.closed)

	view, err = f.svc.Metrics(ctx, "tenant-a", sess.ID)
	require.NoError(t, err)
	require.True(t, view.IsDone)
	require.Equal(t, pipeline.ModeFull, view.AnalysisMode)

	path, err := f.svc.Dataset(ctx, "tenant-a", sess.ID)
	require.NoError(t, err)
	require.Equal(t, sess.ID+".csv", filepath.Base(path))

	chart, err := f.svc.Chart(ctx, "tenant-a", sess.ID)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(chart, []byte("\x89PNG")))

	require.Len(t, f.archive.archived, 1)
	archived := f.archive.archived[0]
	require.Equal(t, sess.ID, archived.SessionID)
	require.Equal(t, "tenant-a", archived.TenantID)
	require.Equal(t, pipeline.EndExhausted, archived.End)
	require.False(t, archived.CompletedAt.IsZero())
}

func TestSecondStreamIsRejected(t *testing.T) {
	f := newFixture(t, 2, nil)
	sess := f.create(t, "clip.mp4")

	stream, err := f.svc.StartStream(context.Background(), "tenant-a", sess.ID)
	require.NoError(t, err)

	_, err = f.svc.StartStream(context.Background(), "tenant-a", sess.ID)
	require.ErrorIs(t, err, ErrSessionStarted)

	drain(stream.Frames)
	stream.Wait()
	_, err = f.svc.StartStream(context.Background(), "tenant-a", sess.ID)
	require.ErrorIs(t, err, ErrSessionStarted)
	require.Len(t, f.opened, 1)
}

func TestUnavailableDetectorStreamsInBasicMode(t *testing.T) {
	f := newFixture(t, 3, pose.ErrUnavailable)
	sess := f.create(t, "clip.mp4")

	stream, err := f.svc.StartStream(context.Background(), "tenant-a", sess.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.ModeBasic, stream.Mode)
	require.Equal(t, 3, drain(stream.Frames))
	stream.Wait()

	view, err := f.svc.Metrics(context.Background(), "tenant-a", sess.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.ModeBasic, view.AnalysisMode)
	summary, err := f.svc.Summary(context.Background(), "tenant-a", sess.ID)
	require.NoError(t, err)
	require.Equal(t, 3, summary.TotalFrames)
}

func TestDetectorStartFailureLeavesSessionStartable(t *testing.T) {
	f := newFixture(t, 2, errors.New("worker crashed on start"))
	sess := f.create(t, "clip.mp4")

	_, err := f.svc.StartStream(context.Background(), "tenant-a", sess.ID)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrSessionStarted)
	require.Equal(t, session.StateCreated, sess.State())
	require.True(t, f.sources[0].Closed())
}

func TestUnreadableVideo(t *testing.T) {
	f := newFixture(t, 2, nil)
	sess := f.create(t, "broken.mp4")

	_, err := f.svc.StartStream(context.Background(), "tenant-a", sess.ID)
	require.ErrorIs(t, err, ErrVideoUnreadable)
	require.Equal(t, session.StateCreated, sess.State())
}

func TestCancelledViewerStillCompletesSession(t *testing.T) {
	f := newFixture(t, 50, nil)
	sess := f.create(t, "clip.mp4")

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := f.svc.StartStream(ctx, "tenant-a", sess.ID)
	require.NoError(t, err)
	<-stream.Frames
	cancel()

	res := stream.Wait()
	require.Equal(t, pipeline.EndCancelled, res.End)
	require.True(t, sess.Done())
	require.Len(t, f.archive.archived, 1)
	f.svc.Wait()
}

func TestSummaryFallsBackToArchive(t *testing.T) {
	f := newFixture(t, 1, nil)
	f.archive.summaries["tenant-a/gone"] = recorder.Summary{TotalFrames: 42, TotalReps: 7}

	summary, err := f.svc.Summary(context.Background(), "tenant-a", "gone")
	require.NoError(t, err)
	require.Equal(t, 7, summary.TotalReps)

	_, err = f.svc.Summary(context.Background(), "tenant-b", "gone")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSummaryBeforeCompletionIsEmpty(t *testing.T) {
	f := newFixture(t, 1, nil)
	sess := f.create(t, "clip.mp4")

	summary, err := f.svc.Summary(context.Background(), "tenant-a", sess.ID)
	require.NoError(t, err)
	require.Zero(t, summary.TotalFrames)
	require.Zero(t, summary.TotalReps)
}

func TestInsights(t *testing.T) {
	f := newFixture(t, 1, nil)
	sess := f.create(t, "clip.mp4")

	_, err := f.svc.Insights(context.Background(), "tenant-a", sess.ID, "")
	require.ErrorIs(t, err, insights.ErrNotConfigured)

	insighter := &stubInsighter{}
	f.svc = NewService(f.store, nil, nil, Config{}, WithInsights(insighter), WithLogger(log.New(io.Discard, "", 0)))
	text, err := f.svc.Insights(context.Background(), "tenant-a", sess.ID, "more volume")
	require.NoError(t, err)
	require.Equal(t, "keep your core tight", text)
	require.Equal(t, exercise.KindSitUp, insighter.kind)
	require.Equal(t, "more volume", insighter.prompt)
}
