// Package domain coordinates analysis sessions: upload, streaming, results and archiving.
package domain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/repcount/internal/exercise"
	"example.com/repcount/internal/insights"
	"example.com/repcount/internal/observability"
	"example.com/repcount/internal/overlay"
	"example.com/repcount/internal/pipeline"
	"example.com/repcount/internal/pose"
	"example.com/repcount/internal/recorder"
	"example.com/repcount/internal/report"
	"example.com/repcount/internal/session"
	"example.com/repcount/internal/video"
)

var (
	// ErrSessionNotFound is returned when a session id is unknown, expired or owned by another tenant.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionStarted is returned when a session's stream was already requested.
	ErrSessionStarted = errors.New("session already started")
	// ErrSessionNotDone is returned for results that only exist after the pipeline finished.
	ErrSessionNotDone = errors.New("session not finished")
	// ErrDatasetNotReady is returned until the CSV dataset exists.
	ErrDatasetNotReady = errors.New("dataset not ready")
	// ErrVideoUnreadable is returned when the uploaded video cannot be opened for analysis.
	ErrVideoUnreadable = errors.New("video cannot be opened")
	// ErrInvalidUpload is returned for uploads without a usable file.
	ErrInvalidUpload = errors.New("invalid upload")
)

// DetectorOpener starts a landmark detector for one session. Returning an error wrapping
// pose.ErrUnavailable switches the session to basic mode.
type DetectorOpener func(ctx context.Context) (pose.Detector, error)

// CompletedSession is what gets archived once a pipeline finishes.
type CompletedSession struct {
	SessionID   string
	TenantID    string
	UserID      string
	Exercise    exercise.Kind
	Mode        pipeline.Mode
	End         pipeline.End
	Outcome     session.Outcome
	StartedAt   time.Time
	CompletedAt time.Time
}

// Archiver keeps completed sessions beyond the in-memory store's lifetime.
type Archiver interface {
	Archive(ctx context.Context, completed CompletedSession) error
	LoadSummary(ctx context.Context, tenantID, sessionID string) (*recorder.Summary, error)
}

// Insighter produces coaching text from a session summary.
type Insighter interface {
	Generate(ctx context.Context, kind exercise.Kind, summary recorder.Summary, prompt string) (string, error)
}

// Config holds the filesystem and streaming settings for the service.
type Config struct {
	UploadDir    string
	DatasetDir   string
	StreamBuffer int
	JPEGQuality  int
}

// Option configures optional collaborators.
type Option func(*Service)

// WithArchiver enables archiving of completed sessions.
func WithArchiver(a Archiver) Option {
	return func(s *Service) {
		s.archive = a
	}
}

// WithInsights enables the insights endpoint.
func WithInsights(i Insighter) Option {
	return func(s *Service) {
		s.insighter = i
	}
}

// WithMetricsSink forwards live metrics of every session to sink.
func WithMetricsSink(sink pipeline.MetricsSink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

// WithLogger overrides the service logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// Service orchestrates session workflows.
type Service struct {
	store     session.Store
	videos    video.Opener
	detectors DetectorOpener
	archive   Archiver
	insighter Insighter
	sink      pipeline.MetricsSink
	cfg       Config
	logger    *log.Logger
	now       func() time.Time
	running   sync.WaitGroup
}

// NewService constructs a Service.
func NewService(store session.Store, videos video.Opener, detectors DetectorOpener, cfg Config, opts ...Option) *Service {
	if cfg.StreamBuffer <= 0 {
		cfg.StreamBuffer = 2
	}
	s := &Service{
		store:     store,
		videos:    videos,
		detectors: detectors,
		cfg:       cfg,
		logger:    log.New(log.Writer(), "[domain] ", log.LstdFlags|log.Lshortfile),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSessionInput captures an upload from the API layer.
type CreateSessionInput struct {
	TenantID string
	UserID   string
	Exercise string
	Filename string
	Video    io.Reader
}

// CreateSession stores the uploaded video and registers a new session.
func (s *Service) CreateSession(ctx context.Context, input CreateSessionInput) (*session.Session, error) {
	name := filepath.Base(strings.ReplaceAll(input.Filename, "\\", "/"))
	if input.Video == nil || name == "." || name == "/" || name == "" {
		return nil, ErrInvalidUpload
	}

	id := uuid.NewString()
	if err := os.MkdirAll(s.cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	path := filepath.Join(s.cfg.UploadDir, id+"_"+name)

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	written, err := io.Copy(file, input.Video)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if written == 0 {
		_ = os.Remove(path)
		return nil, ErrInvalidUpload
	}

	kind := exercise.ParseKind(input.Exercise)
	sess := session.New(id, input.TenantID, input.UserID, kind, path, s.now().UTC())
	if err := s.store.Put(ctx, sess); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	observability.RecordSessionCreated(string(kind))
	return sess, nil
}

// GetSession fetches a live session visible to tenantID.
func (s *Service) GetSession(ctx context.Context, tenantID, sessionID string) (*session.Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	if tenantID != "" && sess.TenantID != tenantID {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Stream is a running analysis. Frames is closed when the pipeline stops.
type Stream struct {
	Frames <-chan []byte
	Mode   pipeline.Mode

	done   chan struct{}
	result pipeline.Result
}

// Wait blocks until the pipeline and archiving have finished and returns the run result.
func (st *Stream) Wait() pipeline.Result {
	<-st.done
	return st.result
}

// StartStream opens the video and detector and launches the pipeline. Failures to acquire
// either are returned before any frame is produced. Cancelling ctx stops the pipeline; the
// session is still completed.
func (s *Service) StartStream(ctx context.Context, tenantID, sessionID string) (*Stream, error) {
	sess, err := s.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.State() != session.StateCreated {
		return nil, ErrSessionStarted
	}

	source, err := s.videos.Open(ctx, sess.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVideoUnreadable, err)
	}

	detector, err := s.detectors(ctx)
	switch {
	case err == nil:
	case errors.Is(err, pose.ErrUnavailable):
		s.logger.Printf("session %s: landmark detector unavailable, using basic mode: %v", sess.ID, err)
		detector = nil
	default:
		_ = source.Close()
		return nil, fmt.Errorf("start detector: %w", err)
	}

	if err := sess.Begin(detector == nil, s.now().UTC()); err != nil {
		_ = source.Close()
		if detector != nil {
			_ = detector.Close()
		}
		return nil, ErrSessionStarted
	}
	if err := s.store.Put(ctx, sess); err != nil {
		s.logger.Printf("session %s: pin while streaming: %v", sess.ID, err)
	}

	opts := []pipeline.Option{
		pipeline.WithDatasetDir(s.cfg.DatasetDir),
		pipeline.WithRenderer(overlay.NewRenderer(s.cfg.JPEGQuality)),
	}
	if s.sink != nil {
		opts = append(opts, pipeline.WithMetricsSink(s.sink))
	}
	p := pipeline.New(sess, source, detector, opts...)

	frames := make(chan []byte, s.cfg.StreamBuffer)
	stream := &Stream{Frames: frames, Mode: p.Mode(), done: make(chan struct{})}

	s.running.Add(1)
	go func() {
		defer s.running.Done()
		defer close(stream.done)

		stream.result = p.Run(ctx, frames)
		finished := context.WithoutCancel(ctx)
		if err := s.store.Put(finished, sess); err != nil {
			s.logger.Printf("session %s: store finished session: %v", sess.ID, err)
		}
		s.archiveSession(finished, sess, stream.result)
	}()
	return stream, nil
}

func (s *Service) archiveSession(ctx context.Context, sess *session.Session, res pipeline.Result) {
	if s.archive == nil {
		return
	}
	startedAt, completedAt := sess.Timing()
	completed := CompletedSession{
		SessionID:   sess.ID,
		TenantID:    sess.TenantID,
		UserID:      sess.UserID,
		Exercise:    sess.Exercise,
		Mode:        res.Mode,
		End:         res.End,
		Outcome:     res.Outcome,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
	}
	if err := s.archive.Archive(ctx, completed); err != nil {
		s.logger.Printf("session %s: archive failed: %v", sess.ID, err)
	}
}

// Wait blocks until every running pipeline has finished.
func (s *Service) Wait() {
	s.running.Wait()
}

// MetricsView is the live metrics snapshot plus completion flag. AnalysisMode is empty until
// the stream has started.
type MetricsView struct {
	session.LiveMetrics
	IsDone       bool          `json:"is_done"`
	AnalysisMode pipeline.Mode `json:"analysis_mode,omitempty"`
}

// Metrics returns the latest live metrics.
func (s *Service) Metrics(ctx context.Context, tenantID, sessionID string) (MetricsView, error) {
	sess, err := s.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return MetricsView{}, err
	}
	view := MetricsView{LiveMetrics: sess.Metrics(), IsDone: sess.Done()}
	if sess.State() != session.StateCreated {
		view.AnalysisMode = pipeline.ModeFull
		if sess.BasicMode() {
			view.AnalysisMode = pipeline.ModeBasic
		}
	}
	return view, nil
}

// Dataset returns the path of the session's CSV dataset.
func (s *Service) Dataset(ctx context.Context, tenantID, sessionID string) (string, error) {
	sess, err := s.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return "", err
	}
	outcome, done := sess.Outcome()
	if !done || outcome.DatasetPath == "" {
		return "", ErrDatasetNotReady
	}
	if _, err := os.Stat(outcome.DatasetPath); err != nil {
		return "", ErrDatasetNotReady
	}
	return outcome.DatasetPath, nil
}

// Summary returns the session summary. Sessions that have not finished report the empty
// summary; sessions no longer held in memory are looked up in the archive.
func (s *Service) Summary(ctx context.Context, tenantID, sessionID string) (recorder.Summary, error) {
	sess, err := s.GetSession(ctx, tenantID, sessionID)
	if err == nil {
		outcome, done := sess.Outcome()
		if !done {
			return recorder.Summarize(nil), nil
		}
		return outcome.Summary, nil
	}
	if !errors.Is(err, ErrSessionNotFound) || s.archive == nil {
		return recorder.Summary{}, err
	}

	archived, err := s.archive.LoadSummary(ctx, tenantID, sessionID)
	if err != nil {
		return recorder.Summary{}, err
	}
	if archived == nil {
		return recorder.Summary{}, ErrSessionNotFound
	}
	return *archived, nil
}

// Chart renders the angle chart of a finished session as PNG.
func (s *Service) Chart(ctx context.Context, tenantID, sessionID string) ([]byte, error) {
	sess, err := s.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	outcome, done := sess.Outcome()
	if !done {
		return nil, ErrSessionNotDone
	}
	return report.AngleChart(fmt.Sprintf("%s session %s", sess.Exercise, sess.ID), outcome.Records)
}

// Insights asks the configured provider for coaching advice on the session.
func (s *Service) Insights(ctx context.Context, tenantID, sessionID, prompt string) (string, error) {
	sess, err := s.GetSession(ctx, tenantID, sessionID)
	if err != nil {
		return "", err
	}
	if s.insighter == nil {
		return "", insights.ErrNotConfigured
	}

	summary := recorder.Summarize(nil)
	if outcome, done := sess.Outcome(); done {
		summary = outcome.Summary
	}
	return s.insighter.Generate(ctx, sess.Exercise, summary, prompt)
}
