package pose

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"
	"os/exec"
	"time"
)

var (
	// ErrUnavailable means no landmark detector can be used; callers switch to basic mode.
	ErrUnavailable = errors.New("pose detector unavailable")
	// ErrDetectorClosed is returned once the detector process has gone away mid-session.
	ErrDetectorClosed = errors.New("pose detector closed")
)

// Detector finds body landmarks in a single frame.
type Detector interface {
	// Detect returns NotDetected with a nil error for frames without a usable body. A non-nil
	// error wrapping ErrDetectorClosed means no further frames can be processed.
	Detect(ctx context.Context, seq int, img image.Image) (Result, error)
	Close() error
}

// Config describes how to launch and gate the landmark worker.
type Config struct {
	Command                string
	Args                   []string
	MinDetectionConfidence float64
	MinTrackingConfidence  float64
	FrameTimeout           time.Duration
	JPEGQuality            int
}

func (c Config) withDefaults() Config {
	if c.MinDetectionConfidence <= 0 {
		c.MinDetectionConfidence = 0.5
	}
	if c.MinTrackingConfidence <= 0 {
		c.MinTrackingConfidence = 0.5
	}
	if c.FrameTimeout <= 0 {
		c.FrameTimeout = 2 * time.Second
	}
	if c.JPEGQuality <= 0 || c.JPEGQuality > 100 {
		c.JPEGQuality = 85
	}
	return c
}

// Option configures optional behaviour for the worker detector.
type Option func(*WorkerDetector)

// WithLogger overrides the logger used to report worker output and frame errors.
func WithLogger(logger *log.Logger) Option {
	return func(w *WorkerDetector) {
		w.logger = logger
	}
}

// Open starts the configured landmark worker. It returns an error wrapping ErrUnavailable when
// no worker is configured or the executable cannot be found; any other error means the worker
// exists but could not be started.
func Open(ctx context.Context, cfg Config, opts ...Option) (*WorkerDetector, error) {
	cfg = cfg.withDefaults()
	if cfg.Command == "" {
		return nil, fmt.Errorf("%w: no worker command configured", ErrUnavailable)
	}
	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	w := newWorkerDetector(cfg, opts...)
	if err := w.start(ctx, path); err != nil {
		return nil, fmt.Errorf("start pose worker: %w", err)
	}
	return w, nil
}
