// Package opencv reads video files through OpenCV.
package opencv

import (
	"context"
	"fmt"
	"io"
	"sync"

	"gocv.io/x/gocv"

	"example.com/repcount/internal/video"
)

// Capture is a video.Source backed by a gocv file capture.
type Capture struct {
	mu      sync.Mutex
	capture *gocv.VideoCapture
	mat     gocv.Mat
	fps     float64
	closed  bool
}

// Open opens path for sequential reading.
func Open(_ context.Context, path string) (video.Source, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", video.ErrOpen, path, err)
	}
	if !capture.IsOpened() {
		_ = capture.Close()
		return nil, fmt.Errorf("%w: %s", video.ErrOpen, path)
	}

	return &Capture{
		capture: capture,
		mat:     gocv.NewMat(),
		fps:     capture.Get(gocv.VideoCaptureFPS),
	}, nil
}

// Opener returns Open as a video.Opener.
func Opener() video.Opener {
	return video.OpenerFunc(Open)
}

// Next decodes the next frame. The decoder position and timestamp are read after the frame so
// that Index is 1-based.
func (c *Capture) Next(ctx context.Context) (video.Frame, error) {
	if err := ctx.Err(); err != nil {
		return video.Frame{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return video.Frame{}, io.EOF
	}
	if ok := c.capture.Read(&c.mat); !ok || c.mat.Empty() {
		return video.Frame{}, io.EOF
	}

	img, err := c.mat.ToImage()
	if err != nil {
		return video.Frame{}, fmt.Errorf("convert frame: %w", err)
	}

	index := int(c.capture.Get(gocv.VideoCapturePosFrames))
	stamp := c.capture.Get(gocv.VideoCapturePosMsec)
	if stamp <= 0 && c.fps > 0 && index > 1 {
		stamp = float64(index-1) * 1000 / c.fps
	}

	return video.Frame{Index: index, TimestampMS: stamp, Image: img}, nil
}

// Close releases the native capture. Safe to call more than once.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.mat.Close()
	return c.capture.Close()
}
