package video

import (
	"context"
	"image"
	"io"
	"sync"
)

// SliceSource replays an in-memory list of images at a fixed frame rate.
type SliceSource struct {
	mu     sync.Mutex
	images []image.Image
	fps    float64
	next   int
	closed bool
}

// NewSliceSource returns a source over images. fps values <= 0 default to 30.
func NewSliceSource(images []image.Image, fps float64) *SliceSource {
	if fps <= 0 {
		fps = 30
	}
	return &SliceSource{images: images, fps: fps}
}

// Next returns the next image, or io.EOF when all images were consumed or the source is closed.
func (s *SliceSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.next >= len(s.images) {
		return Frame{}, io.EOF
	}

	frame := Frame{
		Index:       s.next + 1,
		TimestampMS: float64(s.next) * 1000 / s.fps,
		Image:       s.images[s.next],
	}
	s.next++
	return frame, nil
}

// Close marks the source as exhausted.
func (s *SliceSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (s *SliceSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
