// Package video defines the frame sources the analysis pipeline reads from.
package video

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrOpen is returned when a video cannot be opened for reading.
	ErrOpen = errors.New("video cannot be opened")
)

// Frame is one decoded video frame. Index is 1-based and matches the decoder's position after
// the read; TimestampMS is the presentation time of the frame in milliseconds.
type Frame struct {
	Index       int
	TimestampMS float64
	Image       image.Image
}

// Source yields frames in order. Next returns io.EOF once the video is exhausted.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	Close() error
}

// Opener opens a frame source for a stored video file.
type Opener interface {
	Open(ctx context.Context, path string) (Source, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, path string) (Source, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, path string) (Source, error) {
	return f(ctx, path)
}
