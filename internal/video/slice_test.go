package video

import (
	"context"
	"image"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSliceSourceYieldsFramesInOrder(t *testing.T) {
	images := []image.Image{
		image.NewGray(image.Rect(0, 0, 2, 2)),
		image.NewGray(image.Rect(0, 0, 2, 2)),
		image.NewGray(image.Rect(0, 0, 2, 2)),
	}
	source := NewSliceSource(images, 20)
	ctx := context.Background()

	var indexes []int
	var stamps []float64
	for {
		frame, err := source.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		indexes = append(indexes, frame.Index)
		stamps = append(stamps, frame.TimestampMS)
	}

	require.Equal(t, []int{1, 2, 3}, indexes)
	require.Equal(t, []float64{0, 50, 100}, stamps)
}

func TestSliceSourceStopsAfterClose(t *testing.T) {
	source := NewSliceSource([]image.Image{image.NewGray(image.Rect(0, 0, 1, 1))}, 0)
	require.NoError(t, source.Close())
	require.True(t, source.Closed())

	_, err := source.Next(context.Background())
	require.ErrorIs(t, err, io.EOF)
}

func TestSliceSourceHonoursContext(t *testing.T) {
	source := NewSliceSource([]image.Image{image.NewGray(image.Rect(0, 0, 1, 1))}, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := source.Next(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
