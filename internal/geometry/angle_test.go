package geometry

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAngleKnownValues(t *testing.T) {
	cases := []struct {
		name    string
		a, b, c Point
		want    float64
	}{
		{name: "right angle", a: Point{0, 1}, b: Point{0, 0}, c: Point{1, 0}, want: 90},
		{name: "straight line", a: Point{-1, 0}, b: Point{0, 0}, c: Point{1, 0}, want: 180},
		{name: "coincident rays", a: Point{2, 0}, b: Point{0, 0}, c: Point{1, 0}, want: 0},
		{name: "small angle", a: Point{1, 0.01}, b: Point{0, 0}, c: Point{1, -0.01}, want: 1.1459},
		{name: "reflex folds back", a: Point{-0.98480775, 0.17364818}, b: Point{0, 0}, c: Point{-0.98480775, -0.17364818}, want: 20},
		{name: "forty five", a: Point{1, 1}, b: Point{0, 0}, c: Point{1, 0}, want: 45},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.InDelta(t, tc.want, Angle(tc.a, tc.b, tc.c), 1e-3)
		})
	}
}

func TestAngleSymmetricAndBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		a := Point{rng.Float64(), rng.Float64()}
		b := Point{rng.Float64(), rng.Float64()}
		c := Point{rng.Float64(), rng.Float64()}
		if a == b || c == b {
			continue
		}

		forward := Angle(a, b, c)
		backward := Angle(c, b, a)
		require.InDelta(t, forward, backward, 1e-9)
		require.GreaterOrEqual(t, forward, 0.0)
		require.LessOrEqual(t, forward, 180.0)
	}
}

func TestHorizontalDistance(t *testing.T) {
	require.InDelta(t, 0.4, HorizontalDistance(Point{X: 0.3}, Point{X: 0.7}), 1e-12)
	require.InDelta(t, 0.4, HorizontalDistance(Point{X: 0.7}, Point{X: 0.3}), 1e-12)
}
