// Package geometry holds the planar helpers used to turn landmarks into joint angles.
package geometry

import "math"

// Point is a 2D position in normalized image coordinates.
type Point struct {
	X float64
	Y float64
}

// Angle returns the angle in degrees at vertex b between rays b->a and b->c.
// The result is unsigned and always the smaller of the two angles, so it lies in [0, 180].
// Callers must pass finite points with a distinct from b and c distinct from b.
func Angle(a, b, c Point) float64 {
	radians := math.Atan2(c.Y-b.Y, c.X-b.X) - math.Atan2(a.Y-b.Y, a.X-b.X)
	angle := math.Abs(radians * 180.0 / math.Pi)
	if angle > 180.0 {
		angle = 360 - angle
	}
	return angle
}

// HorizontalDistance is the absolute x separation between two points.
func HorizontalDistance(a, b Point) float64 {
	return math.Abs(a.X - b.X)
}
