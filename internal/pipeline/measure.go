package pipeline

import (
	"math"

	"example.com/repcount/internal/exercise"
	"example.com/repcount/internal/geometry"
	"example.com/repcount/internal/pose"
)

// measure derives the state machine inputs from one landmark set. Angles use the left side.
func measure(l *pose.Landmarks, timestampMS float64) exercise.Measurements {
	shoulder := l.Point(pose.LeftShoulder)
	hip := l.Point(pose.LeftHip)

	return exercise.Measurements{
		ElbowAngle:  geometry.Angle(shoulder, l.Point(pose.LeftElbow), l.Point(pose.LeftWrist)),
		HipAngle:    geometry.Angle(shoulder, hip, l.Point(pose.LeftAnkle)),
		FeetApart:   geometry.HorizontalDistance(l.Point(pose.LeftAnkle), l.Point(pose.RightAnkle)),
		HandsHigh:   l[pose.LeftWrist].Y < l[pose.LeftShoulder].Y && l[pose.RightWrist].Y < l[pose.RightShoulder].Y,
		TimestampMS: timestampMS,
	}
}

func roundAngle(v float64) int {
	return int(math.Round(v))
}
