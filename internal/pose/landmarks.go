// Package pose adapts an external landmark detector to the analysis pipeline.
//
// The detector itself is a black box: it receives one image and either reports a full set of
// normalized body landmarks or nothing. This package owns the wire protocol to that detector,
// the confidence gate, and the decision to fall back to basic mode when no detector exists.
package pose

import "example.com/repcount/internal/geometry"

// Landmark indices in the 33-point MediaPipe pose topology.
const (
	Nose           = 0
	LeftShoulder   = 11
	RightShoulder  = 12
	LeftElbow      = 13
	RightElbow     = 14
	LeftWrist      = 15
	RightWrist     = 16
	LeftHip        = 23
	RightHip       = 24
	LeftKnee       = 25
	RightKnee      = 26
	LeftAnkle      = 27
	RightAnkle     = 28
	LeftHeel       = 29
	RightHeel      = 30
	LeftFootIndex  = 31
	RightFootIndex = 32
	NumLandmarks   = 33
)

// RequiredJoints must all clear the detection threshold for a frame to count as detected.
var RequiredJoints = []int{
	LeftShoulder, RightShoulder,
	LeftElbow, RightElbow,
	LeftWrist, RightWrist,
	LeftHip, RightHip,
	LeftAnkle, RightAnkle,
}

// Connections are the skeleton segments drawn over the body. Face segments are omitted.
var Connections = [][2]int{
	{LeftShoulder, RightShoulder},
	{LeftShoulder, LeftElbow}, {LeftElbow, LeftWrist},
	{RightShoulder, RightElbow}, {RightElbow, RightWrist},
	{LeftShoulder, LeftHip}, {RightShoulder, RightHip},
	{LeftHip, RightHip},
	{LeftHip, LeftKnee}, {LeftKnee, LeftAnkle},
	{RightHip, RightKnee}, {RightKnee, RightAnkle},
	{LeftAnkle, LeftHeel}, {LeftHeel, LeftFootIndex}, {LeftAnkle, LeftFootIndex},
	{RightAnkle, RightHeel}, {RightHeel, RightFootIndex}, {RightAnkle, RightFootIndex},
}

// Landmark is one joint position in normalized [0,1] image coordinates.
type Landmark struct {
	X          float64
	Y          float64
	Visibility float64
}

// Landmarks is the complete per-frame landmark set.
type Landmarks [NumLandmarks]Landmark

// Point returns landmark i as a geometry point.
func (l *Landmarks) Point(i int) geometry.Point {
	return geometry.Point{X: l[i].X, Y: l[i].Y}
}

// Result is the outcome of running detection on one frame.
type Result struct {
	Detected  bool
	Landmarks Landmarks
}

// NotDetected is the result for a frame with no usable body.
var NotDetected = Result{}

// gate converts raw worker landmarks into a Result, rejecting sets that are incomplete or whose
// required joints fall below the detection threshold.
func gate(raw [][]float64, minVisibility float64) Result {
	if len(raw) < NumLandmarks {
		return NotDetected
	}

	var set Landmarks
	for i := 0; i < NumLandmarks; i++ {
		point := raw[i]
		if len(point) < 2 {
			return NotDetected
		}
		set[i] = Landmark{X: point[0], Y: point[1], Visibility: 1}
		if len(point) > 2 {
			set[i].Visibility = point[2]
		}
	}

	for _, joint := range RequiredJoints {
		if set[joint].Visibility < minVisibility {
			return NotDetected
		}
	}
	return Result{Detected: true, Landmarks: set}
}
