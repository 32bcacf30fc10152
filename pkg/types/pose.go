package types

import "time"

// NumLandmarks is the fixed size of a complete landmark set.
const NumLandmarks = 33

// Landmark indices for the joints the rule tables reference.
// Positions follow the 33-point full-body convention.
const (
	LandmarkLeftShoulder  = 11
	LandmarkRightShoulder = 12
	LandmarkLeftElbow     = 13
	LandmarkRightElbow    = 14
	LandmarkLeftWrist     = 15
	LandmarkRightWrist    = 16
	LandmarkLeftHip       = 23
	LandmarkRightHip      = 24
	LandmarkLeftKnee      = 25
	LandmarkRightKnee     = 26
	LandmarkLeftAnkle     = 27
	LandmarkRightAnkle    = 28
)

// Landmark is one tracked body keypoint. Coordinates are normalized to [0,1]
// relative to the frame; Visibility is the detector's confidence in [0,1].
type Landmark struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility"`
}

// LandmarkSet is an ordered sequence of NumLandmarks landmarks. A set is
// either complete or the frame is treated as pose-absent; there are no
// partial sets.
type LandmarkSet []Landmark

// Complete reports whether the set carries all NumLandmarks points.
func (ls LandmarkSet) Complete() bool {
	return len(ls) == NumLandmarks
}

// Frame is one inbound image awaiting processing. It is owned by the session
// controller for the duration of a single processing cycle and discarded
// after use.
type Frame struct {
	Data      []byte    // Encoded image bytes (JPEG)
	Exercise  string    // Exercise the client tagged this frame with
	Timestamp time.Time // Capture timestamp
	Seq       uint64    // Monotonically increasing per connection
}

// AngleDef names a joint angle and the three landmarks that define it.
// B is the vertex; A and C are the ray endpoints.
type AngleDef struct {
	Name string
	A    int
	B    int
	C    int
}
