// Package pose wraps the opaque pose-estimation capability behind an
// Estimator interface, adds per-session warm state (cold detection vs
// tracking), and applies visibility gating when deriving joint angles.
package pose

import (
	"context"
	"errors"
	"image"

	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/pkg/types"
)

// Mode selects how the estimator searches for a pose.
type Mode int

const (
	// ModeDetect runs a full cold search of the frame.
	ModeDetect Mode = iota
	// ModeTrack refines from the previous frame's pose, which is cheaper.
	ModeTrack
)

// String returns the wire name of the mode.
func (m Mode) String() string {
	if m == ModeTrack {
		return "track"
	}
	return "detect"
}

// ErrEstimatorClosed is returned once an estimator has been shut down.
var ErrEstimatorClosed = errors.New("estimator closed")

// Estimator is the opaque detection capability: one image in, a complete
// landmark set or nil (no pose) out. Implementations must be safe to call
// from one goroutine at a time; the pool enforces exclusive checkout.
type Estimator interface {
	// Detect returns the landmarks found in img, or nil when no pose is
	// present. mode hints whether prior-frame tracking state may be used.
	Detect(ctx context.Context, img image.Image, mode Mode) (types.LandmarkSet, error)
	Close() error
}

// noopEstimator always reports no pose. It keeps the server functional when
// no estimator backend is configured.
type noopEstimator struct{}

// NewNoopEstimator returns an estimator that never detects a pose.
func NewNoopEstimator() Estimator { return noopEstimator{} }

func (noopEstimator) Detect(context.Context, image.Image, Mode) (types.LandmarkSet, error) {
	return nil, nil
}

func (noopEstimator) Close() error { return nil }
