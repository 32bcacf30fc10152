package pose

import (
	"context"
	"image"

	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/geometry"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/logger"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/pkg/types"
)

// coldAfterMisses is how many consecutive no-pose results force the adapter
// back into full detection mode.
const coldAfterMisses = 5

// Outcome is the result of running one frame through the adapter.
type Outcome struct {
	// Landmarks is nil when the frame yielded no pose.
	Landmarks types.LandmarkSet
	// Angles holds the requested angles that were computable; angles
	// depending on a low-visibility landmark or degenerate geometry are
	// absent, never zero.
	Angles map[string]float64
	// Confidence is the mean visibility across the landmarks the angle
	// definitions reference. HasConfidence is false when no pose was
	// found.
	Confidence    float64
	HasConfidence bool
}

// Adapter owns the per-session estimation state: which sub-mode to use next
// and the visibility floor applied to angle computation. One adapter per
// session; not safe for concurrent use.
type Adapter struct {
	pool      *Pool
	minDetect float64
	minTrack  float64

	mode   Mode
	misses int
}

// NewAdapter creates an adapter starting in cold detection mode.
// minDetect and minTrack are the visibility floors applied in the
// respective modes.
func NewAdapter(pool *Pool, minDetect, minTrack float64) *Adapter {
	return &Adapter{
		pool:      pool,
		minDetect: minDetect,
		minTrack:  minTrack,
		mode:      ModeDetect,
	}
}

// Mode returns the sub-mode the next frame will use.
func (a *Adapter) Mode() Mode { return a.mode }

// Process checks out an estimator for the duration of one frame, runs
// detection in the current sub-mode, and derives the requested angles with
// visibility gating. Estimator failures are converted to a no-pose outcome
// and returned alongside it so the caller can count them; they are never
// fatal.
func (a *Adapter) Process(ctx context.Context, img image.Image, defs []types.AngleDef) (Outcome, error) {
	est, err := a.pool.acquire(ctx)
	if err != nil {
		return a.miss(), err
	}
	mode := a.mode
	landmarks, err := est.Detect(ctx, img, mode)
	a.pool.release(est)

	if err != nil {
		logger.Warn("PoseAdapter", "estimator failure (%s mode): %v", mode, err)
		return a.miss(), err
	}
	if !landmarks.Complete() {
		if len(landmarks) != 0 {
			logger.Debug("PoseAdapter", "partial landmark set (%d points) treated as no pose", len(landmarks))
		}
		return a.miss(), nil
	}

	// Pose found: refine from it next frame.
	a.mode = ModeTrack
	a.misses = 0

	threshold := a.minDetect
	if mode == ModeTrack {
		threshold = a.minTrack
	}
	angles, conf, hasConf := DeriveAngles(landmarks, defs, threshold)
	return Outcome{
		Landmarks:     landmarks,
		Angles:        angles,
		Confidence:    conf,
		HasConfidence: hasConf,
	}, nil
}

// miss records a no-pose result and decides whether to fall back to cold
// detection.
func (a *Adapter) miss() Outcome {
	a.misses++
	if a.misses >= coldAfterMisses && a.mode == ModeTrack {
		logger.Debug("PoseAdapter", "%d consecutive misses, returning to cold detection", a.misses)
		a.mode = ModeDetect
	}
	return Outcome{}
}

// DeriveAngles computes the requested angles from a landmark set. A landmark
// with visibility below threshold is excluded; any angle depending on an
// excluded landmark is reported as unavailable. Confidence is the mean
// visibility over the distinct landmarks the definitions reference.
func DeriveAngles(ls types.LandmarkSet, defs []types.AngleDef, threshold float64) (map[string]float64, float64, bool) {
	angles := make(map[string]float64, len(defs))
	if !ls.Complete() {
		return angles, 0, false
	}
	seen := make(map[int]bool)
	visSum := 0.0

	for _, def := range defs {
		for _, idx := range [3]int{def.A, def.B, def.C} {
			if !seen[idx] {
				seen[idx] = true
				visSum += ls[idx].Visibility
			}
		}
		a, b, c := ls[def.A], ls[def.B], ls[def.C]
		if a.Visibility < threshold || b.Visibility < threshold || c.Visibility < threshold {
			continue
		}
		if deg, ok := geometry.Angle(a, b, c); ok {
			angles[def.Name] = deg
		}
	}

	if len(seen) == 0 {
		return angles, 0, false
	}
	return angles, visSum / float64(len(seen)), true
}
