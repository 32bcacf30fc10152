// Package feedback assembles the per-frame response sent back to clients.
package feedback

import (
	"fmt"
	"time"

	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/rules"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/pkg/types"
)

// Composer turns rule evaluation results into wire envelopes. Every
// processed frame produces exactly one envelope regardless of outcome.
type Composer struct {
	verbose bool
}

// NewComposer creates a composer. When verbose is set each envelope carries
// an extra phase and rep summary line for debugging clients.
func NewComposer(verbose bool) *Composer {
	return &Composer{verbose: verbose}
}

// Compose builds the envelope for one frame. confidence is included only
// when hasConfidence is set; no-pose frames carry no confidence at all.
func (c *Composer) Compose(exercise string, res rules.Result, confidence float64, hasConfidence bool, at time.Time) types.FeedbackEnvelope {
	env := types.FeedbackEnvelope{
		Status:    res.Status,
		Feedback:  res.Feedback,
		Exercise:  exercise,
		Timestamp: float64(at.UnixNano()) / float64(time.Second),
	}
	if env.Feedback == nil {
		env.Feedback = []string{}
	}
	if hasConfidence {
		conf := confidence
		env.Confidence = &conf
	}
	if c.verbose && res.Status != types.StatusNoPose {
		env.Feedback = append(env.Feedback, fmt.Sprintf("phase: %s, reps: %d", res.Phase, res.Reps))
	}
	return env
}

// WithOverlay attaches a rendered skeleton frame to an envelope.
func WithOverlay(env types.FeedbackEnvelope, frame []byte) types.FeedbackEnvelope {
	env.SkeletonFrame = frame
	return env
}
