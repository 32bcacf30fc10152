// Package session serializes per-connection frame processing. Each websocket
// connection owns one Controller: the transport reader publishes frames into
// a capacity-1 slot and a single worker goroutine runs the pose pipeline on
// whatever frame is newest, so a slow pipeline sheds load instead of queueing.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/feedback"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/logger"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/metrics"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/pose"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/rules"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/visual"
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/pkg/types"
)

// Sender delivers pipeline output back to the client. Implementations must
// be safe for use from the session worker goroutine.
type Sender interface {
	SendEnvelope(types.FeedbackEnvelope) error
}

// Options configures a Controller.
type Options struct {
	Registry        *rules.Registry
	Adapter         *pose.Adapter
	Renderer        *visual.Renderer
	Composer        *feedback.Composer
	Metrics         *metrics.Metrics
	Sender          Sender
	DefaultExercise string
	// MinFrameInterval is the target-FPS floor between accepted frames;
	// zero disables pacing.
	MinFrameInterval time.Duration
	// SkeletonEnabled controls whether overlays are rendered at all.
	SkeletonEnabled bool
}

// Controller runs the processing pipeline for one connection.
type Controller struct {
	id   string
	opts Options
	slot *frameSlot

	mu           sync.Mutex
	evaluator    *rules.Evaluator
	composer     *feedback.Composer
	exercise     string
	skeleton     bool
	lastAccepted time.Time
	lastActivity time.Time
}

// NewController creates a controller bound to the given exercise. The
// exercise must exist in the registry.
func NewController(opts Options) (*Controller, error) {
	rs, ok := opts.Registry.Get(opts.DefaultExercise)
	if !ok {
		return nil, rules.ErrUnknownExercise
	}
	c := &Controller{
		id:           uuid.NewString()[:8],
		opts:         opts,
		slot:         newFrameSlot(),
		evaluator:    rules.NewEvaluator(rs),
		composer:     opts.Composer,
		exercise:     rs.ID,
		skeleton:     opts.SkeletonEnabled,
		lastActivity: time.Now(),
	}
	return c, nil
}

// ID is the short session identifier used in logs.
func (c *Controller) ID() string { return c.id }

// Exercise returns the active exercise id.
func (c *Controller) Exercise() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exercise
}

// Submit offers a frame to the session. Frames arriving faster than the
// configured minimum interval are dropped; a frame still waiting in the slot
// is superseded by the new one. Never blocks.
func (c *Controller) Submit(f *types.Frame) {
	m := c.opts.Metrics
	m.FramesReceived.Add(1)

	c.mu.Lock()
	c.lastActivity = time.Now()
	if c.opts.MinFrameInterval > 0 && !c.lastAccepted.IsZero() {
		if time.Since(c.lastAccepted) < c.opts.MinFrameInterval {
			c.mu.Unlock()
			m.FramesPaced.Add(1)
			logger.Debug("Session", "[%s] frame %d paced out", c.id, f.Seq)
			return
		}
	}
	c.lastAccepted = time.Now()
	c.mu.Unlock()

	before := c.slot.drops()
	if !c.slot.publish(f) {
		return
	}
	if c.slot.drops() > before {
		m.FramesSuperseded.Add(1)
	}
}

// SwitchExercise changes the active exercise and resets all evaluator state.
// An unknown exercise is rejected and the previous one stays active.
// Switching to the already-active exercise is a no-op.
func (c *Controller) SwitchExercise(id string) error {
	rs, ok := c.opts.Registry.Get(id)
	if !ok {
		logger.Warn("Session", "[%s] unknown exercise %q, keeping %q", c.id, id, c.Exercise())
		return rules.ErrUnknownExercise
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = time.Now()
	if rs.ID == c.exercise {
		return nil
	}
	logger.Info("Session", "[%s] exercise switch %s -> %s", c.id, c.exercise, rs.ID)
	c.exercise = rs.ID
	c.evaluator = rules.NewEvaluator(rs)
	return nil
}

// SetSkeleton toggles overlay rendering for this session.
func (c *Controller) SetSkeleton(enabled bool) {
	c.mu.Lock()
	c.skeleton = enabled
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// SetVerbose toggles the extra phase and rep detail line on envelopes.
func (c *Controller) SetVerbose(enabled bool) {
	c.mu.Lock()
	c.composer = feedback.NewComposer(enabled)
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// IdleFor reports how long the session has gone without inbound activity.
func (c *Controller) IdleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

// Run consumes frames until the context is cancelled or Close is called.
// It is the only goroutine that touches the evaluator and the estimator
// adapter, which keeps per-session state single-threaded.
func (c *Controller) Run(ctx context.Context) {
	c.opts.Metrics.SessionOpened()
	defer c.opts.Metrics.SessionClosed()
	logger.Info("Session", "[%s] started (exercise=%s)", c.id, c.Exercise())

	stop := context.AfterFunc(ctx, c.slot.close)
	defer stop()

	for {
		f := c.slot.consume()
		if f == nil {
			logger.Info("Session", "[%s] stopped", c.id)
			return
		}
		c.process(ctx, f)
	}
}

// Close stops the worker after it finishes any in-flight frame.
func (c *Controller) Close() {
	c.slot.close()
}

func (c *Controller) process(ctx context.Context, f *types.Frame) {
	start := time.Now()
	m := c.opts.Metrics

	c.mu.Lock()
	eval := c.evaluator
	composer := c.composer
	exercise := c.exercise
	skeleton := c.skeleton
	c.mu.Unlock()
	defs := eval.RuleSet().Angles()

	img, err := c.opts.Renderer.Decode(f.Data)
	if err != nil {
		m.MalformedInbound.Add(1)
		logger.Warn("Session", "[%s] dropping frame %d: %v", c.id, f.Seq, err)
		return
	}

	estStart := time.Now()
	outcome, err := c.opts.Adapter.Process(ctx, img, defs)
	m.UpdateEstimateLatency(time.Since(estStart))
	if err != nil {
		m.EstimatorErrors.Add(1)
	}

	posePresent := outcome.Landmarks != nil
	res := eval.Evaluate(outcome.Angles, posePresent)
	switch res.Status {
	case types.StatusNoPose:
		m.NoPoseResults.Add(1)
	case types.StatusIncorrect:
		m.RuleViolations.Add(uint64(len(res.Feedback)))
	}
	if res.RepCompleted {
		m.RepsCounted.Add(1)
		logger.Info("Session", "[%s] rep %d completed", c.id, res.Reps)
	}

	env := composer.Compose(exercise, res, outcome.Confidence, outcome.HasConfidence, f.Timestamp)

	if skeleton && posePresent {
		overlay, err := c.opts.Renderer.Render(img, outcome.Landmarks, defs)
		if err != nil {
			logger.Warn("Session", "[%s] overlay render failed: %v", c.id, err)
		} else {
			env = feedback.WithOverlay(env, overlay)
			m.OverlaysRendered.Add(1)
		}
	}

	if err := c.opts.Sender.SendEnvelope(env); err != nil {
		m.TransportErrors.Add(1)
		logger.Warn("Session", "[%s] send failed: %v", c.id, err)
		return
	}
	m.EnvelopesSent.Add(1)
	m.FramesProcessed.Add(1)
	m.UpdateProcessLatency(time.Since(start))
}
