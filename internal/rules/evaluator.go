package rules

import (
	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/pkg/types"
)

// Result is the structured output of one evaluation pass. Status is derived
// here and nowhere else; downstream layers pass it through unchanged.
type Result struct {
	Status       types.Status
	Feedback     []string
	Phase        string
	Reps         int
	RepCompleted bool
}

// Evaluator runs one exercise's phase state machine for a single session.
// It is not safe for concurrent use; each session controller owns exactly
// one evaluator and calls it from its worker goroutine.
type Evaluator struct {
	rs      *RuleSet
	phase   string
	reps    int
	buffers map[string][]float64 // most recent sample last
}

// NewEvaluator creates an evaluator positioned at the rule set's rest phase.
func NewEvaluator(rs *RuleSet) *Evaluator {
	return &Evaluator{
		rs:      rs,
		phase:   rs.RestPhase,
		buffers: make(map[string][]float64, len(rs.AngleDefs)),
	}
}

// RuleSet returns the exercise table this evaluator runs.
func (e *Evaluator) RuleSet() *RuleSet { return e.rs }

// Phase returns the active phase name.
func (e *Evaluator) Phase() string { return e.phase }

// Reps returns the completed repetition count.
func (e *Evaluator) Reps() int { return e.reps }

// Reset returns the machine to the rest phase and clears the smoothing
// buffers and rep counter. Called when the session switches exercises.
func (e *Evaluator) Reset() {
	e.phase = e.rs.RestPhase
	e.reps = 0
	e.buffers = make(map[string][]float64, len(e.rs.AngleDefs))
}

// Evaluate runs one frame's angles through smoothing, range checks for the
// active phase, and the phase transition triggers. angles holds only the
// angles that were computable this frame; missing entries are treated as
// unavailable and never violate a rule or fire a transition. posePresent
// false means the frame yielded no landmarks at all.
func (e *Evaluator) Evaluate(angles map[string]float64, posePresent bool) Result {
	if !posePresent {
		return Result{
			Status:   types.StatusNoPose,
			Feedback: []string{},
			Phase:    e.phase,
			Reps:     e.reps,
		}
	}

	smoothed := e.smooth(angles)

	feedback, violated := e.checkPhaseRules(smoothed)
	repDone := e.advancePhase(smoothed)

	status := types.StatusOK
	if violated {
		status = types.StatusIncorrect
	} else {
		switch {
		case len(smoothed) == 0:
			feedback = append(feedback, "Please get fully into the frame.")
		case e.rs.Praise != "":
			feedback = append(feedback, e.rs.Praise)
		}
	}

	return Result{
		Status:       status,
		Feedback:     feedback,
		Phase:        e.phase,
		Reps:         e.reps,
		RepCompleted: repDone,
	}
}

// smooth pushes this frame's samples and returns the per-angle average over
// the buffer. Angles unavailable this frame keep their buffer untouched and
// produce no smoothed value.
func (e *Evaluator) smooth(angles map[string]float64) map[string]float64 {
	smoothed := make(map[string]float64, len(angles))
	for _, def := range e.rs.AngleDefs {
		v, ok := angles[def.Name]
		if !ok {
			continue
		}
		buf := append(e.buffers[def.Name], v)
		if len(buf) > e.rs.Smoothing {
			buf = buf[len(buf)-e.rs.Smoothing:]
		}
		e.buffers[def.Name] = buf

		sum := 0.0
		for _, s := range buf {
			sum += s
		}
		smoothed[def.Name] = sum / float64(len(buf))
	}
	return smoothed
}

// checkPhaseRules collects violations in rule declaration order. Identical
// feedback lines (left/right pairs sharing a message) are reported once.
func (e *Evaluator) checkPhaseRules(smoothed map[string]float64) ([]string, bool) {
	ph := e.rs.phase(e.phase)
	if ph == nil {
		return nil, false
	}

	feedback := make([]string, 0, 2)
	seen := make(map[string]bool)
	violated := false
	for _, rule := range ph.Rules {
		v, ok := smoothed[rule.Angle]
		if !ok {
			continue
		}
		var msg string
		switch {
		case v < rule.Min:
			violated = true
			msg = rule.LowMsg
		case v > rule.Max:
			violated = true
			msg = rule.HighMsg
		default:
			continue
		}
		if msg != "" && !seen[msg] {
			seen[msg] = true
			feedback = append(feedback, msg)
		}
	}
	return feedback, violated
}

// advancePhase fires the first declared transition whose trigger angle has
// reached its threshold. Returns true when the machine re-enters the rest
// phase, which completes one rep.
func (e *Evaluator) advancePhase(smoothed map[string]float64) bool {
	for _, tr := range e.rs.Trans {
		if tr.From != e.phase {
			continue
		}
		v, ok := smoothed[tr.Angle]
		if !ok {
			continue
		}
		fired := (tr.When == "below" && v <= tr.Threshold) ||
			(tr.When == "above" && v >= tr.Threshold)
		if !fired {
			continue
		}
		e.phase = tr.To
		if tr.To == e.rs.RestPhase {
			e.reps++
			return true
		}
		return false
	}
	return false
}
