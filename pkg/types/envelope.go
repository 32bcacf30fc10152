package types

// Status classifies the outcome of one processed frame. It is a structured
// field produced by the rule evaluator and passed through to the wire
// unchanged; clients must never re-derive it from feedback text.
type Status string

const (
	StatusOK        Status = "ok"
	StatusNoPose    Status = "no_pose"
	StatusIncorrect Status = "incorrect"
)

// FeedbackEnvelope is the wire response for one processed frame. Produced
// fresh per frame, never mutated after construction.
type FeedbackEnvelope struct {
	Status        Status   `json:"status"`
	Feedback      []string `json:"feedback"`
	Confidence    *float64 `json:"confidence,omitempty"`
	SkeletonFrame []byte   `json:"skeleton_frame,omitempty"`
	Exercise      string   `json:"exercise"`
	Timestamp     float64  `json:"timestamp"`
}

// ConnState is the client-side connection lifecycle. Transitions are driven
// only by transport events.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateError
)

// String returns the state name.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
