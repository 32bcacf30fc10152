package session

import (
	"sync"

	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/pkg/types"
)

// frameSlot is a single-slot mailbox between the transport reader and the
// session worker. Publishing over an unconsumed frame overwrites it, so the
// worker always picks up the newest frame and older ones are dropped.
type frameSlot struct {
	mu     sync.Mutex
	cond   *sync.Cond
	frame  *types.Frame // nil = consumed
	closed bool

	supersededDrops uint64
}

func newFrameSlot() *frameSlot {
	s := &frameSlot{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// publish stores a frame, replacing any unconsumed one. Returns false when
// the slot is closed. Never blocks.
func (s *frameSlot) publish(f *types.Frame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.frame != nil {
		s.supersededDrops++
	}
	s.frame = f
	s.cond.Signal()
	return true
}

// consume blocks until a frame is available or the slot is closed; returns
// nil once closed, even if a frame was pending. Single consumer only.
func (s *frameSlot) consume() *types.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.frame == nil && !s.closed {
		s.cond.Wait()
	}
	if s.closed || s.frame == nil {
		return nil
	}
	f := s.frame
	s.frame = nil
	return f
}

// close wakes the consumer and makes further publishes no-ops. A frame still
// waiting in the slot is released unprocessed; nothing outlives the
// connection that owns the slot. Idempotent.
func (s *frameSlot) close() {
	s.mu.Lock()
	s.closed = true
	if s.frame != nil {
		s.frame = nil
		s.supersededDrops++
	}
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *frameSlot) drops() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.supersededDrops
}
