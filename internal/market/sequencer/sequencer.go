// Package sequencer maintains the ordered member queue for turn-based
// market flows: rubata cession order and initial-draft nomination order.
// There is no rotation; once the queue drains the owning phase decides what
// happens next.
package sequencer

import (
	"github.com/google/uuid"
	"github.com/pietro1412/fantacontratti/internal/fault"
)

// Sequencer walks an ordered list of member ids front to back.
type Sequencer struct {
	order []uuid.UUID
}

// New builds a sequencer over an already validated order, typically loaded
// from a persisted session.
func New(order []uuid.UUID) *Sequencer {
	s := &Sequencer{order: make([]uuid.UUID, len(order))}
	copy(s.order, order)
	return s
}

// SetOrder replaces the queue. The proposed ids must match the active member
// set exactly, each appearing once.
func (s *Sequencer) SetOrder(ids []uuid.UUID, active []uuid.UUID) error {
	if len(ids) != len(active) {
		return fault.ErrInvalidOrder
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return fault.ErrInvalidOrder
		}
		seen[id] = true
	}
	for _, id := range active {
		if !seen[id] {
			return fault.ErrInvalidOrder
		}
	}
	s.order = make([]uuid.UUID, len(ids))
	copy(s.order, ids)
	return nil
}

// Current returns the member whose turn it is.
func (s *Sequencer) Current() (uuid.UUID, bool) {
	if len(s.order) == 0 {
		return uuid.Nil, false
	}
	return s.order[0], true
}

// Advance removes the head and returns the new head. ErrOrderExhausted
// signals that every member has had their turn.
func (s *Sequencer) Advance() (uuid.UUID, error) {
	if len(s.order) == 0 {
		return uuid.Nil, fault.ErrOrderExhausted
	}
	s.order = s.order[1:]
	if len(s.order) == 0 {
		return uuid.Nil, fault.ErrOrderExhausted
	}
	return s.order[0], nil
}

// Skip advances past the head without requiring it to have acted.
func (s *Sequencer) Skip() (uuid.UUID, error) {
	return s.Advance()
}

// Remaining returns a copy of the queue, head first.
func (s *Sequencer) Remaining() []uuid.UUID {
	out := make([]uuid.UUID, len(s.order))
	copy(out, s.order)
	return out
}

// Exhausted reports whether the queue is empty.
func (s *Sequencer) Exhausted() bool {
	return len(s.order) == 0
}
