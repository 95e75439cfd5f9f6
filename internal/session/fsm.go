package session

import "github.com/stratflow/stratflow/pkg/schema"

// State is the lifecycle state of an editing session. Dirty is tracked
// separately: a ready session is clean or dirty depending on whether the
// in-memory graph diverges from the last persisted snapshot.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateSaving  State = "saving"
	StateError   State = "error"
)

// ValidSessionTransitions defines the allowed session state transitions.
// Loading and Saving admit no same-kind re-entry; overlapping calls are
// rejected with CONFLICT before a transition is attempted.
var ValidSessionTransitions = map[State][]State{
	StateIdle:    {StateLoading},
	StateLoading: {StateReady, StateError},
	StateReady:   {StateSaving, StateLoading, StateError},
	StateSaving:  {StateReady, StateError},
	// Error is sticky: only a load or a save retry leaves it. Edits are
	// still accepted there, they just do not change the state.
	StateError: {StateLoading, StateSaving},
}

func validTransition(from, to State) bool {
	for _, a := range ValidSessionTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// transitionLocked moves the session to the next state. Callers hold s.mu.
func (s *Session) transitionLocked(to State) error {
	if !validTransition(s.state, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid session transition: %s -> %s", s.state, to).
			WithWorkflow(s.workflowID)
	}
	s.state = to
	return nil
}
