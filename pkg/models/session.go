package models

// SessionState is a step in the orchestration session lifecycle.
type SessionState string

const (
	SessionCreated     SessionState = "created"
	SessionPlanning    SessionState = "planning"
	SessionDispatching SessionState = "dispatching"
	SessionAwaiting    SessionState = "awaiting"
	SessionAggregating SessionState = "aggregating"
	// SessionCompleted means every task resolved through a primary path.
	SessionCompleted SessionState = "completed"
	// SessionDegraded means an answer was produced, at least partly via fallback.
	SessionDegraded SessionState = "degraded"
	// SessionFailed means no usable answer could be produced.
	SessionFailed SessionState = "failed"
)

var sessionStateRank = map[SessionState]int{
	SessionCreated:     0,
	SessionPlanning:    1,
	SessionDispatching: 2,
	SessionAwaiting:    3,
	SessionAggregating: 4,
	SessionCompleted:   5,
	SessionDegraded:    5,
	SessionFailed:      5,
}

// Valid returns true if the state is a known value.
func (s SessionState) Valid() bool {
	_, ok := sessionStateRank[s]
	return ok
}

// Terminal returns true for completed, degraded and failed.
func (s SessionState) Terminal() bool {
	return s == SessionCompleted || s == SessionDegraded || s == SessionFailed
}

// CanTransitionTo reports whether moving from s to next keeps the session
// monotonic: states only move forward and terminal states are final.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	from, ok := sessionStateRank[s]
	if !ok {
		return false
	}
	to, ok := sessionStateRank[next]
	if !ok {
		return false
	}
	if s.Terminal() {
		return false
	}
	return to > from
}
