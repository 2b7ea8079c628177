package models

import "testing"

func TestSessionState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from SessionState
		to   SessionState
		want bool
	}{
		{SessionCreated, SessionPlanning, true},
		{SessionPlanning, SessionDispatching, true},
		{SessionPlanning, SessionDegraded, true},
		{SessionDispatching, SessionAwaiting, true},
		{SessionAwaiting, SessionAggregating, true},
		{SessionAggregating, SessionCompleted, true},
		{SessionAggregating, SessionFailed, true},
		{SessionAwaiting, SessionDispatching, false},
		{SessionPlanning, SessionPlanning, false},
		{SessionCompleted, SessionDegraded, false},
		{SessionDegraded, SessionFailed, false},
		{SessionState("bogus"), SessionPlanning, false},
		{SessionCreated, SessionState("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("%s.CanTransitionTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestSessionState_Terminal(t *testing.T) {
	for _, s := range []SessionState{SessionCompleted, SessionDegraded, SessionFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []SessionState{SessionCreated, SessionPlanning, SessionDispatching, SessionAwaiting, SessionAggregating} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
