package execution

import (
	"testing"

	"canvasflow/models"
)

func TestNodeStateTransitions(t *testing.T) {
	valid := []struct{ from, to NodeState }{
		{NodeStateIdle, NodeStateQueued},
		{NodeStateQueued, NodeStateRunning},
		{NodeStateQueued, NodeStateError},
		{NodeStateQueued, NodeStateIdle},
		{NodeStateRunning, NodeStateSuccess},
		{NodeStateRunning, NodeStateError},
		{NodeStateRunning, NodeStateIdle},
		{NodeStateSuccess, NodeStateQueued},
		{NodeStateError, NodeStateQueued},
	}
	for _, tt := range valid {
		if got := Transition(tt.from, tt.to); got != tt.to {
			t.Errorf("Transition(%s, %s) = %s, want the transition to apply", tt.from, tt.to, got)
		}
	}

	invalid := []struct{ from, to NodeState }{
		{NodeStateIdle, NodeStateRunning}, // must queue first
		{NodeStateIdle, NodeStateSuccess},
		{NodeStateQueued, NodeStateSuccess}, // must run first
		{NodeStateSuccess, NodeStateRunning},
		{NodeStateSuccess, NodeStateError},
		{NodeStateError, NodeStateSuccess},
	}
	for _, tt := range invalid {
		if got := Transition(tt.from, tt.to); got != tt.from {
			t.Errorf("Transition(%s, %s) = %s, want the current state kept", tt.from, tt.to, got)
		}
	}
}

func TestNodeStateSerialized(t *testing.T) {
	tests := []struct {
		state NodeState
		want  models.NodeStatus
	}{
		{NodeStateIdle, models.StatusIdle},
		{NodeStateQueued, models.StatusLoading},
		{NodeStateRunning, models.StatusLoading},
		{NodeStateSuccess, models.StatusSuccess},
		{NodeStateError, models.StatusError},
	}
	for _, tt := range tests {
		if got := tt.state.Serialized(); got != tt.want {
			t.Errorf("%s serializes as %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for state, want := range map[NodeState]bool{
		NodeStateIdle:    false,
		NodeStateQueued:  false,
		NodeStateRunning: false,
		NodeStateSuccess: true,
		NodeStateError:   true,
	} {
		if got := IsTerminal(state); got != want {
			t.Errorf("IsTerminal(%s) = %v, want %v", state, got, want)
		}
	}
}
