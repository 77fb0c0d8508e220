package execution

import (
	"log"

	"canvasflow/models"
)

// NodeState is the engine's per-node run state. Queued and running are
// transient; idle, success and error are the resting states a run can leave
// a node in.
type NodeState string

const (
	NodeStateIdle    NodeState = "idle"
	NodeStateQueued  NodeState = "queued"
	NodeStateRunning NodeState = "running"
	NodeStateSuccess NodeState = "success"
	NodeStateError   NodeState = "error"
)

// validTransitions defines the allowed node state transitions. Anything not
// listed is invalid and will be rejected.
var validTransitions = map[NodeState]map[NodeState]bool{
	NodeStateIdle: {
		NodeStateQueued: true,
	},
	NodeStateQueued: {
		NodeStateRunning: true,
		NodeStateError:   true, // missing-input cascade hits nodes before they start
		NodeStateIdle:    true, // cancellation
	},
	NodeStateRunning: {
		NodeStateSuccess: true,
		NodeStateError:   true,
		NodeStateIdle:    true, // cancellation
	},
	// terminal states are re-enterable: a re-run moves them back to queued
	NodeStateSuccess: {
		NodeStateQueued: true,
	},
	NodeStateError: {
		NodeStateQueued: true,
	},
}

// Transition validates and performs a node state transition. Returns the new
// state if valid, or the current state unchanged if not.
func Transition(current, desired NodeState) NodeState {
	allowed, exists := validTransitions[current]
	if !exists || !allowed[desired] {
		log.Printf("⚠️ [STATE] Invalid node transition: %s → %s (rejected)", current, desired)
		return current
	}
	return desired
}

// IsTerminal reports whether a state is a resting state.
func IsTerminal(s NodeState) bool {
	return s == NodeStateIdle || s == NodeStateSuccess || s == NodeStateError
}

// Serialized maps an engine state onto the four persisted node statuses:
// queued and running both surface as loading.
func (s NodeState) Serialized() models.NodeStatus {
	switch s {
	case NodeStateQueued, NodeStateRunning:
		return models.StatusLoading
	case NodeStateSuccess:
		return models.StatusSuccess
	case NodeStateError:
		return models.StatusError
	default:
		return models.StatusIdle
	}
}
