package history

import (
	"errors"
	"fmt"

	"canvasflow/models"
)

var (
	ErrNoHistory  = errors.New("node has no history")
	ErrOutOfRange = errors.New("history index out of range")
)

// NodeStore is the graph access the manager needs: locked mutation and
// locked reads. *graph.Model satisfies it.
type NodeStore interface {
	Update(id string, fn func(*models.Node)) error
	View(id string, fn func(*models.Node)) error
}

// Manager owns node output histories: an append-only list of produced
// outputs per node plus a movable selected pointer. Appending always lands
// at the tail and selects the new entry; selecting an older entry never
// truncates, so the next generation extends the same list.
type Manager struct {
	store NodeStore
}

// NewManager creates a manager backed by the given node store.
func NewManager(store NodeStore) *Manager {
	return &Manager{store: store}
}

// Append adds an output to the node's history, selects it, and mirrors it
// into the node's current output slot.
func (m *Manager) Append(nodeID string, out models.Output) error {
	return m.store.Update(nodeID, func(n *models.Node) {
		st := n.Data.State()
		if st.History == nil {
			st.History = &models.History{Selected: -1}
		}
		st.History.Entries = append(st.History.Entries, out)
		st.History.Selected = len(st.History.Entries) - 1
		selected := out
		st.Output = &selected
	})
}

// Select moves the selected pointer to an existing entry without mutating
// the sequence. The node's current output follows the pointer.
func (m *Manager) Select(nodeID string, index int) error {
	var selErr error
	err := m.store.Update(nodeID, func(n *models.Node) {
		st := n.Data.State()
		if st.History == nil || len(st.History.Entries) == 0 {
			selErr = fmt.Errorf("%w: %s", ErrNoHistory, nodeID)
			return
		}
		if index < 0 || index >= len(st.History.Entries) {
			selErr = fmt.Errorf("%w: %d of %d", ErrOutOfRange, index, len(st.History.Entries))
			return
		}
		st.History.Selected = index
		selected := st.History.Entries[index]
		st.Output = &selected
	})
	if err != nil {
		return err
	}
	return selErr
}

// Current returns a copy of the node's resolved output: the selected history
// entry, or whatever the engine last stored.
func (m *Manager) Current(nodeID string) (models.Output, bool) {
	var out models.Output
	var ok bool
	_ = m.store.View(nodeID, func(n *models.Node) {
		st := n.Data.State()
		if st.Output != nil {
			out = *st.Output
			ok = true
		}
	})
	return out, ok
}

// Len returns the number of history entries for a node.
func (m *Manager) Len(nodeID string) int {
	var n int
	_ = m.store.View(nodeID, func(node *models.Node) {
		if st := node.Data.State(); st.History != nil {
			n = len(st.History.Entries)
		}
	})
	return n
}

// SelectedIndex returns the node's selected history index, -1 when the node
// has no history.
func (m *Manager) SelectedIndex(nodeID string) int {
	idx := -1
	_ = m.store.View(nodeID, func(node *models.Node) {
		if st := node.Data.State(); st.History != nil {
			idx = st.History.Selected
		}
	})
	return idx
}

// Entries returns a copy of the node's history entries.
func (m *Manager) Entries(nodeID string) []models.Output {
	var out []models.Output
	_ = m.store.View(nodeID, func(node *models.Node) {
		if st := node.Data.State(); st.History != nil {
			out = append(out, st.History.Entries...)
		}
	})
	return out
}
