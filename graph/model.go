package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"canvasflow/models"
)

// Structural rejection errors. A mutation returning one of these leaves the
// graph exactly as it was.
var (
	ErrNodeExists     = errors.New("node id already exists")
	ErrNodeNotFound   = errors.New("node not found")
	ErrEdgeExists     = errors.New("edge id already exists")
	ErrEdgeNotFound   = errors.New("edge not found")
	ErrGroupNotFound  = errors.New("group not found")
	ErrUnknownHandle  = errors.New("unknown handle")
	ErrKindMismatch   = errors.New("handle kinds do not match")
	ErrHandleOccupied = errors.New("target handle already connected")
	ErrWouldCycle     = errors.New("edge would create a cycle")
)

// IsStructural reports whether err is a structural rejection from the model.
func IsStructural(err error) bool {
	for _, s := range []error{
		ErrNodeExists, ErrNodeNotFound, ErrEdgeExists, ErrEdgeNotFound,
		ErrGroupNotFound, ErrUnknownHandle, ErrKindMismatch,
		ErrHandleOccupied, ErrWouldCycle,
	} {
		if errors.Is(err, s) {
			return true
		}
	}
	return false
}

// NodeRemoval describes a completed node deletion: the node itself plus the
// downstream closure (over non-paused edges) captured before the delete.
type NodeRemoval struct {
	NodeID     string
	Downstream []string
}

// EdgeRemoval describes a completed edge deletion. Downstream holds the
// edge target and its closure, captured before the delete.
type EdgeRemoval struct {
	Edge       models.Edge
	Downstream []string
}

// Model owns the node, edge and group collections of one workflow and
// enforces the structural invariants: unique IDs, valid handle references,
// one edge per input handle, acyclicity. All mutation goes through its API.
type Model struct {
	mu         sync.RWMutex
	workflowID string
	name       string
	version    int
	nodes      map[string]*models.Node
	edges      map[string]*models.Edge
	groups     map[string]*models.Group

	hookMu           sync.Mutex
	nodeRemovedHooks []func(NodeRemoval)
	edgeRemovedHooks []func(EdgeRemoval)
}

// New creates an empty model. An empty workflowID gets a generated one.
func New(workflowID string) *Model {
	if workflowID == "" {
		workflowID = uuid.New().String()
	}
	return &Model{
		workflowID: workflowID,
		nodes:      make(map[string]*models.Node),
		edges:      make(map[string]*models.Edge),
		groups:     make(map[string]*models.Group),
	}
}

// Load builds a model from a workflow document, revalidating every node and
// edge. The model takes ownership of the document's node payloads.
func Load(doc *models.Workflow) (*Model, error) {
	m := New(doc.ID)
	m.name = doc.Name
	m.version = doc.Version
	for i := range doc.Nodes {
		node := doc.Nodes[i]
		if err := m.AddNode(&node); err != nil {
			return nil, fmt.Errorf("load node %s: %w", node.ID, err)
		}
	}
	for i := range doc.Edges {
		edge := doc.Edges[i]
		if err := m.AddEdge(&edge); err != nil {
			return nil, fmt.Errorf("load edge %s: %w", edge.ID, err)
		}
	}
	for i := range doc.Groups {
		group := doc.Groups[i]
		if err := m.AddGroup(&group); err != nil {
			return nil, fmt.Errorf("load group %s: %w", group.ID, err)
		}
	}
	return m, nil
}

// WorkflowID returns the workflow this model belongs to.
func (m *Model) WorkflowID() string {
	return m.workflowID
}

// OnNodeRemoved registers a hook invoked after a node removal (cascaded
// children included). Hooks run outside the model lock, so they may call
// back into the model.
func (m *Model) OnNodeRemoved(fn func(NodeRemoval)) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.nodeRemovedHooks = append(m.nodeRemovedHooks, fn)
}

// OnEdgeRemoved registers a hook invoked after an edge removal. Hooks run
// outside the model lock.
func (m *Model) OnEdgeRemoved(fn func(EdgeRemoval)) {
	m.hookMu.Lock()
	defer m.hookMu.Unlock()
	m.edgeRemovedHooks = append(m.edgeRemovedHooks, fn)
}

// AddNode inserts a node. The node keeps its ID if set, otherwise one is
// generated. An empty status defaults to idle.
func (m *Model) AddNode(node *models.Node) error {
	if node == nil {
		return fmt.Errorf("node is nil")
	}
	if node.Data == nil {
		data, err := models.NewNodeData(node.Type)
		if err != nil {
			return err
		}
		node.Data = data
	} else if _, err := models.NewNodeData(node.Type); err != nil {
		return err
	}
	if node.ID == "" {
		node.ID = uuid.New().String()
	}
	if node.Status == "" {
		node.Status = models.StatusIdle
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.nodes[node.ID]; exists {
		return fmt.Errorf("%w: %s", ErrNodeExists, node.ID)
	}
	m.nodes[node.ID] = node
	return nil
}

// RemoveNode deletes a node together with its incident edges and, for a
// split-grid, its spawned children. Removal hooks fire after the lock is
// released.
func (m *Model) RemoveNode(id string) error {
	m.mu.Lock()
	if _, ok := m.nodes[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	downstream := m.downstreamLocked(id)
	removedNodes, removedEdges := m.removeNodeLocked(id)
	m.mu.Unlock()

	for _, e := range removedEdges {
		m.fireEdgeRemoved(EdgeRemoval{Edge: e})
	}
	for _, nid := range removedNodes {
		ds := downstream
		if nid != id {
			ds = nil // cascaded children report no closure of their own
		}
		m.fireNodeRemoved(NodeRemoval{NodeID: nid, Downstream: ds})
	}
	return nil
}

// removeNodeLocked deletes the node, cascading to spawned children first,
// and returns everything removed. Caller holds the write lock.
func (m *Model) removeNodeLocked(id string) (nodeIDs []string, edges []models.Edge) {
	node := m.nodes[id]
	if node.Type == models.TypeSplitGrid {
		for _, childID := range m.spawnedChildrenLocked(id) {
			childNodes, childEdges := m.removeNodeLocked(childID)
			nodeIDs = append(nodeIDs, childNodes...)
			edges = append(edges, childEdges...)
		}
	}
	for eid, e := range m.edges {
		if e.Source == id || e.Target == id {
			edges = append(edges, *e)
			delete(m.edges, eid)
		}
	}
	delete(m.nodes, id)
	for _, g := range m.groups {
		g.NodeIDs = removeString(g.NodeIDs, id)
	}
	nodeIDs = append(nodeIDs, id)
	return nodeIDs, edges
}

// AddEdge validates and inserts an edge. Both endpoints must exist, handles
// must resolve with matching kinds, the target handle must be free, and the
// edge must not close a cycle. Paused edges count for cycle detection.
func (m *Model) AddEdge(edge *models.Edge) error {
	if edge == nil {
		return fmt.Errorf("edge is nil")
	}
	if edge.ID == "" {
		edge.ID = uuid.New().String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.edges[edge.ID]; exists {
		return fmt.Errorf("%w: %s", ErrEdgeExists, edge.ID)
	}
	src, ok := m.nodes[edge.Source]
	if !ok {
		return fmt.Errorf("%w: source %s", ErrNodeNotFound, edge.Source)
	}
	dst, ok := m.nodes[edge.Target]
	if !ok {
		return fmt.Errorf("%w: target %s", ErrNodeNotFound, edge.Target)
	}
	if edge.Source == edge.Target {
		return fmt.Errorf("%w: %s connects to itself", ErrWouldCycle, edge.Source)
	}
	out, ok := src.OutputHandle(edge.SourceHandle)
	if !ok {
		return fmt.Errorf("%w: %s has no output %q", ErrUnknownHandle, edge.Source, edge.SourceHandle)
	}
	in, ok := dst.InputHandle(edge.TargetHandle)
	if !ok {
		return fmt.Errorf("%w: %s has no input %q", ErrUnknownHandle, edge.Target, edge.TargetHandle)
	}
	if out.Kind != in.Kind {
		return fmt.Errorf("%w: %s does not flow into %s", ErrKindMismatch, out.Kind, in.Kind)
	}
	for _, e := range m.edges {
		if e.Target == edge.Target && e.TargetHandle == edge.TargetHandle {
			return fmt.Errorf("%w: %s.%s", ErrHandleOccupied, edge.Target, edge.TargetHandle)
		}
	}
	if m.pathExistsLocked(edge.Target, edge.Source) {
		return fmt.Errorf("%w: %s -> %s", ErrWouldCycle, edge.Source, edge.Target)
	}
	m.edges[edge.ID] = edge
	return nil
}

// pathExistsLocked reports whether to is reachable from from following edge
// direction. Paused edges count here: pausing suppresses data flow, not
// structure.
func (m *Model) pathExistsLocked(from, to string) bool {
	stack := []string{from}
	seen := make(map[string]bool)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == to {
			return true
		}
		if seen[cur] {
			continue
		}
		seen[cur] = true
		for _, e := range m.edges {
			if e.Source == cur {
				stack = append(stack, e.Target)
			}
		}
	}
	return false
}

// RemoveEdge deletes an edge. The removal hook fires after the lock is
// released, carrying the downstream closure of the former target.
func (m *Model) RemoveEdge(id string) error {
	m.mu.Lock()
	edge, ok := m.edges[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
	}
	removed := *edge
	downstream := append([]string{removed.Target}, m.downstreamLocked(removed.Target)...)
	delete(m.edges, id)
	m.mu.Unlock()

	m.fireEdgeRemoved(EdgeRemoval{Edge: removed, Downstream: downstream})
	return nil
}

// SetEdgePaused toggles an edge's paused flag.
func (m *Model) SetEdgePaused(id string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	edge, ok := m.edges[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrEdgeNotFound, id)
	}
	edge.Paused = paused
	return nil
}

// Node returns the live node pointer. Mutate it only through Update.
func (m *Model) Node(id string) (*models.Node, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	return n, ok
}

// Update runs fn on the node under the write lock.
func (m *Model) Update(id string, fn func(*models.Node)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	fn(n)
	return nil
}

// View runs fn on the node under the read lock.
func (m *Model) View(id string, fn func(*models.Node)) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	fn(n)
	return nil
}

// Nodes returns the live node pointers sorted by ID.
func (m *Model) Nodes() []*models.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Node, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NodeIDs returns all node IDs sorted.
func (m *Model) NodeIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.nodes))
	for id := range m.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Edge returns a copy of the edge.
func (m *Model) Edge(id string) (models.Edge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.edges[id]
	if !ok {
		return models.Edge{}, false
	}
	return *e, true
}

// Edges returns copies of every edge sorted by ID.
func (m *Model) Edges() []models.Edge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Edge, 0, len(m.edges))
	for _, e := range m.edges {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InEdges returns copies of the edges targeting a node, paused included,
// sorted by target handle.
func (m *Model) InEdges(nodeID string) []models.Edge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Edge
	for _, e := range m.edges {
		if e.Target == nodeID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TargetHandle < out[j].TargetHandle })
	return out
}

// OutEdges returns copies of the edges leaving a node, paused included,
// sorted by source handle.
func (m *Model) OutEdges(nodeID string) []models.Edge {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Edge
	for _, e := range m.edges {
		if e.Source == nodeID {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceHandle < out[j].SourceHandle })
	return out
}

// DependenciesOf returns the distinct upstream node IDs feeding a node over
// non-paused edges, sorted.
func (m *Model) DependenciesOf(nodeID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	for _, e := range m.edges {
		if e.Target == nodeID && !e.Paused {
			seen[e.Source] = true
		}
	}
	return sortedKeys(seen)
}

// DependentsOf returns the distinct downstream node IDs fed by a node over
// non-paused edges, sorted.
func (m *Model) DependentsOf(nodeID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dependentsLocked(nodeID)
}

func (m *Model) dependentsLocked(nodeID string) []string {
	seen := make(map[string]bool)
	for _, e := range m.edges {
		if e.Source == nodeID && !e.Paused {
			seen[e.Target] = true
		}
	}
	return sortedKeys(seen)
}

// downstreamLocked returns the forward closure of a node over non-paused
// edges, excluding the node itself, sorted.
func (m *Model) downstreamLocked(nodeID string) []string {
	seen := make(map[string]bool)
	queue := []string{nodeID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range m.dependentsLocked(cur) {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	delete(seen, nodeID)
	return sortedKeys(seen)
}

// SpawnedChildren returns the IDs of nodes spawned by a split-grid parent,
// sorted.
func (m *Model) SpawnedChildren(parentID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spawnedChildrenLocked(parentID)
}

func (m *Model) spawnedChildrenLocked(parentID string) []string {
	var out []string
	for id, n := range m.nodes {
		if n.SpawnedBy == parentID {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// AddGroup inserts a group, validating its member node IDs.
func (m *Model) AddGroup(group *models.Group) error {
	if group == nil {
		return fmt.Errorf("group is nil")
	}
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range group.NodeIDs {
		if _, ok := m.nodes[id]; !ok {
			return fmt.Errorf("%w: group member %s", ErrNodeNotFound, id)
		}
	}
	m.groups[group.ID] = group
	return nil
}

// RemoveGroup deletes a group. Member nodes are untouched.
func (m *Model) RemoveGroup(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[id]; !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	delete(m.groups, id)
	return nil
}

// Group returns a copy of the group.
func (m *Model) Group(id string) (models.Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[id]
	if !ok {
		return models.Group{}, false
	}
	return copyGroup(g), true
}

// Groups returns copies of every group sorted by ID.
func (m *Model) Groups() []models.Group {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Group, 0, len(m.groups))
	for _, g := range m.groups {
		out = append(out, copyGroup(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetGroupNodes replaces a group's membership.
func (m *Model) SetGroupNodes(groupID string, nodeIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
	}
	for _, id := range nodeIDs {
		if _, ok := m.nodes[id]; !ok {
			return fmt.Errorf("%w: group member %s", ErrNodeNotFound, id)
		}
	}
	g.NodeIDs = append([]string(nil), nodeIDs...)
	return nil
}

// Snapshot serializes the graph into its workflow document form. Output is
// deterministic (nodes, edges and groups sorted by ID) and fully detached
// from the live model: payloads are deep-copied under the lock.
func (m *Model) Snapshot() *models.Workflow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc := &models.Workflow{
		ID:      m.workflowID,
		Name:    m.name,
		Version: m.version,
		Nodes:   make([]models.Node, 0, len(m.nodes)),
		Edges:   make([]models.Edge, 0, len(m.edges)),
	}
	for _, n := range m.nodes {
		doc.Nodes = append(doc.Nodes, *n)
	}
	sort.Slice(doc.Nodes, func(i, j int) bool { return doc.Nodes[i].ID < doc.Nodes[j].ID })
	for _, e := range m.edges {
		doc.Edges = append(doc.Edges, *e)
	}
	sort.Slice(doc.Edges, func(i, j int) bool { return doc.Edges[i].ID < doc.Edges[j].ID })
	for _, g := range m.groups {
		doc.Groups = append(doc.Groups, copyGroup(g))
	}
	sort.Slice(doc.Groups, func(i, j int) bool { return doc.Groups[i].ID < doc.Groups[j].ID })

	raw, err := json.Marshal(doc)
	if err != nil {
		log.Printf("⚠️ [GRAPH] Snapshot deep copy failed: %v", err)
		return doc
	}
	fresh := &models.Workflow{}
	if err := json.Unmarshal(raw, fresh); err != nil {
		log.Printf("⚠️ [GRAPH] Snapshot deep copy failed: %v", err)
		return doc
	}
	return fresh
}

func (m *Model) fireNodeRemoved(rm NodeRemoval) {
	m.hookMu.Lock()
	hooks := append(([]func(NodeRemoval))(nil), m.nodeRemovedHooks...)
	m.hookMu.Unlock()
	for _, fn := range hooks {
		fn(rm)
	}
	log.Printf("🗑️ [GRAPH] Removed node '%s' (%d downstream)", rm.NodeID, len(rm.Downstream))
}

func (m *Model) fireEdgeRemoved(rm EdgeRemoval) {
	m.hookMu.Lock()
	hooks := append(([]func(EdgeRemoval))(nil), m.edgeRemovedHooks...)
	m.hookMu.Unlock()
	for _, fn := range hooks {
		fn(rm)
	}
}

func copyGroup(g *models.Group) models.Group {
	out := *g
	out.NodeIDs = append([]string(nil), g.NodeIDs...)
	return out
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
