package execution

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"canvasflow/cost"
	"canvasflow/graph"
	"canvasflow/history"
	"canvasflow/metrics"
	"canvasflow/models"
)

const defaultUpdateBuffer = 256

// Engine drives graph runs: it computes the run set, walks dependency
// order, dispatches node behaviors concurrently and owns every node status
// transition. One engine serves one graph model.
type Engine struct {
	graph    *graph.Model
	registry *Registry
	history  *history.Manager
	costs    *cost.Estimator
	updates  chan models.RunUpdate

	mu     sync.Mutex
	states map[string]*nodeState
	runs   map[string]*run
}

// nodeState is the engine-side record for one node.
type nodeState struct {
	state  NodeState
	runID  string             // run that owns the node while queued/running
	cancel context.CancelFunc // set while running
}

// run tracks one in-flight run's bookkeeping.
type run struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	claimed    map[string]bool
	depCount   map[string]int
	dependents map[string][]string
	done       map[string]NodeState
	errs       []string
}

// RunResult summarizes a finished run.
type RunResult struct {
	RunID      string
	Status     string // completed, partial, failed, cancelled
	NodeStates map[string]NodeState
	Errors     []string
}

// NewEngine creates an engine bound to a graph model. It registers removal
// hooks so structural edits cancel affected in-flight work.
func NewEngine(g *graph.Model, registry *Registry, hist *history.Manager, costs *cost.Estimator, updateBuffer int) *Engine {
	if updateBuffer <= 0 {
		updateBuffer = defaultUpdateBuffer
	}
	e := &Engine{
		graph:    g,
		registry: registry,
		history:  hist,
		costs:    costs,
		updates:  make(chan models.RunUpdate, updateBuffer),
		states:   make(map[string]*nodeState),
		runs:     make(map[string]*run),
	}
	g.OnNodeRemoved(e.onNodeRemoved)
	g.OnEdgeRemoved(e.onEdgeRemoved)
	return e
}

// Updates returns the stream of run events. Sends are non-blocking: when the
// buffer is full, events are dropped rather than stalling a run.
func (e *Engine) Updates() <-chan models.RunUpdate {
	return e.updates
}

// NodeStateOf returns the engine's view of a node's current state.
func (e *Engine) NodeStateOf(nodeID string) NodeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.states[nodeID]; ok {
		return st.state
	}
	return NodeStateIdle
}

// RunGraph runs every node in the graph.
func (e *Engine) RunGraph(ctx context.Context) (*RunResult, error) {
	return e.run(ctx, "")
}

// RunFrom runs the given node and everything reachable downstream of it
// over non-paused edges.
func (e *Engine) RunFrom(ctx context.Context, nodeID string) (*RunResult, error) {
	if _, ok := e.graph.Node(nodeID); !ok {
		return nil, fmt.Errorf("%w: %s", graph.ErrNodeNotFound, nodeID)
	}
	return e.run(ctx, nodeID)
}

// Stop cancels every active run. Running nodes settle back to idle and late
// provider results are discarded.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(e.runs))
	for _, r := range e.runs {
		cancels = append(cancels, r.cancel)
	}
	e.mu.Unlock()
	if len(cancels) > 0 {
		log.Printf("🛑 [ENGINE] Stopping %d active run(s)", len(cancels))
	}
	for _, cancel := range cancels {
		cancel()
	}
}

// Close stops all runs and closes the update stream. Call it only after
// every Run call has returned.
func (e *Engine) Close() {
	e.Stop()
	e.mu.Lock()
	active := len(e.runs)
	e.mu.Unlock()
	if active == 0 {
		close(e.updates)
	}
}

func (e *Engine) run(parent context.Context, fromID string) (*RunResult, error) {
	if parent == nil {
		parent = context.Background()
	}
	runID := uuid.New().String()
	runSet := e.runSet(fromID)

	runCtx, cancel := context.WithCancel(parent)
	r := &run{
		id:         runID,
		ctx:        runCtx,
		cancel:     cancel,
		claimed:    make(map[string]bool),
		depCount:   make(map[string]int),
		dependents: make(map[string][]string),
		done:       make(map[string]NodeState),
	}

	// Claim nodes. A node already queued or running is owned by another run:
	// the request for it is a no-op and, like any out-of-run upstream, its
	// current stored output satisfies dependents.
	e.mu.Lock()
	for _, id := range runSet {
		st := e.ensureStateLocked(id)
		if st.state == NodeStateQueued || st.state == NodeStateRunning {
			log.Printf("⏭️ [ENGINE] Node '%s' already %s, leaving it to its run", id, st.state)
			continue
		}
		st.state = Transition(st.state, NodeStateQueued)
		st.runID = runID
		r.claimed[id] = true
	}
	if len(r.claimed) == 0 {
		e.mu.Unlock()
		cancel()
		return &RunResult{RunID: runID, Status: "completed", NodeStates: map[string]NodeState{}}, nil
	}
	e.runs[runID] = r
	e.mu.Unlock()
	metrics.RunStarted()

	for id := range r.claimed {
		_ = e.graph.Update(id, func(n *models.Node) {
			n.Status = models.StatusLoading
			n.Error = ""
		})
		e.trySend(models.RunUpdate{
			Type: "node_update", RunID: runID, NodeID: id,
			Status: string(NodeStateQueued),
		})
	}

	// In-degree over distinct in-run upstream nodes, non-paused edges only.
	for id := range r.claimed {
		count := 0
		for _, dep := range e.graph.DependenciesOf(id) {
			if r.claimed[dep] {
				count++
				r.dependents[dep] = append(r.dependents[dep], id)
			}
		}
		r.depCount[id] = count
	}

	var start []string
	for id := range r.claimed {
		if r.depCount[id] == 0 {
			start = append(start, id)
		}
	}
	sort.Strings(start)
	log.Printf("🚀 [ENGINE] Run %s: %d nodes claimed, %d ready", shortID(runID), len(r.claimed), len(start))

	for _, id := range start {
		e.dispatch(r, id)
	}

	r.wg.Wait()

	// Settle claimed nodes that never got dispatched (upstream cancelled, or
	// the run was stopped first).
	for id := range r.claimed {
		e.mu.Lock()
		st := e.states[id]
		stillQueued := st != nil && st.runID == runID && st.state == NodeStateQueued
		if stillQueued {
			st.state = Transition(st.state, NodeStateIdle)
			st.runID = ""
		}
		e.mu.Unlock()
		if stillQueued {
			e.settleNode(r, id, NodeStateIdle, "")
		}
	}

	e.mu.Lock()
	delete(e.runs, runID)
	e.mu.Unlock()
	cancel()

	r.mu.Lock()
	states := make(map[string]NodeState, len(r.done))
	var succeeded, failed, cancelled int
	for id, s := range r.done {
		states[id] = s
		switch s {
		case NodeStateSuccess:
			succeeded++
		case NodeStateError:
			failed++
		case NodeStateIdle:
			cancelled++
		}
	}
	errs := append([]string(nil), r.errs...)
	r.mu.Unlock()

	status := "completed"
	switch {
	case failed > 0 && succeeded > 0:
		status = "partial"
	case failed > 0:
		status = "failed"
	case cancelled > 0:
		status = "cancelled"
	}

	e.trySend(models.RunUpdate{Type: "run_complete", RunID: runID, Status: status})
	metrics.RunFinished(status)
	log.Printf("🏁 [ENGINE] Run %s %s: %d succeeded, %d failed, %d cancelled",
		shortID(runID), status, succeeded, failed, cancelled)

	return &RunResult{RunID: runID, Status: status, NodeStates: states, Errors: errs}, nil
}

// runSet returns the node IDs a run covers: the whole graph, or the forward
// closure of fromID over non-paused edges.
func (e *Engine) runSet(fromID string) []string {
	if fromID == "" {
		return e.graph.NodeIDs()
	}
	seen := map[string]bool{fromID: true}
	queue := []string{fromID}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range e.graph.DependentsOf(cur) {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// dispatch starts a node goroutine tracked by the run's wait group.
func (e *Engine) dispatch(r *run, nodeID string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer e.recoverNode(r, nodeID)
		e.executeNode(r, nodeID)
	}()
}

func (e *Engine) executeNode(r *run, nodeID string) {
	e.mu.Lock()
	st := e.states[nodeID]
	if st == nil || st.runID != r.id || st.state != NodeStateQueued {
		e.mu.Unlock()
		return // cancelled or re-owned before it could start
	}
	nodeCtx, cancelNode := context.WithCancel(r.ctx)
	st.state = Transition(st.state, NodeStateRunning)
	st.cancel = cancelNode
	e.mu.Unlock()
	defer cancelNode()

	node, ok := e.graph.Node(nodeID)
	if !ok {
		e.finishCancelled(r, nodeID)
		return
	}

	log.Printf("▶️ [ENGINE] Executing node '%s' (type: %s)", nodeID, node.Type)
	e.trySend(models.RunUpdate{
		Type: "node_update", RunID: r.id, NodeID: nodeID,
		Status: string(NodeStateRunning),
	})

	executor, err := e.registry.Get(node.Type)
	if err != nil {
		e.failNode(r, nodeID, node, Classify(err))
		return
	}

	inputs := e.gatherInputs(node)
	started := time.Now()
	result, execErr := executor.Execute(nodeCtx, node, inputs)
	elapsed := time.Since(started)

	// Cancellation wins over whatever the behavior returned: the result of a
	// cancelled call is discarded, no history entry, no cost.
	if nodeCtx.Err() != nil || e.disowned(r, nodeID) {
		e.finishCancelled(r, nodeID)
		return
	}
	if execErr != nil {
		e.failNode(r, nodeID, node, Classify(execErr))
		return
	}
	if result == nil || result.Output == nil {
		e.failNode(r, nodeID, node, &Error{Category: ErrorCategoryUnknown, Message: "executor returned no output"})
		return
	}
	e.completeNode(r, nodeID, node, result, elapsed)
}

// gatherInputs resolves each connected input handle's current value from the
// upstream node's selected output. Paused edges are skipped, so the input is
// simply absent. Inline fallbacks (prompt text typed on the node itself)
// live in the behaviors.
func (e *Engine) gatherInputs(node *models.Node) Inputs {
	inputs := make(Inputs)
	for _, edge := range e.graph.InEdges(node.ID) {
		if edge.Paused {
			continue
		}
		if out, ok := e.resolveSourceValue(edge); ok {
			inputs[edge.TargetHandle] = out
		}
	}
	return inputs
}

// resolveSourceValue reads the value behind an edge's source handle: a
// split-grid cell for cell handles, the node's selected output otherwise.
func (e *Engine) resolveSourceValue(edge models.Edge) (*models.Output, bool) {
	src, ok := e.graph.Node(edge.Source)
	if !ok {
		return nil, false
	}
	if src.Type == models.TypeSplitGrid {
		row, col, ok := models.ParseCellHandle(edge.SourceHandle)
		if !ok {
			return nil, false
		}
		var cell *models.Output
		_ = e.graph.View(edge.Source, func(n *models.Node) {
			data, ok := n.Data.(*models.SplitGridData)
			if !ok {
				return
			}
			idx := row*data.Cols + col
			if idx < len(data.Cells) {
				c := data.Cells[idx]
				cell = &c
			}
		})
		return cell, cell != nil
	}
	out, ok := e.history.Current(edge.Source)
	if !ok {
		return nil, false
	}
	return &out, true
}

func (e *Engine) completeNode(r *run, nodeID string, node *models.Node, result *Result, elapsed time.Duration) {
	if err := e.history.Append(nodeID, *result.Output); err != nil {
		// node vanished between execution and commit
		e.finishCancelled(r, nodeID)
		return
	}
	_ = e.graph.Update(nodeID, func(n *models.Node) {
		n.Status = models.StatusSuccess
		n.Error = ""
		if data, ok := n.Data.(*models.SplitGridData); ok {
			data.Cells = result.Cells
		}
	})

	cfg := cost.ConfigFor(node)
	if e.costs != nil && node.Type.GenerationCapable() {
		usd := e.costs.Predict(cfg)
		if err := e.costs.RecordIncurred(nodeID, usd); err != nil {
			log.Printf("⚠️ [ENGINE] Failed to record cost for node '%s': %v", nodeID, err)
		}
		metrics.AddIncurredCost(usd)
		metrics.ObserveGeneration(string(node.Type), cfg.Provider, elapsed.Seconds())
	}

	if node.Type == models.TypeSplitGrid {
		if err := e.respawnGridChildren(nodeID); err != nil {
			log.Printf("⚠️ [ENGINE] split-grid '%s': child spawn failed: %v", nodeID, err)
		}
	}

	e.mu.Lock()
	if st := e.states[nodeID]; st != nil && st.runID == r.id {
		st.state = Transition(st.state, NodeStateSuccess)
		st.runID = ""
		st.cancel = nil
	}
	e.mu.Unlock()

	e.trySend(models.RunUpdate{
		Type: "node_update", RunID: r.id, NodeID: nodeID,
		Status: string(NodeStateSuccess), Output: result.Output,
	})
	metrics.NodeFinished(string(node.Type), string(NodeStateSuccess))
	log.Printf("✅ [ENGINE] Node '%s' completed in %s", nodeID, elapsed.Round(time.Millisecond))

	r.mu.Lock()
	r.done[nodeID] = NodeStateSuccess
	var ready []string
	for _, dep := range r.dependents[nodeID] {
		r.depCount[dep]--
		if r.depCount[dep] == 0 {
			ready = append(ready, dep)
		}
	}
	for _, dep := range ready {
		e.dispatch(r, dep)
	}
	r.mu.Unlock()
}

func (e *Engine) failNode(r *run, nodeID string, node *models.Node, cerr *Error) {
	if cerr.Category == ErrorCategoryCancelled {
		e.finishCancelled(r, nodeID)
		return
	}
	log.Printf("❌ [ENGINE] Node '%s' failed: %v [category=%s]", nodeID, cerr, cerr.Category)

	e.mu.Lock()
	if st := e.states[nodeID]; st != nil && st.runID == r.id {
		st.state = Transition(st.state, NodeStateError)
		st.runID = ""
		st.cancel = nil
	}
	e.mu.Unlock()

	_ = e.graph.Update(nodeID, func(n *models.Node) {
		n.Status = models.StatusError
		n.Error = cerr.Error()
	})
	e.trySend(models.RunUpdate{
		Type: "node_update", RunID: r.id, NodeID: nodeID,
		Status: string(NodeStateError), Error: cerr.Error(),
	})
	if node != nil {
		metrics.NodeFinished(string(node.Type), string(NodeStateError))
	}

	r.mu.Lock()
	r.done[nodeID] = NodeStateError
	r.errs = append(r.errs, fmt.Sprintf("%s: %s", nodeID, cerr.Error()))
	r.mu.Unlock()

	e.cascadeMissingInput(r, nodeID)
}

// cascadeMissingInput transitively marks every claimed, still-queued
// dependent of a failed node as error. Dependents never run on stale
// upstream data.
func (e *Engine) cascadeMissingInput(r *run, failedID string) {
	for _, depID := range e.graph.DependentsOf(failedID) {
		e.mu.Lock()
		st := e.states[depID]
		hit := st != nil && st.runID == r.id && st.state == NodeStateQueued
		if hit {
			st.state = Transition(st.state, NodeStateError)
			st.runID = ""
		}
		e.mu.Unlock()
		if !hit {
			continue
		}
		msg := fmt.Sprintf("missing input: upstream node %s failed", failedID)
		_ = e.graph.Update(depID, func(n *models.Node) {
			n.Status = models.StatusError
			n.Error = msg
		})
		e.trySend(models.RunUpdate{
			Type: "node_update", RunID: r.id, NodeID: depID,
			Status: string(NodeStateError), Error: msg,
		})
		log.Printf("⛔ [ENGINE] Node '%s' skipped: %s", depID, msg)

		r.mu.Lock()
		r.done[depID] = NodeStateError
		r.mu.Unlock()

		e.cascadeMissingInput(r, depID)
	}
}

// finishCancelled settles a node that was cancelled mid-flight back to idle.
func (e *Engine) finishCancelled(r *run, nodeID string) {
	e.mu.Lock()
	if st := e.states[nodeID]; st != nil && st.runID == r.id {
		st.state = Transition(st.state, NodeStateIdle)
		st.runID = ""
		st.cancel = nil
	}
	e.mu.Unlock()
	e.settleNode(r, nodeID, NodeStateIdle, "")
	log.Printf("↩️ [ENGINE] Node '%s' cancelled, back to idle", nodeID)
}

// settleNode records a terminal state on the serialized node (when it still
// exists), streams the update and marks the run bookkeeping.
func (e *Engine) settleNode(r *run, nodeID string, state NodeState, errMsg string) {
	_ = e.graph.Update(nodeID, func(n *models.Node) {
		n.Status = state.Serialized()
		n.Error = errMsg
	})
	e.trySend(models.RunUpdate{
		Type: "node_update", RunID: r.id, NodeID: nodeID,
		Status: string(state), Error: errMsg,
	})
	r.mu.Lock()
	r.done[nodeID] = state
	r.mu.Unlock()
}

// disowned reports whether the node no longer belongs to the run, which
// happens when a structural edit cancelled it mid-flight.
func (e *Engine) disowned(r *run, nodeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.states[nodeID]
	return st == nil || st.runID != r.id
}

// respawnGridChildren replaces a split-grid node's spawned children with a
// fresh rows×cols set wired to its cell handles. Delete-then-recreate keeps
// re-runs idempotent: exactly one child per cell, never an accumulation.
func (e *Engine) respawnGridChildren(parentID string) error {
	parent, ok := e.graph.Node(parentID)
	if !ok {
		return nil
	}
	data, ok := parent.Data.(*models.SplitGridData)
	if !ok {
		return nil
	}

	for _, childID := range e.graph.SpawnedChildren(parentID) {
		if err := e.graph.RemoveNode(childID); err != nil {
			log.Printf("⚠️ [ENGINE] split-grid '%s': failed to remove stale child '%s': %v", parentID, childID, err)
		}
	}

	childIDs := make([]string, 0, data.Rows*data.Cols)
	for row := 0; row < data.Rows; row++ {
		for col := 0; col < data.Cols; col++ {
			child, err := models.NewNode(models.TypeGenerateImage)
			if err != nil {
				return err
			}
			child.SpawnedBy = parentID
			child.Position = models.Position{
				X: parent.Position.X + 320 + float64(col)*260,
				Y: parent.Position.Y + float64(row)*220,
			}
			if err := e.graph.AddNode(child); err != nil {
				return err
			}
			if err := e.graph.AddEdge(&models.Edge{
				Source:       parentID,
				SourceHandle: models.CellHandle(row, col),
				Target:       child.ID,
				TargetHandle: models.HandleImage,
			}); err != nil {
				return err
			}
			childIDs = append(childIDs, child.ID)
		}
	}
	_ = e.graph.Update(parentID, func(n *models.Node) {
		if d, ok := n.Data.(*models.SplitGridData); ok {
			d.ChildIDs = childIDs
		}
	})
	log.Printf("🧩 [ENGINE] split-grid '%s': spawned %d children (%dx%d)", parentID, len(childIDs), data.Rows, data.Cols)
	return nil
}

// onNodeRemoved cancels in-flight work for a removed node and everything
// downstream of it.
func (e *Engine) onNodeRemoved(rm graph.NodeRemoval) {
	e.cancelNodes(append([]string{rm.NodeID}, rm.Downstream...))
}

// onEdgeRemoved cancels in-flight work downstream of a removed edge. Paused
// edges carried no data, so removing one changes nothing.
func (e *Engine) onEdgeRemoved(rm graph.EdgeRemoval) {
	if rm.Edge.Paused {
		return
	}
	e.cancelNodes(rm.Downstream)
}

// cancelNodes settles queued nodes to idle immediately and cancels the
// context of running ones; their goroutines settle them on observation.
func (e *Engine) cancelNodes(ids []string) {
	for _, id := range ids {
		e.mu.Lock()
		st := e.states[id]
		if st == nil || (st.state != NodeStateQueued && st.state != NodeStateRunning) {
			e.mu.Unlock()
			continue
		}
		runID := st.runID
		if st.state == NodeStateRunning {
			cancel := st.cancel
			e.mu.Unlock()
			if cancel != nil {
				log.Printf("🛑 [ENGINE] Cancelling in-flight node '%s'", id)
				cancel()
			}
			continue
		}
		st.state = Transition(st.state, NodeStateIdle)
		st.runID = ""
		e.mu.Unlock()
		if r := e.runByID(runID); r != nil {
			e.settleNode(r, id, NodeStateIdle, "")
		}
	}
}

func (e *Engine) runByID(id string) *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[id]
}

func (e *Engine) ensureStateLocked(id string) *nodeState {
	if st, ok := e.states[id]; ok {
		return st
	}
	st := &nodeState{state: NodeStateIdle}
	// a freshly loaded workflow carries persisted statuses; adopt them so
	// success and error nodes re-enter runs through the right transition
	if n, ok := e.graph.Node(id); ok {
		switch n.Status {
		case models.StatusSuccess:
			st.state = NodeStateSuccess
		case models.StatusError:
			st.state = NodeStateError
		}
	}
	e.states[id] = st
	return st
}

// recoverNode keeps a panicking behavior from taking down the host process;
// the node is marked as failed.
func (e *Engine) recoverNode(r *run, nodeID string) {
	rec := recover()
	if rec == nil {
		return
	}
	log.Printf("🔥 [ENGINE] PANIC in node '%s': %v\n%s", nodeID, rec, debug.Stack())
	node, _ := e.graph.Node(nodeID)
	e.failNode(r, nodeID, node, &Error{
		Category: ErrorCategoryUnknown,
		Message:  fmt.Sprintf("internal panic: %v", rec),
	})
}

func (e *Engine) trySend(update models.RunUpdate) {
	select {
	case e.updates <- update:
	default:
		log.Printf("⚠️ [ENGINE] Update channel full, dropping update for node '%s' (status: %s)",
			update.NodeID, update.Status)
	}
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
