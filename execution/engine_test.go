package execution

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"canvasflow/cost"
	"canvasflow/graph"
	"canvasflow/history"
	"canvasflow/models"
	"canvasflow/providers"
)

// fakeAdapter is a scriptable provider adapter. Without an explicit output
// it returns a distinct URL per call so history entries are tellable apart.
type fakeAdapter struct {
	delay time.Duration
	err   error
	out   *models.GenerationOutput
	calls atomic.Int32

	mu     sync.Mutex
	inputs []models.GenerationInput
}

func (f *fakeAdapter) ListModels(_ context.Context, _ models.ListFilter) ([]models.Model, error) {
	return []models.Model{{ID: "mock-model", Provider: "mock"}}, nil
}

func (f *fakeAdapter) Generate(ctx context.Context, input models.GenerationInput) (*models.GenerationOutput, error) {
	n := f.calls.Add(1)
	f.mu.Lock()
	f.inputs = append(f.inputs, input)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		out := *f.out
		return &out, nil
	}
	return &models.GenerationOutput{URL: fmt.Sprintf("https://cdn.test/out-%d.png", n)}, nil
}

func (f *fakeAdapter) lastInput(t *testing.T) models.GenerationInput {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.inputs) == 0 {
		t.Fatal("adapter was never called")
	}
	return f.inputs[len(f.inputs)-1]
}

// blockingExecutor parks until released or cancelled, reporting when each
// node enters it.
type blockingExecutor struct {
	started chan string
	release chan struct{}
}

func newBlockingExecutor() *blockingExecutor {
	return &blockingExecutor{started: make(chan string, 8), release: make(chan struct{})}
}

func (b *blockingExecutor) Execute(ctx context.Context, node *models.Node, _ Inputs) (*Result, error) {
	select {
	case b.started <- node.ID:
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.release:
	}
	return &Result{Output: &models.Output{Kind: models.KindImage, URL: "released.png", CreatedAt: time.Now()}}, nil
}

// countingExecutor records calls before failing or succeeding passthrough.
type countingExecutor struct {
	calls atomic.Int32
	inner NodeExecutor
}

func (c *countingExecutor) Execute(ctx context.Context, node *models.Node, inputs Inputs) (*Result, error) {
	c.calls.Add(1)
	return c.inner.Execute(ctx, node, inputs)
}

type panickingExecutor struct{}

func (p *panickingExecutor) Execute(_ context.Context, _ *models.Node, _ Inputs) (*Result, error) {
	panic("executor exploded")
}

type rig struct {
	graph    *graph.Model
	history  *history.Manager
	costs    *cost.Estimator
	adapters *providers.Registry
	registry *Registry
	engine   *Engine
}

func newRig(t *testing.T) *rig {
	t.Helper()
	g := graph.New("wf-test")
	hist := history.NewManager(g)
	table := cost.NewTable([]models.Price{{Provider: "mock", Model: "mock-model", USD: 0.01}})
	costs := cost.NewEstimator("wf-test", table, cost.NewMemoryStore())
	adapters := providers.NewRegistry()
	registry := NewRegistry(adapters)
	engine := NewEngine(g, registry, hist, costs, 1024)
	return &rig{graph: g, history: hist, costs: costs, adapters: adapters, registry: registry, engine: engine}
}

func (r *rig) addNode(t *testing.T, id string, nodeType models.NodeType, data models.NodeData) *models.Node {
	t.Helper()
	node := &models.Node{ID: id, Type: nodeType, Data: data, Status: models.StatusIdle}
	if err := r.graph.AddNode(node); err != nil {
		t.Fatalf("AddNode(%s) failed: %v", id, err)
	}
	return node
}

func (r *rig) addPrompt(t *testing.T, id, text string) {
	r.addNode(t, id, models.TypePrompt, &models.PromptData{Text: text})
}

func (r *rig) addImageInput(t *testing.T, id, url string) {
	r.addNode(t, id, models.TypeImageInput, &models.ImageInputData{ImageURL: url})
}

func (r *rig) addGen(t *testing.T, id string) {
	r.addNode(t, id, models.TypeGenerateImage, &models.GenerateImageData{Provider: "mock", Model: "mock-model"})
}

func (r *rig) setInlinePrompt(t *testing.T, id, prompt string) {
	t.Helper()
	err := r.graph.Update(id, func(n *models.Node) {
		n.Data.(*models.GenerateImageData).Prompt = prompt
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (r *rig) connect(t *testing.T, id, source, sourceHandle, target, targetHandle string) {
	t.Helper()
	err := r.graph.AddEdge(&models.Edge{
		ID: id, Source: source, SourceHandle: sourceHandle,
		Target: target, TargetHandle: targetHandle,
	})
	if err != nil {
		t.Fatalf("AddEdge(%s) failed: %v", id, err)
	}
}

func (r *rig) run(t *testing.T) *RunResult {
	t.Helper()
	res, err := r.engine.RunGraph(context.Background())
	if err != nil {
		t.Fatalf("RunGraph failed: %v", err)
	}
	return res
}

func waitState(t *testing.T, e *Engine, nodeID string, want NodeState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.NodeStateOf(nodeID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("node %s never reached %s (still %s)", nodeID, want, e.NodeStateOf(nodeID))
}

func TestRunPromptToImage(t *testing.T) {
	r := newRig(t)
	fa := &fakeAdapter{}
	r.adapters.Register("mock", fa)
	r.addPrompt(t, "p", "a cat")
	r.addGen(t, "g")
	r.connect(t, "e1", "p", models.HandleText, "g", models.HandlePrompt)

	res := r.run(t)

	if res.Status != "completed" {
		t.Errorf("run status = %q, want completed (errors: %v)", res.Status, res.Errors)
	}
	if got := r.engine.NodeStateOf("g"); got != NodeStateSuccess {
		t.Errorf("g state = %s, want success", got)
	}
	if got := r.history.Len("g"); got != 1 {
		t.Errorf("g history length = %d, want 1", got)
	}
	if fa.calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1", fa.calls.Load())
	}
	if in := fa.lastInput(t); in.Prompt != "a cat" {
		t.Errorf("provider received prompt %q, want the upstream text", in.Prompt)
	}
	node, _ := r.graph.Node("g")
	if node.Status != models.StatusSuccess {
		t.Errorf("serialized status = %q, want success", node.Status)
	}
}

func TestPausedEdgeMakesInputAbsent(t *testing.T) {
	r := newRig(t)
	fa := &fakeAdapter{}
	r.adapters.Register("mock", fa)
	r.addPrompt(t, "p", "a cat")
	r.addGen(t, "g")
	r.connect(t, "e1", "p", models.HandleText, "g", models.HandlePrompt)
	if err := r.graph.SetEdgePaused("e1", true); err != nil {
		t.Fatal(err)
	}

	res := r.run(t)

	if got := r.engine.NodeStateOf("g"); got != NodeStateError {
		t.Errorf("g state = %s, want error", got)
	}
	if fa.calls.Load() != 0 {
		t.Errorf("provider called %d times across a paused edge, want 0", fa.calls.Load())
	}
	node, _ := r.graph.Node("g")
	if !strings.Contains(node.Error, "missing input") {
		t.Errorf("g error = %q, want a missing-input validation error", node.Error)
	}
	// the prompt itself still succeeds, so the run is partial
	if res.Status != "partial" {
		t.Errorf("run status = %q, want partial", res.Status)
	}
}

func TestEdgeRemovalCancelsInFlightDownstream(t *testing.T) {
	r := newRig(t)
	slow := newBlockingExecutor()
	r.registry.Register(models.TypeAnnotation, slow)
	r.addImageInput(t, "i", "https://img.test/src.png")
	r.addNode(t, "a", models.TypeAnnotation, &models.AnnotationData{Text: "check"})
	r.addNode(t, "o", models.TypeOutput, &models.OutputData{})
	r.connect(t, "e1", "i", models.HandleImage, "a", models.HandleImage)
	r.connect(t, "e2", "a", models.HandleImage, "o", models.HandleImage)

	done := make(chan *RunResult, 1)
	go func() {
		res, _ := r.engine.RunGraph(context.Background())
		done <- res
	}()

	waitState(t, r.engine, "a", NodeStateRunning)
	if err := r.graph.RemoveEdge("e1"); err != nil {
		t.Fatalf("RemoveEdge failed: %v", err)
	}
	close(slow.release)
	res := <-done

	if got := r.engine.NodeStateOf("a"); got != NodeStateIdle {
		t.Errorf("a state = %s, want idle (cancelled, not error)", got)
	}
	if got := r.engine.NodeStateOf("o"); got != NodeStateIdle {
		t.Errorf("o state = %s, want idle", got)
	}
	node, _ := r.graph.Node("a")
	if node.Status != models.StatusIdle || node.Error != "" {
		t.Errorf("a serialized as %q/%q, want idle with no error", node.Status, node.Error)
	}
	if got := r.history.Len("a"); got != 0 {
		t.Errorf("cancelled node recorded %d history entries, want 0", got)
	}
	if res.Status != "cancelled" {
		t.Errorf("run status = %q, want cancelled", res.Status)
	}
}

func TestSplitGridSpawnsChildPerCell(t *testing.T) {
	r := newRig(t)
	r.addImageInput(t, "i", "https://img.test/grid.png")
	r.addNode(t, "s", models.TypeSplitGrid, &models.SplitGridData{Rows: 2, Cols: 3})
	r.connect(t, "e1", "i", models.HandleImage, "s", models.HandleImage)

	r.run(t)

	first := r.graph.SpawnedChildren("s")
	if len(first) != 6 {
		t.Fatalf("spawned %d children, want 6", len(first))
	}
	wired := make(map[string]bool)
	for _, e := range r.graph.Edges() {
		if e.Source == "s" {
			wired[e.SourceHandle] = true
		}
	}
	for row := 0; row < 2; row++ {
		for col := 0; col < 3; col++ {
			if !wired[models.CellHandle(row, col)] {
				t.Errorf("no child wired to %s", models.CellHandle(row, col))
			}
		}
	}
	for _, childID := range first {
		child, ok := r.graph.Node(childID)
		if !ok {
			t.Fatalf("child %s missing", childID)
		}
		if child.Type != models.TypeGenerateImage || child.SpawnedBy != "s" {
			t.Errorf("child %s = %s spawned by %q", childID, child.Type, child.SpawnedBy)
		}
	}
	node, _ := r.graph.Node("s")
	if cells := node.Data.(*models.SplitGridData).Cells; len(cells) != 6 {
		t.Errorf("stored %d cell outputs, want 6", len(cells))
	}

	// re-running replaces the children instead of accumulating
	r.run(t)
	second := r.graph.SpawnedChildren("s")
	if len(second) != 6 {
		t.Fatalf("after re-run %d children, want 6", len(second))
	}
	for _, id := range first {
		if _, ok := r.graph.Node(id); ok {
			t.Errorf("stale child %s survived the re-run", id)
		}
	}
}

func TestFullRunVisitsEachNodeOnce(t *testing.T) {
	r := newRig(t)
	fa1 := &fakeAdapter{}
	fa2 := &fakeAdapter{}
	r.adapters.Register("mock", fa1)
	r.adapters.Register("mock2", fa2)
	r.addPrompt(t, "p", "a fork in the road")
	r.addGen(t, "g1")
	r.addNode(t, "g2", models.TypeGenerateImage, &models.GenerateImageData{Provider: "mock2", Model: "mock-model"})
	r.addNode(t, "o", models.TypeOutput, &models.OutputData{})
	r.connect(t, "e1", "p", models.HandleText, "g1", models.HandlePrompt)
	r.connect(t, "e2", "p", models.HandleText, "g2", models.HandlePrompt)
	r.connect(t, "e3", "g1", models.HandleImage, "o", models.HandleImage)

	res := r.run(t)

	if res.Status != "completed" {
		t.Fatalf("run status = %q (errors: %v)", res.Status, res.Errors)
	}
	if fa1.calls.Load() != 1 || fa2.calls.Load() != 1 {
		t.Errorf("providers called %d/%d times, want exactly once each", fa1.calls.Load(), fa2.calls.Load())
	}
	if len(res.NodeStates) != 4 {
		t.Errorf("run touched %d nodes, want 4", len(res.NodeStates))
	}
}

func TestFailureCascadesAsMissingInput(t *testing.T) {
	r := newRig(t)
	fa := &fakeAdapter{err: &providers.StatusError{StatusCode: 500, Body: "upstream exploded"}}
	r.adapters.Register("mock", fa)
	counted := &countingExecutor{inner: &annotationExecutor{}}
	r.registry.Register(models.TypeAnnotation, counted)

	r.addPrompt(t, "p", "doomed")
	r.addGen(t, "g")
	r.addNode(t, "a", models.TypeAnnotation, &models.AnnotationData{})
	r.addNode(t, "o", models.TypeOutput, &models.OutputData{})
	r.connect(t, "e1", "p", models.HandleText, "g", models.HandlePrompt)
	r.connect(t, "e2", "g", models.HandleImage, "a", models.HandleImage)
	r.connect(t, "e3", "a", models.HandleImage, "o", models.HandleImage)

	res := r.run(t)

	if res.Status != "partial" {
		t.Errorf("run status = %q, want partial (p succeeded)", res.Status)
	}
	gNode, _ := r.graph.Node("g")
	if !strings.Contains(gNode.Error, "provider server error") {
		t.Errorf("g error = %q, want a classified server error", gNode.Error)
	}
	for _, id := range []string{"a", "o"} {
		if got := r.engine.NodeStateOf(id); got != NodeStateError {
			t.Errorf("%s state = %s, want error", id, got)
		}
		node, _ := r.graph.Node(id)
		if !strings.Contains(node.Error, "missing input") {
			t.Errorf("%s error = %q, want missing-input", id, node.Error)
		}
	}
	if counted.calls.Load() != 0 {
		t.Errorf("annotation executed %d times downstream of a failure, want 0", counted.calls.Load())
	}
}

func TestStopSettlesNodesToIdle(t *testing.T) {
	r := newRig(t)
	fa := &fakeAdapter{delay: 10 * time.Second}
	r.adapters.Register("mock", fa)
	r.addGen(t, "g")
	r.setInlinePrompt(t, "g", "slow burn")

	done := make(chan *RunResult, 1)
	go func() {
		res, _ := r.engine.RunGraph(context.Background())
		done <- res
	}()
	waitState(t, r.engine, "g", NodeStateRunning)

	r.engine.Stop()
	res := <-done

	if res.Status != "cancelled" {
		t.Errorf("run status = %q, want cancelled", res.Status)
	}
	if got := r.engine.NodeStateOf("g"); got != NodeStateIdle {
		t.Errorf("g state = %s, want idle", got)
	}
	if got := r.history.Len("g"); got != 0 {
		t.Errorf("cancelled generation recorded %d history entries, want 0", got)
	}
	if got := r.costs.Incurred(); got != 0 {
		t.Errorf("cancelled generation incurred $%f, want 0", got)
	}
}

func TestRunRequestForRunningNodeIsNoOp(t *testing.T) {
	r := newRig(t)
	fa := &fakeAdapter{delay: 5 * time.Second}
	r.adapters.Register("mock", fa)
	r.addGen(t, "g")
	r.setInlinePrompt(t, "g", "only once")

	done := make(chan struct{})
	go func() {
		_, _ = r.engine.RunFrom(context.Background(), "g")
		close(done)
	}()
	waitState(t, r.engine, "g", NodeStateRunning)

	res, err := r.engine.RunFrom(context.Background(), "g")
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if len(res.NodeStates) != 0 {
		t.Errorf("second run claimed %d nodes, want 0", len(res.NodeStates))
	}
	if fa.calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1", fa.calls.Load())
	}

	r.engine.Stop()
	<-done
}

func TestRunFromUsesStoredUpstreamOutput(t *testing.T) {
	r := newRig(t)
	fa := &fakeAdapter{}
	r.adapters.Register("mock", fa)
	r.addPrompt(t, "p", "") // empty: would fail validation if executed
	r.addGen(t, "g")
	r.connect(t, "e1", "p", models.HandleText, "g", models.HandlePrompt)
	if err := r.history.Append("p", models.Output{Kind: models.KindText, Text: "stored prompt", CreatedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	res, err := r.engine.RunFrom(context.Background(), "g")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "completed" {
		t.Fatalf("run status = %q (errors: %v)", res.Status, res.Errors)
	}
	if in := fa.lastInput(t); in.Prompt != "stored prompt" {
		t.Errorf("provider received %q, want the stored upstream output", in.Prompt)
	}
	if got := r.engine.NodeStateOf("p"); got != NodeStateIdle {
		t.Errorf("out-of-run upstream was executed (state %s)", got)
	}
}

func TestRerunAfterSelectAppendsAtTail(t *testing.T) {
	r := newRig(t)
	fa := &fakeAdapter{}
	r.adapters.Register("mock", fa)
	r.addGen(t, "g")
	r.setInlinePrompt(t, "g", "variations")

	for i := 0; i < 2; i++ {
		if res, err := r.engine.RunFrom(context.Background(), "g"); err != nil || res.Status != "completed" {
			t.Fatalf("run %d failed: %v / %+v", i, err, res)
		}
	}
	if err := r.history.Select("g", 0); err != nil {
		t.Fatal(err)
	}

	if res, err := r.engine.RunFrom(context.Background(), "g"); err != nil || res.Status != "completed" {
		t.Fatalf("third run failed: %v / %+v", err, res)
	}

	if got := r.history.Len("g"); got != 3 {
		t.Errorf("history length = %d, want 3 (no branching)", got)
	}
	if got := r.history.SelectedIndex("g"); got != 2 {
		t.Errorf("selected index = %d, want the new tail", got)
	}
	entries := r.history.Entries("g")
	if entries[0].URL != "https://cdn.test/out-1.png" || entries[2].URL != "https://cdn.test/out-3.png" {
		t.Errorf("unexpected history order: %v", entries)
	}
}

func TestUnconfiguredGenerationFailsValidation(t *testing.T) {
	r := newRig(t)
	fa := &fakeAdapter{}
	r.adapters.Register("mock", fa)
	r.addNode(t, "g", models.TypeGenerateImage, &models.GenerateImageData{Prompt: "has prompt, no provider"})

	r.run(t)

	if got := r.engine.NodeStateOf("g"); got != NodeStateError {
		t.Errorf("g state = %s, want error", got)
	}
	if fa.calls.Load() != 0 {
		t.Errorf("provider called %d times for an unconfigured node, want 0", fa.calls.Load())
	}
	node, _ := r.graph.Node("g")
	if !strings.Contains(node.Error, "no provider/model configured") {
		t.Errorf("g error = %q", node.Error)
	}
}

func TestPanicInExecutorIsIsolated(t *testing.T) {
	r := newRig(t)
	r.registry.Register(models.TypeAnnotation, &panickingExecutor{})
	r.addImageInput(t, "i", "https://img.test/x.png")
	r.addNode(t, "a", models.TypeAnnotation, &models.AnnotationData{})
	r.connect(t, "e1", "i", models.HandleImage, "a", models.HandleImage)

	res := r.run(t)

	if got := r.engine.NodeStateOf("a"); got != NodeStateError {
		t.Errorf("a state = %s, want error", got)
	}
	node, _ := r.graph.Node("a")
	if !strings.Contains(node.Error, "internal panic") {
		t.Errorf("a error = %q, want panic message", node.Error)
	}
	if got := r.engine.NodeStateOf("i"); got != NodeStateSuccess {
		t.Errorf("sibling i state = %s, want success", got)
	}
	if res.Status != "partial" {
		t.Errorf("run status = %q, want partial", res.Status)
	}
}

func TestCostRecordedOnSuccessOnly(t *testing.T) {
	r := newRig(t)
	fa := &fakeAdapter{}
	r.adapters.Register("mock", fa)
	r.addGen(t, "g")
	r.setInlinePrompt(t, "g", "priced")

	if _, err := r.engine.RunFrom(context.Background(), "g"); err != nil {
		t.Fatal(err)
	}
	if got := r.costs.Incurred(); got != 0.01 {
		t.Errorf("incurred = %f, want 0.01", got)
	}

	fa.err = &providers.StatusError{StatusCode: 500, Body: "boom"}
	if _, err := r.engine.RunFrom(context.Background(), "g"); err != nil {
		t.Fatal(err)
	}
	if got := r.costs.Incurred(); got != 0.01 {
		t.Errorf("failed generation changed incurred to %f, want 0.01", got)
	}
}

func TestUpdatesStreamReportsLifecycle(t *testing.T) {
	r := newRig(t)
	fa := &fakeAdapter{}
	r.adapters.Register("mock", fa)
	r.addGen(t, "g")
	r.setInlinePrompt(t, "g", "observed")

	if _, err := r.engine.RunFrom(context.Background(), "g"); err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]bool)
	var runComplete bool
	for {
		select {
		case u := <-r.engine.Updates():
			if u.Type == "run_complete" {
				runComplete = true
			} else if u.NodeID == "g" {
				seen[u.Status] = true
			}
			continue
		default:
		}
		break
	}
	for _, status := range []string{"queued", "running", "success"} {
		if !seen[status] {
			t.Errorf("update stream never reported %q for g (saw %v)", status, seen)
		}
	}
	if !runComplete {
		t.Error("update stream never reported run completion")
	}
}
