package execution

import (
	"context"
	"fmt"

	"canvasflow/models"
	"canvasflow/providers"
)

// Inputs holds the resolved value for each connected, non-paused input
// handle. Absent handles are simply missing from the map.
type Inputs map[string]*models.Output

// Result is what a node behavior produces on success.
type Result struct {
	Output *models.Output
	// Cells is set by split-grid only: one output per grid cell, row-major.
	Cells []models.Output
}

// NodeExecutor implements the behavior for one node type. Execute must
// honor ctx cancellation on anything blocking.
type NodeExecutor interface {
	Execute(ctx context.Context, node *models.Node, inputs Inputs) (*Result, error)
}

// Registry maps node types to their executors.
type Registry struct {
	executors map[models.NodeType]NodeExecutor
}

// NewRegistry creates a registry with executors for every built-in node
// type. Generation executors resolve their provider through the adapter
// registry at execution time, so config edits between runs take effect
// without rewiring.
func NewRegistry(adapters *providers.Registry) *Registry {
	return &Registry{
		executors: map[models.NodeType]NodeExecutor{
			models.TypeImageInput:    &imageInputExecutor{},
			models.TypeAnnotation:    &annotationExecutor{},
			models.TypePrompt:        &promptExecutor{},
			models.TypeGenerateImage: &generateImageExecutor{adapters: adapters},
			models.TypeGenerateVideo: &generateVideoExecutor{adapters: adapters},
			models.TypeLLMGenerate:   &llmGenerateExecutor{adapters: adapters},
			models.TypeSplitGrid:     &splitGridExecutor{},
			models.TypeOutput:        &outputExecutor{},
		},
	}
}

// Get returns the executor for a node type.
func (r *Registry) Get(t models.NodeType) (NodeExecutor, error) {
	executor, ok := r.executors[t]
	if !ok {
		return nil, fmt.Errorf("no executor registered for node type: %s", t)
	}
	return executor, nil
}

// Register installs an executor for a node type, replacing the built-in.
func (r *Registry) Register(t models.NodeType, executor NodeExecutor) {
	r.executors[t] = executor
}
