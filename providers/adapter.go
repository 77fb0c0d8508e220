// Package providers bridges the engine onto generation backends through a
// uniform adapter contract: model discovery plus a single-call generate
// operation.
package providers

import (
	"context"
	"fmt"

	"canvasflow/models"
)

// Adapter is the contract every generation backend implements. Generate is
// one-shot: no streaming, no polling surface.
type Adapter interface {
	ListModels(ctx context.Context, filter models.ListFilter) ([]models.Model, error)
	Generate(ctx context.Context, input models.GenerationInput) (*models.GenerationOutput, error)
}

// StatusError reports a non-2xx provider response. The engine maps it into
// its error taxonomy by status code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, truncate(e.Body, 200))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
