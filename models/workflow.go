package models

import "time"

// Workflow is the serialized form of a full canvas document and the
// save/load boundary for hosts. Node payloads round-trip exactly, history
// included.
type Workflow struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Nodes     []Node    `json:"nodes"`
	Edges     []Edge    `json:"edges"`
	Groups    []Group   `json:"groups,omitempty"`
	Version   int       `json:"version,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// CostRecord is the persisted per-workflow incurred cost aggregate.
type CostRecord struct {
	WorkflowID   string    `json:"workflowId"`
	IncurredCost float64   `json:"incurredCost"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// Price is one row of the static price table (pricing.json entry). An empty
// tier matches any tier for the model.
type Price struct {
	Provider string  `json:"provider"`
	Model    string  `json:"model"`
	Tier     string  `json:"tier,omitempty"`
	USD      float64 `json:"usd"`
}

// PricingFile is the root of pricing.json.
type PricingFile struct {
	Prices []Price `json:"prices"`
}

// RunUpdate is one streamed engine event: a node state change or a run
// lifecycle marker.
type RunUpdate struct {
	Type   string  `json:"type"` // "node_update" or "run_complete"
	RunID  string  `json:"runId"`
	NodeID string  `json:"nodeId,omitempty"`
	Status string  `json:"status,omitempty"`
	Error  string  `json:"error,omitempty"`
	Output *Output `json:"output,omitempty"`
}
