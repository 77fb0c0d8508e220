package cost

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"canvasflow/models"
)

// Store persists the per-workflow cost aggregate. A missing record loads as
// a zero-value record, not an error.
type Store interface {
	Save(ctx context.Context, record models.CostRecord) error
	Load(ctx context.Context, workflowID string) (models.CostRecord, error)
}

// Estimator predicts per-node generation cost from the price table and
// accumulates the incurred total for one workflow. Prediction is pure;
// recording mutates the aggregate and persists it.
type Estimator struct {
	mu         sync.Mutex
	table      *Table
	store      Store
	workflowID string
	incurred   float64
	perNode    map[string]float64
}

// NewEstimator creates an estimator for a workflow. A nil table falls back
// to the default catalog; a nil store keeps the aggregate in memory only.
func NewEstimator(workflowID string, table *Table, store Store) *Estimator {
	if table == nil {
		table = DefaultTable()
	}
	return &Estimator{
		table:      table,
		store:      store,
		workflowID: workflowID,
		perNode:    make(map[string]float64),
	}
}

// Restore loads the persisted aggregate so a reopened workflow resumes its
// running total.
func (e *Estimator) Restore(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	rec, err := e.store.Load(ctx, e.workflowID)
	if err != nil {
		return fmt.Errorf("failed to restore cost record: %w", err)
	}
	e.mu.Lock()
	e.incurred = rec.IncurredCost
	e.mu.Unlock()
	if rec.IncurredCost > 0 {
		log.Printf("💰 [COST] Restored incurred total $%.4f for workflow %s", rec.IncurredCost, e.workflowID)
	}
	return nil
}

// Predict returns the estimated unit cost of one generation for the given
// configuration. Same configuration and table always yield the same value;
// unconfigured or unpriced nodes predict zero.
func (e *Estimator) Predict(cfg Config) float64 {
	if !cfg.Type.GenerationCapable() {
		return 0
	}
	if cfg.Provider == "" || cfg.Model == "" {
		return 0
	}
	e.mu.Lock()
	table := e.table
	e.mu.Unlock()
	usd, ok := table.Lookup(cfg.Provider, cfg.Model, cfg.Tier())
	if !ok {
		return 0
	}
	return usd
}

// TotalPredicted sums Predict over every node. Only generation-capable,
// configured nodes contribute.
func (e *Estimator) TotalPredicted(nodes []*models.Node) float64 {
	var total float64
	for _, n := range nodes {
		total += e.Predict(ConfigFor(n))
	}
	return total
}

// RecordIncurred adds cost that was actually spent to the workflow total and
// persists the updated aggregate. Persistence runs on a background context,
// not the run context; cancelling a run does not drop recorded spend.
func (e *Estimator) RecordIncurred(nodeID string, usd float64) error {
	if usd < 0 {
		return fmt.Errorf("incurred cost must not be negative: %f", usd)
	}
	if usd == 0 {
		return nil
	}
	e.mu.Lock()
	e.incurred += usd
	e.perNode[nodeID] += usd
	rec := models.CostRecord{
		WorkflowID:   e.workflowID,
		IncurredCost: e.incurred,
		LastUpdated:  time.Now().UTC(),
	}
	store := e.store
	e.mu.Unlock()

	if store == nil {
		return nil
	}
	if err := store.Save(context.Background(), rec); err != nil {
		return fmt.Errorf("failed to persist cost record: %w", err)
	}
	return nil
}

// Incurred returns the workflow's running incurred total.
func (e *Estimator) Incurred() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.incurred
}

// PerNode returns a copy of the incurred totals keyed by node ID.
func (e *Estimator) PerNode() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]float64, len(e.perNode))
	for k, v := range e.perNode {
		out[k] = v
	}
	return out
}

// Record returns the current aggregate as a cost record.
func (e *Estimator) Record() models.CostRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.CostRecord{
		WorkflowID:   e.workflowID,
		IncurredCost: e.incurred,
		LastUpdated:  time.Now().UTC(),
	}
}

// Table returns the estimator's current price table.
func (e *Estimator) Table() *Table {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.table
}

// SetTable swaps the price table, used by pricing hot reload. Already
// incurred totals are unaffected.
func (e *Estimator) SetTable(t *Table) {
	if t == nil {
		return
	}
	e.mu.Lock()
	e.table = t
	e.mu.Unlock()
	log.Printf("💰 [COST] Price table updated (%d rows)", t.Len())
}
