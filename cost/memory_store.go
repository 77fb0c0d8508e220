package cost

import (
	"context"
	"sync"

	"canvasflow/models"
)

// MemoryStore is an in-memory Store, used when no database path is
// configured and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]models.CostRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]models.CostRecord)}
}

// Save stores the record, replacing any previous one for the workflow.
func (s *MemoryStore) Save(_ context.Context, record models.CostRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.WorkflowID] = record
	return nil
}

// Load returns the stored record, or a zero record for an unknown workflow.
func (s *MemoryStore) Load(_ context.Context, workflowID string) (models.CostRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[workflowID]; ok {
		return rec, nil
	}
	return models.CostRecord{WorkflowID: workflowID}, nil
}
