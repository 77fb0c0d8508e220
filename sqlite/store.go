// Package sqlite persists workflow cost aggregates in a local SQLite
// database. It implements cost.Store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"canvasflow/models"
)

// Store is a SQLite-backed cost ledger.
type Store struct {
	db *sql.DB
}

// Open opens the cost ledger at path, creating the schema if needed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cost database: %w", err)
	}
	// SQLite allows one writer; extra connections just turn lock waits into errors
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping cost database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("✅ [COST-DB] Cost ledger ready at %s", path)
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_costs (
			workflow_id   TEXT PRIMARY KEY,
			incurred_cost REAL NOT NULL DEFAULT 0,
			last_updated  TIMESTAMP NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create workflow_costs table: %w", err)
	}
	return nil
}

// Save upserts the workflow's cost aggregate.
func (s *Store) Save(ctx context.Context, record models.CostRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_costs (workflow_id, incurred_cost, last_updated)
		VALUES (?, ?, ?)
		ON CONFLICT(workflow_id) DO UPDATE SET
			incurred_cost = excluded.incurred_cost,
			last_updated  = excluded.last_updated`,
		record.WorkflowID, record.IncurredCost, record.LastUpdated.UTC())
	if err != nil {
		return fmt.Errorf("failed to save cost record: %w", err)
	}
	return nil
}

// Load returns the workflow's cost aggregate. An unknown workflow loads as a
// zero record.
func (s *Store) Load(ctx context.Context, workflowID string) (models.CostRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT workflow_id, incurred_cost, last_updated
		FROM workflow_costs WHERE workflow_id = ?`, workflowID)

	var rec models.CostRecord
	err := row.Scan(&rec.WorkflowID, &rec.IncurredCost, &rec.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CostRecord{WorkflowID: workflowID}, nil
	}
	if err != nil {
		return models.CostRecord{}, fmt.Errorf("failed to load cost record: %w", err)
	}
	return rec, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
