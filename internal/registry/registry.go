// Package registry persists run lifecycle state in tech.run_status and
// provides the concurrency-safe claim primitive for downstream layers.
package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/goalline-labs/goalline-go/internal/domain"
	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
)

// transitionQuery is an idempotent upsert on (layer, parent_run_id, run_id).
// attempts increments only on transition into PROCESSING.
const transitionQuery = `
INSERT INTO tech.run_status (dag_id, run_id, parent_run_id, layer, status, attempts, error_message, last_updated_at)
VALUES ($1, $2, $3, $4, $5,
        CASE WHEN $5 = 'PROCESSING' THEN 1 ELSE 0 END,
        $6,
        now())
ON CONFLICT (layer, parent_run_id, run_id) DO UPDATE
SET status = EXCLUDED.status,
    dag_id = EXCLUDED.dag_id,
    error_message = EXCLUDED.error_message,
    attempts = CASE
                   WHEN EXCLUDED.status = 'PROCESSING' THEN tech.run_status.attempts + 1
                   ELSE tech.run_status.attempts
               END,
    last_updated_at = now()`

// claimPendingQuery reserves every eligible source run in one statement.
// FOR UPDATE SKIP LOCKED makes concurrent claimers skip rows another claimer
// is inspecting, so at most one downstream row per source run is ever in
// flight. The whole claim is a single statement: it either claims a set of
// parents or, on failure, claims nothing.
const claimPendingQuery = `
WITH source_success AS (
    SELECT run_id AS source_run_id
    FROM tech.run_status
    WHERE layer = $1 AND status = 'SUCCESS'
    FOR UPDATE SKIP LOCKED
),
eligible AS (
    SELECT s.source_run_id
    FROM source_success s
    WHERE NOT EXISTS (
        SELECT 1
        FROM tech.run_status d
        WHERE d.layer = $2
          AND d.parent_run_id = s.source_run_id
          AND d.status IN ('SUCCESS', 'PROCESSING')
    )
),
inserted AS (
    INSERT INTO tech.run_status (dag_id, run_id, parent_run_id, layer, status, attempts, last_updated_at)
    SELECT $3, $4, e.source_run_id, $2, 'NEW', 0, now()
    FROM eligible e
    RETURNING parent_run_id
)
SELECT parent_run_id FROM inserted`

const purgeLayerQuery = `
DELETE FROM tech.run_status
WHERE layer = $1`

const purgeLayerRunsQuery = `
DELETE FROM tech.run_status
WHERE layer = $1
  AND run_id = ANY($2)`

type Store struct {
	db postgres.DB
}

func NewStore(db postgres.DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db}
}

// Transition upserts a registry row. Re-asserting the same tuple updates
// status, dag tag and error message in place; a terminal status is never
// implicitly rolled back to NEW because callers only move forward through
// the lifecycle.
func (s *Store) Transition(ctx context.Context, dagID, runID, parentRunID, layer string, status domain.RunStatus, errorMessage string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("registry store not initialized")
	}
	if err := status.Validate(); err != nil {
		return err
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	parentRunID = strings.TrimSpace(parentRunID)
	if parentRunID == "" {
		return fmt.Errorf("parent run id is required")
	}
	layer = strings.TrimSpace(layer)
	if layer == "" {
		return fmt.Errorf("layer is required")
	}
	var errMsg any
	if strings.TrimSpace(errorMessage) != "" {
		errMsg = errorMessage
	}
	if _, err := s.db.ExecContext(ctx, transitionQuery, dagID, runID, parentRunID, layer, string(status), errMsg); err != nil {
		return fmt.Errorf("transition %s/%s: %w", layer, runID, err)
	}
	return nil
}

// ClaimPending finds every layerFrom run in SUCCESS that has no layerTo row
// in SUCCESS or PROCESSING and inserts a NEW layerTo row for it, returning
// the claimed parent run ids. Claims are exclusive under concurrency and
// all-or-nothing per statement.
func (s *Store) ClaimPending(ctx context.Context, dagID, layerFrom, layerTo, claimerRunID string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("registry store not initialized")
	}
	claimerRunID = strings.TrimSpace(claimerRunID)
	if claimerRunID == "" {
		return nil, fmt.Errorf("claimer run id is required")
	}
	rows, err := s.db.QueryContext(ctx, claimPendingQuery, layerFrom, layerTo, dagID, claimerRunID)
	if err != nil {
		return nil, fmt.Errorf("claim pending %s->%s: %w", layerFrom, layerTo, err)
	}
	defer func() { _ = rows.Close() }()

	var parents []string
	for rows.Next() {
		var parent string
		if err := rows.Scan(&parent); err != nil {
			return nil, fmt.Errorf("scan claimed parent: %w", err)
		}
		parents = append(parents, parent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim pending rows: %w", err)
	}
	return parents, nil
}

// Purge deletes registry rows for a layer, optionally scoped to a run-id
// set. Used only by experiment repeat mode before clean re-execution.
func (s *Store) Purge(ctx context.Context, layer string, runIDs []string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("registry store not initialized")
	}
	layer = strings.TrimSpace(layer)
	if layer == "" {
		return fmt.Errorf("layer is required")
	}
	var err error
	if len(runIDs) > 0 {
		_, err = s.db.ExecContext(ctx, purgeLayerRunsQuery, layer, runIDs)
	} else {
		_, err = s.db.ExecContext(ctx, purgeLayerQuery, layer)
	}
	if err != nil {
		return fmt.Errorf("purge %s: %w", layer, err)
	}
	return nil
}
