// Package audit writes the append-only load_audit trail. Events correlate a
// run, entity, status, message, row count and time range; they are consumed
// by reporting and timing analytics and never drive control flow.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goalline-labs/goalline-go/internal/domain"
	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
)

const insertEventQuery = `
INSERT INTO tech.load_audit (
    dag_id, run_id, task_id, layer, entity_name, status, message, rows_processed, started_at, finished_at
)
VALUES (
    $1, $2, $3, $4, $5, $6, $7,
    CASE WHEN $6 = 'SUCCESS' THEN $8::int ELSE NULL END,
    COALESCE($9, now()),
    CASE
        WHEN $10::timestamptz IS NOT NULL THEN $10
        WHEN $6 IN ('SUCCESS','FAILED','ENDED') THEN now()
        ELSE NULL
    END
)`

const mutationMessagesQuery = `
SELECT entity_name, message
FROM tech.load_audit
WHERE run_id = $1
  AND layer = $2
  AND status = 'MUTATED'
  AND entity_name LIKE $3
ORDER BY audit_id DESC
LIMIT $4`

const suiteDurationsQuery = `
SELECT run_id,
       entity_name,
       SUM(EXTRACT(EPOCH FROM (finished_at - started_at))) AS seconds_sum
FROM tech.load_audit
WHERE layer = $1
  AND status IN ('SUCCESS','FAILED')
  AND started_at IS NOT NULL
  AND finished_at IS NOT NULL
  AND run_id = $2
  AND entity_name = ANY($3)
GROUP BY run_id, entity_name`

// Event is one immutable audit record.
type Event struct {
	DagID         string
	RunID         string
	TaskID        string
	Layer         string
	Entity        string
	Status        domain.AuditStatus
	Message       string
	RowsProcessed *int
	StartedAt     time.Time
	FinishedAt    *time.Time
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(e.Layer) == "" {
		return errors.New("layer is required")
	}
	if strings.TrimSpace(e.Entity) == "" {
		return errors.New("entity name is required")
	}
	if e.Status == "" {
		return errors.New("status is required")
	}
	return nil
}

type Trail struct {
	db postgres.DB
}

func NewTrail(db postgres.DB) *Trail {
	if db == nil {
		return nil
	}
	return &Trail{db: db}
}

func (t *Trail) Log(ctx context.Context, e Event) error {
	if t == nil || t.db == nil {
		return fmt.Errorf("audit trail not initialized")
	}
	if err := e.Validate(); err != nil {
		return err
	}
	var rows any
	if e.RowsProcessed != nil {
		rows = *e.RowsProcessed
	}
	var started any
	if !e.StartedAt.IsZero() {
		started = e.StartedAt.UTC()
	}
	var finished any
	if e.FinishedAt != nil {
		finished = e.FinishedAt.UTC()
	}
	var msg any
	if e.Message != "" {
		msg = e.Message
	}
	var taskID any
	if e.TaskID != "" {
		taskID = e.TaskID
	}
	_, err := t.db.ExecContext(ctx, insertEventQuery,
		e.DagID, e.RunID, taskID, e.Layer, e.Entity, string(e.Status), msg, rows, started, finished)
	if err != nil {
		return fmt.Errorf("insert audit event %s/%s: %w", e.Layer, e.Entity, err)
	}
	return nil
}

// MutationMessage is what a mutation event recorded as changed.
type MutationMessage struct {
	Entity  string
	Message string
}

// MutationMessages returns the latest MUTATED events for a run whose entity
// name starts with entityPrefix, newest first.
func (t *Trail) MutationMessages(ctx context.Context, runID, layer, entityPrefix string, limit int) ([]MutationMessage, error) {
	if t == nil || t.db == nil {
		return nil, fmt.Errorf("audit trail not initialized")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.db.QueryContext(ctx, mutationMessagesQuery, runID, layer, entityPrefix+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("query mutation messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []MutationMessage
	for rows.Next() {
		var m MutationMessage
		var msg sql.NullString
		if err := rows.Scan(&m.Entity, &msg); err != nil {
			return nil, fmt.Errorf("scan mutation message: %w", err)
		}
		m.Message = msg.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mutation message rows: %w", err)
	}
	return out, nil
}

// SuiteDuration aggregates wall time spent inside one audited entity
// (a validation suite) for one run.
type SuiteDuration struct {
	RunID   string
	Entity  string
	Seconds float64
}

func (t *Trail) SuiteDurations(ctx context.Context, layer, runID string, entities []string) ([]SuiteDuration, error) {
	if t == nil || t.db == nil {
		return nil, fmt.Errorf("audit trail not initialized")
	}
	if len(entities) == 0 {
		return nil, nil
	}
	rows, err := t.db.QueryContext(ctx, suiteDurationsQuery, layer, runID, entities)
	if err != nil {
		return nil, fmt.Errorf("query suite durations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SuiteDuration
	for rows.Next() {
		var d SuiteDuration
		if err := rows.Scan(&d.RunID, &d.Entity, &d.Seconds); err != nil {
			return nil, fmt.Errorf("scan suite duration: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("suite duration rows: %w", err)
	}
	return out, nil
}
