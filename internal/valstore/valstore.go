// Package valstore persists validation executions: one validation_run row per
// (tool, layer, run) attempt and one validation_check_result row per rule
// evaluated within it. External tool adapters and the in-process runner share
// this schema so discovery and reporting stay tool-agnostic.
package valstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goalline-labs/goalline-go/internal/domain"
	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
)

const startRunQuery = `
INSERT INTO tech.validation_run (
    dag_id, run_id, parent_run_id, layer, tool, suite, kind,
    status, started_at, meta
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING validation_run_id`

const finishRunQuery = `
UPDATE tech.validation_run
SET status = $2,
    finished_at = $3,
    duration_ms = $4,
    checks_total = COALESCE($5, checks_total),
    checks_failed = COALESCE($6, checks_failed),
    report_path = COALESCE($7, report_path),
    meta = COALESCE($8, meta)
WHERE validation_run_id = $1`

const insertCheckQuery = `
INSERT INTO tech.validation_check_result (
    validation_run_id, check_name, rule_type, etl_stage,
    status, severity, started_at, finished_at, duration_ms,
    rows_failed, observed_value, expected_value, message, details
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

const purgeRunsQuery = `
DELETE FROM tech.validation_run
WHERE dag_id = $1
  AND layer = $2`

const purgeRunsScopedQuery = `
DELETE FROM tech.validation_run
WHERE dag_id = $1
  AND layer = $2
  AND run_id = ANY($3)`

// RunParams starts a validation_run row.
type RunParams struct {
	DagID       string
	RunID       string
	ParentRunID string
	Layer       string
	Tool        string
	Suite       string
	Kind        domain.Kind
	StartedAt   time.Time
	Meta        map[string]any
}

// CheckResult is one evaluated rule.
type CheckResult struct {
	ValidationRunID int64
	CheckName       string
	RuleType        string
	Stage           string
	Status          domain.CheckStatus
	Severity        domain.Severity
	StartedAt       time.Time
	FinishedAt      time.Time
	DurationMs      int64
	RowsFailed      *int
	ObservedValue   string
	ExpectedValue   string
	Message         string
	Details         map[string]any
}

// FinishParams closes a validation_run row.
type FinishParams struct {
	ValidationRunID int64
	Status          string
	FinishedAt      time.Time
	DurationMs      int64
	ChecksTotal     *int
	ChecksFailed    *int
	ReportPath      string
	Meta            map[string]any
}

type Store struct {
	db postgres.DB
}

func NewStore(db postgres.DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db}
}

func (s *Store) StartRun(ctx context.Context, p RunParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("validation store not initialized")
	}
	if strings.TrimSpace(p.RunID) == "" {
		return 0, fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(p.Tool) == "" {
		return 0, fmt.Errorf("tool is required")
	}
	meta, err := encodeMeta(p.Meta)
	if err != nil {
		return 0, fmt.Errorf("encode meta: %w", err)
	}
	startedAt := p.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	var id int64
	row := s.db.QueryRowContext(ctx, startRunQuery,
		p.DagID, p.RunID, p.ParentRunID, p.Layer, p.Tool,
		nullIfEmpty(p.Suite), nullIfEmpty(string(p.Kind)),
		string(domain.RunProcessing), startedAt.UTC(), meta)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("start validation run: %w", err)
	}
	return id, nil
}

func (s *Store) FinishRun(ctx context.Context, p FinishParams) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("validation store not initialized")
	}
	if p.ValidationRunID <= 0 {
		return fmt.Errorf("validation run id is required")
	}
	meta, err := encodeMeta(p.Meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	finishedAt := p.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, finishRunQuery,
		p.ValidationRunID, p.Status, finishedAt.UTC(), p.DurationMs,
		p.ChecksTotal, p.ChecksFailed, nullIfEmpty(p.ReportPath), meta)
	if err != nil {
		return fmt.Errorf("finish validation run %d: %w", p.ValidationRunID, err)
	}
	return nil
}

func (s *Store) LogCheck(ctx context.Context, c CheckResult) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("validation store not initialized")
	}
	if c.ValidationRunID <= 0 {
		return fmt.Errorf("validation run id is required")
	}
	if strings.TrimSpace(c.CheckName) == "" {
		return fmt.Errorf("check name is required")
	}
	details, err := encodeMeta(c.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}
	startedAt := c.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	var finishedAt any
	if !c.FinishedAt.IsZero() {
		finishedAt = c.FinishedAt.UTC()
	}
	var rowsFailed any
	if c.RowsFailed != nil {
		rowsFailed = *c.RowsFailed
	}
	_, err = s.db.ExecContext(ctx, insertCheckQuery,
		c.ValidationRunID, c.CheckName, nullIfEmpty(c.RuleType), nullIfEmpty(c.Stage),
		string(c.Status), nullIfEmpty(string(c.Severity)), startedAt.UTC(), finishedAt, c.DurationMs,
		rowsFailed, nullIfEmpty(c.ObservedValue), nullIfEmpty(c.ExpectedValue),
		nullIfEmpty(c.Message), details)
	if err != nil {
		return fmt.Errorf("log check %s: %w", c.CheckName, err)
	}
	return nil
}

// Purge deletes validation runs for a layer (check results cascade); used by
// experiment repeat mode.
func (s *Store) Purge(ctx context.Context, dagID, layer string, runIDs []string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("validation store not initialized")
	}
	var err error
	if len(runIDs) > 0 {
		_, err = s.db.ExecContext(ctx, purgeRunsScopedQuery, dagID, layer, runIDs)
	} else {
		_, err = s.db.ExecContext(ctx, purgeRunsQuery, dagID, layer)
	}
	if err != nil {
		return fmt.Errorf("purge validation runs %s: %w", layer, err)
	}
	return nil
}

func encodeMeta(meta map[string]any) (any, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func nullIfEmpty(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
