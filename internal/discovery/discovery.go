// Package discovery resolves which runs a validation pass should inspect.
// All selection happens against the run registry and audit trail; the
// warehouse tables themselves are never consulted.
package discovery

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goalline-labs/goalline-go/internal/domain"
	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
)

// defectSignatures are the audit-message fragments that mark an experiment
// raw run as carrying an injected matches defect. Stage E only inspects
// experiment runs whose mutation event matches one of these.
var defectSignatures = []string{
	`%removed field "id"%`,
	`%removed key "matches"%`,
	`%matchday%`,
	`%duplicated first element%`,
}

const baselineWarehouseQuery = `
SELECT run_id
FROM tech.run_status
WHERE layer = 'DDS'
  AND status = 'SUCCESS'
  AND parent_run_id = $1
  AND run_id NOT LIKE 'exp_%'
ORDER BY created_at DESC
LIMIT 1`

const rawDefectRunsQuery = `
SELECT run_id
FROM tech.run_status
WHERE layer = 'STG'
  AND status IN ('SUCCESS','FAILED')
  AND parent_run_id = $1
  AND run_id LIKE 'exp_%'
  AND EXISTS (
    SELECT 1
    FROM tech.load_audit a
    WHERE a.run_id = tech.run_status.run_id
      AND a.layer = 'STG'
      AND a.entity_name = 'STG_mutation_matches'
      AND a.status = 'MUTATED'
      AND a.message LIKE ANY($2)
  )
ORDER BY created_at ASC`

const experimentRawRunsQuery = `
SELECT run_id
FROM tech.run_status
WHERE layer = 'STG'
  AND status = 'SUCCESS'
  AND parent_run_id = $1
  AND run_id LIKE 'exp_%'
ORDER BY created_at ASC`

const experimentWarehouseRunsQuery = `
SELECT parent_run_id, run_id
FROM tech.run_status
WHERE layer = 'DDS'
  AND status = 'SUCCESS'
  AND parent_run_id = ANY($1)
  AND run_id LIKE 'exp_%'
ORDER BY created_at ASC`

const processedRunsQuery = `
SELECT run_id
FROM tech.run_status
WHERE layer = $1
  AND status IN ('SUCCESS','PROCESSING')
  AND run_id = ANY($2)`

// StageTarget is one run a stage tool should validate.
type StageTarget struct {
	Stage       domain.Stage
	RunID       string
	ParentRunID string
	StgRunID    string
	DdsRunID    string
	Kind        domain.Kind
}

// StageParams selects stage targets around one frozen baseline.
type StageParams struct {
	BaselineStgRunID string
	BaselineDdsRunID string
	Stage            domain.Stage
	IncludeExperiments bool
	OnlyUnprocessed    bool
	ProcessedLayer     string
}

type Finder struct {
	db postgres.DB
}

func NewFinder(db postgres.DB) *Finder {
	if db == nil {
		return nil
	}
	return &Finder{db: db}
}

// StageTargets discovers the runs one stage tool should process. Stage E
// yields raw runs: the baseline plus experiment runs carrying a recognized
// matches defect. Stages T and L yield warehouse runs: the baseline
// warehouse run plus every successful experiment warehouse run descending
// from the baseline raw run or its experiment children.
func (f *Finder) StageTargets(ctx context.Context, p StageParams) ([]StageTarget, error) {
	if f == nil || f.db == nil {
		return nil, fmt.Errorf("discovery finder not initialized")
	}
	if p.BaselineStgRunID == "" {
		return nil, fmt.Errorf("baseline stg run id is required")
	}
	switch p.Stage {
	case domain.StageExtract, domain.StageTransform, domain.StageLoad:
	default:
		return nil, fmt.Errorf("unsupported stage %q", string(p.Stage))
	}

	baselineDds := p.BaselineDdsRunID
	if baselineDds == "" {
		var err error
		baselineDds, err = f.resolveBaselineWarehouse(ctx, p.BaselineStgRunID)
		if err != nil {
			return nil, err
		}
	}

	var candidates []StageTarget
	var err error
	if p.Stage == domain.StageExtract {
		candidates, err = f.extractCandidates(ctx, p)
	} else {
		candidates, err = f.warehouseCandidates(ctx, p, baselineDds)
	}
	if err != nil {
		return nil, err
	}

	candidates = Dedupe(candidates)
	if !p.OnlyUnprocessed {
		return candidates, nil
	}
	return f.dropProcessed(ctx, candidates, p.ProcessedLayer)
}

func (f *Finder) resolveBaselineWarehouse(ctx context.Context, baselineStg string) (string, error) {
	var runID string
	err := f.db.QueryRowContext(ctx, baselineWarehouseQuery, baselineStg).Scan(&runID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("resolve baseline warehouse run: %w", err)
	}
	return runID, nil
}

func (f *Finder) extractCandidates(ctx context.Context, p StageParams) ([]StageTarget, error) {
	candidates := []StageTarget{{
		Stage:       p.Stage,
		RunID:       p.BaselineStgRunID,
		ParentRunID: p.BaselineStgRunID,
		StgRunID:    p.BaselineStgRunID,
		Kind:        domain.KindBaseline,
	}}
	if !p.IncludeExperiments {
		return candidates, nil
	}

	runs, err := f.scanRunIDs(ctx, rawDefectRunsQuery, p.BaselineStgRunID, defectSignatures)
	if err != nil {
		return nil, fmt.Errorf("discover raw defect runs: %w", err)
	}
	for _, runID := range runs {
		candidates = append(candidates, StageTarget{
			Stage:       p.Stage,
			RunID:       runID,
			ParentRunID: p.BaselineStgRunID,
			StgRunID:    runID,
			Kind:        domain.KindExperiment,
		})
	}
	return candidates, nil
}

func (f *Finder) warehouseCandidates(ctx context.Context, p StageParams, baselineDds string) ([]StageTarget, error) {
	var candidates []StageTarget
	if baselineDds != "" {
		candidates = append(candidates, StageTarget{
			Stage:       p.Stage,
			RunID:       baselineDds,
			ParentRunID: p.BaselineStgRunID,
			StgRunID:    p.BaselineStgRunID,
			DdsRunID:    baselineDds,
			Kind:        domain.KindBaseline,
		})
	}
	if !p.IncludeExperiments {
		return candidates, nil
	}

	pairs, err := f.experimentWarehousePairs(ctx, p.BaselineStgRunID)
	if err != nil {
		return nil, err
	}
	for _, pair := range pairs {
		candidates = append(candidates, StageTarget{
			Stage:       p.Stage,
			RunID:       pair.runID,
			ParentRunID: pair.parentRunID,
			StgRunID:    pair.parentRunID,
			DdsRunID:    pair.runID,
			Kind:        domain.KindExperiment,
		})
	}
	return candidates, nil
}

type runPair struct {
	parentRunID string
	runID       string
}

// experimentWarehousePairs returns successful experiment warehouse runs
// whose parent is the baseline raw run or one of its experiment children.
func (f *Finder) experimentWarehousePairs(ctx context.Context, baselineStg string) ([]runPair, error) {
	expStg, err := f.scanRunIDs(ctx, experimentRawRunsQuery, baselineStg)
	if err != nil {
		return nil, fmt.Errorf("discover experiment raw runs: %w", err)
	}
	parents := append(expStg, baselineStg)

	rows, err := f.db.QueryContext(ctx, experimentWarehouseRunsQuery, parents)
	if err != nil {
		return nil, fmt.Errorf("discover experiment warehouse runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []runPair
	for rows.Next() {
		var pair runPair
		if err := rows.Scan(&pair.parentRunID, &pair.runID); err != nil {
			return nil, fmt.Errorf("scan experiment warehouse run: %w", err)
		}
		out = append(out, pair)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("experiment warehouse rows: %w", err)
	}
	return out, nil
}

func (f *Finder) dropProcessed(ctx context.Context, candidates []StageTarget, processedLayer string) ([]StageTarget, error) {
	if len(candidates) == 0 || processedLayer == "" {
		return candidates, nil
	}
	runIDs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		runIDs = append(runIDs, c.RunID)
	}
	processed, err := f.processedSet(ctx, processedLayer, runIDs)
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, c := range candidates {
		if !processed[c.RunID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *Finder) processedSet(ctx context.Context, layer string, runIDs []string) (map[string]bool, error) {
	rows, err := f.db.QueryContext(ctx, processedRunsQuery, layer, runIDs)
	if err != nil {
		return nil, fmt.Errorf("query processed runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]bool)
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			return nil, fmt.Errorf("scan processed run: %w", err)
		}
		out[runID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("processed rows: %w", err)
	}
	return out, nil
}

func (f *Finder) scanRunIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := f.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			return nil, err
		}
		out = append(out, runID)
	}
	return out, rows.Err()
}

// Dedupe keeps the first target per (stage, run) pair, preserving order.
func Dedupe(targets []StageTarget) []StageTarget {
	type key struct {
		stage domain.Stage
		runID string
	}
	seen := make(map[key]struct{}, len(targets))
	out := make([]StageTarget, 0, len(targets))
	for _, t := range targets {
		k := key{t.Stage, t.RunID}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}
