// Package postvalidate re-checks finished warehouse runs, baseline and
// experiment alike, under the POST registry layer.
package postvalidate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goalline-labs/goalline-go/internal/config"
	"github.com/goalline-labs/goalline-go/internal/discovery"
	"github.com/goalline-labs/goalline-go/internal/domain"
	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
	"github.com/goalline-labs/goalline-go/internal/validate"
	"github.com/goalline-labs/goalline-go/internal/valstore"
)

type postFinder interface {
	PostTargets(ctx context.Context, p discovery.PostParams) ([]discovery.PostTarget, error)
}

type runMarker interface {
	Transition(ctx context.Context, dagID, runID, parentRunID, layer string, status domain.RunStatus, errorMessage string) error
}

type valRunStore interface {
	StartRun(ctx context.Context, p valstore.RunParams) (int64, error)
	FinishRun(ctx context.Context, p valstore.FinishParams) error
	LogCheck(ctx context.Context, c valstore.CheckResult) error
}

// TargetResult is one warehouse run's post-validation outcome.
type TargetResult struct {
	Target       discovery.PostTarget
	Status       domain.RunStatus
	ChecksTotal  int
	ChecksFailed int
	Error        string
}

// Runner executes the configured warehouse checks for every discovered
// post-validation target.
type Runner struct {
	finder postFinder
	runs   runMarker
	store  valRunStore
	reg    *validate.Registry
	db     postgres.DB
	log    *slog.Logger
	now    func() time.Time
}

func NewRunner(finder postFinder, runs runMarker, store valRunStore, reg *validate.Registry, db postgres.DB, log *slog.Logger) *Runner {
	if log == nil {
		log = slog.Default()
	}
	return &Runner{finder: finder, runs: runs, store: store, reg: reg, db: db, log: log, now: time.Now}
}

// Params frames one post-validation session.
type Params struct {
	DagID            string
	BaselineStgRunID string
	OnlyUnprocessed  bool
	Validations      *config.ValidationDoc
}

// Run validates every target in isolation: a failed or broken target is
// recorded and the session moves on.
func (r *Runner) Run(ctx context.Context, p Params) ([]TargetResult, error) {
	if r == nil || r.db == nil {
		return nil, fmt.Errorf("post validation runner not initialized")
	}
	if p.Validations == nil {
		return nil, fmt.Errorf("validation config is required")
	}
	dagID := p.DagID
	if dagID == "" {
		dagID = "post_validation"
	}

	targets, err := r.finder.PostTargets(ctx, discovery.PostParams{
		BaselineStgRunID: p.BaselineStgRunID,
		OnlyUnprocessed:  p.OnlyUnprocessed,
		ProcessedLayer:   domain.LayerPost,
	})
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		r.log.Info("no post validation targets", "dag_id", dagID)
		return nil, nil
	}

	results := make([]TargetResult, 0, len(targets))
	for _, target := range targets {
		results = append(results, r.runTarget(ctx, dagID, p.Validations, target))
	}
	return results, nil
}

func (r *Runner) runTarget(ctx context.Context, dagID string, doc *config.ValidationDoc, target discovery.PostTarget) TargetResult {
	started := r.now()
	result := TargetResult{Target: target}

	validationRunID, err := r.store.StartRun(ctx, valstore.RunParams{
		DagID:       dagID,
		RunID:       target.DdsRunID,
		ParentRunID: target.StgRunID,
		Layer:       domain.LayerPost,
		Tool:        "author",
		Suite:       "post_dds_checks",
		Kind:        target.Kind,
		StartedAt:   started,
		Meta:        map[string]any{"baseline_stg_run_id": target.BaselineStgRunID},
	})
	if err != nil {
		result.Status = domain.RunFailed
		result.Error = err.Error()
		return result
	}

	fail := func(cause error) TargetResult {
		result.Status = domain.RunFailed
		result.Error = cause.Error()
		_ = r.runs.Transition(ctx, dagID, target.DdsRunID, target.StgRunID, domain.LayerPost,
			domain.RunFailed, cause.Error())
		r.finish(ctx, validationRunID, "FAILED", started, result.ChecksTotal, result.ChecksFailed)
		return result
	}

	if err := r.runs.Transition(ctx, dagID, target.DdsRunID, target.StgRunID, domain.LayerPost, domain.RunNew, ""); err != nil {
		return fail(err)
	}
	if err := r.runs.Transition(ctx, dagID, target.DdsRunID, target.StgRunID, domain.LayerPost, domain.RunProcessing, ""); err != nil {
		return fail(err)
	}

	input := validate.Input{DB: r.db, RunID: target.DdsRunID, ParentRunID: target.StgRunID}
	for _, name := range doc.EnabledNames(domain.LayerWarehouse) {
		rule, _ := doc.Rule(domain.LayerWarehouse, name)
		check, ok := r.reg.Lookup(domain.LayerWarehouse, name)
		if !ok {
			continue
		}

		checkStarted := r.now()
		res, err := check(ctx, input)
		finished := r.now()
		result.ChecksTotal++
		if err != nil {
			result.ChecksFailed++
			r.logCheck(ctx, validationRunID, name, rule, domain.CheckError, checkStarted, finished, nil, err.Error(), nil)
			continue
		}

		status := domain.CheckPass
		var message string
		if len(res.Errors) > 0 {
			message = res.Errors[0]
			if rule.ParsedSeverity() == domain.SeverityWarning {
				status = domain.CheckWarn
			} else {
				status = domain.CheckFail
				result.ChecksFailed++
			}
		} else if len(res.Warnings) > 0 {
			message = res.Warnings[0]
		}
		details := map[string]any{"infos": res.Infos, "warnings": res.Warnings, "errors": res.Errors}
		r.logCheck(ctx, validationRunID, name, rule, status, checkStarted, finished, nil, message, details)
	}

	status := domain.RunSuccess
	errorMessage := ""
	if result.ChecksFailed > 0 {
		status = domain.RunFailed
		errorMessage = fmt.Sprintf("post validation failed: %d of %d checks", result.ChecksFailed, result.ChecksTotal)
	}
	if err := r.runs.Transition(ctx, dagID, target.DdsRunID, target.StgRunID, domain.LayerPost, status, errorMessage); err != nil {
		return fail(err)
	}
	result.Status = status
	result.Error = errorMessage

	finishStatus := "SUCCESS"
	if status != domain.RunSuccess {
		finishStatus = "FAILED"
	}
	r.finish(ctx, validationRunID, finishStatus, started, result.ChecksTotal, result.ChecksFailed)
	return result
}

func (r *Runner) logCheck(ctx context.Context, validationRunID int64, name string, rule config.RuleSpec, status domain.CheckStatus, startedAt, finishedAt time.Time, rowsFailed *int, message string, details map[string]any) {
	_ = r.store.LogCheck(ctx, valstore.CheckResult{
		ValidationRunID: validationRunID,
		CheckName:       name,
		RuleType:        rule.Type,
		Stage:           domain.LayerPost,
		Status:          status,
		Severity:        rule.ParsedSeverity(),
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
		DurationMs:      finishedAt.Sub(startedAt).Milliseconds(),
		RowsFailed:      rowsFailed,
		Message:         strings.TrimSpace(message),
		Details:         details,
	})
}

func (r *Runner) finish(ctx context.Context, validationRunID int64, status string, started time.Time, total, failed int) {
	finished := r.now()
	_ = r.store.FinishRun(ctx, valstore.FinishParams{
		ValidationRunID: validationRunID,
		Status:          status,
		FinishedAt:      finished,
		DurationMs:      finished.Sub(started).Milliseconds(),
		ChecksTotal:     &total,
		ChecksFailed:    &failed,
	})
}
