package stagetools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/goalline-labs/goalline-go/internal/discovery"
	"github.com/goalline-labs/goalline-go/internal/domain"
	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
	"github.com/goalline-labs/goalline-go/internal/valstore"
)

type runMarker interface {
	Transition(ctx context.Context, dagID, runID, parentRunID, layer string, status domain.RunStatus, errorMessage string) error
}

type valRunStore interface {
	StartRun(ctx context.Context, p valstore.RunParams) (int64, error)
	FinishRun(ctx context.Context, p valstore.FinishParams) error
	LogCheck(ctx context.Context, c valstore.CheckResult) error
}

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func sanitizePath(value string) string {
	v := unsafePathChars.ReplaceAllString(strings.TrimSpace(value), "_")
	if v == "" {
		return "id"
	}
	return v
}

// SQLTool evaluates the built-in SQL probes directly against the database
// and writes one JSON report per target.
type SQLTool struct {
	db    postgres.DB
	runs  runMarker
	store valRunStore
	log   *slog.Logger
	now   func() time.Time
}

func NewSQLTool(db postgres.DB, runs runMarker, store valRunStore, log *slog.Logger) *SQLTool {
	if log == nil {
		log = slog.Default()
	}
	return &SQLTool{db: db, runs: runs, store: store, log: log, now: time.Now}
}

func (t *SQLTool) Name() string { return "sql" }

type checkOutcome struct {
	Name       string `json:"name"`
	RuleGroup  string `json:"rule_group"`
	Severity   string `json:"severity"`
	Status     string `json:"status"`
	RowsFailed int    `json:"rows_failed"`
	CountSQL   string `json:"count_sql"`
	FailSQL    string `json:"fail_sql"`
}

// RunTargets validates each target in isolation: a broken target is
// reported FAILED and the pass continues.
func (t *SQLTool) RunTargets(ctx context.Context, p TargetParams) ([]TargetReport, error) {
	if t == nil || t.db == nil {
		return nil, fmt.Errorf("sql tool not initialized")
	}
	outDir := filepath.Join(p.OutputDir, "sql")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	reports := make([]TargetReport, 0, len(p.Targets))
	for _, target := range p.Targets {
		report := t.runTarget(ctx, p, target, outDir)
		reports = append(reports, report)
	}
	return reports, nil
}

func (t *SQLTool) runTarget(ctx context.Context, p TargetParams, target discovery.StageTarget, outDir string) TargetReport {
	started := t.now()
	resourceStart := CaptureResourceSnapshot()
	report := TargetReport{
		RunID:       target.RunID,
		ParentRunID: target.ParentRunID,
		Stage:       p.Stage,
		Kind:        target.Kind,
	}

	validationRunID, err := t.store.StartRun(ctx, valstore.RunParams{
		DagID:       p.DagID,
		RunID:       target.RunID,
		ParentRunID: target.ParentRunID,
		Layer:       p.Layer,
		Tool:        t.Name(),
		Suite:       fmt.Sprintf("%s_constraints", string(p.Stage)),
		Kind:        target.Kind,
		StartedAt:   started,
	})
	if err != nil {
		report.Status = domain.RunFailed
		report.Error = err.Error()
		return report
	}

	fail := func(cause error) TargetReport {
		report.Status = domain.RunFailed
		report.Error = cause.Error()
		_ = t.runs.Transition(ctx, p.DagID, target.RunID, target.ParentRunID, p.Layer,
			domain.RunFailed, fmt.Sprintf("sql %s validation error", string(p.Stage)))
		t.finish(ctx, validationRunID, "FAILED", started, resourceStart, 0, 0, report.ReportPath,
			map[string]any{"error": cause.Error()})
		return report
	}

	if err := t.runs.Transition(ctx, p.DagID, target.RunID, target.ParentRunID, p.Layer, domain.RunNew, ""); err != nil {
		return fail(err)
	}
	if err := t.runs.Transition(ctx, p.DagID, target.RunID, target.ParentRunID, p.Layer, domain.RunProcessing, ""); err != nil {
		return fail(err)
	}

	checks := append(BuildStageChecks(p.Stage, target.RunID), BuildConstraintChecks(p.Stage, target.RunID)...)
	outcomes := make([]checkOutcome, 0, len(checks))
	checksFailed := 0
	for _, check := range checks {
		var count int
		if err := t.db.QueryRowContext(ctx, check.CountSQL).Scan(&count); err != nil {
			return fail(fmt.Errorf("check %s: %w", check.Name, err))
		}
		status := domain.CheckPass
		var message string
		if count > 0 {
			status = domain.CheckFail
			checksFailed++
			message = "Constraint violation"
		}
		outcomes = append(outcomes, checkOutcome{
			Name:       check.Name,
			RuleGroup:  check.RuleGroup,
			Severity:   string(check.Severity),
			Status:     string(status),
			RowsFailed: count,
			CountSQL:   check.CountSQL,
			FailSQL:    check.FailSQL,
		})
		rowsFailed := count
		_ = t.store.LogCheck(ctx, valstore.CheckResult{
			ValidationRunID: validationRunID,
			CheckName:       check.Name,
			RuleType:        check.RuleGroup,
			Stage:           string(p.Stage),
			Status:          status,
			Severity:        check.Severity,
			StartedAt:       started,
			FinishedAt:      t.now(),
			RowsFailed:      &rowsFailed,
			ObservedValue:   fmt.Sprint(count),
			ExpectedValue:   "0",
			Message:         message,
			Details:         map[string]any{"count_sql": check.CountSQL, "fail_sql": check.FailSQL},
		})
	}

	reportPath, err := t.writeReport(p, target, outDir, outcomes)
	if err != nil {
		return fail(err)
	}
	report.ReportPath = reportPath

	status := domain.RunSuccess
	errorMessage := ""
	if checksFailed > 0 {
		status = domain.RunFailed
		errorMessage = fmt.Sprintf("sql constraints %s validation failed", string(p.Stage))
	}
	if err := t.runs.Transition(ctx, p.DagID, target.RunID, target.ParentRunID, p.Layer, status, errorMessage); err != nil {
		return fail(err)
	}
	report.Status = status

	t.finish(ctx, validationRunID, string(status), started, resourceStart, len(checks), checksFailed, reportPath,
		map[string]any{"checks_total": len(checks), "checks_failed": checksFailed})
	return report
}

func (t *SQLTool) writeReport(p TargetParams, target discovery.StageTarget, outDir string, outcomes []checkOutcome) (string, error) {
	tag := t.now().Format("20060102_150405")
	stage := strings.ToLower(string(p.Stage))
	safeRun := sanitizePath(target.RunID)
	safeKind := sanitizePath(string(target.Kind))

	targetDir := filepath.Join(outDir, fmt.Sprintf("%s_%s_%s_%s", safeKind, stage, safeRun, tag))
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", fmt.Errorf("create target dir: %w", err)
	}
	path := filepath.Join(targetDir, fmt.Sprintf("sql_constraints_%s_%s_%s_%s.json", stage, safeKind, safeRun, tag))

	raw, err := json.MarshalIndent(map[string]any{"checks": outcomes}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func (t *SQLTool) finish(ctx context.Context, validationRunID int64, status string, started time.Time, resourceStart ResourceSnapshot, total, failed int, reportPath string, meta map[string]any) {
	if resources := ResourceSummary(resourceStart, CaptureResourceSnapshot()); len(resources) > 0 {
		meta["resources"] = resources
	}
	_ = t.store.FinishRun(ctx, valstore.FinishParams{
		ValidationRunID: validationRunID,
		Status:          status,
		FinishedAt:      t.now(),
		DurationMs:      t.now().Sub(started).Milliseconds(),
		ChecksTotal:     &total,
		ChecksFailed:    &failed,
		ReportPath:      reportPath,
		Meta:            meta,
	})
}
