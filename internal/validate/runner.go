package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goalline-labs/goalline-go/internal/audit"
	"github.com/goalline-labs/goalline-go/internal/config"
	"github.com/goalline-labs/goalline-go/internal/domain"
	"github.com/goalline-labs/goalline-go/internal/valstore"
)

// rowsFailedPattern extracts a failed-row count from info lines shaped like
// "Bad_http_status_rows=3" or "Duplicate ids = 2".
var rowsFailedPattern = regexp.MustCompile(`=\s*(\d+)\s*$`)

type auditSink interface {
	Log(ctx context.Context, e audit.Event) error
}

type runMarker interface {
	Transition(ctx context.Context, dagID, runID, parentRunID, layer string, status domain.RunStatus, errorMessage string) error
}

type checkSink interface {
	LogCheck(ctx context.Context, c valstore.CheckResult) error
}

// Runner executes registered checks under the configured severity policy.
type Runner struct {
	trail  auditSink
	runs   runMarker
	checks checkSink
	reg    *Registry
}

func NewRunner(trail auditSink, runs runMarker, checks checkSink, reg *Registry) *Runner {
	return &Runner{trail: trail, runs: runs, checks: checks, reg: reg}
}

// Params identifies one check execution within a validation run.
type Params struct {
	Doc             *config.ValidationDoc
	Layer           string
	DagID           string
	RunID           string
	ParentRunID     string
	Name            string
	Input           Input
	ValidationRunID int64
}

// Run executes one configured check. Disabled or unregistered checks are
// silently skipped. A check whose errors carry error severity fails the run:
// the registry row flips to FAILED and the returned error aborts the pass.
// Warning severity demotes errors to WARNING audit events. A check that
// breaks internally is recorded as ERROR and its failure propagated.
func (r *Runner) Run(ctx context.Context, p Params) (*Result, error) {
	rule, ok := p.Doc.Rule(p.Layer, p.Name)
	if !ok || !rule.IsEnabled() {
		return nil, nil
	}
	check, ok := r.reg.Lookup(p.Layer, p.Name)
	if !ok {
		return nil, nil
	}
	severity := rule.ParsedSeverity()
	entity := fmt.Sprintf("%s_validation_%s", p.Layer, p.Name)

	startedAt := time.Now().UTC()
	r.audit(ctx, p, entity, domain.AuditStarted, "", startedAt, nil)

	res, err := check(ctx, p.Input)
	durationMs := time.Since(startedAt).Milliseconds()
	finishedAt := time.Now().UTC()
	if err != nil {
		r.logCheck(ctx, p, rule, severity, domain.CheckError, startedAt, finishedAt, durationMs, nil, err.Error(), map[string]any{
			"exception": err.Error(),
		})
		return nil, fmt.Errorf("check %s: %w", entity, err)
	}

	infos := append([]string(nil), res.Infos...)
	infos = append(infos, fmt.Sprintf("Duration_ms: %d", durationMs))
	infos = append(infos, payloadSizeInfo(p.Input.Payload))
	if text := strings.Join(infos, "\n"); text != "" {
		r.audit(ctx, p, entity, domain.AuditInfo, text, startedAt, nil)
	}
	if len(res.Warnings) > 0 {
		r.audit(ctx, p, entity, domain.AuditWarning, strings.Join(res.Warnings, "\n"), startedAt, nil)
	}

	details := map[string]any{"infos": infos, "warnings": res.Warnings, "errors": res.Errors}

	if len(res.Errors) > 0 {
		errorText := strings.Join(res.Errors, "\n")
		if severity == domain.SeverityWarning {
			r.audit(ctx, p, entity, domain.AuditWarning, errorText, startedAt, nil)
		} else {
			r.audit(ctx, p, entity, domain.AuditError, errorText, startedAt, nil)
			if r.runs != nil {
				_ = r.runs.Transition(ctx, p.DagID, p.RunID, p.ParentRunID, p.Layer,
					domain.RunFailed, fmt.Sprintf("%s: %s", entity, res.Errors[0]))
			}
			r.audit(ctx, p, entity, domain.AuditEnded, errorText, startedAt, &finishedAt)
			r.logCheck(ctx, p, rule, severity, domain.CheckFail, startedAt, finishedAt, durationMs,
				extractRowsFailed(infos), res.Errors[0], details)
			return res, fmt.Errorf("validation %s failed: %s", entity, res.Errors[0])
		}
	}

	status := domain.CheckPass
	var rowsFailed *int
	if len(res.Errors) > 0 && severity == domain.SeverityWarning {
		status = domain.CheckWarn
		rowsFailed = extractRowsFailed(infos)
	}
	var message string
	if len(res.Warnings) > 0 {
		message = res.Warnings[0]
	}
	r.logCheck(ctx, p, rule, severity, status, startedAt, finishedAt, durationMs, rowsFailed, message, details)

	r.audit(ctx, p, entity, domain.AuditEnded, "", startedAt, &finishedAt)
	return res, nil
}

func (r *Runner) audit(ctx context.Context, p Params, entity string, status domain.AuditStatus, message string, startedAt time.Time, finishedAt *time.Time) {
	if r.trail == nil {
		return
	}
	_ = r.trail.Log(ctx, audit.Event{
		DagID:      p.DagID,
		RunID:      p.RunID,
		Layer:      p.Layer,
		Entity:     entity,
		Status:     status,
		Message:    message,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	})
}

func (r *Runner) logCheck(ctx context.Context, p Params, rule config.RuleSpec, severity domain.Severity, status domain.CheckStatus, startedAt, finishedAt time.Time, durationMs int64, rowsFailed *int, message string, details map[string]any) {
	if r.checks == nil || p.ValidationRunID <= 0 {
		return
	}
	_ = r.checks.LogCheck(ctx, valstore.CheckResult{
		ValidationRunID: p.ValidationRunID,
		CheckName:       p.Name,
		RuleType:        rule.Type,
		Stage:           p.Layer,
		Status:          status,
		Severity:        severity,
		StartedAt:       startedAt,
		FinishedAt:      finishedAt,
		DurationMs:      durationMs,
		RowsFailed:      rowsFailed,
		Message:         message,
		Details:         details,
	})
}

// extractRowsFailed returns the first numeric suffix found in the info lines.
func extractRowsFailed(infos []string) *int {
	for _, info := range infos {
		m := rowsFailedPattern.FindStringSubmatch(info)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return &n
	}
	return nil
}

func payloadSizeInfo(payload map[string]any) string {
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "Payload_size_bytes: n/a"
	}
	return fmt.Sprintf("Payload_size_bytes: %d", len(raw))
}
