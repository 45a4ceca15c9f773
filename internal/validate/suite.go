package validate

import (
	"context"
	"fmt"
	"time"

	"github.com/goalline-labs/goalline-go/internal/audit"
	"github.com/goalline-labs/goalline-go/internal/config"
	"github.com/goalline-labs/goalline-go/internal/domain"
	"github.com/goalline-labs/goalline-go/internal/valstore"
)

type suiteStarter interface {
	StartRun(ctx context.Context, p valstore.RunParams) (int64, error)
	FinishRun(ctx context.Context, p valstore.FinishParams) error
}

// SuiteRunner executes every validator of a configured suite under one
// validation_run row and one audited suite entity.
type SuiteRunner struct {
	trail  auditSink
	store  suiteStarter
	runner *Runner
}

func NewSuiteRunner(trail auditSink, store suiteStarter, runner *Runner) *SuiteRunner {
	return &SuiteRunner{trail: trail, store: store, runner: runner}
}

// SuiteParams names one suite execution. Payloads maps validator name to the
// decoded payload that validator inspects; SQL-backed validators read DB
// instead and take no payload.
type SuiteParams struct {
	Doc         *config.ValidationDoc
	Layer       string
	DagID       string
	RunID       string
	ParentRunID string
	Suite       string
	Tool        string
	Payloads    map[string]map[string]any
	Input       Input
}

// RunSuite runs the suite's enabled validators in configured order. The
// first error-severity failure aborts the suite; warnings and demoted
// errors let it continue. Returns how many validators actually ran.
func (s *SuiteRunner) RunSuite(ctx context.Context, p SuiteParams) (int, error) {
	if p.Doc == nil {
		return 0, fmt.Errorf("suite %s: validation config is required", p.Suite)
	}
	layerCfg, ok := p.Doc.Layers[p.Layer]
	if !ok {
		return 0, nil
	}
	spec, ok := layerCfg.Suites[p.Suite]
	if !ok {
		return 0, nil
	}
	entity := spec.Entity
	if entity == "" {
		entity = p.Suite
	}
	tool := p.Tool
	if tool == "" {
		tool = "author"
	}

	startedAt := time.Now().UTC()
	var validationRunID int64
	if s.store != nil {
		id, err := s.store.StartRun(ctx, valstore.RunParams{
			DagID:       p.DagID,
			RunID:       p.RunID,
			ParentRunID: p.ParentRunID,
			Layer:       p.Layer,
			Tool:        tool,
			Suite:       p.Suite,
			Kind:        domain.KindForRunID(p.RunID),
			StartedAt:   startedAt,
		})
		if err != nil {
			return 0, fmt.Errorf("start validation run for suite %s: %w", p.Suite, err)
		}
		validationRunID = id
	}
	s.auditSuite(ctx, p, entity, domain.AuditStarted, "", startedAt, nil)

	ran := 0
	failed := 0
	var suiteErr error
	for _, name := range spec.Validations {
		rule, ok := p.Doc.Rule(p.Layer, name)
		if !ok || !rule.IsEnabled() {
			continue
		}
		input := p.Input
		if payload, ok := p.Payloads[name]; ok {
			input.Payload = payload
		}
		res, err := s.runner.Run(ctx, Params{
			Doc:             p.Doc,
			Layer:           p.Layer,
			DagID:           p.DagID,
			RunID:           p.RunID,
			ParentRunID:     p.ParentRunID,
			Name:            name,
			Input:           input,
			ValidationRunID: validationRunID,
		})
		if res != nil || err != nil {
			ran++
		}
		if err != nil {
			failed++
			suiteErr = err
			break
		}
	}

	finishedAt := time.Now().UTC()
	durationMs := finishedAt.Sub(startedAt).Milliseconds()
	if suiteErr != nil {
		s.auditSuite(ctx, p, entity, domain.AuditFailed,
			fmt.Sprintf("Suite %s failed: %v", p.Suite, suiteErr), startedAt, &finishedAt)
		s.finish(ctx, validationRunID, "FAILED", finishedAt, durationMs, ran, max(1, failed))
		return ran, suiteErr
	}

	s.auditSuite(ctx, p, entity, domain.AuditSuccess,
		fmt.Sprintf("Suite %s completed, validations run: %d", p.Suite, ran), startedAt, &finishedAt)
	status := "SUCCESS"
	if failed > 0 {
		status = "FAILED"
	}
	s.finish(ctx, validationRunID, status, finishedAt, durationMs, ran, failed)
	return ran, nil
}

func (s *SuiteRunner) auditSuite(ctx context.Context, p SuiteParams, entity string, status domain.AuditStatus, message string, startedAt time.Time, finishedAt *time.Time) {
	if s.trail == nil {
		return
	}
	_ = s.trail.Log(ctx, audit.Event{
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

func (s *SuiteRunner) finish(ctx context.Context, validationRunID int64, status string, finishedAt time.Time, durationMs int64, total, failed int) {
	if s.store == nil || validationRunID <= 0 {
		return
	}
	_ = s.store.FinishRun(ctx, valstore.FinishParams{
		ValidationRunID: validationRunID,
		Status:          status,
		FinishedAt:      finishedAt,
		DurationMs:      durationMs,
		ChecksTotal:     &total,
		ChecksFailed:    &failed,
	})
}
