package experiment

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/goalline-labs/goalline-go/internal/audit"
	"github.com/goalline-labs/goalline-go/internal/config"
	"github.com/goalline-labs/goalline-go/internal/domain"
	"github.com/goalline-labs/goalline-go/internal/loader"
	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
	"github.com/goalline-labs/goalline-go/internal/snapshot"
	"github.com/goalline-labs/goalline-go/internal/validate"
)

const runTagFormat = "20060102_150405"

// defaultSnapshotViews is used when the plan names no views at all.
var defaultSnapshotViews = []string{
	"mart.v_competition_season_kpi",
	"mart.v_team_season_results",
}

// Step names shared between the expected-step lists and the report.
const (
	stepStgRaw      = "STG: raw layer"
	stepStgMutation = "STG: mutation"
	stepStgValidate = "STG: validation"
	stepDdsPrepare  = "DDS: prepare"
	stepDdsLoad     = "DDS: load"
	stepDdsMutation = "DDS: mutation"
	stepDdsValidate = "DDS: validation"
	stepSnapshot    = "MART: snapshot"
)

// TxRunner scopes a function to one database transaction. The warehouse load,
// mutation, and validation of an iteration share a transaction so a failed
// iteration leaves no partial warehouse version behind.
type TxRunner interface {
	InTx(ctx context.Context, fn func(tx postgres.DB) error) error
}

// SQLTxRunner runs the function on a *sql.DB transaction.
type SQLTxRunner struct {
	DB *sql.DB
}

func (r SQLTxRunner) InTx(ctx context.Context, fn func(tx postgres.DB) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin experiment tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type rawCopier interface {
	CopyRawRun(ctx context.Context, p loader.CopyParams) (int, error)
}

type warehouseLoader interface {
	Load(ctx context.Context, exec postgres.DB, dagID, runID, parentRunID string) error
}

type runMarker interface {
	Transition(ctx context.Context, dagID, runID, parentRunID, layer string, status domain.RunStatus, errorMessage string) error
}

type warehouseMutator interface {
	Mutate(ctx context.Context, exec postgres.DB, doc *config.MutationDoc, dagID, runID string) (bool, error)
}

type suiteExecutor interface {
	RunSuite(ctx context.Context, p validate.SuiteParams) (int, error)
}

type auditReader interface {
	MutationMessages(ctx context.Context, runID, layer, entityPrefix string, limit int) ([]audit.MutationMessage, error)
	SuiteDurations(ctx context.Context, layer, runID string, entities []string) ([]audit.SuiteDuration, error)
}

// Deps wires the orchestrator to the rest of the pipeline.
type Deps struct {
	DB        postgres.DB
	Tx        TxRunner
	Copier    rawCopier
	Warehouse warehouseLoader
	Runs      runMarker
	Injector  warehouseMutator
	Suites    suiteExecutor
	Trail     auditReader
	Log       *slog.Logger
}

// Orchestrator drives one experiment plan end to end.
type Orchestrator struct {
	db        postgres.DB
	tx        TxRunner
	copier    rawCopier
	warehouse warehouseLoader
	runs      runMarker
	injector  warehouseMutator
	suites    suiteExecutor
	trail     auditReader
	log       *slog.Logger
	now       func() time.Time
	capture   func(ctx context.Context, db postgres.DB, view, runID string, limit int) ([]snapshot.Row, error)
}

func NewOrchestrator(d Deps) *Orchestrator {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		db:        d.DB,
		tx:        d.Tx,
		copier:    d.Copier,
		warehouse: d.Warehouse,
		runs:      d.Runs,
		injector:  d.Injector,
		suites:    d.Suites,
		trail:     d.Trail,
		log:       log,
		now:       time.Now,
		capture:   snapshot.Capture,
	}
}

// Run executes every iteration of the plan against the base config bundle.
// Iterations are isolated: a failed one is recorded and the plan continues.
func (o *Orchestrator) Run(ctx context.Context, cfg *config.ExperimentConfig, base config.Bundle) (*ExperimentResult, error) {
	if cfg == nil {
		return nil, fmt.Errorf("experiment config is required")
	}
	if strings.TrimSpace(cfg.Baseline.DdsRunID) == "" {
		return nil, fmt.Errorf("baseline dds_run_id is required for mart snapshots")
	}

	views := cfg.Baseline.SnapshotViews
	if len(views) == 0 {
		views = defaultSnapshotViews
	}
	limit := cfg.Defaults.SnapshotLimit

	baseline := IterationResult{
		IterationNo: 0,
		Name:        "baseline",
		Kind:        "baseline",
		StgRunID:    cfg.Baseline.StgRunID,
		DdsRunID:    cfg.Baseline.DdsRunID,
		Status:      StepSuccess,
		Steps: []StepResult{{
			Name:    stepSnapshot,
			Status:  StepSuccess,
			Details: fmt.Sprintf("snapshot_limit=%d", limit),
		}},
	}
	baseline.Snapshots, baseline.SnapshotErrors = o.captureAll(ctx, views, cfg.Baseline.DdsRunID, limit)

	scope := config.NewScope(base)
	result := &ExperimentResult{
		Name:         cfg.Name,
		CreatedAt:    o.now().UTC(),
		Baseline:     baseline,
		Capabilities: buildCapabilities(base),
	}

	prefix := domain.ExperimentRunPrefix + strings.ReplaceAll(cfg.Name, " ", "_")
	for idx, it := range cfg.Iterations {
		iteration := o.runIteration(ctx, scope, cfg, prefix, idx+1, it, views, limit)
		result.Iterations = append(result.Iterations, iteration)
		o.log.Info("experiment iteration finished",
			"experiment", cfg.Name, "iteration", iteration.Name, "status", iteration.Status)
	}

	result.ValidationTimes = o.collectValidationTimes(ctx, base, result.Iterations)
	BuildComparisons(result, snapshot.DefaultSampleLimit)
	return result, nil
}

func (o *Orchestrator) runIteration(ctx context.Context, scope *config.Scope, cfg *config.ExperimentConfig, prefix string, idx int, it config.Iteration, views []string, limit int) IterationResult {
	scope.Push(overridesFor(it))
	defer func() { _ = scope.Pop() }()
	bundle := scope.Current()

	if len(it.SnapshotViews) > 0 {
		views = it.SnapshotViews
	}
	srcRun := resolveSourceRun(it.FromStgRunID, cfg.Baseline.StgRunID)

	result := IterationResult{
		IterationNo: idx,
		Name:        it.Name,
		Kind:        it.Kind,
		Status:      StepSuccess,
		Configs:     summarizeConfigs(bundle),
	}
	steps := &stepLog{}
	var expected []expectedStep

	var err error
	switch strings.ToLower(strings.TrimSpace(it.Kind)) {
	case config.IterSnapshot:
		err = o.runSnapshotKind(ctx, cfg, views, limit, steps, &expected, &result)
	case config.IterStgMutation:
		err = o.runStgMutationKind(ctx, cfg, bundle, prefix, idx, it, srcRun, views, limit, steps, &expected, &result)
	case config.IterDdsMutation:
		err = o.runDdsMutationKind(ctx, cfg, bundle, prefix, idx, it, srcRun, views, limit, steps, &expected, &result)
	default:
		err = fmt.Errorf("unknown iteration kind %q", it.Kind)
	}

	if err != nil {
		result.Status = StepFailed
		result.ErrorMessage = err.Error()
		result.Snapshots = nil
		result.SnapshotErrors = nil
		if result.StgRunID != "" {
			_ = o.runs.Transition(ctx, cfg.Defaults.DagIDStg, result.StgRunID, srcRun,
				domain.LayerRaw, domain.RunFailed, "Experiment iteration failed")
		}
		if result.DdsRunID != "" {
			parent := result.StgRunID
			if parent == "" {
				parent = srcRun
			}
			_ = o.runs.Transition(ctx, cfg.Defaults.DagIDDds, result.DdsRunID, parent,
				domain.LayerWarehouse, domain.RunFailed, "Experiment iteration failed")
		}
	}

	steps.finalize(expected)
	result.Steps = steps.steps
	return result
}

func (o *Orchestrator) runSnapshotKind(ctx context.Context, cfg *config.ExperimentConfig, views []string, limit int, steps *stepLog, expected *[]expectedStep, result *IterationResult) error {
	*expected = []expectedStep{
		{stepStgRaw, fmt.Sprintf("using baseline stg_run_id=%s", cfg.Baseline.StgRunID)},
		{stepDdsLoad, "using baseline"},
		{stepSnapshot, fmt.Sprintf("snapshot_limit=%d", limit)},
	}
	steps.skip(stepStgRaw, (*expected)[0].details)
	steps.skip(stepDdsLoad, (*expected)[1].details)
	return steps.run(stepSnapshot, (*expected)[2].details, func() error {
		result.Snapshots, result.SnapshotErrors = o.captureAll(ctx, views, cfg.Baseline.DdsRunID, limit)
		return nil
	})
}

func (o *Orchestrator) runStgMutationKind(ctx context.Context, cfg *config.ExperimentConfig, bundle config.Bundle, prefix string, idx int, it config.Iteration, srcRun string, views []string, limit int, steps *stepLog, expected *[]expectedStep, result *IterationResult) error {
	tag := o.now().UTC().Format(runTagFormat)
	stgRunID := makeRunID(prefix, idx, domain.LayerRaw, tag)
	ddsRunID := makeRunID(prefix, idx, domain.LayerWarehouse, tag)
	result.StgRunID = stgRunID
	result.DdsRunID = ddsRunID

	*expected = []expectedStep{
		{stepStgRaw, fmt.Sprintf("using baseline stg_run_id=%s", srcRun)},
		{stepStgMutation, fmt.Sprintf("copy run_id=%s -> %s; %s", srcRun, stgRunID, describeStgMutations(result.Configs))},
		{stepStgValidate, describeValidations(result.Configs.StgValidations)},
		{stepDdsPrepare, fmt.Sprintf("clearing warehouse version dds_run_id=%s", ddsRunID)},
		{stepDdsLoad, fmt.Sprintf("parent_run_id=%s", stgRunID)},
		{stepDdsMutation, describeDdsMutations(result.Configs)},
		{stepDdsValidate, describeValidations(result.Configs.DdsValidations)},
		{stepSnapshot, fmt.Sprintf("snapshot_limit=%d", limit)},
	}

	steps.skip(stepStgRaw, (*expected)[0].details)
	err := steps.run(stepStgMutation, (*expected)[1].details, func() error {
		_, copyErr := o.copier.CopyRawRun(ctx, loader.CopyParams{
			DagID:          cfg.Defaults.DagIDStg,
			SourceRunID:    srcRun,
			TargetRunID:    stgRunID,
			ParentRunID:    srcRun,
			ApplyMutations: true,
			Mutations:      bundle.StgMutations,
		})
		return copyErr
	})
	if err != nil {
		return err
	}
	if msgs, msgErr := o.trail.MutationMessages(ctx, stgRunID, domain.LayerRaw, "STG_mutation_", 50); msgErr == nil {
		steps.appendDetails(stepStgMutation, formatMutationMessages(msgs, 8))
	}

	if it.WantStgValidation() {
		err = steps.run(stepStgValidate, (*expected)[2].details, func() error {
			return o.runStgValidations(ctx, bundle, cfg.Defaults.DagIDStg, stgRunID)
		})
		if err != nil {
			return err
		}
	} else {
		steps.skip(stepStgValidate, "disabled in experiment config")
	}
	if err := o.runs.Transition(ctx, cfg.Defaults.DagIDStg, stgRunID, srcRun, domain.LayerRaw, domain.RunSuccess, ""); err != nil {
		return err
	}

	if err := o.loadWarehouseVersion(ctx, cfg, bundle, it, ddsRunID, stgRunID, steps, *expected, 3); err != nil {
		return err
	}

	return steps.run(stepSnapshot, (*expected)[7].details, func() error {
		result.Snapshots, result.SnapshotErrors = o.captureAll(ctx, views, ddsRunID, limit)
		return nil
	})
}

func (o *Orchestrator) runDdsMutationKind(ctx context.Context, cfg *config.ExperimentConfig, bundle config.Bundle, prefix string, idx int, it config.Iteration, srcRun string, views []string, limit int, steps *stepLog, expected *[]expectedStep, result *IterationResult) error {
	tag := o.now().UTC().Format(runTagFormat)
	ddsRunID := makeRunID(prefix, idx, domain.LayerWarehouse, tag)
	result.DdsRunID = ddsRunID

	*expected = []expectedStep{
		{stepStgRaw, fmt.Sprintf("using baseline stg_run_id=%s", srcRun)},
		{stepDdsPrepare, fmt.Sprintf("clearing warehouse version dds_run_id=%s", ddsRunID)},
		{stepDdsLoad, fmt.Sprintf("parent_run_id=%s", srcRun)},
		{stepDdsMutation, describeDdsMutations(result.Configs)},
		{stepDdsValidate, describeValidations(result.Configs.DdsValidations)},
		{stepSnapshot, fmt.Sprintf("snapshot_limit=%d", limit)},
	}

	steps.skip(stepStgRaw, (*expected)[0].details)
	if err := o.loadWarehouseVersion(ctx, cfg, bundle, it, ddsRunID, srcRun, steps, *expected, 1); err != nil {
		return err
	}

	return steps.run(stepSnapshot, (*expected)[5].details, func() error {
		result.Snapshots, result.SnapshotErrors = o.captureAll(ctx, views, ddsRunID, limit)
		return nil
	})
}

// loadWarehouseVersion clears the target warehouse version, then loads,
// mutates, and validates it inside one transaction. prepIdx points at the
// "DDS: prepare" entry of expected; load, mutation, and validation follow it.
func (o *Orchestrator) loadWarehouseVersion(ctx context.Context, cfg *config.ExperimentConfig, bundle config.Bundle, it config.Iteration, ddsRunID, parentRunID string, steps *stepLog, expected []expectedStep, prepIdx int) error {
	err := steps.run(expected[prepIdx].name, expected[prepIdx].details, func() error {
		return o.tx.InTx(ctx, func(tx postgres.DB) error {
			return DeleteWarehouseRun(ctx, tx, ddsRunID)
		})
	})
	if err != nil {
		return err
	}

	if err := o.runs.Transition(ctx, cfg.Defaults.DagIDDds, ddsRunID, parentRunID, domain.LayerWarehouse, domain.RunProcessing, ""); err != nil {
		return err
	}

	err = o.tx.InTx(ctx, func(tx postgres.DB) error {
		if err := steps.run(expected[prepIdx+1].name, expected[prepIdx+1].details, func() error {
			return o.warehouse.Load(ctx, tx, cfg.Defaults.DagIDDds, ddsRunID, parentRunID)
		}); err != nil {
			return err
		}

		if len(bundle.DdsMutations.Enabled(domain.LayerWarehouse)) == 0 {
			steps.skip(expected[prepIdx+2].name, "no mutations enabled")
		} else {
			if err := steps.run(expected[prepIdx+2].name, expected[prepIdx+2].details, func() error {
				_, mutErr := o.injector.Mutate(ctx, tx, bundle.DdsMutations, cfg.Defaults.DagIDDds, ddsRunID)
				return mutErr
			}); err != nil {
				return err
			}
			if msgs, msgErr := o.trail.MutationMessages(ctx, ddsRunID, domain.LayerWarehouse, "DDS_mutation", 1); msgErr == nil {
				steps.appendDetails(expected[prepIdx+2].name, formatMutationMessages(msgs, 8))
			}
		}

		if !it.WantDdsValidation() {
			steps.skip(expected[prepIdx+3].name, "disabled in experiment config")
			return nil
		}
		return steps.run(expected[prepIdx+3].name, expected[prepIdx+3].details, func() error {
			return o.runDdsValidations(ctx, bundle, cfg.Defaults.DagIDDds, ddsRunID, parentRunID, tx)
		})
	})
	if err != nil {
		return err
	}
	return o.runs.Transition(ctx, cfg.Defaults.DagIDDds, ddsRunID, parentRunID, domain.LayerWarehouse, domain.RunSuccess, "")
}

func (o *Orchestrator) runStgValidations(ctx context.Context, bundle config.Bundle, dagID, runID string) error {
	doc := bundle.StgValidations
	if doc == nil {
		return nil
	}
	payloads, err := BuildRawPayloads(ctx, o.db, doc, runID)
	if err != nil {
		return err
	}
	for _, suite := range suiteOrder(doc, domain.LayerRaw) {
		if _, err := o.suites.RunSuite(ctx, validate.SuiteParams{
			Doc:         doc,
			Layer:       domain.LayerRaw,
			DagID:       dagID,
			RunID:       runID,
			ParentRunID: runID,
			Suite:       suite,
			Payloads:    payloads,
			Input:       validate.Input{DB: o.db, RunID: runID, ParentRunID: runID},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) runDdsValidations(ctx context.Context, bundle config.Bundle, dagID, ddsRunID, parentRunID string, tx postgres.DB) error {
	doc := bundle.DdsValidations
	if doc == nil {
		return nil
	}
	for _, suite := range suiteOrder(doc, domain.LayerWarehouse) {
		if _, err := o.suites.RunSuite(ctx, validate.SuiteParams{
			Doc:         doc,
			Layer:       domain.LayerWarehouse,
			DagID:       dagID,
			RunID:       ddsRunID,
			ParentRunID: parentRunID,
			Suite:       suite,
			Input:       validate.Input{DB: tx, RunID: ddsRunID, ParentRunID: parentRunID},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) captureAll(ctx context.Context, views []string, runID string, limit int) (map[string][]snapshot.Row, map[string]string) {
	rows := make(map[string][]snapshot.Row, len(views))
	var errs map[string]string
	for _, view := range views {
		data, err := o.capture(ctx, o.db, view, runID, limit)
		if err != nil {
			if errs == nil {
				errs = map[string]string{}
			}
			errs[view] = err.Error()
			continue
		}
		rows[view] = data
	}
	return rows, errs
}

// expectedStep declares one step an iteration kind is supposed to perform,
// so steps never reached still show up as SKIPPED.
type expectedStep struct {
	name    string
	details string
}

type stepLog struct {
	steps []StepResult
}

func (l *stepLog) run(name, details string, fn func() error) error {
	if err := fn(); err != nil {
		l.steps = append(l.steps, StepResult{Name: name, Status: StepFailed, Details: details, Error: err.Error()})
		return err
	}
	l.steps = append(l.steps, StepResult{Name: name, Status: StepSuccess, Details: details})
	return nil
}

func (l *stepLog) skip(name, details string) {
	l.steps = append(l.steps, StepResult{Name: name, Status: StepSkipped, Details: details})
}

func (l *stepLog) appendDetails(name, extra string) {
	extra = strings.TrimSpace(extra)
	if extra == "" {
		return
	}
	for i := range l.steps {
		if l.steps[i].Name != name {
			continue
		}
		if l.steps[i].Details != "" {
			l.steps[i].Details += "; " + extra
		} else {
			l.steps[i].Details = extra
		}
		return
	}
}

func (l *stepLog) finalize(expected []expectedStep) {
	existing := make(map[string]struct{}, len(l.steps))
	failed := false
	for _, s := range l.steps {
		existing[s.Name] = struct{}{}
		if s.Status == StepFailed {
			failed = true
		}
	}
	for _, e := range expected {
		if _, ok := existing[e.name]; ok {
			continue
		}
		details := e.details
		if failed {
			details = "not run after an earlier step failure"
		}
		l.steps = append(l.steps, StepResult{Name: e.name, Status: StepSkipped, Details: details})
	}
}

func makeRunID(prefix string, iterationNo int, layer, tag string) string {
	return fmt.Sprintf("%s_i%02d_%s_%s", prefix, iterationNo, strings.ToLower(layer), tag)
}

// resolveSourceRun maps an empty or literal "baseline" reference to the
// baseline run id.
func resolveSourceRun(from, baseline string) string {
	from = strings.TrimSpace(from)
	if from == "" || strings.EqualFold(from, "baseline") {
		return baseline
	}
	return from
}

func overridesFor(it config.Iteration) func(*config.Bundle) {
	return func(b *config.Bundle) {
		if len(it.StgMutationsEnable) > 0 {
			b.StgMutations = b.StgMutations.WithOnly(domain.LayerRaw, it.StgMutationsEnable)
		}
		if len(it.DdsMutationsEnable) > 0 {
			enable := make(map[string][]string, len(it.DdsMutationsEnable))
			for _, name := range it.DdsMutationsEnable {
				enable[name] = nil
			}
			b.DdsMutations = b.DdsMutations.WithOnly(domain.LayerWarehouse, enable)
		}
		if len(it.StgValidationOverrides) > 0 {
			b.StgValidations = b.StgValidations.WithOverrides(domain.LayerRaw, it.StgValidationOverrides)
		}
		if len(it.DdsValidationOverrides) > 0 {
			b.DdsValidations = b.DdsValidations.WithOverrides(domain.LayerWarehouse, it.DdsValidationOverrides)
		}
	}
}

func summarizeConfigs(b config.Bundle) ConfigSummary {
	s := ConfigSummary{StgMutations: map[string][]string{}}
	for _, name := range b.StgMutations.Enabled(domain.LayerRaw) {
		mc, _ := b.StgMutations.Entity(domain.LayerRaw, name)
		s.StgMutations[name] = append([]string(nil), mc.Actions...)
	}
	s.DdsMutations = b.DdsMutations.Enabled(domain.LayerWarehouse)
	s.StgValidations = b.StgValidations.EnabledNames(domain.LayerRaw)
	s.DdsValidations = b.DdsValidations.EnabledNames(domain.LayerWarehouse)
	return s
}

func describeStgMutations(s ConfigSummary) string {
	if len(s.StgMutations) == 0 {
		return "mutations disabled"
	}
	names := make([]string, 0, len(s.StgMutations))
	for name := range s.StgMutations {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		if actions := s.StgMutations[name]; len(actions) > 0 {
			parts = append(parts, fmt.Sprintf("%s: %s", name, strings.Join(actions, ", ")))
		} else {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "; ")
}

func describeDdsMutations(s ConfigSummary) string {
	if len(s.DdsMutations) == 0 {
		return "mutations disabled"
	}
	return strings.Join(s.DdsMutations, ", ")
}

func describeValidations(names []string) string {
	if len(names) == 0 {
		return "validations disabled"
	}
	return fmt.Sprintf("checks: %d", len(names))
}

// preferredSuiteOrder keeps the execution order the suites were designed
// around; suites absent from the list run afterwards in name order.
var preferredSuiteOrder = map[string][]string{
	domain.LayerRaw: {
		"ingestion_suite", "schema_suite", "completeness_suite",
		"uniqueness_suite", "consistency_suite",
	},
	domain.LayerWarehouse: {
		"referential_suite", "source_completeness_suite",
		"source_exclusivity_suite", "rules_suite",
	},
}

func suiteOrder(doc *config.ValidationDoc, layer string) []string {
	lc, ok := doc.Layers[layer]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{}, len(lc.Suites))
	var out []string
	for _, name := range preferredSuiteOrder[layer] {
		if _, exists := lc.Suites[name]; exists {
			out = append(out, name)
			seen[name] = struct{}{}
		}
	}
	var extra []string
	for name := range lc.Suites {
		if _, done := seen[name]; !done {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// formatMutationMessages condenses MUTATED audit rows into one step detail
// line: entity prefixes stripped, duplicates dropped, overflow counted.
func formatMutationMessages(msgs []audit.MutationMessage, limit int) string {
	if limit <= 0 {
		limit = 8
	}
	seen := make(map[string]struct{}, len(msgs))
	var items []string
	for _, m := range msgs {
		entity := strings.TrimSpace(m.Entity)
		entity = strings.TrimPrefix(entity, "STG_mutation_")
		entity = strings.TrimPrefix(entity, "DDS_mutation_")
		msg := strings.TrimSpace(m.Message)
		if msg == "" {
			continue
		}
		if entity != "" && strings.HasPrefix(strings.ToLower(msg), strings.ToLower(entity)+":") {
			msg = strings.TrimSpace(msg[len(entity)+1:])
		}
		item := msg
		if entity != "" && entity != "DDS_mutation" {
			item = entity + ": " + msg
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		items = append(items, item)
	}
	if len(items) == 0 {
		return ""
	}
	more := ""
	if len(items) > limit {
		more = fmt.Sprintf(" (+%d more)", len(items)-limit)
		items = items[:limit]
	}
	return strings.Join(items, "; ") + more
}
