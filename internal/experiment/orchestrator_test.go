package experiment

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goalline-labs/goalline-go/internal/audit"
	"github.com/goalline-labs/goalline-go/internal/config"
	"github.com/goalline-labs/goalline-go/internal/domain"
	"github.com/goalline-labs/goalline-go/internal/loader"
	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
	"github.com/goalline-labs/goalline-go/internal/snapshot"
	"github.com/goalline-labs/goalline-go/internal/validate"
)

type recordingExec struct {
	queries []string
	args    [][]any
}

func (r *recordingExec) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	r.queries = append(r.queries, query)
	r.args = append(r.args, args)
	return nil, nil
}

func (r *recordingExec) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, nil
}

func (r *recordingExec) QueryRowContext(context.Context, string, ...any) *sql.Row { return nil }

type fakeTx struct {
	exec *recordingExec
}

func (f *fakeTx) InTx(_ context.Context, fn func(tx postgres.DB) error) error {
	return fn(f.exec)
}

type fakeCopier struct {
	calls []loader.CopyParams
	err   error
}

func (f *fakeCopier) CopyRawRun(_ context.Context, p loader.CopyParams) (int, error) {
	f.calls = append(f.calls, p)
	if f.err != nil {
		return 0, f.err
	}
	return 5, nil
}

type fakeWarehouse struct {
	calls []string
	err   error
}

func (f *fakeWarehouse) Load(_ context.Context, _ postgres.DB, _, runID, parentRunID string) error {
	f.calls = append(f.calls, runID+"<-"+parentRunID)
	return f.err
}

type transition struct {
	dagID   string
	runID   string
	parent  string
	layer   string
	status  domain.RunStatus
	message string
}

type fakeRuns struct{ transitions []transition }

func (f *fakeRuns) Transition(_ context.Context, dagID, runID, parentRunID, layer string, status domain.RunStatus, msg string) error {
	f.transitions = append(f.transitions, transition{dagID, runID, parentRunID, layer, status, msg})
	return nil
}

func (f *fakeRuns) find(layer string, status domain.RunStatus) *transition {
	for i := range f.transitions {
		if f.transitions[i].layer == layer && f.transitions[i].status == status {
			return &f.transitions[i]
		}
	}
	return nil
}

type fakeInjector struct {
	calls []string
	docs  []*config.MutationDoc
}

func (f *fakeInjector) Mutate(_ context.Context, _ postgres.DB, doc *config.MutationDoc, _, runID string) (bool, error) {
	f.calls = append(f.calls, runID)
	f.docs = append(f.docs, doc)
	return true, nil
}

type fakeSuites struct {
	calls []validate.SuiteParams
	err   error
}

func (f *fakeSuites) RunSuite(_ context.Context, p validate.SuiteParams) (int, error) {
	f.calls = append(f.calls, p)
	return 1, f.err
}

type fakeTrail struct {
	messages  []audit.MutationMessage
	durations []audit.SuiteDuration
}

func (f *fakeTrail) MutationMessages(context.Context, string, string, string, int) ([]audit.MutationMessage, error) {
	return f.messages, nil
}

func (f *fakeTrail) SuiteDurations(context.Context, string, string, []string) ([]audit.SuiteDuration, error) {
	return f.durations, nil
}

type fixture struct {
	orch      *Orchestrator
	tx        *fakeTx
	copier    *fakeCopier
	warehouse *fakeWarehouse
	runs      *fakeRuns
	injector  *fakeInjector
	suites    *fakeSuites
	trail     *fakeTrail
}

func newFixture() *fixture {
	f := &fixture{
		tx:        &fakeTx{exec: &recordingExec{}},
		copier:    &fakeCopier{},
		warehouse: &fakeWarehouse{},
		runs:      &fakeRuns{},
		injector:  &fakeInjector{},
		suites:    &fakeSuites{},
		trail:     &fakeTrail{},
	}
	f.orch = NewOrchestrator(Deps{
		DB:        &recordingExec{},
		Tx:        f.tx,
		Copier:    f.copier,
		Warehouse: f.warehouse,
		Runs:      f.runs,
		Injector:  f.injector,
		Suites:    f.suites,
		Trail:     f.trail,
	})
	f.orch.now = func() time.Time {
		return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	}
	f.orch.capture = func(_ context.Context, _ postgres.DB, view, runID string, _ int) ([]snapshot.Row, error) {
		if runID == "base_dds" {
			return []snapshot.Row{{"competition_id": 1, "season_id": 10, "matches_total": 30}}, nil
		}
		return []snapshot.Row{{"competition_id": 1, "season_id": 10, "matches_total": 31}}, nil
	}
	return f
}

func planWith(iterations ...config.Iteration) *config.ExperimentConfig {
	return &config.ExperimentConfig{
		Name:     "swap teams",
		Baseline: config.ExperimentBaseline{StgRunID: "base_stg", DdsRunID: "base_dds"},
		Defaults: config.ExperimentDefaults{
			DagIDStg:      "dag_stg",
			DagIDDds:      "dag_dds",
			SnapshotLimit: 100,
		},
		Iterations: iterations,
	}
}

func suiteOnlyDoc(layer, suite string) *config.ValidationDoc {
	return &config.ValidationDoc{Layers: map[string]config.ValidationLayer{
		layer: {Suites: map[string]config.SuiteSpec{suite: {Entity: layer + "_" + suite}}},
	}}
}

func stepByName(t *testing.T, steps []StepResult, name string) StepResult {
	t.Helper()
	for _, s := range steps {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("step %q not found in %+v", name, steps)
	return StepResult{}
}

func TestStgMutationIteration(t *testing.T) {
	f := newFixture()
	f.trail.messages = []audit.MutationMessage{
		{Entity: "STG_mutation_matches", Message: "matches: swapped home/away teams for 3 matches"},
	}
	base := config.Bundle{
		StgValidations: suiteOnlyDoc(domain.LayerRaw, "ingestion_suite"),
		DdsValidations: suiteOnlyDoc(domain.LayerWarehouse, "rules_suite"),
	}
	cfg := planWith(config.Iteration{
		Name:               "swap",
		Kind:               config.IterStgMutation,
		StgMutationsEnable: map[string][]string{"matches": {"swap_teams"}},
	})

	result, err := f.orch.Run(context.Background(), cfg, base)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	it := result.Iterations[0]
	if it.Status != StepSuccess {
		t.Fatalf("iteration status = %s: %s", it.Status, it.ErrorMessage)
	}
	wantStg := "exp_swap_teams_i01_stg_20240102_030405"
	wantDds := "exp_swap_teams_i01_dds_20240102_030405"
	if it.StgRunID != wantStg || it.DdsRunID != wantDds {
		t.Fatalf("run ids = %s / %s", it.StgRunID, it.DdsRunID)
	}

	copy0 := f.copier.calls[0]
	if !copy0.ApplyMutations || copy0.SourceRunID != "base_stg" || copy0.TargetRunID != wantStg {
		t.Fatalf("copy params = %+v", copy0)
	}
	if got := copy0.Mutations.Enabled(domain.LayerRaw); len(got) != 1 || got[0] != "matches" {
		t.Fatalf("enabled stg mutations = %v", got)
	}

	if tr := f.runs.find(domain.LayerRaw, domain.RunSuccess); tr == nil || tr.runID != wantStg {
		t.Fatalf("missing STG SUCCESS transition: %+v", f.runs.transitions)
	}
	if tr := f.runs.find(domain.LayerWarehouse, domain.RunProcessing); tr == nil || tr.parent != wantStg {
		t.Fatalf("missing DDS PROCESSING transition: %+v", f.runs.transitions)
	}
	if tr := f.runs.find(domain.LayerWarehouse, domain.RunSuccess); tr == nil {
		t.Fatalf("missing DDS SUCCESS transition")
	}

	// suites: STG suite on the copy, then DDS suite inside the load tx
	if len(f.suites.calls) != 2 {
		t.Fatalf("suite calls = %d", len(f.suites.calls))
	}
	if f.suites.calls[0].Suite != "ingestion_suite" || f.suites.calls[0].RunID != wantStg {
		t.Fatalf("stg suite call = %+v", f.suites.calls[0])
	}
	dds := f.suites.calls[1]
	if dds.Suite != "rules_suite" || dds.RunID != wantDds || dds.ParentRunID != wantStg {
		t.Fatalf("dds suite call = %+v", dds)
	}
	if dds.Input.DB != postgres.DB(f.tx.exec) {
		t.Fatalf("dds validation must run on the load transaction")
	}

	mutation := stepByName(t, it.Steps, stepStgMutation)
	if !strings.Contains(mutation.Details, "matches: swapped home/away teams for 3 matches") {
		t.Fatalf("mutation details = %q", mutation.Details)
	}
	ddsMut := stepByName(t, it.Steps, stepDdsMutation)
	if ddsMut.Status != StepSkipped || ddsMut.Details != "no mutations enabled" {
		t.Fatalf("dds mutation step = %+v", ddsMut)
	}

	if len(it.Comparisons) == 0 {
		t.Fatalf("expected snapshot differences against the baseline")
	}
	for _, diff := range it.Comparisons {
		if len(diff.Changed) != 1 {
			t.Fatalf("diff = %+v", diff)
		}
	}
}

func TestIterationFailureIsIsolated(t *testing.T) {
	f := newFixture()
	f.warehouse.err = fmt.Errorf("duplicate key value violates unique constraint")
	cfg := planWith(
		config.Iteration{
			Name:               "broken",
			Kind:               config.IterStgMutation,
			StgMutationsEnable: map[string][]string{"matches": {"corrupt_id"}},
		},
		config.Iteration{Name: "control", Kind: config.IterSnapshot},
	)

	result, err := f.orch.Run(context.Background(), cfg, config.Bundle{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Iterations) != 2 {
		t.Fatalf("iterations = %d", len(result.Iterations))
	}

	broken := result.Iterations[0]
	if broken.Status != StepFailed || broken.ErrorMessage == "" {
		t.Fatalf("broken iteration = %+v", broken)
	}
	load := stepByName(t, broken.Steps, stepDdsLoad)
	if load.Status != StepFailed {
		t.Fatalf("load step = %+v", load)
	}
	snap := stepByName(t, broken.Steps, stepSnapshot)
	if snap.Status != StepSkipped || snap.Details != "not run after an earlier step failure" {
		t.Fatalf("snapshot step = %+v", snap)
	}
	if broken.Snapshots != nil {
		t.Fatalf("failed iteration must not keep snapshots")
	}

	var stgFailed, ddsFailed bool
	for _, tr := range f.runs.transitions {
		if tr.status == domain.RunFailed && tr.message == "Experiment iteration failed" {
			switch tr.layer {
			case domain.LayerRaw:
				stgFailed = true
			case domain.LayerWarehouse:
				ddsFailed = true
			}
		}
	}
	if !stgFailed || !ddsFailed {
		t.Fatalf("registry rows not flipped: %+v", f.runs.transitions)
	}

	control := result.Iterations[1]
	if control.Status != StepSuccess {
		t.Fatalf("control iteration = %+v", control)
	}
}

func TestSnapshotKindCapturesBaselineRun(t *testing.T) {
	f := newFixture()
	var captured []string
	f.orch.capture = func(_ context.Context, _ postgres.DB, view, runID string, limit int) ([]snapshot.Row, error) {
		captured = append(captured, runID)
		if limit != 100 {
			t.Fatalf("limit = %d", limit)
		}
		return nil, nil
	}
	cfg := planWith(config.Iteration{Name: "look", Kind: config.IterSnapshot})

	result, err := f.orch.Run(context.Background(), cfg, config.Bundle{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, runID := range captured {
		if runID != "base_dds" {
			t.Fatalf("captured run = %s, want base_dds", runID)
		}
	}
	it := result.Iterations[0]
	if stepByName(t, it.Steps, stepStgRaw).Status != StepSkipped {
		t.Fatalf("raw step must be skipped for snapshot iterations")
	}
	if stepByName(t, it.Steps, stepDdsLoad).Status != StepSkipped {
		t.Fatalf("load step must be skipped for snapshot iterations")
	}
}

func TestMutationOverridesAreScopedPerIteration(t *testing.T) {
	f := newFixture()
	cfg := planWith(
		config.Iteration{
			Name:               "first",
			Kind:               config.IterStgMutation,
			StgMutationsEnable: map[string][]string{"matches": {"swap_teams"}},
		},
		config.Iteration{
			Name:               "second",
			Kind:               config.IterStgMutation,
			StgMutationsEnable: map[string][]string{"areas": {"drop_collection_key"}},
		},
	)

	if _, err := f.orch.Run(context.Background(), cfg, config.Bundle{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(f.copier.calls) != 2 {
		t.Fatalf("copy calls = %d", len(f.copier.calls))
	}
	first := f.copier.calls[0].Mutations.Enabled(domain.LayerRaw)
	second := f.copier.calls[1].Mutations.Enabled(domain.LayerRaw)
	if len(first) != 1 || first[0] != "matches" {
		t.Fatalf("first iteration mutations = %v", first)
	}
	if len(second) != 1 || second[0] != "areas" {
		t.Fatalf("second iteration leaked earlier overrides: %v", second)
	}
}

func TestDdsMutationKindLoadsFromSourceRun(t *testing.T) {
	f := newFixture()
	cfg := planWith(config.Iteration{
		Name:               "plant",
		Kind:               config.IterDdsMutation,
		DdsMutationsEnable: []string{"fact_match"},
	})

	result, err := f.orch.Run(context.Background(), cfg, config.Bundle{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	it := result.Iterations[0]
	if it.Status != StepSuccess {
		t.Fatalf("iteration = %+v", it)
	}
	if it.StgRunID != "" {
		t.Fatalf("dds_mutation must not create a raw run, got %s", it.StgRunID)
	}
	if len(f.copier.calls) != 0 {
		t.Fatalf("dds_mutation must not copy raw rows")
	}
	if len(f.warehouse.calls) != 1 || !strings.HasSuffix(f.warehouse.calls[0], "<-base_stg") {
		t.Fatalf("warehouse calls = %v", f.warehouse.calls)
	}
	if len(f.injector.calls) != 1 || f.injector.calls[0] != it.DdsRunID {
		t.Fatalf("injector calls = %v", f.injector.calls)
	}
	if got := f.injector.docs[0].Enabled(domain.LayerWarehouse); len(got) != 1 || got[0] != "fact_match" {
		t.Fatalf("enabled dds mutations = %v", got)
	}
}

func TestDeleteWarehouseRunOrder(t *testing.T) {
	exec := &recordingExec{}
	if err := DeleteWarehouseRun(context.Background(), exec, "run1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	want := []string{
		"dds.fact_match_score",
		"dds.fact_match",
		"dds.fact_standing",
		"dds.dim_season",
		"dds.dim_team",
		"dds.dim_competition",
		"dds.dim_area",
	}
	if len(exec.queries) != len(want) {
		t.Fatalf("queries = %d, want %d", len(exec.queries), len(want))
	}
	for i, table := range want {
		if !strings.Contains(exec.queries[i], "DELETE FROM "+table+" ") {
			t.Fatalf("query %d = %q, want table %s", i, exec.queries[i], table)
		}
		if exec.args[i][0] != "run1" {
			t.Fatalf("query %d not scoped to run", i)
		}
	}

	if err := DeleteWarehouseRun(context.Background(), exec, "  "); err != nil {
		t.Fatalf("blank run id: %v", err)
	}
	if len(exec.queries) != len(want) {
		t.Fatalf("blank run id must delete nothing")
	}
}

func TestFormatMutationMessages(t *testing.T) {
	msgs := []audit.MutationMessage{
		{Entity: "STG_mutation_matches", Message: "matches: swapped home/away teams for 3 matches"},
		{Entity: "STG_mutation_matches", Message: "matches: swapped home/away teams for 3 matches"},
		{Entity: "STG_mutation_areas", Message: "dropped collection key"},
		{Entity: "STG_mutation_teams", Message: "   "},
	}
	got := formatMutationMessages(msgs, 8)
	want := "matches: swapped home/away teams for 3 matches; areas: dropped collection key"
	if got != want {
		t.Fatalf("formatted = %q, want %q", got, want)
	}

	many := make([]audit.MutationMessage, 0, 10)
	for i := 0; i < 10; i++ {
		many = append(many, audit.MutationMessage{
			Entity:  "STG_mutation_matches",
			Message: fmt.Sprintf("change %d", i),
		})
	}
	got = formatMutationMessages(many, 3)
	if !strings.HasSuffix(got, " (+7 more)") {
		t.Fatalf("overflow suffix missing: %q", got)
	}
}
