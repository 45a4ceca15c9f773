package postvalidate

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/goalline-labs/goalline-go/internal/config"
	"github.com/goalline-labs/goalline-go/internal/discovery"
	"github.com/goalline-labs/goalline-go/internal/domain"
	"github.com/goalline-labs/goalline-go/internal/validate"
	"github.com/goalline-labs/goalline-go/internal/valstore"
)

type fakeFinder struct{ targets []discovery.PostTarget }

func (f *fakeFinder) PostTargets(context.Context, discovery.PostParams) ([]discovery.PostTarget, error) {
	return f.targets, nil
}

type transitionRecord struct {
	runID  string
	layer  string
	status domain.RunStatus
}

type fakeRuns struct{ transitions []transitionRecord }

func (f *fakeRuns) Transition(_ context.Context, _, runID, _, layer string, status domain.RunStatus, _ string) error {
	f.transitions = append(f.transitions, transitionRecord{runID, layer, status})
	return nil
}

type fakeStore struct {
	runs     []valstore.RunParams
	finishes []valstore.FinishParams
	checks   []valstore.CheckResult
}

func (f *fakeStore) StartRun(_ context.Context, p valstore.RunParams) (int64, error) {
	f.runs = append(f.runs, p)
	return int64(len(f.runs)), nil
}

func (f *fakeStore) FinishRun(_ context.Context, p valstore.FinishParams) error {
	f.finishes = append(f.finishes, p)
	return nil
}

func (f *fakeStore) LogCheck(_ context.Context, c valstore.CheckResult) error {
	f.checks = append(f.checks, c)
	return nil
}

func passingCheck(context.Context, validate.Input) (*validate.Result, error) {
	return &validate.Result{}, nil
}

func failingCheck(context.Context, validate.Input) (*validate.Result, error) {
	r := &validate.Result{}
	r.Errorf("rows out of range")
	return r, nil
}

func brokenCheck(context.Context, validate.Input) (*validate.Result, error) {
	return nil, fmt.Errorf("relation does not exist")
}

func docWith(rules map[string]config.RuleSpec) *config.ValidationDoc {
	return &config.ValidationDoc{Layers: map[string]config.ValidationLayer{
		domain.LayerWarehouse: {Validations: rules},
	}}
}

func newFixture(t *testing.T, rules map[string]config.RuleSpec, checks map[string]validate.CheckFunc) (*Runner, *fakeRuns, *fakeStore) {
	t.Helper()
	reg := validate.NewRegistry()
	for name, fn := range checks {
		if err := reg.Register(domain.LayerWarehouse, name, fn); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	runs := &fakeRuns{}
	store := &fakeStore{}
	finder := &fakeFinder{targets: []discovery.PostTarget{{
		BaselineStgRunID: "base_stg",
		StgRunID:         "exp_stg_1",
		DdsRunID:         "exp_dds_1",
		Kind:             domain.KindExperiment,
	}}}
	return NewRunner(finder, runs, store, reg, stubDB{}, nil), runs, store
}

type stubDB struct{}

func (stubDB) ExecContext(context.Context, string, ...any) (sql.Result, error) { return nil, nil }
func (stubDB) QueryContext(context.Context, string, ...any) (*sql.Rows, error) { return nil, nil }
func (stubDB) QueryRowContext(context.Context, string, ...any) *sql.Row        { return nil }

func TestRunFailsTargetOnErrorSeverity(t *testing.T) {
	r, runs, store := newFixture(t,
		map[string]config.RuleSpec{
			"ok":  {Type: "fk"},
			"bad": {Type: "fk"},
		},
		map[string]validate.CheckFunc{
			"ok":  passingCheck,
			"bad": failingCheck,
		})

	results, err := r.Run(context.Background(), Params{
		DagID: "dag",
		Validations: docWith(map[string]config.RuleSpec{
			"ok":  {Type: "fk"},
			"bad": {Type: "fk"},
		}),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d", len(results))
	}
	res := results[0]
	if res.Status != domain.RunFailed || res.ChecksTotal != 2 || res.ChecksFailed != 1 {
		t.Fatalf("result = %+v", res)
	}

	final := runs.transitions[len(runs.transitions)-1]
	if final.layer != domain.LayerPost || final.status != domain.RunFailed {
		t.Fatalf("final transition = %+v", final)
	}
	if store.finishes[0].Status != "FAILED" {
		t.Fatalf("finish status = %s", store.finishes[0].Status)
	}
}

func TestWarningSeverityDoesNotFailTarget(t *testing.T) {
	r, runs, store := newFixture(t,
		nil,
		map[string]validate.CheckFunc{"soft": failingCheck})

	results, err := r.Run(context.Background(), Params{
		DagID: "dag",
		Validations: docWith(map[string]config.RuleSpec{
			"soft": {Type: "fk", Severity: "warning"},
		}),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[0].Status != domain.RunSuccess {
		t.Fatalf("status = %s, want SUCCESS", results[0].Status)
	}
	if store.checks[0].Status != domain.CheckWarn {
		t.Fatalf("check status = %s, want WARN", store.checks[0].Status)
	}
	final := runs.transitions[len(runs.transitions)-1]
	if final.status != domain.RunSuccess {
		t.Fatalf("final transition = %+v", final)
	}
}

func TestBrokenCheckCountsAsFailureAndContinues(t *testing.T) {
	r, _, store := newFixture(t,
		nil,
		map[string]validate.CheckFunc{
			"broken": brokenCheck,
			"ok":     passingCheck,
		})

	results, err := r.Run(context.Background(), Params{
		DagID: "dag",
		Validations: docWith(map[string]config.RuleSpec{
			"broken": {Type: "fk"},
			"ok":     {Type: "fk"},
		}),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := results[0]
	if res.ChecksTotal != 2 || res.ChecksFailed != 1 {
		t.Fatalf("result = %+v", res)
	}
	var sawError bool
	for _, c := range store.checks {
		if c.Status == domain.CheckError {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("broken check must record ERROR status")
	}
}
