package stagetools

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/goalline-labs/goalline-go/internal/config"
	"github.com/goalline-labs/goalline-go/internal/discovery"
	"github.com/goalline-labs/goalline-go/internal/domain"
)

type fakeFinder struct {
	targets []discovery.StageTarget
	params  discovery.StageParams
}

func (f *fakeFinder) StageTargets(_ context.Context, p discovery.StageParams) ([]discovery.StageTarget, error) {
	f.params = p
	return f.targets, nil
}

type fakePurger struct{ calls int }

func (p *fakePurger) Purge(context.Context, string, []string) error { p.calls++; return nil }

type fakeValPurger struct{ calls int }

func (p *fakeValPurger) Purge(context.Context, string, string, []string) error {
	p.calls++
	return nil
}

type fakeAdapter struct {
	name    string
	passes  int
	lastP   TargetParams
	reports []TargetReport
}

func (a *fakeAdapter) Name() string { return a.name }

func (a *fakeAdapter) RunTargets(_ context.Context, p TargetParams) ([]TargetReport, error) {
	a.passes++
	a.lastP = p
	return a.reports, nil
}

func toolsConfig(repeats int, onlyUnprocessed bool) *config.ToolsConfig {
	return &config.ToolsConfig{
		Baseline: config.ToolsBaseline{StgRunID: "base_stg"},
		Defaults: config.ToolsDefaults{
			OutputDir:          "/tmp/out",
			IncludeExperiments: true,
			OnlyUnprocessed:    onlyUnprocessed,
			Repeats:            repeats,
			ToolsByStage:       map[string][]string{"T": {"sql"}},
		},
	}
}

func stageTarget(runID string, kind domain.Kind) discovery.StageTarget {
	return discovery.StageTarget{Stage: domain.StageTransform, RunID: runID, ParentRunID: "base_stg", Kind: kind}
}

func TestRunStageToolSkipsDisabledTool(t *testing.T) {
	d := NewDriver(&fakeFinder{}, &fakePurger{}, &fakeValPurger{}, nil)
	d.Register(&fakeAdapter{name: "sql"})

	got, err := d.RunStageTool(context.Background(), SessionParams{
		Stage:  domain.StageExtract,
		Tool:   "sql",
		Config: toolsConfig(1, false),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Status != "SKIPPED" {
		t.Fatalf("status = %s, want SKIPPED", got.Status)
	}
}

func TestRunStageToolEmptyTargets(t *testing.T) {
	d := NewDriver(&fakeFinder{}, &fakePurger{}, &fakeValPurger{}, nil)
	d.Register(&fakeAdapter{name: "sql"})

	got, err := d.RunStageTool(context.Background(), SessionParams{
		Stage:  domain.StageTransform,
		Tool:   "sql",
		Config: toolsConfig(1, false),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got.Status != "EMPTY" {
		t.Fatalf("status = %s, want EMPTY", got.Status)
	}
}

func TestRunStageToolRepeatsPurgeAndRerun(t *testing.T) {
	finder := &fakeFinder{targets: []discovery.StageTarget{
		stageTarget("dds_base", domain.KindBaseline),
		stageTarget("exp_dds_1", domain.KindExperiment),
	}}
	registry := &fakePurger{}
	vals := &fakeValPurger{}
	adapter := &fakeAdapter{name: "sql", reports: []TargetReport{
		{RunID: "dds_base", Status: domain.RunSuccess},
		{RunID: "exp_dds_1", Status: domain.RunFailed},
	}}
	d := NewDriver(finder, registry, vals, nil)
	d.Register(adapter)

	got, err := d.RunStageTool(context.Background(), SessionParams{
		Stage:  domain.StageTransform,
		Tool:   "SQL",
		Config: toolsConfig(3, true),
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if adapter.passes != 3 {
		t.Fatalf("adapter passes = %d, want 3", adapter.passes)
	}
	if registry.calls != 1 || vals.calls != 1 {
		t.Fatalf("purge calls registry=%d valstore=%d, want 1 each", registry.calls, vals.calls)
	}
	// repeats must revisit every target, so the processed filter is off
	if finder.params.OnlyUnprocessed {
		t.Fatalf("only_unprocessed must be disabled when repeating")
	}
	if got.Success != 1 || got.Failed != 1 || got.Repeats != 3 {
		t.Fatalf("summary = %+v", got)
	}
	if adapter.lastP.Layer != "T_SQL" {
		t.Fatalf("layer = %s, want T_SQL", adapter.lastP.Layer)
	}
}

func TestBuildStageChecksPerStage(t *testing.T) {
	cases := []struct {
		stage domain.Stage
		want  int
		table string
	}{
		{domain.StageExtract, 4, "stg.raw_football_api"},
		{domain.StageTransform, 4, "dds.fact_match"},
		{domain.StageLoad, 3, "mart.v_competition_season_kpi"},
	}
	for _, c := range cases {
		checks := BuildStageChecks(c.stage, "run1")
		if len(checks) != c.want {
			t.Fatalf("stage %s: %d checks, want %d", c.stage, len(checks), c.want)
		}
		if !strings.Contains(checks[0].CountSQL, c.table) {
			t.Fatalf("stage %s first check does not touch %s", c.stage, c.table)
		}
		for _, check := range checks {
			if !strings.Contains(check.CountSQL, "'run1'") {
				t.Fatalf("check %s not scoped to the target run", check.Name)
			}
		}
	}
	if BuildStageChecks(domain.Stage("X"), "run1") != nil {
		t.Fatalf("unknown stage must yield no checks")
	}
}

func TestBuildConstraintChecksOnlyTransform(t *testing.T) {
	if got := BuildConstraintChecks(domain.StageExtract, "r"); got != nil {
		t.Fatalf("extract stage must have no constraint checks")
	}
	checks := BuildConstraintChecks(domain.StageTransform, "r")
	if len(checks) != 3 {
		t.Fatalf("constraint checks = %d, want 3", len(checks))
	}
	for _, c := range checks {
		if c.RuleGroup != "sql_constraint" {
			t.Fatalf("rule group = %s", c.RuleGroup)
		}
	}
}

func TestSQLQuoteEscapesSingleQuotes(t *testing.T) {
	checks := BuildStageChecks(domain.StageTransform, "o'brien")
	if !strings.Contains(checks[0].CountSQL, "'o''brien'") {
		t.Fatalf("run id quoting is broken:\n%s", checks[0].CountSQL)
	}
}

func TestBuildMetricsQuery(t *testing.T) {
	q, err := BuildMetricsQuery(domain.StageExtract, "run1")
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, col := range []string{"stg_schema_matches_key_missing", "stg_duplicate_match_id"} {
		if !strings.Contains(q, "AS "+col) {
			t.Fatalf("metrics query missing column %s", col)
		}
	}
	if _, err := BuildMetricsQuery(domain.Stage("X"), "run1"); err == nil {
		t.Fatalf("unknown stage must error")
	}
}

func TestResourceSummary(t *testing.T) {
	u0, s0 := 1.0, 0.5
	u1, s1 := 3.0, 1.0
	rss0, rss1, hwm := 1000, 2000, 2500
	start := ResourceSnapshot{WallTime: time.Unix(100, 0), CPUUserS: &u0, CPUSysS: &s0, RSSKB: &rss0}
	end := ResourceSnapshot{WallTime: time.Unix(110, 0), CPUUserS: &u1, CPUSysS: &s1, RSSKB: &rss1, HWMKB: &hwm}

	got := ResourceSummary(start, end)
	if got["wall_time_s"] != 10.0 {
		t.Fatalf("wall_time_s = %v", got["wall_time_s"])
	}
	if got["cpu_total_s"] != 2.5 {
		t.Fatalf("cpu_total_s = %v", got["cpu_total_s"])
	}
	if got["cpu_percent_avg"] != 25.0 {
		t.Fatalf("cpu_percent_avg = %v", got["cpu_percent_avg"])
	}
	if got["rss_hwm_kb"] != hwm {
		t.Fatalf("rss_hwm_kb = %v", got["rss_hwm_kb"])
	}

	empty := ResourceSummary(ResourceSnapshot{WallTime: time.Unix(0, 0)}, ResourceSnapshot{WallTime: time.Unix(0, 0)})
	if len(empty) != 0 {
		t.Fatalf("empty snapshots must summarize to nothing, got %v", empty)
	}
}
