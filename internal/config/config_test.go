package config

import (
	"strings"
	"testing"
)

const mutationYAML = `
layers:
  STG:
    mutations:
      matches:
        enabled: true
        actions: [drop_collection_key, corrupt_id]
      teams:
        enabled: false
        actions: [duplicate_first]
      standings:
        enabled: true
        actions: [swap_teams]
        swap_sample_count: 3
    action_descriptions:
      corrupt_id: "replace entity id with a negative value"
`

const validationYAML = `
layers:
  STG:
    suites:
      matches_schema:
        entity: stg_validation_matches
        validations: [matches_required_fields, matches_unique_ids]
    validations:
      matches_required_fields:
        severity: error
        type: schema
        entity: matches
      matches_unique_ids:
        enabled: false
        severity: warning
        type: uniqueness
        entity: matches
`

func TestParseMutationDocEnabledOrder(t *testing.T) {
	doc, err := ParseMutationDoc([]byte(mutationYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := doc.Enabled("STG")
	want := []string{"matches", "standings"}
	if len(got) != len(want) {
		t.Fatalf("enabled = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("enabled = %v, want %v", got, want)
		}
	}
}

func TestParseMutationDocRejectsUnknownAction(t *testing.T) {
	bad := strings.Replace(mutationYAML, "corrupt_id]", "explode]", 1)
	if _, err := ParseMutationDoc([]byte(bad)); err == nil {
		t.Fatal("expected unknown action to be rejected")
	}
}

func TestParseMutationDocRejectsUnknownField(t *testing.T) {
	bad := mutationYAML + "\nextras: true\n"
	if _, err := ParseMutationDoc([]byte(bad)); err == nil {
		t.Fatal("expected unknown top-level field to be rejected")
	}
}

func TestWithOnlyDisablesEverythingElse(t *testing.T) {
	doc, err := ParseMutationDoc([]byte(mutationYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	scoped := doc.WithOnly("STG", map[string][]string{
		"teams": {ActionDropRequired},
	})

	got := scoped.Enabled("STG")
	if len(got) != 1 || got[0] != "teams" {
		t.Fatalf("enabled after WithOnly = %v, want [teams]", got)
	}
	mc, ok := scoped.Entity("STG", "teams")
	if !ok || len(mc.Actions) != 1 || mc.Actions[0] != ActionDropRequired {
		t.Fatalf("teams actions = %v, want [%s]", mc.Actions, ActionDropRequired)
	}

	// the base document is untouched
	base := doc.Enabled("STG")
	if len(base) != 2 {
		t.Fatalf("base enabled mutated to %v", base)
	}
}

func TestParseValidationDocRuleDefaults(t *testing.T) {
	doc, err := ParseValidationDoc([]byte(validationYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rule, ok := doc.Rule("STG", "matches_required_fields")
	if !ok {
		t.Fatal("rule not found")
	}
	if !rule.IsEnabled() {
		t.Fatal("rules default to enabled when the flag is omitted")
	}
	disabled, _ := doc.Rule("STG", "matches_unique_ids")
	if disabled.IsEnabled() {
		t.Fatal("explicit enabled: false must stick")
	}
}

func TestParseValidationDocRejectsDanglingSuiteRef(t *testing.T) {
	bad := strings.Replace(validationYAML, "matches_unique_ids]", "no_such_rule]", 1)
	if _, err := ParseValidationDoc([]byte(bad)); err == nil {
		t.Fatal("expected dangling suite reference to be rejected")
	}
}

func TestWithOverridesIsScopedCopy(t *testing.T) {
	doc, err := ParseValidationDoc([]byte(validationYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	scoped := doc.WithOverrides("STG", map[string]bool{
		"matches_required_fields": false,
		"matches_unique_ids":      true,
	})

	names := scoped.EnabledNames("STG")
	if len(names) != 1 || names[0] != "matches_unique_ids" {
		t.Fatalf("enabled after overrides = %v", names)
	}
	if base := doc.EnabledNames("STG"); len(base) != 1 || base[0] != "matches_required_fields" {
		t.Fatalf("base doc mutated: %v", base)
	}
}

func TestParseExperimentConfigValidatesKinds(t *testing.T) {
	good := []byte(`
name: winter_quality
baseline:
  stg_run_id: run_2026_01_10
  snapshot_views: [mart.v_competition_season_kpi]
iterations:
  - name: clean
    kind: snapshot
  - name: broken_matches
    kind: stg_mutation
    stg_mutations_enable:
      matches: [drop_required]
`)
	cfg, err := ParseExperimentConfig(good)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Iterations) != 2 {
		t.Fatalf("iterations = %d", len(cfg.Iterations))
	}

	bad := []byte(`
name: winter_quality
baseline:
  stg_run_id: run_2026_01_10
iterations:
  - name: oops
    kind: chaos
`)
	if _, err := ParseExperimentConfig(bad); err == nil {
		t.Fatal("expected unknown iteration kind to be rejected")
	}
}

func TestExperimentMutationKindsRequireEnables(t *testing.T) {
	raw := []byte(`
name: winter_quality
baseline:
  stg_run_id: run_2026_01_10
iterations:
  - name: broken
    kind: stg_mutation
`)
	if _, err := ParseExperimentConfig(raw); err == nil {
		t.Fatal("expected stg_mutation without enables to be rejected")
	}
}

func TestSnapshotViewsFallBackToBaseline(t *testing.T) {
	cfg := &ExperimentConfig{
		Baseline: ExperimentBaseline{SnapshotViews: []string{"mart.v_team_season_results"}},
	}
	views := cfg.SnapshotViewsFor(Iteration{})
	if len(views) != 1 || views[0] != "mart.v_team_season_results" {
		t.Fatalf("views = %v", views)
	}
	views = cfg.SnapshotViewsFor(Iteration{SnapshotViews: []string{"mart.v_competition_season_kpi"}})
	if len(views) != 1 || views[0] != "mart.v_competition_season_kpi" {
		t.Fatalf("views = %v", views)
	}
}

func TestParseToolsConfigStageNames(t *testing.T) {
	raw := []byte(`
name: stage_tools
baseline:
  stg_run_id: run_2026_01_10
defaults:
  only_unprocessed: true
  tools_by_stage:
    E: [sql]
    T: [sql]
`)
	cfg, err := ParseToolsConfig(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tools := cfg.ToolsFor("E"); len(tools) != 1 || tools[0] != "sql" {
		t.Fatalf("tools for E = %v", tools)
	}

	bad := strings.Replace(string(raw), "E:", "X:", 1)
	if _, err := ParseToolsConfig([]byte(bad)); err == nil {
		t.Fatal("expected unknown stage to be rejected")
	}
}

func TestScopePushPop(t *testing.T) {
	base, err := ParseMutationDoc([]byte(mutationYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	scope := NewScope(Bundle{StgMutations: base})

	scope.Push(func(b *Bundle) {
		b.StgMutations = base.WithOnly("STG", map[string][]string{"teams": nil})
	})
	if got := scope.Current().StgMutations.Enabled("STG"); len(got) != 1 || got[0] != "teams" {
		t.Fatalf("override not visible: %v", got)
	}
	if scope.Depth() != 1 {
		t.Fatalf("depth = %d", scope.Depth())
	}

	if err := scope.Pop(); err != nil {
		t.Fatalf("pop: %v", err)
	}
	if got := scope.Current().StgMutations.Enabled("STG"); len(got) != 2 {
		t.Fatalf("base bundle not restored: %v", got)
	}
	if err := scope.Pop(); err == nil {
		t.Fatal("expected popping the base bundle to fail")
	}
}
