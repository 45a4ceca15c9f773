package snapshot

import (
	"reflect"
	"testing"
)

func kpiRow(comp, season int, points any) Row {
	return Row{
		"competition_id":   comp,
		"season_id":        season,
		"competition_name": "League",
		"points_total":     points,
	}
}

func TestDiffIdenticalCapturesIsEmpty(t *testing.T) {
	rows := []Row{kpiRow(1, 10, 42), kpiRow(2, 20, 30)}
	d := DiffRows("mart.v_competition_season_kpi", rows, rows, 0)
	if !d.Empty() {
		t.Fatalf("identical captures must diff empty: %+v", d)
	}
	if !d.KeySupported {
		t.Fatal("kpi view has a key")
	}
}

func TestDiffOrderIndependence(t *testing.T) {
	base := []Row{kpiRow(1, 10, 42), kpiRow(2, 20, 30)}
	iterA := []Row{kpiRow(2, 20, 31), kpiRow(1, 10, 42)}
	iterB := []Row{kpiRow(1, 10, 42), kpiRow(2, 20, 31)}

	dA := DiffRows("mart.v_competition_season_kpi", base, iterA, 0)
	dB := DiffRows("mart.v_competition_season_kpi", base, iterB, 0)
	if !reflect.DeepEqual(dA, dB) {
		t.Fatalf("diff must be order independent:\n%+v\n%+v", dA, dB)
	}
	if len(dA.Changed) != 1 {
		t.Fatalf("changed = %d, want 1", len(dA.Changed))
	}
}

func TestDiffAddedRemovedChanged(t *testing.T) {
	base := []Row{kpiRow(1, 10, 42), kpiRow(2, 20, 30)}
	iter := []Row{kpiRow(1, 10, 99), kpiRow(3, 30, 5)}

	d := DiffRows("mart.v_competition_season_kpi", base, iter, 0)
	if len(d.Added) != 1 || d.Added[0]["competition_id"] != 3 {
		t.Fatalf("added = %+v", d.Added)
	}
	if len(d.Removed) != 1 || d.Removed[0]["competition_id"] != 2 {
		t.Fatalf("removed = %+v", d.Removed)
	}
	if len(d.Changed) != 1 {
		t.Fatalf("changed = %+v", d.Changed)
	}
	changes := d.Changed[0].Changes
	if len(changes) != 1 || changes[0].Field != "points_total" {
		t.Fatalf("field changes = %+v", changes)
	}
	if changes[0].Before != 42 || changes[0].After != 99 {
		t.Fatalf("change values = %+v", changes[0])
	}
}

func TestDiffKeyFieldsExcludedFromChanges(t *testing.T) {
	base := []Row{kpiRow(1, 10, 42)}
	iter := []Row{{
		"competition_id":   1,
		"season_id":        10,
		"competition_name": "Renamed",
		"points_total":     42,
	}}
	d := DiffRows("mart.v_competition_season_kpi", base, iter, 0)
	if len(d.Changed) != 1 {
		t.Fatalf("changed = %+v", d.Changed)
	}
	for _, c := range d.Changed[0].Changes {
		if c.Field == "competition_id" || c.Field == "season_id" {
			t.Fatalf("key field %s must never appear in changes", c.Field)
		}
	}
}

func TestDiffSampleLimit(t *testing.T) {
	var iter []Row
	for i := 0; i < 10; i++ {
		iter = append(iter, kpiRow(100+i, 1, i))
	}
	d := DiffRows("mart.v_competition_season_kpi", nil, iter, 3)
	if len(d.Added) != 3 {
		t.Fatalf("added truncated to %d, want 3", len(d.Added))
	}
}

func TestDiffUnknownViewFallsBackToSetDifference(t *testing.T) {
	base := []Row{{"a": 1, "b": 2}, {"a": 3, "b": 4}}
	iter := []Row{{"a": 1, "b": 2}, {"a": 3, "b": 5}}

	d := DiffRows("mart.v_unknown", base, iter, 0)
	if d.KeySupported {
		t.Fatal("unknown view has no key")
	}
	if len(d.Changed) != 0 {
		t.Fatal("fallback diff never reports changed rows")
	}
	if len(d.Added) != 1 || len(d.Removed) != 1 {
		t.Fatalf("fallback diff = %+v", d)
	}
}

func TestKeyFields(t *testing.T) {
	got := KeyFields("MART.V_TEAM_SEASON_RESULTS")
	want := []string{"competition_id", "season_id", "team_id"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("key fields = %v", got)
	}
	if KeyFields("mart.v_unknown") != nil {
		t.Fatal("unknown view must have no key fields")
	}
}
