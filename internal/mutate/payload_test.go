package mutate

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/goalline-labs/goalline-go/internal/audit"
	"github.com/goalline-labs/goalline-go/internal/config"
	"github.com/goalline-labs/goalline-go/internal/domain"
)

type trailRecorder struct {
	events []audit.Event
}

func (r *trailRecorder) Log(_ context.Context, e audit.Event) error {
	r.events = append(r.events, e)
	return nil
}

func matchesDoc(actions ...string) *config.MutationDoc {
	return &config.MutationDoc{
		Layers: map[string]config.MutationLayer{
			domain.LayerRaw: {
				Mutations: map[string]config.MutationEntity{
					"matches": {Enabled: true, Actions: actions},
				},
			},
		},
	}
}

func matchesPayload(n int) map[string]any {
	arr := make([]any, 0, n)
	for i := 0; i < n; i++ {
		arr = append(arr, map[string]any{
			"id":       1000 + i,
			"utcDate":  "2026-01-10T15:00:00Z",
			"matchday": 1,
			"homeTeam": map[string]any{"id": 10 + i, "name": fmt.Sprintf("Home %d", i)},
			"awayTeam": map[string]any{"id": 50 + i, "name": fmt.Sprintf("Away %d", i)},
		})
	}
	return map[string]any{"count": n, "matches": arr}
}

func TestMutateDisabledEntityIsUntouched(t *testing.T) {
	rec := &trailRecorder{}
	inj := NewPayloadInjector(rec)
	doc := &config.MutationDoc{}

	payload := matchesPayload(3)
	out, mutated, err := inj.Mutate(context.Background(), doc, "dag", "run_1", domain.LayerRaw, "matches", payload)
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if mutated {
		t.Fatal("nothing is configured, nothing may mutate")
	}
	if !reflect.DeepEqual(out, payload) {
		t.Fatal("payload must come back unchanged")
	}
	if len(rec.events) != 0 {
		t.Fatalf("no audit event expected, got %d", len(rec.events))
	}
}

func TestMutateDoesNotTouchInput(t *testing.T) {
	rec := &trailRecorder{}
	inj := NewPayloadInjector(rec)
	doc := matchesDoc(config.ActionCorruptID)

	payload := matchesPayload(2)
	out, mutated, err := inj.Mutate(context.Background(), doc, "dag", "run_1", domain.LayerRaw, "matches", payload)
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if !mutated {
		t.Fatal("expected corrupt_id to fire")
	}
	orig := payload["matches"].([]any)[0].(map[string]any)
	if orig["id"] != 1000 {
		t.Fatalf("input payload was modified: id=%v", orig["id"])
	}
	got := out["matches"].([]any)[0].(map[string]any)
	if got["id"] != "abc" {
		t.Fatalf("corrupt_id result = %v", got["id"])
	}
}

func TestMutateAggregatesOneAuditEvent(t *testing.T) {
	rec := &trailRecorder{}
	inj := NewPayloadInjector(rec)
	doc := matchesDoc(config.ActionDuplicateFirst, config.ActionOutOfRange)

	_, mutated, err := inj.Mutate(context.Background(), doc, "dag", "run_1", domain.LayerRaw, "matches", matchesPayload(2))
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if !mutated {
		t.Fatal("expected mutations to fire")
	}
	if len(rec.events) != 1 {
		t.Fatalf("expected one aggregated event, got %d", len(rec.events))
	}
	e := rec.events[0]
	if e.Status != domain.AuditMutated {
		t.Fatalf("status = %s", e.Status)
	}
	if e.Entity != "STG_mutation_matches" {
		t.Fatalf("entity = %s", e.Entity)
	}
	if !strings.Contains(e.Message, "duplicated first element") ||
		!strings.Contains(e.Message, "out-of-range") {
		t.Fatalf("message missing action descriptions: %s", e.Message)
	}
}

func TestMutateDropCollectionKey(t *testing.T) {
	inj := NewPayloadInjector(&trailRecorder{})
	doc := matchesDoc(config.ActionDropCollectionKey)

	out, mutated, err := inj.Mutate(context.Background(), doc, "dag", "run_1", domain.LayerRaw, "matches", matchesPayload(1))
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if !mutated {
		t.Fatal("expected key drop to fire")
	}
	if _, ok := out["matches"]; ok {
		t.Fatal("collection key should be gone")
	}
	if _, ok := out["count"]; !ok {
		t.Fatal("sibling keys must survive")
	}
}

func TestMutateNoActionApplicableNoEvent(t *testing.T) {
	rec := &trailRecorder{}
	inj := NewPayloadInjector(rec)
	doc := matchesDoc(config.ActionDuplicateFirst)

	payload := map[string]any{"count": 0, "matches": []any{}}
	out, mutated, err := inj.Mutate(context.Background(), doc, "dag", "run_1", domain.LayerRaw, "matches", payload)
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if mutated {
		t.Fatal("empty collection, nothing may fire")
	}
	if !reflect.DeepEqual(out, payload) || len(rec.events) != 0 {
		t.Fatal("no-op mutation must leave payload and audit trail alone")
	}
}

func TestSwapTeamsDeterministic(t *testing.T) {
	inj := NewPayloadInjector(&trailRecorder{})
	doc := matchesDoc(config.ActionSwapTeams)

	first, _, err := inj.Mutate(context.Background(), doc, "dag", "run_7", domain.LayerRaw, "matches", matchesPayload(20))
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	second, _, err := inj.Mutate(context.Background(), doc, "dag", "run_7", domain.LayerRaw, "matches", matchesPayload(20))
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatal("same run must swap the same matches")
	}

	swapped := 0
	arr := first["matches"].([]any)
	for i, raw := range arr {
		match := raw.(map[string]any)
		home := match["homeTeam"].(map[string]any)
		if home["id"] == 50+i {
			swapped++
		}
	}
	if swapped != defaultSwapSampleCount {
		t.Fatalf("swapped %d matches, want %d", swapped, defaultSwapSampleCount)
	}
}

func TestSwapTeamsSampleCountFromConfig(t *testing.T) {
	inj := NewPayloadInjector(&trailRecorder{})
	doc := matchesDoc(config.ActionSwapTeams)
	layer := doc.Layers[domain.LayerRaw]
	mc := layer.Mutations["matches"]
	mc.SwapSampleCount = 2
	layer.Mutations["matches"] = mc

	out, _, err := inj.Mutate(context.Background(), doc, "dag", "run_7", domain.LayerRaw, "matches", matchesPayload(10))
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	swapped := 0
	for i, raw := range out["matches"].([]any) {
		match := raw.(map[string]any)
		if match["homeTeam"].(map[string]any)["id"] == 50+i {
			swapped++
		}
	}
	if swapped != 2 {
		t.Fatalf("swapped %d matches, want 2", swapped)
	}
}

func TestDropRequiredRemovesFirstPresentField(t *testing.T) {
	inj := NewPayloadInjector(&trailRecorder{})
	doc := matchesDoc(config.ActionDropRequired)

	out, mutated, err := inj.Mutate(context.Background(), doc, "dag", "run_1", domain.LayerRaw, "matches", matchesPayload(1))
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if !mutated {
		t.Fatal("expected drop_required to fire")
	}
	first := out["matches"].([]any)[0].(map[string]any)
	if _, ok := first["id"]; ok {
		t.Fatal("id should have been removed first")
	}
	if _, ok := first["utcDate"]; !ok {
		t.Fatal("only one field may be dropped")
	}
}

func TestSeedStableAndFieldSensitive(t *testing.T) {
	a := Seed("run_1", domain.LayerRaw, "matches", config.ActionCorruptID)
	b := Seed("run_1", domain.LayerRaw, "matches", config.ActionCorruptID)
	if a != b {
		t.Fatal("seed must be stable")
	}
	if a == Seed("run_2", domain.LayerRaw, "matches", config.ActionCorruptID) {
		t.Fatal("seed must vary with run id")
	}
	if a == Seed("run_1", domain.LayerRaw, "matches", config.ActionSwapTeams) {
		t.Fatal("seed must vary with action")
	}
}
