package mutate

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/goalline-labs/goalline-go/internal/audit"
	"github.com/goalline-labs/goalline-go/internal/config"
	"github.com/goalline-labs/goalline-go/internal/domain"
)

const defaultSwapSampleCount = 5

// requiredFields are probed in order by the drop_required action; the first
// one present on the element is removed.
var requiredFields = []string{"id", "name", "utcDate"}

// AuditLogger is the slice of the audit trail the injector needs.
type AuditLogger interface {
	Log(ctx context.Context, e audit.Event) error
}

// PayloadInjector applies configured payload mutations to decoded API
// payloads before they are persisted.
type PayloadInjector struct {
	trail AuditLogger
}

func NewPayloadInjector(trail AuditLogger) *PayloadInjector {
	return &PayloadInjector{trail: trail}
}

// Mutate applies the enabled actions for (layer, entity) to payload. The
// input is never modified: when at least one action fires the returned
// payload is a mutated deep copy and a single MUTATED audit event aggregates
// every action description; otherwise the original payload comes back
// untouched and no event is written.
func (m *PayloadInjector) Mutate(ctx context.Context, doc *config.MutationDoc, dagID, runID, layer, entity string, payload map[string]any) (map[string]any, bool, error) {
	mc, ok := doc.Entity(layer, entity)
	if !ok || !mc.Enabled || len(mc.Actions) == 0 {
		return payload, false, nil
	}

	mutated := clonePayload(payload)
	var performed []string
	for _, action := range mc.Actions {
		rng := rand.New(rand.NewSource(Seed(runID, layer, entity, action)))
		desc := applyAction(mutated, entity, action, mc, rng)
		if desc != "" {
			performed = append(performed, desc)
		}
	}
	if len(performed) == 0 {
		return payload, false, nil
	}

	if m != nil && m.trail != nil && dagID != "" && runID != "" {
		err := m.trail.Log(ctx, audit.Event{
			DagID:   dagID,
			RunID:   runID,
			Layer:   layer,
			Entity:  fmt.Sprintf("%s_mutation_%s", layer, entity),
			Status:  domain.AuditMutated,
			Message: strings.Join(performed, "; "),
		})
		if err != nil {
			return payload, false, fmt.Errorf("audit mutation: %w", err)
		}
	}
	return mutated, true, nil
}

// applyAction mutates payload in place and returns a human-readable
// description, or "" when the action found nothing to change.
func applyAction(payload map[string]any, entity, action string, mc config.MutationEntity, rng *rand.Rand) string {
	if action == config.ActionDropCollectionKey {
		if _, ok := payload[entity]; ok {
			delete(payload, entity)
			return fmt.Sprintf("%s: removed key %q", entity, entity)
		}
		return ""
	}

	arr, ok := payload[entity].([]any)
	if !ok || len(arr) == 0 {
		return ""
	}

	switch action {
	case config.ActionDuplicateFirst:
		payload[entity] = append(arr, cloneValue(arr[0]))
		return fmt.Sprintf("%s: duplicated first element", entity)

	case config.ActionDropRequired:
		first, ok := arr[0].(map[string]any)
		if !ok {
			return ""
		}
		for _, field := range requiredFields {
			if _, present := first[field]; present {
				delete(first, field)
				return fmt.Sprintf("%s: removed field %q from first element", entity, field)
			}
		}
		return ""

	case config.ActionCorruptID:
		first, ok := arr[0].(map[string]any)
		if !ok {
			return ""
		}
		if _, present := first["id"]; !present {
			return ""
		}
		first["id"] = "abc"
		return fmt.Sprintf("%s: corrupted id to string", entity)

	case config.ActionOutOfRange:
		if entity != "matches" {
			return ""
		}
		first, ok := arr[0].(map[string]any)
		if !ok {
			return ""
		}
		first["matchday"] = "999"
		return fmt.Sprintf("%s: set matchday to out-of-range value", entity)

	case config.ActionSwapTeams:
		if entity != "matches" {
			return ""
		}
		return swapTeams(arr, mc.SwapSampleCount, rng)
	}
	return ""
}

// swapTeams exchanges home and away on a deterministic random sample of
// matches and names every swapped pair in the description.
func swapTeams(matches []any, sampleCount int, rng *rand.Rand) string {
	count := sampleCount
	if count <= 0 {
		count = defaultSwapSampleCount
	}
	if count > len(matches) {
		count = len(matches)
	}

	indexes := rng.Perm(len(matches))[:count]
	sort.Ints(indexes)

	var swapped []string
	for _, i := range indexes {
		match, ok := matches[i].(map[string]any)
		if !ok {
			continue
		}
		home, homeOK := match["homeTeam"].(map[string]any)
		away, awayOK := match["awayTeam"].(map[string]any)
		if !homeOK || !awayOK {
			continue
		}
		match["homeTeam"], match["awayTeam"] = away, home

		desc := fmt.Sprintf("index=%d", i)
		if id, ok := match["id"]; ok && id != nil {
			desc = fmt.Sprintf("id=%v", id)
		}
		homeID, awayID := home["id"], away["id"]
		switch {
		case homeID != nil && awayID != nil:
			desc += fmt.Sprintf(" (%v<->%v)", homeID, awayID)
		case home["name"] != nil && away["name"] != nil:
			desc += fmt.Sprintf(" (%v<->%v)", home["name"], away["name"])
		}
		swapped = append(swapped, desc)
	}
	if len(swapped) == 0 {
		return ""
	}
	return fmt.Sprintf("matches: swapped home/away teams for %d random matches: %s",
		len(swapped), strings.Join(swapped, ", "))
}

func clonePayload(payload map[string]any) map[string]any {
	out, _ := cloneValue(payload).(map[string]any)
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
