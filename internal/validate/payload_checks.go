package validate

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// fieldSpec describes one element field a schema check verifies when the
// field is present. Required fields must also be present.
type fieldSpec struct {
	name     string
	kind     string
	required bool
	nullable bool
}

// entitySpec drives the generated payload checks for one API collection.
type entitySpec struct {
	name        string
	fields      []fieldSpec
	idOf        func(elem map[string]any) (any, bool)
	consistency func(elems []map[string]any, res *Result)
}

func scalarID(elem map[string]any) (any, bool) {
	id, ok := elem["id"]
	return id, ok
}

var payloadEntities = []entitySpec{
	{
		name: "areas",
		fields: []fieldSpec{
			{name: "id", kind: "integer", required: true},
			{name: "name", kind: "string", required: true},
			{name: "countryCode", kind: "string", nullable: true},
			{name: "parentAreaId", kind: "integer", nullable: true},
		},
		idOf: scalarID,
	},
	{
		name: "competitions",
		fields: []fieldSpec{
			{name: "id", kind: "integer", required: true},
			{name: "name", kind: "string", required: true},
			{name: "code", kind: "string", nullable: true},
			{name: "type", kind: "string", nullable: true},
			{name: "currentSeason", kind: "object", nullable: true},
		},
		idOf:        scalarID,
		consistency: competitionsConsistency,
	},
	{
		name: "teams",
		fields: []fieldSpec{
			{name: "id", kind: "integer", required: true},
			{name: "name", kind: "string", required: true},
			{name: "shortName", kind: "string", nullable: true},
			{name: "tla", kind: "string", nullable: true},
			{name: "founded", kind: "integer", nullable: true},
		},
		idOf:        scalarID,
		consistency: teamsConsistency,
	},
	{
		name: "scorers",
		fields: []fieldSpec{
			{name: "player", kind: "object", required: true},
			{name: "team", kind: "object", nullable: true},
			{name: "goals", kind: "integer", nullable: true},
		},
		idOf: func(elem map[string]any) (any, bool) {
			player, ok := elem["player"].(map[string]any)
			if !ok {
				return nil, false
			}
			id, ok := player["id"]
			return id, ok
		},
		consistency: scorersConsistency,
	},
	{
		name: "matches",
		fields: []fieldSpec{
			{name: "id", kind: "integer", required: true},
			{name: "utcDate", kind: "string", required: true},
			{name: "status", kind: "string", required: true},
			{name: "homeTeam", kind: "object", required: true},
			{name: "awayTeam", kind: "object", required: true},
			{name: "competition", kind: "object", required: true},
			{name: "season", kind: "object", required: true},
			{name: "matchday", kind: "integer", nullable: true},
			{name: "stage", kind: "string", nullable: true},
		},
		idOf:        scalarID,
		consistency: matchesConsistency,
	},
	{
		name: "standings",
		fields: []fieldSpec{
			{name: "stage", kind: "string", required: true},
			{name: "type", kind: "string", required: true},
			{name: "table", kind: "array", required: true},
		},
		idOf: func(elem map[string]any) (any, bool) {
			stage, _ := elem["stage"].(string)
			typ, _ := elem["type"].(string)
			if stage == "" && typ == "" {
				return nil, false
			}
			return stage + "/" + typ, true
		},
		consistency: standingsConsistency,
	},
}

func schemaCheck(spec entitySpec) CheckFunc {
	return func(_ context.Context, in Input) (*Result, error) {
		res := &Result{}
		elems, ok := collection(in.Payload, spec.name)
		if !ok {
			res.Errorf("Field %q is missing or not a list.", spec.name)
			return res, nil
		}
		if len(elems) == 0 {
			res.Errorf("Schema violation: %q must contain at least one element", spec.name)
		}
		for i, elem := range elems {
			for _, f := range spec.fields {
				v, present := elem[f.name]
				if !present {
					if f.required {
						res.Errorf("Schema violation: element %d missing required field %q", i, f.name)
					}
					continue
				}
				if v == nil {
					if !f.nullable {
						res.Errorf("Schema violation: element %d field %q is null", i, f.name)
					}
					continue
				}
				if !kindMatches(v, f.kind) {
					res.Errorf("Schema violation: element %d field %q is not %s", i, f.name, f.kind)
				}
			}
		}
		if spec.idOf != nil {
			if dup := duplicateIDs(elems, spec.idOf); len(dup) > 0 {
				res.Warnf("Duplicate %s ids detected: %v", spec.name, dup)
			}
		}
		res.Infof("%s_count: %d", spec.name, len(elems))
		return res, nil
	}
}

func completenessCheck(spec entitySpec) CheckFunc {
	return func(_ context.Context, in Input) (*Result, error) {
		res := &Result{}
		elems, ok := collection(in.Payload, spec.name)
		if !ok || len(elems) == 0 {
			res.Errorf("%s list is missing or empty.", spec.name)
			return res, nil
		}
		if count, ok := intValue(in.Payload["count"]); ok && count != len(elems) {
			res.Warnf("%s count mismatch: count=%d, actual=%d", spec.name, count, len(elems))
		}
		res.Infof("%s_actual_count: %d", spec.name, len(elems))
		return res, nil
	}
}

func uniquenessCheck(spec entitySpec) CheckFunc {
	return func(_ context.Context, in Input) (*Result, error) {
		res := &Result{}
		elems, ok := collection(in.Payload, spec.name)
		if !ok {
			res.Warnf("%s payload missing or not a list; skipped uniqueness.", spec.name)
			return res, nil
		}
		dup := duplicateIDs(elems, spec.idOf)
		if len(dup) > 0 {
			res.Errorf("Duplicate %s ids: %v", spec.name, dup)
		}
		res.Infof("%s_ids_checked: %d", spec.name, len(elems))
		return res, nil
	}
}

func consistencyCheck(spec entitySpec) CheckFunc {
	return func(_ context.Context, in Input) (*Result, error) {
		res := &Result{}
		elems, ok := collection(in.Payload, spec.name)
		if !ok {
			res.Warnf("%s payload missing or not a list; skipped consistency.", spec.name)
			return res, nil
		}
		spec.consistency(elems, res)
		res.Infof("%s_checked: %d", spec.name, len(elems))
		return res, nil
	}
}

func matchesConsistency(elems []map[string]any, res *Result) {
	for _, m := range elems {
		id := m["id"]
		var seasonStart, seasonEnd time.Time
		if season, ok := m["season"].(map[string]any); ok {
			seasonStart = parseDate(season["startDate"])
			seasonEnd = parseDate(season["endDate"])
			if !seasonStart.IsZero() && !seasonEnd.IsZero() && seasonStart.After(seasonEnd) {
				res.Errorf("Match %v: season startDate > endDate", id)
			}
		}
		if ts := parseTimestamp(m["utcDate"]); !ts.IsZero() && !seasonStart.IsZero() && !seasonEnd.IsZero() {
			day := ts.Truncate(24 * time.Hour)
			if day.Before(seasonStart) || day.After(seasonEnd) {
				res.Warnf("Match %v: utcDate outside season range", id)
			}
		}
		homeID := teamID(m["homeTeam"])
		awayID := teamID(m["awayTeam"])
		if homeID != nil && homeID == awayID {
			res.Errorf("Match %v: homeTeam equals awayTeam", id)
		}
	}
}

func competitionsConsistency(elems []map[string]any, res *Result) {
	for _, c := range elems {
		season, ok := c["currentSeason"].(map[string]any)
		if !ok {
			continue
		}
		start := parseDate(season["startDate"])
		end := parseDate(season["endDate"])
		if !start.IsZero() && !end.IsZero() && start.After(end) {
			res.Errorf("Competition %v: currentSeason startDate > endDate", c["id"])
		}
	}
}

func teamsConsistency(elems []map[string]any, res *Result) {
	for _, t := range elems {
		if name, ok := t["name"].(string); ok && name == "" {
			res.Errorf("Team %v: empty name", t["id"])
		}
		if founded, ok := intValue(t["founded"]); ok && (founded < 1800 || founded > time.Now().Year()) {
			res.Warnf("Team %v: implausible founding year %d", t["id"], founded)
		}
	}
}

func scorersConsistency(elems []map[string]any, res *Result) {
	for _, s := range elems {
		player, _ := s["player"].(map[string]any)
		var id any
		if player != nil {
			id = player["id"]
		}
		if goals, ok := intValue(s["goals"]); ok && goals < 0 {
			res.Errorf("Scorer %v: negative goal count %d", id, goals)
		}
		if _, ok := s["team"].(map[string]any); !ok {
			res.Warnf("Scorer %v: missing team", id)
		}
	}
}

func standingsConsistency(elems []map[string]any, res *Result) {
	for _, group := range elems {
		table, ok := group["table"].([]any)
		if !ok {
			continue
		}
		positions := make([]int, 0, len(table))
		for _, raw := range table {
			row, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if points, ok := intValue(row["points"]); ok && points < 0 {
				res.Errorf("Standing %v/%v: negative points", group["stage"], group["type"])
			}
			if pos, ok := intValue(row["position"]); ok {
				positions = append(positions, pos)
			}
		}
		sort.Ints(positions)
		for i, pos := range positions {
			if pos != i+1 {
				res.Warnf("Standing %v/%v: positions are not contiguous", group["stage"], group["type"])
				break
			}
		}
	}
}

func collection(payload map[string]any, key string) ([]map[string]any, bool) {
	raw, ok := payload[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if elem, ok := v.(map[string]any); ok {
			out = append(out, elem)
		}
	}
	return out, true
}

func duplicateIDs(elems []map[string]any, idOf func(map[string]any) (any, bool)) []string {
	if idOf == nil {
		return nil
	}
	seen := make(map[any]struct{}, len(elems))
	dup := make(map[any]struct{})
	for _, elem := range elems {
		id, ok := idOf(elem)
		if !ok || id == nil {
			continue
		}
		if _, repeated := seen[id]; repeated {
			dup[id] = struct{}{}
		}
		seen[id] = struct{}{}
	}
	if len(dup) == 0 {
		return nil
	}
	out := make([]string, 0, len(dup))
	for id := range dup {
		out = append(out, fmt.Sprint(id))
	}
	sort.Strings(out)
	return out
}

func kindMatches(v any, kind string) bool {
	switch kind {
	case "integer":
		_, ok := intValue(v)
		return ok
	case "string":
		_, ok := v.(string)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	}
	return false
}

// intValue accepts the numeric shapes JSON decoding and tests produce.
func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}

func teamID(v any) any {
	team, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return team["id"]
}

func parseDate(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimestamp(v any) time.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
