package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// DefaultSampleLimit caps how many rows each diff bucket carries into the
// report.
const DefaultSampleLimit = 50

// FieldChange is one non-key column whose value moved between captures.
type FieldChange struct {
	Field  string `json:"field"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

// ChangedRow is one logical row present in both captures with differing
// content.
type ChangedRow struct {
	Key     string        `json:"key"`
	Changes []FieldChange `json:"changes"`
}

// Diff summarizes how an iteration capture deviates from the baseline.
// Without a usable key the comparison degrades to whole-row set difference
// and Changed stays empty.
type Diff struct {
	Added        []Row        `json:"added"`
	Removed      []Row        `json:"removed"`
	Changed      []ChangedRow `json:"changed"`
	KeySupported bool         `json:"key_supported"`
}

// Empty reports whether the captures are identical.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// DiffRows compares two captures of one view. The result is independent of
// input row order; sample buckets are truncated to sampleLimit and ordered
// by key string.
func DiffRows(view string, baseline, iteration []Row, sampleLimit int) Diff {
	if sampleLimit <= 0 {
		sampleLimit = DefaultSampleLimit
	}
	keyFields := KeyFields(view)
	if len(keyFields) == 0 {
		return setDiff(baseline, iteration, sampleLimit)
	}

	baseKeyed := keyRows(baseline, keyFields)
	iterKeyed := keyRows(iteration, keyFields)

	var addedKeys, removedKeys, commonKeys []string
	for key := range iterKeyed {
		if _, ok := baseKeyed[key]; ok {
			commonKeys = append(commonKeys, key)
		} else {
			addedKeys = append(addedKeys, key)
		}
	}
	for key := range baseKeyed {
		if _, ok := iterKeyed[key]; !ok {
			removedKeys = append(removedKeys, key)
		}
	}
	sort.Strings(addedKeys)
	sort.Strings(removedKeys)
	sort.Strings(commonKeys)

	out := Diff{KeySupported: true}
	for _, key := range truncate(addedKeys, sampleLimit) {
		out.Added = append(out.Added, iterKeyed[key])
	}
	for _, key := range truncate(removedKeys, sampleLimit) {
		out.Removed = append(out.Removed, baseKeyed[key])
	}

	keySet := make(map[string]struct{}, len(keyFields))
	for _, f := range keyFields {
		keySet[f] = struct{}{}
	}
	for _, key := range commonKeys {
		if len(out.Changed) >= sampleLimit {
			break
		}
		before, after := baseKeyed[key], iterKeyed[key]
		if stableRowJSON(before) == stableRowJSON(after) {
			continue
		}
		out.Changed = append(out.Changed, ChangedRow{
			Key:     key,
			Changes: fieldChanges(before, after, keySet),
		})
	}
	return out
}

func setDiff(baseline, iteration []Row, sampleLimit int) Diff {
	baseSet := make(map[string]Row, len(baseline))
	for _, row := range baseline {
		baseSet[stableRowJSON(row)] = row
	}
	iterSet := make(map[string]Row, len(iteration))
	for _, row := range iteration {
		iterSet[stableRowJSON(row)] = row
	}

	var added, removed []string
	for key := range iterSet {
		if _, ok := baseSet[key]; !ok {
			added = append(added, key)
		}
	}
	for key := range baseSet {
		if _, ok := iterSet[key]; !ok {
			removed = append(removed, key)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)

	out := Diff{}
	for _, key := range truncate(added, sampleLimit) {
		out.Added = append(out.Added, iterSet[key])
	}
	for _, key := range truncate(removed, sampleLimit) {
		out.Removed = append(out.Removed, baseSet[key])
	}
	return out
}

func fieldChanges(before, after Row, keyFields map[string]struct{}) []FieldChange {
	fields := make(map[string]struct{}, len(before)+len(after))
	for f := range before {
		fields[f] = struct{}{}
	}
	for f := range after {
		fields[f] = struct{}{}
	}
	names := make([]string, 0, len(fields))
	for f := range fields {
		if _, isKey := keyFields[f]; isKey {
			continue
		}
		names = append(names, f)
	}
	sort.Strings(names)

	var out []FieldChange
	for _, f := range names {
		b, a := before[f], after[f]
		if cellEqual(b, a) {
			continue
		}
		out = append(out, FieldChange{Field: f, Before: b, After: a})
	}
	return out
}

func keyRows(rows []Row, keyFields []string) map[string]Row {
	out := make(map[string]Row, len(rows))
	for _, row := range rows {
		out[rowKey(row, keyFields)] = row
	}
	return out
}

func rowKey(row Row, keyFields []string) string {
	parts := make([]string, 0, len(keyFields))
	for _, f := range keyFields {
		parts = append(parts, fmt.Sprint(row[f]))
	}
	return strings.Join(parts, "|")
}

// stableRowJSON canonicalizes a row for content comparison; map keys marshal
// in sorted order.
func stableRowJSON(row Row) string {
	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Sprintf("%v", row)
	}
	return string(raw)
}

func cellEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
	return string(ra) == string(rb)
}

func truncate(keys []string, limit int) []string {
	if len(keys) > limit {
		return keys[:limit]
	}
	return keys
}
