package valstore

import (
	"strings"
	"testing"
)

func TestFinishRunPreservesEarlierCounters(t *testing.T) {
	for _, col := range []string{"checks_total", "checks_failed", "report_path", "meta"} {
		if !strings.Contains(finishRunQuery, "COALESCE") || !strings.Contains(finishRunQuery, col) {
			t.Fatalf("expected COALESCE update for %s", col)
		}
	}
}

func TestStartRunReturnsID(t *testing.T) {
	if !strings.Contains(startRunQuery, "RETURNING validation_run_id") {
		t.Fatalf("expected start query to return the new id")
	}
}

func TestPurgeScopedQueryFiltersRunIDs(t *testing.T) {
	if !strings.Contains(purgeRunsScopedQuery, "run_id = ANY($3)") {
		t.Fatalf("expected scoped purge to filter by run-id set")
	}
	if !strings.Contains(purgeRunsQuery, "dag_id = $1") {
		t.Fatalf("expected purge to stay scoped to one dag")
	}
}

func TestEncodeMetaEmpty(t *testing.T) {
	v, err := encodeMeta(nil)
	if err != nil {
		t.Fatalf("encode nil meta: %v", err)
	}
	if v != nil {
		t.Fatalf("expected nil for empty meta, got %v", v)
	}
}
