package registry

import (
	"strings"
	"testing"
)

func TestTransitionQueryIdempotentUpsert(t *testing.T) {
	if !strings.Contains(transitionQuery, "ON CONFLICT (layer, parent_run_id, run_id) DO UPDATE") {
		t.Fatalf("expected upsert conflict clause on the unique tuple")
	}
	if !strings.Contains(transitionQuery, "WHEN EXCLUDED.status = 'PROCESSING' THEN tech.run_status.attempts + 1") {
		t.Fatalf("expected attempts to increment only on PROCESSING")
	}
	if !strings.Contains(transitionQuery, "ELSE tech.run_status.attempts") {
		t.Fatalf("expected attempts to stay unchanged for non-PROCESSING transitions")
	}
}

func TestClaimQueryNonBlockingExclusive(t *testing.T) {
	if !strings.Contains(claimPendingQuery, "FOR UPDATE SKIP LOCKED") {
		t.Fatalf("expected non-blocking row-lock scan")
	}
	if !strings.Contains(claimPendingQuery, "status IN ('SUCCESS', 'PROCESSING')") {
		t.Fatalf("expected in-flight downstream rows to block a second claim")
	}
	if !strings.Contains(claimPendingQuery, "'NEW', 0, now()") {
		t.Fatalf("expected claimed rows to start in NEW with zero attempts")
	}
	if !strings.Contains(claimPendingQuery, "RETURNING parent_run_id") {
		t.Fatalf("expected the claim to report the claimed parents")
	}
}

func TestPurgeQueriesScopedToLayer(t *testing.T) {
	if !strings.Contains(purgeLayerQuery, "WHERE layer = $1") {
		t.Fatalf("expected layer predicate in purge query")
	}
	if !strings.Contains(purgeLayerRunsQuery, "run_id = ANY($2)") {
		t.Fatalf("expected run-id scoping in scoped purge query")
	}
}

func TestNewStoreNilDB(t *testing.T) {
	if NewStore(nil) != nil {
		t.Fatalf("expected nil store for nil db")
	}
}
