package audit

import (
	"strings"
	"testing"

	"github.com/goalline-labs/goalline-go/internal/domain"
)

func TestInsertEventQueryShape(t *testing.T) {
	if !strings.Contains(insertEventQuery, "CASE WHEN $6 = 'SUCCESS' THEN $8::int ELSE NULL END") {
		t.Fatalf("expected rows_processed to persist only on SUCCESS")
	}
	if !strings.Contains(insertEventQuery, "WHEN $6 IN ('SUCCESS','FAILED','ENDED') THEN now()") {
		t.Fatalf("expected finished_at to default for terminal statuses")
	}
	if !strings.Contains(insertEventQuery, "COALESCE($9, now())") {
		t.Fatalf("expected started_at to default to now")
	}
}

func TestEventValidate(t *testing.T) {
	e := Event{RunID: "r1", Layer: domain.LayerRaw, Entity: "matches", Status: domain.AuditStarted}
	if err := e.Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	cases := []Event{
		{Layer: domain.LayerRaw, Entity: "matches", Status: domain.AuditStarted},
		{RunID: "r1", Entity: "matches", Status: domain.AuditStarted},
		{RunID: "r1", Layer: domain.LayerRaw, Status: domain.AuditStarted},
		{RunID: "r1", Layer: domain.LayerRaw, Entity: "matches"},
	}
	for i, c := range cases {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error", i)
		}
	}
}

func TestSuiteDurationsQueryFiltersCompletedEvents(t *testing.T) {
	if !strings.Contains(suiteDurationsQuery, "status IN ('SUCCESS','FAILED')") {
		t.Fatalf("expected only completed events in timing aggregation")
	}
	if !strings.Contains(suiteDurationsQuery, "finished_at IS NOT NULL") {
		t.Fatalf("expected open intervals to be excluded")
	}
}
