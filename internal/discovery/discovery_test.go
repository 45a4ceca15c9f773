package discovery

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/goalline-labs/goalline-go/internal/domain"
)

func TestDedupeFirstWins(t *testing.T) {
	targets := []StageTarget{
		{Stage: domain.StageTransform, RunID: "exp_a", Kind: domain.KindBaseline},
		{Stage: domain.StageTransform, RunID: "exp_b", Kind: domain.KindExperiment},
		{Stage: domain.StageTransform, RunID: "exp_a", Kind: domain.KindExperiment},
		{Stage: domain.StageLoad, RunID: "exp_a", Kind: domain.KindExperiment},
	}
	out := Dedupe(targets)
	if len(out) != 3 {
		t.Fatalf("deduped to %d targets, want 3", len(out))
	}
	if out[0].Kind != domain.KindBaseline {
		t.Fatal("first occurrence must win")
	}
	if out[2].Stage != domain.StageLoad {
		t.Fatal("same run id under another stage is a distinct target")
	}
}

func TestDedupeEmpty(t *testing.T) {
	if out := Dedupe(nil); len(out) != 0 {
		t.Fatalf("expected empty result, got %v", out)
	}
}

func TestBaselineWarehouseResolutionExcludesExperiments(t *testing.T) {
	for _, frag := range []string{"NOT LIKE 'exp_%'", "status = 'SUCCESS'", "ORDER BY created_at DESC"} {
		if !strings.Contains(baselineWarehouseQuery, frag) {
			t.Fatalf("baseline resolution query missing %q", frag)
		}
	}
}

func TestRawDefectRunsRequireMutationSignature(t *testing.T) {
	if !strings.Contains(rawDefectRunsQuery, "status IN ('SUCCESS','FAILED')") {
		t.Fatal("stage E must also surface failed experiment raw runs")
	}
	if !strings.Contains(rawDefectRunsQuery, "a.status = 'MUTATED'") ||
		!strings.Contains(rawDefectRunsQuery, "LIKE ANY($2)") {
		t.Fatal("experiment raw runs must carry a recognized defect signature")
	}
}

func TestWarehouseRunsMustSucceed(t *testing.T) {
	if !strings.Contains(experimentWarehouseRunsQuery, "status = 'SUCCESS'") {
		t.Fatal("stages T and L only validate successful warehouse runs")
	}
}

func TestProcessedFilterCountsInFlightRuns(t *testing.T) {
	if !strings.Contains(processedRunsQuery, "('SUCCESS','PROCESSING')") {
		t.Fatal("a run being processed counts as processed")
	}
}

// Every column a discovery query names must exist in the provisioned DDL,
// otherwise a fresh deploy fails at parse time on the first discovery call.
func TestDiscoveryQueriesMatchProvisionedSchema(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("..", "..", "db", "schema.sql"))
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	schema := string(raw)

	known := map[string]bool{}
	for _, table := range []string{"tech.run_status", "tech.load_audit"} {
		for col := range tableColumns(t, schema, table) {
			known[col] = true
		}
	}

	queries := map[string]string{
		"baselineWarehouseQuery":       baselineWarehouseQuery,
		"rawDefectRunsQuery":           rawDefectRunsQuery,
		"experimentRawRunsQuery":       experimentRawRunsQuery,
		"experimentWarehouseRunsQuery": experimentWarehouseRunsQuery,
		"processedRunsQuery":           processedRunsQuery,
		"latestBaselineRawQuery":       latestBaselineRawQuery,
	}
	for name, query := range queries {
		for _, col := range referencedColumns(query) {
			if !known[col] {
				t.Errorf("%s references column %q, which db/schema.sql does not define", name, col)
			}
		}
	}
}

var (
	sqlIdentPattern   = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)
	sqlLiteralPattern = regexp.MustCompile(`'[^']*'`)
)

// referencedColumns tokenizes a query and keeps everything that is not a
// keyword, table name, or alias, i.e. the column identifiers.
func referencedColumns(query string) []string {
	skip := map[string]bool{
		"select": true, "from": true, "where": true, "and": true, "or": true,
		"in": true, "not": true, "like": true, "any": true, "exists": true,
		"order": true, "by": true, "desc": true, "asc": true, "limit": true,
		"tech": true, "run_status": true, "load_audit": true, "a": true,
	}
	seen := map[string]bool{}
	var out []string
	stripped := sqlLiteralPattern.ReplaceAllString(query, "")
	for _, tok := range sqlIdentPattern.FindAllString(stripped, -1) {
		col := strings.ToLower(tok)
		if skip[col] || seen[col] {
			continue
		}
		seen[col] = true
		out = append(out, col)
	}
	return out
}

func tableColumns(t *testing.T, schema, table string) map[string]bool {
	t.Helper()
	marker := "CREATE TABLE IF NOT EXISTS " + table + " ("
	start := strings.Index(schema, marker)
	if start < 0 {
		t.Fatalf("db/schema.sql does not define %s", table)
	}
	body := schema[start+len(marker):]
	end := strings.Index(body, ");")
	if end < 0 {
		t.Fatalf("unterminated definition of %s", table)
	}
	cols := map[string]bool{}
	for _, line := range strings.Split(body[:end], "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch strings.ToLower(fields[0]) {
		case "primary", "unique", "foreign", "constraint", "check", "references":
			continue
		}
		cols[strings.ToLower(strings.TrimSuffix(fields[0], ","))] = true
	}
	return cols
}

func TestDefectSignaturesNameKnownMutations(t *testing.T) {
	want := []string{"removed field", "removed key", "matchday", "duplicated first element"}
	for _, frag := range want {
		found := false
		for _, sig := range defectSignatures {
			if strings.Contains(sig, frag) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("no defect signature covers %q", frag)
		}
	}
}
