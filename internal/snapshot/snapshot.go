// Package snapshot captures business-view rows for a run and computes
// order-independent diffs between baseline and iteration captures.
package snapshot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
)

// Row is one view row with the run_id column already stripped: snapshots
// compare business content, not lineage tags.
type Row map[string]any

// viewKeyFields maps a view to the columns identifying one logical row.
// Views absent from this table diff by whole-row set difference.
var viewKeyFields = map[string][]string{
	"mart.v_competition_season_kpi": {"competition_id", "season_id"},
	"mart.v_team_season_results":    {"competition_id", "season_id", "team_id"},
}

// viewOrderBy keeps captures stable for eyeballing; the differ itself never
// depends on row order.
var viewOrderBy = map[string]string{
	"mart.v_competition_season_kpi": "competition_id, season_id",
	"mart.v_team_season_results":    "competition_id, season_id, team_id",
}

// allowedViews guards against interpolating arbitrary identifiers into the
// capture query.
var allowedViews = map[string]struct{}{
	"mart.v_competition_season_kpi": {},
	"mart.v_team_season_results":    {},
}

// KeyFields returns the identifying columns of a view, or nil when the view
// has no usable key.
func KeyFields(view string) []string {
	return viewKeyFields[strings.ToLower(strings.TrimSpace(view))]
}

// Capture reads view rows for one warehouse run. A positive limit caps the
// capture size; zero means everything.
func Capture(ctx context.Context, db postgres.DB, view, runID string, limit int) ([]Row, error) {
	if db == nil {
		return nil, fmt.Errorf("snapshot capture requires a database handle")
	}
	name := strings.ToLower(strings.TrimSpace(view))
	if _, ok := allowedViews[name]; !ok {
		return nil, fmt.Errorf("unknown snapshot view %q", view)
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE run_id = $1", name)
	if orderBy := viewOrderBy[name]; orderBy != "" {
		query += " ORDER BY " + orderBy
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("capture %s: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("capture %s columns: %w", name, err)
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("capture %s scan: %w", name, err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			if col == "run_id" {
				continue
			}
			row[col] = normalizeValue(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("capture %s rows: %w", name, err)
	}
	return out, nil
}

// normalizeValue flattens driver types so identical cells compare equal
// regardless of how the driver surfaced them.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return v
	}
}
