package experiment

import (
	"context"
	"fmt"
	"strings"

	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
)

// warehouseTables in deletion order: facts before the dimensions they
// reference.
var warehouseTables = []string{
	"dds.fact_match_score",
	"dds.fact_match",
	"dds.fact_standing",
	"dds.dim_season",
	"dds.dim_team",
	"dds.dim_competition",
	"dds.dim_area",
}

// DeleteWarehouseRun removes every warehouse row of one run so a repeated
// iteration starts from a clean version. exec should be a transaction.
func DeleteWarehouseRun(ctx context.Context, exec postgres.DB, runID string) error {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil
	}
	for _, table := range warehouseTables {
		query := fmt.Sprintf("DELETE FROM %s WHERE run_id = $1", table)
		if _, err := exec.ExecContext(ctx, query, runID); err != nil {
			return fmt.Errorf("delete %s for run %s: %w", table, runID, err)
		}
	}
	return nil
}
