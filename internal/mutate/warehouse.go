package mutate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/goalline-labs/goalline-go/internal/audit"
	"github.com/goalline-labs/goalline-go/internal/config"
	"github.com/goalline-labs/goalline-go/internal/domain"
	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
)

// mutatedMatchID is the synthetic match injected by the fact_match defect
// class; it sits far above real football-data ids.
const mutatedMatchID = 99999901

const pickCompetitionQuery = `
SELECT competition_id
FROM dds.fact_match
WHERE run_id = $1
  AND competition_id IS NOT NULL
GROUP BY competition_id
ORDER BY COUNT(*) DESC
LIMIT 1`

const pickSeasonTeamQuery = `
SELECT season_id,
       COALESCE(home_team_id, away_team_id) AS team_id
FROM dds.fact_match
WHERE run_id = $1
  AND competition_id = $2
  AND season_id IS NOT NULL
  AND (home_team_id IS NOT NULL OR away_team_id IS NOT NULL)
ORDER BY match_id
LIMIT 1`

const fallbackCompetitionQuery = `SELECT min(competition_id) FROM dds.dim_competition WHERE run_id = $1`
const fallbackSeasonQuery = `SELECT min(season_id) FROM dds.dim_season WHERE run_id = $1`
const fallbackTeamQuery = `SELECT min(team_id) FROM dds.dim_team WHERE run_id = $1`

const insertMutatedMatchQuery = `
INSERT INTO dds.fact_match (
    run_id, match_id, competition_id, season_id, utc_date, status, stage,
    matchday, home_team_id, away_team_id
)
VALUES ($1, $2, $3, $4, now(), 'MUTATED', 'MUTATED', 0, $5, $5)
ON CONFLICT (run_id, match_id) DO NOTHING`

const breakMutatedMatchQuery = `
UPDATE dds.fact_match
SET matchday = 999,
    home_team_id = NULL,
    away_team_id = NULL
WHERE run_id = $1 AND match_id = $2`

const insertMutatedStandingQuery = `
INSERT INTO dds.fact_standing (
    run_id, season_id, competition_id, team_id, standing_type, stage,
    position, played_games, won, draw, lost, goals_for, goals_against,
    goal_difference, points, form
)
VALUES ($1, $2, $3, $4, 'MUTATED', 'MUTATED', 0, 0, 0, 0, 0, 0, 0, 0, 0, NULL)
ON CONFLICT (run_id, season_id, competition_id, team_id, standing_type) DO NOTHING`

const renameCompetitionQuery = `
UPDATE dds.dim_competition
SET name = 'MUTATED_COMP',
    code = COALESCE(code, 'MUT'),
    type = COALESCE(type, 'MUTATED'),
    plan = COALESCE(plan, 'MUTATED')
WHERE run_id = $1 AND competition_id = $2`

const nullifySeasonDatesQuery = `
UPDATE dds.dim_season
SET start_date = NULL,
    end_date = NULL
WHERE run_id = $1`

const nullifyMatchDatesQuery = `
UPDATE dds.fact_match
SET utc_date = NULL
WHERE run_id = $1`

// WarehouseInjector plants defect classes into warehouse rows of one run:
// a fact row with dangling references and an out-of-range matchday, a
// zero-stat standing, a renamed dimension, and nullified dates.
type WarehouseInjector struct {
	trail AuditLogger
}

func NewWarehouseInjector(trail AuditLogger) *WarehouseInjector {
	return &WarehouseInjector{trail: trail}
}

// representative anchors the synthetic rows to real dimension keys so only
// the intended constraint is violated.
type representative struct {
	CompetitionID int64
	SeasonID      int64
	TeamID        int64
}

func (r representative) complete() bool {
	return r.CompetitionID != 0 && r.SeasonID != 0 && r.TeamID != 0
}

// Mutate applies the enabled DDS defect classes for runID through exec
// (usually the load transaction). One MUTATED audit event aggregates what
// was planted; constraint conflicts are recorded as skips, any other SQL
// error aborts the pass.
func (m *WarehouseInjector) Mutate(ctx context.Context, exec postgres.DB, doc *config.MutationDoc, dagID, runID string) (bool, error) {
	enabled := doc.Enabled(domain.LayerWarehouse)
	if len(enabled) == 0 {
		return false, nil
	}
	on := make(map[string]bool, len(enabled))
	for _, name := range enabled {
		on[name] = true
	}

	var rep representative
	if on["fact_match"] || on["fact_standing"] || on["dim_competition"] {
		rep = m.findRepresentative(ctx, exec, runID)
	}

	var performed []string
	record := func(desc string, err error, class string) error {
		if err == nil {
			performed = append(performed, desc)
			return nil
		}
		if isConstraintViolation(err) {
			performed = append(performed, fmt.Sprintf("Skipped %s mutation (constraint): %v", class, err))
			return nil
		}
		return fmt.Errorf("%s mutation: %w", class, err)
	}

	if on["fact_match"] && rep.complete() {
		err := m.plantMatch(ctx, exec, runID, rep)
		if err := record("Inserted mutated fact_match with missing team ids and out-of-range matchday", err, "fact_match"); err != nil {
			return false, err
		}
	}
	if on["fact_standing"] && rep.complete() {
		_, err := exec.ExecContext(ctx, insertMutatedStandingQuery, runID, rep.SeasonID, rep.CompetitionID, rep.TeamID)
		if err := record("Inserted mutated fact_standing with zero stats", err, "fact_standing"); err != nil {
			return false, err
		}
	}
	if on["dim_competition"] && rep.CompetitionID != 0 {
		_, err := exec.ExecContext(ctx, renameCompetitionQuery, runID, rep.CompetitionID)
		if err := record(fmt.Sprintf("Updated dim_competition name for competition_id=%d", rep.CompetitionID), err, "dim_competition"); err != nil {
			return false, err
		}
	}
	if on["season_dates_missing"] {
		err := m.nullifyDates(ctx, exec, runID)
		if err := record("Nullified dim_season dates and fact_match utc_date for missing date checks", err, "season_dates_missing"); err != nil {
			return false, err
		}
	}

	if len(performed) == 0 {
		return false, nil
	}
	if m != nil && m.trail != nil {
		err := m.trail.Log(ctx, audit.Event{
			DagID:   dagID,
			RunID:   runID,
			Layer:   domain.LayerWarehouse,
			Entity:  fmt.Sprintf("%s_mutation", domain.LayerWarehouse),
			Status:  domain.AuditMutated,
			Message: strings.Join(performed, "; "),
		})
		if err != nil {
			return true, fmt.Errorf("audit warehouse mutation: %w", err)
		}
	}
	return true, nil
}

func (m *WarehouseInjector) findRepresentative(ctx context.Context, exec postgres.DB, runID string) representative {
	var rep representative

	var comp sql.NullInt64
	if err := exec.QueryRowContext(ctx, pickCompetitionQuery, runID).Scan(&comp); err == nil && comp.Valid {
		rep.CompetitionID = comp.Int64
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return representative{}
	}

	if rep.CompetitionID != 0 {
		var season, team sql.NullInt64
		err := exec.QueryRowContext(ctx, pickSeasonTeamQuery, runID, rep.CompetitionID).Scan(&season, &team)
		if err == nil {
			rep.SeasonID = season.Int64
			rep.TeamID = team.Int64
		}
	}

	if rep.CompetitionID == 0 {
		rep.CompetitionID = scanNullable(ctx, exec, fallbackCompetitionQuery, runID)
	}
	if rep.SeasonID == 0 {
		rep.SeasonID = scanNullable(ctx, exec, fallbackSeasonQuery, runID)
	}
	if rep.TeamID == 0 {
		rep.TeamID = scanNullable(ctx, exec, fallbackTeamQuery, runID)
	}
	return rep
}

func (m *WarehouseInjector) plantMatch(ctx context.Context, exec postgres.DB, runID string, rep representative) error {
	if _, err := exec.ExecContext(ctx, insertMutatedMatchQuery,
		runID, mutatedMatchID, rep.CompetitionID, rep.SeasonID, rep.TeamID); err != nil {
		return err
	}
	_, err := exec.ExecContext(ctx, breakMutatedMatchQuery, runID, mutatedMatchID)
	return err
}

func (m *WarehouseInjector) nullifyDates(ctx context.Context, exec postgres.DB, runID string) error {
	if _, err := exec.ExecContext(ctx, nullifySeasonDatesQuery, runID); err != nil {
		return err
	}
	_, err := exec.ExecContext(ctx, nullifyMatchDatesQuery, runID)
	return err
}

// isConstraintViolation reports whether err is a PostgreSQL integrity
// constraint violation (SQLSTATE class 23).
func isConstraintViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}
	return false
}

func scanNullable(ctx context.Context, exec postgres.DB, query, runID string) int64 {
	var v sql.NullInt64
	if err := exec.QueryRowContext(ctx, query, runID).Scan(&v); err != nil {
		return 0
	}
	return v.Int64
}
