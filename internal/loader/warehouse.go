package loader

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/goalline-labs/goalline-go/internal/audit"
	"github.com/goalline-labs/goalline-go/internal/domain"
	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
	"github.com/goalline-labs/goalline-go/internal/registry"
)

// Each step reads the parent raw run's payloads and materializes one
// warehouse table, idempotent through ON CONFLICT DO NOTHING. Parameters:
// $1 = warehouse run id, $2 = raw run id.

const sqlDimArea = `
INSERT INTO dds.dim_area (run_id, area_id, name, country_code, flag_url, parent_area_id)
SELECT DISTINCT
    $1,
    (a ->> 'id')::int,
    a ->> 'name',
    a ->> 'countryCode',
    a ->> 'flag',
    (a ->> 'parentAreaId')::int
FROM stg.raw_football_api s
CROSS JOIN LATERAL jsonb_array_elements(s.response_json -> 'areas') a
WHERE s.endpoint = 'areas'
  AND s.request_params ->> 'run_id' = $2
ON CONFLICT (run_id, area_id) DO NOTHING`

const sqlDimCompetition = `
INSERT INTO dds.dim_competition (run_id, competition_id, area_id, code, name, type, plan)
SELECT DISTINCT
    $1,
    (c ->> 'id')::int,
    (c -> 'area' ->> 'id')::int,
    c ->> 'code',
    c ->> 'name',
    c ->> 'type',
    c ->> 'plan'
FROM stg.raw_football_api s
CROSS JOIN LATERAL jsonb_array_elements(s.response_json -> 'competitions') c
WHERE s.endpoint = 'competitions'
  AND s.request_params ->> 'run_id' = $2
  AND (c -> 'area' ->> 'id') IS NOT NULL
ON CONFLICT (run_id, competition_id) DO NOTHING`

const sqlDimTeam = `
INSERT INTO dds.dim_team (run_id, team_id, area_id, name, short_name, tla, crest_url, venue, address, founded, website, club_colors)
SELECT DISTINCT
    $1,
    (t ->> 'id')::int,
    (t -> 'area' ->> 'id')::int,
    t ->> 'name',
    t ->> 'shortName',
    t ->> 'tla',
    t ->> 'crest',
    t ->> 'venue',
    t ->> 'address',
    NULLIF(t ->> 'founded','')::int,
    t ->> 'website',
    t ->> 'clubColors'
FROM stg.raw_football_api s
CROSS JOIN LATERAL jsonb_array_elements(s.response_json -> 'teams') t
WHERE s.endpoint LIKE 'competitions/%/teams%'
  AND s.request_params ->> 'run_id' = $2
  AND (t -> 'area' ->> 'id') IS NOT NULL
ON CONFLICT (run_id, team_id) DO NOTHING`

const sqlDimSeason = `
WITH seasons AS (
    SELECT DISTINCT
        (s.response_json -> 'season' ->> 'id')::int AS season_id,
        (s.response_json -> 'competition' ->> 'id')::int AS competition_id,
        (s.response_json -> 'season' ->> 'startDate')::date AS start_date,
        (s.response_json -> 'season' ->> 'endDate')::date AS end_date,
        NULLIF(s.response_json -> 'season' -> 'winner' ->> 'id','')::int AS winner_team_id
    FROM stg.raw_football_api s
    WHERE s.endpoint LIKE 'competitions/%/standings%'
      AND s.request_params ->> 'run_id' = $2
      AND (s.response_json -> 'season' ->> 'id') IS NOT NULL

    UNION

    SELECT DISTINCT
        (m -> 'season' ->> 'id')::int,
        NULLIF(m -> 'competition' ->> 'id','')::int,
        (m -> 'season' ->> 'startDate')::date,
        (m -> 'season' ->> 'endDate')::date,
        NULLIF(m -> 'season' -> 'winner' ->> 'id','')::int
    FROM stg.raw_football_api s
    CROSS JOIN LATERAL jsonb_array_elements(s.response_json -> 'matches') m
    WHERE s.endpoint LIKE 'competitions/%/matches%'
      AND s.request_params ->> 'run_id' = $2
      AND (m -> 'season' ->> 'id') IS NOT NULL
)
INSERT INTO dds.dim_season (run_id, season_id, competition_id, start_date, end_date, winner_team_id)
SELECT DISTINCT $1, season_id, competition_id, start_date, end_date, winner_team_id
FROM seasons
WHERE competition_id IS NOT NULL
ON CONFLICT (run_id, season_id) DO NOTHING`

const sqlFactMatch = `
INSERT INTO dds.fact_match (run_id, match_id, competition_id, season_id, utc_date, status, stage, matchday, home_team_id, away_team_id)
SELECT DISTINCT
    $1,
    (m ->> 'id')::int,
    (m -> 'competition' ->> 'id')::int,
    (m -> 'season' ->> 'id')::int,
    (m ->> 'utcDate')::timestamp,
    m ->> 'status',
    m ->> 'stage',
    NULLIF(m ->> 'matchday','')::int,
    NULLIF(m -> 'homeTeam' ->> 'id','')::int,
    NULLIF(m -> 'awayTeam' ->> 'id','')::int
FROM stg.raw_football_api s
CROSS JOIN LATERAL jsonb_array_elements(s.response_json -> 'matches') m
WHERE s.endpoint LIKE 'competitions/%/matches%'
  AND s.request_params ->> 'run_id' = $2
  AND (m ->> 'id') IS NOT NULL
ON CONFLICT (run_id, match_id) DO NOTHING`

const sqlFactMatchScore = `
INSERT INTO dds.fact_match_score (run_id, match_id, winner, duration, half_time_home, half_time_away, full_time_home, full_time_away)
SELECT DISTINCT
    $1,
    (m ->> 'id')::int,
    m -> 'score' ->> 'winner',
    m -> 'score' ->> 'duration',
    NULLIF(m -> 'score' -> 'halfTime' ->> 'home','')::int,
    NULLIF(m -> 'score' -> 'halfTime' ->> 'away','')::int,
    NULLIF(m -> 'score' -> 'fullTime' ->> 'home','')::int,
    NULLIF(m -> 'score' -> 'fullTime' ->> 'away','')::int
FROM stg.raw_football_api s
CROSS JOIN LATERAL jsonb_array_elements(s.response_json -> 'matches') m
WHERE s.endpoint LIKE 'competitions/%/matches%'
  AND s.request_params ->> 'run_id' = $2
  AND (m ->> 'id') IS NOT NULL
ON CONFLICT (run_id, match_id) DO NOTHING`

const sqlFactStanding = `
INSERT INTO dds.fact_standing (run_id, season_id, competition_id, team_id, standing_type, stage, position, played_games, won, draw, lost, goals_for, goals_against, goal_difference, points, form)
SELECT DISTINCT
    $1,
    (s.response_json -> 'season' ->> 'id')::int,
    (s.response_json -> 'competition' ->> 'id')::int,
    (tbl -> 'team' ->> 'id')::int,
    st ->> 'type',
    st ->> 'stage',
    NULLIF(tbl ->> 'position','')::int,
    NULLIF(tbl ->> 'playedGames','')::int,
    NULLIF(tbl ->> 'won','')::int,
    NULLIF(tbl ->> 'draw','')::int,
    NULLIF(tbl ->> 'lost','')::int,
    NULLIF(tbl ->> 'goalsFor','')::int,
    NULLIF(tbl ->> 'goalsAgainst','')::int,
    NULLIF(tbl ->> 'goalDifference','')::int,
    NULLIF(tbl ->> 'points','')::int,
    tbl ->> 'form'
FROM stg.raw_football_api s
CROSS JOIN LATERAL jsonb_array_elements(s.response_json -> 'standings') st
CROSS JOIN LATERAL jsonb_array_elements(st -> 'table') tbl
WHERE s.endpoint LIKE 'competitions/%/standings%'
  AND s.request_params ->> 'run_id' = $2
  AND (s.response_json -> 'season' ->> 'id') IS NOT NULL
ON CONFLICT (run_id, season_id, competition_id, team_id, standing_type) DO NOTHING`

type warehouseStep struct {
	name  string
	query string
}

var warehouseSteps = []warehouseStep{
	{"dim_area", sqlDimArea},
	{"dim_competition", sqlDimCompetition},
	{"dim_team", sqlDimTeam},
	{"dim_season", sqlDimSeason},
	{"fact_match", sqlFactMatch},
	{"fact_match_score", sqlFactMatchScore},
	{"fact_standing", sqlFactStanding},
}

// Warehouse materializes the star schema from raw payloads.
type Warehouse struct {
	db    *sql.DB
	runs  *registry.Store
	trail *audit.Trail
	log   *slog.Logger
}

func NewWarehouse(db *sql.DB, runs *registry.Store, trail *audit.Trail, log *slog.Logger) *Warehouse {
	if log == nil {
		log = slog.Default()
	}
	return &Warehouse{db: db, runs: runs, trail: trail, log: log}
}

// Load runs every warehouse step for one (warehouse run, raw run) pair on
// exec, which is usually a transaction so a failed step leaves no partial
// tables behind. Step outcomes are audited per table.
func (w *Warehouse) Load(ctx context.Context, exec postgres.DB, dagID, runID, parentRunID string) error {
	w.auditStep(ctx, dagID, runID, "ALL", domain.AuditStarted, "", nil)
	for _, step := range warehouseSteps {
		w.log.Info("loading warehouse table", "table", step.name, "run_id", runID)
		res, err := exec.ExecContext(ctx, step.query, runID, parentRunID)
		if err != nil {
			w.auditStep(ctx, dagID, runID, "ALL", domain.AuditFailed, fmt.Sprintf("%s: %v", step.name, err), nil)
			return fmt.Errorf("load %s: %w", step.name, err)
		}
		rows, raErr := res.RowsAffected()
		var rowsPtr *int
		if raErr == nil {
			n := int(rows)
			rowsPtr = &n
		}
		w.auditStep(ctx, dagID, runID, step.name, domain.AuditSuccess, "", rowsPtr)
	}
	w.auditStep(ctx, dagID, runID, "ALL", domain.AuditSuccess, "", nil)
	return nil
}

// LoadPending claims every raw run without a warehouse result and loads each
// inside its own transaction. A failed parent flips its registry row to
// FAILED and aborts the batch.
func (w *Warehouse) LoadPending(ctx context.Context, dagID, runID string, afterLoad func(ctx context.Context, tx postgres.DB, parentRunID string) error) ([]string, error) {
	if w == nil || w.db == nil {
		return nil, fmt.Errorf("warehouse loader not initialized")
	}
	pending, err := w.runs.ClaimPending(ctx, dagID, domain.LayerRaw, domain.LayerWarehouse, runID)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		w.log.Info("no pending raw runs for warehouse load", "dag_id", dagID)
		return nil, nil
	}
	w.log.Info("claimed pending raw runs", "count", len(pending), "run_id", runID)

	for _, parentRunID := range pending {
		if err := w.loadOne(ctx, dagID, runID, parentRunID, afterLoad); err != nil {
			return pending, err
		}
	}
	return pending, nil
}

func (w *Warehouse) loadOne(ctx context.Context, dagID, runID, parentRunID string, afterLoad func(ctx context.Context, tx postgres.DB, parentRunID string) error) error {
	if err := w.runs.Transition(ctx, dagID, runID, parentRunID, domain.LayerWarehouse, domain.RunProcessing, ""); err != nil {
		return err
	}

	err := func() error {
		tx, err := w.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin warehouse load: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := w.Load(ctx, tx, dagID, runID, parentRunID); err != nil {
			return err
		}
		if afterLoad != nil {
			if err := afterLoad(ctx, tx, parentRunID); err != nil {
				return err
			}
		}
		return tx.Commit()
	}()
	if err != nil {
		_ = w.runs.Transition(ctx, dagID, runID, parentRunID, domain.LayerWarehouse, domain.RunFailed, err.Error())
		return err
	}
	return w.runs.Transition(ctx, dagID, runID, parentRunID, domain.LayerWarehouse, domain.RunSuccess, "")
}

func (w *Warehouse) auditStep(ctx context.Context, dagID, runID, entity string, status domain.AuditStatus, message string, rows *int) {
	if w.trail == nil {
		return
	}
	_ = w.trail.Log(ctx, audit.Event{
		DagID:         dagID,
		RunID:         runID,
		Layer:         domain.LayerWarehouse,
		Entity:        entity,
		Status:        status,
		Message:       message,
		RowsProcessed: rows,
	})
}
