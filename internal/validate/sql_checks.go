package validate

import (
	"context"
	"fmt"

	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
)

const badHTTPStatusQuery = `
SELECT count(*)
FROM stg.raw_football_api
WHERE request_params ->> 'run_id' = $1
  AND (http_status < 200 OR http_status >= 300)`

const badPayloadShapeQuery = `
WITH mapped AS (
    SELECT
        endpoint,
        response_json,
        CASE
            WHEN endpoint = 'competitions' THEN 'competitions'
            WHEN endpoint = 'areas' THEN 'areas'
            WHEN endpoint LIKE 'competitions/%/teams%' THEN 'teams'
            WHEN endpoint LIKE 'competitions/%/scorers%' THEN 'scorers'
            WHEN endpoint LIKE 'competitions/%/matches%' THEN 'matches'
            WHEN endpoint LIKE 'competitions/%/standings%' THEN 'standings'
            ELSE NULL
        END AS required_key
    FROM stg.raw_football_api
    WHERE request_params ->> 'run_id' = $1
)
SELECT count(*)
FROM mapped
WHERE required_key IS NOT NULL
  AND NOT (response_json ? required_key)`

const factMatchMissingHomeQuery = `
SELECT count(*) FROM dds.fact_match fm
WHERE fm.run_id = $1
  AND fm.home_team_id IS NOT NULL
  AND NOT EXISTS (
      SELECT 1 FROM dds.dim_team t
      WHERE t.run_id = fm.run_id
        AND t.team_id = fm.home_team_id
  )`

const factMatchMissingAwayQuery = `
SELECT count(*) FROM dds.fact_match fm
WHERE fm.run_id = $1
  AND fm.away_team_id IS NOT NULL
  AND NOT EXISTS (
      SELECT 1 FROM dds.dim_team t
      WHERE t.run_id = fm.run_id
        AND t.team_id = fm.away_team_id
  )`

const factMatchMissingSeasonQuery = `
SELECT count(*) FROM dds.fact_match fm
WHERE fm.run_id = $1
  AND fm.season_id IS NOT NULL
  AND NOT EXISTS (
      SELECT 1 FROM dds.dim_season s
      WHERE s.run_id = fm.run_id
        AND s.season_id = fm.season_id
  )`

const factStandingMissingTeamQuery = `
SELECT count(*) FROM dds.fact_standing fs
WHERE fs.run_id = $1
  AND fs.team_id IS NOT NULL
  AND NOT EXISTS (
      SELECT 1 FROM dds.dim_team t
      WHERE t.run_id = fs.run_id
        AND t.team_id = fs.team_id
  )`

const dimCompetitionMissingAreaQuery = `
SELECT count(*) FROM dds.dim_competition dc
WHERE dc.run_id = $1
  AND dc.area_id IS NOT NULL
  AND NOT EXISTS (
      SELECT 1 FROM dds.dim_area a
      WHERE a.run_id = dc.run_id
        AND a.area_id = dc.area_id
  )`

const sameTeamMatchesQuery = `
SELECT count(*) FROM dds.fact_match
WHERE run_id = $1
  AND home_team_id IS NOT NULL
  AND away_team_id IS NOT NULL
  AND home_team_id = away_team_id`

const invalidMatchStatusQuery = `
SELECT count(*) FROM dds.fact_match
WHERE run_id = $1
  AND status IS NOT NULL
  AND status NOT IN ('SCHEDULED','TIMED','IN_PLAY','PAUSED','FINISHED','POSTPONED','SUSPENDED','CANCELED')`

const standingsPointsMismatchQuery = `
SELECT count(*) FROM dds.fact_standing
WHERE run_id = $1
  AND points IS NOT NULL
  AND won IS NOT NULL
  AND draw IS NOT NULL
  AND (won*3 + draw) <> points`

// roundRobinQuery flags teams whose home and away match counts differ for
// seasons before 2025, when every covered competition played a full double
// round robin.
const roundRobinQuery = `
WITH team_matches AS (
    SELECT fm.competition_id, fm.season_id, fm.home_team_id AS team_id,
           COUNT(*) AS home_matches, 0 AS away_matches
    FROM dds.fact_match fm
    JOIN dds.dim_season ds ON ds.run_id = fm.run_id AND ds.season_id = fm.season_id
    WHERE fm.run_id = $1
      AND ds.start_date < '2025-01-01'
    GROUP BY fm.competition_id, fm.season_id, fm.home_team_id

    UNION ALL

    SELECT fm.competition_id, fm.season_id, fm.away_team_id AS team_id,
           0 AS home_matches, COUNT(*) AS away_matches
    FROM dds.fact_match fm
    JOIN dds.dim_season ds ON ds.run_id = fm.run_id AND ds.season_id = fm.season_id
    WHERE fm.run_id = $1
      AND ds.start_date < '2025-01-01'
    GROUP BY fm.competition_id, fm.season_id, fm.away_team_id
),
agg AS (
    SELECT competition_id, season_id, team_id,
           SUM(home_matches) AS home_matches,
           SUM(away_matches) AS away_matches
    FROM team_matches
    GROUP BY competition_id, season_id, team_id
)
SELECT count(*) FROM agg
WHERE home_matches <> away_matches`

// sourcePair drives the generated source completeness and exclusivity
// checks: every distinct id extracted from the raw payloads of the parent
// run must exist in the warehouse run, and vice versa.
type sourcePair struct {
	name      string
	srcCTE    string
	idColumn  string
	ddsTable  string
	ddsColumn string
}

var sourcePairs = []sourcePair{
	{
		name: "competitions",
		srcCTE: `SELECT DISTINCT (c ->> 'id')::int AS src_id
FROM stg.raw_football_api s
CROSS JOIN LATERAL jsonb_array_elements(s.response_json -> 'competitions') c
WHERE s.endpoint = 'competitions'
  AND s.request_params ->> 'run_id' = $1
  AND (c ->> 'id') IS NOT NULL`,
		ddsTable:  "dds.dim_competition",
		ddsColumn: "competition_id",
	},
	{
		name: "teams",
		srcCTE: `SELECT DISTINCT (t ->> 'id')::int AS src_id
FROM stg.raw_football_api s
CROSS JOIN LATERAL jsonb_array_elements(s.response_json -> 'teams') t
WHERE s.endpoint LIKE 'competitions/%/teams%'
  AND s.request_params ->> 'run_id' = $1
  AND (t ->> 'id') IS NOT NULL`,
		ddsTable:  "dds.dim_team",
		ddsColumn: "team_id",
	},
	{
		name: "matches",
		srcCTE: `SELECT DISTINCT (m ->> 'id')::int AS src_id
FROM stg.raw_football_api s
CROSS JOIN LATERAL jsonb_array_elements(s.response_json -> 'matches') m
WHERE s.endpoint LIKE 'competitions/%/matches%'
  AND s.request_params ->> 'run_id' = $1
  AND (m ->> 'id') IS NOT NULL`,
		ddsTable:  "dds.fact_match",
		ddsColumn: "match_id",
	},
	{
		name: "standings",
		srcCTE: `SELECT DISTINCT (r -> 'team' ->> 'id')::int AS src_id
FROM stg.raw_football_api s
CROSS JOIN LATERAL jsonb_array_elements(s.response_json -> 'standings') st
CROSS JOIN LATERAL jsonb_array_elements(st -> 'table') r
WHERE s.endpoint LIKE 'competitions/%/standings%'
  AND s.request_params ->> 'run_id' = $1
  AND (r -> 'team' ->> 'id') IS NOT NULL`,
		ddsTable:  "dds.fact_standing",
		ddsColumn: "team_id",
	},
}

func (p sourcePair) completenessQuery() string {
	return fmt.Sprintf(`WITH src AS (
%s
)
SELECT count(*) FROM src s
LEFT JOIN %s d
  ON d.run_id = $2
 AND d.%s = s.src_id
WHERE d.%s IS NULL`, p.srcCTE, p.ddsTable, p.ddsColumn, p.ddsColumn)
}

func (p sourcePair) srcCountQuery() string {
	return fmt.Sprintf(`WITH src AS (
%s
)
SELECT count(*) FROM src`, p.srcCTE)
}

func (p sourcePair) exclusivityQuery() string {
	return fmt.Sprintf(`WITH src AS (
%s
)
SELECT count(*) FROM %s d
WHERE d.run_id = $2
  AND NOT EXISTS (SELECT 1 FROM src s WHERE s.src_id = d.%s)`, p.srcCTE, p.ddsTable, p.ddsColumn)
}

func httpStatusCheck() CheckFunc {
	return func(ctx context.Context, in Input) (*Result, error) {
		bad, err := countScalar(ctx, in.DB, badHTTPStatusQuery, in.RunID)
		if err != nil {
			return nil, err
		}
		res := &Result{}
		res.Infof("Bad_http_status_rows=%d", bad)
		if bad > 0 {
			res.Errorf("Found non-2xx API responses in STG: %d", bad)
		}
		return res, nil
	}
}

func payloadShapeCheck() CheckFunc {
	return func(ctx context.Context, in Input) (*Result, error) {
		bad, err := countScalar(ctx, in.DB, badPayloadShapeQuery, in.RunID)
		if err != nil {
			return nil, err
		}
		res := &Result{}
		res.Infof("Bad_payload_shape_rows=%d", bad)
		if bad > 0 {
			res.Errorf("Found responses without required top-level keys in STG: %d", bad)
		}
		return res, nil
	}
}

func factMatchFKCheck() CheckFunc {
	return func(ctx context.Context, in Input) (*Result, error) {
		home, err := countScalar(ctx, in.DB, factMatchMissingHomeQuery, in.RunID)
		if err != nil {
			return nil, err
		}
		away, err := countScalar(ctx, in.DB, factMatchMissingAwayQuery, in.RunID)
		if err != nil {
			return nil, err
		}
		season, err := countScalar(ctx, in.DB, factMatchMissingSeasonQuery, in.RunID)
		if err != nil {
			return nil, err
		}
		res := &Result{}
		if home > 0 {
			res.Errorf("fact_match: %d rows with missing home_team in dim_team", home)
		}
		if away > 0 {
			res.Errorf("fact_match: %d rows with missing away_team in dim_team", away)
		}
		if season > 0 {
			res.Errorf("fact_match: %d rows with missing season in dim_season", season)
		}
		res.Infof("fact_match_fk_checks: home=%d, away=%d, season=%d", home, away, season)
		return res, nil
	}
}

func factStandingFKCheck() CheckFunc {
	return func(ctx context.Context, in Input) (*Result, error) {
		missing, err := countScalar(ctx, in.DB, factStandingMissingTeamQuery, in.RunID)
		if err != nil {
			return nil, err
		}
		res := &Result{}
		if missing > 0 {
			res.Warnf("fact_standing: %d rows with missing team in dim_team", missing)
		}
		res.Infof("fact_standing_fk_checks: team_missing=%d", missing)
		return res, nil
	}
}

func dimCompetitionAreaFKCheck() CheckFunc {
	return func(ctx context.Context, in Input) (*Result, error) {
		missing, err := countScalar(ctx, in.DB, dimCompetitionMissingAreaQuery, in.RunID)
		if err != nil {
			return nil, err
		}
		res := &Result{}
		if missing > 0 {
			res.Errorf("dim_competition: %d rows with missing area in dim_area", missing)
		}
		res.Infof("dim_competition_area_fk_missing=%d", missing)
		return res, nil
	}
}

func sourceCompletenessCheck(p sourcePair) CheckFunc {
	completeness := p.completenessQuery()
	srcCount := p.srcCountQuery()
	return func(ctx context.Context, in Input) (*Result, error) {
		missing, err := countScalar(ctx, in.DB, completeness, in.ParentRunID, in.RunID)
		if err != nil {
			return nil, err
		}
		total, err := countScalar(ctx, in.DB, srcCount, in.ParentRunID)
		if err != nil {
			return nil, err
		}
		res := &Result{}
		if missing > 0 {
			res.Errorf("%s missing in DDS: %d of %d", p.name, missing, total)
		}
		res.Infof("%s_src_count=%d", p.name, total)
		return res, nil
	}
}

func sourceExclusivityCheck(p sourcePair) CheckFunc {
	exclusivity := p.exclusivityQuery()
	return func(ctx context.Context, in Input) (*Result, error) {
		extras, err := countScalar(ctx, in.DB, exclusivity, in.ParentRunID, in.RunID)
		if err != nil {
			return nil, err
		}
		res := &Result{}
		if extras > 0 {
			res.Errorf("%s in DDS not found in source: %d", p.name, extras)
		}
		res.Infof("%s_extras=%d", p.name, extras)
		return res, nil
	}
}

func countRuleCheck(query, infoKey, errFormat string, warn bool) CheckFunc {
	return func(ctx context.Context, in Input) (*Result, error) {
		n, err := countScalar(ctx, in.DB, query, in.RunID)
		if err != nil {
			return nil, err
		}
		res := &Result{}
		if n > 0 {
			if warn {
				res.Warnf(errFormat, n)
			} else {
				res.Errorf(errFormat, n)
			}
		}
		res.Infof("%s=%d", infoKey, n)
		return res, nil
	}
}

func countScalar(ctx context.Context, db postgres.DB, query string, args ...any) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("check requires a database handle")
	}
	var n int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count query: %w", err)
	}
	return n, nil
}
