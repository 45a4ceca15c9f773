package stagetools

import (
	"fmt"
	"strings"

	"github.com/goalline-labs/goalline-go/internal/domain"
)

// StageCheck is one data-quality probe for a stage tool: CountSQL returns
// the violation count, FailSQL lists the offending rows for the report.
// Both embed the quoted run id because each target gets its own check set.
type StageCheck struct {
	Name      string
	Stage     domain.Stage
	RuleGroup string
	Severity  domain.Severity
	CountSQL  string
	FailSQL   string
}

func sqlQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// BuildStageChecks returns the defect probes for one target run. Stage E
// inspects the raw payloads, stage T the warehouse tables, stage L the mart
// views. An unknown stage yields no checks.
func BuildStageChecks(stage domain.Stage, runID string) []StageCheck {
	rid := sqlQuote(runID)
	switch stage {
	case domain.StageExtract:
		return extractChecks(stage, rid)
	case domain.StageTransform:
		return transformChecks(stage, rid)
	case domain.StageLoad:
		return loadChecks(stage, rid)
	}
	return nil
}

func extractChecks(stage domain.Stage, rid string) []StageCheck {
	matchesScope := fmt.Sprintf(`FROM stg.raw_football_api s
JOIN LATERAL jsonb_array_elements(s.response_json -> 'matches') m ON TRUE
WHERE s.endpoint LIKE 'competitions/%%/matches%%'
  AND s.request_params ->> 'run_id' = %s
  AND s.http_status BETWEEN 200 AND 299`, rid)

	matchdayPredicate := `(m ->> 'matchday') IS NOT NULL
  AND (
    (m ->> 'matchday') !~ '^\d+$'
    OR (m ->> 'matchday')::int < 0
    OR (m ->> 'matchday')::int > 60
  )`

	duplicateSubquery := matchesScope + `
  AND (m ->> 'id') IS NOT NULL
GROUP BY (m ->> 'id')
HAVING COUNT(*) > 1`

	return []StageCheck{
		{
			Name:      "stg_schema_matches_key_missing",
			Stage:     stage,
			RuleGroup: "schema_mismatch",
			Severity:  domain.SeverityError,
			CountSQL: fmt.Sprintf(`SELECT COUNT(*)
FROM stg.raw_football_api
WHERE endpoint LIKE 'competitions/%%/matches%%'
  AND request_params ->> 'run_id' = %s
  AND http_status BETWEEN 200 AND 299
  AND NOT (response_json ? 'matches')`, rid),
			FailSQL: fmt.Sprintf(`SELECT id, endpoint, http_status
FROM stg.raw_football_api
WHERE endpoint LIKE 'competitions/%%/matches%%'
  AND request_params ->> 'run_id' = %s
  AND http_status BETWEEN 200 AND 299
  AND NOT (response_json ? 'matches')`, rid),
		},
		{
			Name:      "stg_missing_match_id",
			Stage:     stage,
			RuleGroup: "missing_values",
			Severity:  domain.SeverityError,
			CountSQL:  "SELECT COUNT(*)\n" + matchesScope + "\n  AND (m ->> 'id') IS NULL",
			FailSQL:   "SELECT s.id, s.endpoint, m ->> 'id' AS match_id\n" + matchesScope + "\n  AND (m ->> 'id') IS NULL",
		},
		{
			Name:      "stg_matchday_out_of_range",
			Stage:     stage,
			RuleGroup: "out_of_range",
			Severity:  domain.SeverityError,
			CountSQL:  "SELECT COUNT(*)\n" + matchesScope + "\n  AND " + matchdayPredicate,
			FailSQL:   "SELECT s.id, s.endpoint, m ->> 'id' AS match_id, m ->> 'matchday' AS matchday\n" + matchesScope + "\n  AND " + matchdayPredicate,
		},
		{
			Name:      "stg_duplicate_match_id",
			Stage:     stage,
			RuleGroup: "duplicate_records",
			Severity:  domain.SeverityError,
			CountSQL:  "SELECT COUNT(*) FROM (\nSELECT (m ->> 'id') AS match_id, COUNT(*) AS cnt\n" + duplicateSubquery + "\n) d",
			FailSQL:   "SELECT (m ->> 'id') AS match_id, COUNT(*) AS cnt\n" + duplicateSubquery,
		},
	}
}

func transformChecks(stage domain.Stage, rid string) []StageCheck {
	refIntegrityBody := fmt.Sprintf(`SELECT 'competition' AS ref_type, fm.match_id
FROM dds.fact_match fm
LEFT JOIN dds.dim_competition dc ON dc.run_id = fm.run_id AND dc.competition_id = fm.competition_id
WHERE fm.run_id = %[1]s AND dc.competition_id IS NULL
UNION ALL
SELECT 'season' AS ref_type, fm.match_id
FROM dds.fact_match fm
LEFT JOIN dds.dim_season ds ON ds.run_id = fm.run_id AND ds.season_id = fm.season_id
WHERE fm.run_id = %[1]s AND ds.season_id IS NULL
UNION ALL
SELECT 'home_team' AS ref_type, fm.match_id
FROM dds.fact_match fm
LEFT JOIN dds.dim_team dt ON dt.run_id = fm.run_id AND dt.team_id = fm.home_team_id
WHERE fm.run_id = %[1]s AND fm.home_team_id IS NOT NULL AND dt.team_id IS NULL
UNION ALL
SELECT 'away_team' AS ref_type, fm.match_id
FROM dds.fact_match fm
LEFT JOIN dds.dim_team dt ON dt.run_id = fm.run_id AND dt.team_id = fm.away_team_id
WHERE fm.run_id = %[1]s AND fm.away_team_id IS NOT NULL AND dt.team_id IS NULL`, rid)

	return []StageCheck{
		{
			Name:      "dds_duplicate_fact_match",
			Stage:     stage,
			RuleGroup: "duplicate_records",
			Severity:  domain.SeverityError,
			CountSQL: fmt.Sprintf(`SELECT COUNT(*) FROM (
SELECT run_id, match_id, COUNT(*) AS cnt
FROM dds.fact_match
WHERE run_id = %s
GROUP BY run_id, match_id
HAVING COUNT(*) > 1
) d`, rid),
			FailSQL: fmt.Sprintf(`SELECT run_id, match_id, COUNT(*) AS cnt
FROM dds.fact_match
WHERE run_id = %s
GROUP BY run_id, match_id
HAVING COUNT(*) > 1`, rid),
		},
		{
			Name:      "dds_missing_home_away_team",
			Stage:     stage,
			RuleGroup: "missing_values",
			Severity:  domain.SeverityError,
			CountSQL: fmt.Sprintf(`SELECT COUNT(*)
FROM dds.fact_match
WHERE run_id = %s
  AND (home_team_id IS NULL OR away_team_id IS NULL)`, rid),
			FailSQL: fmt.Sprintf(`SELECT run_id, match_id, home_team_id, away_team_id
FROM dds.fact_match
WHERE run_id = %s
  AND (home_team_id IS NULL OR away_team_id IS NULL)`, rid),
		},
		{
			Name:      "dds_referential_integrity_violation",
			Stage:     stage,
			RuleGroup: "referential_integrity_violation",
			Severity:  domain.SeverityError,
			CountSQL:  "SELECT COUNT(*) FROM (\n" + refIntegrityBody + "\n) d",
			FailSQL:   refIntegrityBody,
		},
		{
			Name:      "dds_matchday_out_of_range",
			Stage:     stage,
			RuleGroup: "out_of_range",
			Severity:  domain.SeverityError,
			CountSQL: fmt.Sprintf(`SELECT COUNT(*)
FROM dds.fact_match
WHERE run_id = %s
  AND matchday IS NOT NULL
  AND (matchday < 0 OR matchday > 60)`, rid),
			FailSQL: fmt.Sprintf(`SELECT run_id, match_id, matchday
FROM dds.fact_match
WHERE run_id = %s
  AND matchday IS NOT NULL
  AND (matchday < 0 OR matchday > 60)`, rid),
		},
	}
}

func loadChecks(stage domain.Stage, rid string) []StageCheck {
	ratePredicate := `(
    home_win_rate < 0 OR home_win_rate > 1 OR
    draw_rate < 0 OR draw_rate > 1 OR
    away_win_rate < 0 OR away_win_rate > 1
  )`
	return []StageCheck{
		{
			Name:      "mart_kpi_rate_out_of_bounds",
			Stage:     stage,
			RuleGroup: "out_of_range",
			Severity:  domain.SeverityError,
			CountSQL: fmt.Sprintf(`SELECT COUNT(*)
FROM mart.v_competition_season_kpi
WHERE run_id = %s
  AND %s`, rid, ratePredicate),
			FailSQL: fmt.Sprintf(`SELECT run_id, competition_id, season_id, home_win_rate, draw_rate, away_win_rate
FROM mart.v_competition_season_kpi
WHERE run_id = %s
  AND %s`, rid, ratePredicate),
		},
		{
			Name:      "mart_kpi_missing_dates",
			Stage:     stage,
			RuleGroup: "missing_values",
			Severity:  domain.SeverityError,
			CountSQL: fmt.Sprintf(`SELECT COUNT(*)
FROM mart.v_competition_season_kpi
WHERE run_id = %s
  AND (start_date IS NULL OR end_date IS NULL OR season_year IS NULL)`, rid),
			FailSQL: fmt.Sprintf(`SELECT run_id, competition_id, season_id, start_date, end_date, season_year
FROM mart.v_competition_season_kpi
WHERE run_id = %s
  AND (start_date IS NULL OR end_date IS NULL OR season_year IS NULL)`, rid),
		},
		{
			Name:      "mart_duplicate_team_rows",
			Stage:     stage,
			RuleGroup: "duplicate_records",
			Severity:  domain.SeverityError,
			CountSQL: fmt.Sprintf(`SELECT COUNT(*) FROM (
SELECT run_id, competition_id, season_id, team_id, COUNT(*) AS cnt
FROM mart.v_team_season_results
WHERE run_id = %s
GROUP BY run_id, competition_id, season_id, team_id
HAVING COUNT(*) > 1
) d`, rid),
			FailSQL: fmt.Sprintf(`SELECT run_id, competition_id, season_id, team_id, COUNT(*) AS cnt
FROM mart.v_team_season_results
WHERE run_id = %s
GROUP BY run_id, competition_id, season_id, team_id
HAVING COUNT(*) > 1`, rid),
		},
	}
}

// BuildConstraintChecks returns the warehouse constraint probes the sql
// tool adds on top of the stage checks. Only stage T has any.
func BuildConstraintChecks(stage domain.Stage, runID string) []StageCheck {
	if stage != domain.StageTransform {
		return nil
	}
	rid := sqlQuote(runID)
	return []StageCheck{
		{
			Name:      "dds_fact_match_home_away_valid",
			Stage:     stage,
			RuleGroup: "sql_constraint",
			Severity:  domain.SeverityError,
			CountSQL: fmt.Sprintf(`SELECT COUNT(*)
FROM dds.fact_match
WHERE run_id = %s
  AND (home_team_id IS NULL OR away_team_id IS NULL OR home_team_id = away_team_id)`, rid),
			FailSQL: fmt.Sprintf(`SELECT run_id, match_id, home_team_id, away_team_id
FROM dds.fact_match
WHERE run_id = %s
  AND (home_team_id IS NULL OR away_team_id IS NULL OR home_team_id = away_team_id)`, rid),
		},
		{
			Name:      "dds_fact_match_utc_date_missing",
			Stage:     stage,
			RuleGroup: "sql_constraint",
			Severity:  domain.SeverityError,
			CountSQL: fmt.Sprintf(`SELECT COUNT(*)
FROM dds.fact_match
WHERE run_id = %s
  AND utc_date IS NULL`, rid),
			FailSQL: fmt.Sprintf(`SELECT run_id, match_id, utc_date
FROM dds.fact_match
WHERE run_id = %s
  AND utc_date IS NULL`, rid),
		},
		{
			Name:      "dds_dim_season_dates_missing",
			Stage:     stage,
			RuleGroup: "sql_constraint",
			Severity:  domain.SeverityError,
			CountSQL: fmt.Sprintf(`SELECT COUNT(*)
FROM dds.dim_season
WHERE run_id = %s
  AND (start_date IS NULL OR end_date IS NULL)`, rid),
			FailSQL: fmt.Sprintf(`SELECT run_id, season_id, start_date, end_date
FROM dds.dim_season
WHERE run_id = %s
  AND (start_date IS NULL OR end_date IS NULL)`, rid),
		},
	}
}

// BuildMetricsQuery assembles one row of violation counts, one column per
// stage check.
func BuildMetricsQuery(stage domain.Stage, runID string) (string, error) {
	checks := BuildStageChecks(stage, runID)
	if len(checks) == 0 {
		return "", fmt.Errorf("no checks defined for stage %s", string(stage))
	}
	columns := make([]string, 0, len(checks))
	for _, c := range checks {
		columns = append(columns, fmt.Sprintf("(%s) AS %s", c.CountSQL, c.Name))
	}
	return "SELECT\n  " + strings.Join(columns, ",\n  "), nil
}
