package validate

import (
	"fmt"

	"github.com/goalline-labs/goalline-go/internal/domain"
)

// DefaultRegistry assembles every built-in check. Raw-layer checks are
// generated from the entity table; warehouse checks are SQL-backed.
func DefaultRegistry() *Registry {
	reg := NewRegistry()

	for _, spec := range payloadEntities {
		reg.mustRegister(domain.LayerRaw, fmt.Sprintf("%s_schema", spec.name), schemaCheck(spec))
		reg.mustRegister(domain.LayerRaw, fmt.Sprintf("%s_completeness", spec.name), completenessCheck(spec))
		reg.mustRegister(domain.LayerRaw, fmt.Sprintf("%s_uniqueness", spec.name), uniquenessCheck(spec))
		if spec.consistency != nil {
			reg.mustRegister(domain.LayerRaw, fmt.Sprintf("%s_consistency", spec.name), consistencyCheck(spec))
		}
	}
	reg.mustRegister(domain.LayerRaw, "api_http_status_ok", httpStatusCheck())
	reg.mustRegister(domain.LayerRaw, "api_payload_shape_ok", payloadShapeCheck())

	reg.mustRegister(domain.LayerWarehouse, "fact_match_fk", factMatchFKCheck())
	reg.mustRegister(domain.LayerWarehouse, "fact_standing_fk", factStandingFKCheck())
	reg.mustRegister(domain.LayerWarehouse, "dim_competition_area_fk", dimCompetitionAreaFKCheck())

	for _, pair := range sourcePairs {
		reg.mustRegister(domain.LayerWarehouse, fmt.Sprintf("%s_source_completeness", pair.name), sourceCompletenessCheck(pair))
		reg.mustRegister(domain.LayerWarehouse, fmt.Sprintf("%s_source_exclusivity", pair.name), sourceExclusivityCheck(pair))
	}

	reg.mustRegister(domain.LayerWarehouse, "match_home_away_diff",
		countRuleCheck(sameTeamMatchesQuery, "Matches_same_team", "Matches with same home/away team: %d", false))
	reg.mustRegister(domain.LayerWarehouse, "match_status_valid",
		countRuleCheck(invalidMatchStatusQuery, "Matches_invalid_status", "Matches with invalid status: %d", true))
	reg.mustRegister(domain.LayerWarehouse, "standings_points_consistency",
		countRuleCheck(standingsPointsMismatchQuery, "Standings_points_mismatch", "Standings with points mismatch: %d", true))
	reg.mustRegister(domain.LayerWarehouse, "season_round_robin",
		countRuleCheck(roundRobinQuery, "Round_robin_offending", "Teams with unequal home/away matches (seasons before 2025): %d", true))

	return reg
}
