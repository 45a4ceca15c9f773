package experiment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/goalline-labs/goalline-go/internal/config"
	"github.com/goalline-labs/goalline-go/internal/domain"
	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
)

// entityPayloadWhere scopes the latest stored payload to one entity's
// endpoint shape. Validator names start with their entity, so the prefix
// before the first underscore picks the clause.
var entityPayloadWhere = map[string]string{
	"competitions": "endpoint = 'competitions'",
	"areas":        "endpoint = 'areas'",
	"teams":        "endpoint LIKE 'competitions/%/teams%'",
	"scorers":      "endpoint LIKE 'competitions/%/scorers%'",
	"matches":      "endpoint LIKE 'competitions/%/matches%'",
	"standings":    "endpoint LIKE 'competitions/%/standings%'",
}

const entityPayloadQuery = `
SELECT response_json
FROM stg.raw_football_api
WHERE %s
  AND request_params ->> 'run_id' = $1
  AND http_status BETWEEN 200 AND 299
ORDER BY id DESC
LIMIT 1`

// BuildRawPayloads reconstructs per-validator payloads from the stored raw
// rows of a run, so payload validators can re-check a copied run the same way
// they check a live ingest. Validators whose entity has no stored row are
// omitted.
func BuildRawPayloads(ctx context.Context, db postgres.DB, doc *config.ValidationDoc, runID string) (map[string]map[string]any, error) {
	if db == nil {
		return nil, fmt.Errorf("payload rebuild requires a database handle")
	}
	payloads := make(map[string]map[string]any)
	cache := make(map[string]map[string]any)
	for _, name := range doc.EnabledNames(domain.LayerRaw) {
		entity, _, _ := strings.Cut(name, "_")
		payload, seen := cache[entity]
		if !seen {
			loaded, err := latestEntityPayload(ctx, db, runID, entity)
			if err != nil {
				return nil, err
			}
			cache[entity] = loaded
			payload = loaded
		}
		if payload != nil {
			payloads[name] = payload
		}
	}
	return payloads, nil
}

func latestEntityPayload(ctx context.Context, db postgres.DB, runID, entity string) (map[string]any, error) {
	where, ok := entityPayloadWhere[strings.ToLower(strings.TrimSpace(entity))]
	if !ok {
		return nil, nil
	}
	var raw []byte
	query := fmt.Sprintf(entityPayloadQuery, where)
	err := db.QueryRowContext(ctx, query, runID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s payload for run %s: %w", entity, runID, err)
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode %s payload for run %s: %w", entity, runID, err)
	}
	return payload, nil
}
