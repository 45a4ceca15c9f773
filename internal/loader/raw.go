// Package loader moves data between pipeline layers: API payloads into the
// raw staging table and raw payloads into the warehouse star schema.
package loader

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
)

const insertRawQuery = `
INSERT INTO stg.raw_football_api (endpoint, request_params, http_status, response_json)
VALUES ($1, $2, $3, $4)`

// RawRecord is one API response headed for stg.raw_football_api. Params
// carries the lineage tags (dag_id, run_id) the rest of the pipeline keys on.
type RawRecord struct {
	Endpoint   string
	HTTPStatus int
	Payload    map[string]any
	Params     map[string]string
}

// InsertRaw appends one raw row and returns the affected row count.
func InsertRaw(ctx context.Context, db postgres.DB, rec RawRecord) (int64, error) {
	if db == nil {
		return 0, fmt.Errorf("raw insert requires a database handle")
	}
	if rec.Endpoint == "" {
		return 0, fmt.Errorf("endpoint is required")
	}
	params, err := json.Marshal(stringMap(rec.Params))
	if err != nil {
		return 0, fmt.Errorf("encode request params: %w", err)
	}
	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	res, err := db.ExecContext(ctx, insertRawQuery, rec.Endpoint, params, rec.HTTPStatus, payload)
	if err != nil {
		return 0, fmt.Errorf("insert raw %s: %w", rec.Endpoint, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 1, nil
	}
	return rows, nil
}

func stringMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
