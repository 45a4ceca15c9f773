package loader

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/goalline-labs/goalline-go/internal/audit"
	"github.com/goalline-labs/goalline-go/internal/config"
	"github.com/goalline-labs/goalline-go/internal/domain"
	"github.com/goalline-labs/goalline-go/internal/mutate"
	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
	"github.com/goalline-labs/goalline-go/internal/registry"
)

// kindPatterns classify a stored endpoint into the payload kind whose
// collection key the downstream checks and mutations operate on. Order
// matters: the first match wins.
var kindPatterns = []struct {
	kind    string
	pattern *regexp.Regexp
}{
	{"competitions", regexp.MustCompile(`^competitions$`)},
	{"areas", regexp.MustCompile(`^areas$`)},
	{"teams", regexp.MustCompile(`^competitions/\d+/teams`)},
	{"scorers", regexp.MustCompile(`^competitions/\d+/scorers`)},
	{"matches", regexp.MustCompile(`^competitions/\d+/matches`)},
	{"standings", regexp.MustCompile(`^competitions/\d+/standings`)},
}

const selectRawRunQuery = `
SELECT endpoint, http_status, response_json
FROM stg.raw_football_api
WHERE request_params ->> 'run_id' = $1
  AND http_status BETWEEN 200 AND 299
ORDER BY id`

// InferKind returns the payload kind for an endpoint, or "" when the
// endpoint does not belong to a known collection.
func InferKind(endpoint string) string {
	for _, kp := range kindPatterns {
		if kp.pattern.MatchString(endpoint) {
			return kp.kind
		}
	}
	return ""
}

// Copier clones the raw rows of one run under a new run id, optionally
// injecting payload mutations on the way.
type Copier struct {
	db       *sql.DB
	runs     *registry.Store
	trail    *audit.Trail
	injector *mutate.PayloadInjector
	log      *slog.Logger
}

func NewCopier(db *sql.DB, runs *registry.Store, trail *audit.Trail, injector *mutate.PayloadInjector, log *slog.Logger) *Copier {
	if log == nil {
		log = slog.Default()
	}
	return &Copier{db: db, runs: runs, trail: trail, injector: injector, log: log}
}

// CopyParams names one copy operation. Mutations holds the mutation
// document applied when ApplyMutations is set.
type CopyParams struct {
	DagID          string
	SourceRunID    string
	TargetRunID    string
	ParentRunID    string
	ApplyMutations bool
	Mutations      *config.MutationDoc
}

// CopyRawRun copies every processable 2xx row of the source run into the
// target run inside one transaction and returns the inserted row count.
// Rows whose endpoint maps to a collection kind the payload does not carry
// are skipped. request_params records the source run for lineage.
func (c *Copier) CopyRawRun(ctx context.Context, p CopyParams) (int, error) {
	if c == nil || c.db == nil {
		return 0, fmt.Errorf("copier not initialized")
	}
	if p.SourceRunID == "" || p.TargetRunID == "" {
		return 0, fmt.Errorf("source and target run ids are required")
	}
	if p.ApplyMutations && p.Mutations == nil {
		return 0, fmt.Errorf("mutations requested without a mutation config")
	}

	if err := c.runs.Transition(ctx, p.DagID, p.TargetRunID, p.ParentRunID, domain.LayerRaw, domain.RunNew, ""); err != nil {
		return 0, err
	}
	if err := c.runs.Transition(ctx, p.DagID, p.TargetRunID, p.ParentRunID, domain.LayerRaw, domain.RunProcessing, ""); err != nil {
		return 0, err
	}
	c.auditCopy(ctx, p, domain.AuditStarted, nil)

	inserted, err := c.copyRows(ctx, p)
	if err != nil {
		_ = c.runs.Transition(ctx, p.DagID, p.TargetRunID, p.ParentRunID, domain.LayerRaw, domain.RunFailed, err.Error())
		c.auditCopy(ctx, p, domain.AuditFailed, nil)
		return 0, err
	}

	c.auditCopy(ctx, p, domain.AuditSuccess, &inserted)
	return inserted, nil
}

func (c *Copier) copyRows(ctx context.Context, p CopyParams) (int, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin raw copy: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := c.selectSourceRows(ctx, tx, p.SourceRunID)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, r := range rows {
		kind := InferKind(r.endpoint)
		payload := r.payload
		if kind != "" {
			if _, present := payload[kind]; !present {
				c.log.Warn("skipping unprocessable source row", "endpoint", r.endpoint, "kind", kind)
				continue
			}
			if p.ApplyMutations {
				mutated, _, err := c.injector.Mutate(ctx, p.Mutations, p.DagID, p.TargetRunID, domain.LayerRaw, kind, payload)
				if err != nil {
					return 0, err
				}
				payload = mutated
			}
		}

		rec := RawRecord{
			Endpoint:   r.endpoint,
			HTTPStatus: r.status,
			Payload:    payload,
			Params: map[string]string{
				"dag_id":        p.DagID,
				"run_id":        p.TargetRunID,
				"source_run_id": p.SourceRunID,
			},
		}
		if _, err := InsertRaw(ctx, tx, rec); err != nil {
			return 0, err
		}
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit raw copy: %w", err)
	}
	return inserted, nil
}

type sourceRow struct {
	endpoint string
	status   int
	payload  map[string]any
}

func (c *Copier) selectSourceRows(ctx context.Context, tx postgres.DB, sourceRunID string) ([]sourceRow, error) {
	rows, err := tx.QueryContext(ctx, selectRawRunQuery, sourceRunID)
	if err != nil {
		return nil, fmt.Errorf("select source run %s: %w", sourceRunID, err)
	}
	defer rows.Close()

	var out []sourceRow
	for rows.Next() {
		var r sourceRow
		var raw []byte
		if err := rows.Scan(&r.endpoint, &r.status, &raw); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &r.payload); err != nil {
				r.payload = nil
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source rows: %w", err)
	}
	return out, nil
}

func (c *Copier) auditCopy(ctx context.Context, p CopyParams, status domain.AuditStatus, rows *int) {
	if c.trail == nil {
		return
	}
	_ = c.trail.Log(ctx, audit.Event{
		DagID:         p.DagID,
		RunID:         p.TargetRunID,
		Layer:         domain.LayerRaw,
		Entity:        "raw_football_api_copy",
		Status:        status,
		RowsProcessed: rows,
	})
}
