// Package ingest pulls the football-data.org catalogue into the raw staging
// layer for one run.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/goalline-labs/goalline-go/internal/audit"
	"github.com/goalline-labs/goalline-go/internal/client"
	"github.com/goalline-labs/goalline-go/internal/config"
	"github.com/goalline-labs/goalline-go/internal/domain"
	"github.com/goalline-labs/goalline-go/internal/loader"
	"github.com/goalline-labs/goalline-go/internal/mutate"
	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
	"github.com/goalline-labs/goalline-go/internal/validate"
)

var (
	defaultSeasons      = []int{2023, 2024, 2025}
	defaultScorersLimit = 50

	// stgSuites run after ingestion in this order; the first error-severity
	// failure aborts the remainder.
	stgSuites = []string{
		"ingestion_suite",
		"schema_suite",
		"completeness_suite",
		"uniqueness_suite",
		"consistency_suite",
	}
)

type fetcher interface {
	Competitions(ctx context.Context) (client.Response, error)
	Areas(ctx context.Context) (client.Response, error)
	CompetitionTeams(ctx context.Context, competitionID, season int) (client.Response, error)
	CompetitionScorers(ctx context.Context, competitionID, season, limit int) (client.Response, error)
	CompetitionMatches(ctx context.Context, competitionID, season int) (client.Response, error)
	CompetitionStandings(ctx context.Context, competitionID, season int) (client.Response, error)
}

type runMarker interface {
	Transition(ctx context.Context, dagID, runID, parentRunID, layer string, status domain.RunStatus, errorMessage string) error
}

type auditSink interface {
	Log(ctx context.Context, e audit.Event) error
}

// Pipeline runs one ingestion pass: catalogue endpoints first, then the
// per-competition season endpoints, each behind the shared rate limiter.
type Pipeline struct {
	db       postgres.DB
	api      fetcher
	limiter  *client.RateLimiter
	runs     runMarker
	trail    auditSink
	injector *mutate.PayloadInjector
	suites   *validate.SuiteRunner
	log      *slog.Logger
}

func NewPipeline(db postgres.DB, api fetcher, limiter *client.RateLimiter, runs runMarker, trail auditSink, injector *mutate.PayloadInjector, suites *validate.SuiteRunner, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{db: db, api: api, limiter: limiter, runs: runs, trail: trail, injector: injector, suites: suites, log: log}
}

// Params configures one ingestion run. Mutations is consulted only when
// ApplyMutations is set; Validations only when RunValidations is set.
type Params struct {
	DagID          string
	RunID          string
	ApplyMutations bool
	Mutations      *config.MutationDoc
	RunValidations bool
	Validations    *config.ValidationDoc
	Seasons        []int
	ScorersLimit   int
}

// Run ingests the full catalogue under one raw-layer registry row. A
// non-2xx answer on a season endpoint skips the rest of that competition's
// season; any other failure flips the run to FAILED and propagates.
func (pl *Pipeline) Run(ctx context.Context, p Params) (int, error) {
	if pl == nil || pl.db == nil {
		return 0, fmt.Errorf("ingestion pipeline not initialized")
	}
	if p.DagID == "" || p.RunID == "" {
		return 0, fmt.Errorf("dag id and run id are required")
	}
	if p.ApplyMutations && p.Mutations == nil {
		return 0, fmt.Errorf("mutations requested without a mutation config")
	}
	if p.RunValidations && p.Validations == nil {
		return 0, fmt.Errorf("validations requested without a validation config")
	}
	seasons := p.Seasons
	if len(seasons) == 0 {
		seasons = defaultSeasons
	}
	scorersLimit := p.ScorersLimit
	if scorersLimit <= 0 {
		scorersLimit = defaultScorersLimit
	}

	pl.auditRun(ctx, p, domain.AuditStarted, "", nil)
	if err := pl.runs.Transition(ctx, p.DagID, p.RunID, p.RunID, domain.LayerRaw, domain.RunNew, ""); err != nil {
		return 0, err
	}
	if err := pl.runs.Transition(ctx, p.DagID, p.RunID, p.RunID, domain.LayerRaw, domain.RunProcessing, ""); err != nil {
		return 0, err
	}

	rows, err := pl.ingest(ctx, p, seasons, scorersLimit)
	if err != nil {
		pl.auditRun(ctx, p, domain.AuditFailed, err.Error(), nil)
		_ = pl.runs.Transition(ctx, p.DagID, p.RunID, p.RunID, domain.LayerRaw, domain.RunFailed, err.Error())
		return rows, err
	}

	pl.auditRun(ctx, p, domain.AuditSuccess, "", &rows)
	if err := pl.runs.Transition(ctx, p.DagID, p.RunID, p.RunID, domain.LayerRaw, domain.RunSuccess, ""); err != nil {
		return rows, err
	}
	return rows, nil
}

func (pl *Pipeline) ingest(ctx context.Context, p Params, seasons []int, scorersLimit int) (int, error) {
	rowsProcessed := 0
	payloads := map[string]map[string]any{}

	comp, rows, _, err := pl.fetchAndLoad(ctx, p, "competitions", func(ctx context.Context) (client.Response, error) {
		return pl.api.Competitions(ctx)
	})
	if err != nil {
		return rowsProcessed, err
	}
	rowsProcessed += rows
	if p.RunValidations {
		capture(payloads, "competitions", comp.Payload, true)
	}

	areas, rows, _, err := pl.fetchAndLoad(ctx, p, "areas", func(ctx context.Context) (client.Response, error) {
		return pl.api.Areas(ctx)
	})
	if err != nil {
		return rowsProcessed, err
	}
	rowsProcessed += rows
	if p.RunValidations {
		capture(payloads, "areas", areas.Payload, false)
	}

	competitionIDs := competitionIDs(comp.Payload)
	pl.log.Info("competitions fetched", "count", len(competitionIDs), "run_id", p.RunID)

	for _, competitionID := range competitionIDs {
	seasonLoop:
		for _, season := range seasons {
			steps := []struct {
				kind  string
				fetch func(ctx context.Context) (client.Response, error)
			}{
				{"teams", func(ctx context.Context) (client.Response, error) {
					return pl.api.CompetitionTeams(ctx, competitionID, season)
				}},
				{"scorers", func(ctx context.Context) (client.Response, error) {
					return pl.api.CompetitionScorers(ctx, competitionID, season, scorersLimit)
				}},
				{"matches", func(ctx context.Context) (client.Response, error) {
					return pl.api.CompetitionMatches(ctx, competitionID, season)
				}},
				{"standings", func(ctx context.Context) (client.Response, error) {
					return pl.api.CompetitionStandings(ctx, competitionID, season)
				}},
			}
			for _, step := range steps {
				resp, rows, ok, err := pl.fetchAndLoad(ctx, p, step.kind, step.fetch)
				if err != nil {
					return rowsProcessed, err
				}
				rowsProcessed += rows
				if !ok {
					if resp.Status < 200 || resp.Status >= 300 {
						pl.log.Info("skipping competition season after endpoint error",
							"competition_id", competitionID, "season", season,
							"kind", step.kind, "http_status", resp.Status)
						break seasonLoop
					}
					continue
				}
				if p.RunValidations {
					capture(payloads, step.kind, resp.Payload, true)
				}
			}
		}
	}

	pl.log.Info("ingestion completed", "dag_id", p.DagID, "run_id", p.RunID, "rows", rowsProcessed)

	if p.RunValidations {
		if err := pl.runSuites(ctx, p, payloads); err != nil {
			return rowsProcessed, err
		}
	}
	return rowsProcessed, nil
}

// fetchAndLoad performs one rate-limited fetch, optionally mutates the
// payload, and persists it when processable. ok reports whether the row was
// stored; an unprocessable row is audited as SKIPPED instead.
func (pl *Pipeline) fetchAndLoad(ctx context.Context, p Params, kind string, fetch func(ctx context.Context) (client.Response, error)) (client.Response, int, bool, error) {
	waited, err := pl.limiter.Wait(ctx)
	if err != nil {
		return client.Response{}, 0, false, err
	}
	if waited > 0 {
		pl.log.Info("rate limit wait", "kind", kind, "waited", waited)
	}

	resp, err := fetch(ctx)
	if err != nil {
		return resp, 0, false, err
	}
	pl.log.Info("fetched", "endpoint", resp.Endpoint, "http_status", resp.Status)

	if p.ApplyMutations {
		mutated, _, err := pl.injector.Mutate(ctx, p.Mutations, p.DagID, p.RunID, domain.LayerRaw, kind, resp.Payload)
		if err != nil {
			return resp, 0, false, err
		}
		resp.Payload = mutated
	}

	if reason, ok := processable(kind, resp); !ok {
		if pl.trail != nil {
			_ = pl.trail.Log(ctx, audit.Event{
				DagID:   p.DagID,
				RunID:   p.RunID,
				Layer:   domain.LayerRaw,
				Entity:  fmt.Sprintf("raw_football_api_skip_%s", kind),
				Status:  domain.AuditSkipped,
				Message: fmt.Sprintf("%s: %s", resp.Endpoint, reason),
			})
		}
		return resp, 0, false, nil
	}

	rows, err := loader.InsertRaw(ctx, pl.db, loader.RawRecord{
		Endpoint:   resp.Endpoint,
		HTTPStatus: resp.Status,
		Payload:    resp.Payload,
		Params:     map[string]string{"dag_id": p.DagID, "run_id": p.RunID},
	})
	if err != nil {
		return resp, 0, false, err
	}
	return resp, int(rows), true, nil
}

// processable gates persistence: the row must be a 2xx JSON object carrying
// the collection key the warehouse steps read.
func processable(kind string, resp client.Response) (string, bool) {
	if resp.Status < 200 || resp.Status >= 300 {
		return fmt.Sprintf("http_status=%d", resp.Status), false
	}
	if resp.Payload == nil {
		return "payload is not an object", false
	}
	if _, ok := resp.Payload[kind]; !ok {
		return fmt.Sprintf("missing key %q", kind), false
	}
	return "ok", true
}

func (pl *Pipeline) runSuites(ctx context.Context, p Params, payloads map[string]map[string]any) error {
	if pl.suites == nil {
		return fmt.Errorf("validations requested without a suite runner")
	}
	for _, suite := range stgSuites {
		_, err := pl.suites.RunSuite(ctx, validate.SuiteParams{
			Doc:         p.Validations,
			Layer:       domain.LayerRaw,
			DagID:       p.DagID,
			RunID:       p.RunID,
			ParentRunID: p.RunID,
			Suite:       suite,
			Payloads:    payloads,
			Input:       validate.Input{DB: pl.db, RunID: p.RunID, ParentRunID: p.RunID},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (pl *Pipeline) auditRun(ctx context.Context, p Params, status domain.AuditStatus, message string, rows *int) {
	if pl.trail == nil {
		return
	}
	_ = pl.trail.Log(ctx, audit.Event{
		DagID:         p.DagID,
		RunID:         p.RunID,
		Layer:         domain.LayerRaw,
		Entity:        "raw_football_api",
		Status:        status,
		Message:       message,
		RowsProcessed: rows,
	})
}

// capture records the latest payload for every validator of one entity so
// the post-ingestion suites inspect what was actually stored.
func capture(payloads map[string]map[string]any, entity string, payload map[string]any, withConsistency bool) {
	suffixes := []string{"schema", "completeness", "uniqueness"}
	if withConsistency {
		suffixes = append(suffixes, "consistency")
	}
	for _, suffix := range suffixes {
		payloads[strings.Join([]string{entity, suffix}, "_")] = payload
	}
}

// competitionIDs extracts the integer competition ids from the catalogue
// payload, preserving API order.
func competitionIDs(payload map[string]any) []int {
	if payload == nil {
		return nil
	}
	arr, ok := payload["competitions"].([]any)
	if !ok {
		return nil
	}
	var out []int
	for _, item := range arr {
		comp, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch id := comp["id"].(type) {
		case float64:
			out = append(out, int(id))
		case int:
			out = append(out, id)
		}
	}
	return out
}
