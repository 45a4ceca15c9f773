// Package client talks to the football-data.org v4 API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/goalline-labs/goalline-go/internal/platform/env"
)

const defaultBaseURL = "https://api.football-data.org/v4"

// Config holds API connectivity settings.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("FOOTBALL_API_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	return Config{
		BaseURL: env.String("FOOTBALL_API_BASE_URL", defaultBaseURL),
		APIKey:  env.String("FOOTBALL_API_KEY", ""),
		Timeout: timeout,
	}, nil
}

// Response is one API answer. Payload is nil when the body did not decode
// as a JSON object; callers decide processability from Status and Payload.
type Response struct {
	Endpoint string
	Status   int
	Payload  map[string]any
}

type Football struct {
	http *resty.Client
}

func NewFootball(cfg Config) *Football {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	c := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout).
		SetHeader("X-Auth-Token", cfg.APIKey)
	return &Football{http: c}
}

// Competitions fetches the competition catalogue.
func (f *Football) Competitions(ctx context.Context) (Response, error) {
	return f.get(ctx, "competitions", nil)
}

// Areas fetches the area catalogue.
func (f *Football) Areas(ctx context.Context) (Response, error) {
	return f.get(ctx, "areas", nil)
}

// CompetitionTeams fetches the teams of one competition season.
func (f *Football) CompetitionTeams(ctx context.Context, competitionID, season int) (Response, error) {
	return f.get(ctx, fmt.Sprintf("competitions/%d/teams", competitionID), map[string]string{
		"season": fmt.Sprint(season),
	})
}

// CompetitionScorers fetches the top scorers of one competition season.
func (f *Football) CompetitionScorers(ctx context.Context, competitionID, season, limit int) (Response, error) {
	return f.get(ctx, fmt.Sprintf("competitions/%d/scorers", competitionID), map[string]string{
		"season": fmt.Sprint(season),
		"limit":  fmt.Sprint(limit),
	})
}

// CompetitionMatches fetches the matches of one competition season.
func (f *Football) CompetitionMatches(ctx context.Context, competitionID, season int) (Response, error) {
	return f.get(ctx, fmt.Sprintf("competitions/%d/matches", competitionID), map[string]string{
		"season": fmt.Sprint(season),
	})
}

// CompetitionStandings fetches the standings of one competition season.
func (f *Football) CompetitionStandings(ctx context.Context, competitionID, season int) (Response, error) {
	return f.get(ctx, fmt.Sprintf("competitions/%d/standings", competitionID), map[string]string{
		"season": fmt.Sprint(season),
	})
}

// get performs the request and records the endpoint with its query string,
// matching how raw rows are later classified by endpoint shape. A non-2xx
// status is not an error: the caller persists it for the ingestion checks.
func (f *Football) get(ctx context.Context, path string, params map[string]string) (Response, error) {
	req := f.http.R().SetContext(ctx)
	if len(params) > 0 {
		req.SetQueryParams(params)
	}
	resp, err := req.Get(path)
	if err != nil {
		return Response{}, fmt.Errorf("fetch %s: %w", path, err)
	}

	endpoint := path
	if qs := resp.Request.RawRequest.URL.RawQuery; qs != "" {
		endpoint = path + "?" + qs
	}

	var payload map[string]any
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		payload = nil
	}
	return Response{Endpoint: endpoint, Status: resp.StatusCode(), Payload: payload}, nil
}
