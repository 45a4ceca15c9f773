package mutate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/goalline-labs/goalline-go/internal/config"
)

func TestMutatedRowsNeverOverwriteRealData(t *testing.T) {
	if !strings.Contains(insertMutatedMatchQuery, "ON CONFLICT (run_id, match_id) DO NOTHING") {
		t.Fatal("fact_match insert must skip on conflict")
	}
	if !strings.Contains(insertMutatedStandingQuery, "DO NOTHING") {
		t.Fatal("fact_standing insert must skip on conflict")
	}
}

func TestMatchDefectBreaksReferencesAndRange(t *testing.T) {
	if !strings.Contains(breakMutatedMatchQuery, "matchday = 999") {
		t.Fatal("expected out-of-range matchday")
	}
	if !strings.Contains(breakMutatedMatchQuery, "home_team_id = NULL") ||
		!strings.Contains(breakMutatedMatchQuery, "away_team_id = NULL") {
		t.Fatal("expected team references to be nulled")
	}
}

func TestDateDefectScopedToRun(t *testing.T) {
	for _, q := range []string{nullifySeasonDatesQuery, nullifyMatchDatesQuery} {
		if !strings.Contains(q, "run_id = $1") {
			t.Fatalf("date mutation must stay scoped to one run: %s", q)
		}
	}
}

func TestRepresentativePrefersBusiestCompetition(t *testing.T) {
	if !strings.Contains(pickCompetitionQuery, "ORDER BY COUNT(*) DESC") {
		t.Fatal("expected the most populated competition to anchor mutations")
	}
}

type execStub struct {
	err     error
	queries []string
}

func (s *execStub) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	s.queries = append(s.queries, query)
	if s.err != nil {
		return nil, s.err
	}
	return nil, nil
}

func (s *execStub) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, nil
}

func (s *execStub) QueryRowContext(context.Context, string, ...any) *sql.Row { return nil }

func seasonDatesDoc() *config.MutationDoc {
	return &config.MutationDoc{
		Layers: map[string]config.MutationLayer{
			"DDS": {Mutations: map[string]config.MutationEntity{
				"season_dates_missing": {Enabled: true},
			}},
		},
	}
}

func TestConstraintConflictIsRecordedAsSkip(t *testing.T) {
	exec := &execStub{err: fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505", Message: "duplicate key"})}
	rec := &trailRecorder{}
	inj := NewWarehouseInjector(rec)

	mutated, err := inj.Mutate(context.Background(), exec, seasonDatesDoc(), "dag", "run_1")
	if err != nil {
		t.Fatalf("constraint conflict must not fail the pass: %v", err)
	}
	if !mutated {
		t.Fatal("a skipped class still counts as a mutation attempt")
	}
	if len(rec.events) != 1 {
		t.Fatalf("audit events = %d, want 1", len(rec.events))
	}
	msg := rec.events[0].Message
	if !strings.Contains(msg, "Skipped season_dates_missing mutation (constraint)") {
		t.Fatalf("audit message = %q", msg)
	}
}

func TestUnexpectedSQLErrorAbortsMutation(t *testing.T) {
	exec := &execStub{err: errors.New("connection reset by peer")}
	rec := &trailRecorder{}
	inj := NewWarehouseInjector(rec)

	_, err := inj.Mutate(context.Background(), exec, seasonDatesDoc(), "dag", "run_1")
	if err == nil {
		t.Fatal("a non-constraint SQL error must propagate")
	}
	if !strings.Contains(err.Error(), "season_dates_missing mutation") {
		t.Fatalf("error = %v", err)
	}
	if len(rec.events) != 0 {
		t.Fatalf("no audit event expected on abort, got %d", len(rec.events))
	}
}

func TestConstraintViolationDetection(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: "23505"}, true},
		{&pgconn.PgError{Code: "23503"}, true},
		{fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23502"}), true},
		{&pgconn.PgError{Code: "42703"}, false},
		{errors.New("driver: bad connection"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := isConstraintViolation(c.err); got != c.want {
			t.Fatalf("isConstraintViolation(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
