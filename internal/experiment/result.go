// Package experiment orchestrates data-quality experiments: controlled
// mutation of a baseline run, re-validation, and snapshot comparison of the
// resulting business views.
package experiment

import (
	"time"

	"github.com/goalline-labs/goalline-go/internal/snapshot"
)

// Step statuses. SKIPPED covers both deliberately disabled steps and steps
// never reached after an earlier failure.
const (
	StepSuccess = "SUCCESS"
	StepFailed  = "FAILED"
	StepSkipped = "SKIPPED"
)

// StepResult is one pipeline step of an iteration as shown in the report.
type StepResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ConfigSummary records which mutations and validations were effective for
// one iteration after its overrides were applied.
type ConfigSummary struct {
	StgMutations   map[string][]string `json:"stg_mutations"`
	DdsMutations   []string            `json:"dds_mutations"`
	StgValidations []string            `json:"stg_validations"`
	DdsValidations []string            `json:"dds_validations"`
}

// IterationResult is the full outcome of one iteration: run ids, step log,
// captured snapshots, and the diffs against the baseline capture.
type IterationResult struct {
	IterationNo    int                         `json:"iteration_no"`
	Name           string                      `json:"name"`
	Kind           string                      `json:"kind"`
	StgRunID       string                      `json:"stg_run_id,omitempty"`
	DdsRunID       string                      `json:"dds_run_id,omitempty"`
	Status         string                      `json:"status"`
	ErrorMessage   string                      `json:"error_message,omitempty"`
	Configs        ConfigSummary               `json:"configs"`
	Snapshots      map[string][]snapshot.Row   `json:"snapshots,omitempty"`
	SnapshotErrors map[string]string           `json:"snapshot_errors,omitempty"`
	Steps          []StepResult                `json:"steps"`
	Comparisons    map[string]snapshot.Diff    `json:"comparisons,omitempty"`
}

// StoppedAt names the first failed step, or "" when the iteration completed.
func (it IterationResult) StoppedAt() string {
	for _, s := range it.Steps {
		if s.Status == StepFailed {
			return s.Name
		}
	}
	return ""
}

// SuiteSummary describes one configured validation suite.
type SuiteSummary struct {
	Name        string   `json:"name"`
	Entity      string   `json:"entity"`
	Description string   `json:"description,omitempty"`
	Validations []string `json:"validations"`
}

// RuleSummary describes one configured validator.
type RuleSummary struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Severity    string `json:"severity"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// MutationSummary describes one configured mutation entity or defect class.
type MutationSummary struct {
	Entity      string   `json:"entity"`
	Enabled     bool     `json:"enabled"`
	Actions     []string `json:"actions,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Capabilities summarizes the four base config documents so the report can
// show what the harness was able to mutate and check.
type Capabilities struct {
	StgSuites      []SuiteSummary    `json:"stg_suites"`
	DdsSuites      []SuiteSummary    `json:"dds_suites"`
	StgValidations []RuleSummary     `json:"stg_validations"`
	DdsValidations []RuleSummary     `json:"dds_validations"`
	StgMutations   []MutationSummary `json:"stg_mutations"`
	DdsMutations   []MutationSummary `json:"dds_mutations"`
}

// ValidationTime is one aggregated suite duration, read back from the audit
// trail after the iterations ran.
type ValidationTime struct {
	IterationNo   int     `json:"iteration_no"`
	IterationName string  `json:"iteration_name"`
	Layer         string  `json:"layer"`
	Suite         string  `json:"suite"`
	Entity        string  `json:"entity"`
	RunID         string  `json:"run_id"`
	Seconds       float64 `json:"seconds_sum"`
}

// ExperimentResult is everything the report renders.
type ExperimentResult struct {
	Name            string            `json:"name"`
	CreatedAt       time.Time         `json:"created_at"`
	Baseline        IterationResult   `json:"baseline"`
	Iterations      []IterationResult `json:"iterations"`
	Capabilities    Capabilities      `json:"capabilities"`
	ValidationTimes []ValidationTime  `json:"validation_time_summary,omitempty"`
}
