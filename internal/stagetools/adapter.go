// Package stagetools runs data-quality tool sessions against discovered
// pipeline runs, one registry row per (tool layer, target run).
package stagetools

import (
	"context"

	"github.com/goalline-labs/goalline-go/internal/discovery"
	"github.com/goalline-labs/goalline-go/internal/domain"
)

// TargetReport is one target's outcome under one tool.
type TargetReport struct {
	RunID       string
	ParentRunID string
	Stage       domain.Stage
	Kind        domain.Kind
	Status      domain.RunStatus
	ReportPath  string
	Error       string
}

// TargetParams frames one adapter pass over a discovered target set.
type TargetParams struct {
	DagID     string
	Stage     domain.Stage
	Layer     string
	Targets   []discovery.StageTarget
	OutputDir string
}

// Adapter is one validation tool. A target failure must be reported, not
// returned: the error return is for infrastructure faults only, and an
// adapter keeps processing the remaining targets after a bad one.
type Adapter interface {
	Name() string
	RunTargets(ctx context.Context, p TargetParams) ([]TargetReport, error)
}
