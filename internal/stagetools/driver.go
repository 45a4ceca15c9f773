package stagetools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/goalline-labs/goalline-go/internal/config"
	"github.com/goalline-labs/goalline-go/internal/discovery"
	"github.com/goalline-labs/goalline-go/internal/domain"
)

type targetFinder interface {
	StageTargets(ctx context.Context, p discovery.StageParams) ([]discovery.StageTarget, error)
}

type purger interface {
	Purge(ctx context.Context, layer string, runIDs []string) error
}

type valPurger interface {
	Purge(ctx context.Context, dagID, layer string, runIDs []string) error
}

// Summary reports one stage-tool session.
type Summary struct {
	Stage   domain.Stage
	Tool    string
	Status  string
	Reason  string
	Targets int
	Success int
	Failed  int
	Repeats int
	Reports []TargetReport
}

// Driver wires discovery, the run registry, and the tool adapters into one
// session entry point.
type Driver struct {
	finder   targetFinder
	registry purger
	valstore valPurger
	adapters map[string]Adapter
	log      *slog.Logger
}

func NewDriver(finder targetFinder, registry purger, valstore valPurger, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	return &Driver{
		finder:   finder,
		registry: registry,
		valstore: valstore,
		adapters: map[string]Adapter{},
		log:      log,
	}
}

func (d *Driver) Register(a Adapter) {
	d.adapters[strings.ToLower(a.Name())] = a
}

// SessionParams names one tool session.
type SessionParams struct {
	Stage     domain.Stage
	Tool      string
	Config    *config.ToolsConfig
	OutputDir string
	DagID     string
}

// RunStageTool discovers the stage's targets and runs one tool over them,
// repeating the pass when repeats asks for it. Repeated sessions purge the
// previous attempts first so timing comparisons start clean.
func (d *Driver) RunStageTool(ctx context.Context, p SessionParams) (Summary, error) {
	tool := strings.ToLower(strings.TrimSpace(p.Tool))
	summary := Summary{Stage: p.Stage, Tool: tool}
	if p.Config == nil {
		return summary, fmt.Errorf("tools config is required")
	}

	if !toolConfigured(p.Config, string(p.Stage), tool) {
		summary.Status = "SKIPPED"
		summary.Reason = "tool disabled in config"
		return summary, nil
	}
	adapter, ok := d.adapters[tool]
	if !ok {
		return summary, fmt.Errorf("unsupported tool %q", tool)
	}

	layer := domain.ValidationLayer(p.Stage, tool)
	dagID := p.DagID
	if dagID == "" {
		dagID = fmt.Sprintf("etl_stage_validation_%s", tool)
	}
	outputDir := p.OutputDir
	if outputDir == "" {
		outputDir = p.Config.Defaults.OutputDir
	}

	repeats := p.Config.Defaults.Repeats
	if repeats < 1 {
		repeats = 1
	}
	summary.Repeats = repeats

	// a repeated session revisits every target, so the processed filter
	// only applies to single passes
	onlyUnprocessed := p.Config.Defaults.OnlyUnprocessed && repeats == 1
	targets, err := d.finder.StageTargets(ctx, discovery.StageParams{
		BaselineStgRunID:   p.Config.Baseline.StgRunID,
		BaselineDdsRunID:   p.Config.Baseline.DdsRunID,
		Stage:              p.Stage,
		IncludeExperiments: p.Config.Defaults.IncludeExperiments,
		OnlyUnprocessed:    onlyUnprocessed,
		ProcessedLayer:     layer,
	})
	if err != nil {
		return summary, err
	}
	if len(targets) == 0 {
		summary.Status = "EMPTY"
		summary.Reason = "no targets"
		return summary, nil
	}

	if repeats > 1 {
		runIDs := make([]string, 0, len(targets))
		for _, t := range targets {
			runIDs = append(runIDs, t.RunID)
		}
		if err := d.valstore.Purge(ctx, dagID, layer, runIDs); err != nil {
			return summary, fmt.Errorf("purge validation runs: %w", err)
		}
		if err := d.registry.Purge(ctx, layer, runIDs); err != nil {
			return summary, fmt.Errorf("purge registry rows: %w", err)
		}
	}

	var reports []TargetReport
	for repeat := 1; repeat <= repeats; repeat++ {
		d.log.Info("stage tool pass", "stage", string(p.Stage), "tool", tool,
			"repeat", repeat, "targets", len(targets))
		reports, err = adapter.RunTargets(ctx, TargetParams{
			DagID:     dagID,
			Stage:     p.Stage,
			Layer:     layer,
			Targets:   targets,
			OutputDir: outputDir,
		})
		if err != nil {
			return summary, err
		}
	}

	summary.Status = "OK"
	summary.Targets = len(reports)
	summary.Reports = reports
	for _, r := range reports {
		if r.Status == domain.RunSuccess {
			summary.Success++
		} else {
			summary.Failed++
		}
	}
	return summary, nil
}

// toolConfigured treats an absent tools_by_stage map as allow-everything;
// once the map exists, a stage with no entry runs nothing.
func toolConfigured(cfg *config.ToolsConfig, stage, tool string) bool {
	if len(cfg.Defaults.ToolsByStage) == 0 {
		return true
	}
	for _, t := range cfg.ToolsFor(stage) {
		if strings.EqualFold(strings.TrimSpace(t), tool) {
			return true
		}
	}
	return false
}
