package experiment

import (
	"context"
	"math"
	"sort"

	"github.com/goalline-labs/goalline-go/internal/config"
	"github.com/goalline-labs/goalline-go/internal/domain"
)

// collectValidationTimes reads aggregated suite durations back from the
// audit trail for every iteration run, so the report can compare how long
// each suite spent on mutated data.
func (o *Orchestrator) collectValidationTimes(ctx context.Context, base config.Bundle, iterations []IterationResult) []ValidationTime {
	type layerDoc struct {
		layer string
		doc   *config.ValidationDoc
	}
	docs := []layerDoc{
		{domain.LayerRaw, base.StgValidations},
		{domain.LayerWarehouse, base.DdsValidations},
	}

	var out []ValidationTime
	for _, it := range iterations {
		for _, ld := range docs {
			runID := it.StgRunID
			if ld.layer == domain.LayerWarehouse {
				runID = it.DdsRunID
			}
			if runID == "" || ld.doc == nil {
				continue
			}
			entities, byEntity := ld.doc.SuiteEntities(ld.layer)
			if len(entities) == 0 {
				continue
			}
			durations, err := o.trail.SuiteDurations(ctx, ld.layer, runID, entities)
			if err != nil {
				o.log.Warn("suite durations unavailable", "layer", ld.layer, "run_id", runID, "error", err)
				continue
			}
			for _, d := range durations {
				suite := byEntity[d.Entity]
				if suite == "" {
					suite = d.Entity
				}
				out = append(out, ValidationTime{
					IterationNo:   it.IterationNo,
					IterationName: it.Name,
					Layer:         ld.layer,
					Suite:         suite,
					Entity:        d.Entity,
					RunID:         d.RunID,
					Seconds:       math.Round(d.Seconds*1000) / 1000,
				})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].IterationNo != out[j].IterationNo {
			return out[i].IterationNo < out[j].IterationNo
		}
		if out[i].Layer != out[j].Layer {
			return out[i].Layer < out[j].Layer
		}
		return out[i].Suite < out[j].Suite
	})
	return out
}
