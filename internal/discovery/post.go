package discovery

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goalline-labs/goalline-go/internal/domain"
)

const latestBaselineRawQuery = `
SELECT run_id
FROM tech.run_status
WHERE layer = 'STG'
  AND status = 'SUCCESS'
  AND run_id = parent_run_id
  AND run_id NOT LIKE 'exp_%'
ORDER BY created_at DESC
LIMIT 1`

// PostTarget is one warehouse run post-validation should compare against its
// baseline.
type PostTarget struct {
	BaselineStgRunID string
	StgRunID         string
	DdsRunID         string
	Kind             domain.Kind
}

// PostParams selects post-validation targets. When BaselineStgRunID is empty
// the most recent self-parented successful raw run is used.
type PostParams struct {
	BaselineStgRunID string
	OnlyUnprocessed  bool
	ProcessedLayer   string
}

// PostTargets discovers baseline and experiment warehouse runs for the
// post-validation layer, deduplicated by warehouse run id.
func (f *Finder) PostTargets(ctx context.Context, p PostParams) ([]PostTarget, error) {
	if f == nil || f.db == nil {
		return nil, fmt.Errorf("discovery finder not initialized")
	}
	processedLayer := p.ProcessedLayer
	if processedLayer == "" {
		processedLayer = domain.LayerPost
	}

	baselineStg := p.BaselineStgRunID
	if baselineStg == "" {
		err := f.db.QueryRowContext(ctx, latestBaselineRawQuery).Scan(&baselineStg)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("resolve latest baseline raw run: %w", err)
		}
	}

	baselineDds, err := f.resolveBaselineWarehouse(ctx, baselineStg)
	if err != nil {
		return nil, err
	}

	var candidates []PostTarget
	if baselineDds != "" {
		candidates = append(candidates, PostTarget{
			BaselineStgRunID: baselineStg,
			StgRunID:         baselineStg,
			DdsRunID:         baselineDds,
			Kind:             domain.KindBaseline,
		})
	}

	pairs, err := f.experimentWarehousePairs(ctx, baselineStg)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(pairs))
	for _, pair := range pairs {
		if _, dup := seen[pair.runID]; dup {
			continue
		}
		seen[pair.runID] = struct{}{}
		candidates = append(candidates, PostTarget{
			BaselineStgRunID: baselineStg,
			StgRunID:         pair.parentRunID,
			DdsRunID:         pair.runID,
			Kind:             domain.KindExperiment,
		})
	}

	if !p.OnlyUnprocessed || len(candidates) == 0 {
		return candidates, nil
	}

	ddsIDs := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ddsIDs = append(ddsIDs, c.DdsRunID)
	}
	processed, err := f.processedSet(ctx, processedLayer, ddsIDs)
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, c := range candidates {
		if !processed[c.DdsRunID] {
			out = append(out, c)
		}
	}
	return out, nil
}
