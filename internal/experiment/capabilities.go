package experiment

import (
	"sort"
	"strings"

	"github.com/goalline-labs/goalline-go/internal/config"
	"github.com/goalline-labs/goalline-go/internal/domain"
)

func buildCapabilities(b config.Bundle) Capabilities {
	return Capabilities{
		StgSuites:      suiteSummaries(b.StgValidations, domain.LayerRaw),
		DdsSuites:      suiteSummaries(b.DdsValidations, domain.LayerWarehouse),
		StgValidations: ruleSummaries(b.StgValidations, domain.LayerRaw),
		DdsValidations: ruleSummaries(b.DdsValidations, domain.LayerWarehouse),
		StgMutations:   mutationSummaries(b.StgMutations, domain.LayerRaw),
		DdsMutations:   mutationSummaries(b.DdsMutations, domain.LayerWarehouse),
	}
}

func suiteSummaries(doc *config.ValidationDoc, layer string) []SuiteSummary {
	if doc == nil {
		return nil
	}
	lc := doc.Layers[layer]
	names := make([]string, 0, len(lc.Suites))
	for name := range lc.Suites {
		if strings.TrimSpace(name) != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make([]SuiteSummary, 0, len(names))
	for _, name := range names {
		spec := lc.Suites[name]
		entity := strings.TrimSpace(spec.Entity)
		if entity == "" {
			entity = name
		}
		out = append(out, SuiteSummary{
			Name:        name,
			Entity:      entity,
			Description: strings.TrimSpace(spec.Description),
			Validations: append([]string(nil), spec.Validations...),
		})
	}
	return out
}

func ruleSummaries(doc *config.ValidationDoc, layer string) []RuleSummary {
	if doc == nil {
		return nil
	}
	lc := doc.Layers[layer]
	names := make([]string, 0, len(lc.Validations))
	for name := range lc.Validations {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]RuleSummary, 0, len(names))
	for _, name := range names {
		rule := lc.Validations[name]
		out = append(out, RuleSummary{
			Name:        name,
			Enabled:     rule.IsEnabled(),
			Severity:    string(rule.ParsedSeverity()),
			Type:        rule.Type,
			Description: strings.TrimSpace(rule.Description),
		})
	}
	return out
}

func mutationSummaries(doc *config.MutationDoc, layer string) []MutationSummary {
	if doc == nil {
		return nil
	}
	lc := doc.Layers[layer]
	names := make([]string, 0, len(lc.Mutations))
	for name := range lc.Mutations {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]MutationSummary, 0, len(names))
	for _, name := range names {
		mc := lc.Mutations[name]
		out = append(out, MutationSummary{
			Entity:      name,
			Enabled:     mc.Enabled,
			Actions:     append([]string(nil), mc.Actions...),
			Description: strings.TrimSpace(mc.Description),
		})
	}
	return out
}
