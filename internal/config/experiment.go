package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Iteration kinds. Every iteration in an experiment plan must carry one.
const (
	IterSnapshot    = "snapshot"
	IterStgMutation = "stg_mutation"
	IterDdsMutation = "dds_mutation"
)

// ExperimentConfig is one experiment plan: a frozen baseline, shared
// defaults, and an ordered list of iterations.
type ExperimentConfig struct {
	Name     string             `yaml:"name"`
	Baseline ExperimentBaseline `yaml:"baseline"`
	Defaults ExperimentDefaults `yaml:"defaults"`
	Iterations []Iteration      `yaml:"iterations"`
}

type ExperimentBaseline struct {
	StgRunID      string   `yaml:"stg_run_id"`
	DdsRunID      string   `yaml:"dds_run_id"`
	SnapshotViews []string `yaml:"snapshot_views"`
}

type ExperimentDefaults struct {
	DagIDStg           string `yaml:"dag_id_stg"`
	DagIDDds           string `yaml:"dag_id_dds"`
	SnapshotLimit      int    `yaml:"snapshot_limit"`
	StgMutationConfig  string `yaml:"stg_mutation_config"`
	DdsMutationConfig  string `yaml:"dds_mutation_config"`
	StgValidationConfig string `yaml:"stg_validation_config"`
	DdsValidationConfig string `yaml:"dds_validation_config"`
	OutputDir          string `yaml:"output_dir"`
}

// Iteration configures one experiment step. Only the fields matching its
// kind are honored; mutation enables and validation overrides are scoped to
// the iteration and reverted afterwards.
type Iteration struct {
	Name         string `yaml:"name"`
	Kind         string `yaml:"kind"`
	FromStgRunID string `yaml:"from_stg_run_id"`

	StgMutationConfig string              `yaml:"stg_mutation_config"`
	DdsMutationConfig string              `yaml:"dds_mutation_config"`
	StgMutationsEnable map[string][]string `yaml:"stg_mutations_enable"`
	DdsMutationsEnable []string            `yaml:"dds_mutations_enable"`

	RunStgValidation       *bool           `yaml:"run_stg_validation"`
	RunDdsValidation       *bool           `yaml:"run_dds_validation"`
	StgValidationOverrides map[string]bool `yaml:"stg_validation_overrides"`
	DdsValidationOverrides map[string]bool `yaml:"dds_validation_overrides"`

	SnapshotViews []string `yaml:"snapshot_views"`
}

func (it Iteration) WantStgValidation() bool {
	return it.RunStgValidation == nil || *it.RunStgValidation
}

func (it Iteration) WantDdsValidation() bool {
	return it.RunDdsValidation == nil || *it.RunDdsValidation
}

func LoadExperimentConfig(resolver *Resolver, path string) (*ExperimentConfig, error) {
	resolved, err := resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read experiment config: %w", err)
	}
	return ParseExperimentConfig(raw)
}

func ParseExperimentConfig(raw []byte) (*ExperimentConfig, error) {
	var cfg ExperimentConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse experiment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ExperimentConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("experiment config is nil")
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("experiment name is required")
	}
	if strings.TrimSpace(c.Baseline.StgRunID) == "" {
		return fmt.Errorf("baseline stg_run_id is required")
	}
	if len(c.Iterations) == 0 {
		return fmt.Errorf("experiment %s has no iterations", c.Name)
	}
	seen := make(map[string]struct{}, len(c.Iterations))
	for i, it := range c.Iterations {
		if strings.TrimSpace(it.Name) == "" {
			return fmt.Errorf("iteration %d has no name", i)
		}
		if _, dup := seen[it.Name]; dup {
			return fmt.Errorf("duplicate iteration name %q", it.Name)
		}
		seen[it.Name] = struct{}{}
		switch it.Kind {
		case IterSnapshot, IterStgMutation, IterDdsMutation:
		default:
			return fmt.Errorf("iteration %s: unknown kind %q", it.Name, it.Kind)
		}
		if it.Kind == IterStgMutation && len(it.StgMutationsEnable) == 0 {
			return fmt.Errorf("iteration %s: stg_mutation needs stg_mutations_enable", it.Name)
		}
		if it.Kind == IterDdsMutation && len(it.DdsMutationsEnable) == 0 {
			return fmt.Errorf("iteration %s: dds_mutation needs dds_mutations_enable", it.Name)
		}
	}
	return nil
}

// SnapshotViewsFor resolves the view list for one iteration, falling back to
// the baseline's list.
func (c *ExperimentConfig) SnapshotViewsFor(it Iteration) []string {
	if len(it.SnapshotViews) > 0 {
		return it.SnapshotViews
	}
	return c.Baseline.SnapshotViews
}
