package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ToolsConfig drives stage-tool validation sessions: which external tools
// run against which ETL stages, and how targets are selected.
type ToolsConfig struct {
	Name     string        `yaml:"name"`
	Baseline ToolsBaseline `yaml:"baseline"`
	Defaults ToolsDefaults `yaml:"defaults"`
}

type ToolsBaseline struct {
	StgRunID string `yaml:"stg_run_id"`
	DdsRunID string `yaml:"dds_run_id"`
}

type ToolsDefaults struct {
	OutputDir          string              `yaml:"output_dir"`
	IncludeExperiments bool                `yaml:"include_experiments"`
	OnlyUnprocessed    bool                `yaml:"only_unprocessed"`
	Repeats            int                 `yaml:"repeats"`
	ToolsByStage       map[string][]string `yaml:"tools_by_stage"`
}

func LoadToolsConfig(resolver *Resolver, path string) (*ToolsConfig, error) {
	resolved, err := resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read tools config: %w", err)
	}
	return ParseToolsConfig(raw)
}

func ParseToolsConfig(raw []byte) (*ToolsConfig, error) {
	var cfg ToolsConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse tools config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ToolsConfig) Validate() error {
	if c == nil {
		return fmt.Errorf("tools config is nil")
	}
	if strings.TrimSpace(c.Baseline.StgRunID) == "" {
		return fmt.Errorf("baseline stg_run_id is required")
	}
	if c.Defaults.Repeats < 0 {
		return fmt.Errorf("repeats must be >= 0")
	}
	for stage, tools := range c.Defaults.ToolsByStage {
		s := strings.ToUpper(strings.TrimSpace(stage))
		if s != "E" && s != "T" && s != "L" {
			return fmt.Errorf("unknown stage %q in tools_by_stage", stage)
		}
		if len(tools) == 0 {
			return fmt.Errorf("stage %s has no tools", stage)
		}
	}
	return nil
}

// ToolsFor returns the configured tool names for one stage.
func (c *ToolsConfig) ToolsFor(stage string) []string {
	if c == nil {
		return nil
	}
	for key, tools := range c.Defaults.ToolsByStage {
		if strings.EqualFold(strings.TrimSpace(key), stage) {
			return tools
		}
	}
	return nil
}
