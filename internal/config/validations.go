package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/goalline-labs/goalline-go/internal/domain"
	"gopkg.in/yaml.v3"
)

// ValidationDoc is one validation config document.
type ValidationDoc struct {
	Layers map[string]ValidationLayer `yaml:"layers"`
}

type ValidationLayer struct {
	Suites      map[string]SuiteSpec `yaml:"suites"`
	Validations map[string]RuleSpec  `yaml:"validations"`
}

// SuiteSpec groups validators under one audited entity name.
type SuiteSpec struct {
	Entity      string   `yaml:"entity"`
	Description string   `yaml:"description"`
	Validations []string `yaml:"validations"`
}

// RuleSpec configures one validator. Enabled defaults to true when omitted;
// severity defaults to error.
type RuleSpec struct {
	Enabled     *bool  `yaml:"enabled"`
	Severity    string `yaml:"severity"`
	Type        string `yaml:"type"`
	Entity      string `yaml:"entity"`
	Description string `yaml:"description"`
}

func (r RuleSpec) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

func (r RuleSpec) ParsedSeverity() domain.Severity {
	return domain.ParseSeverity(r.Severity)
}

func LoadValidationDoc(resolver *Resolver, path string) (*ValidationDoc, error) {
	resolved, err := resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read validation config: %w", err)
	}
	return ParseValidationDoc(raw)
}

func ParseValidationDoc(raw []byte) (*ValidationDoc, error) {
	var doc ValidationDoc
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse validation config: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *ValidationDoc) Validate() error {
	if d == nil {
		return nil
	}
	for layer, lc := range d.Layers {
		for name, rule := range lc.Validations {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("layer %s: validator name is empty", layer)
			}
			sev := strings.ToLower(strings.TrimSpace(rule.Severity))
			if sev != "" && sev != string(domain.SeverityError) && sev != string(domain.SeverityWarning) {
				return fmt.Errorf("layer %s validator %s: unknown severity %q", layer, name, rule.Severity)
			}
		}
		for suite, spec := range lc.Suites {
			for _, v := range spec.Validations {
				if _, ok := lc.Validations[v]; !ok {
					return fmt.Errorf("layer %s suite %s: references unknown validator %q", layer, suite, v)
				}
			}
		}
	}
	return nil
}

// Rule returns the spec for one validator; ok is false when the validator is
// not configured at all.
func (d *ValidationDoc) Rule(layer, name string) (RuleSpec, bool) {
	if d == nil {
		return RuleSpec{}, false
	}
	lc, ok := d.Layers[layer]
	if !ok {
		return RuleSpec{}, false
	}
	rule, ok := lc.Validations[name]
	return rule, ok
}

// EnabledNames lists enabled validators for a layer in stable order.
func (d *ValidationDoc) EnabledNames(layer string) []string {
	if d == nil {
		return nil
	}
	var out []string
	for name, rule := range d.Layers[layer].Validations {
		if rule.IsEnabled() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// SuiteEntities lists the audited entity name of every suite in a layer,
// sorted by suite name; the map resolves entity -> suite name.
func (d *ValidationDoc) SuiteEntities(layer string) ([]string, map[string]string) {
	if d == nil {
		return nil, nil
	}
	lc := d.Layers[layer]
	suiteNames := make([]string, 0, len(lc.Suites))
	for name := range lc.Suites {
		suiteNames = append(suiteNames, name)
	}
	sort.Strings(suiteNames)

	var entities []string
	byEntity := make(map[string]string, len(lc.Suites))
	for _, name := range suiteNames {
		entity := strings.TrimSpace(lc.Suites[name].Entity)
		if entity == "" {
			entity = name
		}
		entities = append(entities, entity)
		byEntity[entity] = name
	}
	return entities, byEntity
}

// WithOverrides deep-copies the document and flips enabled flags for the
// named validators within one layer.
func (d *ValidationDoc) WithOverrides(layer string, overrides map[string]bool) *ValidationDoc {
	out := d.clone()
	lc := out.Layers[layer]
	if lc.Validations == nil {
		lc.Validations = map[string]RuleSpec{}
	}
	for name, enabled := range overrides {
		rule := lc.Validations[name]
		e := enabled
		rule.Enabled = &e
		lc.Validations[name] = rule
	}
	if out.Layers == nil {
		out.Layers = map[string]ValidationLayer{}
	}
	out.Layers[layer] = lc
	return out
}

func (d *ValidationDoc) clone() *ValidationDoc {
	out := &ValidationDoc{Layers: map[string]ValidationLayer{}}
	if d == nil {
		return out
	}
	for layer, lc := range d.Layers {
		nl := ValidationLayer{
			Suites:      make(map[string]SuiteSpec, len(lc.Suites)),
			Validations: make(map[string]RuleSpec, len(lc.Validations)),
		}
		for name, spec := range lc.Suites {
			spec.Validations = append([]string(nil), spec.Validations...)
			nl.Suites[name] = spec
		}
		for name, rule := range lc.Validations {
			if rule.Enabled != nil {
				e := *rule.Enabled
				rule.Enabled = &e
			}
			nl.Validations[name] = rule
		}
		out.Layers[layer] = nl
	}
	return out
}
