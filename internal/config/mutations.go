package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Payload mutation action names. The set is closed: unknown actions are
// rejected at load time.
const (
	ActionDropCollectionKey = "drop_collection_key"
	ActionDuplicateFirst    = "duplicate_first"
	ActionDropRequired      = "drop_required"
	ActionCorruptID         = "corrupt_id"
	ActionOutOfRange        = "out_of_range"
	ActionSwapTeams         = "swap_teams"
)

var knownPayloadActions = map[string]struct{}{
	ActionDropCollectionKey: {},
	ActionDuplicateFirst:    {},
	ActionDropRequired:      {},
	ActionCorruptID:         {},
	ActionOutOfRange:        {},
	ActionSwapTeams:         {},
}

// MutationDoc is one mutation config document.
type MutationDoc struct {
	Layers map[string]MutationLayer `yaml:"layers"`
}

type MutationLayer struct {
	Mutations          map[string]MutationEntity `yaml:"mutations"`
	ActionDescriptions map[string]string         `yaml:"action_descriptions"`
}

// MutationEntity enables an ordered action list for one entity (payload
// mutation) or one defect class (warehouse mutation, no actions).
type MutationEntity struct {
	Enabled         bool     `yaml:"enabled"`
	Actions         []string `yaml:"actions"`
	Description     string   `yaml:"description"`
	SwapSampleCount int      `yaml:"swap_sample_count"`
}

func LoadMutationDoc(resolver *Resolver, path string) (*MutationDoc, error) {
	resolved, err := resolver.Resolve(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read mutation config: %w", err)
	}
	return ParseMutationDoc(raw)
}

func ParseMutationDoc(raw []byte) (*MutationDoc, error) {
	var doc MutationDoc
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse mutation config: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *MutationDoc) Validate() error {
	if d == nil {
		return nil
	}
	for layer, lc := range d.Layers {
		for entity, mc := range lc.Mutations {
			if strings.TrimSpace(entity) == "" {
				return fmt.Errorf("layer %s: mutation entity name is empty", layer)
			}
			for _, a := range mc.Actions {
				if _, ok := knownPayloadActions[a]; !ok {
					return fmt.Errorf("layer %s entity %s: unknown mutation action %q", layer, entity, a)
				}
			}
			if mc.SwapSampleCount < 0 {
				return fmt.Errorf("layer %s entity %s: swap_sample_count must be >= 0", layer, entity)
			}
		}
	}
	return nil
}

// Entity returns the config for one entity within a layer.
func (d *MutationDoc) Entity(layer, entity string) (MutationEntity, bool) {
	if d == nil {
		return MutationEntity{}, false
	}
	lc, ok := d.Layers[layer]
	if !ok {
		return MutationEntity{}, false
	}
	mc, ok := lc.Mutations[entity]
	return mc, ok
}

// Enabled lists enabled entity names for a layer in stable order.
func (d *MutationDoc) Enabled(layer string) []string {
	if d == nil {
		return nil
	}
	var out []string
	for name, mc := range d.Layers[layer].Mutations {
		if mc.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// WithOnly deep-copies the document, disables every mutation in the layer,
// then enables exactly the given entities (with optional action overrides).
// Entities absent from the base document are created.
func (d *MutationDoc) WithOnly(layer string, enable map[string][]string) *MutationDoc {
	out := d.clone()
	lc := out.Layers[layer]
	if lc.Mutations == nil {
		lc.Mutations = map[string]MutationEntity{}
	}
	for name, mc := range lc.Mutations {
		mc.Enabled = false
		lc.Mutations[name] = mc
	}
	for entity, actions := range enable {
		mc := lc.Mutations[entity]
		mc.Enabled = true
		if len(actions) > 0 {
			mc.Actions = append([]string(nil), actions...)
		}
		lc.Mutations[entity] = mc
	}
	if out.Layers == nil {
		out.Layers = map[string]MutationLayer{}
	}
	out.Layers[layer] = lc
	return out
}

func (d *MutationDoc) clone() *MutationDoc {
	out := &MutationDoc{Layers: map[string]MutationLayer{}}
	if d == nil {
		return out
	}
	for layer, lc := range d.Layers {
		nl := MutationLayer{
			Mutations:          make(map[string]MutationEntity, len(lc.Mutations)),
			ActionDescriptions: make(map[string]string, len(lc.ActionDescriptions)),
		}
		for name, mc := range lc.Mutations {
			mc.Actions = append([]string(nil), mc.Actions...)
			nl.Mutations[name] = mc
		}
		for k, v := range lc.ActionDescriptions {
			nl.ActionDescriptions[k] = v
		}
		out.Layers[layer] = nl
	}
	return out
}
