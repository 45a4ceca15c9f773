package validate

import (
	"context"
	"fmt"
	"sort"

	"github.com/goalline-labs/goalline-go/internal/platform/postgres"
)

// Key identifies one check within the registry.
type Key struct {
	Layer string
	Name  string
}

// Input is what a check operates on. Payload checks read Payload; SQL-backed
// checks query DB scoped to RunID, with ParentRunID pointing at the raw run
// that fed a warehouse run.
type Input struct {
	DB          postgres.DB
	RunID       string
	ParentRunID string
	Payload     map[string]any
}

// CheckFunc evaluates one rule. A returned error means the check itself
// broke (not that data failed it) and aborts the validation pass.
type CheckFunc func(ctx context.Context, in Input) (*Result, error)

// Registry is a typed check table. Registration happens at construction
// time; an unknown (layer, name) pair is a configuration error surfaced by
// the runner, never a dynamic lookup failure.
type Registry struct {
	checks map[Key]CheckFunc
}

func NewRegistry() *Registry {
	return &Registry{checks: make(map[Key]CheckFunc)}
}

func (r *Registry) Register(layer, name string, fn CheckFunc) error {
	if fn == nil {
		return fmt.Errorf("check %s/%s is nil", layer, name)
	}
	key := Key{Layer: layer, Name: name}
	if _, dup := r.checks[key]; dup {
		return fmt.Errorf("check %s/%s registered twice", layer, name)
	}
	r.checks[key] = fn
	return nil
}

func (r *Registry) mustRegister(layer, name string, fn CheckFunc) {
	if err := r.Register(layer, name, fn); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(layer, name string) (CheckFunc, bool) {
	if r == nil {
		return nil, false
	}
	fn, ok := r.checks[Key{Layer: layer, Name: name}]
	return fn, ok
}

// Names lists registered check names for a layer in stable order.
func (r *Registry) Names(layer string) []string {
	if r == nil {
		return nil
	}
	var out []string
	for key := range r.checks {
		if key.Layer == layer {
			out = append(out, key.Name)
		}
	}
	sort.Strings(out)
	return out
}
