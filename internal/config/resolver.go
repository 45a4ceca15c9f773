// Package config holds the declarative YAML documents driving mutation,
// validation and experiment behavior. Documents are parsed eagerly into
// typed structs and validated at load time; per-iteration overrides are an
// explicit value pushed onto a scope, never process-global state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Resolver locates relative config paths against a fixed set of search roots.
type Resolver struct {
	Roots []string
}

func NewResolver(roots ...string) *Resolver {
	out := make([]string, 0, len(roots))
	seen := make(map[string]struct{}, len(roots))
	for _, r := range roots {
		if r == "" {
			continue
		}
		abs, err := filepath.Abs(r)
		if err != nil {
			abs = r
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	return &Resolver{Roots: out}
}

// DefaultResolver searches the working directory and its configs/ subdir.
func DefaultResolver() *Resolver {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return NewResolver(wd, filepath.Join(wd, "configs"))
}

// Resolve returns the first existing candidate for path. Absolute paths pass
// through untouched; a relative path that exists under no root resolves to
// its first candidate so the caller's open error names a concrete file.
func (r *Resolver) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("config path is empty")
	}
	if filepath.IsAbs(path) {
		return path, nil
	}
	if r == nil || len(r.Roots) == 0 {
		return path, nil
	}
	first := ""
	for _, root := range r.Roots {
		candidate := filepath.Join(root, path)
		if first == "" {
			first = candidate
		}
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return first, nil
}
