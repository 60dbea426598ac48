package backend

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
)

// TargetSpec is the configuration of one publish target.
type TargetSpec struct {
	Name             string            `json:"name" yaml:"name"`
	Kind             string            `json:"kind" yaml:"kind"`
	SupportsRollback bool              `json:"supportsRollback" yaml:"supportsRollback"`
	Settings         map[string]string `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Setting returns a setting or def when unset.
func (s TargetSpec) Setting(key, def string) string {
	if v, ok := s.Settings[key]; ok && v != "" {
		return v
	}
	return def
}

// BoolSetting parses a boolean setting, returning def when unset.
func (s TargetSpec) BoolSetting(key string, def bool) (bool, error) {
	v, ok := s.Settings[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: target %q setting %s: %v", ErrInvalidSettings, s.Name, key, err)
	}
	return b, nil
}

// Require returns the named setting or an error when it is empty.
func (s TargetSpec) Require(key string) (string, error) {
	v := s.Settings[key]
	if v == "" {
		return "", fmt.Errorf("%w: target %q requires setting %q", ErrInvalidSettings, s.Name, key)
	}
	return v, nil
}

// Factory builds an adapter from a target spec.
type Factory func(ctx context.Context, spec TargetSpec) (Adapter, error)

// Registry maps backend kinds to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register associates kind with f, replacing any previous factory.
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = f
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Build constructs the adapter for spec.
func (r *Registry) Build(ctx context.Context, spec TargetSpec) (Adapter, error) {
	r.mu.RLock()
	f, ok := r.factories[spec.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (target %q)", ErrUnknownKind, spec.Kind, spec.Name)
	}
	a, err := f(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("build target %q: %w", spec.Name, err)
	}
	return a, nil
}

// BuildAll constructs adapters for every spec, in order. Target names must
// be unique.
func (r *Registry) BuildAll(ctx context.Context, specs []TargetSpec) ([]Adapter, error) {
	seen := make(map[string]bool, len(specs))
	out := make([]Adapter, 0, len(specs))
	for _, spec := range specs {
		if spec.Name == "" {
			return nil, fmt.Errorf("%w: target with kind %q has no name", ErrInvalidSettings, spec.Kind)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("%w: duplicate target name %q", ErrInvalidSettings, spec.Name)
		}
		seen[spec.Name] = true
		a, err := r.Build(ctx, spec)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
