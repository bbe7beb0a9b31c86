// File: internal/infra/adapters/provider/registry.go
package provider

import (
	"fmt"
	"sort"

	"genforge/internal/domain"
	"genforge/internal/domain/model"
	"genforge/internal/domain/ports/adapter"
)

// Registry is the ProviderKind dispatch table. It is built once at startup
// and read concurrently afterwards.
type Registry struct {
	byKind map[model.ProviderKind]adapter.ProviderAdapter
}

func NewRegistry(adapters ...adapter.ProviderAdapter) *Registry {
	r := &Registry{byKind: make(map[model.ProviderKind]adapter.ProviderAdapter, len(adapters))}
	for _, a := range adapters {
		if a != nil {
			r.byKind[a.Kind()] = a
		}
	}
	return r
}

// Get returns the adapter for kind or domain.ErrUnknownProvider.
func (r *Registry) Get(kind model.ProviderKind) (adapter.ProviderAdapter, error) {
	if a, ok := r.byKind[kind]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrUnknownProvider, kind)
}

func (r *Registry) Kinds() []model.ProviderKind {
	out := make([]model.ProviderKind, 0, len(r.byKind))
	for k := range r.byKind {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
