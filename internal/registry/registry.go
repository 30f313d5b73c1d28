// Package registry is the concrete provider registry the graph builder
// consults at build time, generalized from the teacher's plugin registry
// (a map from task type to executor) to a map from entity name to Provider.
package registry

import (
	"fmt"

	"github.com/swarmguard/entityresolver/internal/flow"
)

// Registry maps entity names to the Provider that produces them. A joint
// provider is registered once under each of its declared names -- Register
// takes care of that when given a provider whose Attrs().Names has more
// than one entry.
type Registry struct {
	byName map[flow.EntityName]flow.Provider
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byName: map[flow.EntityName]flow.Provider{}}
}

// Register adds a provider under every name in its Attrs().Names. It panics
// on a duplicate entity name, since two providers claiming the same name is
// a programmer error discovered at startup, not a runtime condition a
// caller is expected to handle.
func (r *Registry) Register(p flow.Provider) {
	names := p.Attrs().Names
	if len(names) == 0 {
		panic("registry: provider declares no names")
	}
	for _, name := range names {
		if _, exists := r.byName[name]; exists {
			panic(fmt.Sprintf("registry: duplicate provider for entity %q", name))
		}
	}
	for _, name := range names {
		r.byName[name] = p
	}
}

// Get returns the provider registered for name, if any.
func (r *Registry) Get(name flow.EntityName) (flow.Provider, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Provider satisfies flow.ProviderLookup.
func (r *Registry) Provider(name flow.EntityName) (flow.Provider, bool) {
	return r.Get(name)
}

// Providers returns every distinct registered provider, deduplicated across
// any joint names it was registered under.
func (r *Registry) Providers() []flow.Provider {
	seen := map[flow.Provider]struct{}{}
	out := make([]flow.Provider, 0, len(r.byName))
	for _, p := range r.byName {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// EntityNames returns every registered entity name, satisfying
// flow.ProviderLookup.
func (r *Registry) EntityNames() []flow.EntityName {
	names := make([]flow.EntityName, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// Builder offers a small fluent DSL for assembling a Registry declaratively,
// mirroring how the teacher's NewPluginRegistry registers a fixed sequence
// of built-ins before returning.
type Builder struct {
	reg *Registry
}

// NewBuilder starts a new Builder over an empty Registry.
func NewBuilder() *Builder {
	return &Builder{reg: New()}
}

// Define registers a provider under a single entity name and returns the
// Builder for chaining. Joint providers are declared by calling Define once
// per name they produce, passing the same provider value each time -- this
// mirrors Register's per-name registration without requiring every name to
// be known up front.
func (b *Builder) Define(name flow.EntityName, p flow.Provider) *Builder {
	if _, exists := b.reg.byName[name]; exists {
		panic(fmt.Sprintf("registry: duplicate provider for entity %q", name))
	}
	b.reg.byName[name] = p
	return b
}

// Build returns the assembled Registry.
func (b *Builder) Build() *Registry {
	return b.reg
}
