package cache

import (
	"fmt"

	"github.com/swarmguard/entityresolver/internal/flow"
)

// BootstrapProvider supplies the reserved core__persistent_cache entity: a
// single-case-key entity whose compute opens (or reuses) a BoltCache at a
// configured path. Its ShouldPersist attribute is false, since this
// provider cannot depend on the very cache it produces.
type BootstrapProvider struct {
	path string
	opts []Option

	opened *BoltCache
}

// NewBootstrapProvider builds a bootstrap provider that opens a BoltCache at
// path the first time it is computed, reusing the same handle on any
// subsequent (re-)resolution within the same process.
func NewBootstrapProvider(path string, opts ...Option) *BootstrapProvider {
	return &BootstrapProvider{path: path, opts: opts}
}

func (p *BootstrapProvider) DependencyNames() []flow.EntityName { return nil }

func (p *BootstrapProvider) KeySpace(map[flow.EntityName]flow.KeySpace) flow.KeySpace {
	return flow.KeySpace{CaseKeys: []flow.CaseKey{flow.EmptyCaseKey}}
}

func (p *BootstrapProvider) Tasks(map[flow.EntityName]flow.KeySpace, map[flow.EntityName][]flow.TaskKey) []flow.Task {
	key := flow.TaskKey{EntityName: flow.BootstrapCacheEntity, CaseKey: flow.EmptyCaseKey}
	return []flow.Task{{
		Keys:           []flow.TaskKey{key},
		DepKeys:        nil,
		IsSimpleLookup: true,
		Compute: func([]any) ([]any, error) {
			if p.opened == nil {
				c, err := Open(p.path, p.opts...)
				if err != nil {
					return nil, fmt.Errorf("bootstrap: open persistent cache at %q: %w", p.path, err)
				}
				p.opened = c
			}
			return []any{p.opened}, nil
		},
	}}
}

func (p *BootstrapProvider) CodeID(flow.CaseKey) string { return "core:bootstrap_persistent_cache" }

func (p *BootstrapProvider) ProtocolFor(flow.EntityName) flow.Protocol {
	return identityProtocol{}
}

func (p *BootstrapProvider) Attrs() flow.ProviderAttrs {
	return flow.ProviderAttrs{Names: []flow.EntityName{flow.BootstrapCacheEntity}, ShouldPersist: false}
}

// identityProtocol is used only for the core__persistent_cache entity
// itself, whose value is a live *BoltCache handle, not a JSON-serializable
// artifact -- should_persist is always false for this provider, so
// Serialize/Deserialize are never actually exercised by the resolver.
type identityProtocol struct{}

func (identityProtocol) Validate(value any) error {
	if _, ok := value.(*BoltCache); !ok {
		return fmt.Errorf("cache: bootstrap value is not a *cache.BoltCache")
	}
	return nil
}

func (identityProtocol) Serialize(value any) ([]byte, error) {
	return nil, fmt.Errorf("cache: core__persistent_cache is never serialized")
}

func (identityProtocol) Deserialize([]byte) (any, error) {
	return nil, fmt.Errorf("cache: core__persistent_cache is never deserialized")
}
