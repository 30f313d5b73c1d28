package dagexport_test

import (
	"context"
	"strings"
	"testing"

	"github.com/swarmguard/entityresolver/internal/dagexport"
	"github.com/swarmguard/entityresolver/internal/flow"
	"github.com/swarmguard/entityresolver/internal/protocol"
	"github.com/swarmguard/entityresolver/internal/registry"
)

type memCache struct{ data map[string]flow.Result }

func newMemCache() *memCache { return &memCache{data: map[string]flow.Result{}} }

func (c *memCache) Load(q flow.Query) (flow.Result, bool) {
	r, ok := c.data[string(q.Name)+q.Provenance.HexHash()]
	return r, ok
}

func (c *memCache) Save(r flow.Result) error {
	c.data[string(r.Query.Name)+r.Query.Provenance.HexHash()] = r
	return nil
}

type cacheBootstrap struct{ cache flow.Cache }

func (p *cacheBootstrap) DependencyNames() []flow.EntityName { return nil }
func (p *cacheBootstrap) KeySpace(map[flow.EntityName]flow.KeySpace) flow.KeySpace {
	return flow.KeySpace{CaseKeys: []flow.CaseKey{flow.EmptyCaseKey}}
}
func (p *cacheBootstrap) Tasks(map[flow.EntityName]flow.KeySpace, map[flow.EntityName][]flow.TaskKey) []flow.Task {
	key := flow.TaskKey{EntityName: flow.BootstrapCacheEntity, CaseKey: flow.EmptyCaseKey}
	return []flow.Task{{
		Keys:           []flow.TaskKey{key},
		IsSimpleLookup: true,
		Compute:        func([]any) ([]any, error) { return []any{p.cache}, nil },
	}}
}
func (p *cacheBootstrap) CodeID(flow.CaseKey) string { return "bootstrap:cache" }
func (p *cacheBootstrap) ProtocolFor(flow.EntityName) flow.Protocol {
	return protocol.NewJSON[any]("core__persistent_cache")
}
func (p *cacheBootstrap) Attrs() flow.ProviderAttrs {
	return flow.ProviderAttrs{Names: []flow.EntityName{flow.BootstrapCacheEntity}, ShouldPersist: false}
}

// constProvider produces a single unparameterized entity with a fixed value.
type constProvider struct {
	name  flow.EntityName
	value int
}

func (p *constProvider) DependencyNames() []flow.EntityName { return nil }
func (p *constProvider) KeySpace(map[flow.EntityName]flow.KeySpace) flow.KeySpace {
	return flow.KeySpace{CaseKeys: []flow.CaseKey{flow.EmptyCaseKey}}
}
func (p *constProvider) Tasks(map[flow.EntityName]flow.KeySpace, map[flow.EntityName][]flow.TaskKey) []flow.Task {
	key := flow.TaskKey{EntityName: p.name, CaseKey: flow.EmptyCaseKey}
	return []flow.Task{{
		Keys:           []flow.TaskKey{key},
		IsSimpleLookup: true,
		Compute:        func([]any) ([]any, error) { return []any{p.value}, nil },
	}}
}
func (p *constProvider) CodeID(flow.CaseKey) string { return "const:" + string(p.name) }
func (p *constProvider) ProtocolFor(flow.EntityName) flow.Protocol {
	return protocol.NewJSON[int](string(p.name))
}
func (p *constProvider) Attrs() flow.ProviderAttrs {
	return flow.ProviderAttrs{Names: []flow.EntityName{p.name}, ShouldPersist: false}
}

// derivedProvider depends on a single other entity, passing its value through.
type derivedProvider struct {
	name flow.EntityName
	dep  flow.EntityName
}

func (p *derivedProvider) DependencyNames() []flow.EntityName { return []flow.EntityName{p.dep} }
func (p *derivedProvider) KeySpace(map[flow.EntityName]flow.KeySpace) flow.KeySpace {
	return flow.KeySpace{CaseKeys: []flow.CaseKey{flow.EmptyCaseKey}}
}
func (p *derivedProvider) Tasks(_ map[flow.EntityName]flow.KeySpace, depTaskKeys map[flow.EntityName][]flow.TaskKey) []flow.Task {
	key := flow.TaskKey{EntityName: p.name, CaseKey: flow.EmptyCaseKey}
	return []flow.Task{{
		Keys:    []flow.TaskKey{key},
		DepKeys: []flow.TaskKey{depTaskKeys[p.dep][0]},
		Compute: func(deps []any) ([]any, error) { return []any{deps[0]}, nil },
	}}
}
func (p *derivedProvider) CodeID(flow.CaseKey) string { return "derived:" + string(p.name) }
func (p *derivedProvider) ProtocolFor(flow.EntityName) flow.Protocol {
	return protocol.NewJSON[int](string(p.name))
}
func (p *derivedProvider) Attrs() flow.ProviderAttrs {
	return flow.ProviderAttrs{Names: []flow.EntityName{p.name}, ShouldPersist: false}
}

func buildResolver(t *testing.T) *flow.Resolver {
	t.Helper()
	reg := registry.New()
	reg.Register(&cacheBootstrap{cache: newMemCache()})
	reg.Register(&constProvider{name: "public", value: 7})
	reg.Register(&derivedProvider{name: "core__derived", dep: "public"})

	graph, err := flow.BuildGraph(reg)
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	return flow.NewResolver(graph)
}

func TestBuildIncludesNodeAttrsForNonInternalEntity(t *testing.T) {
	resolver := buildResolver(t)

	g, err := dagexport.Build(context.Background(), resolver, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var found bool
	for _, n := range g.Nodes {
		if n.EntityName == "public" {
			found = true
			if n.Name != "public" {
				t.Fatalf("expected node name %q, got %q", "public", n.Name)
			}
		}
	}
	if !found {
		t.Fatalf("expected a node for the non-internal entity %q, got %+v", "public", g.Nodes)
	}
}

// TestBuildPreservesShouldIncludeClosureBug pins the original design's
// should_include_entity_name behavior: the nested child filter tests the
// outer loop's entity name, not the child's own, so an internal entity
// reachable as a dependent of an included one still shows up as an edge
// endpoint even when include_core is false. A faithful reimplementation
// must reproduce this rather than silently filtering the child out.
func TestBuildPreservesShouldIncludeClosureBug(t *testing.T) {
	resolver := buildResolver(t)

	g, err := dagexport.Build(context.Background(), resolver, false)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var sawEdgeToInternal bool
	for _, e := range g.Edges {
		if strings.HasPrefix(e.To, "core__derived(") {
			sawEdgeToInternal = true
		}
	}
	if !sawEdgeToInternal {
		t.Fatalf("expected an edge into the internal entity core__derived despite include_core=false, edges: %+v", g.Edges)
	}

	for _, n := range g.Nodes {
		if n.EntityName == "core__derived" {
			t.Fatalf("core__derived must not have explicit node attributes when include_core=false, got %+v", n)
		}
		if strings.HasPrefix(n.ID, "core__derived(") && n.HasAttrs {
			t.Fatalf("core__derived's implicit node must not carry attributes, got %+v", n)
		}
	}
}

func TestBuildIncludesInternalNodeWhenIncludeCoreTrue(t *testing.T) {
	resolver := buildResolver(t)

	g, err := dagexport.Build(context.Background(), resolver, true)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var found bool
	for _, n := range g.Nodes {
		if n.EntityName == "core__derived" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected core__derived to have an explicit node when include_core=true")
	}
}
