// Package dagexport renders the resolver's built task graph as a labeled
// node/edge structure for external visualization (DOT and JSON), grounded
// directly on the original design's export_dag algorithm.
package dagexport

import (
	"context"
	"fmt"
	"sort"

	"github.com/swarmguard/entityresolver/internal/flow"
)

// ResolverView is the narrow slice of Resolver this package depends on, so
// it never needs to know about caching, providers, or evaluation -- only
// the graph that's already been built and the internal-name convention.
type ResolverView interface {
	GetReady(ctx context.Context) error
	Graph() *flow.Graph
	EntityIsInternal(name flow.EntityName) bool
}

// Node is one task key in the exported graph.
type Node struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	EntityName     string `json:"entity_name,omitempty"`
	CaseKey        string `json:"case_key,omitempty"`
	TaskIx         int    `json:"task_ix"`
	IsSimpleLookup bool   `json:"is_simple_lookup,omitempty"`
	ShouldPersist  bool   `json:"should_persist,omitempty"`
	// HasAttrs is false for a node that was only ever reached as an edge
	// endpoint and never explicitly added with attributes -- see the
	// preserved should_include_entity_name behavior in Build.
	HasAttrs bool `json:"-"`
}

// Edge is a directed edge from a producer task key to a dependent one.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is the exported, JSON-serializable representation of the DAG.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

func taskKeyID(k flow.TaskKey) string {
	return fmt.Sprintf("%s(%s)", k.EntityName, k.CaseKey.String())
}

// Build constructs the exported Graph for resolver, following the original
// design's export_dag algorithm -- including its should_include_entity_name
// closure, which inspects the *outer* entity name of the loop currently
// being iterated rather than the argument it is nominally called with. In
// practice this means the nested child-entity filter can never actually
// exclude anything (the outer loop has already verified the outer entity is
// included by the time the inner check runs), so an internal entity's task
// key can still appear as an edge endpoint -- without its own node
// attributes -- if a non-internal entity depends on it. This repository
// preserves that behavior exactly rather than silently fixing it; see
// DESIGN.md.
func Build(ctx context.Context, resolver ResolverView, includeCore bool) (*Graph, error) {
	if err := resolver.GetReady(ctx); err != nil {
		return nil, err
	}
	g := resolver.Graph()

	nodes := map[string]*Node{}
	order := []string{}
	var edges []Edge

	ensureImplicitNode := func(id string) {
		if _, ok := nodes[id]; !ok {
			nodes[id] = &Node{ID: id}
			order = append(order, id)
		}
	}

	entityNames := g.EntityNames()
	sort.Slice(entityNames, func(i, j int) bool { return entityNames[i] < entityNames[j] })

	for _, entityName := range entityNames {
		// should_include mirrors the original closure: it takes an
		// argument but, per the preserved bug, always tests the outer
		// loop's entityName instead of its own parameter.
		should_include := func(flow.EntityName) bool {
			return includeCore || !resolver.EntityIsInternal(entityName)
		}

		if !should_include(entityName) {
			continue
		}

		tasks, ok := g.TasksFor(entityName)
		if !ok {
			continue
		}
		sorted := make([]flow.Task, len(tasks))
		copy(sorted, tasks)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Keys[0].CaseKey.SortKey() < sorted[j].Keys[0].CaseKey.SortKey()
		})

		for taskIx, task := range sorted {
			taskKey := task.KeyForEntityName(entityName)
			id := taskKeyID(taskKey)

			nodeName := string(entityName)
			if len(sorted) != 1 {
				nodeName = fmt.Sprintf("%s[%d]", entityName, taskIx)
			}

			shouldPersist := false
			if provider, ok := g.Provider(entityName); ok {
				shouldPersist = provider.Attrs().ShouldPersist
			}

			nodes[id] = &Node{
				ID:             id,
				Name:           nodeName,
				EntityName:     string(entityName),
				CaseKey:        taskKey.CaseKey.String(),
				TaskIx:         taskIx,
				IsSimpleLookup: task.IsSimpleLookup,
				ShouldPersist:  shouldPersist,
				HasAttrs:       true,
			}
			if !contains(order, id) {
				order = append(order, id)
			}

			state, ok := g.StateForKey(taskKey)
			if !ok {
				continue
			}
			for _, child := range state.Children {
				for _, childTaskKey := range child.Task.Keys {
					if !should_include(childTaskKey.EntityName) {
						continue
					}
					if !child.Task.HasDepKey(taskKey) {
						continue
					}
					childID := taskKeyID(childTaskKey)
					ensureImplicitNode(childID)
					edges = append(edges, Edge{From: id, To: childID})
				}
			}
		}
	}

	out := &Graph{Edges: edges}
	for _, id := range order {
		out.Nodes = append(out.Nodes, *nodes[id])
	}
	return out, nil
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}
