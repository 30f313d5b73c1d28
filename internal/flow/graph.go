package flow

import "fmt"

// ProviderLookup is the narrow read-only view of a provider registry the
// graph builder and resolver need. It mirrors the teacher's plugin registry
// contract (names + lookup), kept minimal so this package never imports
// internal/registry directly.
type ProviderLookup interface {
	EntityNames() []EntityName
	Provider(name EntityName) (Provider, bool)
}

// providerComputation caches the one-time result of calling a provider's
// KeySpace and Tasks methods, so a joint provider registered under several
// entity names is only ever asked to compute once, regardless of which of
// its names is populated first.
type providerComputation struct {
	keySpace KeySpace
	tasks    []Task
}

// Graph is the static, built-once task graph: key spaces and task lists per
// entity, plus the arena of TaskStates addressed by task key. Only
// BuildGraph constructs a Graph; nothing outside this package may mutate it
// afterward.
type Graph struct {
	registry ProviderLookup

	keySpacesByEntityName map[EntityName]KeySpace
	taskListsByEntityName map[EntityName][]Task
	taskStatesByKey       map[string]*TaskState // keyed by TaskKey.comparable()

	// allTasks is the deduplicated list of every distinct Task produced
	// across all providers, in population order. A joint task appears
	// here exactly once even though it is also reachable through every
	// one of its co-produced entity names in taskListsByEntityName.
	allTasks []Task

	providerCache map[Provider]providerComputation
	finalized     map[EntityName]struct{}
	inProgress    map[EntityName]struct{}
}

// BuildGraph walks every registered provider transitively, builds key
// spaces and task lists per entity, instantiates one TaskState per distinct
// Task (joint tasks share a single state across all their keys), and wires
// parent/child edges.
func BuildGraph(registry ProviderLookup) (*Graph, error) {
	g := &Graph{
		registry:              registry,
		keySpacesByEntityName: map[EntityName]KeySpace{},
		taskListsByEntityName: map[EntityName][]Task{},
		taskStatesByKey:       map[string]*TaskState{},
		providerCache:         map[Provider]providerComputation{},
		finalized:             map[EntityName]struct{}{},
		inProgress:            map[EntityName]struct{}{},
	}

	for _, name := range registry.EntityNames() {
		if err := g.populateEntityInfo(name); err != nil {
			return nil, err
		}
	}

	for _, task := range g.allTasks {
		state := &TaskState{Task: task}
		for _, key := range task.Keys {
			g.taskStatesByKey[key.comparable()] = state
		}
	}

	for _, task := range g.allTasks {
		state := g.taskStatesByKey[task.Keys[0].comparable()]
		for _, depKey := range task.DepKeys {
			depState, ok := g.taskStatesByKey[depKey.comparable()]
			if !ok {
				return nil, newError(UndefinedEntity, depKey.EntityName,
					fmt.Sprintf("task depends on undefined task key %s", depKey))
			}
			state.Parents = append(state.Parents, depState)
			depState.Children = append(depState.Children, state)
		}
	}

	return g, nil
}

func (g *Graph) populateEntityInfo(name EntityName) error {
	if _, done := g.finalized[name]; done {
		return nil
	}
	if _, active := g.inProgress[name]; active {
		return newError(CycleDetected, name,
			fmt.Sprintf("entity %q depends on itself transitively", name))
	}
	g.inProgress[name] = struct{}{}
	defer delete(g.inProgress, name)

	provider, ok := g.registry.Provider(name)
	if !ok {
		return newError(UndefinedEntity, name, fmt.Sprintf("entity %q is not defined", name))
	}

	// A joint provider is registered under every entity name it produces.
	// Once one of its names has triggered the actual computation, every
	// sibling name just adopts the cached result instead of recomputing
	// (and re-instantiating distinct Task values) for the same provider.
	if cached, ok := g.providerCache[provider]; ok {
		g.keySpacesByEntityName[name] = cached.keySpace
		g.taskListsByEntityName[name] = cached.tasks
		g.finalized[name] = struct{}{}
		return nil
	}

	depNames := provider.DependencyNames()
	for _, depName := range depNames {
		if err := g.populateEntityInfo(depName); err != nil {
			return err
		}
	}

	depKeySpacesByName := make(map[EntityName]KeySpace, len(depNames))
	depTaskKeysByName := make(map[EntityName][]TaskKey, len(depNames))
	for _, depName := range depNames {
		ks, ok := g.keySpacesByEntityName[depName]
		if !ok {
			return newError(UndefinedEntity, depName,
				fmt.Sprintf("dependency %q of %q has no key space", depName, name))
		}
		depKeySpacesByName[depName] = ks

		depTasks, ok := g.taskListsByEntityName[depName]
		if !ok {
			return newError(UndefinedEntity, depName,
				fmt.Sprintf("dependency %q of %q has no task list", depName, name))
		}
		keys := make([]TaskKey, len(depTasks))
		for i, t := range depTasks {
			keys[i] = t.KeyForEntityName(depName)
		}
		depTaskKeysByName[depName] = keys
	}

	keySpace := provider.KeySpace(depKeySpacesByName)
	tasks := provider.Tasks(depKeySpacesByName, depTaskKeysByName)

	g.providerCache[provider] = providerComputation{keySpace: keySpace, tasks: tasks}
	g.allTasks = append(g.allTasks, tasks...)
	g.keySpacesByEntityName[name] = keySpace
	g.taskListsByEntityName[name] = tasks

	g.finalized[name] = struct{}{}
	return nil
}

// KeySpaceFor returns the key space computed for an entity, if any.
func (g *Graph) KeySpaceFor(name EntityName) (KeySpace, bool) {
	ks, ok := g.keySpacesByEntityName[name]
	return ks, ok
}

// TasksFor returns the ordered task list computed for an entity, if any.
func (g *Graph) TasksFor(name EntityName) ([]Task, bool) {
	tasks, ok := g.taskListsByEntityName[name]
	return tasks, ok
}

// StateForKey returns the TaskState addressed by a task key, if any.
func (g *Graph) StateForKey(key TaskKey) (*TaskState, bool) {
	s, ok := g.taskStatesByKey[key.comparable()]
	return s, ok
}

// EntityNames returns every entity name the graph has task lists for, in no
// particular order -- used by the DAG export adapter to iterate entities.
func (g *Graph) EntityNames() []EntityName {
	names := make([]EntityName, 0, len(g.taskListsByEntityName))
	for name := range g.taskListsByEntityName {
		names = append(names, name)
	}
	return names
}

// Provider exposes the underlying provider lookup so the resolver and
// dagexport can resolve a provider for a given entity without the graph
// reimplementing registry lookups.
func (g *Graph) Provider(name EntityName) (Provider, bool) {
	return g.registry.Provider(name)
}
