package flow

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// BootstrapCacheEntity is the reserved entity name the resolver bootstraps
// to obtain its persistent cache singleton.
const BootstrapCacheEntity EntityName = "core__persistent_cache"

// Cache is the persistent cache contract the resolver depends on. It is
// obtained by bootstrapping BootstrapCacheEntity, never injected directly,
// matching the self-referential bootstrap the rest of this package models.
type Cache interface {
	Load(q Query) (Result, bool)
	Save(r Result) error
}

// EventSink receives a best-effort mirror of the resolver's own logging
// contract, for out-of-process observers (see internal/eventbus). It is
// optional: a Resolver with no sink configured runs exactly as if the calls
// were absent.
type EventSink interface {
	PublishTaskEvent(ctx context.Context, status string, key TaskKey)
}

type noopEventSink struct{}

func (noopEventSink) PublishTaskEvent(context.Context, string, TaskKey) {}

// Metrics holds the OpenTelemetry instruments the resolver reports against.
// Every field is optional: a zero-value Metrics (as produced by NewMetrics
// with a nil meter) silently no-ops instead of panicking, so a Resolver can
// always be constructed without a configured MeterProvider.
type Metrics struct {
	tasksComputed metric.Int64Counter
	cacheHits     metric.Int64Counter
	bootstraps    metric.Int64Counter
}

// NewMetrics creates the resolver's instrument set against the given meter.
// Pass nil to disable metrics entirely.
func NewMetrics(meter metric.Meter) Metrics {
	if meter == nil {
		return Metrics{}
	}
	computed, _ := meter.Int64Counter("resolver_tasks_computed_total")
	hits, _ := meter.Int64Counter("resolver_cache_hits_total")
	boot, _ := meter.Int64Counter("resolver_bootstrap_total")
	return Metrics{tasksComputed: computed, cacheHits: hits, bootstraps: boot}
}

func (m Metrics) incComputed(ctx context.Context) {
	if m.tasksComputed != nil {
		m.tasksComputed.Add(ctx, 1)
	}
}

func (m Metrics) incCacheHit(ctx context.Context) {
	if m.cacheHits != nil {
		m.cacheHits.Add(ctx, 1)
	}
}

func (m Metrics) incBootstrap(ctx context.Context) {
	if m.bootstraps != nil {
		m.bootstraps.Add(ctx, 1)
	}
}

// Resolver is the work-list evaluation engine: it drives task evaluation in
// dependency order over a pre-built Graph, integrating an in-memory result
// table (held in the Graph's TaskStates) with a persistent cache that the
// resolver itself bootstraps.
//
// Resolver is single-threaded internally: Resolve and GetReady never spawn
// a goroutine or touch a channel for their own control flow. Concurrent
// callers resolving different entities at once must serialize their own
// calls into a single Resolver (see cmd/resolverd, which does this with a
// mutex).
type Resolver struct {
	graph *Graph

	readyFull       bool
	persistentCache Cache

	logger *slog.Logger
	tracer trace.Tracer
	metric Metrics
	events EventSink
}

// Option configures optional Resolver collaborators.
type Option func(*Resolver)

// WithLogger overrides the resolver's structured logger. Defaults to
// slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

// WithTracer attaches an OpenTelemetry tracer used to wrap Resolve and
// GetReady in spans. Defaults to a no-op tracer if never set.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Resolver) { r.tracer = tracer }
}

// WithMeter attaches an OpenTelemetry meter to derive resolver instruments
// from. Defaults to no metrics if never set.
func WithMeter(meter metric.Meter) Option {
	return func(r *Resolver) { r.metric = NewMetrics(meter) }
}

// WithEventSink attaches an optional activity event sink (see
// internal/eventbus.Bus).
func WithEventSink(sink EventSink) Option {
	return func(r *Resolver) { r.events = sink }
}

// NewResolver constructs a Resolver over an already-built Graph. Building
// the graph is equivalent to the bootstrap-readiness step in the original
// design: once a Graph exists, every task whose provider does not require
// the persistent cache can already be evaluated.
func NewResolver(graph *Graph, opts ...Option) *Resolver {
	r := &Resolver{
		graph:  graph,
		logger: slog.Default(),
		tracer: tracenoop.NewTracerProvider().Tracer("entityresolver"),
		events: noopEventSink{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetReady ensures the resolver is ready for full resolution: the
// persistent cache singleton has been resolved and installed. It is
// idempotent and safe to call more than once.
func (r *Resolver) GetReady(ctx context.Context) error {
	if r.readyFull {
		return nil
	}
	ctx, span := r.tracer.Start(ctx, "flow.Resolver.GetReady")
	defer span.End()

	cacheValue, err := r.bootstrapSingleton(ctx, BootstrapCacheEntity)
	if err != nil {
		return err
	}
	cache, ok := cacheValue.(Cache)
	if !ok {
		return newError(InternalInvariant, BootstrapCacheEntity,
			fmt.Sprintf("bootstrap entity %q did not produce a flow.Cache", BootstrapCacheEntity))
	}
	r.persistentCache = cache
	r.readyFull = true
	r.metric.incBootstrap(ctx)
	return nil
}

// Resolve computes and returns all results for an entity across its key
// space, ensuring readiness first.
func (r *Resolver) Resolve(ctx context.Context, entityName EntityName) (ResultGroup, error) {
	if err := r.GetReady(ctx); err != nil {
		return ResultGroup{}, err
	}
	ctx, span := r.tracer.Start(ctx, "flow.Resolver.Resolve",
		trace.WithAttributes())
	defer span.End()
	return r.computeResultGroupForEntityName(ctx, entityName)
}

// EntityIsInternal reports whether name carries the reserved internal
// prefix.
func (r *Resolver) EntityIsInternal(name EntityName) bool {
	return name.IsInternal()
}

// Graph exposes the resolver's underlying built graph, used by
// internal/dagexport to walk entity names, task lists, and task states
// without this package depending on dagexport.
func (r *Resolver) Graph() *Graph {
	return r.graph
}

func (r *Resolver) bootstrapSingleton(ctx context.Context, entityName EntityName) (any, error) {
	group, err := r.computeResultGroupForEntityName(ctx, entityName)
	if err != nil {
		return nil, err
	}
	switch len(group.Results) {
	case 0:
		return nil, newError(BootstrapCardinality, entityName,
			fmt.Sprintf("no values were defined for internal bootstrap entity %q", entityName))
	case 1:
		return group.Results[0].Value, nil
	default:
		return nil, newError(BootstrapCardinality, entityName,
			fmt.Sprintf("bootstrap entity %q must have exactly one value; got %d", entityName, len(group.Results)))
	}
}

func (r *Resolver) computeResultGroupForEntityName(ctx context.Context, entityName EntityName) (ResultGroup, error) {
	tasks, ok := r.graph.TasksFor(entityName)
	if !ok {
		return ResultGroup{}, newError(UndefinedEntity, entityName,
			fmt.Sprintf("entity %q is not defined", entityName))
	}

	requested := make([]*TaskState, len(tasks))
	for i, t := range tasks {
		state, ok := r.graph.StateForKey(t.Keys[0])
		if !ok {
			return ResultGroup{}, newError(InternalInvariant, entityName, "task has no registered state")
		}
		requested[i] = state
	}

	ready := make([]*TaskState, len(requested))
	copy(ready, requested)

	blocked := map[taskKeyTuple]struct{}{}
	logged := map[string]struct{}{}

	for len(ready) > 0 {
		state := ready[len(ready)-1]
		ready = ready[:len(ready)-1]

		if state.IsComplete() {
			for _, tk := range state.Task.Keys {
				if _, seen := logged[tk.comparable()]; seen {
					continue
				}
				r.logTask(ctx, "Accessed  %s from in-memory cache", tk)
				r.events.PublishTaskEvent(ctx, "accessed_memory", tk)
				logged[tk.comparable()] = struct{}{}
			}
			continue
		}

		if !state.IsBlocked() {
			if err := r.computeTaskState(ctx, state); err != nil {
				return ResultGroup{}, err
			}
			for _, tk := range state.Task.Keys {
				logged[tk.comparable()] = struct{}{}
			}
			for _, child := range state.Children {
				tup := tupleOf(child.Task.Keys)
				if _, wasBlocked := blocked[tup]; wasBlocked && !child.IsBlocked() {
					ready = append(ready, child)
					delete(blocked, tup)
				}
			}
			continue
		}

		for _, parent := range state.Parents {
			if !parent.IsComplete() {
				ready = append(ready, parent)
			}
		}
		blocked[tupleOf(state.Task.Keys)] = struct{}{}
	}

	if len(blocked) != 0 {
		return ResultGroup{}, newError(InternalInvariant, entityName,
			"work-list terminated with tasks still blocked; the graph is not acyclic")
	}
	for _, state := range requested {
		if !state.IsComplete() {
			return ResultGroup{}, newError(InternalInvariant, entityName,
				"requested task state did not complete")
		}
	}

	results := make([]Result, len(requested))
	for i, state := range requested {
		results[i] = state.ResultsByName[entityName]
	}
	keySpace, _ := r.graph.KeySpaceFor(entityName)
	return ResultGroup{Results: results, KeySpace: keySpace}, nil
}

func (r *Resolver) computeTaskState(ctx context.Context, state *TaskState) error {
	task := state.Task

	depResults := make([]Result, len(task.DepKeys))
	for i, depKey := range task.DepKeys {
		depState, ok := r.graph.StateForKey(depKey)
		if !ok {
			return newTaskError(InternalInvariant, depKey, "dependency has no registered state", nil)
		}
		res, ok := depState.ResultsByName[depKey.EntityName]
		if !ok {
			return newTaskError(InternalInvariant, depKey, "dependency state is not complete", nil)
		}
		depResults[i] = res
	}

	var provider Provider
	var caseKey CaseKey
	for i, tk := range task.Keys {
		p, ok := r.graph.Provider(tk.EntityName)
		if !ok {
			return newTaskError(UndefinedEntity, tk, "no provider registered for entity", nil)
		}
		if i == 0 {
			provider = p
			caseKey = tk.CaseKey
			continue
		}
		if p != provider {
			return newTaskError(InternalInvariant, tk, "joint task keys do not share a provider", nil)
		}
		if !tk.CaseKey.Equal(caseKey) {
			return newTaskError(InternalInvariant, tk, "joint task keys do not share a case key", nil)
		}
	}

	depProvByName := make(map[string]Provenance, len(task.DepKeys))
	for i, depKey := range task.DepKeys {
		depProvByName[string(depKey.EntityName)] = depResults[i].Query.Provenance
	}
	provenance := NewProvenance(provider.CodeID(caseKey), caseKey, depProvByName)

	queries := make([]Query, len(task.Keys))
	taskStrs := make([]string, len(task.Keys))
	for i, tk := range task.Keys {
		queries[i] = Query{
			Name:       tk.EntityName,
			Protocol:   provider.ProtocolFor(tk.EntityName),
			CaseKey:    caseKey,
			Provenance: provenance,
		}
		taskStrs[i] = tk.String()
	}

	shouldPersist := provider.Attrs().ShouldPersist
	var results []Result
	resultsReady := false

	if shouldPersist {
		if !r.readyFull {
			return newTaskError(BootstrapPersistence, task.Keys[0],
				"cannot apply persistent caching to bootstrap entities", nil)
		}
		results = make([]Result, 0, len(queries))
		allHit := true
		for i, q := range queries {
			res, ok := r.persistentCache.Load(q)
			if !ok {
				allHit = false
				break
			}
			r.log(ctx, fmt.Sprintf("Loaded    %s from file cache", taskStrs[i]))
			r.events.PublishTaskEvent(ctx, "loaded", task.Keys[i])
			r.metric.incCacheHit(ctx)
			results = append(results, res)
		}
		resultsReady = allHit
		if !resultsReady {
			results = nil
		}
	}

	if !resultsReady {
		if !task.IsSimpleLookup {
			for _, s := range taskStrs {
				r.log(ctx, fmt.Sprintf("Computing %s ...", s))
			}
		}

		depValues := make([]any, len(depResults))
		for i, dr := range depResults {
			depValues[i] = dr.Value
		}

		values, err := task.Compute(depValues)
		if err != nil {
			return newTaskError(ComputeFailure, task.Keys[0], err.Error(), err)
		}
		if len(values) != len(task.Keys) {
			return newTaskError(InternalInvariant, task.Keys[0],
				"compute returned a different number of values than keys", nil)
		}

		results = make([]Result, len(task.Keys))
		for i, tk := range task.Keys {
			value := values[i]
			q := queries[i]
			if err := q.Protocol.Validate(value); err != nil {
				return newTaskError(ProtocolValidation, tk, err.Error(), err)
			}
			res := Result{Query: q, Value: value}
			if shouldPersist {
				if err := r.persistentCache.Save(res); err != nil {
					return newTaskError(ComputeFailure, tk, "failed to persist result", err)
				}
				if reloaded, ok := r.persistentCache.Load(q); ok {
					res = reloaded
				}
			}
			if task.IsSimpleLookup {
				r.log(ctx, fmt.Sprintf("Accessed  %s from definition", taskStrs[i]))
				r.events.PublishTaskEvent(ctx, "accessed_definition", tk)
			} else {
				r.log(ctx, fmt.Sprintf("Computed  %s", taskStrs[i]))
				r.events.PublishTaskEvent(ctx, "computed", tk)
			}
			results[i] = res
		}
		r.metric.incComputed(ctx)
	}

	resultsByName := make(map[EntityName]Result, len(task.Keys))
	for i, tk := range task.Keys {
		resultsByName[tk.EntityName] = results[i]
	}
	state.ResultsByName = resultsByName
	return nil
}

// logTask renders and logs a templated, task-string-parameterized message.
func (r *Resolver) logTask(ctx context.Context, format string, tk TaskKey) {
	r.log(ctx, fmt.Sprintf(format, tk.String()))
}

// log emits a pre-formatted message at a level that depends on the
// resolver's readiness *at the time of the call* -- not retroactively
// adjusted once full readiness is reached, matching the original design's
// bootstrap log-level behavior (see SPEC_FULL.md / DESIGN.md Open Question
// decisions: bootstrap-time messages are always logged at debug, even
// though they occurred on the same call stack that goes on to reach full
// readiness).
func (r *Resolver) log(ctx context.Context, message string) {
	level := slog.LevelDebug
	if r.readyFull {
		level = slog.LevelInfo
	}
	r.logger.Log(ctx, level, message)
}
