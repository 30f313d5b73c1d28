// Command resolverd runs the entity resolution service: an HTTP front end
// over a flow.Resolver, grounded directly on the teacher's
// services/orchestrator/main.go (log/slog + otelinit + a bare
// net/http.ServeMux, no router framework).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/swarmguard/entityresolver/internal/cache"
	"github.com/swarmguard/entityresolver/internal/config"
	"github.com/swarmguard/entityresolver/internal/dagexport"
	"github.com/swarmguard/entityresolver/internal/eventbus"
	"github.com/swarmguard/entityresolver/internal/flow"
	"github.com/swarmguard/entityresolver/internal/obslog"
	"github.com/swarmguard/entityresolver/internal/otelinit"
	"github.com/swarmguard/entityresolver/internal/registry"
)

// serializedResolver serializes all calls into a *flow.Resolver behind a
// mutex, per §5.1: the resolver's internal evaluation is single-threaded by
// design, but the HTTP front end may receive concurrent requests for
// different entities.
type serializedResolver struct {
	mu       sync.Mutex
	resolver *flow.Resolver
}

func (s *serializedResolver) Resolve(ctx context.Context, name flow.EntityName) (flow.ResultGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolver.Resolve(ctx, name)
}

func (s *serializedResolver) GetReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolver.GetReady(ctx)
}

func (s *serializedResolver) Graph() *flow.Graph { return s.resolver.Graph() }

func (s *serializedResolver) EntityIsInternal(name flow.EntityName) bool {
	return s.resolver.EntityIsInternal(name)
}

func main() {
	service := "resolverd"
	logger := obslog.Init(service)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, promHandler, _ := otelinit.InitMetrics(ctx, service)
	tracer := otel.Tracer(service)
	meter := otel.GetMeterProvider().Meter(service)

	reg := registry.New()
	reg.Register(cache.NewBootstrapProvider(cfg.CachePath, cache.WithMeter(meter)))
	registerSampleEntities(reg)

	graph, err := flow.BuildGraph(reg)
	if err != nil {
		logger.Error("failed to build task graph", "error", err)
		return
	}

	opts := []flow.Option{
		flow.WithLogger(logger),
		flow.WithTracer(tracer),
		flow.WithMeter(meter),
	}
	var bus *eventbus.Bus
	if cfg.NATSURL != "" {
		bus, err = eventbus.Connect(cfg.NATSURL)
		if err != nil {
			logger.Warn("eventbus unavailable, continuing without it", "error", err)
		} else {
			defer bus.Close()
			opts = append(opts, flow.WithEventSink(bus))
		}
	}

	resolver := &serializedResolver{resolver: flow.NewResolver(graph, opts...)}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/v1/resolve", handleResolve(resolver))
	mux.HandleFunc("/v1/dag", handleDAG(resolver))
	if promHandler != nil {
		mux.Handle("/metrics", promHandler)
	}

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()
	logger.Info("service started", "addr", cfg.HTTPAddr)

	<-ctx.Done()
	logger.Info("shutdown initiated")
	ctxSd, c2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer c2()
	_ = srv.Shutdown(ctxSd)
	otelinit.Flush(ctxSd, shutdownTrace)
	_ = shutdownMetrics(ctxSd)
	logger.Info("shutdown complete")
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type resolveResponse struct {
	Values []any `json:"values"`
}

func handleResolve(resolver *serializedResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		entity := r.URL.Query().Get("entity")
		if entity == "" {
			http.Error(w, "entity query parameter is required", http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()

		group, err := resolver.Resolve(ctx, flow.EntityName(entity))
		if err != nil {
			writeFlowError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resolveResponse{Values: group.Values()})
	}
}

func handleDAG(resolver *serializedResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		includeCore, _ := strconv.ParseBool(r.URL.Query().Get("include_core"))
		format := r.URL.Query().Get("format")
		if format == "" {
			format = "json"
		}

		g, err := dagexport.Build(r.Context(), resolver, includeCore)
		if err != nil {
			writeFlowError(w, err)
			return
		}

		switch format {
		case "dot":
			w.Header().Set("Content-Type", "text/vnd.graphviz")
			_ = dagexport.WriteDOT(w, g)
		case "json":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(g)
		default:
			http.Error(w, "unsupported format: "+format, http.StatusBadRequest)
		}
	}
}

// writeFlowError maps a *flow.Error's Kind to an HTTP status per §7.
func writeFlowError(w http.ResponseWriter, err error) {
	var flowErr *flow.Error
	if !errors.As(err, &flowErr) {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	status := http.StatusInternalServerError
	switch flowErr.Kind {
	case flow.UndefinedEntity:
		status = http.StatusNotFound
	case flow.ProtocolValidation, flow.ComputeFailure:
		status = http.StatusUnprocessableEntity
	}
	http.Error(w, flowErr.Error(), status)
}
