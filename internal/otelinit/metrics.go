package otelinit

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds common resilience instruments shared across the ambient
// stack (cache retries, etc).
type Metrics struct {
	RetryAttempts          metric.Int64Counter
	CircuitOpenTransitions metric.Int64Counter
}

// InitMetrics sets up the global MeterProvider with two readers: a push
// OTLP exporter (for a collector pipeline) and a pull Prometheus exporter
// (for /metrics). It returns a combined shutdown function and the
// net/http.Handler the caller should mount at /metrics.
//
// The ambient stack this package is ported from reserved this same
// promHandler return slot but always returned nil -- nothing ever mounted
// it, so its /metrics endpoint was dead. Here the handler is real.
func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, promHandler http.Handler, m Metrics) {
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		attribute.String("service", service),
	))

	promExporter, err := prometheus.New()
	if err != nil {
		slog.Warn("prometheus exporter init failed", "error", err)
	}

	readers := []sdkmetric.Option{sdkmetric.WithResource(res)}
	if promExporter != nil {
		readers = append(readers, sdkmetric.WithReader(promExporter))
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	otlpExp, err := otlpmetricgrpc.New(dialCtx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	var pushShutdown func(context.Context) error = func(context.Context) error { return nil }
	if err != nil {
		slog.Warn("otlp metrics exporter init failed", "error", err)
	} else {
		reader := sdkmetric.NewPeriodicReader(otlpExp, sdkmetric.WithInterval(10*time.Second))
		readers = append(readers, sdkmetric.WithReader(reader))
		pushShutdown = reader.Shutdown
	}

	mp := sdkmetric.NewMeterProvider(readers...)
	otel.SetMeterProvider(mp)
	slog.Info("metrics initialized", "otlp_endpoint", endpoint, "prometheus", promExporter != nil)

	shutdown = func(ctx context.Context) error {
		_ = pushShutdown(ctx)
		return mp.Shutdown(ctx)
	}
	if promExporter != nil {
		promHandler = promhttp.Handler()
	}
	return shutdown, promHandler, createCommonInstruments()
}

func createCommonInstruments() Metrics {
	meter := otel.Meter("entityresolver")
	retry, _ := meter.Int64Counter("resolver_resilience_retry_attempts_total")
	circuit, _ := meter.Int64Counter("resolver_resilience_circuit_open_total")
	return Metrics{RetryAttempts: retry, CircuitOpenTransitions: circuit}
}
