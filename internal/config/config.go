// Package config centralizes environment-driven configuration, gathering
// the os.Getenv calls the ambient stack otherwise scatters across main.go,
// plugins.go, and otelinit into one struct, the way the teacher's
// ScheduleConfig centralizes schedule parameters.
package config

import (
	"os"
	"strings"
)

// Config is the resolved configuration for cmd/resolverd.
type Config struct {
	// CachePath is the BoltDB file path for the persistent cache.
	CachePath string
	// HTTPAddr is the listen address for the HTTP front end.
	HTTPAddr string
	// JSONLog mirrors RESOLVER_JSON_LOG, read directly by internal/obslog;
	// kept here too so callers can inspect the resolved mode.
	JSONLog bool
	// NATSURL is the optional event bus endpoint; empty disables eventbus.
	NATSURL string
	// OTLPEndpoint is the OTLP collector endpoint for traces and metrics.
	OTLPEndpoint string
}

// Load reads configuration from the environment, applying the same
// defaults cmd/resolverd would otherwise hardcode.
func Load() Config {
	return Config{
		CachePath:    getEnvDefault("RESOLVER_CACHE_PATH", "./resolver-cache.db"),
		HTTPAddr:     getEnvDefault("RESOLVER_HTTP_ADDR", ":8080"),
		JSONLog:      isTruthy(strings.ToLower(os.Getenv("RESOLVER_JSON_LOG"))),
		NATSURL:      os.Getenv("RESOLVER_NATS_URL"),
		OTLPEndpoint: getEnvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func isTruthy(v string) bool {
	return v == "1" || v == "true" || v == "json"
}
