// Package config loads the engine's environment-variable driven
// configuration (spec.md §6 "Environment variables"). Grounded on the
// teacher's flat, zero-framework approach to runtime wiring
// (cmd/demo/main.go constructs its dependencies directly rather than
// through a config struct) — we add just enough structure to keep
// env-var parsing out of main.go, matching the ambient-stack expectation
// that configuration is not left to scattered os.Getenv calls.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"flowengine/internal/engine/actorpool"
	"flowengine/internal/triggerengine"
)

// Config is the engine's full runtime configuration.
type Config struct {
	// SupabaseServiceRoleAPIKey is the durable-store admin token (spec.md
	// §6). Required outside of tests; the in-memory store ignores it.
	SupabaseServiceRoleAPIKey string `yaml:"supabase_service_role_api_key"`

	// MongoURI and MongoDatabase select the durable store backend. When
	// MongoURI is empty, callers should wire the in-memory store instead
	// (suitable for local development and the test suite, not production).
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`

	// RedisAddr, when set, enables the Pulse-backed cross-replica change
	// bus (internal/hooks.NewPulseBus) instead of the in-memory hooks.Bus.
	RedisAddr string `yaml:"redis_addr"`

	// HTTPAddr is the inbound HTTP server's listen address (spec.md §6
	// "Inbound HTTP endpoints").
	HTTPAddr string `yaml:"http_addr"`

	// ActorPool bounds workflow/task actor concurrency (spec.md §4.5).
	ActorPool actorpool.Config `yaml:"actor_pool"`

	// TriggerRefreshInterval is loaded from the config file or
	// FLOWENGINE_TRIGGER_REFRESH_INTERVAL and reported by
	// EffectiveTriggerRefreshInterval; zero means the package default. The
	// trigger engine does not read it: it always uses
	// triggerengine.RefreshInterval.
	TriggerRefreshInterval time.Duration `yaml:"trigger_refresh_interval"`

	// TemporalHostPort, when set, switches the Dispatcher from the
	// in-process actor pool to the optional Temporal-durable backend
	// (internal/engine/temporal).
	TemporalHostPort  string `yaml:"temporal_host_port"`
	TemporalNamespace string `yaml:"temporal_namespace"`
	TemporalTaskQueue string `yaml:"temporal_task_queue"`
}

// FromEnv loads Config from the process environment, applying the same
// defaults a developer running the binary locally would expect. When
// FLOWENGINE_CONFIG_FILE is set, its YAML contents are loaded first and the
// environment variables below override it field-by-field — the same
// file-plus-env-overlay shape the teacher's integration-test runner uses
// for its own YAML scenario files (gopkg.in/yaml.v3).
func FromEnv() (Config, error) {
	cfg := Config{
		MongoDatabase:     "flowengine",
		HTTPAddr:          ":8080",
		ActorPool:         actorpool.DefaultConfig,
		TemporalNamespace: "default",
		TemporalTaskQueue: "flowengine",
	}

	if path := os.Getenv("FLOWENGINE_CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: %s: %w", path, err)
		}
	}

	cfg.SupabaseServiceRoleAPIKey = envOr("SUPABASE_SERVICE_ROLE_API_KEY", cfg.SupabaseServiceRoleAPIKey)
	cfg.MongoURI = envOr("FLOWENGINE_MONGO_URI", cfg.MongoURI)
	cfg.MongoDatabase = envOr("FLOWENGINE_MONGO_DATABASE", cfg.MongoDatabase)
	cfg.RedisAddr = envOr("FLOWENGINE_REDIS_ADDR", cfg.RedisAddr)
	cfg.HTTPAddr = envOr("FLOWENGINE_HTTP_ADDR", cfg.HTTPAddr)
	cfg.TemporalHostPort = envOr("FLOWENGINE_TEMPORAL_HOST_PORT", cfg.TemporalHostPort)
	cfg.TemporalNamespace = envOr("FLOWENGINE_TEMPORAL_NAMESPACE", cfg.TemporalNamespace)
	cfg.TemporalTaskQueue = envOr("FLOWENGINE_TEMPORAL_TASK_QUEUE", cfg.TemporalTaskQueue)

	if v := os.Getenv("FLOWENGINE_WORKFLOW_CONCURRENCY"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: FLOWENGINE_WORKFLOW_CONCURRENCY: %w", err)
		}
		cfg.ActorPool.WorkflowConcurrency = n
	}
	if v := os.Getenv("FLOWENGINE_TASK_CONCURRENCY"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("config: FLOWENGINE_TASK_CONCURRENCY: %w", err)
		}
		cfg.ActorPool.TaskConcurrency = n
	}
	if v := os.Getenv("FLOWENGINE_TRIGGER_REFRESH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: FLOWENGINE_TRIGGER_REFRESH_INTERVAL: %w", err)
		}
		cfg.TriggerRefreshInterval = d
	}

	return cfg, nil
}

// loadFile reads a YAML config file into cfg. Any field the file doesn't
// set is left at its current (default) value, since yaml.Unmarshal only
// touches keys present in the document.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EffectiveTriggerRefreshInterval returns the configured interval, or
// triggerengine.RefreshInterval when unset.
func (c Config) EffectiveTriggerRefreshInterval() time.Duration {
	if c.TriggerRefreshInterval > 0 {
		return c.TriggerRefreshInterval
	}
	return triggerengine.RefreshInterval
}
