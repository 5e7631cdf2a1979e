package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "chainwright.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
// Structured sections (critique weights, router thresholds) are YAML-only.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "CHAINWRIGHT_PORT")
	setString(&cfg.Server.CORSOrigin, "CHAINWRIGHT_CORS_ORIGIN")
	setString(&cfg.Storage.Driver, "CHAINWRIGHT_STORAGE_DRIVER")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CHAINWRIGHT_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CHAINWRIGHT_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "CHAINWRIGHT_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "CHAINWRIGHT_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "CHAINWRIGHT_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.Reasoning.Backend, "CHAINWRIGHT_REASONING_BACKEND")
	setString(&cfg.Reasoning.URL, "CHAINWRIGHT_LLM_URL")
	setString(&cfg.Reasoning.APIKey, "CHAINWRIGHT_LLM_API_KEY")
	setString(&cfg.Reasoning.Model, "CHAINWRIGHT_LLM_MODEL")
	setFloat64(&cfg.Reasoning.Temperature, "CHAINWRIGHT_LLM_TEMPERATURE")
	setInt(&cfg.Reasoning.MaxTokens, "CHAINWRIGHT_LLM_MAX_TOKENS")
	setDuration(&cfg.Reasoning.Timeout, "CHAINWRIGHT_LLM_TIMEOUT")
	setString(&cfg.Logging.Level, "CHAINWRIGHT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CHAINWRIGHT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CHAINWRIGHT_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "CHAINWRIGHT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CHAINWRIGHT_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "CHAINWRIGHT_RATE_RPS")
	setInt(&cfg.Rate.Burst, "CHAINWRIGHT_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "CHAINWRIGHT_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "CHAINWRIGHT_RATE_MAX_IDLE_TIME")

	// Cache
	setBool(&cfg.Cache.Enabled, "CHAINWRIGHT_CACHE_ENABLED")
	setInt64(&cfg.Cache.L1MaxSizeMB, "CHAINWRIGHT_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "CHAINWRIGHT_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "CHAINWRIGHT_CACHE_L2_TTL")

	// Idempotency
	setString(&cfg.Idempotency.Bucket, "CHAINWRIGHT_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "CHAINWRIGHT_IDEMPOTENCY_TTL")

	// Pipeline
	setInt64(&cfg.Pipeline.MaxConcurrent, "CHAINWRIGHT_PIPELINE_MAX_CONCURRENT")
	setInt(&cfg.Pipeline.MaxReplanRounds, "CHAINWRIGHT_PIPELINE_MAX_REPLAN_ROUNDS")
	setDuration(&cfg.Pipeline.StageTimeout, "CHAINWRIGHT_PIPELINE_STAGE_TIMEOUT")

	// Otel
	setBool(&cfg.Otel.Enabled, "CHAINWRIGHT_OTEL_ENABLED")
	setString(&cfg.Otel.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setFloat64(&cfg.Otel.SampleRatio, "CHAINWRIGHT_OTEL_SAMPLE_RATIO")

	// MCP
	setBool(&cfg.MCP.Enabled, "CHAINWRIGHT_MCP_ENABLED")
	setString(&cfg.MCP.Addr, "CHAINWRIGHT_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "CHAINWRIGHT_MCP_API_KEY")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Storage.Driver != "postgres" && cfg.Storage.Driver != "memory" {
		return fmt.Errorf("storage.driver must be postgres or memory, got %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver == "postgres" && cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Reasoning.Backend == "" {
		return errors.New("reasoning.backend is required")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Pipeline.MaxConcurrent < 1 {
		return errors.New("pipeline.max_concurrent must be >= 1")
	}
	if cfg.Pipeline.MaxReplanRounds < 0 {
		return errors.New("pipeline.max_replan_rounds must be >= 0")
	}
	if err := cfg.Critique.Weights.Validate(); err != nil {
		return fmt.Errorf("critique.weights: %w", err)
	}
	if err := cfg.Router.Thresholds.Validate(); err != nil {
		return fmt.Errorf("router.thresholds: %w", err)
	}
	for agent, w := range cfg.Router.AgentWeights {
		if w < 0 {
			return fmt.Errorf("router.agent_weights.%s must be >= 0", agent)
		}
	}
	if cfg.MCP.Enabled && cfg.MCP.Addr == "" {
		return errors.New("mcp.addr is required when mcp.enabled is true")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
