package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "atlas.yaml"

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
func loadEnv(cfg *Config) {
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ATLAS_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ATLAS_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ATLAS_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ATLAS_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ATLAS_PG_HEALTH_CHECK")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.LLM.BaseURL, "ATLAS_LLM_BASE_URL")
	setDuration(&cfg.LLM.Timeout, "ATLAS_LLM_TIMEOUT")
	setString(&cfg.LLM.GenerateModel, "ATLAS_LLM_GENERATE_MODEL")
	setString(&cfg.LLM.EmbeddingModel, "ATLAS_LLM_EMBEDDING_MODEL")
	setInt(&cfg.LLM.BreakerMaxFailures, "ATLAS_LLM_BREAKER_MAX_FAILURES")
	setDuration(&cfg.LLM.BreakerTimeout, "ATLAS_LLM_BREAKER_TIMEOUT")

	setString(&cfg.Logging.Level, "ATLAS_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ATLAS_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "ATLAS_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "ATLAS_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "ATLAS_BREAKER_TIMEOUT")

	setString(&cfg.RateLimit.Algorithm, "ATLAS_RATE_ALGORITHM")
	setFloat64(&cfg.RateLimit.RequestsPerSec, "ATLAS_RATE_RPS")
	setInt(&cfg.RateLimit.Burst, "ATLAS_RATE_BURST")
	setDuration(&cfg.RateLimit.CleanupInterval, "ATLAS_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.RateLimit.MaxIdleTime, "ATLAS_RATE_MAX_IDLE_TIME")
	setBool(&cfg.RateLimit.AdaptiveEnabled, "ATLAS_RATE_ADAPTIVE_ENABLED")
	setFloat64(&cfg.RateLimit.AdaptiveAlpha, "ATLAS_RATE_ADAPTIVE_ALPHA")

	setInt(&cfg.Queue.Workers, "ATLAS_QUEUE_WORKERS")
	setDuration(&cfg.Queue.DefaultTimeout, "ATLAS_QUEUE_DEFAULT_TIMEOUT")
	setInt(&cfg.Queue.DefaultMaxRetries, "ATLAS_QUEUE_DEFAULT_MAX_RETRIES")

	setDuration(&cfg.Cron.PollInterval, "ATLAS_CRON_POLL_INTERVAL")
	setString(&cfg.Cron.Timezone, "ATLAS_CRON_TIMEZONE")

	setDuration(&cfg.Adaptive.SampleInterval, "ATLAS_ADAPTIVE_SAMPLE_INTERVAL")
	setInt(&cfg.Adaptive.HysteresisSamples, "ATLAS_ADAPTIVE_HYSTERESIS_SAMPLES")
	setDuration(&cfg.Adaptive.CooldownPeriod, "ATLAS_ADAPTIVE_COOLDOWN_PERIOD")
	setDuration(&cfg.Adaptive.CircuitOpenWindow, "ATLAS_ADAPTIVE_CIRCUIT_OPEN_WINDOW")
	setFloat64(&cfg.Adaptive.CPUHighWatermark, "ATLAS_ADAPTIVE_CPU_HIGH_WATERMARK")
	setFloat64(&cfg.Adaptive.MemHighWatermark, "ATLAS_ADAPTIVE_MEM_HIGH_WATERMARK")
	setFloat64(&cfg.Adaptive.MemEmergencyThreshold, "ATLAS_ADAPTIVE_MEM_EMERGENCY_THRESHOLD")
	setDuration(&cfg.Adaptive.P95LatencyThreshold, "ATLAS_ADAPTIVE_P95_LATENCY_THRESHOLD")
	setFloat64(&cfg.Adaptive.ErrorRateThreshold, "ATLAS_ADAPTIVE_ERROR_RATE_THRESHOLD")
	setFloat64(&cfg.Adaptive.CPUScaleUpMax, "ATLAS_ADAPTIVE_CPU_SCALE_UP_MAX")
	setFloat64(&cfg.Adaptive.ErrorRateScaleUpMax, "ATLAS_ADAPTIVE_ERROR_RATE_SCALE_UP_MAX")
	setInt(&cfg.Adaptive.QueueHighWatermark, "ATLAS_ADAPTIVE_QUEUE_HIGH_WATERMARK")
	setInt(&cfg.Adaptive.MinConcurrency, "ATLAS_ADAPTIVE_MIN_CONCURRENCY")
	setInt(&cfg.Adaptive.MaxConcurrency, "ATLAS_ADAPTIVE_MAX_CONCURRENCY")

	setInt64(&cfg.Cache.L1MaxSizeMB, "ATLAS_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.DefaultTTL, "ATLAS_CACHE_DEFAULT_TTL")

	setString(&cfg.Sources.ConfigPath, "ATLAS_SOURCES_CONFIG_PATH")

	setDuration(&cfg.HTTPClient.Timeout, "ATLAS_HTTP_TIMEOUT")
	setInt(&cfg.HTTPClient.MaxAttempts, "ATLAS_HTTP_MAX_ATTEMPTS")
	setDuration(&cfg.HTTPClient.BaseDelay, "ATLAS_HTTP_BASE_DELAY")
	setInt(&cfg.HTTPClient.BreakerMaxFailures, "ATLAS_HTTP_BREAKER_MAX_FAILURES")
	setDuration(&cfg.HTTPClient.BreakerTimeout, "ATLAS_HTTP_BREAKER_TIMEOUT")
	setDuration(&cfg.HTTPClient.CacheTTL, "ATLAS_HTTP_CACHE_TTL")
}

// validate checks that required fields are set and internally consistent.
func validate(cfg *Config) error {
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.RateLimit.Burst < 1 {
		return errors.New("rate_limit.burst must be >= 1")
	}
	if cfg.Queue.Workers < 1 {
		return errors.New("queue.workers must be >= 1")
	}
	if cfg.Adaptive.MinConcurrency < 1 {
		return errors.New("adaptive.min_concurrency must be >= 1")
	}
	if cfg.Adaptive.MaxConcurrency < cfg.Adaptive.MinConcurrency {
		return errors.New("adaptive.max_concurrency must be >= min_concurrency")
	}
	if cfg.Adaptive.HysteresisSamples < 1 {
		return errors.New("adaptive.hysteresis_samples must be >= 1")
	}
	if _, err := time.LoadLocation(cfg.Cron.Timezone); err != nil {
		return fmt.Errorf("cron.timezone %q: %w", cfg.Cron.Timezone, err)
	}
	if cfg.HTTPClient.MaxAttempts < 1 {
		return errors.New("http_client.max_attempts must be >= 1")
	}

	switch cfg.RateLimit.Algorithm {
	case "fixed_window", "sliding_window", "token_bucket", "leaky_bucket":
	default:
		return fmt.Errorf("rate_limit.algorithm %q is not one of fixed_window|sliding_window|token_bucket|leaky_bucket", cfg.RateLimit.Algorithm)
	}

	if cfg.LLM.BaseURL == "" {
		slog.Warn("llm.base_url is empty; LLM-dependent components will fail at call time")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
