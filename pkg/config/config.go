// Package config loads orchestrator configuration from environment
// variables, optionally overlaid by a YAML profile file.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the runtime configuration of the orchestrator service.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// Event loop.
	QueueSize       int           `yaml:"queue_size"`
	OverflowPolicy  string        `yaml:"overflow_policy"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	EventRateLimit  float64       `yaml:"event_rate_limit"`
	EventRateBurst  int           `yaml:"event_rate_burst"`
	ShutdownGrace   time.Duration `yaml:"shutdown_grace"`

	// Selection and recovery.
	MaxParallelPerStep int           `yaml:"max_parallel_per_step"`
	MaxRetries         int           `yaml:"max_retries"`
	EscalationTimeout  time.Duration `yaml:"escalation_timeout"`

	// Governance.
	SkipIdempotency   bool          `yaml:"skip_idempotency"`
	SkipAuthorization bool          `yaml:"skip_authorization"`
	SkipPolicyGate    bool          `yaml:"skip_policy_gate"`
	IdempotencyTTL    time.Duration `yaml:"idempotency_ttl"`
	JWTSecret         string        `yaml:"jwt_secret"`

	// Persistence. Backend is one of "memory", "postgres"; traces may
	// additionally go to "sqlite", and idempotency keys to "redis".
	StoreBackend   string `yaml:"store_backend"`
	DatabaseURL    string `yaml:"database_url"`
	SQLiteTrace    string `yaml:"sqlite_trace_path"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`

	// Trace retention.
	TraceRetention     time.Duration `yaml:"trace_retention"`
	TracePruneInterval time.Duration `yaml:"trace_prune_interval"`

	// Telemetry.
	OTLPEndpoint     string  `yaml:"otlp_endpoint"`
	TelemetryEnabled bool    `yaml:"telemetry_enabled"`
	SampleRate       float64 `yaml:"sample_rate"`
}

// Load reads configuration from PATHWISE_-prefixed environment variables
// with defaults.
func Load() *Config {
	return &Config{
		LogLevel: envString("LOG_LEVEL", "INFO"),

		QueueSize:      envInt("QUEUE_SIZE", 10000),
		OverflowPolicy: envString("OVERFLOW_POLICY", "DROP_NEWEST"),
		SweepInterval:  envDuration("SWEEP_INTERVAL", 5*time.Second),
		EventRateLimit: envFloat("EVENT_RATE_LIMIT", 0),
		EventRateBurst: envInt("EVENT_RATE_BURST", 16),
		ShutdownGrace:  envDuration("SHUTDOWN_GRACE", 30*time.Second),

		MaxParallelPerStep: envInt("MAX_PARALLEL_PER_STEP", 0),
		MaxRetries:         envInt("MAX_RETRIES", 3),
		EscalationTimeout:  envDuration("ESCALATION_TIMEOUT", 24*time.Hour),

		SkipIdempotency:   envBool("SKIP_IDEMPOTENCY"),
		SkipAuthorization: envBool("SKIP_AUTHORIZATION"),
		SkipPolicyGate:    envBool("SKIP_POLICY_GATE"),
		IdempotencyTTL:    envDuration("IDEMPOTENCY_TTL", 0),
		JWTSecret:         envString("JWT_SECRET", ""),

		StoreBackend:   envString("STORE_BACKEND", "memory"),
		DatabaseURL:    envString("DATABASE_URL", "postgres://pathwise@localhost:5432/pathwise?sslmode=disable"),
		SQLiteTrace:    envString("SQLITE_TRACE_PATH", ""),
		RedisAddr:      envString("REDIS_ADDR", ""),
		RedisKeyPrefix: envString("REDIS_KEY_PREFIX", "pathwise:exec:"),

		TraceRetention:     envDuration("TRACE_RETENTION", 90*24*time.Hour),
		TracePruneInterval: envDuration("TRACE_PRUNE_INTERVAL", time.Hour),

		OTLPEndpoint:     envString("OTLP_ENDPOINT", "localhost:4317"),
		TelemetryEnabled: envBool("TELEMETRY_ENABLED"),
		SampleRate:       envFloat("SAMPLE_RATE", 1.0),
	}
}

// envPrefix namespaces every environment variable the service reads.
const envPrefix = "PATHWISE_"

func envString(key, fallback string) string {
	if v := os.Getenv(envPrefix + key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(envPrefix + key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string) bool {
	return os.Getenv(envPrefix+key) == "true"
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(envPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
