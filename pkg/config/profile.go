package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// profileOverlay mirrors Config with pointer fields so an absent YAML key
// leaves the environment value untouched.
type profileOverlay struct {
	LogLevel *string `yaml:"log_level"`

	QueueSize      *int     `yaml:"queue_size"`
	OverflowPolicy *string  `yaml:"overflow_policy"`
	SweepInterval  *string  `yaml:"sweep_interval"`
	EventRateLimit *float64 `yaml:"event_rate_limit"`
	EventRateBurst *int     `yaml:"event_rate_burst"`
	ShutdownGrace  *string  `yaml:"shutdown_grace"`

	MaxParallelPerStep *int    `yaml:"max_parallel_per_step"`
	MaxRetries         *int    `yaml:"max_retries"`
	EscalationTimeout  *string `yaml:"escalation_timeout"`

	SkipIdempotency   *bool   `yaml:"skip_idempotency"`
	SkipAuthorization *bool   `yaml:"skip_authorization"`
	SkipPolicyGate    *bool   `yaml:"skip_policy_gate"`
	IdempotencyTTL    *string `yaml:"idempotency_ttl"`

	StoreBackend   *string `yaml:"store_backend"`
	DatabaseURL    *string `yaml:"database_url"`
	SQLiteTrace    *string `yaml:"sqlite_trace_path"`
	RedisAddr      *string `yaml:"redis_addr"`
	RedisKeyPrefix *string `yaml:"redis_key_prefix"`

	TraceRetention     *string `yaml:"trace_retention"`
	TracePruneInterval *string `yaml:"trace_prune_interval"`

	OTLPEndpoint     *string  `yaml:"otlp_endpoint"`
	TelemetryEnabled *bool    `yaml:"telemetry_enabled"`
	SampleRate       *float64 `yaml:"sample_rate"`
}

// ApplyProfile overlays a YAML profile file onto the config. Keys absent
// from the file keep their current values.
func (c *Config) ApplyProfile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read profile %s: %w", path, err)
	}
	var overlay profileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse profile %s: %w", path, err)
	}

	setString(&c.LogLevel, overlay.LogLevel)
	setInt(&c.QueueSize, overlay.QueueSize)
	setString(&c.OverflowPolicy, overlay.OverflowPolicy)
	if err := setDuration(&c.SweepInterval, overlay.SweepInterval); err != nil {
		return err
	}
	setFloat(&c.EventRateLimit, overlay.EventRateLimit)
	setInt(&c.EventRateBurst, overlay.EventRateBurst)
	if err := setDuration(&c.ShutdownGrace, overlay.ShutdownGrace); err != nil {
		return err
	}
	setInt(&c.MaxParallelPerStep, overlay.MaxParallelPerStep)
	setInt(&c.MaxRetries, overlay.MaxRetries)
	if err := setDuration(&c.EscalationTimeout, overlay.EscalationTimeout); err != nil {
		return err
	}
	setBool(&c.SkipIdempotency, overlay.SkipIdempotency)
	setBool(&c.SkipAuthorization, overlay.SkipAuthorization)
	setBool(&c.SkipPolicyGate, overlay.SkipPolicyGate)
	if err := setDuration(&c.IdempotencyTTL, overlay.IdempotencyTTL); err != nil {
		return err
	}
	setString(&c.StoreBackend, overlay.StoreBackend)
	setString(&c.DatabaseURL, overlay.DatabaseURL)
	setString(&c.SQLiteTrace, overlay.SQLiteTrace)
	setString(&c.RedisAddr, overlay.RedisAddr)
	setString(&c.RedisKeyPrefix, overlay.RedisKeyPrefix)
	if err := setDuration(&c.TraceRetention, overlay.TraceRetention); err != nil {
		return err
	}
	if err := setDuration(&c.TracePruneInterval, overlay.TracePruneInterval); err != nil {
		return err
	}
	setString(&c.OTLPEndpoint, overlay.OTLPEndpoint)
	setBool(&c.TelemetryEnabled, overlay.TelemetryEnabled)
	setFloat(&c.SampleRate, overlay.SampleRate)
	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setFloat(dst *float64, src *float64) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", *src, err)
	}
	*dst = d
	return nil
}
