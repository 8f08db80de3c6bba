package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 10000, cfg.QueueSize)
	assert.Equal(t, "DROP_NEWEST", cfg.OverflowPolicy)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
	assert.Equal(t, 30*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.EscalationTimeout)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 90*24*time.Hour, cfg.TraceRetention)
	assert.False(t, cfg.TelemetryEnabled)
	assert.InDelta(t, 1.0, cfg.SampleRate, 0.0001)
}

func TestLoad_ReadsEnvironment(t *testing.T) {
	t.Setenv("PATHWISE_LOG_LEVEL", "DEBUG")
	t.Setenv("PATHWISE_QUEUE_SIZE", "64")
	t.Setenv("PATHWISE_OVERFLOW_POLICY", "BLOCK")
	t.Setenv("PATHWISE_SWEEP_INTERVAL", "15s")
	t.Setenv("PATHWISE_EVENT_RATE_LIMIT", "250.5")
	t.Setenv("PATHWISE_SKIP_POLICY_GATE", "true")
	t.Setenv("PATHWISE_STORE_BACKEND", "postgres")
	t.Setenv("PATHWISE_TELEMETRY_ENABLED", "true")

	cfg := Load()
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 64, cfg.QueueSize)
	assert.Equal(t, "BLOCK", cfg.OverflowPolicy)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.InDelta(t, 250.5, cfg.EventRateLimit, 0.0001)
	assert.True(t, cfg.SkipPolicyGate)
	assert.False(t, cfg.SkipIdempotency)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.True(t, cfg.TelemetryEnabled)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("PATHWISE_QUEUE_SIZE", "not-a-number")
	t.Setenv("PATHWISE_SWEEP_INTERVAL", "soon")
	t.Setenv("PATHWISE_SAMPLE_RATE", "often")

	cfg := Load()
	assert.Equal(t, 10000, cfg.QueueSize)
	assert.Equal(t, 5*time.Second, cfg.SweepInterval)
	assert.InDelta(t, 1.0, cfg.SampleRate, 0.0001)
}

func TestLoad_IgnoresUnprefixedNames(t *testing.T) {
	t.Setenv("QUEUE_SIZE", "64")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg := Load()
	assert.Equal(t, 10000, cfg.QueueSize)
	assert.Equal(t, "INFO", cfg.LogLevel)
}

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestApplyProfile_OverlaysPresentKeysOnly(t *testing.T) {
	cfg := Load()
	path := writeProfile(t, `
log_level: WARN
queue_size: 256
sweep_interval: 30s
skip_authorization: true
store_backend: postgres
sample_rate: 0.25
`)

	require.NoError(t, cfg.ApplyProfile(path))
	assert.Equal(t, "WARN", cfg.LogLevel)
	assert.Equal(t, 256, cfg.QueueSize)
	assert.Equal(t, 30*time.Second, cfg.SweepInterval)
	assert.True(t, cfg.SkipAuthorization)
	assert.Equal(t, "postgres", cfg.StoreBackend)
	assert.InDelta(t, 0.25, cfg.SampleRate, 0.0001)

	// Absent keys keep their environment values.
	assert.Equal(t, "DROP_NEWEST", cfg.OverflowPolicy)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.EscalationTimeout)
}

func TestApplyProfile_CanDisableExplicitly(t *testing.T) {
	t.Setenv("PATHWISE_TELEMETRY_ENABLED", "true")
	cfg := Load()
	require.True(t, cfg.TelemetryEnabled)

	path := writeProfile(t, "telemetry_enabled: false\n")
	require.NoError(t, cfg.ApplyProfile(path))
	assert.False(t, cfg.TelemetryEnabled)
}

func TestApplyProfile_Errors(t *testing.T) {
	cfg := Load()

	err := cfg.ApplyProfile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read profile")

	err = cfg.ApplyProfile(writeProfile(t, "queue_size: [nope\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse profile")

	err = cfg.ApplyProfile(writeProfile(t, "trace_retention: forever\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid duration")
}
