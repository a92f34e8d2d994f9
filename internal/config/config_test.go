package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		require.NoError(t, os.Unsetenv(k))
		if had {
			t.Cleanup(func() { _ = os.Setenv(k, old) })
		}
	}
}

func TestLoad_AppliesDefaultsWhenEnvIsUnset(t *testing.T) {
	clearEnv(t, "REPLICATION_DATA_DIR", "PORT", "MAX_IN_FLIGHT_BROKER_CALLS", "DISPATCH_TIMEOUT_MS", "CREDENTIAL_SEALING_KEY")
	t.Setenv("REPLICATION_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 50, cfg.MaxInFlightBrokerCalls)
	assert.Equal(t, 5000*time.Millisecond, cfg.DispatchTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestLoad_ReadsOverridesFromEnv(t *testing.T) {
	t.Setenv("REPLICATION_DATA_DIR", t.TempDir())
	t.Setenv("PORT", "9090")
	t.Setenv("MAX_RETRIES", "7")
	t.Setenv("RETRY_JITTER_PCT", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 7, cfg.MaxRetries)
	assert.Equal(t, 10, cfg.RetryJitterPct)
}

func TestLoad_CreatesDataDirIfMissing(t *testing.T) {
	dir := t.TempDir() + "/nested/data"
	t.Setenv("REPLICATION_DATA_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	info, err := os.Stat(cfg.DataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestValidate_RejectsNonPositiveMaxInFlightBrokerCalls(t *testing.T) {
	cfg := validConfig()
	cfg.MaxInFlightBrokerCalls = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsCapDelayBelowBaseDelay(t *testing.T) {
	cfg := validConfig()
	cfg.RetryBaseDelay = 2 * time.Second
	cfg.RetryCapDelay = time.Second
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsJitterOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.RetryJitterPct = 150
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsPortOutOfRange(t *testing.T) {
	cfg := validConfig()
	cfg.Port = 70000
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsMalformedCredentialSealingKey(t *testing.T) {
	cfg := validConfig()
	cfg.CredentialSealingKey = "not-valid-base64-key-material"
	assert.Error(t, cfg.Validate())
}

func TestValidate_AcceptsAWellFormedConfig(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func validConfig() *Config {
	return &Config{
		Port:                   8080,
		MaxInFlightBrokerCalls: 50,
		DispatchTimeout:        5 * time.Second,
		MaxRetries:             3,
		RetryBaseDelay:         100 * time.Millisecond,
		RetryCapDelay:          2 * time.Second,
		RetryJitterPct:         25,
		WorkerPoolMultiplier:   4,
	}
}
