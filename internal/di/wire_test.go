package di

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/sentinel/internal/config"
)

func TestBuild_AssemblesTheFullComponentGraph(t *testing.T) {
	cfg := &config.Config{
		DataDir:                t.TempDir(),
		Port:                   8080,
		DevMode:                true,
		BrokerBaseURL:          "https://broker.example/v1",
		BrokerAPIKey:           "test-key",
		MaxInFlightBrokerCalls: 10,
		DispatchTimeout:        time.Second,
		MaxRetries:             2,
		RetryBaseDelay:         10 * time.Millisecond,
		RetryCapDelay:          100 * time.Millisecond,
		RetryJitterPct:         10,
		WorkerPoolMultiplier:   4,
		FollowerSnapshotTTL:    time.Second,
		SessionRefreshGuard:    time.Second,
	}

	container, err := Build(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer container.Close()

	assert.NotNil(t, container.LedgerDB)
	assert.NotNil(t, container.CacheDB)
	assert.NotNil(t, container.Vault)
	assert.NotNil(t, container.Instrument)
	assert.NotNil(t, container.Orders)
	assert.NotNil(t, container.Followers)
	assert.NotNil(t, container.RiskGate)
	assert.NotNil(t, container.Policy)
	assert.NotNil(t, container.Accounts)
	assert.NotNil(t, container.Envelopes)
	assert.NotNil(t, container.Broker)
	assert.NotNil(t, container.MetricsStore)
	assert.NotNil(t, container.Bus)
	assert.NotNil(t, container.AuditSink)
	assert.NotNil(t, container.Dispatcher)
	assert.NotNil(t, container.Ingress)
	assert.NotNil(t, container.Reconciler)
	assert.NotNil(t, container.Server)
}

func TestBuild_FailsOutsideDevModeWithoutASealingKey(t *testing.T) {
	cfg := &config.Config{
		DataDir:                t.TempDir(),
		Port:                   8080,
		DevMode:                false,
		BrokerBaseURL:          "https://broker.example/v1",
		MaxInFlightBrokerCalls: 10,
		DispatchTimeout:        time.Second,
		MaxRetries:             2,
		RetryBaseDelay:         10 * time.Millisecond,
		RetryCapDelay:          100 * time.Millisecond,
		WorkerPoolMultiplier:   4,
	}

	_, err := Build(cfg, zerolog.Nop())
	assert.Error(t, err)
}
