// Package config provides configuration management for the replication core.
//
// Configuration is loaded from environment variables (.env file optional);
// every key in the replication core's configuration surface has a typed
// field and a default, validated once at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/sentinel/internal/vault"
)

// Config holds the replication core's runtime configuration.
type Config struct {
	DataDir string // Base directory for the SQLite databases (always absolute)
	Port    int    // HTTP server port for the operational surface
	DevMode bool   // Development mode flag (pretty console logging)
	LogLevel string

	BrokerBaseURL string // HTTPS endpoint for the broker adapter
	BrokerSandbox bool   // Loaded but not read; BrokerBaseURL alone selects the endpoint

	BrokerAPIKey      string // Caller-identity key attached to every wire request
	BrokerAppVersion  string
	BrokerAppName     string
	BrokerChannelName string
	BrokerPublicIP    string

	CredentialSealingKey string // Base64 AES-256 key sealing credentials at rest

	MaxInFlightBrokerCalls int           // Global semaphore size
	DispatchTimeout        time.Duration // Per-follower pipeline deadline
	MaxRetries             int           // Transient broker-error retries
	RetryBaseDelay         time.Duration // Backoff curve base
	RetryCapDelay          time.Duration // Backoff curve cap
	RetryJitterPct         int           // Backoff curve jitter, percent

	FollowerSnapshotTTL time.Duration // Registry cache TTL
	WorkerPoolMultiplier int          // CPUs x N tasks
	SessionRefreshGuard  time.Duration // Pre-expiry session refresh window

	ReconcileInterval time.Duration // Background reconciler poll interval

	ArchiveS3Bucket string // Optional sealed-event archival bucket (empty disables)
	ArchiveS3Region string
}

// Load reads configuration from environment variables, falling back to a
// .env file in the working directory if one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("REPLICATION_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		DevMode:  getEnvAsBool("DEV_MODE", false),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		BrokerBaseURL: getEnv("BROKER_BASE_URL", "https://api.broker.example/v1"),
		BrokerSandbox: getEnvAsBool("BROKER_SANDBOX", false),

		BrokerAPIKey:      getEnv("BROKER_API_KEY", ""),
		BrokerAppVersion:  getEnv("BROKER_APP_VERSION", "1.0"),
		BrokerAppName:     getEnv("BROKER_APP_NAME", "replication-core"),
		BrokerChannelName: getEnv("BROKER_CHANNEL_NAME", "API"),
		BrokerPublicIP:    getEnv("BROKER_PUBLIC_IP", "0.0.0.0"),

		CredentialSealingKey: getEnv("CREDENTIAL_SEALING_KEY", ""),

		MaxInFlightBrokerCalls: getEnvAsInt("MAX_IN_FLIGHT_BROKER_CALLS", 50),
		DispatchTimeout:        getEnvAsDuration("DISPATCH_TIMEOUT_MS", 5000*time.Millisecond),
		MaxRetries:             getEnvAsInt("MAX_RETRIES", 3),
		RetryBaseDelay:         getEnvAsDuration("RETRY_BASE_MS", 100*time.Millisecond),
		RetryCapDelay:          getEnvAsDuration("RETRY_CAP_MS", 2000*time.Millisecond),
		RetryJitterPct:         getEnvAsInt("RETRY_JITTER_PCT", 25),

		FollowerSnapshotTTL:  getEnvAsDuration("FOLLOWER_SNAPSHOT_TTL_MS", 1000*time.Millisecond),
		WorkerPoolMultiplier: getEnvAsInt("WORKER_POOL_MULTIPLIER", 4),
		SessionRefreshGuard:  getEnvAsDuration("SESSION_REFRESH_GUARD_MS", 300000*time.Millisecond),

		ReconcileInterval: getEnvAsDuration("RECONCILE_INTERVAL_MS", 10000*time.Millisecond),

		ArchiveS3Bucket: getEnv("ARCHIVE_S3_BUCKET", ""),
		ArchiveS3Region: getEnv("ARCHIVE_S3_REGION", "us-east-1"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configuration combinations that can never run correctly,
// at startup rather than at first use.
func (c *Config) Validate() error {
	if c.MaxInFlightBrokerCalls <= 0 {
		return fmt.Errorf("max_in_flight_broker_calls must be positive, got %d", c.MaxInFlightBrokerCalls)
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("dispatch_timeout_ms must be positive, got %s", c.DispatchTimeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.RetryBaseDelay <= 0 || c.RetryCapDelay < c.RetryBaseDelay {
		return fmt.Errorf("retry backoff curve invalid: base=%s cap=%s", c.RetryBaseDelay, c.RetryCapDelay)
	}
	if c.RetryJitterPct < 0 || c.RetryJitterPct > 100 {
		return fmt.Errorf("retry_jitter_pct must be in [0,100], got %d", c.RetryJitterPct)
	}
	if c.WorkerPoolMultiplier <= 0 {
		return fmt.Errorf("worker_pool_multiplier must be positive, got %d", c.WorkerPoolMultiplier)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.CredentialSealingKey != "" {
		if _, err := vault.DecodeKey(c.CredentialSealingKey); err != nil {
			return fmt.Errorf("credential_sealing_key: %w", err)
		}
	}
	return nil
}

// ==========================================
// Helper functions
// ==========================================

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// getEnvAsDuration reads an environment variable holding a millisecond count.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return time.Duration(intVal) * time.Millisecond
		}
	}
	return defaultValue
}
