// Package di assembles the replication core's component graph: every
// value-constructed component from internal/{vault,broker,instrument,
// orderstore,followers,riskgate,policy,accounts,dispatch,replmetrics,
// events,ingress,reconcile,server} wired together once at process start
// and handed explicitly to whatever needs it, rather than relying on
// module-level singletons.
//
// Assembly proceeds in dependency order: databases first, then
// repositories, then services, then the top-level work components.
package di

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/accounts"
	"github.com/aristath/sentinel/internal/broker"
	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/database"
	"github.com/aristath/sentinel/internal/dispatch"
	"github.com/aristath/sentinel/internal/events"
	"github.com/aristath/sentinel/internal/followers"
	"github.com/aristath/sentinel/internal/ingress"
	"github.com/aristath/sentinel/internal/instrument"
	"github.com/aristath/sentinel/internal/orderstore"
	"github.com/aristath/sentinel/internal/policy"
	"github.com/aristath/sentinel/internal/reconcile"
	"github.com/aristath/sentinel/internal/replmetrics"
	"github.com/aristath/sentinel/internal/riskgate"
	"github.com/aristath/sentinel/internal/server"
	"github.com/aristath/sentinel/internal/vault"
)

// Container holds every wired component the bootstrap sequence needs to
// start or stop.
type Container struct {
	Cfg *config.Config
	Log zerolog.Logger

	LedgerDB *database.DB
	CacheDB  *database.DB

	Vault      *vault.Vault
	Instrument *instrument.Mapper
	Orders     *orderstore.Store
	Followers  *followers.Registry
	RiskGate   *riskgate.Gate
	Policy     *policy.Transformer
	Accounts   *accounts.Metrics
	Envelopes  *accounts.EnvelopeRepo
	Broker     *broker.Adapter

	MetricsStore *replmetrics.Store
	Bus          *events.Bus
	AuditSink    *events.FileAuditSink
	Archiver     events.Archiver

	Dispatcher *dispatch.Dispatcher
	Ingress    *ingress.Hook
	Reconciler *reconcile.Reconciler
	Server     *server.Server
}

// Build assembles the full component graph from cfg. It opens and migrates
// both SQLite databases; callers must arrange to Close them (see
// Container.Close).
func Build(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{Cfg: cfg, Log: log}

	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "ledger.db"),
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	if err := ledgerDB.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate ledger database: %w", err)
	}
	c.LedgerDB = ledgerDB

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if err := cacheDB.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate cache database: %w", err)
	}
	c.CacheDB = cacheDB

	sealingKey, err := resolveSealingKey(cfg, log)
	if err != nil {
		return nil, err
	}

	credentialSource := vault.NewDBCredentialSource(ledgerDB.Conn(), log)
	authenticator := vault.NewBrokerAuthenticator(cfg.BrokerBaseURL, cfg.BrokerAPIKey, sealingKey, log)
	c.Vault = vault.New(authenticator, credentialSource, cfg.SessionRefreshGuard, log)

	c.Instrument = instrument.New(cacheDB.Conn(), log)
	c.Orders = orderstore.New(ledgerDB.Conn(), log)
	c.Followers = followers.New(ledgerDB.Conn(), cfg.FollowerSnapshotTTL)
	c.Policy = policy.New()
	c.Envelopes = accounts.NewEnvelopeRepo(ledgerDB.Conn())

	identity := broker.Identity{
		APIKey:      cfg.BrokerAPIKey,
		AppVersion:  cfg.BrokerAppVersion,
		AppName:     cfg.BrokerAppName,
		ChannelName: cfg.BrokerChannelName,
		PublicIP:    cfg.BrokerPublicIP,
	}
	c.Broker = broker.New(cfg.BrokerBaseURL, identity, c.Vault, log)

	c.Accounts = accounts.New(ledgerDB.Conn(), c.Vault, c.Broker)
	c.RiskGate = riskgate.New(c.Accounts, log)

	c.MetricsStore = replmetrics.NewStore(ledgerDB.Conn())

	auditPath := filepath.Join(cfg.DataDir, "audit.msgpack")
	auditSink, err := events.NewFileAuditSink(auditPath, log)
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}
	c.AuditSink = auditSink
	c.Bus = events.New(log, auditSink)

	dispatchCfg := dispatch.Config{
		MaxInFlightBrokerCalls: cfg.MaxInFlightBrokerCalls,
		DispatchTimeout:        cfg.DispatchTimeout,
		MaxRetries:             cfg.MaxRetries,
		RetryBaseDelay:         cfg.RetryBaseDelay,
		RetryCapDelay:          cfg.RetryCapDelay,
		RetryJitterPct:         cfg.RetryJitterPct,
		WorkerPoolMultiplier:   cfg.WorkerPoolMultiplier,
	}
	c.Dispatcher = dispatch.New(
		dispatchCfg,
		c.Orders,
		c.Followers,
		c.RiskGate,
		c.Policy,
		c.Instrument,
		c.Vault,
		c.Broker,
		c.Envelopes,
		c.Accounts,
		c.Accounts,
		c.MetricsStore,
		c.Bus,
		log,
	)

	c.Ingress = ingress.New(c.Dispatcher, c.Bus, log)
	c.Reconciler = reconcile.New(c.Orders, c.Orders, c.Vault, c.Broker, log)

	c.Server = server.New(server.Config{
		Log:       log,
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		LedgerDB:  c.LedgerDB,
		Metrics:   c.MetricsStore,
		Bus:       c.Bus,
		Broker:    c.Broker,
		StartedAt: time.Now(),
	})

	return c, nil
}

// resolveSealingKey decodes the configured credential-sealing key, or, in
// dev mode with none configured, mints an ephemeral one so the process can
// still start — sealed credentials written under an ephemeral key do not
// survive a restart, which is fine for local development and wrong for
// production, hence the hard failure outside DevMode.
func resolveSealingKey(cfg *config.Config, log zerolog.Logger) ([]byte, error) {
	if cfg.CredentialSealingKey != "" {
		return vault.DecodeKey(cfg.CredentialSealingKey)
	}
	if !cfg.DevMode {
		return nil, fmt.Errorf("credential_sealing_key is required outside dev mode")
	}
	log.Warn().Msg("no credential_sealing_key configured; generating an ephemeral one for this process only")
	return vault.GenerateKey()
}

// Close closes the audit sink and releases the database connections. Safe
// to call once during
// graceful shutdown.
func (c *Container) Close() {
	if c.AuditSink != nil {
		if err := c.AuditSink.Close(); err != nil {
			c.Log.Warn().Err(err).Msg("close audit sink failed")
		}
	}
	if c.LedgerDB != nil {
		if err := c.LedgerDB.Close(); err != nil {
			c.Log.Warn().Err(err).Msg("close ledger database failed")
		}
	}
	if c.CacheDB != nil {
		if err := c.CacheDB.Close(); err != nil {
			c.Log.Warn().Err(err).Msg("close cache database failed")
		}
	}
}
