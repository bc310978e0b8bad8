package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config holds the complete Kestrel configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Compliance engine settings
	Compliance ComplianceConfig `json:"compliance"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ComplianceConfig tunes the evaluation pipeline.
type ComplianceConfig struct {
	// BaseCurrency is the currency thresholds are written in. Disclosure
	// BaseValue is already normalized into it by the disclosure subsystem.
	BaseCurrency string `json:"baseCurrency"`

	// FiscalYearStartMonth anchors fiscal-year calendar windows (1-12).
	FiscalYearStartMonth int `json:"fiscalYearStartMonth"`

	// DetectorTimeout bounds each detector independently.
	DetectorTimeout time.Duration `json:"detectorTimeout"`

	// GiftConflictThreshold is the per person+vendor rolling aggregate the
	// gift-aggregate detector flags at. Distinct from any case-creation rule.
	GiftConflictThreshold decimal.Decimal `json:"giftConflictThreshold"`
	GiftConflictWindowDays int            `json:"giftConflictWindowDays"`

	// RelationshipWindowDays bounds the relationship-pattern lookback.
	RelationshipWindowDays int `json:"relationshipWindowDays"`
	// RelationshipMinPersons is the distinct-employee count that flags.
	RelationshipMinPersons int `json:"relationshipMinPersons"`

	// RetroBatchSize bounds retroactive rule application batches.
	RetroBatchSize int `json:"retroBatchSize"`
	// RetroConcurrency bounds concurrent evaluations within a batch.
	RetroConcurrency int `json:"retroConcurrency"`

	// EscalationRetryInterval paces the pending-escalation drain loop.
	EscalationRetryInterval time.Duration `json:"escalationRetryInterval"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"

	// TierEnterprise includes multi-node, SSO, etc.
	TierEnterprise Tier = "enterprise"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Compliance: ComplianceConfig{
			BaseCurrency:            "USD",
			FiscalYearStartMonth:    1,
			DetectorTimeout:         5 * time.Second,
			GiftConflictThreshold:   decimal.NewFromInt(250),
			GiftConflictWindowDays:  365,
			RelationshipWindowDays:  365,
			RelationshipMinPersons:  2,
			RetroBatchSize:          100,
			RetroConcurrency:        4,
			EscalationRetryInterval: 30 * time.Second,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
