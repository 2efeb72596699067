package config

import (
	"time"

	"github.com/vietddude/offerwatch/internal/indexing/throttle"
	redisclient "github.com/vietddude/offerwatch/internal/infra/redis"
	"github.com/vietddude/offerwatch/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
	Redis    redisclient.Config `yaml:"redis"`
	Sui      SuiConfig          `yaml:"sui"`
	Indexer  IndexerConfig      `yaml:"indexer"`
}

// ServerConfig holds HTTP and gRPC server settings.
type ServerConfig struct {
	Port     int `yaml:"port"`
	GRPCPort int `yaml:"grpc_port"` // 0 disables the gRPC health server
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// SuiConfig holds the full node and contract settings.
type SuiConfig struct {
	RPCURL            string        `yaml:"rpc_url"`
	Timeout           time.Duration `yaml:"timeout"`
	ContractPackageID string        `yaml:"contract_package_id"`
}

// IndexerConfig holds pipeline settings.
type IndexerConfig struct {
	Pipeline          string                  `yaml:"pipeline"`
	FirstCheckpoint   uint64                  `yaml:"first_checkpoint"`
	BatchSize         int                     `yaml:"batch_size"`
	IngestConcurrency int                     `yaml:"ingest_concurrency"`
	ScanInterval      time.Duration           `yaml:"scan_interval"`
	RetryMaxElapsed   time.Duration           `yaml:"retry_max_elapsed"`
	StaleAfter        time.Duration           `yaml:"stale_after"`     // health turns degraded past this
	EventRetention    time.Duration           `yaml:"event_retention"` // 0 keeps offer_events forever
	Throttle          throttle.AdaptiveConfig `yaml:"throttle"`
}
