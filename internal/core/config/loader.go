package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/offerwatch/internal/core/domain"
	"github.com/vietddude/offerwatch/internal/indexing/throttle"
)

var (
	ErrMissingPackageID = errors.New("sui.contract_package_id is required")
	ErrMissingRPCURL    = errors.New("sui.rpc_url is required")
	ErrInvalidPackageID = errors.New("sui.contract_package_id must be a 0x-prefixed hex address")
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Throttle defaults are overridden field by field by the file.
	cfg := AppConfig{Indexer: IndexerConfig{Throttle: throttle.DefaultConfig()}}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Sui.Timeout == 0 {
		cfg.Sui.Timeout = 30 * time.Second
	}
	if cfg.Redis.LeaseTTL == 0 {
		cfg.Redis.LeaseTTL = 30 * time.Second
	}

	idx := &cfg.Indexer
	if idx.Pipeline == "" {
		idx.Pipeline = "offers"
	}
	if idx.BatchSize == 0 {
		idx.BatchSize = 10
	}
	if idx.IngestConcurrency == 0 {
		idx.IngestConcurrency = 4
	}
	if idx.ScanInterval == 0 {
		idx.ScanInterval = 2 * time.Second
	}
	if idx.RetryMaxElapsed == 0 {
		idx.RetryMaxElapsed = time.Minute
	}
	if idx.StaleAfter == 0 {
		idx.StaleAfter = 5 * time.Minute
	}
}

// Validate checks the settings the indexer cannot run without. The contract
// package id is rewritten to its canonical form, 0x followed by 64 lowercase hex
// digits, which is how it appears in event type tags.
func (c *AppConfig) Validate() error {
	pkg := c.Sui.ContractPackageID
	if pkg == "" {
		return ErrMissingPackageID
	}
	canonical, ok := normalizeAddress(pkg)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPackageID, pkg)
	}
	c.Sui.ContractPackageID = canonical
	if c.Sui.RPCURL == "" {
		return ErrMissingRPCURL
	}
	if c.Indexer.BatchSize < 0 || c.Indexer.IngestConcurrency < 0 {
		return fmt.Errorf("indexer.batch_size and indexer.ingest_concurrency must be positive")
	}
	return nil
}

// normalizeAddress left-pads a 0x-prefixed hex address to full length and lowercases it.
func normalizeAddress(s string) (string, bool) {
	digits, ok := strings.CutPrefix(s, "0x")
	if !ok || digits == "" || len(digits) > 2*domain.AddressLength {
		return "", false
	}
	digits = strings.Repeat("0", 2*domain.AddressLength-len(digits)) + strings.ToLower(digits)
	if _, err := hex.DecodeString(digits); err != nil {
		return "", false
	}
	return "0x" + digits, true
}
