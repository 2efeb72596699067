package throttle

import "time"

// AdaptiveConfig holds configuration for adaptive throttling behavior.
type AdaptiveConfig struct {
	// Enabled controls whether adaptive throttling is active
	Enabled bool `yaml:"enabled"`

	// Interval bounds
	MinScanInterval time.Duration `yaml:"min_scan_interval"` // Fastest polling rate (default: 200ms)
	MaxScanInterval time.Duration `yaml:"max_scan_interval"` // Slowest polling rate (default: 30s)

	// Head caching
	HeadCacheTTL time.Duration `yaml:"head_cache_ttl"` // How long to cache the latest checkpoint (default: 1s)

	// Lag thresholds (in checkpoints) for interval adjustment
	LagNormalThreshold int64 `yaml:"lag_normal_threshold"` // Below this = normal interval (default: 10)
	LagBurstThreshold  int64 `yaml:"lag_burst_threshold"`  // Above this = max speed (default: 200)

	// Batch bounds
	MinBatchSize int `yaml:"min_batch_size"` // Smallest batch under high fetch latency (default: 1)
	MaxBatchSize int `yaml:"-"`              // Taken from indexer.batch_size

	// Above this checkpoint fetch latency the batch shrinks to MinBatchSize
	HighLatencyThreshold time.Duration `yaml:"high_latency_threshold"`
}

// DefaultConfig returns sensible defaults for adaptive throttling.
func DefaultConfig() AdaptiveConfig {
	return AdaptiveConfig{
		Enabled:              true,
		MinScanInterval:      200 * time.Millisecond,
		MaxScanInterval:      30 * time.Second,
		HeadCacheTTL:         time.Second,
		LagNormalThreshold:   10,
		LagBurstThreshold:    200,
		MinBatchSize:         1,
		MaxBatchSize:         10,
		HighLatencyThreshold: 5 * time.Second,
	}
}
