package throttle

import (
	"time"

	"github.com/vietddude/offerwatch/internal/indexing/metrics"
)

// AdaptiveController computes scan intervals and batch sizes from the pipeline's
// lag behind the chain head and the latency of the last checkpoint fetch.
type AdaptiveController struct {
	pipeline         string
	baseScanInterval time.Duration
	config           AdaptiveConfig

	// last computed values
	currentInterval  time.Duration
	currentBatchSize int
}

// NewAdaptiveController creates a new adaptive controller.
func NewAdaptiveController(
	pipeline string,
	baseScanInterval time.Duration,
	config AdaptiveConfig,
) *AdaptiveController {
	if config.MinBatchSize <= 0 {
		config.MinBatchSize = 1
	}
	if config.MaxBatchSize < config.MinBatchSize {
		config.MaxBatchSize = config.MinBatchSize
	}
	return &AdaptiveController{
		pipeline:         pipeline,
		baseScanInterval: baseScanInterval,
		config:           config,
		currentInterval:  baseScanInterval,
		currentBatchSize: config.MaxBatchSize,
	}
}

// ComputeInterval picks the delay before the next step from the number of
// checkpoints still behind the head:
//   - none behind: the base interval
//   - fewer than LagNormalThreshold: half the base interval
//   - fewer than LagBurstThreshold: twice the minimum interval
//   - otherwise: the minimum interval
//
// The result is clamped to [MinScanInterval, MaxScanInterval].
func (c *AdaptiveController) ComputeInterval(lag int64) time.Duration {
	if !c.config.Enabled {
		return c.baseScanInterval
	}

	var interval time.Duration

	switch {
	case lag <= 0:
		interval = c.baseScanInterval

	case lag < c.config.LagNormalThreshold:
		interval = c.baseScanInterval / 2

	case lag < c.config.LagBurstThreshold:
		interval = c.config.MinScanInterval * 2

	default:
		interval = c.config.MinScanInterval
	}

	interval = max(interval, c.config.MinScanInterval)
	if c.config.MaxScanInterval > 0 {
		interval = min(interval, c.config.MaxScanInterval)
	}

	c.currentInterval = interval
	metrics.ScanInterval.WithLabelValues(c.pipeline).Set(interval.Seconds())
	return interval
}

// ComputeBatchSize calculates how many checkpoints the next batch should span.
// A positive lag caps the result, even below MinBatchSize, so a batch never asks
// for checkpoints past the head.
func (c *AdaptiveController) ComputeBatchSize(lag int64, lastLatency time.Duration) int {
	batchSize := c.config.MaxBatchSize

	if c.config.Enabled && c.config.HighLatencyThreshold > 0 && lastLatency > c.config.HighLatencyThreshold {
		// node is slow, stay conservative
		batchSize = c.config.MinBatchSize
	}

	if lag > 0 && int64(batchSize) > lag {
		batchSize = int(lag)
	}

	c.currentBatchSize = batchSize
	metrics.BatchSizeTarget.WithLabelValues(c.pipeline).Set(float64(batchSize))
	return batchSize
}

// GetCurrentInterval returns the last computed interval (for metrics).
func (c *AdaptiveController) GetCurrentInterval() time.Duration {
	return c.currentInterval
}

// GetCurrentBatchSize returns the last computed batch size (for metrics).
func (c *AdaptiveController) GetCurrentBatchSize() int {
	return c.currentBatchSize
}
