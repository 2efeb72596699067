package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CheckpointsProcessed tracks checkpoints committed per pipeline
	CheckpointsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offerwatch_checkpoints_processed_total",
			Help: "Total number of checkpoints committed",
		},
		[]string{"pipeline"},
	)

	// EventsDecoded tracks offer events decoded per kind
	EventsDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offerwatch_events_decoded_total",
			Help: "Total number of offer events decoded",
		},
		[]string{"kind"},
	)

	// EventsApplied tracks reconciler outcomes per event kind
	EventsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offerwatch_events_applied_total",
			Help: "Offer events handled by the reconciler, by outcome",
		},
		[]string{"kind", "outcome"},
	)

	// BatchesTotal tracks batch attempts by result
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offerwatch_batches_total",
			Help: "Total number of batch attempts",
		},
		[]string{"pipeline", "result"},
	)

	// BatchDuration tracks time from fetch to commit
	BatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offerwatch_batch_duration_seconds",
			Help:    "Batch processing latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"pipeline"},
	)

	// RPCCallsTotal tracks Sui RPC calls per method
	RPCCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offerwatch_rpc_calls_total",
			Help: "Total number of RPC calls",
		},
		[]string{"method"},
	)

	// RPCErrorsTotal tracks Sui RPC errors per method
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offerwatch_rpc_errors_total",
			Help: "Total number of RPC errors",
		},
		[]string{"method"},
	)

	// RPCLatency tracks RPC call latency
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offerwatch_rpc_latency_seconds",
			Help:    "RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// ChainLatestCheckpoint tracks the latest checkpoint reported by the node
	ChainLatestCheckpoint = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offerwatch_chain_latest_checkpoint",
			Help: "Latest checkpoint sequence number of the chain",
		},
	)

	// WatermarkCheckpoint tracks the last committed checkpoint per pipeline
	WatermarkCheckpoint = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "offerwatch_watermark_checkpoint",
			Help: "Highest checkpoint committed by the pipeline",
		},
		[]string{"pipeline"},
	)

	// DBBatchSize tracks rows written per batch operation
	DBBatchSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "offerwatch_db_batch_size",
			Help:    "Number of rows written per batch operation",
			Buckets: []float64{1, 5, 10, 50, 100, 500, 1000},
		},
		[]string{"operation"},
	)

	// DBConnectionPoolUsage tracks open connections as a percentage of the pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "offerwatch_db_connection_pool_usage_percent",
			Help: "Open database connections as a percentage of the maximum",
		},
	)

	// LeaseHeld is 1 while this process owns the writer lease
	LeaseHeld = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "offerwatch_writer_lease_held",
			Help: "Whether this process holds the writer lease",
		},
		[]string{"pipeline"},
	)

	// ScanInterval is the delay the throttle chose before the next step
	ScanInterval = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "offerwatch_scan_interval_seconds",
			Help: "Current delay between pipeline steps",
		},
		[]string{"pipeline"},
	)

	// BatchSizeTarget is the number of checkpoints the throttle asked for
	BatchSizeTarget = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "offerwatch_batch_size_target",
			Help: "Checkpoints requested for the current batch",
		},
		[]string{"pipeline"},
	)
)
