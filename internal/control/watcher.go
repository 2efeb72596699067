// Package control wires the indexer together and manages its lifecycle.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/vietddude/offerwatch/internal/core/config"
	"github.com/vietddude/offerwatch/internal/core/worker"
	"github.com/vietddude/offerwatch/internal/indexing/decoder"
	"github.com/vietddude/offerwatch/internal/indexing/extractor"
	"github.com/vietddude/offerwatch/internal/indexing/health"
	"github.com/vietddude/offerwatch/internal/indexing/pipeline"
	"github.com/vietddude/offerwatch/internal/indexing/reconciler"
	"github.com/vietddude/offerwatch/internal/infra/chain/sui"
	redisclient "github.com/vietddude/offerwatch/internal/infra/redis"
	"github.com/vietddude/offerwatch/internal/infra/rpc"
	"github.com/vietddude/offerwatch/internal/infra/storage"
	"github.com/vietddude/offerwatch/internal/infra/storage/memory"
	"github.com/vietddude/offerwatch/internal/infra/storage/postgres"
)

// Watcher is the main application struct that manages the indexer lifecycle.
type Watcher struct {
	cfg          Config
	pipeline     *pipeline.Pipeline
	store        storage.Store
	db           *postgres.DB
	rpcClient    *rpc.HTTPClient
	redisClient  *redisclient.Client
	lease        *redisclient.Lease
	healthMon    *health.Monitor
	healthServer *health.Server
	grpcServer   *health.GRPCServer
	pruner       *worker.Pruner
	log          *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds the application configuration.
type Config struct {
	Port     int
	GRPCPort int
	Database postgres.Config
	Redis    redisclient.Config
	Sui      config.SuiConfig
	Indexer  config.IndexerConfig
}

// ConfigFromApp maps the loaded file configuration onto the watcher.
func ConfigFromApp(app *config.AppConfig) Config {
	return Config{
		Port:     app.Server.Port,
		GRPCPort: app.Server.GRPCPort,
		Database: app.Database,
		Redis:    app.Redis,
		Sui:      app.Sui,
		Indexer:  app.Indexer,
	}
}

// OpenStore returns the Postgres store when a database URL is configured and the
// in-memory store otherwise. Migrations run before the store is returned.
func OpenStore(ctx context.Context, cfg postgres.Config, logger *slog.Logger) (storage.Store, *postgres.DB, error) {
	if cfg.URL == "" {
		logger.Info("Using memory storage")
		return memory.NewMemoryStorage(), nil, nil
	}

	db, err := postgres.NewDB(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Migrate(ctx, logger); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
	}
	logger.Info("Using PostgreSQL storage")
	return postgres.NewStore(db), db, nil
}

// NewWatcher creates a new Watcher instance with all dependencies initialized.
func NewWatcher(ctx context.Context, cfg Config, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// 1. Storage
	store, db, err := OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	// 2. Sui full node
	rpcClient := rpc.NewHTTPClient(cfg.Sui.RPCURL, cfg.Sui.Timeout)
	source := sui.NewAdapter(rpcClient)

	// 3. Pipeline
	ext := extractor.New(decoder.New(cfg.Sui.ContractPackageID), cfg.Indexer.IngestConcurrency)
	rec := reconciler.New(logger)
	p := pipeline.New(pipeline.Config{
		Name:             cfg.Indexer.Pipeline,
		FirstCheckpoint:  cfg.Indexer.FirstCheckpoint,
		BatchSize:        cfg.Indexer.BatchSize,
		FetchConcurrency: cfg.Indexer.IngestConcurrency,
		ScanInterval:     cfg.Indexer.ScanInterval,
		RetryMaxElapsed:  cfg.Indexer.RetryMaxElapsed,
		Throttle:         cfg.Indexer.Throttle,
	}, source, store, ext, rec, logger)

	// 4. Writer lease
	var (
		redisClient *redisclient.Client
		lease       *redisclient.Lease
	)
	if cfg.Redis.URL != "" {
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		lease = redisClient.NewLease(p.Name(), cfg.Redis.LeaseTTL, logger)
	}

	// 5. Health
	thresholds := health.DefaultThresholds()
	if cfg.Indexer.StaleAfter > 0 {
		thresholds.StaleAfter = cfg.Indexer.StaleAfter
	}
	healthMon := health.NewMonitor(store, thresholds, p).WithRPC(rpcClient)
	healthServer := health.NewServer(healthMon, store.Offers(), cfg.Port)

	var grpcServer *health.GRPCServer
	if cfg.GRPCPort > 0 {
		grpcServer = health.NewGRPCServer(healthMon, cfg.GRPCPort)
	}

	var pruner *worker.Pruner
	if cfg.Indexer.EventRetention > 0 {
		pruner = worker.NewPruner(cfg.Indexer.EventRetention, store.Events(), logger)
	}

	return &Watcher{
		cfg:          cfg,
		pipeline:     p,
		store:        store,
		db:           db,
		rpcClient:    rpcClient,
		redisClient:  redisClient,
		lease:        lease,
		healthMon:    healthMon,
		healthServer: healthServer,
		grpcServer:   grpcServer,
		pruner:       pruner,
		log:          logger,
	}, nil
}

// Start starts the watcher and all its components. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go func() {
		if err := w.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error("Health server failed", "error", err)
		}
	}()

	if w.grpcServer != nil {
		go func() {
			if err := w.grpcServer.Start(ctx); err != nil {
				w.log.Error("gRPC health server failed", "error", err)
			}
		}()
	}

	if w.db != nil {
		w.db.StartMetricsCollector(ctx)
	}

	if w.pruner != nil {
		w.log.Info("Starting pruner", "retention", w.cfg.Indexer.EventRetention)
		go w.pruner.Start(ctx)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runPipeline(ctx)
	}()

	return nil
}

// runPipeline runs the pipeline until ctx is done. With a lease configured it only
// runs while the lease is held and goes back to waiting when it is lost.
func (w *Watcher) runPipeline(ctx context.Context) {
	if w.lease == nil {
		if err := w.pipeline.Run(ctx); err != nil {
			w.log.Error("Pipeline failed", "error", err)
		}
		return
	}

	for {
		held, err := w.lease.Hold(ctx)
		if err != nil {
			return
		}
		if err := w.pipeline.Run(held); err != nil {
			w.log.Error("Pipeline failed", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
		w.log.Warn("Pipeline paused, waiting for writer lease", "cause", context.Cause(held))
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// Status returns the pipeline progress.
func (w *Watcher) Status() pipeline.Status {
	return w.pipeline.Status()
}

// Health returns the aggregated health report.
func (w *Watcher) Health(ctx context.Context) health.HealthReport {
	return w.healthMon.CheckHealth(ctx)
}

// Stop stops the watcher. The in-flight batch either commits or rolls back before
// the store is closed.
func (w *Watcher) Stop(ctx context.Context) error {
	w.log.Info("Stopping Watcher...")

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.log.Warn("Pipeline did not stop in time", "error", ctx.Err())
	}

	if w.grpcServer != nil {
		w.grpcServer.Stop()
	}
	err := w.healthServer.Stop(ctx)

	if w.redisClient != nil {
		if cerr := w.redisClient.Close(); cerr != nil {
			w.log.Warn("Failed to close Redis", "error", cerr)
		}
	}
	if cerr := w.rpcClient.Close(); cerr != nil {
		w.log.Warn("Failed to close RPC client", "error", cerr)
	}
	if cerr := w.store.Close(); cerr != nil {
		w.log.Warn("Failed to close store", "error", cerr)
	}
	return err
}
