// Package pipeline drives the indexer: it follows the chain head checkpoint by
// checkpoint and commits each batch of offer events together with the watermark.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/offerwatch/internal/core/domain"
	"github.com/vietddude/offerwatch/internal/indexing/extractor"
	"github.com/vietddude/offerwatch/internal/indexing/reconciler"
	"github.com/vietddude/offerwatch/internal/indexing/throttle"
	"github.com/vietddude/offerwatch/internal/infra/chain"
	"github.com/vietddude/offerwatch/internal/infra/storage"
)

// ErrAlreadyRunning is returned when Run is called on a running pipeline.
var ErrAlreadyRunning = errors.New("pipeline already running")

// State is the coarse state reported by Status.
type State string

const (
	StateIdle     State = "idle"
	StateSyncing  State = "syncing"
	StateCaughtUp State = "caught_up"
	StateFailing  State = "failing"
	StateStopped  State = "stopped"
)

// Config holds pipeline configuration.
type Config struct {
	Name            string
	FirstCheckpoint uint64
	BatchSize       int
	// FetchConcurrency bounds parallel checkpoint requests within a batch.
	FetchConcurrency int
	ScanInterval     time.Duration
	RetryMaxElapsed  time.Duration
	Throttle         throttle.AdaptiveConfig
}

func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = "offers"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.FetchConcurrency <= 0 {
		c.FetchConcurrency = 4
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = 2 * time.Second
	}
	if c.RetryMaxElapsed <= 0 {
		c.RetryMaxElapsed = time.Minute
	}
	c.Throttle.MaxBatchSize = c.BatchSize
}

// Store is the part of the offer store the pipeline writes through.
type Store interface {
	storage.UnitOfWorkFactory
	Watermarks() storage.WatermarkRepository
}

// Status is a snapshot of pipeline progress.
type Status struct {
	Pipeline         string    `json:"pipeline"`
	State            State     `json:"state"`
	Watermark        *uint64   `json:"watermark,omitempty"`
	LatestCheckpoint uint64    `json:"latest_checkpoint"`
	Lag              int64     `json:"lag"`
	LastCommitAt     time.Time `json:"last_commit_at,omitempty"`
	LastError        string    `json:"last_error,omitempty"`
}

// Pipeline is the single writer of the offer store.
type Pipeline struct {
	cfg        Config
	source     chain.CheckpointSource
	head       *throttle.HeadCache
	controller *throttle.AdaptiveController
	extractor  *extractor.Extractor
	reconciler *reconciler.Reconciler
	store      Store
	logger     *slog.Logger

	running   atomic.Bool
	lastFetch time.Duration

	mu     sync.RWMutex
	status Status
}

// New creates a pipeline. A nil logger uses slog.Default().
func New(
	cfg Config,
	source chain.CheckpointSource,
	store Store,
	ext *extractor.Extractor,
	rec *reconciler.Reconciler,
	logger *slog.Logger,
) *Pipeline {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("pipeline", cfg.Name)

	return &Pipeline{
		cfg:        cfg,
		source:     source,
		head:       throttle.NewHeadCache(source, cfg.Throttle.HeadCacheTTL),
		controller: throttle.NewAdaptiveController(cfg.Name, cfg.ScanInterval, cfg.Throttle),
		extractor:  ext,
		reconciler: rec,
		store:      store,
		logger:     logger,
		status:     Status{Pipeline: cfg.Name, State: StateIdle},
	}
}

// Name returns the pipeline name used for its watermark.
func (p *Pipeline) Name() string {
	return p.cfg.Name
}

// Run processes batches until ctx is cancelled. Batch failures are logged and retried
// from the last committed watermark on the next tick.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer p.running.Store(false)
	defer p.setState(StateStopped)

	p.logger.Info("Pipeline started",
		"first_checkpoint", p.cfg.FirstCheckpoint,
		"batch_size", p.cfg.BatchSize,
		"scan_interval", p.cfg.ScanInterval,
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Pipeline stopped", "cause", context.Cause(ctx))
			return nil
		case <-timer.C:
			timer.Reset(p.tick(ctx))
		}
	}
}

// tick runs one step and returns the delay before the next one.
func (p *Pipeline) tick(ctx context.Context) time.Duration {
	lag, err := p.Step(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return p.cfg.ScanInterval
		}
		p.logger.Error("Batch failed", "error", err)
		p.setError(err)
		p.head.Invalidate()
		return p.cfg.ScanInterval
	}
	return p.controller.ComputeInterval(lag)
}

// Step commits at most one batch and returns how many checkpoints remain behind
// the chain head.
func (p *Pipeline) Step(ctx context.Context) (int64, error) {
	next, err := p.nextCheckpoint(ctx)
	if err != nil {
		return 0, err
	}

	head, err := p.head.LatestCheckpoint(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}
	if next > head {
		p.update(func(s *Status) {
			s.State = StateCaughtUp
			s.LatestCheckpoint = head
			s.Lag = 0
		})
		return 0, nil
	}

	lag := int64(head - next + 1)
	size := p.controller.ComputeBatchSize(lag, p.lastFetch)
	to := next + uint64(size) - 1
	p.update(func(s *Status) {
		s.State = StateSyncing
		s.LatestCheckpoint = head
		s.Lag = lag
	})

	if err := p.processWithRetry(ctx, next, to); err != nil {
		return lag, err
	}
	return int64(head - to), nil
}

func (p *Pipeline) nextCheckpoint(ctx context.Context) (uint64, error) {
	wm, err := p.store.Watermarks().Get(ctx, p.cfg.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to get watermark: %w", err)
	}
	if wm == nil {
		return p.cfg.FirstCheckpoint, nil
	}
	return wm.CheckpointHiInclusive + 1, nil
}

// Status returns a snapshot of the pipeline progress.
func (p *Pipeline) Status() Status {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.status
	if s.Watermark != nil {
		wm := *s.Watermark
		s.Watermark = &wm
	}
	return s
}

func (p *Pipeline) update(fn func(s *Status)) {
	p.mu.Lock()
	fn(&p.status)
	p.mu.Unlock()
}

func (p *Pipeline) setState(state State) {
	p.update(func(s *Status) { s.State = state })
}

func (p *Pipeline) setError(err error) {
	p.update(func(s *Status) {
		s.State = StateFailing
		s.LastError = err.Error()
	})
}

func (p *Pipeline) committed(wm domain.Watermark, at time.Time) {
	p.update(func(s *Status) {
		hi := wm.CheckpointHiInclusive
		s.Watermark = &hi
		s.LastCommitAt = at
		s.LastError = ""
	})
}
