package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/offerwatch/internal/core/domain"
	"github.com/vietddude/offerwatch/internal/indexing/decoder"
	"github.com/vietddude/offerwatch/internal/indexing/extractor"
	"github.com/vietddude/offerwatch/internal/indexing/metrics"
	"github.com/vietddude/offerwatch/internal/indexing/reconciler"
	"github.com/vietddude/offerwatch/internal/infra/storage"
)

// processWithRetry runs the batch [from, to] until it commits, fails permanently or
// the retry budget runs out.
func (p *Pipeline) processWithRetry(ctx context.Context, from, to uint64) error {
	start := time.Now()
	operation := func() (struct{}, error) {
		return struct{}{}, p.processBatch(ctx, from, to)
	}
	notify := func(err error, wait time.Duration) {
		metrics.BatchesTotal.WithLabelValues(p.cfg.Name, "retry").Inc()
		p.logger.Warn("Batch attempt failed, retrying",
			"from", from,
			"to", to,
			"retry_in", wait,
			"error", err,
		)
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(p.cfg.RetryMaxElapsed),
		backoff.WithNotify(notify),
	)
	metrics.BatchDuration.WithLabelValues(p.cfg.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.BatchesTotal.WithLabelValues(p.cfg.Name, "error").Inc()
		return fmt.Errorf("batch %d-%d: %w", from, to, err)
	}
	metrics.BatchesTotal.WithLabelValues(p.cfg.Name, "success").Inc()
	return nil
}

// processBatch fetches, extracts and commits checkpoints [from, to] in one unit of work.
func (p *Pipeline) processBatch(ctx context.Context, from, to uint64) error {
	fetchStart := time.Now()
	checkpoints, err := p.fetch(ctx, from, to)
	if err != nil {
		return err
	}
	p.lastFetch = time.Since(fetchStart)

	events, err := p.extractor.ExtractAll(ctx, checkpoints)
	if err != nil {
		if isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	uow, err := p.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin unit of work: %w", err)
	}
	defer uow.Rollback()

	if err := uow.SaveEvents(ctx, events); err != nil {
		return err
	}

	res, err := p.reconciler.Apply(ctx, uow, events)
	if err != nil {
		return err
	}

	last := checkpoints[len(checkpoints)-1]
	wm := domain.Watermark{
		Pipeline:              p.cfg.Name,
		CheckpointHiInclusive: last.SequenceNumber,
		TimestampMsHi:         last.TimestampMs,
	}
	if err := uow.AdvanceWatermark(ctx, wm); err != nil {
		if errors.Is(err, storage.ErrWatermarkRegressed) {
			return backoff.Permanent(err)
		}
		return err
	}

	if err := uow.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	res.Observe()
	metrics.CheckpointsProcessed.WithLabelValues(p.cfg.Name).Add(float64(len(checkpoints)))
	metrics.WatermarkCheckpoint.WithLabelValues(p.cfg.Name).Set(float64(wm.CheckpointHiInclusive))
	p.committed(wm, time.Now())

	p.logger.Info("Batch committed",
		"from", from,
		"to", to,
		"events", len(events),
		"applied", res.Count(reconciler.OutcomeApplied),
		"skipped", res.Total()-res.Count(reconciler.OutcomeApplied),
	)
	return nil
}

// fetch downloads checkpoints [from, to] concurrently, preserving order.
func (p *Pipeline) fetch(ctx context.Context, from, to uint64) ([]*domain.Checkpoint, error) {
	checkpoints := make([]*domain.Checkpoint, to-from+1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.FetchConcurrency)
	for i := range checkpoints {
		seq := from + uint64(i)
		g.Go(func() error {
			cp, err := p.source.GetCheckpoint(gctx, seq)
			if err != nil {
				return fmt.Errorf("failed to get checkpoint %d: %w", seq, err)
			}
			checkpoints[i] = cp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return checkpoints, nil
}

// isPermanent reports whether retrying the same checkpoints cannot succeed.
func isPermanent(err error) bool {
	return errors.Is(err, decoder.ErrMalformedEvent) ||
		errors.Is(err, decoder.ErrUnknownEventType) ||
		errors.Is(err, extractor.ErrInvalidTimestamp)
}
