package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/offerwatch/internal/indexing/metrics"
)

const DefaultLeaseTTL = 30 * time.Second

// ErrLeaseLost is the cancellation cause of a held context whose lease expired
// or was taken over.
var ErrLeaseLost = errors.New("writer lease lost")

var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// Lease is a single-writer lock for one pipeline. Only the process holding it may
// commit batches, so two replicas never interleave watermark updates.
type Lease struct {
	rdb      *redis.Client
	pipeline string
	key      string
	token    string
	ttl      time.Duration
	logger   *slog.Logger
}

// NewLease creates a lease for pipeline. A zero ttl uses DefaultLeaseTTL.
func (c *Client) NewLease(pipeline string, ttl time.Duration, logger *slog.Logger) *Lease {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lease{
		rdb:      c.rdb,
		pipeline: pipeline,
		key:      leaseKey(pipeline),
		token:    uuid.NewString(),
		ttl:      ttl,
		logger:   logger,
	}
}

// Acquire tries to take the lease once.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	if ok {
		metrics.LeaseHeld.WithLabelValues(l.pipeline).Set(1)
	}
	return ok, nil
}

// Refresh extends the lease. It returns false when another process owns it.
func (l *Lease) Refresh(ctx context.Context) (bool, error) {
	n, err := refreshScript.Run(ctx, l.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh lease failed: %w", err)
	}
	return n == 1, nil
}

// Release drops the lease if this process still owns it.
func (l *Lease) Release(ctx context.Context) error {
	metrics.LeaseHeld.WithLabelValues(l.pipeline).Set(0)
	if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lease failed: %w", err)
	}
	return nil
}

// Hold blocks until the lease is acquired, then keeps it refreshed in the background.
// The returned context is cancelled with ErrLeaseLost when the lease cannot be
// renewed, and the lease is released once ctx is done.
func (l *Lease) Hold(ctx context.Context) (context.Context, error) {
	interval := l.ttl / 3

	for {
		ok, err := l.Acquire(ctx)
		if err != nil {
			l.logger.Warn("Lease acquire failed", "pipeline", l.pipeline, "error", err)
		}
		if ok {
			break
		}
		l.logger.Debug("Waiting for writer lease", "pipeline", l.pipeline)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	l.logger.Info("Writer lease acquired", "pipeline", l.pipeline, "ttl", l.ttl)

	held, cancel := context.WithCancelCause(ctx)
	go func() {
		defer cancel(nil)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		renewed := time.Now()

		for {
			select {
			case <-held.Done():
				releaseCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				if err := l.Release(releaseCtx); err != nil {
					l.logger.Warn("Lease release failed", "pipeline", l.pipeline, "error", err)
				}
				done()
				return
			case <-ticker.C:
				ok, err := l.Refresh(held)
				if err != nil {
					l.logger.Warn("Lease refresh failed", "pipeline", l.pipeline, "error", err)
					if time.Since(renewed) < l.ttl {
						continue
					}
				}
				if !ok {
					l.logger.Error("Writer lease lost", "pipeline", l.pipeline)
					cancel(ErrLeaseLost)
					continue
				}
				renewed = time.Now()
			}
		}
	}()

	return held, nil
}
