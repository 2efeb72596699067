package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/offerwatch/internal/infra/storage"
)

// Pruner deletes captured offer events past the retention period. Offer rows are
// never pruned.
type Pruner struct {
	retention time.Duration
	events    storage.EventRepository
	logger    *slog.Logger
	now       func() time.Time
}

// NewPruner creates a new Pruner worker. A zero retention disables it.
func NewPruner(retention time.Duration, events storage.EventRepository, logger *slog.Logger) *Pruner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		retention: retention,
		events:    events,
		logger:    logger,
		now:       time.Now,
	}
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return
	}

	// 10% of the retention period, between one minute and one hour
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Prune(ctx)
		}
	}
}

// Prune runs a single pass and returns how many events were removed.
func (p *Pruner) Prune(ctx context.Context) int64 {
	cutoff := p.now().Add(-p.retention)
	n, err := p.events.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Error("Failed to prune offer events", "cutoff", cutoff, "error", err)
		return 0
	}
	if n > 0 {
		p.logger.Info("Pruned offer events", "count", n, "cutoff", cutoff)
	}
	return n
}
