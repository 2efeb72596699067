package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/vietddude/offerwatch/internal/core/domain"
	"github.com/vietddude/offerwatch/internal/indexing/metrics"
	"github.com/vietddude/offerwatch/internal/infra/storage"
)

const (
	insertEventQuery = `
INSERT INTO offer_events (checkpoint, tx_digest, event_seq, kind, event_type,
	domain_name, buyer, owner, value, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (tx_digest, event_seq) DO NOTHING`

	// The WHERE clause keeps a concurrent writer from moving the watermark backwards.
	advanceWatermarkQuery = `
INSERT INTO watermarks (pipeline, checkpoint_hi_inclusive, timestamp_ms_hi_inclusive, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (pipeline) DO UPDATE
SET checkpoint_hi_inclusive = EXCLUDED.checkpoint_hi_inclusive,
	timestamp_ms_hi_inclusive = EXCLUDED.timestamp_ms_hi_inclusive,
	updated_at = EXCLUDED.updated_at
WHERE watermarks.checkpoint_hi_inclusive < EXCLUDED.checkpoint_hi_inclusive`
)

// UnitOfWork bundles all persistence operations of a batch into a single database
// transaction, ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

var _ storage.UnitOfWork = (*UnitOfWork)(nil)

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return storage.ErrTxDone
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

func (u *UnitOfWork) InsertOffer(ctx context.Context, offer *domain.Offer) (bool, error) {
	if u.tx == nil {
		return false, storage.ErrTxDone
	}
	return insertOffer(ctx, u.tx, offer)
}

func (u *UnitOfWork) LatestOpenOffer(ctx context.Context, domainName, buyer string) (*domain.Offer, error) {
	if u.tx == nil {
		return nil, storage.ErrTxDone
	}
	return getOffer(ctx, u.tx, latestOpenOfferQuery, domainName, buyer)
}

func (u *UnitOfWork) LatestOffer(ctx context.Context, domainName, buyer string) (*domain.Offer, error) {
	if u.tx == nil {
		return nil, storage.ErrTxDone
	}
	return getOffer(ctx, u.tx, latestOfferQuery, domainName, buyer)
}

func (u *UnitOfWork) UpdateOffer(ctx context.Context, offer *domain.Offer) error {
	if u.tx == nil {
		return storage.ErrTxDone
	}
	return updateOffer(ctx, u.tx, offer)
}

// SaveEvents appends the batch's decoded events to offer_events.
func (u *UnitOfWork) SaveEvents(ctx context.Context, events []domain.EventEnvelope) error {
	if u.tx == nil {
		return storage.ErrTxDone
	}
	if len(events) == 0 {
		return nil
	}

	stmt, err := u.tx.PreparexContext(ctx, insertEventQuery)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	// Record batch size metric
	metrics.DBBatchSize.WithLabelValues("save_events").Observe(float64(len(events)))

	for _, env := range events {
		var owner sql.NullString
		if addr, ok := env.Event.OwnerAddress(); ok {
			owner = sql.NullString{String: addr.String(), Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			int64(env.Checkpoint),
			env.TxDigest,
			env.EventSeq,
			string(env.Event.Kind()),
			env.TypeTag,
			env.Event.Domain(),
			env.Event.BuyerAddress().String(),
			owner,
			decimal.NewFromUint64(env.Event.Amount()),
			env.Payload,
			env.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save event %s/%d: %w", env.TxDigest, env.EventSeq, err)
		}
	}
	return nil
}

// AdvanceWatermark upserts the pipeline watermark within the transaction.
func (u *UnitOfWork) AdvanceWatermark(ctx context.Context, wm domain.Watermark) error {
	if u.tx == nil {
		return storage.ErrTxDone
	}
	res, err := u.tx.ExecContext(ctx, advanceWatermarkQuery,
		wm.Pipeline,
		int64(wm.CheckpointHiInclusive),
		int64(wm.TimestampMsHi),
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: pipeline %s at %d", storage.ErrWatermarkRegressed, wm.Pipeline, wm.CheckpointHiInclusive)
	}
	return nil
}
