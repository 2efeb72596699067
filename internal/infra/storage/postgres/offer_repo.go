package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/vietddude/offerwatch/internal/core/domain"
	"github.com/vietddude/offerwatch/internal/infra/storage"
)

const offerColumns = `id, domain_name, buyer, initial_value, value, owner, status,
	updated_at, created_at, last_tx_digest, placed_tx_digest, placed_event_seq,
	last_checkpoint, last_tx_index, last_event_seq`

const (
	insertOfferQuery = `
INSERT INTO offers (domain_name, buyer, initial_value, value, owner, status,
	updated_at, created_at, last_tx_digest, placed_tx_digest, placed_event_seq,
	last_checkpoint, last_tx_index, last_event_seq)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (placed_tx_digest, placed_event_seq) DO NOTHING
RETURNING id`

	placedOfferIDQuery = `
SELECT id FROM offers WHERE placed_tx_digest = $1 AND placed_event_seq = $2`

	latestOpenOfferQuery = `
SELECT ` + offerColumns + ` FROM offers
WHERE domain_name = $1 AND buyer = $2 AND status IN ('placed', 'countered')
ORDER BY updated_at DESC, id DESC
LIMIT 1`

	latestOfferQuery = `
SELECT ` + offerColumns + ` FROM offers
WHERE domain_name = $1 AND buyer = $2
ORDER BY updated_at DESC, id DESC
LIMIT 1`

	listOffersByDomainQuery = `
SELECT ` + offerColumns + ` FROM offers
WHERE domain_name = $1
ORDER BY updated_at DESC, id DESC
LIMIT $2`

	updateOfferQuery = `
UPDATE offers
SET value = $2, owner = $3, status = $4, updated_at = $5, last_tx_digest = $6,
	last_checkpoint = $7, last_tx_index = $8, last_event_seq = $9
WHERE id = $1`
)

// offerRow maps the offers table.
type offerRow struct {
	ID             int64           `db:"id"`
	DomainName     string          `db:"domain_name"`
	Buyer          string          `db:"buyer"`
	InitialValue   decimal.Decimal `db:"initial_value"`
	Value          decimal.Decimal `db:"value"`
	Owner          sql.NullString  `db:"owner"`
	Status         string          `db:"status"`
	UpdatedAt      time.Time       `db:"updated_at"`
	CreatedAt      time.Time       `db:"created_at"`
	LastTxDigest   string          `db:"last_tx_digest"`
	PlacedTxDigest string          `db:"placed_tx_digest"`
	PlacedEventSeq int             `db:"placed_event_seq"`
	LastCheckpoint int64           `db:"last_checkpoint"`
	LastTxIndex    int             `db:"last_tx_index"`
	LastEventSeq   int             `db:"last_event_seq"`
}

func (r *offerRow) toDomain() *domain.Offer {
	o := &domain.Offer{
		ID:             r.ID,
		DomainName:     r.DomainName,
		Buyer:          r.Buyer,
		InitialValue:   r.InitialValue,
		Value:          r.Value,
		Status:         domain.OfferStatus(r.Status),
		UpdatedAt:      r.UpdatedAt.UTC(),
		CreatedAt:      r.CreatedAt.UTC(),
		LastTxDigest:   r.LastTxDigest,
		PlacedTxDigest: r.PlacedTxDigest,
		PlacedEventSeq: r.PlacedEventSeq,
		LastPosition: domain.EventPosition{
			Checkpoint: uint64(r.LastCheckpoint),
			TxIndex:    r.LastTxIndex,
			EventSeq:   r.LastEventSeq,
		},
	}
	if r.Owner.Valid {
		owner := r.Owner.String
		o.Owner = &owner
	}
	return o
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func insertOffer(ctx context.Context, q sqlx.QueryerContext, offer *domain.Offer) (bool, error) {
	var id int64
	err := sqlx.GetContext(ctx, q, &id, insertOfferQuery,
		offer.DomainName,
		offer.Buyer,
		offer.InitialValue,
		offer.Value,
		nullString(offer.Owner),
		string(offer.Status),
		offer.UpdatedAt,
		offer.CreatedAt,
		offer.LastTxDigest,
		offer.PlacedTxDigest,
		offer.PlacedEventSeq,
		int64(offer.LastPosition.Checkpoint),
		offer.LastPosition.TxIndex,
		offer.LastPosition.EventSeq,
	)
	if err == nil {
		offer.ID = id
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("failed to insert offer: %w", err)
	}

	// Conflict: the Placed event was already applied.
	if err := sqlx.GetContext(ctx, q, &id, placedOfferIDQuery, offer.PlacedTxDigest, offer.PlacedEventSeq); err != nil {
		return false, fmt.Errorf("failed to look up placed offer: %w", err)
	}
	offer.ID = id
	return false, nil
}

func getOffer(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*domain.Offer, error) {
	var row offerRow
	err := sqlx.GetContext(ctx, q, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get offer: %w", err)
	}
	return row.toDomain(), nil
}

func updateOffer(ctx context.Context, e sqlx.ExecerContext, offer *domain.Offer) error {
	res, err := e.ExecContext(ctx, updateOfferQuery,
		offer.ID,
		offer.Value,
		nullString(offer.Owner),
		string(offer.Status),
		offer.UpdatedAt,
		offer.LastTxDigest,
		int64(offer.LastPosition.Checkpoint),
		offer.LastPosition.TxIndex,
		offer.LastPosition.EventSeq,
	)
	if err != nil {
		return fmt.Errorf("failed to update offer %d: %w", offer.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update offer %d: %w", offer.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", storage.ErrOfferNotFound, offer.ID)
	}
	return nil
}

// OfferRepo implements storage.OfferReader using PostgreSQL.
type OfferRepo struct {
	db *DB
}

// NewOfferRepo creates a new PostgreSQL offer repository.
func NewOfferRepo(db *DB) *OfferRepo {
	return &OfferRepo{db: db}
}

// Latest returns the canonical offer for a (domain, buyer) pair.
func (r *OfferRepo) Latest(ctx context.Context, domainName, buyer string) (*domain.Offer, error) {
	return getOffer(ctx, r.db, latestOfferQuery, domainName, buyer)
}

// ListByDomain returns the offers of a domain, newest first.
func (r *OfferRepo) ListByDomain(ctx context.Context, domainName string, limit int) ([]*domain.Offer, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []offerRow
	if err := r.db.SelectContext(ctx, &rows, listOffersByDomainQuery, domainName, limit); err != nil {
		return nil, fmt.Errorf("failed to list offers: %w", err)
	}

	offers := make([]*domain.Offer, 0, len(rows))
	for i := range rows {
		offers = append(offers, rows[i].toDomain())
	}
	return offers, nil
}
