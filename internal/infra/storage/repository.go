package storage

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/offerwatch/internal/core/domain"
)

var (
	// ErrTxDone is returned when a unit of work is used after Commit or Rollback.
	ErrTxDone = errors.New("unit of work already completed")

	// ErrOfferNotFound is returned when an update targets an id that does not exist.
	ErrOfferNotFound = errors.New("offer not found")

	// ErrWatermarkRegressed is returned when a batch would not move a watermark
	// forward, which means another writer already committed that range.
	ErrWatermarkRegressed = errors.New("watermark would move backwards")
)

// OfferWriter is the write side of the offer store. Only the reconciler uses it.
type OfferWriter interface {
	// InsertOffer stores a new offer and sets its ID. inserted is false when an offer
	// opened by the same Placed event (tx digest, event seq) already exists.
	InsertOffer(ctx context.Context, offer *domain.Offer) (inserted bool, err error)

	// LatestOpenOffer returns the most recently updated non-terminal offer for the pair,
	// ordered by updated_at then id, or nil when there is none.
	LatestOpenOffer(ctx context.Context, domainName, buyer string) (*domain.Offer, error)

	// LatestOffer returns the most recently updated offer for the pair regardless of status.
	LatestOffer(ctx context.Context, domainName, buyer string) (*domain.Offer, error)

	// UpdateOffer persists the mutable fields of an existing offer.
	UpdateOffer(ctx context.Context, offer *domain.Offer) error
}

// UnitOfWork groups the writes of one batch into a single transaction.
type UnitOfWork interface {
	OfferWriter

	// SaveEvents appends decoded events to the capture table. Already captured
	// events are ignored.
	SaveEvents(ctx context.Context, events []domain.EventEnvelope) error

	// AdvanceWatermark moves the pipeline watermark forward. It fails with
	// ErrWatermarkRegressed unless the new checkpoint is strictly past the stored one.
	AdvanceWatermark(ctx context.Context, wm domain.Watermark) error

	Commit() error

	// Rollback discards the transaction. Safe to call after Commit.
	Rollback() error
}

// UnitOfWorkFactory opens units of work.
type UnitOfWorkFactory interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// OfferReader serves read-only queries over the materialized offers.
type OfferReader interface {
	// Latest returns the canonical offer for the pair, or nil.
	Latest(ctx context.Context, domainName, buyer string) (*domain.Offer, error)

	// ListByDomain returns the offers of a domain, newest first.
	ListByDomain(ctx context.Context, domainName string, limit int) ([]*domain.Offer, error)
}

// WatermarkRepository reads and resets pipeline progress outside of a batch.
type WatermarkRepository interface {
	// Get returns the watermark of a pipeline, or nil when it never committed.
	Get(ctx context.Context, pipeline string) (*domain.Watermark, error)

	// List returns every pipeline watermark.
	List(ctx context.Context) ([]*domain.Watermark, error)

	// Reset rewinds (or creates) a watermark so the next batch starts after checkpoint.
	Reset(ctx context.Context, pipeline string, checkpoint uint64) error
}

// EventRepository reads the append-only capture table.
type EventRepository interface {
	// Count returns how many events were captured.
	Count(ctx context.Context) (int, error)
	// DeleteOlderThan removes events created before the cutoff and returns how many.
	DeleteOlderThan(ctx context.Context, before time.Time) (int64, error)
}

// Store bundles every repository of a backend.
type Store interface {
	UnitOfWorkFactory
	Offers() OfferReader
	Watermarks() WatermarkRepository
	Events() EventRepository
	Health(ctx context.Context) error
	Close() error
}
