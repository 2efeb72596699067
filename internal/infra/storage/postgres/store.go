package postgres

import (
	"context"

	"github.com/vietddude/offerwatch/internal/infra/storage"
)

// Store implements storage.Store on top of a PostgreSQL connection pool.
type Store struct {
	db         *DB
	offers     *OfferRepo
	watermarks *WatermarkRepo
	events     *EventRepo
}

var _ storage.Store = (*Store)(nil)

func NewStore(db *DB) *Store {
	return &Store{
		db:         db,
		offers:     NewOfferRepo(db),
		watermarks: NewWatermarkRepo(db),
		events:     NewEventRepo(db),
	}
}

func (s *Store) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	uow, err := s.db.NewUnitOfWork(ctx)
	if err != nil {
		return nil, err
	}
	return uow, nil
}

func (s *Store) Offers() storage.OfferReader             { return s.offers }
func (s *Store) Watermarks() storage.WatermarkRepository { return s.watermarks }
func (s *Store) Events() storage.EventRepository         { return s.events }

func (s *Store) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
