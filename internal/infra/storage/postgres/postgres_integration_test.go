package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/vietddude/offerwatch/internal/core/domain"
	"github.com/vietddude/offerwatch/internal/indexing/reconciler"
	"github.com/vietddude/offerwatch/internal/infra/storage"
)

// StoreIntegrationSuite runs the store against a real PostgreSQL container.
type StoreIntegrationSuite struct {
	suite.Suite
	container *tcpostgres.PostgresContainer
	db        *DB
	store     *Store
}

func TestStoreIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration tests in short mode")
	}
	suite.Run(t, new(StoreIntegrationSuite))
}

func (s *StoreIntegrationSuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("offerwatch"),
		tcpostgres.WithUsername("offerwatch"),
		tcpostgres.WithPassword("offerwatch"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err, "could not start postgres container")
	s.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := NewDB(ctx, Config{URL: connStr})
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.Require().NoError(db.Migrate(ctx, logger))
	// Migrations are idempotent.
	s.Require().NoError(db.Migrate(ctx, logger))

	s.db = db
	s.store = NewStore(db)
}

func (s *StoreIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.container != nil {
		s.NoError(s.container.Terminate(context.Background()))
	}
}

func (s *StoreIntegrationSuite) SetupTest() {
	_, err := s.db.Exec(`TRUNCATE TABLE offers, offer_events, watermarks RESTART IDENTITY`)
	s.Require().NoError(err)
}

var (
	testTs    = time.UnixMilli(1_700_000_000_000).UTC()
	testBuyer = domain.Address{31: 0x01}
	testOwner = domain.Address{31: 0xee}
)

func placed(tx string, seq int, value uint64, at time.Time) domain.EventEnvelope {
	return domain.EventEnvelope{
		Event:      domain.OfferPlaced{DomainName: []byte("example.sui"), Address: testBuyer, Value: value},
		Checkpoint: 1,
		TxDigest:   tx,
		EventSeq:   seq,
		TypeTag:    "0x2::offer::OfferPlaced",
		Payload:    []byte{0x01},
		CreatedAt:  at,
	}
}

func (s *StoreIntegrationSuite) begin() storage.UnitOfWork {
	uow, err := s.store.Begin(context.Background())
	s.Require().NoError(err)
	return uow
}

func (s *StoreIntegrationSuite) TestInsertOffer_DeduplicatesPlacedEvent() {
	ctx := context.Background()
	uow := s.begin()
	defer uow.Rollback()

	first := domain.NewOfferFromPlaced(placed("txA", 0, 100, testTs))
	inserted, err := uow.InsertOffer(ctx, first)
	s.Require().NoError(err)
	s.True(inserted)
	s.NotZero(first.ID)

	again := domain.NewOfferFromPlaced(placed("txA", 0, 100, testTs))
	inserted, err = uow.InsertOffer(ctx, again)
	s.Require().NoError(err)
	s.False(inserted)
	s.Equal(first.ID, again.ID)

	s.Require().NoError(uow.Commit())
}

func (s *StoreIntegrationSuite) TestLatestOpenOffer_OrdersByUpdatedAtThenID() {
	ctx := context.Background()
	uow := s.begin()
	defer uow.Rollback()

	older := domain.NewOfferFromPlaced(placed("txA", 0, 100, testTs))
	tieLow := domain.NewOfferFromPlaced(placed("txB", 0, 200, testTs.Add(time.Second)))
	tieHigh := domain.NewOfferFromPlaced(placed("txB", 1, 300, testTs.Add(time.Second)))
	for _, o := range []*domain.Offer{older, tieLow, tieHigh} {
		_, err := uow.InsertOffer(ctx, o)
		s.Require().NoError(err)
	}

	got, err := uow.LatestOpenOffer(ctx, "example.sui", testBuyer.String())
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(tieHigh.ID, got.ID)

	tieHigh.Status = domain.OfferStatusCancelled
	s.Require().NoError(uow.UpdateOffer(ctx, tieHigh))

	got, err = uow.LatestOpenOffer(ctx, "example.sui", testBuyer.String())
	s.Require().NoError(err)
	s.Equal(tieLow.ID, got.ID)

	got, err = uow.LatestOffer(ctx, "example.sui", testBuyer.String())
	s.Require().NoError(err)
	s.Equal(tieHigh.ID, got.ID)
	s.Equal(domain.OfferStatusCancelled, got.Status)

	missing, err := uow.LatestOpenOffer(ctx, "other.sui", testBuyer.String())
	s.Require().NoError(err)
	s.Nil(missing)
}

func (s *StoreIntegrationSuite) TestUpdateOffer_PersistsOwnerAndValue() {
	ctx := context.Background()
	uow := s.begin()
	offer := domain.NewOfferFromPlaced(placed("txA", 0, 100, testTs))
	_, err := uow.InsertOffer(ctx, offer)
	s.Require().NoError(err)

	owner := testOwner.String()
	offer.Owner = &owner
	offer.Value = decimal.NewFromUint64(18_446_744_073_709_551_615)
	offer.Status = domain.OfferStatusCountered
	offer.UpdatedAt = testTs.Add(time.Minute)
	offer.LastTxDigest = "txB"
	offer.LastPosition = domain.EventPosition{Checkpoint: 4, TxIndex: 3, EventSeq: 2}
	s.Require().NoError(uow.UpdateOffer(ctx, offer))
	s.Require().NoError(uow.Commit())

	got, err := s.store.Offers().Latest(ctx, "example.sui", testBuyer.String())
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Require().NotNil(got.Owner)
	s.Equal(owner, *got.Owner)
	s.Equal("18446744073709551615", got.Value.String())
	s.Equal("100", got.InitialValue.String())
	s.Equal(domain.OfferStatusCountered, got.Status)
	s.True(got.UpdatedAt.Equal(testTs.Add(time.Minute)))
	s.Equal("txB", got.LastTxDigest)
	s.Equal(domain.EventPosition{Checkpoint: 4, TxIndex: 3, EventSeq: 2}, got.LastPosition)

	unknown := offer.Clone()
	unknown.ID = 9999
	uow = s.begin()
	defer uow.Rollback()
	s.ErrorIs(uow.UpdateOffer(ctx, unknown), storage.ErrOfferNotFound)
}

func (s *StoreIntegrationSuite) TestRollback_DiscardsBatch() {
	ctx := context.Background()
	uow := s.begin()
	_, err := uow.InsertOffer(ctx, domain.NewOfferFromPlaced(placed("txA", 0, 100, testTs)))
	s.Require().NoError(err)
	s.Require().NoError(uow.SaveEvents(ctx, []domain.EventEnvelope{placed("txA", 0, 100, testTs)}))
	s.Require().NoError(uow.AdvanceWatermark(ctx, domain.Watermark{Pipeline: "offers", CheckpointHiInclusive: 5}))
	s.Require().NoError(uow.Rollback())
	s.NoError(uow.Rollback())

	offer, err := s.store.Offers().Latest(ctx, "example.sui", testBuyer.String())
	s.Require().NoError(err)
	s.Nil(offer)

	n, err := s.store.Events().Count(ctx)
	s.Require().NoError(err)
	s.Zero(n)

	wm, err := s.store.Watermarks().Get(ctx, "offers")
	s.Require().NoError(err)
	s.Nil(wm)

	_, err = uow.InsertOffer(ctx, domain.NewOfferFromPlaced(placed("txB", 0, 1, testTs)))
	s.ErrorIs(err, storage.ErrTxDone)
}

func (s *StoreIntegrationSuite) TestSaveEvents_IgnoresReplays() {
	ctx := context.Background()
	events := []domain.EventEnvelope{
		placed("txA", 0, 100, testTs),
		placed("txA", 1, 200, testTs),
	}
	for i := 0; i < 2; i++ {
		uow := s.begin()
		s.Require().NoError(uow.SaveEvents(ctx, events))
		s.Require().NoError(uow.Commit())
	}

	n, err := s.store.Events().Count(ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
}

func (s *StoreIntegrationSuite) TestEvents_DeleteOlderThan() {
	ctx := context.Background()
	uow := s.begin()
	s.Require().NoError(uow.SaveEvents(ctx, []domain.EventEnvelope{
		placed("txOld", 0, 100, testTs.Add(-48*time.Hour)),
		placed("txNew", 0, 100, testTs),
	}))
	s.Require().NoError(uow.Commit())

	n, err := s.store.Events().DeleteOlderThan(ctx, testTs.Add(-24*time.Hour))
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	count, err := s.store.Events().Count(ctx)
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *StoreIntegrationSuite) TestAdvanceWatermark_RejectsRegression() {
	ctx := context.Background()
	uow := s.begin()
	s.Require().NoError(uow.AdvanceWatermark(ctx, domain.Watermark{Pipeline: "offers", CheckpointHiInclusive: 10, TimestampMsHi: 1000}))
	s.Require().NoError(uow.Commit())

	uow = s.begin()
	defer uow.Rollback()
	err := uow.AdvanceWatermark(ctx, domain.Watermark{Pipeline: "offers", CheckpointHiInclusive: 9})
	s.True(errors.Is(err, storage.ErrWatermarkRegressed), "got %v", err)
	uow.Rollback()

	// Committing the same checkpoint twice is a regression too.
	uow = s.begin()
	defer uow.Rollback()
	err = uow.AdvanceWatermark(ctx, domain.Watermark{Pipeline: "offers", CheckpointHiInclusive: 10, TimestampMsHi: 2000})
	s.True(errors.Is(err, storage.ErrWatermarkRegressed), "got %v", err)

	wm, err := s.store.Watermarks().Get(ctx, "offers")
	s.Require().NoError(err)
	s.Require().NotNil(wm)
	s.Equal(uint64(10), wm.CheckpointHiInclusive)
	s.Equal(uint64(1000), wm.TimestampMsHi)
}

func (s *StoreIntegrationSuite) TestWatermarkReset() {
	ctx := context.Background()
	uow := s.begin()
	s.Require().NoError(uow.AdvanceWatermark(ctx, domain.Watermark{Pipeline: "offers", CheckpointHiInclusive: 50}))
	s.Require().NoError(uow.Commit())

	s.Require().NoError(s.store.Watermarks().Reset(ctx, "offers", 20))
	s.Require().NoError(s.store.Watermarks().Reset(ctx, "backfill", 7))

	list, err := s.store.Watermarks().List(ctx)
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal("backfill", list[0].Pipeline)
	s.Equal(uint64(7), list[0].CheckpointHiInclusive)
	s.Equal("offers", list[1].Pipeline)
	s.Equal(uint64(20), list[1].CheckpointHiInclusive)
}

func (s *StoreIntegrationSuite) TestReconcile_CounterOfferFlow() {
	ctx := context.Background()
	name := []byte("example.sui")
	events := []domain.OfferEvent{
		domain.OfferPlaced{DomainName: name, Address: testBuyer, Value: 100},
		domain.CounterOfferMade{DomainName: name, Owner: testOwner, Buyer: testBuyer, Value: 150},
		domain.CounterOfferAccepted{DomainName: name, Buyer: testBuyer, Value: 150},
	}
	envs := make([]domain.EventEnvelope, len(events))
	for i, ev := range events {
		envs[i] = domain.EventEnvelope{
			Event:      ev,
			Checkpoint: uint64(i + 1),
			TxDigest:   "tx" + string(rune('A'+i)),
			CreatedAt:  testTs.Add(time.Duration(i) * time.Second),
		}
	}

	r := reconciler.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	res, err := r.Reconcile(ctx, s.store, envs)
	s.Require().NoError(err)
	s.Equal(3, res.Count(reconciler.OutcomeApplied))

	// Replaying the batch changes nothing.
	res, err = r.Reconcile(ctx, s.store, envs)
	s.Require().NoError(err)
	s.Zero(res.Count(reconciler.OutcomeApplied))

	offers, err := s.store.Offers().ListByDomain(ctx, "example.sui", 10)
	s.Require().NoError(err)
	s.Require().Len(offers, 1)
	s.Equal(domain.OfferStatusAcceptedCountered, offers[0].Status)
	s.Equal("100", offers[0].InitialValue.String())
	s.Equal("150", offers[0].Value.String())
	s.Require().NotNil(offers[0].Owner)
	s.Equal(testOwner.String(), *offers[0].Owner)
}

func (s *StoreIntegrationSuite) TestReconcile_SameCheckpointReplay() {
	ctx := context.Background()
	name := []byte("example.sui")
	envs := []domain.EventEnvelope{
		{Event: domain.OfferPlaced{DomainName: name, Address: testBuyer, Value: 100}, Checkpoint: 1, TxDigest: "tx1", TxIndex: 0, CreatedAt: testTs},
		{Event: domain.OfferCancelled{DomainName: name, Address: testBuyer, Value: 100}, Checkpoint: 1, TxDigest: "tx2", TxIndex: 1, CreatedAt: testTs},
		{Event: domain.OfferPlaced{DomainName: name, Address: testBuyer, Value: 200}, Checkpoint: 1, TxDigest: "tx3", TxIndex: 2, CreatedAt: testTs},
	}

	r := reconciler.New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	_, err := r.Reconcile(ctx, s.store, envs)
	s.Require().NoError(err)
	first, err := s.store.Offers().ListByDomain(ctx, "example.sui", 10)
	s.Require().NoError(err)
	s.Require().Len(first, 2)

	res, err := r.Reconcile(ctx, s.store, envs)
	s.Require().NoError(err)
	s.Zero(res.Count(reconciler.OutcomeApplied))
	s.Equal(1, res.Count(reconciler.OutcomeStale))

	second, err := s.store.Offers().ListByDomain(ctx, "example.sui", 10)
	s.Require().NoError(err)
	s.Require().Len(second, 2)
	for i := range first {
		s.Equal(first[i].ID, second[i].ID)
		s.Equal(first[i].Status, second[i].Status)
		s.Equal(first[i].LastPosition, second[i].LastPosition)
	}
	s.Equal(domain.OfferStatusPlaced, second[0].Status)
	s.Equal("200", second[0].InitialValue.String())
	s.Equal(domain.OfferStatusCancelled, second[1].Status)
}
