package reconciler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vietddude/offerwatch/internal/core/domain"
	"github.com/vietddude/offerwatch/internal/infra/storage"
	"github.com/vietddude/offerwatch/internal/infra/storage/memory"
)

var (
	owner  = address(0xee)
	alice  = address(0x01)
	bob    = address(0x02)
	name   = []byte("example.sui")
	baseTs = time.UnixMilli(1_700_000_000_000).UTC()
)

func address(b byte) domain.Address {
	var a domain.Address
	a[31] = b
	return a
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// batch builds envelopes with one transaction per event, one checkpoint per second.
func batch(events ...domain.OfferEvent) []domain.EventEnvelope {
	out := make([]domain.EventEnvelope, len(events))
	for i, ev := range events {
		out[i] = domain.EventEnvelope{
			Event:      ev,
			Checkpoint: uint64(i + 1),
			TxDigest:   "tx" + string(rune('A'+i)),
			CreatedAt:  baseTs.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func reconcile(t *testing.T, store *memory.MemoryStorage, events []domain.EventEnvelope) Result {
	t.Helper()
	res, err := New(quietLogger()).Reconcile(context.Background(), store, events)
	if err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	return res
}

func latest(t *testing.T, store *memory.MemoryStorage, b domain.Address) *domain.Offer {
	t.Helper()
	offer, err := store.Offers().Latest(context.Background(), "example.sui", b.String())
	if err != nil {
		t.Fatal(err)
	}
	return offer
}

func TestReconcile_PlacedCreatesOffer(t *testing.T) {
	store := memory.NewMemoryStorage()
	res := reconcile(t, store, batch(domain.OfferPlaced{DomainName: name, Address: alice, Value: 100}))

	if res.Count(OutcomeApplied) != 1 {
		t.Fatalf("expected one applied event, got %d", res.Count(OutcomeApplied))
	}
	offer := latest(t, store, alice)
	if offer == nil {
		t.Fatal("offer not created")
	}
	if offer.Status != domain.OfferStatusPlaced {
		t.Errorf("status = %s", offer.Status)
	}
	if offer.InitialValue.String() != "100" || offer.Value.String() != "100" {
		t.Errorf("values = %s/%s", offer.InitialValue, offer.Value)
	}
	if offer.Owner != nil {
		t.Errorf("owner should be unset, got %s", *offer.Owner)
	}
	all, _ := store.Offers().ListByDomain(context.Background(), "example.sui", 0)
	if len(all) != 1 {
		t.Errorf("expected exactly one row, got %d", len(all))
	}
}

func TestReconcile_CounterOfferFlow(t *testing.T) {
	store := memory.NewMemoryStorage()
	reconcile(t, store, batch(
		domain.OfferPlaced{DomainName: name, Address: alice, Value: 100},
		domain.CounterOfferMade{DomainName: name, Owner: owner, Buyer: alice, Value: 150},
		domain.CounterOfferAccepted{DomainName: name, Buyer: alice, Value: 150},
	))

	offer := latest(t, store, alice)
	if offer.Status != domain.OfferStatusAcceptedCountered {
		t.Fatalf("status = %s", offer.Status)
	}
	if offer.Value.String() != "150" || offer.InitialValue.String() != "100" {
		t.Errorf("values = initial %s, current %s", offer.InitialValue, offer.Value)
	}
	if offer.Owner == nil || *offer.Owner != owner.String() {
		t.Errorf("owner not kept from counter offer: %v", offer.Owner)
	}
	if offer.LastTxDigest != "txC" {
		t.Errorf("last tx digest = %s", offer.LastTxDigest)
	}
	if !offer.UpdatedAt.Equal(baseTs.Add(2*time.Second)) || !offer.CreatedAt.Equal(baseTs) {
		t.Errorf("timestamps = created %s, updated %s", offer.CreatedAt, offer.UpdatedAt)
	}
}

func TestReconcile_TerminalTransitions(t *testing.T) {
	tests := []struct {
		name   string
		event  domain.OfferEvent
		status domain.OfferStatus
		owner  bool
	}{
		{"cancel", domain.OfferCancelled{DomainName: name, Address: alice, Value: 90}, domain.OfferStatusCancelled, false},
		{"accept", domain.OfferAccepted{DomainName: name, Owner: owner, Buyer: alice, Value: 90}, domain.OfferStatusAccepted, true},
		{"decline", domain.OfferDeclined{DomainName: name, Owner: owner, Buyer: alice, Value: 90}, domain.OfferStatusDeclined, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewMemoryStorage()
			reconcile(t, store, batch(domain.OfferPlaced{DomainName: name, Address: alice, Value: 100}, tt.event))

			offer := latest(t, store, alice)
			if offer.Status != tt.status {
				t.Errorf("status = %s, want %s", offer.Status, tt.status)
			}
			if offer.Value.String() != "90" {
				t.Errorf("value = %s", offer.Value)
			}
			if (offer.Owner != nil) != tt.owner {
				t.Errorf("owner set = %v, want %v", offer.Owner != nil, tt.owner)
			}
		})
	}
}

func TestReconcile_OrphanCancelIsNoop(t *testing.T) {
	store := memory.NewMemoryStorage()
	res := reconcile(t, store, batch(domain.OfferCancelled{DomainName: name, Address: alice, Value: 100}))

	if res.Count(OutcomeMissing) != 1 || res.Count(OutcomeApplied) != 0 {
		t.Fatalf("unexpected outcomes: missing=%d applied=%d", res.Count(OutcomeMissing), res.Count(OutcomeApplied))
	}
	if offer := latest(t, store, alice); offer != nil {
		t.Fatalf("orphan cancel created a row: %+v", offer)
	}
}

func TestReconcile_ReplayIsIdempotent(t *testing.T) {
	store := memory.NewMemoryStorage()
	events := batch(
		domain.OfferPlaced{DomainName: name, Address: alice, Value: 100},
		domain.OfferCancelled{DomainName: name, Address: alice, Value: 100},
	)

	reconcile(t, store, events)
	first := latest(t, store, alice)

	res := reconcile(t, store, events)
	second := latest(t, store, alice)

	if res.Count(OutcomeDuplicate) != 1 || res.Count(OutcomeTerminal) != 1 {
		t.Errorf("unexpected replay outcomes: duplicate=%d terminal=%d",
			res.Count(OutcomeDuplicate), res.Count(OutcomeTerminal))
	}
	if first.ID != second.ID || second.Status != domain.OfferStatusCancelled ||
		!second.UpdatedAt.Equal(first.UpdatedAt) || second.LastTxDigest != first.LastTxDigest {
		t.Errorf("state changed on replay:\nfirst  %+v\nsecond %+v", first, second)
	}
	all, _ := store.Offers().ListByDomain(context.Background(), "example.sui", 0)
	if len(all) != 1 {
		t.Errorf("replay created rows: %d", len(all))
	}
}

func TestReconcile_InterleavedBuyers(t *testing.T) {
	store := memory.NewMemoryStorage()
	reconcile(t, store, batch(
		domain.OfferPlaced{DomainName: name, Address: alice, Value: 100},
		domain.OfferPlaced{DomainName: name, Address: bob, Value: 200},
		domain.CounterOfferMade{DomainName: name, Owner: owner, Buyer: alice, Value: 120},
		domain.OfferCancelled{DomainName: name, Address: bob, Value: 200},
		domain.CounterOfferAccepted{DomainName: name, Buyer: alice, Value: 120},
	))

	a := latest(t, store, alice)
	b := latest(t, store, bob)
	if a.Status != domain.OfferStatusAcceptedCountered || a.Value.String() != "120" {
		t.Errorf("alice: %s %s", a.Status, a.Value)
	}
	if b.Status != domain.OfferStatusCancelled || b.Value.String() != "200" || b.Owner != nil {
		t.Errorf("bob: %s %s owner=%v", b.Status, b.Value, b.Owner)
	}
}

func TestReconcile_NewNegotiationAfterTerminal(t *testing.T) {
	store := memory.NewMemoryStorage()
	reconcile(t, store, batch(
		domain.OfferPlaced{DomainName: name, Address: alice, Value: 100},
		domain.OfferDeclined{DomainName: name, Owner: owner, Buyer: alice, Value: 100},
		domain.OfferPlaced{DomainName: name, Address: alice, Value: 300},
		domain.OfferAccepted{DomainName: name, Owner: owner, Buyer: alice, Value: 300},
	))

	all, _ := store.Offers().ListByDomain(context.Background(), "example.sui", 0)
	if len(all) != 2 {
		t.Fatalf("expected two negotiations, got %d", len(all))
	}
	if all[0].Status != domain.OfferStatusAccepted || all[0].InitialValue.String() != "300" {
		t.Errorf("newest: %s initial %s", all[0].Status, all[0].InitialValue)
	}
	if all[1].Status != domain.OfferStatusDeclined || all[1].InitialValue.String() != "100" {
		t.Errorf("oldest: %s initial %s", all[1].Status, all[1].InitialValue)
	}
}

func TestReconcile_InvalidTransitionIsSkipped(t *testing.T) {
	store := memory.NewMemoryStorage()
	res := reconcile(t, store, batch(
		domain.OfferPlaced{DomainName: name, Address: alice, Value: 100},
		domain.CounterOfferAccepted{DomainName: name, Buyer: alice, Value: 100},
		domain.CounterOfferMade{DomainName: name, Owner: owner, Buyer: alice, Value: 130},
		domain.OfferCancelled{DomainName: name, Address: alice, Value: 130},
	))

	if res.Count(OutcomeInvalid) != 2 {
		t.Errorf("expected two invalid transitions, got %d", res.Count(OutcomeInvalid))
	}
	offer := latest(t, store, alice)
	if offer.Status != domain.OfferStatusCountered || offer.Value.String() != "130" {
		t.Errorf("unexpected state %s %s", offer.Status, offer.Value)
	}
}

func TestReconcile_SameCheckpointTieBreak(t *testing.T) {
	store := memory.NewMemoryStorage()
	events := batch(
		domain.OfferPlaced{DomainName: name, Address: alice, Value: 100},
		domain.OfferPlaced{DomainName: name, Address: alice, Value: 200},
		domain.OfferCancelled{DomainName: name, Address: alice, Value: 200},
	)
	for i := range events {
		events[i].CreatedAt = baseTs
	}
	reconcile(t, store, events)

	all, _ := store.Offers().ListByDomain(context.Background(), "example.sui", 0)
	if len(all) != 2 {
		t.Fatalf("expected two rows, got %d", len(all))
	}
	for _, o := range all {
		want := domain.OfferStatusPlaced
		if o.InitialValue.String() == "200" {
			want = domain.OfferStatusCancelled
		}
		if o.Status != want {
			t.Errorf("offer initial=%s: status %s, want %s", o.InitialValue, o.Status, want)
		}
	}
}

func TestReconcile_SameCheckpointReplayIsIdempotent(t *testing.T) {
	store := memory.NewMemoryStorage()
	events := []domain.EventEnvelope{
		{Event: domain.OfferPlaced{DomainName: name, Address: alice, Value: 100}, Checkpoint: 1, TxDigest: "tx1", TxIndex: 0, CreatedAt: baseTs},
		{Event: domain.OfferCancelled{DomainName: name, Address: alice, Value: 100}, Checkpoint: 1, TxDigest: "tx2", TxIndex: 1, CreatedAt: baseTs},
		{Event: domain.OfferPlaced{DomainName: name, Address: alice, Value: 200}, Checkpoint: 1, TxDigest: "tx3", TxIndex: 2, CreatedAt: baseTs},
	}

	reconcile(t, store, events)
	first, _ := store.Offers().ListByDomain(context.Background(), "example.sui", 0)
	if len(first) != 2 {
		t.Fatalf("expected two rows, got %d", len(first))
	}

	res := reconcile(t, store, events)
	if res.Count(OutcomeApplied) != 0 {
		t.Errorf("replay applied %d events", res.Count(OutcomeApplied))
	}
	if res.Count(OutcomeDuplicate) != 2 || res.Count(OutcomeStale) != 1 {
		t.Errorf("unexpected replay outcomes: duplicate=%d stale=%d",
			res.Count(OutcomeDuplicate), res.Count(OutcomeStale))
	}

	second, _ := store.Offers().ListByDomain(context.Background(), "example.sui", 0)
	if len(second) != len(first) {
		t.Fatalf("replay changed row count: %d -> %d", len(first), len(second))
	}
	for i := range first {
		a, b := first[i], second[i]
		if a.ID != b.ID || a.Status != b.Status || !a.Value.Equal(b.Value) || a.LastTxDigest != b.LastTxDigest {
			t.Errorf("offer %d changed on replay:\nfirst  %+v\nsecond %+v", a.ID, a, b)
		}
	}
	if o := latest(t, store, alice); o.InitialValue.String() != "200" || o.Status != domain.OfferStatusPlaced {
		t.Errorf("latest offer = %s initial %s, want placed initial 200", o.Status, o.InitialValue)
	}
}

func TestReconcile_EarlierPositionIsSkipped(t *testing.T) {
	store := memory.NewMemoryStorage()
	placed := batch(domain.OfferPlaced{DomainName: name, Address: alice, Value: 100})
	placed[0].Checkpoint = 5
	placed[0].TxIndex = 2
	reconcile(t, store, placed)

	tests := []struct {
		name string
		pos  domain.EventPosition
	}{
		{"earlier checkpoint", domain.EventPosition{Checkpoint: 4, TxIndex: 9}},
		{"earlier tx", domain.EventPosition{Checkpoint: 5, TxIndex: 1}},
		{"same position", domain.EventPosition{Checkpoint: 5, TxIndex: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			late := batch(domain.OfferCancelled{DomainName: name, Address: alice, Value: 100})
			late[0].Checkpoint = tt.pos.Checkpoint
			late[0].TxIndex = tt.pos.TxIndex
			late[0].EventSeq = tt.pos.EventSeq
			late[0].CreatedAt = baseTs.Add(time.Hour)

			res := reconcile(t, store, late)
			if res.Count(OutcomeStale) != 1 {
				t.Fatalf("expected stale outcome, got %d", res.Count(OutcomeStale))
			}
			if offer := latest(t, store, alice); offer.Status != domain.OfferStatusPlaced {
				t.Errorf("earlier event mutated offer: %s", offer.Status)
			}
		})
	}

	// A later event in the same checkpoint still applies.
	next := batch(domain.OfferCancelled{DomainName: name, Address: alice, Value: 100})
	next[0].Checkpoint = 5
	next[0].TxIndex = 3
	if res := reconcile(t, store, next); res.Count(OutcomeApplied) != 1 {
		t.Fatalf("expected later event to apply, got %d", res.Count(OutcomeApplied))
	}
	offer := latest(t, store, alice)
	if offer.Status != domain.OfferStatusCancelled {
		t.Errorf("status = %s", offer.Status)
	}
	if want := (domain.EventPosition{Checkpoint: 5, TxIndex: 3}); offer.LastPosition != want {
		t.Errorf("last position = %+v, want %+v", offer.LastPosition, want)
	}
}

// faultyUnitOfWork fails the nth UpdateOffer call.
type faultyUnitOfWork struct {
	storage.UnitOfWork
	failAt  int
	updates int
}

var errDiskFull = errors.New("disk full")

func (f *faultyUnitOfWork) UpdateOffer(ctx context.Context, offer *domain.Offer) error {
	f.updates++
	if f.updates == f.failAt {
		return errDiskFull
	}
	return f.UnitOfWork.UpdateOffer(ctx, offer)
}

type faultyFactory struct {
	store  *memory.MemoryStorage
	failAt int
}

func (f *faultyFactory) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	uow, err := f.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyUnitOfWork{UnitOfWork: uow, failAt: f.failAt}, nil
}

func TestReconcile_StorageFaultRollsBack(t *testing.T) {
	store := memory.NewMemoryStorage()
	events := batch(
		domain.OfferPlaced{DomainName: name, Address: alice, Value: 100},
		domain.OfferPlaced{DomainName: name, Address: bob, Value: 200},
		domain.OfferCancelled{DomainName: name, Address: alice, Value: 100},
		domain.OfferCancelled{DomainName: name, Address: bob, Value: 200},
	)

	_, err := New(quietLogger()).Reconcile(context.Background(), &faultyFactory{store: store, failAt: 2}, events)
	if !errors.Is(err, errDiskFull) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if a := latest(t, store, alice); a != nil {
		t.Fatalf("partial batch visible: %+v", a)
	}

	// The writer lock was released by the rollback; a retry succeeds.
	reconcile(t, store, events)
	if a := latest(t, store, alice); a == nil || a.Status != domain.OfferStatusCancelled {
		t.Fatalf("retry did not apply batch: %+v", a)
	}
}

func TestReconcile_CancelledContextRollsBack(t *testing.T) {
	store := memory.NewMemoryStorage()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(quietLogger()).Reconcile(ctx, store, batch(domain.OfferPlaced{DomainName: name, Address: alice, Value: 1}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if a := latest(t, store, alice); a != nil {
		t.Fatal("cancelled batch committed")
	}
}
