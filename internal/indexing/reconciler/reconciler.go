// Package reconciler applies ordered offer events to the offer store.
//
// Events are applied one at a time, in the order given, through a single
// storage.OfferWriter. Only one reconciler may write to a store at a time: the
// "latest open offer" lookup is only meaningful against a serial history.
//
// Events that cannot be applied (no matching offer, offer already closed, a
// transition the state machine does not allow) are logged and skipped. Replays
// are recognised by chain position: an offer remembers where its last event sat,
// and status events at or before that position are skipped. Only storage errors
// abort a batch.
package reconciler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/vietddude/offerwatch/internal/core/domain"
	"github.com/vietddude/offerwatch/internal/indexing/metrics"
	"github.com/vietddude/offerwatch/internal/infra/storage"
)

// Outcome classifies what happened to a single event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeMissing   Outcome = "missing"
	OutcomeTerminal  Outcome = "terminal"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeStale     Outcome = "stale"
)

type outcomeKey struct {
	kind    domain.EventKind
	outcome Outcome
}

// Result counts event outcomes of one batch.
type Result struct {
	counts map[outcomeKey]int
}

func (r *Result) add(kind domain.EventKind, outcome Outcome) {
	if r.counts == nil {
		r.counts = make(map[outcomeKey]int)
	}
	r.counts[outcomeKey{kind, outcome}]++
}

// Count returns how many events ended with the outcome.
func (r Result) Count(outcome Outcome) int {
	var n int
	for k, v := range r.counts {
		if k.outcome == outcome {
			n += v
		}
	}
	return n
}

// Total returns the number of events handled.
func (r Result) Total() int {
	var n int
	for _, v := range r.counts {
		n += v
	}
	return n
}

// Observe publishes the counts to metrics. Call it after the batch committed.
func (r Result) Observe() {
	for k, v := range r.counts {
		metrics.EventsApplied.WithLabelValues(string(k.kind), string(k.outcome)).Add(float64(v))
	}
}

// Reconciler maintains the materialized offer state.
type Reconciler struct {
	logger *slog.Logger
}

// New creates a reconciler. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{logger: logger}
}

// Reconcile applies events inside a fresh unit of work and commits it. On any
// error the unit of work is rolled back and nothing is persisted.
func (r *Reconciler) Reconcile(ctx context.Context, factory storage.UnitOfWorkFactory, events []domain.EventEnvelope) (Result, error) {
	uow, err := factory.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin unit of work: %w", err)
	}
	defer uow.Rollback()

	res, err := r.Apply(ctx, uow, events)
	if err != nil {
		return Result{}, err
	}
	if err := uow.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit: %w", err)
	}
	res.Observe()
	return res, nil
}

// Apply applies events in order through w. It does not commit; the caller owns
// the transaction behind w.
func (r *Reconciler) Apply(ctx context.Context, w storage.OfferWriter, events []domain.EventEnvelope) (Result, error) {
	var res Result
	for i := range events {
		env := &events[i]
		outcome, err := r.apply(ctx, w, env)
		if err != nil {
			return res, fmt.Errorf("apply %s event tx=%s seq=%d: %w", env.Event.Kind(), env.TxDigest, env.EventSeq, err)
		}
		res.add(env.Event.Kind(), outcome)
	}
	return res, nil
}

func (r *Reconciler) apply(ctx context.Context, w storage.OfferWriter, env *domain.EventEnvelope) (Outcome, error) {
	if env.Event.Kind() == domain.EventKindPlaced {
		return r.place(ctx, w, env)
	}
	return r.transition(ctx, w, env)
}

func (r *Reconciler) place(ctx context.Context, w storage.OfferWriter, env *domain.EventEnvelope) (Outcome, error) {
	offer := domain.NewOfferFromPlaced(*env)
	inserted, err := w.InsertOffer(ctx, offer)
	if err != nil {
		return "", err
	}
	if !inserted {
		r.logger.Debug("Offer already placed, skipping",
			"domain", offer.DomainName,
			"buyer", offer.Buyer,
			"offer_id", offer.ID,
			"tx_digest", env.TxDigest,
		)
		return OutcomeDuplicate, nil
	}
	r.logger.Debug("Offer placed",
		"domain", offer.DomainName,
		"buyer", offer.Buyer,
		"offer_id", offer.ID,
		"value", offer.Value.String(),
	)
	return OutcomeApplied, nil
}

func (r *Reconciler) transition(ctx context.Context, w storage.OfferWriter, env *domain.EventEnvelope) (Outcome, error) {
	ev := env.Event
	domainName := ev.Domain()
	buyer := ev.BuyerAddress().String()
	log := r.logger.With(
		"kind", ev.Kind(),
		"domain", domainName,
		"buyer", buyer,
		"checkpoint", env.Checkpoint,
		"tx_digest", env.TxDigest,
	)

	offer, err := w.LatestOpenOffer(ctx, domainName, buyer)
	if err != nil {
		return "", err
	}
	if offer == nil {
		last, err := w.LatestOffer(ctx, domainName, buyer)
		if err != nil {
			return "", err
		}
		if last == nil {
			log.Warn("No offer found for event, skipping")
			return OutcomeMissing, nil
		}
		log.Warn("Offer already closed, skipping", "offer_id", last.ID, "status", last.Status)
		return OutcomeTerminal, nil
	}

	// Events at or before the offer's last applied position were already seen.
	if env.Position().Compare(offer.LastPosition) <= 0 {
		log.Debug("Event already applied to offer, skipping",
			"offer_id", offer.ID,
			"tx_index", env.TxIndex,
			"event_seq", env.EventSeq,
			"last_checkpoint", offer.LastPosition.Checkpoint,
		)
		return OutcomeStale, nil
	}

	next, ok := offer.Status.Next(ev.Kind())
	if !ok {
		log.Warn("Transition not allowed, skipping", "offer_id", offer.ID, "status", offer.Status)
		return OutcomeInvalid, nil
	}

	prev := offer.Status
	offer.Status = next
	offer.Value = decimal.NewFromUint64(ev.Amount())
	if owner, ok := ev.OwnerAddress(); ok {
		s := owner.String()
		offer.Owner = &s
	}
	offer.UpdatedAt = env.CreatedAt
	offer.LastTxDigest = env.TxDigest
	offer.LastPosition = env.Position()

	if err := w.UpdateOffer(ctx, offer); err != nil {
		return "", err
	}
	log.Debug("Offer updated", "offer_id", offer.ID, "from", prev, "to", next, "value", offer.Value.String())
	return OutcomeApplied, nil
}
