package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OfferStatus string

const (
	OfferStatusPlaced            OfferStatus = "placed"
	OfferStatusCancelled         OfferStatus = "cancelled"
	OfferStatusAccepted          OfferStatus = "accepted"
	OfferStatusDeclined          OfferStatus = "declined"
	OfferStatusCountered         OfferStatus = "countered"
	OfferStatusAcceptedCountered OfferStatus = "accepted_countered"
)

// offerTransitions lists every legal edge of the offer state machine.
// Placed is absent: it only ever opens a new offer.
var offerTransitions = map[OfferStatus]map[EventKind]OfferStatus{
	OfferStatusPlaced: {
		EventKindCancelled:        OfferStatusCancelled,
		EventKindAccepted:         OfferStatusAccepted,
		EventKindDeclined:         OfferStatusDeclined,
		EventKindCounterOfferMade: OfferStatusCountered,
	},
	OfferStatusCountered: {
		EventKindCounterOfferAccepted: OfferStatusAcceptedCountered,
	},
}

// Next returns the status an offer moves to when the event kind is applied.
// ok is false when the transition is not part of the state machine.
func (s OfferStatus) Next(kind EventKind) (next OfferStatus, ok bool) {
	next, ok = offerTransitions[s][kind]
	return next, ok
}

// IsTerminal reports whether no further event may change the offer.
func (s OfferStatus) IsTerminal() bool {
	switch s {
	case OfferStatusCancelled, OfferStatusAccepted, OfferStatusDeclined, OfferStatusAcceptedCountered:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s OfferStatus) Valid() bool {
	switch s {
	case OfferStatusPlaced, OfferStatusCountered:
		return true
	}
	return s.IsTerminal()
}

// Offer is the current state of one negotiation between a buyer and a domain.
type Offer struct {
	ID           int64
	DomainName   string
	Buyer        string
	InitialValue decimal.Decimal
	Value        decimal.Decimal
	Owner        *string
	Status       OfferStatus
	UpdatedAt    time.Time
	CreatedAt    time.Time
	LastTxDigest string

	// PlacedTxDigest and PlacedEventSeq identify the event that opened the offer.
	PlacedTxDigest string
	PlacedEventSeq int

	// LastPosition is the chain position of the last event applied to the offer.
	LastPosition EventPosition
}

// NewOfferFromPlaced builds the row opened by a Placed event.
func NewOfferFromPlaced(env EventEnvelope) *Offer {
	value := decimal.NewFromUint64(env.Event.Amount())
	return &Offer{
		DomainName:     env.Event.Domain(),
		Buyer:          env.Event.BuyerAddress().String(),
		InitialValue:   value,
		Value:          value,
		Status:         OfferStatusPlaced,
		UpdatedAt:      env.CreatedAt,
		CreatedAt:      env.CreatedAt,
		LastTxDigest:   env.TxDigest,
		PlacedTxDigest: env.TxDigest,
		PlacedEventSeq: env.EventSeq,
		LastPosition:   env.Position(),
	}
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	c := *o
	if o.Owner != nil {
		owner := *o.Owner
		c.Owner = &owner
	}
	return &c
}
