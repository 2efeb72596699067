package domain

import (
	"cmp"
	"encoding/hex"
	"strings"
	"time"
	"unicode/utf8"
)

// AddressLength is the byte length of a Sui address.
const AddressLength = 32

// Address is a raw Sui account address.
type Address [AddressLength]byte

// String renders the address the way Sui does: 0x followed by 64 lowercase hex digits.
func (a Address) String() string {
	return "0x" + hex.EncodeToString(a[:])
}

// EventKind identifies one of the six offer contract events.
type EventKind string

const (
	EventKindPlaced               EventKind = "placed"
	EventKindCancelled            EventKind = "cancelled"
	EventKindAccepted             EventKind = "accepted"
	EventKindDeclined             EventKind = "declined"
	EventKindCounterOfferMade     EventKind = "counter_offer_made"
	EventKindCounterOfferAccepted EventKind = "counter_offer_accepted"
)

// OfferEvent is a decoded offer contract event. The set of implementations is closed:
// OfferPlaced, OfferCancelled, OfferAccepted, OfferDeclined, CounterOfferMade and
// CounterOfferAccepted.
type OfferEvent interface {
	Kind() EventKind
	// Domain is the domain name decoded with lossy UTF-8 conversion.
	Domain() string
	// BuyerAddress is the party that placed the offer.
	BuyerAddress() Address
	// OwnerAddress is the domain owner, when the event reveals it.
	OwnerAddress() (Address, bool)
	Amount() uint64

	offerEvent()
}

// OfferPlaced is emitted when a buyer places an offer on a domain.
type OfferPlaced struct {
	DomainName []byte
	Address    Address
	Value      uint64
}

// OfferCancelled is emitted when the buyer withdraws the offer.
type OfferCancelled struct {
	DomainName []byte
	Address    Address
	Value      uint64
}

// OfferAccepted is emitted when the owner accepts the offer.
type OfferAccepted struct {
	DomainName []byte
	Owner      Address
	Buyer      Address
	Value      uint64
}

// OfferDeclined is emitted when the owner declines the offer.
type OfferDeclined struct {
	DomainName []byte
	Owner      Address
	Buyer      Address
	Value      uint64
}

// CounterOfferMade is emitted when the owner answers with a different price.
type CounterOfferMade struct {
	DomainName []byte
	Owner      Address
	Buyer      Address
	Value      uint64
}

// CounterOfferAccepted is emitted when the buyer accepts the owner's counter offer.
type CounterOfferAccepted struct {
	DomainName []byte
	Buyer      Address
	Value      uint64
}

func (e OfferPlaced) Kind() EventKind {
	return EventKindPlaced
}

func (e OfferPlaced) Domain() string {
	return DomainString(e.DomainName)
}

func (e OfferPlaced) BuyerAddress() Address {
	return e.Address
}

func (e OfferPlaced) OwnerAddress() (Address, bool) {
	return Address{}, false
}

func (e OfferPlaced) Amount() uint64 {
	return e.Value
}

func (OfferPlaced) offerEvent() {}

func (e OfferCancelled) Kind() EventKind {
	return EventKindCancelled
}

func (e OfferCancelled) Domain() string {
	return DomainString(e.DomainName)
}

func (e OfferCancelled) BuyerAddress() Address {
	return e.Address
}

func (e OfferCancelled) OwnerAddress() (Address, bool) {
	return Address{}, false
}

func (e OfferCancelled) Amount() uint64 {
	return e.Value
}

func (OfferCancelled) offerEvent() {}

func (e OfferAccepted) Kind() EventKind {
	return EventKindAccepted
}

func (e OfferAccepted) Domain() string {
	return DomainString(e.DomainName)
}

func (e OfferAccepted) BuyerAddress() Address {
	return e.Buyer
}

func (e OfferAccepted) OwnerAddress() (Address, bool) {
	return e.Owner, true
}

func (e OfferAccepted) Amount() uint64 {
	return e.Value
}

func (OfferAccepted) offerEvent() {}

func (e OfferDeclined) Kind() EventKind {
	return EventKindDeclined
}

func (e OfferDeclined) Domain() string {
	return DomainString(e.DomainName)
}

func (e OfferDeclined) BuyerAddress() Address {
	return e.Buyer
}

func (e OfferDeclined) OwnerAddress() (Address, bool) {
	return e.Owner, true
}

func (e OfferDeclined) Amount() uint64 {
	return e.Value
}

func (OfferDeclined) offerEvent() {}

func (e CounterOfferMade) Kind() EventKind {
	return EventKindCounterOfferMade
}

func (e CounterOfferMade) Domain() string {
	return DomainString(e.DomainName)
}

func (e CounterOfferMade) BuyerAddress() Address {
	return e.Buyer
}

func (e CounterOfferMade) OwnerAddress() (Address, bool) {
	return e.Owner, true
}

func (e CounterOfferMade) Amount() uint64 {
	return e.Value
}

func (CounterOfferMade) offerEvent() {}

func (e CounterOfferAccepted) Kind() EventKind {
	return EventKindCounterOfferAccepted
}

func (e CounterOfferAccepted) Domain() string {
	return DomainString(e.DomainName)
}

func (e CounterOfferAccepted) BuyerAddress() Address {
	return e.Buyer
}

func (e CounterOfferAccepted) OwnerAddress() (Address, bool) {
	return Address{}, false
}

func (e CounterOfferAccepted) Amount() uint64 {
	return e.Value
}

func (CounterOfferAccepted) offerEvent() {}

// DomainString converts raw domain name bytes to a string, replacing invalid
// UTF-8 instead of failing. Each maximal invalid subsequence becomes one U+FFFD,
// so a truncated multi-byte sequence is replaced once and stray bytes once each.
func DomainString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var sb strings.Builder
	sb.Grow(len(b) + 2)
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r == utf8.RuneError && size == 1 {
			size = invalidPrefixLen(b)
		}
		sb.WriteRune(r)
		b = b[size:]
	}
	return sb.String()
}

// invalidPrefixLen returns the length of the invalid sequence at the start of b:
// its lead byte plus the continuation bytes that could still have completed it.
func invalidPrefixLen(b []byte) int {
	lo, hi := byte(0x80), byte(0xBF)
	var need int
	switch c := b[0]; {
	case c >= 0xC2 && c <= 0xDF:
		need = 1
	case c == 0xE0:
		need, lo = 2, 0xA0
	case c == 0xED:
		need, hi = 2, 0x9F
	case c >= 0xE1 && c <= 0xEF:
		need = 2
	case c == 0xF0:
		need, lo = 3, 0x90
	case c == 0xF4:
		need, hi = 3, 0x8F
	case c >= 0xF1 && c <= 0xF3:
		need = 3
	default:
		return 1
	}

	n := 1
	for n <= need && n < len(b) && b[n] >= lo && b[n] <= hi {
		lo, hi = 0x80, 0xBF
		n++
	}
	return n
}

// EventEnvelope is a decoded event tagged with where and when it was emitted.
type EventEnvelope struct {
	Event      OfferEvent
	Checkpoint uint64
	TxDigest   string
	// TxIndex is the index of the transaction inside its checkpoint.
	TxIndex int
	// EventSeq is the index of the event inside its transaction.
	EventSeq  int
	TypeTag   string
	Payload   []byte
	CreatedAt time.Time
}

// Position returns where the event sits in the chain history.
func (e EventEnvelope) Position() EventPosition {
	return EventPosition{Checkpoint: e.Checkpoint, TxIndex: e.TxIndex, EventSeq: e.EventSeq}
}

// EventPosition orders events by checkpoint, then transaction, then event.
type EventPosition struct {
	Checkpoint uint64
	TxIndex    int
	EventSeq   int
}

// Compare returns -1, 0 or +1 depending on whether p sits before, at or after o.
func (p EventPosition) Compare(o EventPosition) int {
	if c := cmp.Compare(p.Checkpoint, o.Checkpoint); c != 0 {
		return c
	}
	if c := cmp.Compare(p.TxIndex, o.TxIndex); c != 0 {
		return c
	}
	return cmp.Compare(p.EventSeq, o.EventSeq)
}
