// Package decoder turns raw Move events of the offer contract into typed domain events.
package decoder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vietddude/offerwatch/internal/core/domain"
)

var (
	// ErrUnknownEventType is returned for an event of the contract package whose
	// struct name is not one of the offer events.
	ErrUnknownEventType = errors.New("unknown offer event type")

	// ErrMalformedEvent is returned when a recognized event fails BCS decoding.
	ErrMalformedEvent = errors.New("malformed offer event")
)

// Move struct names of the offer events, as they appear after the last "::".
const (
	TypeOfferPlaced        = "OfferPlacedEvent"
	TypeOfferCancelled     = "OfferCancelledEvent"
	TypeOfferAccepted      = "OfferAcceptedEvent"
	TypeOfferDeclined      = "OfferDeclinedEvent"
	TypeMakeCounterOffer   = "MakeCounterOfferEvent"
	TypeAcceptCounterOffer = "AcceptCounterOfferEvent"

	typeSeparator = "::"
)

type decodeFunc func(r *bcsReader) (domain.OfferEvent, error)

var decoders = map[string]decodeFunc{
	TypeOfferPlaced:        decodePlaced,
	TypeOfferCancelled:     decodeCancelled,
	TypeOfferAccepted:      decodeAccepted,
	TypeOfferDeclined:      decodeDeclined,
	TypeMakeCounterOffer:   decodeCounterOfferMade,
	TypeAcceptCounterOffer: decodeCounterOfferAccepted,
}

// Decoder classifies events by the contract package id they were emitted from.
type Decoder struct {
	packageID string
}

// New creates a decoder for events of the given contract package.
func New(packageID string) *Decoder {
	return &Decoder{packageID: packageID}
}

// PackageID returns the contract package id the decoder filters on.
func (d *Decoder) PackageID() string {
	return d.packageID
}

// Decode decodes a raw event. ok is false, with a nil error, when the event was
// not emitted by the configured package.
func (d *Decoder) Decode(typeTag string, payload []byte) (event domain.OfferEvent, ok bool, err error) {
	if !strings.HasPrefix(typeTag, d.packageID) {
		return nil, false, nil
	}

	name := typeTag
	if i := strings.LastIndex(typeTag, typeSeparator); i >= 0 {
		name = typeTag[i+len(typeSeparator):]
	}

	decode, found := decoders[name]
	if !found {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownEventType, typeTag)
	}

	r := &bcsReader{buf: payload}
	event, err = decode(r)
	if err == nil {
		err = r.done()
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, typeTag, err)
	}
	return event, true, nil
}

func decodePlaced(r *bcsReader) (domain.OfferEvent, error) {
	name, address, value, err := readNameAddressValue(r)
	if err != nil {
		return nil, err
	}
	return domain.OfferPlaced{DomainName: name, Address: address, Value: value}, nil
}

func decodeCancelled(r *bcsReader) (domain.OfferEvent, error) {
	name, address, value, err := readNameAddressValue(r)
	if err != nil {
		return nil, err
	}
	return domain.OfferCancelled{DomainName: name, Address: address, Value: value}, nil
}

func decodeAccepted(r *bcsReader) (domain.OfferEvent, error) {
	name, owner, buyer, value, err := readNameOwnerBuyerValue(r)
	if err != nil {
		return nil, err
	}
	return domain.OfferAccepted{DomainName: name, Owner: owner, Buyer: buyer, Value: value}, nil
}

func decodeDeclined(r *bcsReader) (domain.OfferEvent, error) {
	name, owner, buyer, value, err := readNameOwnerBuyerValue(r)
	if err != nil {
		return nil, err
	}
	return domain.OfferDeclined{DomainName: name, Owner: owner, Buyer: buyer, Value: value}, nil
}

func decodeCounterOfferMade(r *bcsReader) (domain.OfferEvent, error) {
	name, owner, buyer, value, err := readNameOwnerBuyerValue(r)
	if err != nil {
		return nil, err
	}
	return domain.CounterOfferMade{DomainName: name, Owner: owner, Buyer: buyer, Value: value}, nil
}

func decodeCounterOfferAccepted(r *bcsReader) (domain.OfferEvent, error) {
	name, buyer, value, err := readNameAddressValue(r)
	if err != nil {
		return nil, err
	}
	return domain.CounterOfferAccepted{DomainName: name, Buyer: buyer, Value: value}, nil
}

func readNameAddressValue(r *bcsReader) (name []byte, address domain.Address, value uint64, err error) {
	if name, err = r.bytes(); err != nil {
		return
	}
	if address, err = r.address(); err != nil {
		return
	}
	value, err = r.u64()
	return
}

func readNameOwnerBuyerValue(r *bcsReader) (name []byte, owner, buyer domain.Address, value uint64, err error) {
	if name, err = r.bytes(); err != nil {
		return
	}
	if owner, err = r.address(); err != nil {
		return
	}
	if buyer, err = r.address(); err != nil {
		return
	}
	value, err = r.u64()
	return
}

// Encode produces the BCS contents of an event and the struct name it is emitted as.
func Encode(event domain.OfferEvent) (typeName string, payload []byte) {
	w := &bcsWriter{}
	switch e := event.(type) {
	case domain.OfferPlaced:
		typeName = TypeOfferPlaced
		w.bytes(e.DomainName)
		w.address(e.Address)
	case domain.OfferCancelled:
		typeName = TypeOfferCancelled
		w.bytes(e.DomainName)
		w.address(e.Address)
	case domain.OfferAccepted:
		typeName = TypeOfferAccepted
		w.bytes(e.DomainName)
		w.address(e.Owner)
		w.address(e.Buyer)
	case domain.OfferDeclined:
		typeName = TypeOfferDeclined
		w.bytes(e.DomainName)
		w.address(e.Owner)
		w.address(e.Buyer)
	case domain.CounterOfferMade:
		typeName = TypeMakeCounterOffer
		w.bytes(e.DomainName)
		w.address(e.Owner)
		w.address(e.Buyer)
	case domain.CounterOfferAccepted:
		typeName = TypeAcceptCounterOffer
		w.bytes(e.DomainName)
		w.address(e.Buyer)
	}
	w.u64(event.Amount())
	return typeName, w.buf
}

// TypeTag builds the fully qualified type of an offer event in the given package and module.
func TypeTag(packageID, module, typeName string) string {
	return packageID + typeSeparator + module + typeSeparator + typeName
}
