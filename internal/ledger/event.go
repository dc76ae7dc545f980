package ledger

import (
	"fmt"

	"msgledger/internal/codec"
)

// EventKind names a transition appended alongside a committed mutation.
type EventKind string

const (
	EventMessagingKeyRegistered EventKind = "MessagingKeyRegistered"
	EventMessagingKeyRevoked    EventKind = "MessagingKeyRevoked"
	EventMessagePosted          EventKind = "MessagePosted"
)

// Event is one entry of the transition log. Seq is assigned by the store
// when the request commits; events of a failed request never get one.
type Event struct {
	Seq       int64
	ID        string
	Kind      EventKind
	Address   Address
	Timestamp int64 // unix seconds
	Payload   []byte
}

// MessagingKeyRegistered is the payload of EventMessagingKeyRegistered.
type MessagingKeyRegistered struct {
	Owner         Identity  `cbor:"owner"`
	EncryptionKey PublicKey `cbor:"encryption_key"`
	Timestamp     int64     `cbor:"timestamp"`
}

// MessagingKeyRevoked is the payload of EventMessagingKeyRevoked.
type MessagingKeyRevoked struct {
	Owner     Identity `cbor:"owner"`
	Timestamp int64    `cbor:"timestamp"`
}

// MessagePosted is the payload of EventMessagePosted.
type MessagePosted struct {
	Sender    Identity `cbor:"sender"`
	Recipient Identity `cbor:"recipient"`
	Locator   string   `cbor:"locator"`
	Sequence  uint64   `cbor:"sequence"`
	Timestamp int64    `cbor:"timestamp"`
}

// Decode returns the typed payload: MessagingKeyRegistered,
// MessagingKeyRevoked or MessagePosted.
func (e *Event) Decode() (any, error) {
	var v any
	switch e.Kind {
	case EventMessagingKeyRegistered:
		v = &MessagingKeyRegistered{}
	case EventMessagingKeyRevoked:
		v = &MessagingKeyRevoked{}
	case EventMessagePosted:
		v = &MessagePosted{}
	default:
		return nil, fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if err := codec.Unmarshal(e.Payload, v); err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", e.Kind, err)
	}
	return v, nil
}

// emitter builds events for one request. It stamps every event with the same
// request time so a request's transitions read as one instant.
type emitter struct {
	tx    Tx
	idgen IDGenerator
	now   int64
	out   []*Event
}

func (em *emitter) emit(kind EventKind, addr Address, payload any) error {
	data, err := codec.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", kind, err)
	}
	ev := &Event{
		ID:        em.idgen.New(),
		Kind:      kind,
		Address:   addr,
		Timestamp: em.now,
		Payload:   data,
	}
	if err := em.tx.Append(ev); err != nil {
		return fmt.Errorf("appending %s event: %w", kind, err)
	}
	em.out = append(em.out, ev)
	return nil
}
