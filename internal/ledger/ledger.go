package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// Ledger implements the key registry and the message ledger on top of a
// Host. It holds no state of its own: every record lives at an address the
// Deriver computes, so any reader with the ledger ID can find it.
type Ledger struct {
	host    Host
	deriver *Deriver
	clock   Clock
	idgen   IDGenerator
}

// New creates a Ledger with the provided dependencies.
func New(host Host, deriver *Deriver, clock Clock, idgen IDGenerator) *Ledger {
	return &Ledger{
		host:    host,
		deriver: deriver,
		clock:   clock,
		idgen:   idgen,
	}
}

// Deriver returns the address deriver the ledger uses.
func (l *Ledger) Deriver() *Deriver { return l.deriver }

// Receipt is the output of a committed request: the primary address it wrote
// and the events it appended.
type Receipt struct {
	Address Address
	Events  []*Event
}

// GetKey returns the key record for owner, or ErrRecordNotFound.
func (l *Ledger) GetKey(ctx context.Context, owner Identity) (*KeyRecord, error) {
	data, err := l.host.Load(ctx, l.deriver.KeyAddress(owner))
	if err != nil {
		return nil, fmt.Errorf("loading key record: %w", err)
	}
	return DecodeKeyRecord(data)
}

// GetMessage returns the message at (recipient, sequence), or
// ErrRecordNotFound.
func (l *Ledger) GetMessage(ctx context.Context, recipient Identity, sequence uint64) (*MessageRecord, error) {
	data, err := l.host.Load(ctx, l.deriver.InboxAddress(recipient, sequence))
	if err != nil {
		return nil, fmt.Errorf("loading message record: %w", err)
	}
	return DecodeMessageRecord(data)
}

// Inbox probes the window of sequence numbers [from, from+window) for
// recipient and returns the messages that exist, in sequence order. Sequence
// numbers are caller-chosen, so gaps are normal; there is no index to
// consult, only derived addresses.
func (l *Ledger) Inbox(ctx context.Context, recipient Identity, from uint64, window int) ([]*MessageRecord, error) {
	var out []*MessageRecord
	for i := 0; i < window; i++ {
		if from > math.MaxUint64-uint64(i) {
			break
		}
		msg, err := l.GetMessage(ctx, recipient, from+uint64(i))
		if errors.Is(err, ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scanning inbox at sequence %d: %w", from+uint64(i), err)
		}
		out = append(out, msg)
	}
	return out, nil
}

// newEmitter starts collecting events for one request.
func (l *Ledger) newEmitter(tx Tx, now int64) *emitter {
	return &emitter{tx: tx, idgen: l.idgen, now: now}
}

// loadKey reads and decodes a key record inside a request.
func loadKey(tx Tx, addr Address) (*KeyRecord, error) {
	data, err := tx.Load(addr)
	if err != nil {
		return nil, err
	}
	return DecodeKeyRecord(data)
}

// loadMessage reads and decodes a message record inside a request.
func loadMessage(tx Tx, addr Address) (*MessageRecord, error) {
	data, err := tx.Load(addr)
	if err != nil {
		return nil, err
	}
	return DecodeMessageRecord(data)
}
