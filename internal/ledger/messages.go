package ledger

import (
	"context"
	"fmt"
)

// PostParams describes a message pointer to create.
type PostParams struct {
	Sender    Identity
	Recipient Identity

	// RecipientKey is the address of the key record the sender vouches for.
	// Zero means KeyAddress(Recipient). Whatever is supplied, the record
	// found there must belong to Recipient.
	RecipientKey Address

	Locator      string
	EphemeralKey PublicKey
	TTL          int64 // seconds
	Sequence     uint64
}

// PostMessage creates the message record at InboxAddress(Recipient,
// Sequence). Preconditions are checked in this order, each its own failure:
// locator length, TTL range, recipient key ownership, recipient key
// revocation, and finally that the inbox address is still free.
//
// Sequence is chosen by the sender. Nothing here enforces ordering or
// gap-freedom across a recipient's inbox.
func (l *Ledger) PostMessage(ctx context.Context, p PostParams) (*MessageRecord, *Receipt, error) {
	if err := requireSigner(ctx, l.host, p.Sender); err != nil {
		return nil, nil, fmt.Errorf("post message: %w", err)
	}
	if err := validatePost(&p); err != nil {
		return nil, nil, fmt.Errorf("post message: %w", err)
	}

	inbox := l.deriver.InboxAddress(p.Recipient, p.Sequence)
	keyAddr := p.RecipientKey
	if keyAddr.IsZero() {
		keyAddr = l.deriver.KeyAddress(p.Recipient)
	}

	var (
		rec    *MessageRecord
		events []*Event
	)
	err := l.host.RunAtomically(ctx, []Address{inbox, keyAddr}, func(tx Tx) error {
		data, err := tx.Load(keyAddr)
		if err != nil {
			return fmt.Errorf("loading recipient key: %w", err)
		}
		record, err := DecodeRecord(data)
		if err != nil {
			return fmt.Errorf("loading recipient key: %w", err)
		}
		keyRec, ok := record.(*KeyRecord)
		if !ok {
			return ErrInvalidRecipient
		}
		if err := checkRecipientKey(keyRec, p.Recipient); err != nil {
			return err
		}

		now := l.clock.Now().Unix()
		msg := &MessageRecord{
			Sender:       p.Sender,
			Recipient:    p.Recipient,
			Locator:      p.Locator,
			EphemeralKey: p.EphemeralKey,
			Timestamp:    now,
			TTL:          p.TTL,
			Sequence:     p.Sequence,
			IsRead:       false,
		}
		encoded, err := msg.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Create(inbox, encoded); err != nil {
			return err
		}

		em := l.newEmitter(tx, now)
		if err := em.emit(EventMessagePosted, inbox, MessagePosted{
			Sender:    msg.Sender,
			Recipient: msg.Recipient,
			Locator:   msg.Locator,
			Sequence:  msg.Sequence,
			Timestamp: now,
		}); err != nil {
			return err
		}

		rec, events = msg, em.out
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("post message: %w", err)
	}
	return rec, &Receipt{Address: inbox, Events: events}, nil
}

// MarkRead flips IsRead on the message at (recipient, sequence). Only the
// stored recipient may do this. Repeat calls succeed without further effect.
// No event is emitted.
func (l *Ledger) MarkRead(ctx context.Context, signer, recipient Identity, sequence uint64) (*MessageRecord, *Receipt, error) {
	return l.MarkReadAt(ctx, signer, l.deriver.InboxAddress(recipient, sequence))
}

// MarkReadAt is MarkRead for a message named by its address.
func (l *Ledger) MarkReadAt(ctx context.Context, signer Identity, addr Address) (*MessageRecord, *Receipt, error) {
	if err := requireSigner(ctx, l.host, signer); err != nil {
		return nil, nil, fmt.Errorf("mark read: %w", err)
	}

	var rec *MessageRecord
	err := l.host.RunAtomically(ctx, []Address{addr}, func(tx Tx) error {
		msg, err := loadMessage(tx, addr)
		if err != nil {
			return err
		}
		if err := authorizeRead(msg, signer); err != nil {
			return err
		}
		if msg.IsRead {
			rec = msg
			return nil
		}

		msg.IsRead = true
		data, err := msg.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Update(addr, data); err != nil {
			return err
		}
		rec = msg
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("mark read: %w", err)
	}
	return rec, &Receipt{Address: addr}, nil
}
