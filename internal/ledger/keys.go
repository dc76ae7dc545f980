package ledger

import (
	"context"
	"errors"
	"fmt"
)

// RegisterKey creates or updates the key record at KeyAddress(owner) on
// behalf of signer. The stored owner, once set, may only be overwritten by
// that same owner. CreatedAt is set on first registration only; UpdatedAt on
// every call.
//
// Re-registering clears IsRevoked, so an owner can bring a revoked key record
// back to life by registering again.
func (l *Ledger) RegisterKey(ctx context.Context, owner, signer Identity, key PublicKey) (*KeyRecord, *Receipt, error) {
	if err := requireSigner(ctx, l.host, signer); err != nil {
		return nil, nil, fmt.Errorf("register key: %w", err)
	}

	addr := l.deriver.KeyAddress(owner)
	var (
		rec    *KeyRecord
		events []*Event
	)
	err := l.host.RunAtomically(ctx, []Address{addr}, func(tx Tx) error {
		existing, err := loadKey(tx, addr)
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			return err
		}
		if err := authorizeKeyUpdate(existing, owner, signer); err != nil {
			return err
		}

		now := l.clock.Now().Unix()
		next := &KeyRecord{
			Owner:         signer,
			EncryptionKey: key,
			IsRevoked:     false,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if existing != nil {
			next.CreatedAt = existing.CreatedAt
		}

		data, err := next.MarshalBinary()
		if err != nil {
			return err
		}
		if existing == nil {
			err = tx.Create(addr, data)
		} else {
			err = tx.Update(addr, data)
		}
		if err != nil {
			return err
		}

		em := l.newEmitter(tx, now)
		if err := em.emit(EventMessagingKeyRegistered, addr, MessagingKeyRegistered{
			Owner:         signer,
			EncryptionKey: key,
			Timestamp:     now,
		}); err != nil {
			return err
		}

		rec, events = next, em.out
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("register key: %w", err)
	}
	return rec, &Receipt{Address: addr, Events: events}, nil
}

// RevokeKey marks the key record at KeyAddress(owner) revoked. The record
// must exist, belong to signer, and not already be revoked. Revocation is a
// field flip; the record is never removed.
func (l *Ledger) RevokeKey(ctx context.Context, owner, signer Identity) (*KeyRecord, *Receipt, error) {
	if err := requireSigner(ctx, l.host, signer); err != nil {
		return nil, nil, fmt.Errorf("revoke key: %w", err)
	}

	addr := l.deriver.KeyAddress(owner)
	var (
		rec    *KeyRecord
		events []*Event
	)
	err := l.host.RunAtomically(ctx, []Address{addr}, func(tx Tx) error {
		existing, err := loadKey(tx, addr)
		if err != nil {
			return err
		}
		if err := authorizeKeyRevoke(existing, signer); err != nil {
			return err
		}

		now := l.clock.Now().Unix()
		existing.IsRevoked = true
		existing.UpdatedAt = now

		data, err := existing.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Update(addr, data); err != nil {
			return err
		}

		em := l.newEmitter(tx, now)
		if err := em.emit(EventMessagingKeyRevoked, addr, MessagingKeyRevoked{
			Owner:     signer,
			Timestamp: now,
		}); err != nil {
			return err
		}

		rec, events = existing, em.out
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("revoke key: %w", err)
	}
	return rec, &Receipt{Address: addr, Events: events}, nil
}
