package ledger

import "context"

// The checks below are the only authorization rules: every mutation is bound
// to exactly one identity, and there is no delegation or role model.

// requireSigner fails unless the host verified id as the request's signer.
func requireSigner(ctx context.Context, host Host, id Identity) error {
	if id.IsZero() || !host.VerifySigner(ctx, id) {
		return ErrSignerNotVerified
	}
	return nil
}

// authorizeKeyUpdate allows a registration when the record at owner's
// address is either unclaimed or already claimed by signer. A signer may only
// claim its own address, so a fresh record can never be bound to someone
// else's derived address.
func authorizeKeyUpdate(existing *KeyRecord, owner, signer Identity) error {
	if existing != nil && !existing.Owner.IsZero() && existing.Owner != signer {
		return ErrUnauthorizedKeyUpdate
	}
	if owner != signer {
		return ErrUnauthorizedKeyUpdate
	}
	return nil
}

// authorizeKeyRevoke requires the stored owner to be the signer and the key
// to still be live.
func authorizeKeyRevoke(rec *KeyRecord, signer Identity) error {
	if rec.Owner != signer {
		return ErrUnauthorizedKeyRevoke
	}
	if rec.IsRevoked {
		return ErrKeyAlreadyRevoked
	}
	return nil
}

// validatePost checks the request-local preconditions, in order.
func validatePost(p *PostParams) error {
	if len(p.Locator) > MaxLocatorLen {
		return ErrCidTooLong
	}
	if p.TTL <= 0 || p.TTL > MaxTTL {
		return ErrInvalidTTL
	}
	return nil
}

// checkRecipientKey binds the supplied key record to the named recipient and
// requires it to be live.
func checkRecipientKey(rec *KeyRecord, recipient Identity) error {
	if rec.Owner != recipient {
		return ErrInvalidRecipient
	}
	if rec.IsRevoked {
		return ErrRecipientKeyRevoked
	}
	return nil
}

// authorizeRead allows only the stored recipient to mark a message read.
func authorizeRead(msg *MessageRecord, signer Identity) error {
	if msg.Recipient != signer {
		return ErrUnauthorizedMessageAccess
	}
	return nil
}
