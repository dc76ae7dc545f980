package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"msgledger/internal/ledger"
)

// DefaultMaxSkew bounds how far a request's IssuedAt may sit from the host
// clock, in either direction.
const DefaultMaxSkew = 5 * time.Minute

// Outcome is what a committed request produced. Exactly one of Key or
// Message is set, matching Kind.
type Outcome struct {
	Kind    RequestKind
	Signer  ledger.Identity
	Key     *ledger.KeyRecord
	Message *ledger.MessageRecord
	Receipt *ledger.Receipt
}

// Dispatcher verifies signed requests and routes them to the ledger. A nonce
// is remembered for twice the skew window once its signature verifies,
// whether or not the request then commits.
type Dispatcher struct {
	ledger  *ledger.Ledger
	logger  Logger
	clock   ledger.Clock
	maxSkew time.Duration

	mu     sync.Mutex
	nonces map[string]time.Time // nonce -> expiry
}

// NewDispatcher creates a Dispatcher with the provided dependencies.
func NewDispatcher(l *ledger.Ledger, logger Logger, clock ledger.Clock) *Dispatcher {
	return &Dispatcher{
		ledger:  l,
		logger:  logger,
		clock:   clock,
		maxSkew: DefaultMaxSkew,
		nonces:  make(map[string]time.Time),
	}
}

// Submit verifies signed and executes it. Business rejections come back as
// *ledger.Error values wrapped with request context.
func (d *Dispatcher) Submit(ctx context.Context, signed *SignedRequest) (*Outcome, error) {
	req, err := signed.Open()
	if err != nil {
		d.logger.Warn("request rejected", "error", err)
		return nil, err
	}
	if err := d.admit(req); err != nil {
		d.logger.Warn("request rejected", "kind", req.Kind, "signer", req.Signer.Short(), "error", err)
		return nil, err
	}

	out, err := d.execute(WithVerifiedSigner(ctx, req.Signer), req)
	if err != nil {
		d.logger.Warn("request rejected",
			"kind", req.Kind,
			"signer", req.Signer.Short(),
			"code", ledger.Code(err),
			"error", err,
		)
		return nil, fmt.Errorf("%s: %w", req.Kind, err)
	}

	d.logger.Info("request accepted",
		"kind", req.Kind,
		"signer", req.Signer.Short(),
		"address", out.Receipt.Address.String(),
		"events", len(out.Receipt.Events),
	)
	return out, nil
}

// SubmitEncoded decodes the wire form of a signed request and submits it.
func (d *Dispatcher) SubmitEncoded(ctx context.Context, data []byte) (*Outcome, error) {
	signed, err := DecodeSignedRequest(data)
	if err != nil {
		d.logger.Warn("request rejected", "error", err)
		return nil, err
	}
	return d.Submit(ctx, signed)
}

// admit enforces the freshness window and single use of nonces.
func (d *Dispatcher) admit(req *Request) error {
	now := d.clock.Now()
	issued := time.Unix(req.IssuedAt, 0)
	if issued.Before(now.Add(-d.maxSkew)) || issued.After(now.Add(d.maxSkew)) {
		return fmt.Errorf("%w: issued %s", ErrStaleRequest, issued.UTC().Format(time.RFC3339))
	}
	if req.Nonce == "" {
		return fmt.Errorf("%w: empty nonce", ErrReplayedNonce)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for n, exp := range d.nonces {
		if now.After(exp) {
			delete(d.nonces, n)
		}
	}
	if _, ok := d.nonces[req.Nonce]; ok {
		return fmt.Errorf("%w: %s", ErrReplayedNonce, req.Nonce)
	}
	d.nonces[req.Nonce] = now.Add(2 * d.maxSkew)
	return nil
}

func (d *Dispatcher) execute(ctx context.Context, req *Request) (*Outcome, error) {
	body, err := req.DecodeBody()
	if err != nil {
		return nil, err
	}
	out := &Outcome{Kind: req.Kind, Signer: req.Signer}

	switch b := body.(type) {
	case *RegisterKeyBody:
		prior, perr := d.ledger.GetKey(ctx, b.Owner)
		if perr != nil && !errors.Is(perr, ledger.ErrRecordNotFound) {
			return nil, perr
		}
		out.Key, out.Receipt, err = d.ledger.RegisterKey(ctx, b.Owner, req.Signer, b.EncryptionKey)
		if err == nil && prior != nil && prior.IsRevoked {
			d.logger.Warn("key re-registered after revocation", "owner", b.Owner.Short())
		}
	case *RevokeKeyBody:
		out.Key, out.Receipt, err = d.ledger.RevokeKey(ctx, b.Owner, req.Signer)
	case *PostMessageBody:
		out.Message, out.Receipt, err = d.ledger.PostMessage(ctx, ledger.PostParams{
			Sender:       req.Signer,
			Recipient:    b.Recipient,
			RecipientKey: b.RecipientKey,
			Locator:      b.Locator,
			EphemeralKey: b.EphemeralKey,
			TTL:          b.TTL,
			Sequence:     b.Sequence,
		})
	case *MarkReadBody:
		out.Message, out.Receipt, err = d.ledger.MarkRead(ctx, req.Signer, b.Recipient, b.Sequence)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
