package host

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"msgledger/internal/codec"
	"msgledger/internal/ledger"
)

// RequestKind names one of the four mutating entry points.
type RequestKind string

const (
	KindRegisterKey RequestKind = "register_key"
	KindRevokeKey   RequestKind = "revoke_key"
	KindPostMessage RequestKind = "post_message"
	KindMarkRead    RequestKind = "mark_read"
)

var (
	ErrBadSignature   = errors.New("request signature does not verify")
	ErrUnknownRequest = errors.New("unknown request kind")
	ErrStaleRequest   = errors.New("request issued outside the accepted window")
	ErrReplayedNonce  = errors.New("request nonce already used")
)

// Request is the signed envelope. The signature covers its deterministic
// CBOR encoding, so re-encoding a decoded Request yields the signed bytes.
type Request struct {
	Kind     RequestKind      `cbor:"kind"`
	Signer   ledger.Identity  `cbor:"signer"`
	Nonce    string           `cbor:"nonce"`
	IssuedAt int64            `cbor:"issued_at"`
	Body     codec.RawMessage `cbor:"body"`
}

type RegisterKeyBody struct {
	Owner         ledger.Identity  `cbor:"owner"`
	EncryptionKey ledger.PublicKey `cbor:"encryption_key"`
}

type RevokeKeyBody struct {
	Owner ledger.Identity `cbor:"owner"`
}

type PostMessageBody struct {
	Recipient    ledger.Identity  `cbor:"recipient"`
	RecipientKey ledger.Address   `cbor:"recipient_key"` // zero: derived from Recipient
	Locator      string           `cbor:"locator"`
	EphemeralKey ledger.PublicKey `cbor:"ephemeral_key"`
	TTL          int64            `cbor:"ttl"`
	Sequence     uint64           `cbor:"sequence"`
}

type MarkReadBody struct {
	Recipient ledger.Identity `cbor:"recipient"`
	Sequence  uint64          `cbor:"sequence"`
}

// NewRequest builds an unsigned request of the given kind.
func NewRequest(kind RequestKind, signer ledger.Identity, body any, clock ledger.Clock, idgen ledger.IDGenerator) (*Request, error) {
	raw, err := codec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", kind, err)
	}
	return &Request{
		Kind:     kind,
		Signer:   signer,
		Nonce:    idgen.New(),
		IssuedAt: clock.Now().Unix(),
		Body:     raw,
	}, nil
}

// SignedRequest is what travels to the host: the encoded Request and an
// Ed25519 signature over it.
type SignedRequest struct {
	Payload   []byte `cbor:"payload"`
	Signature []byte `cbor:"signature"`
}

// Sign encodes req and signs it with priv. The signer named in req must be
// priv's public key or Open will reject it.
func Sign(priv ed25519.PrivateKey, req *Request) (*SignedRequest, error) {
	payload, err := codec.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	return &SignedRequest{
		Payload:   payload,
		Signature: ed25519.Sign(priv, payload),
	}, nil
}

// Open decodes the payload and checks the signature against the signer it
// names.
func (s *SignedRequest) Open() (*Request, error) {
	var req Request
	if err := codec.Unmarshal(s.Payload, &req); err != nil {
		return nil, fmt.Errorf("decoding request: %w", err)
	}
	if req.Signer.IsZero() {
		return nil, fmt.Errorf("%w: no signer", ErrBadSignature)
	}
	if !ed25519.Verify(req.Signer.PublicKey(), s.Payload, s.Signature) {
		return nil, fmt.Errorf("%w: signer %s", ErrBadSignature, req.Signer.Short())
	}
	return &req, nil
}

// Encode returns the wire form of s.
func (s *SignedRequest) Encode() ([]byte, error) {
	return codec.Marshal(s)
}

// DecodeSignedRequest parses the wire form produced by Encode.
func DecodeSignedRequest(data []byte) (*SignedRequest, error) {
	var s SignedRequest
	if err := codec.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding signed request: %w", err)
	}
	return &s, nil
}

// DecodeBody decodes req.Body into the body type matching req.Kind.
func (req *Request) DecodeBody() (any, error) {
	var v any
	switch req.Kind {
	case KindRegisterKey:
		v = &RegisterKeyBody{}
	case KindRevokeKey:
		v = &RevokeKeyBody{}
	case KindPostMessage:
		v = &PostMessageBody{}
	case KindMarkRead:
		v = &MarkReadBody{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRequest, req.Kind)
	}
	if err := codec.Unmarshal(req.Body, v); err != nil {
		return nil, fmt.Errorf("decoding %s body: %w", req.Kind, err)
	}
	return v, nil
}
