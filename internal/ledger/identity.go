package ledger

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
)

// Identity is a 32-byte Ed25519 public key. It is both an address seed and
// the principal that signs requests. The zero Identity is the empty sentinel
// an uninitialized record carries.
type Identity [32]byte

// IdentityFromPublicKey converts an Ed25519 public key to an Identity.
func IdentityFromPublicKey(pub ed25519.PublicKey) (Identity, error) {
	var id Identity
	if len(pub) != ed25519.PublicKeySize {
		return id, fmt.Errorf("public key is %d bytes, want %d", len(pub), ed25519.PublicKeySize)
	}
	copy(id[:], pub)
	return id, nil
}

// ParseIdentity decodes a hex-encoded identity.
func ParseIdentity(s string) (Identity, error) {
	var id Identity
	if err := decodeHex32(s, id[:]); err != nil {
		return id, fmt.Errorf("parsing identity: %w", err)
	}
	return id, nil
}

// IsZero reports whether id is the empty sentinel.
func (id Identity) IsZero() bool { return id == Identity{} }

// PublicKey returns id as an Ed25519 public key for signature checks.
func (id Identity) PublicKey() ed25519.PublicKey { return ed25519.PublicKey(id[:]) }

func (id Identity) String() string { return hex.EncodeToString(id[:]) }

// Short returns the first 8 hex characters, for log lines and tables.
func (id Identity) Short() string { return id.String()[:8] }

// PublicKey is 32 bytes of opaque public key material: a user's X25519
// messaging key or a message's one-time ephemeral key.
type PublicKey [32]byte

// ParsePublicKey decodes a hex-encoded 32-byte key.
func ParsePublicKey(s string) (PublicKey, error) {
	var k PublicKey
	if err := decodeHex32(s, k[:]); err != nil {
		return k, fmt.Errorf("parsing public key: %w", err)
	}
	return k, nil
}

func (k PublicKey) String() string { return hex.EncodeToString(k[:]) }

func decodeHex32(s string, dst []byte) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != 32 {
		return fmt.Errorf("got %d bytes, want 32", len(raw))
	}
	copy(dst, raw)
	return nil
}
