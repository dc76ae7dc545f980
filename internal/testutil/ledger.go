package testutil

import (
	"context"
	"crypto/ed25519"
	"testing"

	"msgledger/internal/host"
	"msgledger/internal/ledger"
)

// TestLedgerID is the namespace every test ledger derives addresses under.
var TestLedgerID = ledger.LedgerID{
	0x6d, 0x73, 0x67, 0x6c, 0x65, 0x64, 0x67, 0x65,
	0x72, 0x2d, 0x74, 0x65, 0x73, 0x74, 0x00, 0x01,
}

// NewTestLedger wires a ledger over store with a Local host, a fixed clock
// and sequential IDs. The clock is returned so tests can advance it.
func NewTestLedger(t *testing.T, store ledger.Store) (*ledger.Ledger, *StubClock) {
	t.Helper()
	clock := FixedClock()
	l := ledger.New(host.NewLocal(store), ledger.NewDeriver(TestLedgerID), clock, NewStubIDGenerator())
	return l, clock
}

// TestIdentity is a deterministic Ed25519 identity for tests.
type TestIdentity struct {
	ID   ledger.Identity
	Priv ed25519.PrivateKey
}

// NewTestIdentity derives an identity from a one-byte seed, so the same seed
// always yields the same identity.
func NewTestIdentity(t *testing.T, seed byte) TestIdentity {
	t.Helper()
	s := make([]byte, ed25519.SeedSize)
	for i := range s {
		s[i] = seed
	}
	priv := ed25519.NewKeyFromSeed(s)
	id, err := ledger.IdentityFromPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		t.Fatalf("deriving identity: %v", err)
	}
	return TestIdentity{ID: id, Priv: priv}
}

// SignedBy returns ctx with id marked as the verified signer, as the
// dispatcher does after checking a signature.
func SignedBy(ctx context.Context, id ledger.Identity) context.Context {
	return host.WithVerifiedSigner(ctx, id)
}

// TestKey returns a recognizable 32-byte public key.
func TestKey(b byte) ledger.PublicKey {
	var k ledger.PublicKey
	for i := range k {
		k[i] = b
	}
	return k
}
