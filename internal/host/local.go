package host

import (
	"context"

	"msgledger/internal/ledger"
)

type signerKey struct{}

// WithVerifiedSigner returns a context carrying id as the request's verified
// signer. Only code that has checked a signature should call it.
func WithVerifiedSigner(ctx context.Context, id ledger.Identity) context.Context {
	return context.WithValue(ctx, signerKey{}, id)
}

// SignerFrom returns the verified signer carried by ctx, if any.
func SignerFrom(ctx context.Context) (ledger.Identity, bool) {
	id, ok := ctx.Value(signerKey{}).(ledger.Identity)
	return id, ok
}

// Local is an in-process ledger.Host backed by a ledger.Store. Signer
// verification reads the identity the Dispatcher bound into the context.
type Local struct {
	store ledger.Store
}

var _ ledger.Host = (*Local)(nil)

// NewLocal creates a host over store.
func NewLocal(store ledger.Store) *Local {
	return &Local{store: store}
}

func (h *Local) VerifySigner(ctx context.Context, id ledger.Identity) bool {
	signer, ok := SignerFrom(ctx)
	return ok && !signer.IsZero() && signer == id
}

func (h *Local) RunAtomically(ctx context.Context, addrs []ledger.Address, fn func(ledger.Tx) error) error {
	return h.store.Atomically(ctx, addrs, fn)
}

func (h *Local) Load(ctx context.Context, addr ledger.Address) ([]byte, error) {
	return h.store.Load(ctx, addr)
}
