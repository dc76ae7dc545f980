package ledger

import "context"

// Tx is the view one atomic request has of the store. Every address it
// touches must have been declared to Host.RunAtomically; touching any other
// address fails with ErrUndeclaredAddress.
type Tx interface {
	// Load returns the raw record at addr, or ErrRecordNotFound if the
	// address was never initialized.
	Load(addr Address) ([]byte, error)

	// Create initializes addr. It fails with ErrAddressInUse if the address
	// already holds a record: an address is never reused or reinitialized.
	Create(addr Address, data []byte) error

	// Update overwrites an initialized addr. It fails with ErrRecordNotFound
	// if the address was never initialized.
	Update(addr Address, data []byte) error

	// Append adds ev to the transition log. The store sets ev.Seq once the
	// request commits.
	Append(ev *Event) error
}

// Store is a storage backend for address-derived records and the event log.
type Store interface {
	// Atomically runs fn over the declared addresses as one all-or-nothing
	// unit. If fn returns an error nothing it wrote is kept.
	Atomically(ctx context.Context, addrs []Address, fn func(Tx) error) error

	// Load reads a committed record outside any request.
	Load(ctx context.Context, addr Address) ([]byte, error)

	// Events returns up to limit committed events with Seq > after, in Seq
	// order.
	Events(ctx context.Context, after int64, limit int) ([]*Event, error)

	// LastEventSeq returns the highest committed event Seq, or 0.
	LastEventSeq(ctx context.Context) (int64, error)

	// Revision counts committed writes: every record created or updated and
	// every event appended. It grows with each request that changes the
	// store, including ones that emit no event.
	Revision(ctx context.Context) (int64, error)

	// Close releases the backend.
	Close() error
}

// Host is the execution environment the ledger runs in. It verifies who
// signed the current request and serializes requests that touch the same
// addresses.
type Host interface {
	// VerifySigner reports whether id cryptographically authorized the
	// request carried by ctx.
	VerifySigner(ctx context.Context, id Identity) bool

	// RunAtomically executes fn against the declared addresses. Requests
	// with overlapping declarations are serialized in some order; disjoint
	// ones may run concurrently.
	RunAtomically(ctx context.Context, addrs []Address, fn func(Tx) error) error

	// Load reads a committed record.
	Load(ctx context.Context, addr Address) ([]byte, error)
}
