// Package archive stores point-in-time copies of the ledger database away
// from the machine that writes it.
package archive

import (
	"context"
	"errors"
	"io"
)

// ErrNoSnapshot is returned by GetSnapshot when nothing has been stored for
// a ledger.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Archive is a snapshot storage backend. Each ledger has at most one
// snapshot; a newer Put replaces it.
type Archive interface {
	// PutSnapshot stores size bytes read from r as the snapshot of ledgerID.
	// version is stored alongside so readers can tell which is newer.
	PutSnapshot(ctx context.Context, ledgerID string, r io.Reader, size int64, version int64) error

	// GetSnapshot writes the stored snapshot of ledgerID to w.
	GetSnapshot(ctx context.Context, ledgerID string, w io.Writer) error

	// SnapshotVersion returns the stored snapshot's version, or 0 if there
	// is none.
	SnapshotVersion(ctx context.Context, ledgerID string) (int64, error)

	// ValidateSetup verifies that the archive is reachable and usable.
	ValidateSetup(ctx context.Context) error
}
