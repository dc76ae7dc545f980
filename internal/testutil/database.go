package testutil

import (
	"path/filepath"
	"testing"

	"msgledger/internal/database"
	"msgledger/internal/ledger"
)

// StoreKinds lists the backends behaviour suites should run against.
var StoreKinds = []string{"memory", "sqlite"}

// NewTestStore creates an empty store of the given kind ("memory" or
// "sqlite"). SQLite stores live in a temp file with the schema applied.
// The store is automatically closed when the test completes.
func NewTestStore(t *testing.T, kind string) ledger.Store {
	t.Helper()

	var (
		s   ledger.Store
		err error
	)
	switch kind {
	case "memory":
		s = database.NewMemoryStore()
	case "sqlite":
		var ss *database.SQLiteStore
		ss, err = database.NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
		if err == nil {
			if err = ss.Migrate(); err != nil {
				ss.Close()
			}
		}
		s = ss
	default:
		t.Fatalf("unknown store kind %q", kind)
	}
	if err != nil {
		t.Fatalf("failed to create %s store: %v", kind, err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}
