package database

import (
	"fmt"
	"os"
	"path/filepath"

	"msgledger/internal/config"
	"msgledger/internal/ledger"
)

// SQLitePath returns where a sqlite store for ledgerID lives under dataDir.
func SQLitePath(dataDir, ledgerID string) string {
	return filepath.Join(dataDir, ledgerID+".db")
}

// NewStoreFromConfig creates a Store implementation based on the database config type.
// SQLite stores get their data directory created if needed and are migrated
// to the latest schema before they are returned.
func NewStoreFromConfig(cfg config.DatabaseConfig, ledgerID string) (ledger.Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		s, err := NewSQLiteStore(SQLitePath(cfg.DataDir, ledgerID))
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrating database: %w", err)
		}
		return s, nil
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
