package database

import (
	"os"
	"path/filepath"
	"testing"

	"msgledger/internal/config"
)

const testLedgerID = "0101010101010101010101010101010101010101010101010101010101010101"

func TestNewStoreFromConfig(t *testing.T) {
	t.Run("memory database", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "memory"}
		got, err := NewStoreFromConfig(cfg, testLedgerID)

		if err != nil {
			t.Errorf("NewStoreFromConfig() unexpected error: %v", err)
			return
		}

		if got == nil {
			t.Error("NewStoreFromConfig() returned nil")
		}

		if got != nil {
			got.Close()
		}
	})

	t.Run("sqlite database", func(t *testing.T) {
		cfg := config.DatabaseConfig{
			Type:    "sqlite",
			DataDir: t.TempDir(),
		}
		got, err := NewStoreFromConfig(cfg, testLedgerID)

		if err != nil {
			t.Errorf("NewStoreFromConfig() unexpected error: %v", err)
			return
		}

		if got == nil {
			t.Error("NewStoreFromConfig() returned nil")
		}

		if got != nil {
			got.Close()
		}
	})

	t.Run("sqlite database is migrated", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.DatabaseConfig{Type: "sqlite", DataDir: dir}
		got, err := NewStoreFromConfig(cfg, testLedgerID)
		if err != nil {
			t.Fatalf("NewStoreFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		s, ok := got.(*SQLiteStore)
		if !ok {
			t.Fatalf("NewStoreFromConfig() returned %T, want *SQLiteStore", got)
		}
		if err := s.CheckMigrations(); err != nil {
			t.Errorf("CheckMigrations() error = %v", err)
		}
		if s.Path() != SQLitePath(dir, testLedgerID) {
			t.Errorf("Path() = %q, want %q", s.Path(), SQLitePath(dir, testLedgerID))
		}
	})

	t.Run("sqlite database creates missing data_dir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "base", "db")
		cfg := config.DatabaseConfig{Type: "sqlite", DataDir: dir}
		got, err := NewStoreFromConfig(cfg, testLedgerID)
		if err != nil {
			t.Fatalf("NewStoreFromConfig() unexpected error: %v", err)
		}
		defer got.Close()

		if _, err := os.Stat(SQLitePath(dir, testLedgerID)); err != nil {
			t.Errorf("database file not created: %v", err)
		}
	})

	t.Run("sqlite database without data_dir", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "sqlite"}
		got, err := NewStoreFromConfig(cfg, testLedgerID)

		if err == nil {
			t.Error("NewStoreFromConfig() expected error for missing data_dir, got nil")
		}

		if got != nil {
			t.Error("NewStoreFromConfig() should return nil on error")
			got.Close()
		}
	})

	t.Run("unknown database type", func(t *testing.T) {
		cfg := config.DatabaseConfig{Type: "unknown"}
		got, err := NewStoreFromConfig(cfg, testLedgerID)

		if err == nil {
			t.Error("NewStoreFromConfig() expected error for unknown type, got nil")
		}

		if got != nil {
			t.Error("NewStoreFromConfig() should return nil on error")
			got.Close()
		}
	})
}
