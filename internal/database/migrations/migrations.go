// Package migrations holds the ledger schema and applies it with
// golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed files/*.sql
var migrationFiles embed.FS

var (
	ErrNoSchema = errors.New("database has no schema version")
	ErrDirty    = errors.New("database schema is dirty")
	ErrBehind   = errors.New("database schema is behind this binary")
	ErrAhead    = errors.New("database schema is ahead of this binary")
)

// Status is where a database sits relative to the embedded migrations.
type Status struct {
	Current uint // 0 when no migration has run
	Latest  uint
	Dirty   bool
}

// Err returns nil if the schema is usable as is, or the sentinel describing
// why not.
func (s *Status) Err() error {
	switch {
	case s.Current == 0:
		return fmt.Errorf("%w (needs migration)", ErrNoSchema)
	case s.Dirty:
		return fmt.Errorf("%w at version %d (migration failed previously)", ErrDirty, s.Current)
	case s.Current < s.Latest:
		return fmt.Errorf("%w: at %d, latest is %d", ErrBehind, s.Current, s.Latest)
	case s.Current > s.Latest:
		return fmt.Errorf("%w: at %d, binary knows %d", ErrAhead, s.Current, s.Latest)
	}
	return nil
}

// ReadStatus reports the schema version of db and the latest embedded one.
// The caller keeps ownership of db.
func ReadStatus(db *sql.DB) (*Status, error) {
	latest, err := LatestVersion()
	if err != nil {
		return nil, err
	}

	m, err := newMigrate(db)
	if err != nil {
		return nil, err
	}
	// m is not closed: closing it would close db.

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return &Status{Latest: latest}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading schema version: %w", err)
	}
	return &Status{Current: version, Latest: latest, Dirty: dirty}, nil
}

// Check returns nil if db is at exactly the latest embedded version.
func Check(db *sql.DB) error {
	st, err := ReadStatus(db)
	if err != nil {
		return err
	}
	return st.Err()
}

// Up applies all pending migrations. Running it on a current database is a
// no-op.
func Up(db *sql.DB) error {
	m, err := newMigrate(db)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// LatestVersion returns the highest embedded migration version.
func LatestVersion() (uint, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return 0, fmt.Errorf("reading migration files: %w", err)
	}
	defer src.Close()
	return lastVersion(src)
}

func newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "files")
	if err != nil {
		return nil, fmt.Errorf("reading migration files: %w", err)
	}

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("wrapping database for migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	return m, nil
}

// lastVersion walks src to its final migration. Next reports the end of
// the list as an error.
func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			return v, nil
		}
		v = next
	}
}
