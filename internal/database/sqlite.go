package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"msgledger/internal/database/migrations"
	"msgledger/internal/ledger"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteStore implements ledger.Store using SQLite. All requests share a
// single connection, so SQLite transactions serialize them.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens the store at path. path can be a file path or
// ":memory:" for an in-memory database. The schema is not touched; call
// Migrate or CheckMigrations before use.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// This is exported for tests and tools that need a properly configured connection.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		// BEGIN IMMEDIATE takes the write lock up front so a request never
		// fails halfway on a lock upgrade.
		dsn = "file:" + path + "?_txlock=immediate&_busy_timeout=5000&_journal_mode=WAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: every :memory: connection is its own database, and a
	// file database only has one writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// Migrate applies any pending schema migrations.
func (s *SQLiteStore) Migrate() error {
	return migrations.Up(s.db)
}

// CheckMigrations verifies the schema is at the version this binary expects.
func (s *SQLiteStore) CheckMigrations() error {
	return migrations.Check(s.db)
}

// SchemaVersion returns the applied migration version.
func (s *SQLiteStore) SchemaVersion() (uint, error) {
	st, err := migrations.ReadStatus(s.db)
	if err != nil {
		return 0, err
	}
	return st.Current, nil
}

// Path returns the path the store was opened with.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Atomically(ctx context.Context, addrs []ledger.Address, fn func(ledger.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer sqlTx.Rollback()

	tx := &sqliteTx{
		ctx:      ctx,
		tx:       sqlTx,
		declared: ledger.NewAddressSet(addrs),
	}
	if err := fn(tx); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	for i, ev := range tx.events {
		ev.Seq = tx.seqs[i]
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, addr ledger.Address) ([]byte, error) {
	return loadAccount(ctx, s.db, addr)
}

func (s *SQLiteStore) Events(ctx context.Context, after int64, limit int) ([]*ledger.Event, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, kind, address, timestamp, payload FROM events WHERE seq > ? ORDER BY seq LIMIT ?`,
		after, limit)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Event
	for rows.Next() {
		var (
			ev   ledger.Event
			kind string
			addr []byte
		)
		if err := rows.Scan(&ev.Seq, &ev.ID, &kind, &addr, &ev.Timestamp, &ev.Payload); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if len(addr) != len(ev.Address) {
			return nil, fmt.Errorf("event %d: %w: address is %d bytes", ev.Seq, ledger.ErrCorruptRecord, len(addr))
		}
		ev.Kind = ledger.EventKind(kind)
		copy(ev.Address[:], addr)
		out = append(out, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) LastEventSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("getting last event seq: %w", err)
	}
	return seq, nil
}

// Revision is the event count plus the sum of record versions. A record
// starts at version 1 and every update adds one.
func (s *SQLiteStore) Revision(ctx context.Context) (int64, error) {
	var rev int64
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COALESCE(MAX(seq), 0) FROM events) +
		       (SELECT COALESCE(SUM(version), 0) FROM accounts)`).Scan(&rev)
	if err != nil {
		return 0, fmt.Errorf("getting revision: %w", err)
	}
	return rev, nil
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteStore) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// DumpSchema returns the CREATE statements of the migrated schema, tables
// first, leaving out SQLite internals and the migration bookkeeping table.
func (s *SQLiteStore) DumpSchema(ctx context.Context) (string, error) {
	query := `
		SELECT sql || ';'
		FROM sqlite_master
		WHERE type IN ('table', 'index')
		  AND sql IS NOT NULL
		  AND name NOT LIKE 'sqlite_%'
		  AND name != 'schema_migrations'
		  AND tbl_name != 'schema_migrations'
		ORDER BY
		  CASE type
		    WHEN 'table' THEN 1
		    WHEN 'index' THEN 2
		  END,
		  name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return "", fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var b strings.Builder
	for rows.Next() {
		var stmt string
		if err := rows.Scan(&stmt); err != nil {
			return "", fmt.Errorf("scan failed: %w", err)
		}
		b.WriteString(stmt)
		b.WriteString("\n\n")
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("rows error: %w", err)
	}
	return b.String(), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadAccount(ctx context.Context, q queryer, addr ledger.Address) ([]byte, error) {
	var data []byte
	err := q.QueryRowContext(ctx, `SELECT data FROM accounts WHERE address = ?`, addr[:]).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrRecordNotFound, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("loading account %s: %w", addr, err)
	}
	return data, nil
}

type sqliteTx struct {
	ctx      context.Context
	tx       *sql.Tx
	declared ledger.AddressSet
	events   []*ledger.Event
	seqs     []int64
}

func (t *sqliteTx) Load(addr ledger.Address) ([]byte, error) {
	if err := t.declared.Check(addr); err != nil {
		return nil, err
	}
	return loadAccount(t.ctx, t.tx, addr)
}

func (t *sqliteTx) Create(addr ledger.Address, data []byte) error {
	if err := t.declared.Check(addr); err != nil {
		return err
	}
	kind, err := ledger.KindOf(data)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO accounts (address, kind, data) VALUES (?, ?, ?) ON CONFLICT(address) DO NOTHING`,
		addr[:], string(kind), data)
	if err != nil {
		return fmt.Errorf("creating account %s: %w", addr, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("creating account %s: %w", addr, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrAddressInUse, addr)
	}
	return nil
}

func (t *sqliteTx) Update(addr ledger.Address, data []byte) error {
	if err := t.declared.Check(addr); err != nil {
		return err
	}
	kind, err := ledger.KindOf(data)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE accounts SET data = ?, version = version + 1 WHERE address = ? AND kind = ?`,
		data, addr[:], string(kind))
	if err != nil {
		return fmt.Errorf("updating account %s: %w", addr, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating account %s: %w", addr, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ledger.ErrRecordNotFound, addr)
	}
	return nil
}

func (t *sqliteTx) Append(ev *ledger.Event) error {
	if err := t.declared.Check(ev.Address); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO events (id, kind, address, timestamp, payload) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Kind), ev.Address[:], ev.Timestamp, ev.Payload)
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	t.events = append(t.events, ev)
	t.seqs = append(t.seqs, seq)
	return nil
}
