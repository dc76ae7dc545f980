package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"msgledger/internal/archive"
	"msgledger/internal/config"
	"msgledger/internal/database"
	"msgledger/internal/host"
	"msgledger/internal/keystore"
	"msgledger/internal/ledger"
)

// PassphraseFunc supplies the keystore passphrase. It is only called by
// commands that sign a request.
type PassphraseFunc func() (string, error)

// App is the application layer between the CLI and the ledger.
// It constructs all dependencies from config, signs requests with the local
// identity, and snapshots the ledger to the archive on Close.
type App struct {
	cfg        *config.Config
	store      ledger.Store
	archive    archive.Archive // nil when snapshots are disabled
	keystore   *keystore.Keystore
	ledger     *ledger.Ledger
	dispatcher *host.Dispatcher
	clock      ledger.Clock
	idgen      ledger.IDGenerator
	passphrase PassphraseFunc
	keys       *keystore.Keys
	op         *Operation
	logger     *slog.Logger
	logFile    *os.File
}

// New creates a fully wired App from the given config.
// operation identifies the CLI command being run (e.g. "PostMessage", "Inbox").
// The caller must call Close when done.
func New(ctx context.Context, cfg *config.Config, operation string, passphrase PassphraseFunc, verbose bool) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	ledgerID, err := ledger.ParseLedgerID(cfg.LedgerID)
	if err != nil {
		return nil, err
	}

	arc, err := archive.NewArchiveFromConfig(ctx, cfg.Archive)
	if err != nil {
		return nil, fmt.Errorf("creating archive: %w", err)
	}

	store, err := database.NewStoreFromConfig(cfg.Database, cfg.LedgerID)
	if err != nil {
		return nil, fmt.Errorf("creating store: %w", err)
	}

	// Check the local ledger against the archived snapshot.
	if arc != nil {
		remote, err := arc.SnapshotVersion(ctx, cfg.LedgerID)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("checking archived snapshot version: %w", err)
		}
		local, err := store.Revision(ctx)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("checking local revision: %w", err)
		}
		if remote > local {
			store.Close()
			return nil, fmt.Errorf("local ledger is behind the archive (local=%d, archive=%d): run msgledger restore", local, remote)
		}
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID, verbose)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	clock := ledger.RealClock{}
	idgen := ledger.UUIDGenerator{}
	l := ledger.New(host.NewLocal(store), ledger.NewDeriver(ledgerID), clock, idgen)

	return &App{
		cfg:        cfg,
		store:      store,
		archive:    arc,
		keystore:   keystore.New(cfg.Identity.KeystorePath, cfg.Identity.ScryptWorkFactor),
		ledger:     l,
		dispatcher: host.NewDispatcher(l, &slogAdapter{l: logger}, clock),
		clock:      clock,
		idgen:      idgen,
		passphrase: passphrase,
		op:         NewOperation(opID, operation, ""),
		logger:     logger,
		logFile:    logFile,
	}, nil
}

// CreateIdentity generates a signing key and a messaging key and writes them
// to the configured keystore, encrypted with passphrase.
func CreateIdentity(cfg *config.Config, passphrase string) (*keystore.Public, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase must not be empty")
	}
	keys, err := keystore.Generate()
	if err != nil {
		return nil, err
	}
	ks := keystore.New(cfg.Identity.KeystorePath, cfg.Identity.ScryptWorkFactor)
	if err := ks.Create(keys, passphrase); err != nil {
		return nil, err
	}
	return ks.ReadPublic()
}

// Self returns the local identity's public keys. It does not need the
// passphrase.
func (a *App) Self() (*keystore.Public, error) {
	return a.keystore.ReadPublic()
}

// Deriver returns the address deriver for the configured ledger.
func (a *App) Deriver() *ledger.Deriver {
	return a.ledger.Deriver()
}

// unlock decrypts the keystore on first use.
func (a *App) unlock() (*keystore.Keys, error) {
	if a.keys != nil {
		return a.keys, nil
	}
	if a.passphrase == nil {
		return nil, fmt.Errorf("no passphrase source configured")
	}
	pass, err := a.passphrase()
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	keys, err := a.keystore.Unlock(pass)
	if err != nil {
		return nil, err
	}
	a.keys = keys
	return keys, nil
}

// submit signs body as the local identity and hands the dispatcher the same
// wire bytes a remote client would send.
func (a *App) submit(ctx context.Context, kind host.RequestKind, body any) (*host.Outcome, error) {
	keys, err := a.unlock()
	if err != nil {
		a.op.Fail()
		return nil, err
	}
	req, err := host.NewRequest(kind, keys.Identity(), body, a.clock, a.idgen)
	if err != nil {
		a.op.Fail()
		return nil, err
	}
	signed, err := host.Sign(keys.Signing, req)
	if err != nil {
		a.op.Fail()
		return nil, err
	}
	wire, err := signed.Encode()
	if err != nil {
		a.op.Fail()
		return nil, fmt.Errorf("encoding signed request: %w", err)
	}
	out, err := a.dispatcher.SubmitEncoded(ctx, wire)
	if err != nil {
		a.op.Fail()
		return nil, err
	}
	a.op.MarkMutated()
	return out, nil
}

// RegisterKey publishes key as the local identity's messaging key. A zero
// key publishes the keystore's own messaging key.
func (a *App) RegisterKey(ctx context.Context, key ledger.PublicKey) (*ledger.KeyRecord, error) {
	if key == (ledger.PublicKey{}) {
		keys, err := a.unlock()
		if err != nil {
			return nil, err
		}
		if key, err = keys.MessagingPublic(); err != nil {
			return nil, err
		}
	}
	self, err := a.Self()
	if err != nil {
		return nil, err
	}
	out, err := a.submit(ctx, host.KindRegisterKey, host.RegisterKeyBody{Owner: self.Identity, EncryptionKey: key})
	if err != nil {
		return nil, err
	}
	return out.Key, nil
}

// RevokeKey revokes the local identity's messaging key.
func (a *App) RevokeKey(ctx context.Context) (*ledger.KeyRecord, error) {
	self, err := a.Self()
	if err != nil {
		return nil, err
	}
	out, err := a.submit(ctx, host.KindRevokeKey, host.RevokeKeyBody{Owner: self.Identity})
	if err != nil {
		return nil, err
	}
	return out.Key, nil
}

// PostParams describes a message the local identity sends.
type PostParams struct {
	Recipient    ledger.Identity
	Locator      string
	EphemeralKey ledger.PublicKey // zero: a fresh key is generated
	TTL          int64
	Sequence     uint64
}

// PostMessage records a pointer to an encrypted message for p.Recipient.
func (a *App) PostMessage(ctx context.Context, p PostParams) (*ledger.MessageRecord, error) {
	if p.EphemeralKey == (ledger.PublicKey{}) {
		k, err := keystore.NewEphemeral()
		if err != nil {
			return nil, err
		}
		p.EphemeralKey = k
	}
	out, err := a.submit(ctx, host.KindPostMessage, host.PostMessageBody{
		Recipient:    p.Recipient,
		RecipientKey: a.ledger.Deriver().KeyAddress(p.Recipient),
		Locator:      p.Locator,
		EphemeralKey: p.EphemeralKey,
		TTL:          p.TTL,
		Sequence:     p.Sequence,
	})
	if err != nil {
		return nil, err
	}
	return out.Message, nil
}

// MarkRead marks the message at sequence in the local identity's inbox as
// read.
func (a *App) MarkRead(ctx context.Context, sequence uint64) (*ledger.MessageRecord, error) {
	self, err := a.Self()
	if err != nil {
		return nil, err
	}
	out, err := a.submit(ctx, host.KindMarkRead, host.MarkReadBody{Recipient: self.Identity, Sequence: sequence})
	if err != nil {
		return nil, err
	}
	return out.Message, nil
}

// GetKey returns owner's key record.
func (a *App) GetKey(ctx context.Context, owner ledger.Identity) (*ledger.KeyRecord, error) {
	return a.ledger.GetKey(ctx, owner)
}

// GetMessage returns the message at (recipient, sequence).
func (a *App) GetMessage(ctx context.Context, recipient ledger.Identity, sequence uint64) (*ledger.MessageRecord, error) {
	return a.ledger.GetMessage(ctx, recipient, sequence)
}

// Inbox returns the messages found in recipient's inbox scanning window
// sequences from from.
func (a *App) Inbox(ctx context.Context, recipient ledger.Identity, from uint64, window int) ([]*ledger.MessageRecord, error) {
	return a.ledger.Inbox(ctx, recipient, from, window)
}

// Events returns up to limit committed events after seq after.
func (a *App) Events(ctx context.Context, after int64, limit int) ([]*ledger.Event, error) {
	return a.store.Events(ctx, after, limit)
}

// Schema returns the SQL schema of the ledger database.
func (a *App) Schema(ctx context.Context) (string, error) {
	s, ok := a.store.(*database.SQLiteStore)
	if !ok {
		return "", fmt.Errorf("schema is only available for sqlite databases (type=%s)", a.cfg.Database.Type)
	}
	version, err := s.SchemaVersion()
	if err != nil {
		return "", err
	}
	schema, err := s.DumpSchema(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("-- schema version %d\n\n%s", version, schema), nil
}

// Close finalizes the operation and closes all resources.
// For operations that changed the ledger: snapshots the database and uploads
// it to the archive. Otherwise it just closes the store.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	keep := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}

	a.logger.Debug("operation finished", "operation", a.op.Name, "status", a.op.Status, "mutated", a.op.Mutated())

	sqlite, isSQLite := a.store.(*database.SQLiteStore)
	if a.op.Mutated() && isSQLite && a.archive != nil {
		version, err := a.store.Revision(ctx)
		if err != nil {
			keep(err)
		}

		var tmpPath string
		if err == nil {
			tmpPath, err = snapshotTo(sqlite)
			if err != nil {
				keep(err)
			}
		}

		if err := a.store.Close(); err != nil {
			keep(fmt.Errorf("closing store: %w", err))
		}

		if tmpPath != "" {
			if err := a.uploadSnapshot(ctx, tmpPath, version); err != nil {
				keep(err)
			} else {
				a.logger.Info("snapshot archived", "version", version)
			}
			os.Remove(tmpPath)
		}
	} else if err := a.store.Close(); err != nil {
		keep(fmt.Errorf("closing store: %w", err))
	}

	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}

// snapshotTo copies the database into a new temp file and returns its path.
func snapshotTo(s *database.SQLiteStore) (string, error) {
	tmp, err := os.CreateTemp("", "msgledger-snapshot-*.db")
	if err != nil {
		return "", fmt.Errorf("creating temp file for snapshot: %w", err)
	}
	path := tmp.Name()
	tmp.Close()

	if err := s.BackupTo(path); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (a *App) uploadSnapshot(ctx context.Context, path string, version int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening snapshot for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat snapshot: %w", err)
	}
	if err := a.archive.PutSnapshot(ctx, a.cfg.LedgerID, f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading snapshot: %w", err)
	}
	return nil
}

// Restore replaces the local sqlite ledger with the archived snapshot and
// returns the restored version. An existing database is moved aside rather
// than deleted.
func Restore(ctx context.Context, cfg *config.Config) (int64, error) {
	if err := cfg.Validate(); err != nil {
		return 0, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Database.Type != "sqlite" {
		return 0, fmt.Errorf("restore requires a sqlite database (type=%s)", cfg.Database.Type)
	}
	arc, err := archive.NewArchiveFromConfig(ctx, cfg.Archive)
	if err != nil {
		return 0, fmt.Errorf("creating archive: %w", err)
	}
	if arc == nil {
		return 0, fmt.Errorf("no archive configured")
	}

	version, err := arc.SnapshotVersion(ctx, cfg.LedgerID)
	if err != nil {
		return 0, fmt.Errorf("checking archived snapshot version: %w", err)
	}

	if err := os.MkdirAll(cfg.Database.DataDir, 0755); err != nil {
		return 0, fmt.Errorf("creating data directory: %w", err)
	}
	tmp, err := os.CreateTemp(cfg.Database.DataDir, "restore-*.db")
	if err != nil {
		return 0, fmt.Errorf("creating temp file for restore: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	err = arc.GetSnapshot(ctx, cfg.LedgerID, tmp)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if errors.Is(err, archive.ErrNoSnapshot) {
		return 0, fmt.Errorf("archive holds no snapshot for ledger %s", cfg.LedgerID)
	}
	if err != nil {
		return 0, fmt.Errorf("downloading snapshot: %w", err)
	}

	if err := checkSnapshot(tmpPath); err != nil {
		return 0, err
	}

	dest := database.SQLitePath(cfg.Database.DataDir, cfg.LedgerID)
	if err := moveAside(dest, time.Now().UTC().Format("20060102T150405Z")); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return 0, fmt.Errorf("installing snapshot: %w", err)
	}
	return version, nil
}

// checkSnapshot opens a downloaded snapshot and verifies its schema is
// current.
func checkSnapshot(path string) error {
	s, err := database.NewSQLiteStore(path)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer s.Close()
	if err := s.CheckMigrations(); err != nil {
		return fmt.Errorf("snapshot schema: %w", err)
	}
	return nil
}

// moveAside renames path and its WAL side files to <path>.<stamp>.bak.
func moveAside(path, stamp string) error {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		p := path + suffix
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		dst := filepath.Join(filepath.Dir(p), fmt.Sprintf("%s.%s.bak", filepath.Base(p), stamp))
		if err := os.Rename(p, dst); err != nil {
			return fmt.Errorf("moving aside %s: %w", p, err)
		}
	}
	return nil
}
