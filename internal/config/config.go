package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for msgledger.
type Config struct {
	LedgerID string         `toml:"ledger_id"` // hex, 32 bytes; namespaces every derived address
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	Identity IdentityConfig `toml:"identity"`
	Database DatabaseConfig `toml:"database"`
	Archive  ArchiveConfig  `toml:"archive"`
}

// IdentityConfig locates the passphrase-protected keystore holding the
// signing key and messaging key.
type IdentityConfig struct {
	KeystorePath string `toml:"keystore_path"`

	// ScryptWorkFactor is the log2 scrypt cost used when a keystore is
	// created. Zero means the age default.
	ScryptWorkFactor int `toml:"scrypt_work_factor,omitempty"`
}

// DatabaseConfig represents configuration for the ledger store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// ArchiveConfig represents configuration for the snapshot archive.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
// An empty Type disables snapshots.
type ArchiveConfig struct {
	Type     string `toml:"type"` // "", "memory", "s3", or "filesystem"
	Name     string `toml:"name"`
	Compress bool   `toml:"compress"` // zstd-compress snapshots

	// S3-specific fields (only used when Type == "s3")
	S3Bucket   string `toml:"s3_bucket,omitempty"`
	S3Prefix   string `toml:"s3_prefix,omitempty"`
	S3Region   string `toml:"s3_region,omitempty"`
	S3Endpoint string `toml:"s3_endpoint,omitempty"` // S3-compatible services; implies path-style addressing

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(ledgerID, baseDir string) *Config {
	return &Config{
		LedgerID: ledgerID,
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		Identity: IdentityConfig{
			KeystorePath: filepath.Join(baseDir, "keys", "identity.age"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
	}
}

// Validate checks the fields every command depends on.
func (c *Config) Validate() error {
	raw, err := hex.DecodeString(c.LedgerID)
	if err != nil || len(raw) != 32 {
		return fmt.Errorf("ledger_id must be 64 hex characters")
	}
	if c.Identity.KeystorePath == "" {
		return fmt.Errorf("identity.keystore_path is required")
	}
	return nil
}

// applyDefaults fills paths left empty with their locations under BaseDir.
func (c *Config) applyDefaults() {
	if c.BaseDir == "" {
		return
	}
	d := NewConfig(c.LedgerID, c.BaseDir)
	if c.LogDir == "" {
		c.LogDir = d.LogDir
	}
	if c.Identity.KeystorePath == "" {
		c.Identity.KeystorePath = d.Identity.KeystorePath
	}
	if c.Database.Type == "" {
		c.Database.Type = d.Database.Type
	}
	if c.Database.Type == "sqlite" && c.Database.DataDir == "" {
		c.Database.DataDir = d.Database.DataDir
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from r. Keys the Config does not define are an
// error, so a misspelled option is not silently ignored.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no config at %s: run msgledger config init", path)
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	cfg, err := (&Manager{}).Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// Init writes cfg to a new file at path. It never overwrites an existing
// config: the ledger ID in it names a ledger that may already hold records.
func Init(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}

	if err := (&Manager{}).Write(f, cfg); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("initializing config: %w", err)
	}
	return f.Close()
}
