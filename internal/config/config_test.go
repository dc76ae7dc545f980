package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testLedgerID = "6d73676c65646765722d746573742d6c65646765722d69642d303030303031aa"

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		LedgerID: testLedgerID,
		BaseDir:  "/home/user/.local/share/msgledger",
		LogDir:   "/home/user/.local/share/msgledger/log",
		Identity: IdentityConfig{
			KeystorePath:     "/home/user/.local/share/msgledger/keys/identity.age",
			ScryptWorkFactor: 15,
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/msgledger/db"},
		Archive: ArchiveConfig{
			Type:     "s3",
			Name:     "offsite",
			Compress: true,
			S3Bucket: "ledger-snapshots",
			S3Prefix: "prod",
			S3Region: "us-east-1",
		},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.LedgerID != original.LedgerID {
		t.Errorf("LedgerID = %q, want %q", got.LedgerID, original.LedgerID)
	}
	if got.BaseDir != original.BaseDir {
		t.Errorf("BaseDir = %q, want %q", got.BaseDir, original.BaseDir)
	}
	if got.LogDir != original.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, original.LogDir)
	}
	if got.Identity != original.Identity {
		t.Errorf("Identity = %+v, want %+v", got.Identity, original.Identity)
	}
	if got.Database != original.Database {
		t.Errorf("Database = %+v, want %+v", got.Database, original.Database)
	}
	if got.Archive != original.Archive {
		t.Errorf("Archive = %+v, want %+v", got.Archive, original.Archive)
	}
}

func TestManager_Read_TaggedUnionOmitsUnusedFields(t *testing.T) {
	var buf bytes.Buffer
	m := &Manager{}
	cfg := NewConfig(testLedgerID, "/data/msgledger")
	cfg.Archive = ArchiveConfig{Type: "filesystem", Name: "local", FSRoot: "/backup"}

	if err := m.Write(&buf, cfg); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if strings.Contains(buf.String(), "s3_bucket") {
		t.Errorf("encoded config contains s3_bucket for a filesystem archive:\n%s", buf.String())
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig(testLedgerID, "/data/msgledger")

	if cfg.LedgerID != testLedgerID {
		t.Errorf("LedgerID = %q, want %q", cfg.LedgerID, testLedgerID)
	}
	if cfg.BaseDir != "/data/msgledger" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/msgledger")
	}
	if cfg.LogDir != "/data/msgledger/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/msgledger/log")
	}
	if cfg.Identity.KeystorePath != "/data/msgledger/keys/identity.age" {
		t.Errorf("Identity.KeystorePath = %q, want %q", cfg.Identity.KeystorePath, "/data/msgledger/keys/identity.age")
	}
	if cfg.Database.Type != "sqlite" || cfg.Database.DataDir != "/data/msgledger/db" {
		t.Errorf("Database = %+v, want sqlite in /data/msgledger/db", cfg.Database)
	}
	if cfg.Archive.Type != "" {
		t.Errorf("Archive.Type = %q, want empty", cfg.Archive.Type)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Config) {}},
		{name: "ledger id not hex", mutate: func(c *Config) { c.LedgerID = "zz" }, wantErr: true},
		{name: "ledger id too short", mutate: func(c *Config) { c.LedgerID = "abcd" }, wantErr: true},
		{name: "missing keystore path", mutate: func(c *Config) { c.Identity.KeystorePath = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig(testLedgerID, "/data/msgledger")
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "msgledger.toml")
		cfg := NewConfig(testLedgerID, dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "msgledger.toml")
		cfg := NewConfig(testLedgerID, dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "msgledger.toml")
		cfg := NewConfig(testLedgerID, dir)
		cfg.Database = DatabaseConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.LedgerID != testLedgerID {
			t.Errorf("LedgerID = %q, want %q", got.LedgerID, testLedgerID)
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/msgledger.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
		if !strings.Contains(err.Error(), "config init") {
			t.Errorf("ReadFromFile() error = %q, want a hint to run config init", err)
		}
	})
}

func TestManager_Read_RejectsUnknownKeys(t *testing.T) {
	input := `
ledger_id = "` + testLedgerID + `"
base_dir = "/data/msgledger"

[archive]
type = "s3"
s3_buket = "typo"
`
	_, err := (&Manager{}).Read(strings.NewReader(input))
	if err == nil {
		t.Fatal("Read() expected error for unknown key")
	}
	if !strings.Contains(err.Error(), "archive.s3_buket") {
		t.Errorf("Read() error = %q, want it to name archive.s3_buket", err)
	}
}

func TestManager_Read_FillsPathsFromBaseDir(t *testing.T) {
	input := `
ledger_id = "` + testLedgerID + `"
base_dir = "/data/msgledger"
`
	got, err := (&Manager{}).Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	want := NewConfig(testLedgerID, "/data/msgledger")
	if got.LogDir != want.LogDir {
		t.Errorf("LogDir = %q, want %q", got.LogDir, want.LogDir)
	}
	if got.Identity.KeystorePath != want.Identity.KeystorePath {
		t.Errorf("KeystorePath = %q, want %q", got.Identity.KeystorePath, want.Identity.KeystorePath)
	}
	if got.Database != want.Database {
		t.Errorf("Database = %+v, want %+v", got.Database, want.Database)
	}
	if got.Archive.Type != "" {
		t.Errorf("Archive.Type = %q, want snapshots disabled", got.Archive.Type)
	}
}
