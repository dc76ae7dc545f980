package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the locations msgledger uses when the config does not say
// otherwise.
type Defaults struct {
	ConfigPath string // MSGLEDGER_CONFIG_PATH, else ~/.config/msgledger.toml
	BaseDir    string // MSGLEDGER_HOME, else ~/.local/share/msgledger
	LogDir     string // <BaseDir>/log
}

// GetDefaults resolves Defaults, preferring environment variables over
// paths under the home directory.
func GetDefaults() (*Defaults, error) {
	configPath, err := envOrHome("MSGLEDGER_CONFIG_PATH", ".config", "msgledger.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := envOrHome("MSGLEDGER_HOME", ".local", "share", "msgledger")
	if err != nil {
		return nil, err
	}

	return &Defaults{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}

// envOrHome returns $env if set, otherwise the home directory joined with
// elem.
func envOrHome(env string, elem ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elem...)...), nil
}
