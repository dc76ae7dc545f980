package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileSystemArchive stores snapshots as files:
//
//	<root>/
//	  snapshots/
//	    <ledgerID>.db       (latest snapshot)
//	    <ledgerID>.version  (its version, decimal)
type FileSystemArchive struct {
	name string
	root string
	dir  string
}

var _ Archive = (*FileSystemArchive)(nil)

// NewFileSystemArchive creates a filesystem archive rooted at root.
func NewFileSystemArchive(name, root string) (*FileSystemArchive, error) {
	dir := filepath.Join(root, "snapshots")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}
	return &FileSystemArchive{name: name, root: root, dir: dir}, nil
}

func (a *FileSystemArchive) PutSnapshot(_ context.Context, ledgerID string, r io.Reader, size int64, version int64) error {
	if err := writeFileAtomic(filepath.Join(a.dir, ledgerID+".db"), r, size); err != nil {
		return err
	}
	versionData := strconv.FormatInt(version, 10)
	return writeFileAtomic(filepath.Join(a.dir, ledgerID+".version"), strings.NewReader(versionData), int64(len(versionData)))
}

func (a *FileSystemArchive) GetSnapshot(_ context.Context, ledgerID string, w io.Writer) error {
	f, err := os.Open(filepath.Join(a.dir, ledgerID+".db"))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w for ledger %s", ErrNoSnapshot, ledgerID)
		}
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

// SnapshotVersion returns 0 if no version file exists.
func (a *FileSystemArchive) SnapshotVersion(_ context.Context, ledgerID string) (int64, error) {
	data, err := os.ReadFile(filepath.Join(a.dir, ledgerID+".version"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading version file: %w", err)
	}

	version, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version: %w", err)
	}
	return version, nil
}

// ValidateSetup verifies that the archive directories are accessible.
func (a *FileSystemArchive) ValidateSetup(context.Context) error {
	for _, dir := range []string{a.root, a.dir} {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("archive directory not accessible: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("archive path is not a directory: %s", dir)
		}
	}
	return nil
}

// writeFileAtomic writes r to destPath through a temp file and rename, so a
// reader never sees a partial snapshot.
func writeFileAtomic(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}
