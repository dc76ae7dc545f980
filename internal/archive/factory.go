package archive

import (
	"context"
	"fmt"

	"msgledger/internal/config"
)

// NewArchiveFromConfig creates an Archive implementation based on the archive config type.
// It returns nil, nil when no archive is configured.
func NewArchiveFromConfig(ctx context.Context, cfg config.ArchiveConfig) (Archive, error) {
	var (
		a   Archive
		err error
	)
	switch cfg.Type {
	case "":
		return nil, nil
	case "memory":
		a = NewMemoryArchive(cfg.Name)
	case "s3":
		a, err = NewS3Archive(ctx, cfg)
	case "filesystem":
		if cfg.FSRoot == "" {
			return nil, fmt.Errorf("filesystem archive requires fs_root to be set")
		}
		a, err = NewFileSystemArchive(cfg.Name, cfg.FSRoot)
	default:
		return nil, fmt.Errorf("unknown archive type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Compress {
		a = NewCompressed(a)
	}
	return a, nil
}
