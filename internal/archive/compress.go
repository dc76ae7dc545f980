package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Compressed wraps an Archive so snapshots are zstd-compressed at rest.
// SQLite files are mostly page padding and compress well.
type Compressed struct {
	inner Archive
}

var _ Archive = (*Compressed)(nil)

// NewCompressed wraps inner.
func NewCompressed(inner Archive) *Compressed {
	return &Compressed{inner: inner}
}

func (c *Compressed) PutSnapshot(ctx context.Context, ledgerID string, r io.Reader, size int64, version int64) error {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	n, err := io.Copy(enc, r)
	if err != nil {
		enc.Close()
		return fmt.Errorf("compressing snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalizing compressed snapshot: %w", err)
	}
	if n != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, n)
	}
	return c.inner.PutSnapshot(ctx, ledgerID, &buf, int64(buf.Len()), version)
}

func (c *Compressed) GetSnapshot(ctx context.Context, ledgerID string, w io.Writer) error {
	var buf bytes.Buffer
	if err := c.inner.GetSnapshot(ctx, ledgerID, &buf); err != nil {
		return err
	}
	dec, err := zstd.NewReader(&buf)
	if err != nil {
		return fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer dec.Close()

	if _, err := io.Copy(w, dec); err != nil {
		return fmt.Errorf("decompressing snapshot: %w", err)
	}
	return nil
}

func (c *Compressed) SnapshotVersion(ctx context.Context, ledgerID string) (int64, error) {
	return c.inner.SnapshotVersion(ctx, ledgerID)
}

func (c *Compressed) ValidateSetup(ctx context.Context) error {
	return c.inner.ValidateSetup(ctx)
}
