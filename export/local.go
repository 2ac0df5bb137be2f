package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/moviola-io/moviola/iox"
)

// LocalDir stores frames as files in a directory. Writes are atomic:
// data lands in a temp file and is renamed into place, so an interrupted
// save never leaves a half-written image.
type LocalDir struct {
	dir string
}

// NewLocalDir creates the directory if needed and returns a destination
// writing into it.
func NewLocalDir(dir string) (*LocalDir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating export directory: %w", err)
	}
	return &LocalDir{dir: dir}, nil
}

// Store writes one file and returns its absolute path.
func (d *LocalDir) Store(_ context.Context, name string, data []byte, _ string) (string, error) {
	target := filepath.Join(d.dir, name)

	tmp, err := os.CreateTemp(d.dir, ".export-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		iox.DiscardClose(tmp)
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("replacing %s: %w", name, err)
	}
	return target, nil
}

// Close is a no-op for local directories.
func (d *LocalDir) Close() error { return nil }

var _ Destination = (*LocalDir)(nil)
