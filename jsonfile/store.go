// Package jsonfile stores the snapshot as a human-readable JSON file.
package jsonfile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"github.com/ejacobg/gdo-checker/snapshot"
	"io/fs"
	"os"
	"path/filepath"
)

// Compile-time check for ensuring Store implements snapshot.Store.
var _ snapshot.Store = (*Store)(nil)

// Store persists a single snapshot at a fixed path.
type Store struct {
	path string
}

// NewStore returns a store backed by the file at path. The file and its
// parent directories are created on the first Save.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the location of the snapshot file.
func (s *Store) Path() string {
	return s.path
}

// Load implements snapshot.Store. A missing file yields snapshot.ErrNotFound.
func (s *Store) Load(_ context.Context) (*snapshot.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", s.path, snapshot.ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("load %s: %w", s.path, err)
	}
	return snapshot.Decode(data)
}

// Save implements snapshot.Store. The document is written to a temporary
// file next to the target and renamed over it, so a failed write leaves the
// previous snapshot intact.
func (s *Store) Save(_ context.Context, snap *snapshot.Snapshot) (int, error) {
	var buf bytes.Buffer
	n, err := snapshot.Encode(&buf, snap)
	if err != nil {
		return 0, err
	}

	dir := filepath.Dir(s.path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("save %s: %w", s.path, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return 0, fmt.Errorf("save %s: %w", s.path, err)
	}
	// Removing fails harmlessly once the rename succeeded.
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err = tmp.Write(buf.Bytes()); err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0o644)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), s.path)
	}
	if err != nil {
		return 0, fmt.Errorf("save %s: %w", s.path, err)
	}

	return n, nil
}
