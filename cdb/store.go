// Package cdb provides a snapshot store backed by PostgreSQL or any database
// that speaks its wire protocol (e.g. CockroachDB).
package cdb

import (
	"bytes"
	"context"
	"database/sql"
	"github.com/ejacobg/gdo-checker/snapshot"
	"golang.org/x/xerrors"
	"time"

	// Register the postgres driver.
	_ "github.com/lib/pq"
)

// Compile-time check for ensuring Store implements snapshot.Store.
var _ snapshot.Store = (*Store)(nil)

const (
	ensureTableQuery = `
CREATE TABLE IF NOT EXISTS snapshots (
	id INT PRIMARY KEY,
	captured_at TIMESTAMP NOT NULL,
	document TEXT NOT NULL
)`

	loadQuery = "SELECT document FROM snapshots WHERE id = $1"

	saveQuery = `
INSERT INTO snapshots (id, captured_at, document) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET captured_at = EXCLUDED.captured_at, document = EXCLUDED.document`

	// Only one snapshot ever exists; it always lives in this row.
	snapshotRowID = 1
)

// Store keeps the encoded snapshot document in a single table row. Storing
// the same document the file store writes keeps decoding rules identical
// across backends.
type Store struct {
	db *sql.DB
}

// NewStore opens a connection to the database at dsn and makes sure the
// snapshots table exists.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, xerrors.Errorf("open snapshot db: %w", err)
	}

	ctx, cancelFn := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelFn()
	if _, err = db.ExecContext(ctx, ensureTableQuery); err != nil {
		_ = db.Close()
		return nil, xerrors.Errorf("create snapshots table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close terminates the connection to the backing database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load implements snapshot.Store.
func (s *Store) Load(ctx context.Context) (*snapshot.Snapshot, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, loadQuery, snapshotRowID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, xerrors.Errorf("load snapshot: %w", snapshot.ErrNotFound)
	} else if err != nil {
		return nil, xerrors.Errorf("load snapshot: %w", err)
	}
	return snapshot.Decode([]byte(doc))
}

// Save implements snapshot.Store.
func (s *Store) Save(ctx context.Context, snap *snapshot.Snapshot) (int, error) {
	var buf bytes.Buffer
	n, err := snapshot.Encode(&buf, snap)
	if err != nil {
		return 0, err
	}

	capturedAt := snap.CapturedAt.Truncate(time.Second)
	if _, err = s.db.ExecContext(ctx, saveQuery, snapshotRowID, capturedAt, buf.String()); err != nil {
		return 0, xerrors.Errorf("save snapshot: %w", err)
	}
	return n, nil
}
