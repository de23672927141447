// Package inmem provides an in-memory snapshot store.
package inmem

import (
	"bytes"
	"context"
	"fmt"
	"github.com/ejacobg/gdo-checker/snapshot"
	"sync"
)

// Compile-time check for ensuring Store implements snapshot.Store.
var _ snapshot.Store = (*Store)(nil)

// Store keeps the encoded form of the latest snapshot in memory so it
// behaves exactly like the persistent stores, including the byte counts
// reported by Save.
type Store struct {
	mu  sync.RWMutex
	doc []byte
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return new(Store)
}

// Load implements snapshot.Store.
func (s *Store) Load(_ context.Context) (*snapshot.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.doc == nil {
		return nil, fmt.Errorf("load snapshot: %w", snapshot.ErrNotFound)
	}
	return snapshot.Decode(s.doc)
}

// Save implements snapshot.Store.
func (s *Store) Save(_ context.Context, snap *snapshot.Snapshot) (int, error) {
	var buf bytes.Buffer
	n, err := snapshot.Encode(&buf, snap)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.doc = buf.Bytes()
	s.mu.Unlock()
	return n, nil
}

// SetDocument replaces the stored document with raw data, bypassing the
// encoder. It allows exercising the decoder with hand-crafted content.
func (s *Store) SetDocument(data []byte) {
	s.mu.Lock()
	s.doc = append([]byte(nil), data...)
	s.mu.Unlock()
}
