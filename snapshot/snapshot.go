// Package snapshot defines the persisted view of the links observed on the
// monitored page and the interface implemented by snapshot stores.
package snapshot

import (
	"context"
	"errors"
	"time"
)

// TimeLayout is the second-precision timestamp format used by the persisted
// snapshot. Timestamps carry no zone and are interpreted in local time.
const TimeLayout = "2006-01-02T15:04:05"

var (
	// ErrNotFound is returned by Load when no snapshot has been saved yet.
	ErrNotFound = errors.New("snapshot not found")

	// ErrCorrupted is returned when the outer structure of a stored
	// snapshot cannot be decoded.
	ErrCorrupted = errors.New("snapshot corrupted")

	// ErrInvalidRecord is wrapped by every RecordError.
	ErrInvalidRecord = errors.New("invalid snapshot record")
)

// Snapshot is the set of links observed at a point in time, in the order
// they were extracted from the page.
type Snapshot struct {
	// The time the snapshot was produced.
	CapturedAt time.Time

	// The links in extraction order.
	Records []LinkRecord
}

// Resolve returns a copy of s where every record without a first-seen date
// is stamped with the capture time.
func (s *Snapshot) Resolve() *Snapshot {
	out := &Snapshot{
		CapturedAt: s.CapturedAt,
		Records:    make([]LinkRecord, len(s.Records)),
	}
	for i, r := range s.Records {
		if r.IsNew() {
			r.FirstSeen = s.CapturedAt
		}
		out.Records[i] = r
	}
	return out
}

// Store is implemented by objects that can persist a single snapshot.
type Store interface {
	// Load returns the stored snapshot or ErrNotFound if there is none.
	// If some records could not be decoded, Load returns the remaining
	// snapshot together with a *multierror.Error that holds one
	// *RecordError per dropped record.
	Load(ctx context.Context) (*Snapshot, error)

	// Save replaces the stored snapshot and returns the size in bytes of
	// the encoded document.
	Save(ctx context.Context, snap *Snapshot) (int, error)
}
