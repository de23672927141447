// Package snapshottest provides an acceptance test suite for snapshot.Store
// implementations.
package snapshottest

import (
	"context"
	"errors"
	"github.com/ejacobg/gdo-checker/snapshot"
	"github.com/google/go-cmp/cmp"
	"testing"
	"time"
)

// Suite defines a re-usable set of store-related tests that can be executed
// against any type that implements snapshot.Store.
type Suite struct {
	S snapshot.Store

	// Optional helper functions.
	BeforeEach func(*testing.T)
	AfterEach  func(*testing.T)
}

// TestStore runs every test of the suite.
func (s *Suite) TestStore(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*testing.T, snapshot.Store)
	}{
		{"Load missing snapshot", TestLoadMissing},
		{"Save and load", TestRoundTrip},
		{"Save resolves first-seen dates", TestSaveResolvesFirstSeen},
		{"Save replaces previous snapshot", TestSaveReplaces},
		{"Save empty snapshot", TestSaveEmpty},
	}

	if s.BeforeEach == nil {
		s.BeforeEach = func(t *testing.T) {}
	}

	if s.AfterEach == nil {
		s.AfterEach = func(t *testing.T) {}
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			s.BeforeEach(t)
			test.fn(t, s.S)
			s.AfterEach(t)
		})
	}
}

// TestLoadMissing verifies that an empty store reports ErrNotFound.
func TestLoadMissing(t *testing.T, st snapshot.Store) {
	snap, err := st.Load(context.TODO())
	if !errors.Is(err, snapshot.ErrNotFound) {
		t.Fatalf("expected ErrNotFound; got %v", err)
	}
	if snap != nil {
		t.Fatalf("expected no snapshot; got %+v", snap)
	}
}

// TestRoundTrip verifies that names and urls survive exactly and that
// timestamps survive to the second.
func TestRoundTrip(t *testing.T, st snapshot.Store) {
	capturedAt := time.Date(2024, 3, 10, 18, 30, 15, 0, time.Local)
	original := &snapshot.Snapshot{
		CapturedAt: capturedAt,
		Records: []snapshot.LinkRecord{
			record("Plan Z", "https://x/z.pdf", time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)),
			record(" Plan  \"A\" <&> ", "/relative/a.pdf", time.Date(2024, 2, 29, 23, 59, 59, 0, time.Local)),
			record("Gottesdienstplan März", "https://x/m%C3%A4rz.pdf", capturedAt),
		},
	}

	n, err := st.Save(context.TODO(), original)
	if err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}
	if n <= 0 {
		t.Errorf("expected a positive byte count; got %d", n)
	}

	loaded, err := st.Load(context.TODO())
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	if diff := cmp.Diff(original, loaded, equalTimes()); diff != "" {
		t.Fatalf("loaded snapshot mismatch (-want +got):\n%s", diff)
	}
}

// TestSaveResolvesFirstSeen verifies that records without a first-seen date
// are stored with the capture time.
func TestSaveResolvesFirstSeen(t *testing.T, st snapshot.Store) {
	capturedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
	known := time.Date(2024, 4, 1, 8, 0, 0, 0, time.Local)
	snap := &snapshot.Snapshot{
		CapturedAt: capturedAt,
		Records: []snapshot.LinkRecord{
			record("old", "https://x/old.pdf", known),
			{Link: snapshot.Link{Name: "new", URL: "https://x/new.pdf"}},
		},
	}
	if _, err := st.Save(context.TODO(), snap); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}
	if !snap.Records[1].IsNew() {
		t.Fatalf("Save must not mutate its input")
	}

	loaded, err := st.Load(context.TODO())
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	exp := []snapshot.LinkRecord{
		record("old", "https://x/old.pdf", known),
		record("new", "https://x/new.pdf", capturedAt),
	}
	if diff := cmp.Diff(exp, loaded.Records, equalTimes()); diff != "" {
		t.Fatalf("loaded records mismatch (-want +got):\n%s", diff)
	}
}

// TestSaveReplaces verifies that only the latest snapshot is retained.
func TestSaveReplaces(t *testing.T, st snapshot.Store) {
	first := &snapshot.Snapshot{
		CapturedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local),
		Records: []snapshot.LinkRecord{
			record("a", "https://x/a.pdf", time.Date(2023, 12, 1, 0, 0, 0, 0, time.Local)),
			record("b", "https://x/b.pdf", time.Date(2023, 12, 2, 0, 0, 0, 0, time.Local)),
		},
	}
	second := &snapshot.Snapshot{
		CapturedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.Local),
		Records: []snapshot.LinkRecord{
			record("c", "https://x/c.pdf", time.Date(2024, 1, 2, 0, 0, 0, 0, time.Local)),
		},
	}

	for _, snap := range []*snapshot.Snapshot{first, second} {
		if _, err := st.Save(context.TODO(), snap); err != nil {
			t.Fatalf("failed to save snapshot: %v", err)
		}
	}

	loaded, err := st.Load(context.TODO())
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	if diff := cmp.Diff(second, loaded, equalTimes()); diff != "" {
		t.Fatalf("expected the second snapshot (-want +got):\n%s", diff)
	}
}

// TestSaveEmpty verifies that a snapshot without records can be stored.
func TestSaveEmpty(t *testing.T, st snapshot.Store) {
	snap := &snapshot.Snapshot{CapturedAt: time.Date(2024, 6, 1, 7, 0, 0, 0, time.Local)}
	if _, err := st.Save(context.TODO(), snap); err != nil {
		t.Fatalf("failed to save snapshot: %v", err)
	}

	loaded, err := st.Load(context.TODO())
	if err != nil {
		t.Fatalf("failed to load snapshot: %v", err)
	}
	if !loaded.CapturedAt.Equal(snap.CapturedAt) {
		t.Errorf("expected capture time %v; got %v", snap.CapturedAt, loaded.CapturedAt)
	}
	if len(loaded.Records) != 0 {
		t.Errorf("expected no records; got %d", len(loaded.Records))
	}
}

func record(name, url string, firstSeen time.Time) snapshot.LinkRecord {
	return snapshot.LinkRecord{
		Link:      snapshot.Link{Name: name, URL: url},
		FirstSeen: firstSeen,
	}
}

// equalTimes compares timestamps by instant so that monotonic readings and
// location pointers do not matter.
func equalTimes() cmp.Option {
	return cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })
}
