package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"github.com/hashicorp/go-multierror"
	"io"
	"time"
)

// RecordError describes a stored record that was dropped while decoding.
type RecordError struct {
	// Position of the record in the stored document.
	Index int

	// The raw first-seen value as stored.
	Date string

	Err error
}

// Error implements error.
func (e *RecordError) Error() string {
	return fmt.Sprintf("record %d (date %q): %v", e.Index, e.Date, e.Err)
}

// Unwrap allows errors.Is to match ErrInvalidRecord.
func (e *RecordError) Unwrap() error {
	return ErrInvalidRecord
}

type document struct {
	Date  string          `json:"date"`
	Links []documentEntry `json:"links"`
}

type documentEntry struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	PubDate string `json:"pub_date"`
}

// rawDocument defers decoding of the individual records so that a malformed
// record does not take the whole document down with it.
type rawDocument struct {
	Date  string            `json:"date"`
	Links []json.RawMessage `json:"links"`
}

type rawEntry struct {
	Name    *string         `json:"name"`
	URL     *string         `json:"url"`
	PubDate json.RawMessage `json:"pub_date"`
}

// Encode writes snap to w as an indented JSON document and returns the
// number of bytes written. Records without a first-seen date are written
// with the capture time.
func Encode(w io.Writer, snap *Snapshot) (int, error) {
	resolved := snap.Resolve()
	doc := document{
		Date:  resolved.CapturedAt.Format(TimeLayout),
		Links: make([]documentEntry, 0, len(resolved.Records)),
	}
	for _, r := range resolved.Records {
		doc.Links = append(doc.Links, documentEntry{
			Name:    r.Name,
			URL:     r.URL,
			PubDate: r.FirstSeen.Format(TimeLayout),
		})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	return w.Write(buf.Bytes())
}

// Decode parses a document produced by Encode.
//
// An unreadable envelope yields ErrCorrupted and a nil snapshot. Records
// that are malformed, lack a field or carry an unparsable date are dropped;
// in that case the snapshot of the remaining records is returned along with
// a *multierror.Error of RecordErrors.
func Decode(data []byte) (*Snapshot, error) {
	var doc rawDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	capturedAt, err := time.ParseInLocation(TimeLayout, doc.Date, time.Local)
	if err != nil {
		return nil, fmt.Errorf("%w: capture date: %v", ErrCorrupted, err)
	}

	snap := &Snapshot{CapturedAt: capturedAt, Records: make([]LinkRecord, 0, len(doc.Links))}
	var dropped error
	for i, raw := range doc.Links {
		rec, rerr := decodeEntry(raw)
		if rerr != nil {
			rerr.Index = i
			dropped = multierror.Append(dropped, rerr)
			continue
		}
		snap.Records = append(snap.Records, rec)
	}

	return snap, dropped
}

func decodeEntry(raw json.RawMessage) (LinkRecord, *RecordError) {
	var entry rawEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return LinkRecord{}, &RecordError{Date: string(entry.PubDate), Err: err}
	}

	var pubDate string
	if string(entry.PubDate) == "null" || json.Unmarshal(entry.PubDate, &pubDate) != nil {
		return LinkRecord{}, &RecordError{Date: string(entry.PubDate), Err: fmt.Errorf("date is not a string")}
	}
	if entry.Name == nil || entry.URL == nil {
		return LinkRecord{}, &RecordError{Date: pubDate, Err: fmt.Errorf("missing name or url")}
	}
	firstSeen, err := time.ParseInLocation(TimeLayout, pubDate, time.Local)
	if err != nil {
		return LinkRecord{}, &RecordError{Date: pubDate, Err: err}
	}

	return LinkRecord{
		Link:      Link{Name: *entry.Name, URL: *entry.URL},
		FirstSeen: firstSeen,
	}, nil
}

// RecordErrors extracts the dropped-record errors from an error returned by
// Decode or Store.Load.
func RecordErrors(err error) []*RecordError {
	var out []*RecordError
	if merr, ok := err.(*multierror.Error); ok {
		for _, e := range merr.Errors {
			if rerr, ok := e.(*RecordError); ok {
				out = append(out, rerr)
			}
		}
		return out
	}
	if rerr, ok := err.(*RecordError); ok {
		out = append(out, rerr)
	}
	return out
}
