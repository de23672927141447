package snapshot

import "time"

// Link identifies a document reference discovered on the monitored page.
// Two links are the same iff both fields match exactly.
type Link struct {
	// The display title of the linked document.
	Name string

	// The link target as it appears on the page.
	URL string
}

// LinkRecord is a Link annotated with the time it was first seen.
type LinkRecord struct {
	Link

	// The capture time of the first snapshot this link appeared in. The zero
	// value means the link has not been persisted yet.
	FirstSeen time.Time
}

// SameAs reports whether r refers to the same document as l. FirstSeen is
// never part of the identity.
func (r LinkRecord) SameAs(l Link) bool {
	return r.Link == l
}

// IsNew reports whether r has no first-seen date yet.
func (r LinkRecord) IsNew() bool {
	return r.FirstSeen.IsZero()
}

// String formats the record for progress logs.
func (r LinkRecord) String() string {
	if r.IsNew() {
		return `"` + r.Name + `" -> ` + r.URL
	}
	return "[" + r.FirstSeen.Format(TimeLayout) + `] "` + r.Name + `" -> ` + r.URL
}
