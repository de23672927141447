// Package change compares freshly extracted links with the previous
// snapshot.
package change

import "github.com/ejacobg/gdo-checker/snapshot"

// Result is the outcome of comparing the current links with a snapshot.
type Result struct {
	// The current links in extraction order. Links found in the previous
	// snapshot carry its first-seen date; new links have none.
	Links []snapshot.LinkRecord

	// The number of links not present in the previous snapshot.
	New int

	// The number of current links.
	Total int
}

// Detect annotates every current link with the first-seen date of the
// matching record in previous. When previous contains the same link more
// than once, the first occurrence wins. Links that only exist in previous
// are dropped.
func Detect(current []snapshot.Link, previous []snapshot.LinkRecord) Result {
	res := Result{
		Links: make([]snapshot.LinkRecord, 0, len(current)),
		Total: len(current),
	}

	for _, link := range current {
		rec := snapshot.LinkRecord{Link: link}
		found := false
		for _, old := range previous {
			if old.SameAs(link) {
				rec.FirstSeen = old.FirstSeen
				found = true
				break
			}
		}
		if !found {
			res.New++
		}
		res.Links = append(res.Links, rec)
	}

	return res
}
