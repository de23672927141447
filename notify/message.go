// Package notify renders and delivers the mail announcing new documents.
package notify

import (
	"fmt"
	"github.com/ejacobg/gdo-checker/snapshot"
	"strings"
	"time"
)

const day = 24 * time.Hour

// AgePhrase describes how long ago firstSeen was, relative to now. A zero
// firstSeen is reported as new. A firstSeen after now cannot be expressed
// and yields the locale's fallback string.
//
// The age is measured between the wall-clock readings of both times, so a
// daylight saving shift in between does not move a link to another day.
func AgePhrase(l Locale, firstSeen, now time.Time) string {
	if firstSeen.IsZero() {
		return l.New
	}

	diff := wallClock(now).Sub(wallClock(firstSeen))
	if diff < 0 {
		return l.Unknown
	}
	switch days := int(diff / day); days {
	case 0:
		return l.Today
	case 1:
		return l.DayOne
	default:
		return fmt.Sprintf(l.DayMany, days)
	}
}

// wallClock returns t's date and clock reading as if it were taken in UTC.
func wallClock(t time.Time) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	return time.Date(y, m, d, hh, mm, ss, t.Nanosecond(), time.UTC)
}

// Subject returns the mail subject announcing n new documents.
func Subject(l Locale, prefix string, n int) string {
	noun := l.SubjectOther
	if n == 1 {
		noun = l.SubjectOne
	}
	return fmt.Sprintf("%s%d %s", prefix, n, noun)
}

// Recipient is a mail destination.
type Recipient struct {
	Name    string
	Address string
}

// Message holds everything needed to render the notification for a run.
type Message struct {
	Locale Locale

	// Prepended to the subject, e.g. "Kevelaer: ".
	SubjectPrefix string

	// The monitored page.
	PageURL string

	// The annotated links of the current run and the number of new ones.
	Links []snapshot.LinkRecord
	New   int

	// Capture time of the previous snapshot; zero when there was none.
	LastCheck time.Time

	// The time the run started; ages are computed against it.
	Now time.Time

	// Optional last line, e.g. "1.2.0@raspberrypi".
	Footer string
}

// Subject returns the subject line of the message.
func (m *Message) Subject() string {
	return Subject(m.Locale, m.SubjectPrefix, m.New)
}

// Body renders the message body for one recipient.
func (m *Message) Body(rec Recipient) string {
	var b strings.Builder

	fmt.Fprintf(&b, m.Locale.Greeting+"\n\n", rec.Name)
	b.WriteString(m.Locale.Intro + "\n\n")
	for _, link := range m.Links {
		fmt.Fprintf(&b, "▶ %s [%s]\n%s\n\n", link.Name, AgePhrase(m.Locale, link.FirstSeen, m.Now), link.URL)
	}

	b.WriteString(strings.Repeat("-", 10) + "\n")
	fmt.Fprintf(&b, m.Locale.Homepage+"\n", m.PageURL)
	if !m.LastCheck.IsZero() {
		fmt.Fprintf(&b, m.Locale.LastCheck+"\n", m.LastCheck.Format("02.01.2006 15:04:05"))
	}
	b.WriteString("\n" + m.Locale.Closing + "\n")
	if m.Locale.Signature != "" {
		b.WriteString(m.Locale.Signature + "\n")
	}
	if m.Footer != "" {
		b.WriteString("\n" + m.Footer + "\n")
	}

	return b.String()
}
