package checker

import (
	"context"
	"fmt"
	"github.com/ejacobg/gdo-checker/notify"
	"github.com/ejacobg/gdo-checker/snapshot"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"
	"io"
	"time"
)

//go:generate mockgen -package mocks -destination mocks/mocks.go github.com/ejacobg/gdo-checker/checker LinkSource,Mailer
//go:generate mockgen -package mocks -destination mocks/session.go github.com/ejacobg/gdo-checker/notify Session

// LinkSource is implemented by objects that can retrieve the document links
// published on a page.
type LinkSource interface {
	// Links returns the (title, href) pairs found on the page at url, in
	// document order.
	Links(ctx context.Context, url string) ([]snapshot.Link, error)
}

// Mailer is implemented by objects that can open an authenticated session
// on a mail relay.
type Mailer interface {
	Dial(ctx context.Context) (notify.Session, error)
}

// Config encapsulates the settings for configuring the checker.
type Config struct {
	// The page to monitor.
	URL string

	// Retrieves and parses the page.
	Source LinkSource

	// Persists the snapshot between runs.
	Store snapshot.Store

	// Opens mail sessions. Not used in dry-run mode.
	Mailer Mailer

	// The people to notify, in order.
	Recipients []notify.Recipient

	// The pause between two consecutive sends.
	SendDelay time.Duration

	// When set, everything is computed and logged but no mail is sent.
	DryRun bool

	// Wording of the notification.
	Locale        notify.Locale
	SubjectPrefix string
	Footer        string

	// A clock instance for generating time-related events. If not
	// specified, the default wall-clock will be used instead.
	Clock clock.Clock

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error
	if cfg.URL == "" {
		err = multierror.Append(err, fmt.Errorf("page URL has not been provided"))
	}
	if cfg.Source == nil {
		err = multierror.Append(err, fmt.Errorf("link source has not been provided"))
	}
	if cfg.Store == nil {
		err = multierror.Append(err, fmt.Errorf("snapshot store has not been provided"))
	}
	if cfg.Mailer == nil && !cfg.DryRun {
		err = multierror.Append(err, fmt.Errorf("mailer has not been provided"))
	}
	if cfg.SendDelay < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for send delay"))
	}
	if cfg.Locale == (notify.Locale{}) {
		err = multierror.Append(err, fmt.Errorf("message locale has not been provided"))
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		cfg.Logger = logrus.NewEntry(l)
	}
	return err
}
