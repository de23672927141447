// Package checker runs one cycle of fetching the monitored page, detecting
// newly published documents, notifying recipients and persisting the
// snapshot for the next run.
package checker

import (
	"context"
	"errors"
	"fmt"
	"github.com/ejacobg/gdo-checker/change"
	"github.com/ejacobg/gdo-checker/notify"
	"github.com/ejacobg/gdo-checker/snapshot"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"time"
)

// Report summarizes a completed run.
type Report struct {
	// Unique identifier of the run, also attached to its log entries.
	RunID uuid.UUID

	// The capture time of the persisted snapshot.
	CapturedAt time.Time

	// Link counts as computed by the change detector.
	New   int
	Total int

	// Recipients a message was sent to (or would have been in dry-run
	// mode).
	Sent []notify.Recipient

	// Size of the persisted snapshot document.
	BytesWritten int
}

// Checker runs the change-detection and notification cycle.
type Checker struct {
	cfg Config
}

// New returns a checker for the given configuration.
func New(cfg Config) (*Checker, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("checker: config validation failed: %w", err)
	}
	return &Checker{cfg: cfg}, nil
}

// Run executes one cycle. Failures loading the snapshot or retrieving the
// page abort the run without touching the stored snapshot. Mail failures do
// not: the snapshot is persisted anyway and the failures are returned as a
// *multierror.Error together with the report.
func (c *Checker) Run(ctx context.Context) (*Report, error) {
	report := &Report{RunID: uuid.New()}
	logger := c.cfg.Logger.WithField("run", report.RunID.String())
	startedAt := c.cfg.Clock.Now().Truncate(time.Second)

	previous, err := c.loadSnapshot(ctx, logger)
	if err != nil {
		return nil, err
	}

	current, err := c.cfg.Source.Links(ctx, c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("retrieve links from %s: %w", c.cfg.URL, err)
	}
	logger.Infof("URL query of %q finished with %d entries", c.cfg.URL, len(current))
	for _, link := range current {
		logger.Debug("  - " + snapshot.LinkRecord{Link: link}.String())
	}

	res := change.Detect(current, previous.Records)
	report.New, report.Total = res.New, res.Total
	logger.WithFields(logrus.Fields{
		"new":   res.New,
		"total": res.Total,
	}).Infof("there are %d new links of %d total", res.New, res.Total)

	var mailErr error
	if res.New > 0 {
		msg := &notify.Message{
			Locale:        c.cfg.Locale,
			SubjectPrefix: c.cfg.SubjectPrefix,
			PageURL:       c.cfg.URL,
			Links:         res.Links,
			New:           res.New,
			LastCheck:     previous.CapturedAt,
			Now:           startedAt,
			Footer:        c.cfg.Footer,
		}
		report.Sent, mailErr = c.notify(ctx, logger, msg)
	} else {
		logger.Info("nothing to do here")
	}

	// The snapshot is always persisted so that link tracking continues
	// regardless of delivery problems.
	next := &snapshot.Snapshot{CapturedAt: startedAt, Records: res.Links}
	n, err := c.cfg.Store.Save(ctx, next)
	if err != nil {
		return nil, multierror.Append(mailErr, fmt.Errorf("persist snapshot: %w", err))
	}
	report.CapturedAt = startedAt
	report.BytesWritten = n
	logger.WithField("bytes", n).Info("snapshot stored for the next run")

	return report, mailErr
}

// loadSnapshot returns the previous snapshot. A missing or corrupted
// snapshot yields an empty one so the run proceeds as a first run.
func (c *Checker) loadSnapshot(ctx context.Context, logger *logrus.Entry) (*snapshot.Snapshot, error) {
	snap, err := c.cfg.Store.Load(ctx)
	switch {
	case errors.Is(err, snapshot.ErrNotFound):
		logger.Warn("no snapshot found; apparently running for the first time")
		return new(snapshot.Snapshot), nil
	case errors.Is(err, snapshot.ErrCorrupted):
		logger.WithField("err", err).Warn("snapshot is corrupted; starting from scratch")
		return new(snapshot.Snapshot), nil
	case err != nil && snap != nil:
		for _, rerr := range snapshot.RecordErrors(err) {
			logger.WithField("err", rerr.Err).Warnf("date %q of stored record %d could not be parsed; dropping it", rerr.Date, rerr.Index)
		}
	case err != nil:
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	logger.Infof("snapshot from %s with %d links loaded", snap.CapturedAt.Format(snapshot.TimeLayout), len(snap.Records))
	for _, rec := range snap.Records {
		logger.Debug("  - " + rec.String())
	}
	return snap, nil
}

// notify sends msg to every recipient. Each send is independent: a failure
// is recorded and the remaining recipients are still attempted.
func (c *Checker) notify(ctx context.Context, logger *logrus.Entry, msg *notify.Message) ([]notify.Recipient, error) {
	subject := msg.Subject()
	logger.Infof("generated mail subject: %s", subject)
	if len(c.cfg.Recipients) != 0 {
		logger.Debugf("generated mail text:\n%s", msg.Body(c.cfg.Recipients[0]))
	}

	var session notify.Session
	if !c.cfg.DryRun && len(c.cfg.Recipients) != 0 {
		var err error
		if session, err = c.cfg.Mailer.Dial(ctx); err != nil {
			var mailErr error
			for _, rec := range c.cfg.Recipients {
				logger.WithField("err", err).Errorf("could not send mail to %s (%s)", rec.Name, rec.Address)
				mailErr = multierror.Append(mailErr, fmt.Errorf("recipient %s: %w", rec.Address, err))
			}
			return nil, mailErr
		}
		defer func() {
			if err := session.Close(); err != nil {
				logger.WithField("err", err).Warn("could not close mail session")
			}
		}()
	}

	var (
		sent    []notify.Recipient
		mailErr error
	)
	for i, rec := range c.cfg.Recipients {
		if i > 0 && c.cfg.SendDelay > 0 {
			// Avoid overwhelming the relay.
			select {
			case <-ctx.Done():
				return sent, multierror.Append(mailErr, ctx.Err())
			case <-c.cfg.Clock.After(c.cfg.SendDelay):
			}
		}

		if session != nil {
			err := session.Send(notify.Mail{
				To:      rec,
				Subject: subject,
				Body:    msg.Body(rec),
				Date:    c.cfg.Clock.Now(),
			})
			if err != nil {
				logger.WithField("err", err).Errorf("could not send mail to %s (%s)", rec.Name, rec.Address)
				mailErr = multierror.Append(mailErr, fmt.Errorf("recipient %s: %w", rec.Address, err))
				continue
			}
		}

		sent = append(sent, rec)
		logger.Infof("sent mail to %s (%s)", rec.Name, rec.Address)
	}

	return sent, mailErr
}
