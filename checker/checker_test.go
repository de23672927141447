package checker

import (
	"context"
	"errors"
	"fmt"
	"github.com/ejacobg/gdo-checker/checker/mocks"
	"github.com/ejacobg/gdo-checker/inmem"
	"github.com/ejacobg/gdo-checker/notify"
	"github.com/ejacobg/gdo-checker/snapshot"
	"github.com/ejacobg/gdo-checker/source"
	"github.com/golang/mock/gomock"
	"github.com/juju/clock/testclock"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"gopkg.in/check.v1"
	"strings"
	"testing"
	"time"
)

var _ = check.Suite(new(CheckerTestSuite))

func Test(t *testing.T) {
	// Run all gocheck test-suites
	check.TestingT(t)
}

const pageURL = "https://example.org/plans"

type CheckerTestSuite struct {
	now   time.Time
	clk   *testclock.Clock
	store *inmem.Store
	hook  *test.Hook

	logger *logrus.Entry
	locale notify.Locale
}

func (s *CheckerTestSuite) SetUpTest(c *check.C) {
	s.now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.Local)
	s.clk = testclock.NewClock(s.now)
	s.store = inmem.NewStore()

	var logger *logrus.Logger
	logger, s.hook = test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	s.logger = logrus.NewEntry(logger)

	var err error
	s.locale, err = notify.LookupLocale("de")
	c.Assert(err, check.IsNil)
}

func (s *CheckerTestSuite) config(src LinkSource, mailer Mailer, recipients ...notify.Recipient) Config {
	return Config{
		URL:        pageURL,
		Source:     src,
		Store:      s.store,
		Mailer:     mailer,
		Recipients: recipients,
		Locale:     s.locale,
		Clock:      s.clk,
		Logger:     s.logger,
	}
}

func (s *CheckerTestSuite) TestFirstRunNotifiesEveryLink(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	links := []snapshot.Link{
		{Name: "a", URL: "https://x/a.pdf"},
		{Name: "b", URL: "https://x/b.pdf"},
		{Name: "c", URL: "https://x/c.pdf"},
	}
	src := mocks.NewMockLinkSource(ctrl)
	src.EXPECT().Links(gomock.Any(), pageURL).Return(links, nil)

	session := mocks.NewMockSession(ctrl)
	mailer := mocks.NewMockMailer(ctrl)
	mailer.EXPECT().Dial(gomock.Any()).Return(session, nil)

	var sent []notify.Mail
	session.EXPECT().Send(gomock.Any()).DoAndReturn(func(m notify.Mail) error {
		sent = append(sent, m)
		return nil
	}).Times(2)
	session.EXPECT().Close().Return(nil)

	alice := notify.Recipient{Name: "Alice", Address: "alice@example.org"}
	bob := notify.Recipient{Name: "Bob", Address: "bob@example.org"}
	chk, err := New(s.config(src, mailer, alice, bob))
	c.Assert(err, check.IsNil)

	report, err := chk.Run(context.TODO())
	c.Assert(err, check.IsNil)
	c.Assert(report.New, check.Equals, 3)
	c.Assert(report.Total, check.Equals, 3)
	c.Assert(report.Sent, check.DeepEquals, []notify.Recipient{alice, bob})

	c.Assert(sent, check.HasLen, 2)
	c.Assert(sent[0].To, check.Equals, alice)
	c.Assert(sent[0].Subject, check.Equals, "3 neue Gottesdienstpläne")
	c.Assert(strings.HasPrefix(sent[0].Body, "Hallo Alice,"), check.Equals, true)
	c.Assert(strings.Count(sent[0].Body, "[NEU]"), check.Equals, 3)
	c.Assert(strings.HasPrefix(sent[1].Body, "Hallo Bob,"), check.Equals, true)

	stored, err := s.store.Load(context.TODO())
	c.Assert(err, check.IsNil)
	c.Assert(stored.CapturedAt.Equal(s.now), check.Equals, true)
	c.Assert(stored.Records, check.HasLen, 3)
	for _, rec := range stored.Records {
		c.Assert(rec.FirstSeen.Equal(s.now), check.Equals, true)
	}
}

func (s *CheckerTestSuite) TestOneNewLink(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	planA := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	s.seed(c, time.Date(2024, 3, 9, 12, 0, 0, 0, time.Local), record("Plan A", "https://x/a.pdf", planA))

	src := mocks.NewMockLinkSource(ctrl)
	src.EXPECT().Links(gomock.Any(), pageURL).Return([]snapshot.Link{
		{Name: "Plan A", URL: "https://x/a.pdf"},
		{Name: "Plan B", URL: "https://x/b.pdf"},
	}, nil)

	session := mocks.NewMockSession(ctrl)
	mailer := mocks.NewMockMailer(ctrl)
	mailer.EXPECT().Dial(gomock.Any()).Return(session, nil)

	var mail notify.Mail
	session.EXPECT().Send(gomock.Any()).DoAndReturn(func(m notify.Mail) error {
		mail = m
		return nil
	})
	session.EXPECT().Close().Return(nil)

	chk, err := New(s.config(src, mailer, notify.Recipient{Name: "Alice", Address: "alice@example.org"}))
	c.Assert(err, check.IsNil)

	report, err := chk.Run(context.TODO())
	c.Assert(err, check.IsNil)
	c.Assert(report.New, check.Equals, 1)
	c.Assert(report.Total, check.Equals, 2)

	c.Assert(mail.Subject, check.Equals, "1 neuer Gottesdienstplan")
	c.Assert(strings.Contains(mail.Body, "▶ Plan A [seit 69 Tagen]\nhttps://x/a.pdf"), check.Equals, true)
	c.Assert(strings.Contains(mail.Body, "▶ Plan B [NEU]\nhttps://x/b.pdf"), check.Equals, true)
	c.Assert(strings.Contains(mail.Body, "Letzte Überprüfung: 09.03.2024 12:00:00"), check.Equals, true)

	stored, err := s.store.Load(context.TODO())
	c.Assert(err, check.IsNil)
	c.Assert(stored.Records, check.HasLen, 2)
	c.Assert(stored.Records[0].FirstSeen.Equal(planA), check.Equals, true)
	c.Assert(stored.Records[1].FirstSeen.Equal(s.now), check.Equals, true)
}

func (s *CheckerTestSuite) TestNoNewLinksSkipsMail(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.Local)
	second := time.Date(2024, 2, 1, 0, 0, 0, 0, time.Local)
	s.seed(c, second, record("a", "https://x/a.pdf", first), record("b", "https://x/b.pdf", second))

	src := mocks.NewMockLinkSource(ctrl)
	src.EXPECT().Links(gomock.Any(), pageURL).Return([]snapshot.Link{
		{Name: "b", URL: "https://x/b.pdf"},
		{Name: "a", URL: "https://x/a.pdf"},
	}, nil)

	// No expectations: dialing would fail the test.
	mailer := mocks.NewMockMailer(ctrl)

	chk, err := New(s.config(src, mailer, notify.Recipient{Name: "Alice", Address: "alice@example.org"}))
	c.Assert(err, check.IsNil)

	report, err := chk.Run(context.TODO())
	c.Assert(err, check.IsNil)
	c.Assert(report.New, check.Equals, 0)
	c.Assert(report.Sent, check.HasLen, 0)

	stored, err := s.store.Load(context.TODO())
	c.Assert(err, check.IsNil)
	c.Assert(stored.CapturedAt.Equal(s.now), check.Equals, true)
	c.Assert(stored.Records, check.HasLen, 2)
	c.Assert(stored.Records[0].Name, check.Equals, "b")
	c.Assert(stored.Records[0].FirstSeen.Equal(second), check.Equals, true)
	c.Assert(stored.Records[1].FirstSeen.Equal(first), check.Equals, true)
}

func (s *CheckerTestSuite) TestDryRun(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	src := mocks.NewMockLinkSource(ctrl)
	src.EXPECT().Links(gomock.Any(), pageURL).Return([]snapshot.Link{{Name: "a", URL: "https://x/a.pdf"}}, nil)

	alice := notify.Recipient{Name: "Alice", Address: "alice@example.org"}
	cfg := s.config(src, nil, alice)
	cfg.DryRun = true
	chk, err := New(cfg)
	c.Assert(err, check.IsNil)

	report, err := chk.Run(context.TODO())
	c.Assert(err, check.IsNil)
	c.Assert(report.New, check.Equals, 1)
	c.Assert(report.Sent, check.DeepEquals, []notify.Recipient{alice})
	c.Assert(s.logged("sent mail to Alice (alice@example.org)"), check.Equals, true)

	stored, err := s.store.Load(context.TODO())
	c.Assert(err, check.IsNil)
	c.Assert(stored.Records, check.HasLen, 1)
}

func (s *CheckerTestSuite) TestFetchFailureKeepsSnapshot(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	capturedAt := time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)
	s.seed(c, capturedAt, record("a", "https://x/a.pdf", capturedAt))

	for _, fetchErr := range []error{source.ErrFetch, source.ErrParse} {
		src := mocks.NewMockLinkSource(ctrl)
		src.EXPECT().Links(gomock.Any(), pageURL).Return(nil, fetchErr)

		chk, err := New(s.config(src, mocks.NewMockMailer(ctrl)))
		c.Assert(err, check.IsNil)

		report, err := chk.Run(context.TODO())
		c.Assert(errors.Is(err, fetchErr), check.Equals, true)
		c.Assert(report, check.IsNil)

		stored, err := s.store.Load(context.TODO())
		c.Assert(err, check.IsNil)
		c.Assert(stored.CapturedAt.Equal(capturedAt), check.Equals, true)
	}
}

func (s *CheckerTestSuite) TestSendFailureDoesNotBlockOthers(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	src := mocks.NewMockLinkSource(ctrl)
	src.EXPECT().Links(gomock.Any(), pageURL).Return([]snapshot.Link{{Name: "a", URL: "https://x/a.pdf"}}, nil)

	alice := notify.Recipient{Name: "Alice", Address: "alice@example.org"}
	bob := notify.Recipient{Name: "Bob", Address: "bob@example.org"}
	carol := notify.Recipient{Name: "Carol", Address: "carol@example.org"}

	session := mocks.NewMockSession(ctrl)
	mailer := mocks.NewMockMailer(ctrl)
	mailer.EXPECT().Dial(gomock.Any()).Return(session, nil)
	session.EXPECT().Send(gomock.Any()).DoAndReturn(func(m notify.Mail) error {
		if m.To == bob {
			return fmt.Errorf("%w: mailbox full", notify.ErrMail)
		}
		return nil
	}).Times(3)
	session.EXPECT().Close().Return(nil)

	chk, err := New(s.config(src, mailer, alice, bob, carol))
	c.Assert(err, check.IsNil)

	report, err := chk.Run(context.TODO())
	c.Assert(errors.Is(err, notify.ErrMail), check.Equals, true)
	c.Assert(err, check.ErrorMatches, "(?s).*recipient bob@example.org.*mailbox full.*")
	c.Assert(report, check.NotNil)
	c.Assert(report.Sent, check.DeepEquals, []notify.Recipient{alice, carol})

	stored, err := s.store.Load(context.TODO())
	c.Assert(err, check.IsNil)
	c.Assert(stored.Records, check.HasLen, 1)
}

func (s *CheckerTestSuite) TestLoginFailureStillPersists(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	src := mocks.NewMockLinkSource(ctrl)
	src.EXPECT().Links(gomock.Any(), pageURL).Return([]snapshot.Link{{Name: "a", URL: "https://x/a.pdf"}}, nil)

	mailer := mocks.NewMockMailer(ctrl)
	mailer.EXPECT().Dial(gomock.Any()).Return(nil, fmt.Errorf("%w: bad credentials", notify.ErrMail))

	chk, err := New(s.config(src, mailer,
		notify.Recipient{Name: "Alice", Address: "alice@example.org"},
		notify.Recipient{Name: "Bob", Address: "bob@example.org"},
	))
	c.Assert(err, check.IsNil)

	report, err := chk.Run(context.TODO())
	c.Assert(errors.Is(err, notify.ErrMail), check.Equals, true)
	c.Assert(report.Sent, check.HasLen, 0)

	_, err = s.store.Load(context.TODO())
	c.Assert(err, check.IsNil)
}

func (s *CheckerTestSuite) TestSendDelay(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	src := mocks.NewMockLinkSource(ctrl)
	src.EXPECT().Links(gomock.Any(), pageURL).Return([]snapshot.Link{{Name: "a", URL: "https://x/a.pdf"}}, nil)

	session := mocks.NewMockSession(ctrl)
	mailer := mocks.NewMockMailer(ctrl)
	mailer.EXPECT().Dial(gomock.Any()).Return(session, nil)
	session.EXPECT().Send(gomock.Any()).Return(nil).Times(3)
	session.EXPECT().Close().Return(nil)

	cfg := s.config(src, mailer,
		notify.Recipient{Name: "Alice", Address: "alice@example.org"},
		notify.Recipient{Name: "Bob", Address: "bob@example.org"},
		notify.Recipient{Name: "Carol", Address: "carol@example.org"},
	)
	cfg.SendDelay = 5 * time.Second
	chk, err := New(cfg)
	c.Assert(err, check.IsNil)

	type result struct {
		report *Report
		err    error
	}
	resCh := make(chan result, 1)
	go func() {
		report, err := chk.Run(context.TODO())
		resCh <- result{report, err}
	}()

	// Two pauses separate three sends.
	for i := 0; i < 2; i++ {
		c.Assert(s.clk.WaitAdvance(5*time.Second, time.Second, 1), check.IsNil)
	}

	select {
	case res := <-resCh:
		c.Assert(res.err, check.IsNil)
		c.Assert(res.report.Sent, check.HasLen, 3)
	case <-time.After(5 * time.Second):
		c.Fatal("timed out waiting for the run to complete")
	}
}

func (s *CheckerTestSuite) TestCorruptedSnapshotStartsOver(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	s.store.SetDocument([]byte("{broken"))

	src := mocks.NewMockLinkSource(ctrl)
	src.EXPECT().Links(gomock.Any(), pageURL).Return([]snapshot.Link{{Name: "a", URL: "https://x/a.pdf"}}, nil)

	cfg := s.config(src, nil, notify.Recipient{Name: "Alice", Address: "alice@example.org"})
	cfg.DryRun = true
	chk, err := New(cfg)
	c.Assert(err, check.IsNil)

	report, err := chk.Run(context.TODO())
	c.Assert(err, check.IsNil)
	c.Assert(report.New, check.Equals, 1)
	c.Assert(s.logged("snapshot is corrupted; starting from scratch"), check.Equals, true)
}

func (s *CheckerTestSuite) TestPartiallyCorruptedSnapshot(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	s.store.SetDocument([]byte(`{
  "date": "2024-03-01T06:00:00",
  "links": [
    {"name": "a", "url": "https://x/a.pdf", "pub_date": "2024-01-01T00:00:00"},
    {"name": "b", "url": "https://x/b.pdf", "pub_date": "[???]"}
  ]
}`))

	src := mocks.NewMockLinkSource(ctrl)
	src.EXPECT().Links(gomock.Any(), pageURL).Return([]snapshot.Link{
		{Name: "a", URL: "https://x/a.pdf"},
		{Name: "b", URL: "https://x/b.pdf"},
	}, nil)

	cfg := s.config(src, nil)
	cfg.DryRun = true
	chk, err := New(cfg)
	c.Assert(err, check.IsNil)

	report, err := chk.Run(context.TODO())
	c.Assert(err, check.IsNil)
	// The dropped record reappears as new.
	c.Assert(report.New, check.Equals, 1)
	c.Assert(s.logged(`date "[???]" of stored record 1 could not be parsed; dropping it`), check.Equals, true)
}

func (s *CheckerTestSuite) TestConfigValidation(c *check.C) {
	_, err := New(Config{})
	c.Assert(err, check.ErrorMatches, "(?s)checker: config validation failed: .*page URL has not been provided.*")

	// Dry-run mode does not need a mailer.
	cfg := s.config(mocks.NewMockLinkSource(gomock.NewController(c)), nil)
	cfg.DryRun = true
	_, err = New(cfg)
	c.Assert(err, check.IsNil)
}

func (s *CheckerTestSuite) seed(c *check.C, capturedAt time.Time, records ...snapshot.LinkRecord) {
	_, err := s.store.Save(context.TODO(), &snapshot.Snapshot{CapturedAt: capturedAt, Records: records})
	c.Assert(err, check.IsNil)
}

func (s *CheckerTestSuite) logged(msg string) bool {
	for _, e := range s.hook.AllEntries() {
		if e.Message == msg {
			return true
		}
	}
	return false
}

func record(name, url string, firstSeen time.Time) snapshot.LinkRecord {
	return snapshot.LinkRecord{
		Link:      snapshot.Link{Name: name, URL: url},
		FirstSeen: firstSeen,
	}
}
