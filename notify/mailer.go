package notify

import (
	"context"
	"errors"
	"fmt"
	"gopkg.in/gomail.v2"
	"time"
)

// ErrMail is wrapped by every login or delivery failure.
var ErrMail = errors.New("mail delivery failed")

// Mail is one outgoing message.
type Mail struct {
	To      Recipient
	Subject string
	Body    string
	Date    time.Time
}

// Session is an authenticated connection to a mail relay.
type Session interface {
	// Send delivers a single message.
	Send(m Mail) error

	// Close terminates the session.
	Close() error
}

// SMTPConfig describes the relay used to send notifications.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string

	// The From address. Defaults to User.
	From string
}

// SMTPMailer opens sessions on an SMTP relay with username/password
// authentication.
type SMTPMailer struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPMailer returns a mailer for the relay described by cfg.
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	from := cfg.From
	if from == "" {
		from = cfg.User
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:   from,
	}
}

// Dial connects and logs in to the relay. The dialer bounds the connection
// attempt with its own timeout; ctx is only checked before dialing.
func (m *SMTPMailer) Dial(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMail, err)
	}

	sc, err := m.dialer.Dial()
	if err != nil {
		return nil, fmt.Errorf("%w: login to %s:%d: %v", ErrMail, m.dialer.Host, m.dialer.Port, err)
	}
	return &smtpSession{sender: sc, from: m.from}, nil
}

type smtpSession struct {
	sender gomail.SendCloser
	from   string
}

func (s *smtpSession) Send(m Mail) error {
	msg := gomail.NewMessage(gomail.SetCharset("UTF-8"))
	msg.SetHeader("From", s.from)
	msg.SetAddressHeader("To", m.To.Address, m.To.Name)
	msg.SetHeader("Subject", m.Subject)
	msg.SetDateHeader("Date", m.Date)
	msg.SetBody("text/plain", m.Body)

	if err := gomail.Send(s.sender, msg); err != nil {
		return fmt.Errorf("%w: send to %s: %v", ErrMail, m.To.Address, err)
	}
	return nil
}

func (s *smtpSession) Close() error {
	return s.sender.Close()
}
