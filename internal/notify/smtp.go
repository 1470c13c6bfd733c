// Package notify delivers outbound billing email over SMTP.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/gomail.v2"
)

// SMTPConfig holds the relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Email is one plain-text message.
type Email struct {
	To      string
	Subject string
	Body    string
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender sends email through a relay.
type SMTPSender struct {
	from   string
	dialer dialer
}

// NewSMTPSender configures the sender. gomail skips AUTH when Username is
// empty, so local relays such as Mailpit need no credentials.
func NewSMTPSender(cfg SMTPConfig) (*SMTPSender, error) {
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, errors.New("notify: smtp host and port required")
	}
	if cfg.From == "" {
		return nil, errors.New("notify: sender address required")
	}
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return &SMTPSender{from: cfg.From, dialer: d}, nil
}

// Send delivers e. gomail has no context support; cancellation is only
// checked before dialing.
func (s *SMTPSender) Send(ctx context.Context, e Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := s.Build(e)
	if err != nil {
		return err
	}
	if err := s.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("notify: send to %s: %w", e.To, err)
	}
	return nil
}

// Build renders e into a MIME message.
func (s *SMTPSender) Build(e Email) (*gomail.Message, error) {
	to := strings.TrimSpace(e.To)
	if to == "" || !strings.Contains(to, "@") {
		return nil, fmt.Errorf("notify: invalid recipient %q", e.To)
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", e.Subject)
	m.SetBody("text/plain", e.Body)
	return m, nil
}
