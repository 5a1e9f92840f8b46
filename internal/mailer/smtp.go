package mailer

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/rs/zerolog"
)

// ErrDelivery marks a transient SMTP failure. Callers compensate and retry;
// anything else from this package is a configuration problem.
var ErrDelivery = errors.New("smtp delivery failed")

const smtpTimeout = 30 * time.Second

type Config struct {
	Host             string
	Port             int
	Username         string
	Password         string
	Sender           string
	StartTLSRequired bool
}

// Mailer sends transactional email over SMTP.
type Mailer interface {
	Send(to, subject, body string) error
}

type smtpMailer struct {
	cfg    Config
	logger zerolog.Logger
}

func New(cfg Config, logger zerolog.Logger) Mailer {
	return &smtpMailer{cfg: cfg, logger: logger.With().Str("service", "Mailer").Logger()}
}

func (m *smtpMailer) Send(to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)

	conn, err := net.DialTimeout("tcp", addr, smtpTimeout)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrDelivery, addr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(smtpTimeout)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: set deadline: %v", ErrDelivery, err)
	}

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("%w: handshake: %v", ErrDelivery, err)
	}
	defer func() { _ = client.Close() }()

	if m.cfg.StartTLSRequired {
		if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
			return fmt.Errorf("%w: starttls: %v", ErrDelivery, err)
		}
	}

	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("%w: auth: %v", ErrDelivery, err)
		}
	}

	if err := client.Mail(m.cfg.Sender); err != nil {
		return fmt.Errorf("%w: mail from: %v", ErrDelivery, err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("%w: rcpt to: %v", ErrDelivery, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("%w: data: %v", ErrDelivery, err)
	}
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s", m.cfg.Sender, to, subject, body)
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("%w: write body: %v", ErrDelivery, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: close body: %v", ErrDelivery, err)
	}

	if err := client.Quit(); err != nil {
		m.logger.Warn().Err(err).Msg("SMTP quit failed after accepted message")
	}
	m.logger.Info().Str("to", to).Str("subject", subject).Msg("Email sent")
	return nil
}
