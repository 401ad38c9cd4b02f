package email

import (
	"crypto/tls"
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

// SMTPConfig holds the outgoing mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Sender   string
}

// SMTPMailer sends plain text email through an SMTP server.
type SMTPMailer struct {
	cfg SMTPConfig
}

func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	if cfg.Sender == "" {
		cfg.Sender = cfg.User
	}
	return &SMTPMailer{cfg: cfg}
}

// SendEmail sends a plain text email using SMTP.
func (m *SMTPMailer) SendEmail(to, subject, body string) error {
	if m.cfg.Host == "" {
		return fmt.Errorf("SMTP host is not configured")
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.Sender)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	d := gomail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.User, m.cfg.Password)
	d.TLSConfig = &tls.Config{ServerName: m.cfg.Host}

	if err := d.DialAndSend(msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	logrus.WithField("to", to).Info("Email sent")
	return nil
}

// LogMailer writes emails to the log instead of sending them. It is used
// when no SMTP host is configured.
type LogMailer struct{}

// The body may carry secrets such as reset links, so it is only logged at
// debug level.
func (LogMailer) SendEmail(to, subject, body string) error {
	entry := logrus.WithFields(logrus.Fields{
		"to":      to,
		"subject": subject,
	})
	entry.Info("Email delivery disabled, message not sent")
	entry.WithField("body", body).Debug("Unsent email body")
	return nil
}
