// Package alert notifies operators about conditions that need a human, such
// as a relation model circuit breaker opening.
package alert

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/soundprediction/newsdedup/pkg/config"
)

// Alerter delivers one notification.
type Alerter interface {
	Alert(subject, message string) error
}

// New returns an EmailAlerter when alerting is enabled with an SMTP host and
// at least one recipient; otherwise alerts go to logger.
func New(cfg config.AlertConfig, logger *slog.Logger) Alerter {
	if !cfg.Enabled || cfg.SMTPHost == "" || len(cfg.To) == 0 {
		return NewLogAlerter(logger)
	}
	return NewEmailAlerter(cfg)
}

var sendMail = smtp.SendMail

// EmailAlerter mails alerts through an SMTP relay with PLAIN auth.
type EmailAlerter struct {
	cfg config.AlertConfig
	now func() time.Time
}

func NewEmailAlerter(cfg config.AlertConfig) *EmailAlerter {
	return &EmailAlerter{cfg: cfg, now: time.Now}
}

// Alert sends the mail. It is a no-op when the config is disabled.
func (a *EmailAlerter) Alert(subject, message string) error {
	if !a.cfg.Enabled {
		return nil
	}
	var auth smtp.Auth
	if a.cfg.Username != "" {
		auth = smtp.PlainAuth("", a.cfg.Username, a.cfg.Password, a.cfg.SMTPHost)
	}
	port := a.cfg.SMTPPort
	if port == 0 {
		port = 25
	}
	addr := a.cfg.SMTPHost + ":" + strconv.Itoa(port)
	if err := sendMail(addr, auth, a.cfg.From, a.cfg.To, a.compose(subject, message)); err != nil {
		return fmt.Errorf("send alert to %s: %w", addr, err)
	}
	return nil
}

func (a *EmailAlerter) compose(subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", a.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(a.cfg.To, ","))
	fmt.Fprintf(&b, "Date: %s\r\n", a.now().Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Subject: [newsdedup] %s\r\n", subject)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// LogAlerter logs alerts at error level.
type LogAlerter struct {
	logger *slog.Logger
}

func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Alert(subject, message string) error {
	a.logger.Error("alert: "+subject, "detail", message)
	return nil
}
