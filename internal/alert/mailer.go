package alert

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/safescope/monitor/internal/monitor"
)

// SMTPConfig holds the outbound mail parameters.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Mailer delivers alert messages to parents over SMTP with STARTTLS.
type Mailer struct {
	cfg    SMTPConfig
	send   sendFunc
	logger *zap.Logger
}

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// NewMailer builds a Mailer.
func NewMailer(cfg SMTPConfig, logger *zap.Logger) (*Mailer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("smtp from address is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{
		cfg:    cfg,
		send:   smtp.SendMail,
		logger: logger,
	}, nil
}

// Send composes and delivers the alert email to the parent.
// Messages for non-risky visits or without a parent address are dropped.
func (m *Mailer) Send(ctx context.Context, msg monitor.AlertMessage) error {
	if msg.Visit.Label != monitor.LabelRisky {
		m.logger.Debug("skipping alert for non-risky visit", zap.String("visit_id", msg.Visit.ID))
		return nil
	}
	if msg.Visit.ParentEmail == "" {
		m.logger.Error("cannot send alert: parent email is empty", zap.String("visit_id", msg.Visit.ID))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("alert send canceled: %w", err)
	}

	subject, body := Compose(msg)
	raw := buildMIME(m.cfg.From, msg.Visit.ParentEmail, subject, body)

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := m.send(addr, auth, m.cfg.From, []string{msg.Visit.ParentEmail}, raw); err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}

	m.logger.Info("alert email sent",
		zap.String("parent", msg.Visit.ParentEmail),
		zap.String("visit_id", msg.Visit.ID),
	)
	return nil
}

func buildMIME(from, to, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}
