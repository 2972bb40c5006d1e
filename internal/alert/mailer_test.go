package alert

import (
	"context"
	"errors"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/safescope/monitor/internal/monitor"
)

type sendCapture struct {
	addr string
	from string
	to   []string
	msg  []byte
	auth smtp.Auth
	err  error
	hits int
}

func (c *sendCapture) fn(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	c.hits++
	c.addr = addr
	c.auth = auth
	c.from = from
	c.to = to
	c.msg = msg
	return c.err
}

func newTestMailer(t *testing.T, cfg SMTPConfig) (*Mailer, *sendCapture) {
	t.Helper()

	m, err := NewMailer(cfg, nil)
	require.NoError(t, err)
	capture := &sendCapture{}
	m.send = capture.fn
	return m, capture
}

func TestMailerRequiresHostAndFrom(t *testing.T) {
	t.Parallel()

	_, err := NewMailer(SMTPConfig{From: "alerts@safescope.io"}, nil)
	require.Error(t, err)

	_, err = NewMailer(SMTPConfig{Host: "smtp.example.com"}, nil)
	require.Error(t, err)
}

func TestMailerSendsRiskyAlert(t *testing.T) {
	t.Parallel()

	m, capture := newTestMailer(t, SMTPConfig{
		Host:     "smtp.example.com",
		Port:     2525,
		Username: "user",
		Password: "pass",
		From:     "alerts@safescope.io",
	})

	err := m.Send(context.Background(), monitor.AlertMessage{Visit: riskyVisit()})
	require.NoError(t, err)
	require.Equal(t, 1, capture.hits)
	require.Equal(t, "smtp.example.com:2525", capture.addr)
	require.Equal(t, "alerts@safescope.io", capture.from)
	require.Equal(t, []string{"parent@example.com"}, capture.to)
	require.NotNil(t, capture.auth)
	require.Contains(t, string(capture.msg), "Subject: Risky Activity Detected: Some Forum\r\n")
	require.Contains(t, string(capture.msg), "To: parent@example.com\r\n")
}

func TestMailerSkipsAuthWithoutUsername(t *testing.T) {
	t.Parallel()

	m, capture := newTestMailer(t, SMTPConfig{Host: "smtp.example.com", From: "alerts@safescope.io"})

	err := m.Send(context.Background(), monitor.AlertMessage{Visit: riskyVisit()})
	require.NoError(t, err)
	require.Nil(t, capture.auth)
	require.Equal(t, "smtp.example.com:587", capture.addr)
}

func TestMailerDropsNonRiskyMessages(t *testing.T) {
	t.Parallel()

	m, capture := newTestMailer(t, SMTPConfig{Host: "smtp.example.com", From: "alerts@safescope.io"})

	visit := riskyVisit()
	visit.Label = monitor.LabelPartialRisky
	require.NoError(t, m.Send(context.Background(), monitor.AlertMessage{Visit: visit}))

	visit.Label = monitor.LabelRisky
	visit.ParentEmail = ""
	require.NoError(t, m.Send(context.Background(), monitor.AlertMessage{Visit: visit}))

	require.Equal(t, 0, capture.hits)
}

func TestMailerPropagatesTransportErrors(t *testing.T) {
	t.Parallel()

	m, capture := newTestMailer(t, SMTPConfig{Host: "smtp.example.com", From: "alerts@safescope.io"})
	capture.err = errors.New("connection refused")

	err := m.Send(context.Background(), monitor.AlertMessage{Visit: riskyVisit()})
	require.Error(t, err)
}

func TestMailerHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	m, capture := newTestMailer(t, SMTPConfig{Host: "smtp.example.com", From: "alerts@safescope.io"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Send(ctx, monitor.AlertMessage{Visit: riskyVisit()})
	require.Error(t, err)
	require.Equal(t, 0, capture.hits)
}
