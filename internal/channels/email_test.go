package channels

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailBuildsPlainTextMessage(t *testing.T) {
	mail := NewEmail("oncall", EmailConfig{
		Host: "smtp.example.com",
		From: "latencyguard@example.com",
		To:   []string{"sre@example.com", "lead@example.com"},
		TLS:  true,
	})
	assert.Equal(t, 465, mail.cfg.Port)

	var sent string
	mail.send = func(_ context.Context, cfg EmailConfig, msg []byte) error {
		assert.Equal(t, "smtp.example.com", cfg.Host)
		sent = string(msg)
		return nil
	}

	d := testDigest(2)
	require.NoError(t, mail.Deliver(context.Background(), d))
	assert.Contains(t, sent, "To: sre@example.com,lead@example.com\r\n")
	assert.Contains(t, sent, "Subject: "+d.Title+" (2)\r\n")
	assert.Contains(t, sent, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	assert.Contains(t, sent, strings.ReplaceAll(d.Text(), "\n", "\r\n"))
}

func TestEmailDefaultsToSubmissionPort(t *testing.T) {
	mail := NewEmail("oncall", EmailConfig{Host: "smtp.example.com", To: []string{"a@example.com"}})
	assert.Equal(t, 587, mail.cfg.Port)
}

func TestEmailPropagatesSendFailure(t *testing.T) {
	mail := NewEmail("oncall", EmailConfig{Host: "smtp.example.com", To: []string{"a@example.com"}})
	mail.send = func(context.Context, EmailConfig, []byte) error { return errors.New("535 auth failed") }
	assert.EqualError(t, mail.Deliver(context.Background(), testDigest(1)), "535 auth failed")
}

func TestEmailRequiresReceivers(t *testing.T) {
	mail := NewEmail("oncall", EmailConfig{Host: "smtp.example.com"})
	assert.Error(t, mail.Deliver(context.Background(), testDigest(1)))
}
