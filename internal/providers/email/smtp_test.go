package email

import (
	"context"
	"net/smtp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendTemplateRendersEmbeddedTemplate(t *testing.T) {
	provider, err := NewSMTP(Config{Host: "smtp.local", Port: 2525, From: "opname@example.com"})
	require.NoError(t, err)

	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
	)
	provider.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		assert.Nil(t, a)
		return nil
	}

	err = provider.SendTemplate(context.Background(), []string{"rina@example.com"}, "session_completed", map[string]any{
		"subject":        "Opname done",
		"branch_name":    "Jakarta",
		"completed_by":   "Sari",
		"session_type":   "opening",
		"session_date":   "2026-03-02",
		"total_expected": 50,
		"discrepancies":  6,
	})
	require.NoError(t, err)
	assert.Equal(t, "smtp.local:2525", gotAddr)
	assert.Equal(t, []string{"rina@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Opname done\r\n")
	assert.Contains(t, gotMsg, "Stock opname completed at Jakarta")
	assert.Contains(t, gotMsg, "<strong>6</strong>")
}

func TestSendRequiresRecipients(t *testing.T) {
	provider, err := NewSMTP(Config{Host: "smtp.local", Port: 25})
	require.NoError(t, err)
	assert.ErrorIs(t, provider.Send(context.Background(), nil, "s", "b"), ErrNoRecipients)
}

func TestSendTemplateUnknownName(t *testing.T) {
	provider, err := NewSMTP(Config{Host: "smtp.local", Port: 25})
	require.NoError(t, err)
	assert.Error(t, provider.SendTemplate(context.Background(), []string{"a@example.com"}, "unknown_template", nil))
}
