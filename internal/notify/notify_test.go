package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emirozbir/erp-sentinel/internal/config"
	"github.com/emirozbir/erp-sentinel/internal/models"
)

type stubChannel struct {
	name string
	err  error
	sent [][]string
}

func (s *stubChannel) Name() string { return s.name }

func (s *stubChannel) Send(ctx context.Context, recipients []string, subject, body string) error {
	s.sent = append(s.sent, recipients)
	return s.err
}

func TestGatewayRoutesByName(t *testing.T) {
	email := &stubChannel{name: ChannelEmail}
	chat := &stubChannel{name: ChannelChat, err: errors.New("boom")}
	g := NewGateway(email, chat, nil)

	assert.Equal(t, []string{"chat", "email"}, g.Channels())
	require.NoError(t, g.Send(context.Background(), ChannelEmail, []string{"dba@example.com"}, "s", "b"))
	assert.Len(t, email.sent, 1)
	assert.EqualError(t, g.Send(context.Background(), ChannelChat, nil, "s", "b"), "boom")

	err := NewGateway().Send(context.Background(), ChannelEmail, nil, "s", "b")
	assert.ErrorIs(t, err, ErrChannelNotConfigured)
}

func TestRuleChannels(t *testing.T) {
	assert.Equal(t, []string{"email", "chat"}, RuleChannels(&models.AlertEscalationRule{NotifyEmail: true, NotifyChat: true}))
	assert.Equal(t, []string{"chat"}, RuleChannels(&models.AlertEscalationRule{NotifyChat: true}))
}

func TestFormatEscalation(t *testing.T) {
	alert := &models.Alert{
		ID: "a-1", Type: "High CPU", Severity: models.SeverityCritical,
		Message: "High CPU on SRV-ERP01", Resource: "SRV-ERP01",
		CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	rule := &models.AlertEscalationRule{Name: "critical", Tiers: []models.EscalationTier{{Level: 1}, {Level: 2}}}

	subject, body := FormatEscalation(alert, rule, rule.Tiers[1], 47*time.Minute)
	assert.Equal(t, "[CRITICAL] Escalation tier 2 (final): High CPU", subject)
	assert.Contains(t, body, "Open for: 47 minutes")
	assert.Contains(t, body, "Resource: SRV-ERP01")
	assert.Contains(t, body, "tier 2 of 2")
}

func TestChatChannelPostsJSON(t *testing.T) {
	var got chatMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := NewChatChannel(config.ChatConfig{WebhookURL: server.URL})
	require.NoError(t, ch.Send(context.Background(), []string{"@dba-oncall"}, "subject", "body"))
	assert.Equal(t, "subject", got.Title)
	assert.True(t, strings.HasPrefix(got.Text, "subject\n\nbody"))
	assert.Equal(t, []string{"@dba-oncall"}, got.Recipients)
}

func TestChatChannelReportsStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	err := NewChatChannel(config.ChatConfig{WebhookURL: server.URL}).Send(context.Background(), nil, "s", "b")
	assert.ErrorContains(t, err, "429")
}

func TestBuildMessageUsesCRLF(t *testing.T) {
	msg := string(buildMessage("sentinel@example.com", []string{"a@example.com", "b@example.com"}, "subj", "line1\nline2", time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)))
	assert.Contains(t, msg, "To: a@example.com, b@example.com\r\n")
	assert.True(t, strings.HasSuffix(msg, "line1\r\nline2"))
}

func TestEmailChannelFailsFastOnDialError(t *testing.T) {
	ch := NewEmailChannel(config.EmailConfig{Host: "127.0.0.1", Port: 1, From: "sentinel@example.com"})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := ch.Send(ctx, []string{"dba@example.com"}, "s", "b")
	assert.ErrorContains(t, err, "dial")
}
