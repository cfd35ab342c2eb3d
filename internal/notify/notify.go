// Package notify delivers escalation messages over email and chat.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/emirozbir/erp-sentinel/internal/models"
)

const (
	ChannelEmail = "email"
	ChannelChat  = "chat"
)

var ErrChannelNotConfigured = errors.New("notification channel not configured")

// Channel is one delivery transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, recipients []string, subject, body string) error
}

// Gateway routes messages to channels by name.
type Gateway struct {
	channels map[string]Channel
}

func NewGateway(channels ...Channel) *Gateway {
	g := &Gateway{channels: make(map[string]Channel)}
	for _, ch := range channels {
		if ch != nil {
			g.channels[ch.Name()] = ch
		}
	}
	return g
}

func (g *Gateway) Send(ctx context.Context, channel string, recipients []string, subject, body string) error {
	ch, ok := g.channels[channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelNotConfigured, channel)
	}
	return ch.Send(ctx, recipients, subject, body)
}

// Channels lists the configured channel names.
func (g *Gateway) Channels() []string {
	names := make([]string, 0, len(g.channels))
	for name := range g.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RuleChannels returns the channel names a rule asks for, in a fixed order.
func RuleChannels(rule *models.AlertEscalationRule) []string {
	var names []string
	if rule.NotifyEmail {
		names = append(names, ChannelEmail)
	}
	if rule.NotifyChat {
		names = append(names, ChannelChat)
	}
	return names
}

// FormatEscalation renders the subject and body of a tier notification.
func FormatEscalation(alert *models.Alert, rule *models.AlertEscalationRule, tier models.EscalationTier, elapsed time.Duration) (string, string) {
	final := ""
	if tier.Level == len(rule.Tiers) {
		final = " (final)"
	}
	subject := fmt.Sprintf("[%s] Escalation tier %d%s: %s", strings.ToUpper(string(alert.Severity)), tier.Level, final, alert.Type)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", alert.Message)
	fmt.Fprintf(&b, "Alert:    %s\n", alert.ID)
	fmt.Fprintf(&b, "Type:     %s\n", alert.Type)
	fmt.Fprintf(&b, "Severity: %s\n", alert.Severity)
	if alert.Resource != "" {
		fmt.Fprintf(&b, "Resource: %s\n", alert.Resource)
	}
	if alert.Metric != "" {
		fmt.Fprintf(&b, "Metric:   %s\n", alert.Metric)
	}
	fmt.Fprintf(&b, "Raised:   %s\n", alert.CreatedAt.UTC().Format(time.RFC1123))
	fmt.Fprintf(&b, "Open for: %d minutes without acknowledgement\n", int(elapsed.Minutes()))
	fmt.Fprintf(&b, "Rule:     %s (tier %d of %d)\n", rule.Name, tier.Level, len(rule.Tiers))
	return subject, b.String()
}
