package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const MaxEscalationTiers = 3

var ErrInvalidRule = errors.New("invalid escalation rule")

// EscalationTier is one step of a rule. Level is 1-based.
type EscalationTier struct {
	Level      int      `json:"level" yaml:"level"`
	AfterMins  int      `json:"after_minutes" yaml:"after_minutes"`
	Recipients []string `json:"recipients" yaml:"recipients"`
}

type AlertEscalationRule struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	AlertType   string           `json:"alert_type,omitempty"`
	MinSeverity Severity         `json:"min_severity"`
	Tiers       []EscalationTier `json:"tiers"`
	NotifyEmail bool             `json:"notify_email"`
	NotifyChat  bool             `json:"notify_chat"`
	Enabled     bool             `json:"enabled"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Matches reports whether the rule applies to the alert's type and severity.
func (r *AlertEscalationRule) Matches(alert *Alert) bool {
	if r.AlertType != "" && !strings.EqualFold(r.AlertType, alert.Type) {
		return false
	}
	return alert.Severity.AtLeast(r.MinSeverity)
}

// Validate normalises tier levels to their position and checks that
// thresholds strictly increase, so tiers can only fire in order.
func (r *AlertEscalationRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if r.MinSeverity == "" {
		r.MinSeverity = SeverityInfo
	}
	if !r.MinSeverity.Valid() {
		return fmt.Errorf("%w: unknown min_severity %q", ErrInvalidRule, r.MinSeverity)
	}
	if len(r.Tiers) == 0 || len(r.Tiers) > MaxEscalationTiers {
		return fmt.Errorf("%w: between 1 and %d tiers required", ErrInvalidRule, MaxEscalationTiers)
	}
	if !r.NotifyEmail && !r.NotifyChat {
		return fmt.Errorf("%w: at least one channel must be enabled", ErrInvalidRule)
	}
	prev := -1
	for i := range r.Tiers {
		tier := &r.Tiers[i]
		tier.Level = i + 1
		if tier.AfterMins < 0 {
			return fmt.Errorf("%w: tier %d threshold must not be negative", ErrInvalidRule, tier.Level)
		}
		if tier.AfterMins <= prev {
			return fmt.Errorf("%w: tier %d threshold must exceed tier %d", ErrInvalidRule, tier.Level, tier.Level-1)
		}
		if len(tier.Recipients) == 0 {
			return fmt.Errorf("%w: tier %d has no recipients", ErrInvalidRule, tier.Level)
		}
		prev = tier.AfterMins
	}
	return nil
}

// AlertEscalation is the append-only audit record of one tier firing.
type AlertEscalation struct {
	ID             string    `json:"id"`
	AlertID        string    `json:"alert_id"`
	RuleID         string    `json:"rule_id"`
	Tier           int       `json:"tier"`
	Recipients     []string  `json:"recipients"`
	ElapsedMinutes int       `json:"elapsed_minutes"`
	EmailSent      bool      `json:"email_sent"`
	ChatSent       bool      `json:"chat_sent"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	EscalatedAt    time.Time `json:"escalated_at"`
}
