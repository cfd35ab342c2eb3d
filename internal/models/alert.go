package models

import (
	"fmt"
	"strings"
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rank orders severities so that a higher rank is more severe. Unknown
// severities rank below Info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityCritical:
		return 3
	default:
		return 0
	}
}

func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// AtLeast reports whether s is as severe as min.
func (s Severity) AtLeast(min Severity) bool {
	return s.Rank() >= min.Rank()
}

func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

func ParseSeverity(value string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(value)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown severity %q", value)
	}
	return s, nil
}

type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "active"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusActive, AlertStatusAcknowledged, AlertStatusResolved:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Active may go to Acknowledged or straight to Resolved; Acknowledged may only
// be resolved; Resolved is terminal.
func (s AlertStatus) CanTransition(next AlertStatus) bool {
	switch s {
	case AlertStatusActive:
		return next == AlertStatusAcknowledged || next == AlertStatusResolved
	case AlertStatusAcknowledged:
		return next == AlertStatusResolved
	}
	return false
}

type Alert struct {
	ID             string                 `json:"id"`
	Type           string                 `json:"type"`
	Severity       Severity               `json:"severity"`
	Message        string                 `json:"message"`
	Metric         string                 `json:"metric"`
	Resource       string                 `json:"resource,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	Status         AlertStatus            `json:"status"`
	CreatedAt      time.Time              `json:"created_at"`
	AcknowledgedAt *time.Time             `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string                 `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time             `json:"resolved_at,omitempty"`
	ResolvedBy     string                 `json:"resolved_by,omitempty"`
	CorrelationID  string                 `json:"correlation_id,omitempty"`
}

// Unacknowledged reports whether the alert is still eligible for escalation.
func (a *Alert) Unacknowledged() bool {
	return a.Status == AlertStatusActive && a.AcknowledgedAt == nil
}

// AlertFilter narrows ListAlerts. Zero values mean "any".
type AlertFilter struct {
	Status AlertStatus
	Type   string
	Limit  int
}
