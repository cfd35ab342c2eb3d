package models

import "time"

type CorrelationStatus string

const (
	CorrelationStatusOpen     CorrelationStatus = "open"
	CorrelationStatusResolved CorrelationStatus = "resolved"
	CorrelationStatusClosed   CorrelationStatus = "closed"
)

func (s CorrelationStatus) Valid() bool {
	switch s {
	case CorrelationStatusOpen, CorrelationStatusResolved, CorrelationStatusClosed:
		return true
	}
	return false
}

// AlertCorrelation groups alerts believed to share a root cause. Members point
// at the correlation through Alert.CorrelationID; the correlation holds no
// alert references itself.
type AlertCorrelation struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Severity        Severity          `json:"severity"`
	Status          CorrelationStatus `json:"status"`
	FirstDetectedAt time.Time         `json:"first_detected_at"`
	AlertCount      int               `json:"alert_count"`
	Confidence      int               `json:"confidence"`
	Reason          string            `json:"reason"`
	ResolvedAt      *time.Time        `json:"resolved_at,omitempty"`
	ClosedAt        *time.Time        `json:"closed_at,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}
