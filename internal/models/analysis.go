package models

import "time"

// IncidentAnalysis is the triage produced for a correlation by the LLM agent.
type IncidentAnalysis struct {
	CorrelationID   string           `json:"correlation_id"`
	Title           string           `json:"title"`
	Severity        Severity         `json:"severity"`
	AlertCount      int              `json:"alert_count"`
	RootCause       string           `json:"root_cause"`
	Confidence      string           `json:"confidence"`
	Reasoning       string           `json:"reasoning"`
	Timeline        []TimelineEvent  `json:"timeline"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Provider        string           `json:"provider"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

type TimelineEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Details   string    `json:"details"`
}

type Recommendation struct {
	Priority string `json:"priority"`
	Action   string `json:"action"`
	Details  string `json:"details,omitempty"`
	Command  string `json:"command,omitempty"`
}
