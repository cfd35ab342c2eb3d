package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/emirozbir/erp-sentinel/internal/models"
)

// RecordEscalation appends an escalation record. A second record for the same
// (alert, rule, tier) is rejected with ErrAlreadyEscalated.
func (db *DB) RecordEscalation(ctx context.Context, e *models.AlertEscalation) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.EscalatedAt = dbTime(e.EscalatedAt)

	recipients, err := json.Marshal(e.Recipients)
	if err != nil {
		return fmt.Errorf("failed to marshal recipients: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO alert_escalations (
			id, alert_id, rule_id, tier, recipients, elapsed_minutes,
			email_sent, chat_sent, error_message, escalated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AlertID, e.RuleID, e.Tier, string(recipients), e.ElapsedMinutes,
		boolInt(e.EmailSent), boolInt(e.ChatSent), e.ErrorMessage, e.EscalatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyEscalated
	}
	if err != nil {
		return fmt.Errorf("failed to insert escalation: %w", err)
	}
	return nil
}

// FiredTiers returns the set of tiers already recorded for (alert, rule).
func (db *DB) FiredTiers(ctx context.Context, alertID, ruleID string) (map[int]bool, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT tier FROM alert_escalations WHERE alert_id = ? AND rule_id = ?`,
		alertID, ruleID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query fired tiers: %w", err)
	}
	defer rows.Close()

	fired := make(map[int]bool)
	for rows.Next() {
		var tier int
		if err := rows.Scan(&tier); err != nil {
			return nil, err
		}
		fired[tier] = true
	}
	return fired, rows.Err()
}

// ListEscalations returns the escalation history of an alert in firing order.
func (db *DB) ListEscalations(ctx context.Context, alertID string) ([]models.AlertEscalation, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, alert_id, rule_id, tier, recipients, elapsed_minutes,
		       email_sent, chat_sent, error_message, escalated_at
		FROM alert_escalations
		WHERE alert_id = ?
		ORDER BY escalated_at, tier`, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to query escalations: %w", err)
	}
	defer rows.Close()

	escalations := []models.AlertEscalation{}
	for rows.Next() {
		var (
			e          models.AlertEscalation
			recipients string
		)
		err := rows.Scan(
			&e.ID, &e.AlertID, &e.RuleID, &e.Tier, &recipients, &e.ElapsedMinutes,
			&e.EmailSent, &e.ChatSent, &e.ErrorMessage, &e.EscalatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}
		if err := json.Unmarshal([]byte(recipients), &e.Recipients); err != nil {
			return nil, fmt.Errorf("failed to unmarshal recipients: %w", err)
		}
		e.EscalatedAt = e.EscalatedAt.UTC()
		escalations = append(escalations, e)
	}
	return escalations, rows.Err()
}

// CountEscalations returns the total number of escalation records for alertID.
func (db *DB) CountEscalations(ctx context.Context, alertID string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_escalations WHERE alert_id = ?`, alertID).Scan(&count)
	return count, err
}
