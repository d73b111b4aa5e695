package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aristath/impactengine/internal/database"
	"github.com/aristath/impactengine/internal/domain"
)

// SaveAlert persists an alert together with its impact records and the
// reasoning trail derived from them, atomically (spec §3, §4.6, §4.8: "alert
// persistence is atomic with its reasoning trail"). Either all rows land or
// none do.
func (s *Store) SaveAlert(ctx context.Context, alert domain.Alert, impacts []domain.ImpactRecord, steps []domain.ReasoningStep) error {
	return database.WithTransaction(s.db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO alerts (id, headline, severity, trigger_article_id, status, impact_percent, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, alert.ID, alert.Headline, string(alert.Severity), alert.TriggerArticleID, string(alert.Status), alert.ImpactPercent, alert.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert alert %s: %w", alert.ID, err)
		}

		for _, imp := range impacts {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO impact_analysis
					(alert_id, ticker, related_ticker, reason, level, impact_percent, confidence)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, alert.ID, imp.Ticker, imp.RelatedTicker, imp.Reason, int(imp.Level), imp.ImpactPercent, imp.Confidence)
			if err != nil {
				return fmt.Errorf("failed to insert impact record for %s: %w", imp.Ticker, err)
			}
		}

		for _, step := range steps {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO reasoning_steps (alert_id, ticker, reasoning, level, confidence)
				VALUES (?, ?, ?, ?, ?)
			`, alert.ID, step.Ticker, step.Reasoning, int(step.Level), step.Confidence)
			if err != nil {
				return fmt.Errorf("failed to insert reasoning step for %s: %w", step.Ticker, err)
			}
		}

		return nil
	})
}

// DismissAlert marks an alert as no longer actionable (SPEC_FULL.md §C.2).
// Dismissal is a one-way transition; a dismissed alert is never reactivated
// by a later workflow run referencing the same trigger article, since the
// engine only ever creates new alerts.
func (s *Store) DismissAlert(ctx context.Context, alertID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status = ? WHERE id = ? AND status != ?
	`, string(domain.AlertStatusDismissed), alertID, string(domain.AlertStatusDismissed))
	if err != nil {
		return fmt.Errorf("failed to dismiss alert %s: %w", alertID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("dismiss alert: %s not found or already dismissed", alertID)
	}
	return nil
}

// ActiveAlerts returns every alert still in active status, newest first.
func (s *Store) ActiveAlerts(ctx context.Context) ([]domain.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, headline, severity, trigger_article_id, status, impact_percent, created_at
		FROM alerts WHERE status = ? ORDER BY created_at DESC
	`, string(domain.AlertStatusActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	defer rows.Close()

	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var severity, status string
		if err := rows.Scan(&a.ID, &a.Headline, &severity, &a.TriggerArticleID, &status, &a.ImpactPercent, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		a.Severity = domain.Severity(severity)
		a.Status = domain.AlertStatus(status)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ReasoningFor batch-loads the reasoning trail for a set of alert IDs in a
// single query — O(1) round trips for any number of alerts, not N+1.
func (s *Store) ReasoningFor(ctx context.Context, alertIDs []string) (map[string][]domain.ReasoningStep, error) {
	out := make(map[string][]domain.ReasoningStep, len(alertIDs))
	if len(alertIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(alertIDs))
	args := make([]any, len(alertIDs))
	for i, id := range alertIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT alert_id, ticker, reasoning, level, confidence
		FROM reasoning_steps WHERE alert_id IN (%s)
		ORDER BY alert_id, level, ticker
	`, joinPlaceholders(placeholders))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to batch-load reasoning steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var step domain.ReasoningStep
		var level int
		if err := rows.Scan(&step.AlertID, &step.Ticker, &step.Reasoning, &level, &step.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan reasoning step row: %w", err)
		}
		step.Level = domain.ReasoningLevel(level)
		out[step.AlertID] = append(out[step.AlertID], step)
	}
	return out, rows.Err()
}

func joinPlaceholders(ph []string) string {
	out := ph[0]
	for _, p := range ph[1:] {
		out += "," + p
	}
	return out
}
