package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/impactengine/internal/domain"
)

// AppendAgentLog records one Governor (C2) call — live or heuristic-fallback
// — for audit (spec §4.2). payload is msgpack-encoded; pass nil for calls
// that produced no structured result.
func (s *Store) AppendAgentLog(ctx context.Context, component, prompt string, heuristic bool, payload any) error {
	var blob []byte
	if payload != nil {
		var err error
		blob, err = msgpack.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode agent log payload: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_logs (component, prompt, heuristic, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, component, prompt, heuristic, blob, time.Now())
	if err != nil {
		return fmt.Errorf("failed to append agent log: %w", err)
	}
	return nil
}

// RecordUsage accumulates today's Governor character/cost usage (spec §4.2).
// It is called once per live LLM call, never for heuristic fallbacks.
func (s *Store) RecordUsage(ctx context.Context, inputChars, outputChars int64, estimatedCost float64) error {
	day := time.Now().Format("2006-01-02")
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_daily (day, input_chars, output_chars, estimated_cost)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (day) DO UPDATE SET
			input_chars = input_chars + excluded.input_chars,
			output_chars = output_chars + excluded.output_chars,
			estimated_cost = estimated_cost + excluded.estimated_cost
	`, day, inputChars, outputChars, estimatedCost)
	if err != nil {
		return fmt.Errorf("failed to record usage for %s: %w", day, err)
	}
	return nil
}

// UsageSummary returns the accounting line for a single day (SPEC_FULL.md
// §C.1). ok is false if the Governor made no live calls that day.
func (s *Store) UsageSummary(ctx context.Context, day string) (rec domain.UsageRecord, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT day, input_chars, output_chars, estimated_cost FROM usage_daily WHERE day = ?
	`, day).Scan(&rec.Day, &rec.InputChars, &rec.OutputChars, &rec.EstimatedCost)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UsageRecord{}, false, nil
	}
	if err != nil {
		return domain.UsageRecord{}, false, fmt.Errorf("failed to load usage summary for %s: %w", day, err)
	}
	return rec, true, nil
}

// UsageSince returns every daily usage row from the given day onward,
// oldest first — used to render a rolling cost trend.
func (s *Store) UsageSince(ctx context.Context, sinceDay string) ([]domain.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, input_chars, output_chars, estimated_cost
		FROM usage_daily WHERE day >= ? ORDER BY day ASC
	`, sinceDay)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage since %s: %w", sinceDay, err)
	}
	defer rows.Close()

	var out []domain.UsageRecord
	for rows.Next() {
		var rec domain.UsageRecord
		if err := rows.Scan(&rec.Day, &rec.InputChars, &rec.OutputChars, &rec.EstimatedCost); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
