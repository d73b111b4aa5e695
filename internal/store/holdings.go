package store

import (
	"context"
	"fmt"

	"github.com/aristath/impactengine/internal/domain"
)

// UpsertHolding records or updates a portfolio position snapshot (spec §3).
func (s *Store) UpsertHolding(ctx context.Context, h domain.Holding) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO holdings (user_id, ticker, quantity, avg_price, current_price)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, ticker) DO UPDATE SET
			quantity = excluded.quantity,
			avg_price = excluded.avg_price,
			current_price = excluded.current_price
	`, h.UserID, h.Ticker, h.Quantity, h.AvgPrice, h.CurrentPrice)
	if err != nil {
		return fmt.Errorf("failed to upsert holding %s/%s: %w", h.UserID, h.Ticker, err)
	}
	return s.SetPortfolioMembership(ctx, h.Ticker, true)
}

// Holdings lists every position for a user — the input the Impact
// Calculator (C6) aggregates across (spec §4.6).
func (s *Store) Holdings(ctx context.Context, userID string) ([]domain.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, ticker, quantity, avg_price, current_price
		FROM holdings WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.Holding
	for rows.Next() {
		var h domain.Holding
		if err := rows.Scan(&h.UserID, &h.Ticker, &h.Quantity, &h.AvgPrice, &h.CurrentPrice); err != nil {
			return nil, fmt.Errorf("failed to scan holding row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// AllHoldings lists every persisted position across every user — the
// "persisted portfolio" the Scheduler's (C9) primary job hands to the
// Workflow Engine on each tick (spec §4.9).
func (s *Store) AllHoldings(ctx context.Context) ([]domain.Holding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, ticker, quantity, avg_price, current_price FROM holdings
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list all holdings: %w", err)
	}
	defer rows.Close()

	var out []domain.Holding
	for rows.Next() {
		var h domain.Holding
		if err := rows.Scan(&h.UserID, &h.Ticker, &h.Quantity, &h.AvgPrice, &h.CurrentPrice); err != nil {
			return nil, fmt.Errorf("failed to scan holding row: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
