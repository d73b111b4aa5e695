package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/impactengine/internal/domain"
)

// UpsertArticle inserts an article, or replaces it if the same ID (derived
// from its canonical URL) was already ingested. Articles are otherwise
// immutable (spec §3).
func (s *Store) UpsertArticle(ctx context.Context, a domain.Article) error {
	tickers, err := json.Marshal(a.Tickers)
	if err != nil {
		return fmt.Errorf("failed to marshal article tickers: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO articles (id, title, body, source, url, published_at, tickers)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			source = excluded.source,
			url = excluded.url,
			published_at = excluded.published_at,
			tickers = excluded.tickers
	`, a.ID, a.Title, a.Body, a.Source, a.URL, a.PublishedAt, string(tickers))
	if err != nil {
		return fmt.Errorf("failed to upsert article %s: %w", a.ID, err)
	}

	for _, ticker := range a.Tickers {
		if err := s.ensureCompanyTx(ctx, nil, ticker); err != nil {
			return err
		}
	}

	s.log.Debug().Str("article_id", a.ID).Int("ticker_count", len(a.Tickers)).Msg("upserted article")
	return nil
}

// GetArticle retrieves an article by ID. Returns sql.ErrNoRows if absent.
func (s *Store) GetArticle(ctx context.Context, id string) (domain.Article, error) {
	var a domain.Article
	var tickers string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, body, source, url, published_at, tickers
		FROM articles WHERE id = ?
	`, id).Scan(&a.ID, &a.Title, &a.Body, &a.Source, &a.URL, &a.PublishedAt, &tickers)
	if err != nil {
		return domain.Article{}, err
	}
	if err := json.Unmarshal([]byte(tickers), &a.Tickers); err != nil {
		return domain.Article{}, fmt.Errorf("failed to unmarshal tickers for article %s: %w", id, err)
	}
	return a, nil
}

// AttachClassification stores the Classifier's (C3) output for an article.
func (s *Store) AttachClassification(ctx context.Context, c domain.Classification) error {
	sectors, err := json.Marshal(c.AffectedSectors)
	if err != nil {
		return fmt.Errorf("failed to marshal affected sectors: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE articles SET
			factor = ?, sentiment_score = ?, confidence = ?,
			reasoning = ?, affected_sectors = ?, heuristic = ?
		WHERE id = ?
	`, int(c.Factor), c.SentimentScore, c.Confidence, c.Reasoning, string(sectors), c.Heuristic, c.ArticleID)
	if err != nil {
		return fmt.Errorf("failed to attach classification to article %s: %w", c.ArticleID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("attach classification: article %s not found", c.ArticleID)
	}
	return nil
}

// GetClassification returns the classification previously attached to an
// article, if any. ok is false if the article has not been classified yet.
func (s *Store) GetClassification(ctx context.Context, articleID string) (c domain.Classification, ok bool, err error) {
	var factor sql.NullInt64
	var sentiment, confidence sql.NullFloat64
	var reasoning, sectors sql.NullString
	var heuristic sql.NullBool

	err = s.db.QueryRowContext(ctx, `
		SELECT factor, sentiment_score, confidence, reasoning, affected_sectors, heuristic
		FROM articles WHERE id = ?
	`, articleID).Scan(&factor, &sentiment, &confidence, &reasoning, &sectors, &heuristic)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Classification{}, false, nil
	}
	if err != nil {
		return domain.Classification{}, false, fmt.Errorf("failed to load classification for %s: %w", articleID, err)
	}
	if !factor.Valid {
		return domain.Classification{}, false, nil
	}

	c.ArticleID = articleID
	c.Factor = domain.Factor(factor.Int64)
	c.SentimentScore = sentiment.Float64
	c.Confidence = confidence.Float64
	c.Reasoning = reasoning.String
	c.Heuristic = heuristic.Bool
	if sectors.Valid && sectors.String != "" {
		if err := json.Unmarshal([]byte(sectors.String), &c.AffectedSectors); err != nil {
			return domain.Classification{}, false, fmt.Errorf("failed to unmarshal affected sectors for %s: %w", articleID, err)
		}
	}
	return c, true, nil
}

// ensureCompanyTx creates a company row on first reference to a ticker
// (spec §3: "Company is created on first reference"). tx may be nil, in
// which case the plain connection is used.
func (s *Store) ensureCompanyTx(ctx context.Context, tx *sql.Tx, ticker string) error {
	const q = `INSERT OR IGNORE INTO companies (ticker, display_name, sector, is_portfolio) VALUES (?, '', '', 0)`
	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, q, ticker)
	} else {
		_, err = s.db.ExecContext(ctx, q, ticker)
	}
	if err != nil {
		return fmt.Errorf("failed to ensure company %s: %w", ticker, err)
	}
	return nil
}

// GetCompany retrieves a company by ticker. Returns sql.ErrNoRows if absent.
func (s *Store) GetCompany(ctx context.Context, ticker string) (domain.Company, error) {
	var c domain.Company
	err := s.db.QueryRowContext(ctx, `
		SELECT ticker, display_name, sector, is_portfolio FROM companies WHERE ticker = ?
	`, ticker).Scan(&c.Ticker, &c.DisplayName, &c.Sector, &c.IsPortfolio)
	return c, err
}

// SetPortfolioMembership marks (or unmarks) a company as held in the
// portfolio; it creates the company row if absent.
func (s *Store) SetPortfolioMembership(ctx context.Context, ticker string, isPortfolio bool) error {
	if err := s.ensureCompanyTx(ctx, nil, ticker); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `UPDATE companies SET is_portfolio = ? WHERE ticker = ?`, isPortfolio, ticker)
	if err != nil {
		return fmt.Errorf("failed to set portfolio membership for %s: %w", ticker, err)
	}
	return nil
}

// PortfolioTickers lists every ticker currently marked as a portfolio
// holding company.
func (s *Store) PortfolioTickers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT ticker FROM companies WHERE is_portfolio = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to list portfolio tickers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan portfolio ticker: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ArticlesSince returns articles published at or after since, newest first.
// The workflow's monitor stage does not use it; monitor reads from its
// NewsSource.
func (s *Store) ArticlesSince(ctx context.Context, since time.Time) ([]domain.Article, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, body, source, url, published_at, tickers
		FROM articles WHERE published_at >= ? ORDER BY published_at DESC
	`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query articles since %s: %w", since, err)
	}
	defer rows.Close()

	var out []domain.Article
	for rows.Next() {
		var a domain.Article
		var tickers string
		if err := rows.Scan(&a.ID, &a.Title, &a.Body, &a.Source, &a.URL, &a.PublishedAt, &tickers); err != nil {
			return nil, fmt.Errorf("failed to scan article row: %w", err)
		}
		if err := json.Unmarshal([]byte(tickers), &a.Tickers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tickers for article %s: %w", a.ID, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
