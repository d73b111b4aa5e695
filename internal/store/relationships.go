package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aristath/impactengine/internal/domain"
	"github.com/aristath/impactengine/internal/fusion"
)

// UpsertRelationships persists the Fusion Operator's (C5) output, preserving
// the monotone-confidence invariant (spec §4.5, §8) against whatever edge is
// already stored. Each incoming relationship is merged with its existing row,
// if any, via fusion.MergeRelationship — the same function the Fusion
// Operator uses to collapse a single run's probe outputs — so storage never
// lets confidence regress or evidence/sources shrink. Each relationship's
// uniqueness key is (SourceTicker, TargetTicker, Type).
func (s *Store) UpsertRelationships(ctx context.Context, rels []domain.Relationship) error {
	for _, rel := range rels {
		if err := s.upsertOneRelationship(ctx, nil, rel); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) upsertOneRelationship(ctx context.Context, tx *sql.Tx, rel domain.Relationship) error {
	existing, found, err := s.getRelationshipTx(ctx, tx, rel.SourceTicker, rel.TargetTicker, rel.Type)
	if err != nil {
		return err
	}

	merged := rel
	if found {
		merged = fusion.MergeRelationship(existing, rel)
	}

	evidence, err := json.Marshal(merged.Evidence)
	if err != nil {
		return fmt.Errorf("failed to marshal relationship evidence: %w", err)
	}
	sources, err := json.Marshal(merged.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal relationship sources: %w", err)
	}

	const q = `
		INSERT INTO relationships
			(source_ticker, target_ticker, type, criticality, evidence, sources, confidence, last_verified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (source_ticker, target_ticker, type) DO UPDATE SET
			criticality = excluded.criticality,
			evidence = excluded.evidence,
			sources = excluded.sources,
			confidence = excluded.confidence,
			last_verified = excluded.last_verified
	`
	args := []any{
		merged.SourceTicker, merged.TargetTicker, string(merged.Type), string(merged.Criticality),
		string(evidence), string(sources), merged.Confidence, merged.LastVerified,
	}

	if tx != nil {
		_, err = tx.ExecContext(ctx, q, args...)
	} else {
		_, err = s.db.ExecContext(ctx, q, args...)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert relationship %s->%s: %w", merged.SourceTicker, merged.TargetTicker, err)
	}

	if err := s.ensureCompanyTx(ctx, tx, merged.SourceTicker); err != nil {
		return err
	}
	return s.ensureCompanyTx(ctx, tx, merged.TargetTicker)
}

// UpsertManualRelationship records an operator-asserted edge (spec
// SPEC_FULL.md §C.3). Manual relationships always carry full confidence and
// the "manual" discovery source, and they participate in the same
// monotone-merge path as discovered edges.
func (s *Store) UpsertManualRelationship(ctx context.Context, sourceTicker, targetTicker string, relType domain.RelationshipType, criticality domain.Criticality, evidence string) error {
	rel := domain.Relationship{
		SourceTicker: sourceTicker,
		TargetTicker: targetTicker,
		Type:         relType,
		Criticality:  criticality,
		Evidence:     []string{evidence},
		Sources:      []domain.DiscoverySource{domain.SourceManual},
		Confidence:   1.0,
	}
	return s.upsertOneRelationship(ctx, nil, rel)
}

func (s *Store) getRelationshipTx(ctx context.Context, tx *sql.Tx, source, target string, relType domain.RelationshipType) (domain.Relationship, bool, error) {
	const q = `
		SELECT source_ticker, target_ticker, type, criticality, evidence, sources, confidence, last_verified
		FROM relationships WHERE source_ticker = ? AND target_ticker = ? AND type = ?
	`
	var row *sql.Row
	if tx != nil {
		row = tx.QueryRowContext(ctx, q, source, target, string(relType))
	} else {
		row = s.db.QueryRowContext(ctx, q, source, target, string(relType))
	}

	rel, err := scanRelationship(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Relationship{}, false, nil
	}
	if err != nil {
		return domain.Relationship{}, false, fmt.Errorf("failed to load relationship %s->%s: %w", source, target, err)
	}
	return rel, true, nil
}

func scanRelationship(row *sql.Row) (domain.Relationship, error) {
	var rel domain.Relationship
	var relType, criticality, evidence, sources string
	if err := row.Scan(&rel.SourceTicker, &rel.TargetTicker, &relType, &criticality, &evidence, &sources, &rel.Confidence, &rel.LastVerified); err != nil {
		return domain.Relationship{}, err
	}
	rel.Type = domain.RelationshipType(relType)
	rel.Criticality = domain.Criticality(criticality)
	if err := json.Unmarshal([]byte(evidence), &rel.Evidence); err != nil {
		return domain.Relationship{}, fmt.Errorf("failed to unmarshal evidence: %w", err)
	}
	if err := json.Unmarshal([]byte(sources), &rel.Sources); err != nil {
		return domain.Relationship{}, fmt.Errorf("failed to unmarshal sources: %w", err)
	}
	return rel, nil
}

// GetRelationships returns every outbound edge from ticker — the set C6 walks
// one hop to compute indirect impact (spec §4.6).
func (s *Store) GetRelationships(ctx context.Context, ticker string) ([]domain.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_ticker, target_ticker, type, criticality, evidence, sources, confidence, last_verified
		FROM relationships WHERE source_ticker = ?
	`, ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to query relationships for %s: %w", ticker, err)
	}
	defer rows.Close()

	var out []domain.Relationship
	for rows.Next() {
		var rel domain.Relationship
		var relType, criticality, evidence, sources string
		if err := rows.Scan(&rel.SourceTicker, &rel.TargetTicker, &relType, &criticality, &evidence, &sources, &rel.Confidence, &rel.LastVerified); err != nil {
			return nil, fmt.Errorf("failed to scan relationship row: %w", err)
		}
		rel.Type = domain.RelationshipType(relType)
		rel.Criticality = domain.Criticality(criticality)
		if err := json.Unmarshal([]byte(evidence), &rel.Evidence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
		}
		if err := json.Unmarshal([]byte(sources), &rel.Sources); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sources: %w", err)
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

// PrecedentsForFactor returns the seeded historical precedents for a factor,
// used by the Impact Calculator (C6) to damp or amplify a new impact
// estimate (spec §3, §4.6).
func (s *Store) PrecedentsForFactor(ctx context.Context, factor domain.Factor) ([]domain.HistoricalPrecedent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, event_type, event_name, description, impact_magnitude
		FROM historical_precedents WHERE factor = ? ORDER BY date DESC
	`, int(factor))
	if err != nil {
		return nil, fmt.Errorf("failed to query precedents for factor %d: %w", factor, err)
	}
	defer rows.Close()

	var out []domain.HistoricalPrecedent
	for rows.Next() {
		var p domain.HistoricalPrecedent
		if err := rows.Scan(&p.Date, &p.EventType, &p.EventName, &p.Description, &p.ImpactMagnitude); err != nil {
			return nil, fmt.Errorf("failed to scan precedent row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SeedPrecedent inserts a historical precedent record. Precedents are
// read-only at runtime (spec §3); this is an operator/seed-data path, not
// something any workflow node calls.
func (s *Store) SeedPrecedent(ctx context.Context, factor domain.Factor, p domain.HistoricalPrecedent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO historical_precedents (factor, date, event_type, event_name, description, impact_magnitude)
		VALUES (?, ?, ?, ?, ?, ?)
	`, int(factor), p.Date, p.EventType, p.EventName, p.Description, p.ImpactMagnitude)
	if err != nil {
		return fmt.Errorf("failed to seed precedent: %w", err)
	}
	return nil
}
