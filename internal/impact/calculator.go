// Package impact implements the Impact Calculator (C6, spec §4.6): it turns
// a classified article and a relationship (direct or one-hop indirect) into
// a signed impact-percent figure, damped or amplified by historical
// precedent, then aggregates a run's impact records to a portfolio level.
package impact

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/impactengine/internal/domain"
	"github.com/aristath/impactengine/internal/store"
)

// tierMultiplier is spec §4.6's tier(rel.type) table.
func tierMultiplier(t domain.RelationshipType) float64 {
	switch t {
	case domain.RelationshipDirect:
		return 1.00
	case domain.RelationshipSupplier:
		return 0.65
	case domain.RelationshipCustomer:
		return 0.45
	default:
		return 0.65 // partner and unknown types fall back to the supplier tier
	}
}

// impactToPercentScale converts the raw sentiment·tier·criticality·precedent
// product into a percentage figure. Spec §8's worked scenarios make this
// explicit where §4.6's formula prose alone does not: e.g. scenario 1's
// "impact = 0.6·1.0·1.0·1.0 = 0.6 (scaled ×10 = +6.0%)".
const impactToPercentScale = 10.0

// criticalityMultiplier is spec §4.6's crit(rel.criticality) table.
func criticalityMultiplier(c domain.Criticality) float64 {
	switch c {
	case domain.CriticalityCritical:
		return 1.20
	case domain.CriticalityHigh:
		return 1.00
	case domain.CriticalityMedium:
		return 0.80
	case domain.CriticalityLow:
		return 0.50
	default:
		return 0.80
	}
}

// Calculator computes impact records and aggregates them to a portfolio
// figure (spec §4.6).
type Calculator struct {
	store          *store.Store
	severityHigh   float64
	severityMedium float64
	log            zerolog.Logger
}

// New creates a Calculator. severityHigh/severityMedium are the
// |total_impact_pct| thresholds from spec §6.6.
func New(st *store.Store, severityHigh, severityMedium float64, log zerolog.Logger) *Calculator {
	return &Calculator{
		store:          st,
		severityHigh:   severityHigh,
		severityMedium: severityMedium,
		log:            log.With().Str("component", "impact_calculator").Logger(),
	}
}

// precedentMultiplier is spec §4.6's precedent(factor): the mean
// impact_magnitude of precedents whose event_type substring-matches the
// factor's display name, divided by 2.0; 1.0 if none match.
func (c *Calculator) precedentMultiplier(ctx context.Context, factor domain.Factor) (float64, error) {
	precedents, err := c.store.PrecedentsForFactor(ctx, factor)
	if err != nil {
		return 1.0, fmt.Errorf("failed to load precedents for factor %s: %w", factor.Name(), err)
	}

	factorName := strings.ToLower(factor.Name())
	var magnitudes []float64
	for _, p := range precedents {
		if strings.Contains(strings.ToLower(p.EventType), factorName) {
			magnitudes = append(magnitudes, p.ImpactMagnitude)
		}
	}
	if len(magnitudes) == 0 {
		return 1.0, nil
	}
	return stat.Mean(magnitudes, nil) / 2.0, nil
}

// DirectImpact computes the level-1 impact record for a portfolio ticker
// directly mentioned in article (spec §4.6: `rel = {type: direct,
// criticality: high}`).
func (c *Calculator) DirectImpact(ctx context.Context, article domain.Article, classification domain.Classification, ticker string) (domain.ImpactRecord, error) {
	precedent, err := c.precedentMultiplier(ctx, classification.Factor)
	if err != nil {
		return domain.ImpactRecord{}, err
	}

	impact := classification.SentimentScore * tierMultiplier(domain.RelationshipDirect) * criticalityMultiplier(domain.CriticalityHigh) * precedent

	return domain.ImpactRecord{
		Ticker:        ticker,
		Reason:        fmt.Sprintf("%s directly mentioned in %q (%s)", ticker, article.Title, classification.Factor.Name()),
		ArticleID:     article.ID,
		Level:         domain.ReasoningLevelDirect,
		ImpactPercent: impact * impactToPercentScale,
		Confidence:    classification.Confidence,
	}, nil
}

// IndirectImpact computes the level-2 impact record for a portfolio ticker
// exposed through rel, a one-hop relationship to the ticker mentioned in
// article (spec §4.6).
func (c *Calculator) IndirectImpact(ctx context.Context, article domain.Article, classification domain.Classification, rel domain.Relationship) (domain.ImpactRecord, error) {
	precedent, err := c.precedentMultiplier(ctx, classification.Factor)
	if err != nil {
		return domain.ImpactRecord{}, err
	}

	impact := classification.SentimentScore * tierMultiplier(rel.Type) * criticalityMultiplier(rel.Criticality) * precedent

	return domain.ImpactRecord{
		Ticker:        rel.TargetTicker,
		RelatedTicker: rel.SourceTicker,
		Reason:        fmt.Sprintf("%s exposed via %s relationship with %s (%s)", rel.TargetTicker, rel.Type, rel.SourceTicker, classification.Factor.Name()),
		ArticleID:     article.ID,
		Level:         domain.ReasoningLevelIndirect,
		ImpactPercent: impact * impactToPercentScale,
		Confidence:    rel.Confidence,
	}, nil
}

// Aggregate folds a run's impact records to a portfolio level (spec §4.6):
// total_impact_pct is the mean of the individual impact percentages,
// total_impact_usd scales that by portfolioValue, and severity bands
// |total_impact_pct| against the configured thresholds. An empty impacts
// slice aggregates to zero impact at low severity.
func (c *Calculator) Aggregate(impacts []domain.ImpactRecord, portfolioValue float64) (totalPct, totalUSD float64, severity domain.Severity) {
	if len(impacts) == 0 {
		return 0, 0, domain.SeverityLow
	}

	pcts := make([]float64, len(impacts))
	for i, r := range impacts {
		pcts[i] = r.ImpactPercent
	}
	totalPct = stat.Mean(pcts, nil)
	totalUSD = totalPct / 100 * portfolioValue

	abs := math.Abs(totalPct)
	switch {
	case abs >= c.severityHigh:
		severity = domain.SeverityHigh
	case abs >= c.severityMedium:
		severity = domain.SeverityMedium
	default:
		severity = domain.SeverityLow
	}
	return totalPct, totalUSD, severity
}
