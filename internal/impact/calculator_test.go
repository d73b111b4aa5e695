package impact

import (
	"context"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/impactengine/internal/database"
	"github.com/aristath/impactengine/internal/domain"
	"github.com/aristath/impactengine/internal/store"
)

func newTestCalculator(t *testing.T) (*Calculator, *store.Store) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "test_impact_*.db")
	require.NoError(t, err)
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	t.Cleanup(func() { _ = os.Remove(tmpPath) })

	db, err := database.New(database.Config{Path: tmpPath, Profile: database.ProfileStandard, Name: "impactengine"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	st := store.New(db, zerolog.Nop())
	return New(st, 5.0, 2.0, zerolog.Nop()), st
}

func TestCalculator_DirectImpact_NoPrecedentDefaultsToOne(t *testing.T) {
	c, _ := newTestCalculator(t)
	article := domain.Article{ID: "a1", Title: "Factory halted"}
	classification := domain.Classification{Factor: domain.FactorSupplyChain, SentimentScore: -0.5, Confidence: 0.9}

	rec, err := c.DirectImpact(context.Background(), article, classification, "XYZ")
	require.NoError(t, err)
	assert.Equal(t, "XYZ", rec.Ticker)
	assert.Equal(t, domain.ReasoningLevelDirect, rec.Level)
	// -0.5 * tier(direct)=1.00 * crit(high)=1.00 * precedent=1.0, scaled x10
	assert.InDelta(t, -5.0, rec.ImpactPercent, 1e-9)
	assert.Equal(t, 0.9, rec.Confidence)
}

func TestCalculator_DirectImpact_DampedByPrecedent(t *testing.T) {
	c, st := newTestCalculator(t)
	require.NoError(t, st.SeedPrecedent(context.Background(), domain.FactorSupplyChain, domain.HistoricalPrecedent{
		EventType: "supply chain disruption", EventName: "2011 Thailand floods", ImpactMagnitude: 4.0,
	}))

	article := domain.Article{ID: "a1", Title: "Factory halted"}
	classification := domain.Classification{Factor: domain.FactorSupplyChain, SentimentScore: -1.0, Confidence: 0.9}

	rec, err := c.DirectImpact(context.Background(), article, classification, "XYZ")
	require.NoError(t, err)
	// precedent = 4.0 / 2.0 = 2.0; -1.0 * 1.00 * 1.00 * 2.0 = -2.0, scaled x10
	assert.InDelta(t, -20.0, rec.ImpactPercent, 1e-9)
}

func TestCalculator_IndirectImpact_UsesRelationshipTierAndCriticality(t *testing.T) {
	c, _ := newTestCalculator(t)
	article := domain.Article{ID: "a1", Title: "Supplier news"}
	classification := domain.Classification{Factor: domain.FactorSupplyChain, SentimentScore: 0.8, Confidence: 0.7}
	rel := domain.Relationship{SourceTicker: "SRC", TargetTicker: "PORT", Type: domain.RelationshipSupplier, Criticality: domain.CriticalityCritical, Confidence: 0.6}

	rec, err := c.IndirectImpact(context.Background(), article, classification, rel)
	require.NoError(t, err)
	assert.Equal(t, "PORT", rec.Ticker)
	assert.Equal(t, "SRC", rec.RelatedTicker)
	assert.Equal(t, domain.ReasoningLevelIndirect, rec.Level)
	// 0.8 * tier(supplier)=0.65 * crit(critical)=1.20 * precedent=1.0, scaled x10
	assert.InDelta(t, 6.24, rec.ImpactPercent, 1e-9)
	assert.Equal(t, 0.6, rec.Confidence)
}

func TestCalculator_Aggregate_EmptyImpactsIsLowSeverity(t *testing.T) {
	c, _ := newTestCalculator(t)
	pct, usd, sev := c.Aggregate(nil, 100000)
	assert.Zero(t, pct)
	assert.Zero(t, usd)
	assert.Equal(t, domain.SeverityLow, sev)
}

func TestCalculator_Aggregate_MeansAndBandsSeverity(t *testing.T) {
	c, _ := newTestCalculator(t)
	impacts := []domain.ImpactRecord{
		{ImpactPercent: -4.0},
		{ImpactPercent: -8.0},
	}
	pct, usd, sev := c.Aggregate(impacts, 100000)
	assert.InDelta(t, -6.0, pct, 1e-9)
	assert.InDelta(t, -6000.0, usd, 1e-9)
	assert.Equal(t, domain.SeverityHigh, sev)
}

func TestCalculator_Aggregate_MediumSeverityBand(t *testing.T) {
	c, _ := newTestCalculator(t)
	impacts := []domain.ImpactRecord{{ImpactPercent: 3.0}}
	_, _, sev := c.Aggregate(impacts, 100000)
	assert.Equal(t, domain.SeverityMedium, sev)
}
