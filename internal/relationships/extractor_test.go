package relationships

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/impactengine/internal/config"
	"github.com/aristath/impactengine/internal/database"
	"github.com/aristath/impactengine/internal/domain"
	"github.com/aristath/impactengine/internal/llmgov"
	"github.com/aristath/impactengine/internal/store"
)

type fakeFilingsProbe struct {
	raws []domain.RawRelationship
	err  error
}

func (f fakeFilingsProbe) ExtractRelationships(ctx context.Context, ticker string) ([]domain.RawRelationship, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.raws, nil
}

func newTestExtractor(t *testing.T, filings domain.FilingsProbe) *Extractor {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "test_extractor_*.db")
	require.NoError(t, err)
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	t.Cleanup(func() { _ = os.Remove(tmpPath) })

	db, err := database.New(database.Config{Path: tmpPath, Profile: database.ProfileStandard, Name: "impactengine"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	st := store.New(db, zerolog.Nop())
	cfg := &config.Config{RateLimitPerMinute: 600, RetryMax: 1, RetryBaseSeconds: 0.001, RetryMultiplier: 2}
	gov := llmgov.New(cfg, st, nil, zerolog.Nop())

	return New(filings, gov, 2*time.Second, 4, zerolog.Nop())
}

func TestExtractor_FilingsProbe_SkippedForNonPublicTicker(t *testing.T) {
	filings := fakeFilingsProbe{raws: []domain.RawRelationship{{RelatedCompany: "X", Type: domain.RelationshipSupplier, Criticality: domain.CriticalityHigh, Evidence: "e"}}}
	e := newTestExtractor(t, filings)

	raws := e.runFilingsProbe(context.Background(), "NOT A TICKER")
	assert.Empty(t, raws)
}

func TestExtractor_FilingsProbe_LabelsSourceAndConfidence(t *testing.T) {
	filings := fakeFilingsProbe{raws: []domain.RawRelationship{{RelatedCompany: "ACME", Type: domain.RelationshipSupplier, Criticality: domain.CriticalityHigh, Evidence: "10-K"}}}
	e := newTestExtractor(t, filings)

	raws := e.runFilingsProbe(context.Background(), "XYZ")
	require.Len(t, raws, 1)
	assert.Equal(t, domain.SourceSECEdgar, raws[0].Source)
	assert.Equal(t, filingsConfidence, raws[0].Confidence)
}

func TestExtractor_FilingsProbeFailureIsolated(t *testing.T) {
	filings := fakeFilingsProbe{err: errors.New("filing fetch failed")}
	e := newTestExtractor(t, filings)

	raws := e.runFilingsProbe(context.Background(), "XYZ")
	assert.Empty(t, raws, "a failed probe must yield an empty result, not an error")
}

func TestExtractor_NewsContextProbe_FindsCoMentions(t *testing.T) {
	e := newTestExtractor(t, nil)
	articles := []domain.Article{
		{ID: "a1", Title: "Chip shortage hits suppliers", Tickers: []string{"XYZ", "ACME"}},
		{ID: "a2", Title: "Unrelated", Tickers: []string{"OTHER"}},
	}

	raws := e.runNewsContextProbe("XYZ", []string{"ACME", "OTHER"}, articles)
	require.Len(t, raws, 1)
	assert.Equal(t, "ACME", raws[0].RelatedCompany)
	assert.Equal(t, domain.SourceNewsReport, raws[0].Source)
	assert.Equal(t, newsConfidence, raws[0].Confidence)
}

func TestExtractor_DiscoverForTickers_CoversAllTickers(t *testing.T) {
	e := newTestExtractor(t, nil)
	articles := []domain.Article{
		{ID: "a1", Title: "Co-mention", Tickers: []string{"AAA", "BBB"}},
	}

	results := e.DiscoverForTickers(context.Background(), []string{"AAA", "BBB", "CCC"}, []string{"AAA", "BBB"}, articles)
	assert.Len(t, results, 3)
	assert.Contains(t, results, "AAA")
	assert.Contains(t, results, "BBB")
	assert.Contains(t, results, "CCC")
}

func TestExtractor_WebProbe_IsNoOp(t *testing.T) {
	e := newTestExtractor(t, nil)
	assert.Empty(t, e.runWebProbe(context.Background(), "XYZ"))
}
