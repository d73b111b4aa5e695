package workflow

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/impactengine/internal/classifier"
	"github.com/aristath/impactengine/internal/config"
	"github.com/aristath/impactengine/internal/database"
	"github.com/aristath/impactengine/internal/domain"
	"github.com/aristath/impactengine/internal/impact"
	"github.com/aristath/impactengine/internal/llmgov"
	"github.com/aristath/impactengine/internal/relationships"
	"github.com/aristath/impactengine/internal/store"
	"github.com/aristath/impactengine/internal/validator"
)

type fakeNewsSource struct {
	articles []domain.Article
}

func (f fakeNewsSource) FetchSince(ctx context.Context, since string) ([]domain.Article, error) {
	return f.articles, nil
}

func newTestEngine(t *testing.T, news domain.NewsSource, confidenceThreshold float64, maxLoops int) *Engine {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "test_workflow_*.db")
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

	c := classifier.New(gov, zerolog.Nop())
	ext := relationships.New(nil, gov, time.Second, 4, zerolog.Nop())
	calc := impact.New(st, 5.0, 2.0, zerolog.Nop())
	val := validator.New(confidenceThreshold, maxLoops)

	return New(st, news, c, ext, calc, val, zerolog.Nop())
}

func TestEngine_Run_EmptyPortfolioIsFatal(t *testing.T) {
	e := newTestEngine(t, fakeNewsSource{}, 0.3, 2)
	_, err := e.Run(context.Background(), nil)
	require.Error(t, err)
}

func TestEngine_Run_AcceptsAndSavesAlertForDirectMention(t *testing.T) {
	news := fakeNewsSource{articles: []domain.Article{
		{ID: "a1", Title: "Factory shortage hits production", Body: "semiconductor shortage halts output", Tickers: []string{"XYZ"}},
	}}
	e := newTestEngine(t, news, 0.3, 2)

	portfolio := []domain.Holding{{UserID: "u1", Ticker: "XYZ", Quantity: 10, CurrentPrice: 100}}
	state, err := e.Run(context.Background(), portfolio)
	require.NoError(t, err)

	assert.Equal(t, domain.DecisionAccept, state.ValidationDecision)
	assert.NotEmpty(t, state.AlertID)
	assert.NotEmpty(t, state.ReasoningTrail)
	assert.Len(t, state.StockImpacts, 1)
	assert.Equal(t, "XYZ", state.StockImpacts[0].Ticker)

	active, err := e.store.ActiveAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, state.AlertID, active[0].ID)
}

func TestEngine_Run_NoNewsProducesNoAlert(t *testing.T) {
	e := newTestEngine(t, fakeNewsSource{}, 0.3, 2)
	portfolio := []domain.Holding{{UserID: "u1", Ticker: "XYZ", Quantity: 10, CurrentPrice: 100}}

	state, err := e.Run(context.Background(), portfolio)
	require.NoError(t, err)
	assert.Empty(t, state.AlertID)
	assert.Empty(t, state.ReasoningTrail)
}

func TestEngine_Run_LoopBoundForcesAcceptEventually(t *testing.T) {
	// confidenceThreshold impossible to reach (1.01) forces every validate
	// call to REQUEST_MORE_DATA until the loop bound trips the forced accept.
	news := fakeNewsSource{articles: []domain.Article{
		{ID: "a1", Title: "Some news", Body: "body", Tickers: []string{"XYZ"}},
	}}
	e := newTestEngine(t, news, 1.01, 1)

	portfolio := []domain.Holding{{UserID: "u1", Ticker: "XYZ", Quantity: 10, CurrentPrice: 100}}
	state, err := e.Run(context.Background(), portfolio)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionAccept, state.ValidationDecision)
	assert.Equal(t, 1, state.LoopCount)
}
