package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/impactengine/internal/domain"
)

func TestValidator_AcceptsWhenConfidenceHigh(t *testing.T) {
	v := New(0.70, 2)
	state := domain.WorkflowState{
		StockImpacts: []domain.ImpactRecord{{Confidence: 0.9}, {Confidence: 0.85}},
		ClassifiedArticles: []domain.ClassifiedArticle{
			{Classification: domain.Classification{Confidence: 0.9}},
		},
		DiscoveredRelationships: []domain.Relationship{{Confidence: 0.9}},
		NewsArticles:            []domain.Article{{}, {}, {}},
	}

	patch := v.Validate(state)
	require.NotNil(t, patch.ValidationDecision)
	assert.Equal(t, domain.DecisionAccept, *patch.ValidationDecision)
	assert.Empty(t, *patch.GapsIdentified)
}

func TestValidator_RequestsMoreDataWhenConfidenceLow(t *testing.T) {
	v := New(0.70, 2)
	state := domain.WorkflowState{
		StockImpacts: []domain.ImpactRecord{{Confidence: 0.2}},
		LoopCount:    0,
	}

	patch := v.Validate(state)
	assert.Equal(t, domain.DecisionRequestMoreData, *patch.ValidationDecision)
	assert.Equal(t, 1, *patch.LoopCount)
	assert.Contains(t, *patch.GapsIdentified, "very low confidence")
	assert.Contains(t, *patch.GapsIdentified, "no supply chain relationships discovered")
	assert.Contains(t, *patch.GapsIdentified, "insufficient news coverage")
}

func TestValidator_ForcesAcceptAtLoopBound(t *testing.T) {
	v := New(0.70, 2)
	state := domain.WorkflowState{
		StockImpacts: []domain.ImpactRecord{{Confidence: 0.1}},
		LoopCount:    2,
	}

	patch := v.Validate(state)
	assert.Equal(t, domain.DecisionAccept, *patch.ValidationDecision, "loop bound reached, must accept regardless of confidence")
	assert.Equal(t, 2, *patch.LoopCount)
}

func TestValidator_NoPoolDefaultsToPointFive(t *testing.T) {
	v := New(0.70, 2)
	patch := v.Validate(domain.WorkflowState{})
	assert.Equal(t, 0.5, *patch.ConfidenceScore)
}

func TestValidator_RefinedQueries_TopTwoPortfolioTickers(t *testing.T) {
	v := New(0.70, 2)
	state := domain.WorkflowState{
		StockImpacts: []domain.ImpactRecord{{Confidence: 0.1}},
		Portfolio: []domain.Holding{
			{Ticker: "AAA"}, {Ticker: "BBB"}, {Ticker: "CCC"},
		},
	}

	patch := v.Validate(state)
	assert.Len(t, *patch.RefinedSearchQueries, 4)
	assert.Contains(t, *patch.RefinedSearchQueries, "AAA supply chain risk news")
	assert.Contains(t, *patch.RefinedSearchQueries, "BBB supplier customer relationship")
	for _, q := range *patch.RefinedSearchQueries {
		assert.NotContains(t, q, "CCC")
	}
}
