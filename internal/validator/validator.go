// Package validator implements the Confidence Validator (C7, spec §4.7): the
// only component that may route a workflow back to an earlier stage. It
// pools confidence figures already computed elsewhere in the run and decides
// whether the evidence gathered so far is strong enough to alert on.
package validator

import (
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/impactengine/internal/domain"
)

const (
	lowConfidence   = 0.50
	minArticleCount = 3
	defaultNoPool   = 0.5
)

// Validator decides ACCEPT vs REQUEST_MORE_DATA for a workflow's current
// state (spec §4.7).
type Validator struct {
	confidenceThreshold float64
	maxLoops            int
}

// New creates a Validator. confidenceThreshold and maxLoops are spec §6.6's
// confidence_threshold (default 0.70) and max_loops (default 2); the
// accept/reject boundary is the configured confidenceThreshold, while the
// low-confidence gap-rule boundary is fixed at 0.50 whatever the threshold.
func New(confidenceThreshold float64, maxLoops int) *Validator {
	return &Validator{confidenceThreshold: confidenceThreshold, maxLoops: maxLoops}
}

// Validate computes the validate node's patch (spec §4.8's per-node
// contract): confidence_score, validation_decision, gaps_identified,
// refined_search_queries, loop_count'.
func (v *Validator) Validate(state domain.WorkflowState) domain.StatePatch {
	score := pool(state)

	loopCount := state.LoopCount
	decision := domain.DecisionAccept
	var gaps []string
	var refined []string

	if score < v.confidenceThreshold && loopCount < v.maxLoops {
		decision = domain.DecisionRequestMoreData
		gaps = identifyGaps(state, score)
		refined = refinedQueries(state)
		loopCount++
	}

	return domain.StatePatch{
		ConfidenceScore:      &score,
		ValidationDecision:   &decision,
		GapsIdentified:       &gaps,
		RefinedSearchQueries: &refined,
		LoopCount:            &loopCount,
	}
}

// pool implements spec §4.7 step 1-2: pool confidences from stock-impact
// records, classifications, and discovered relationships, then mean them;
// defaultNoPool if the pool is empty.
func pool(state domain.WorkflowState) float64 {
	var confidences []float64
	for _, imp := range state.StockImpacts {
		confidences = append(confidences, imp.Confidence)
	}
	for _, ca := range state.ClassifiedArticles {
		confidences = append(confidences, ca.Classification.Confidence)
	}
	for _, rel := range state.DiscoveredRelationships {
		confidences = append(confidences, rel.Confidence)
	}
	if len(confidences) == 0 {
		return defaultNoPool
	}
	return stat.Mean(confidences, nil)
}

// identifyGaps implements spec §4.7 step 3's gap rules.
func identifyGaps(state domain.WorkflowState, score float64) []string {
	var gaps []string
	if score < lowConfidence {
		gaps = append(gaps, "very low confidence")
	}
	if len(state.DiscoveredRelationships) == 0 {
		gaps = append(gaps, "no supply chain relationships discovered")
	}
	if len(state.NewsArticles) < minArticleCount {
		gaps = append(gaps, "insufficient news coverage")
	}
	if len(state.StockImpacts) == 0 {
		gaps = append(gaps, "no portfolio impacts calculated")
	}
	return gaps
}

// refinedQueries implements spec §4.7's "for the top two portfolio tickers,
// emit two canned query templates each".
func refinedQueries(state domain.WorkflowState) []string {
	var queries []string
	for i, holding := range state.Portfolio {
		if i >= 2 {
			break
		}
		queries = append(queries,
			holding.Ticker+" supply chain risk news",
			holding.Ticker+" supplier customer relationship",
		)
	}
	return queries
}
