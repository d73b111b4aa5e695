package domain

import "time"

// ValidationDecision is the Confidence Validator's (C7) verdict on a
// workflow's current evidence (spec §4.7).
type ValidationDecision string

const (
	DecisionAccept          ValidationDecision = "ACCEPT"
	DecisionRequestMoreData ValidationDecision = "REQUEST_MORE_DATA"
)

// ClassifiedArticle pairs an ingested article with its Classifier output
// (spec §4.8's classified_articles/high_priority_articles state fields).
type ClassifiedArticle struct {
	Article        Article
	Classification Classification
}

// WorkflowState is the Workflow Engine's (C8) running state, threaded
// through the seven-node graph (spec §4.8). No node mutates a State in
// place; each node reads it and returns a Patch, which the engine merges
// into a new State between nodes.
type WorkflowState struct {
	Portfolio            []Holding
	NewsArticles         []Article
	LastFetchTime        time.Time
	ClassifiedArticles   []ClassifiedArticle
	HighPriorityArticles []ClassifiedArticle
	CacheHits            []Relationship
	CacheMisses          []string // tickers with no cached relationships, pending discovery
	DiscoveredRelationships []Relationship
	StockImpacts            []ImpactRecord
	PortfolioTotalImpactPct float64
	PortfolioTotalImpactUSD float64
	PortfolioSeverity       Severity
	ReasoningTrail          []ReasoningStep
	ConfidenceScore         float64
	ValidationDecision      ValidationDecision
	GapsIdentified          []string
	RefinedSearchQueries    []string
	LoopCount               int
	AlertID                 string
	Errors                  []string
}

// StatePatch is the output of a single workflow node: only the fields a node
// is responsible for writing are non-nil (spec §4.8's "per-node contracts"
// output-fields column). Merge applies exactly those fields onto a State,
// leaving everything else untouched.
type StatePatch struct {
	NewsArticles            *[]Article
	LastFetchTime           *time.Time
	ClassifiedArticles      *[]ClassifiedArticle
	HighPriorityArticles    *[]ClassifiedArticle
	CacheHits               *[]Relationship
	CacheMisses             *[]string
	DiscoveredRelationships *[]Relationship
	StockImpacts            *[]ImpactRecord
	PortfolioTotalImpactPct *float64
	PortfolioTotalImpactUSD *float64
	PortfolioSeverity       *Severity
	ReasoningTrail          *[]ReasoningStep
	ConfidenceScore         *float64
	ValidationDecision      *ValidationDecision
	GapsIdentified          *[]string
	RefinedSearchQueries    *[]string
	LoopCount               *int
	AlertID                 *string
	AppendErrors            []string // appended to State.Errors, never replaces it
}

// Merge applies patch onto state and returns the resulting State (spec
// §4.8's "the engine merges patches into a running state between nodes").
// The receiver is left unmodified; Merge is a pure function over its
// arguments.
func (state WorkflowState) Merge(patch StatePatch) WorkflowState {
	next := state

	if patch.NewsArticles != nil {
		next.NewsArticles = *patch.NewsArticles
	}
	if patch.LastFetchTime != nil {
		next.LastFetchTime = *patch.LastFetchTime
	}
	if patch.ClassifiedArticles != nil {
		next.ClassifiedArticles = *patch.ClassifiedArticles
	}
	if patch.HighPriorityArticles != nil {
		next.HighPriorityArticles = *patch.HighPriorityArticles
	}
	if patch.CacheHits != nil {
		next.CacheHits = *patch.CacheHits
	}
	if patch.CacheMisses != nil {
		next.CacheMisses = *patch.CacheMisses
	}
	if patch.DiscoveredRelationships != nil {
		next.DiscoveredRelationships = *patch.DiscoveredRelationships
	}
	if patch.StockImpacts != nil {
		next.StockImpacts = *patch.StockImpacts
	}
	if patch.PortfolioTotalImpactPct != nil {
		next.PortfolioTotalImpactPct = *patch.PortfolioTotalImpactPct
	}
	if patch.PortfolioTotalImpactUSD != nil {
		next.PortfolioTotalImpactUSD = *patch.PortfolioTotalImpactUSD
	}
	if patch.PortfolioSeverity != nil {
		next.PortfolioSeverity = *patch.PortfolioSeverity
	}
	if patch.ReasoningTrail != nil {
		next.ReasoningTrail = *patch.ReasoningTrail
	}
	if patch.ConfidenceScore != nil {
		next.ConfidenceScore = *patch.ConfidenceScore
	}
	if patch.ValidationDecision != nil {
		next.ValidationDecision = *patch.ValidationDecision
	}
	if patch.GapsIdentified != nil {
		next.GapsIdentified = *patch.GapsIdentified
	}
	if patch.RefinedSearchQueries != nil {
		next.RefinedSearchQueries = *patch.RefinedSearchQueries
	}
	if patch.LoopCount != nil {
		next.LoopCount = *patch.LoopCount
	}
	if patch.AlertID != nil {
		next.AlertID = *patch.AlertID
	}
	if len(patch.AppendErrors) > 0 {
		next.Errors = append(append([]string{}, state.Errors...), patch.AppendErrors...)
	}

	return next
}
