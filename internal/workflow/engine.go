// Package workflow implements the Workflow Engine (C8, spec §4.8): a
// compiled-once state graph of seven nodes and two conditional edges. Each
// node is a pure function of the current domain.WorkflowState that returns a
// domain.StatePatch; the engine owns the only mutable state in a run, and
// merges each patch before dispatching to the next node.
package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/impactengine/internal/apperrors"
	"github.com/aristath/impactengine/internal/classifier"
	"github.com/aristath/impactengine/internal/config"
	"github.com/aristath/impactengine/internal/domain"
	"github.com/aristath/impactengine/internal/impact"
	"github.com/aristath/impactengine/internal/relationships"
	"github.com/aristath/impactengine/internal/store"
	"github.com/aristath/impactengine/internal/validator"
)

// nodeName identifies one of the graph's seven nodes (spec §4.8).
type nodeName string

const (
	nodeMonitor   nodeName = "monitor"
	nodeClassify  nodeName = "classify"
	nodeMatchFast nodeName = "match_fast"
	nodeDiscover  nodeName = "discover"
	nodeImpact    nodeName = "impact"
	nodeValidate  nodeName = "validate"
	nodeAlert     nodeName = "alert"
)

// highPriorityThreshold bands a classified article as high-priority when its
// sentiment magnitude is at least this large. Not specified numerically by
// spec §4.8 (it names the output field but not the rule); chosen to mirror
// the Classifier's own [-1,1] clamp range at its midpoint.
const highPriorityThreshold = 0.5

// Engine compiles and runs the six-stage graph described in spec §4.8 (a
// seventh, terminal "alert" node ends the run).
type Engine struct {
	store      *store.Store
	news       domain.NewsSource
	classifier *classifier.Classifier
	extractor  *relationships.Extractor
	calculator *impact.Calculator
	validator  *validator.Validator
	nodes      map[nodeName]func(context.Context, domain.WorkflowState) (domain.StatePatch, error)
	log        zerolog.Logger
}

// New creates an Engine and compiles its node dispatch table once (spec
// §4.8: "the graph is compiled once at startup").
func New(
	st *store.Store,
	news domain.NewsSource,
	c *classifier.Classifier,
	ext *relationships.Extractor,
	calc *impact.Calculator,
	val *validator.Validator,
	log zerolog.Logger,
) *Engine {
	e := &Engine{
		store:      st,
		news:       news,
		classifier: c,
		extractor:  ext,
		calculator: calc,
		validator:  val,
		log:        log.With().Str("component", "workflow_engine").Logger(),
	}
	e.nodes = map[nodeName]func(context.Context, domain.WorkflowState) (domain.StatePatch, error){
		nodeMonitor:   e.monitor,
		nodeClassify:  e.classify,
		nodeMatchFast: e.matchFast,
		nodeDiscover:  e.discover,
		nodeImpact:    e.impactNode,
		nodeValidate:  e.validate,
		nodeAlert:     e.alert,
	}
	return e
}

// Run executes one workflow invocation for portfolio, following the edges of
// spec §4.8's graph until the alert node terminates it. Every blocking
// primitive inside a node is individually bounded (Governor calls, probe
// timeouts, Store calls), so a run always terminates (spec §4.8
// "Suspension points"/"Cancellation and timeouts").
func (e *Engine) Run(ctx context.Context, portfolio []domain.Holding) (domain.WorkflowState, error) {
	state := domain.WorkflowState{Portfolio: portfolio}
	current := nodeMonitor

	for {
		node, ok := e.nodes[current]
		if !ok {
			return state, fmt.Errorf("workflow: no node registered for %q", current)
		}

		patch, err := node(ctx, state)
		if err != nil {
			if apperrors.IsSoft(err) {
				e.log.Warn().Err(err).Str("node", string(current)).Msg("node degraded, continuing run")
				state.Errors = append(state.Errors, err.Error())
			} else {
				return state, fmt.Errorf("workflow: node %q failed: %w", current, err)
			}
		}
		state = state.Merge(patch)

		next, terminal := e.nextNode(current, state)
		if terminal {
			return state, nil
		}
		current = next
	}
}

// nextNode implements spec §4.8's two conditional edges: match_fast routes
// to discover only when there are cache misses, and validate routes back to
// monitor (looping) unless the decision is ACCEPT.
func (e *Engine) nextNode(current nodeName, state domain.WorkflowState) (nodeName, bool) {
	switch current {
	case nodeMonitor:
		return nodeClassify, false
	case nodeClassify:
		return nodeMatchFast, false
	case nodeMatchFast:
		if len(state.CacheMisses) == 0 {
			return nodeImpact, false
		}
		return nodeDiscover, false
	case nodeDiscover:
		return nodeImpact, false
	case nodeImpact:
		return nodeValidate, false
	case nodeValidate:
		if state.ValidationDecision == domain.DecisionAccept {
			return nodeAlert, false
		}
		return nodeMonitor, false
	case nodeAlert:
		return "", true
	default:
		return "", true
	}
}

// monitor fetches news since the last run and persists every fetched article,
// so an alert's trigger_article_id always references a stored article (spec
// §4.8's monitor node: precondition "portfolio non-empty").
func (e *Engine) monitor(ctx context.Context, state domain.WorkflowState) (domain.StatePatch, error) {
	if len(state.Portfolio) == 0 {
		return domain.StatePatch{}, apperrors.Fatal(fmt.Errorf("monitor: portfolio is empty"))
	}

	since := state.LastFetchTime.Format(time.RFC3339)
	now := time.Now()

	if e.news == nil {
		return domain.StatePatch{LastFetchTime: &now}, nil
	}

	articles, err := e.news.FetchSince(ctx, since)
	if err != nil {
		empty := []domain.Article{}
		return domain.StatePatch{NewsArticles: &empty, LastFetchTime: &now},
			apperrors.Soft(fmt.Errorf("monitor: fetch since %s failed: %w", since, err))
	}

	for _, a := range articles {
		if err := e.store.UpsertArticle(ctx, a); err != nil {
			return domain.StatePatch{}, apperrors.Fatal(fmt.Errorf("monitor: failed to persist article %s: %w", a.ID, err))
		}
	}

	return domain.StatePatch{NewsArticles: &articles, LastFetchTime: &now}, nil
}

// classify runs the Classifier (C3) over every fetched article (spec §4.8's
// classify node).
func (e *Engine) classify(ctx context.Context, state domain.WorkflowState) (domain.StatePatch, error) {
	classified := make([]domain.ClassifiedArticle, 0, len(state.NewsArticles))
	var highPriority []domain.ClassifiedArticle

	for _, article := range state.NewsArticles {
		result, err := e.classifier.Classify(ctx, article)
		if err != nil {
			e.log.Warn().Err(err).Str("article_id", article.ID).Msg("classification failed, skipping article")
			continue
		}
		ca := domain.ClassifiedArticle{Article: article, Classification: result}
		classified = append(classified, ca)
		if absFloat(result.SentimentScore) >= highPriorityThreshold {
			highPriority = append(highPriority, ca)
		}
	}

	return domain.StatePatch{ClassifiedArticles: &classified, HighPriorityArticles: &highPriority}, nil
}

// matchFast partitions the tickers mentioned across this run's classified
// articles into cache hits (already-known relationships) and cache misses
// (tickers the discover node must probe), per spec §4.8's match_fast node.
func (e *Engine) matchFast(ctx context.Context, state domain.WorkflowState) (domain.StatePatch, error) {
	var hits []domain.Relationship
	var misses []string
	seen := make(map[string]bool)

	for _, ca := range state.ClassifiedArticles {
		for _, ticker := range ca.Article.Tickers {
			if seen[ticker] {
				continue
			}
			seen[ticker] = true

			rels, err := e.store.GetRelationships(ctx, ticker)
			if err != nil {
				return domain.StatePatch{}, apperrors.Fatal(fmt.Errorf("match_fast: failed to look up relationships for %s: %w", ticker, err))
			}
			if len(rels) > 0 {
				hits = append(hits, rels...)
			} else {
				misses = append(misses, ticker)
			}
		}
	}

	return domain.StatePatch{CacheHits: &hits, CacheMisses: &misses}, nil
}

// discover runs the Relationship Extractor (C4) over this run's cache misses
// and persists its fused output (spec §4.8's discover node: "side-effect:
// upsert_relationships").
func (e *Engine) discover(ctx context.Context, state domain.WorkflowState) (domain.StatePatch, error) {
	portfolioTickers := make([]string, len(state.Portfolio))
	for i, h := range state.Portfolio {
		portfolioTickers[i] = h.Ticker
	}

	results := e.extractor.DiscoverForTickers(ctx, state.CacheMisses, portfolioTickers, state.NewsArticles)

	var discovered []domain.Relationship
	for _, rels := range results {
		discovered = append(discovered, rels...)
	}

	if len(discovered) > 0 {
		if err := e.store.UpsertRelationships(ctx, discovered); err != nil {
			return domain.StatePatch{}, apperrors.Fatal(fmt.Errorf("discover: failed to persist discovered relationships: %w", err))
		}
	}

	return domain.StatePatch{DiscoveredRelationships: &discovered}, nil
}

// impactNode runs the Impact Calculator (C6) over every classified article
// and every relevant relationship, then aggregates to a portfolio figure
// (spec §4.8's impact node).
func (e *Engine) impactNode(ctx context.Context, state domain.WorkflowState) (domain.StatePatch, error) {
	portfolioSet := make(map[string]bool, len(state.Portfolio))
	for _, h := range state.Portfolio {
		portfolioSet[h.Ticker] = true
	}

	// Index the first classification that mentions each ticker, so an
	// indirect relationship's source ticker can be traced back to the
	// sentiment/factor that produced it this run.
	bySourceTicker := make(map[string]domain.ClassifiedArticle)
	for _, ca := range state.ClassifiedArticles {
		for _, ticker := range ca.Article.Tickers {
			if _, ok := bySourceTicker[ticker]; !ok {
				bySourceTicker[ticker] = ca
			}
		}
	}

	var impacts []domain.ImpactRecord

	for _, ca := range state.ClassifiedArticles {
		for _, ticker := range ca.Article.Tickers {
			if !portfolioSet[ticker] {
				continue
			}
			rec, err := e.calculator.DirectImpact(ctx, ca.Article, ca.Classification, ticker)
			if err != nil {
				return domain.StatePatch{}, apperrors.Fatal(fmt.Errorf("impact: direct impact for %s: %w", ticker, err))
			}
			impacts = append(impacts, rec)
		}
	}

	combined := append(append([]domain.Relationship{}, state.CacheHits...), state.DiscoveredRelationships...)
	for _, rel := range combined {
		if !portfolioSet[rel.TargetTicker] {
			continue
		}
		ca, ok := bySourceTicker[rel.SourceTicker]
		if !ok {
			continue // no classified article this run explains this edge's sentiment
		}
		rec, err := e.calculator.IndirectImpact(ctx, ca.Article, ca.Classification, rel)
		if err != nil {
			return domain.StatePatch{}, apperrors.Fatal(fmt.Errorf("impact: indirect impact for %s: %w", rel.TargetTicker, err))
		}
		impacts = append(impacts, rec)
	}

	trail := make([]domain.ReasoningStep, len(impacts))
	for i, rec := range impacts {
		trail[i] = domain.ReasoningStep{Ticker: rec.Ticker, Reasoning: rec.Reason, Level: rec.Level, Confidence: rec.Confidence}
	}

	portfolioValue := 0.0
	for _, h := range state.Portfolio {
		portfolioValue += h.Value()
	}
	totalPct, totalUSD, severity := e.calculator.Aggregate(impacts, portfolioValue)

	return domain.StatePatch{
		StockImpacts:            &impacts,
		PortfolioTotalImpactPct: &totalPct,
		PortfolioTotalImpactUSD: &totalUSD,
		PortfolioSeverity:       &severity,
		ReasoningTrail:          &trail,
	}, nil
}

// validate runs the Confidence Validator (C7); spec §4.8's validate node.
func (e *Engine) validate(_ context.Context, state domain.WorkflowState) (domain.StatePatch, error) {
	return e.validator.Validate(state), nil
}

// alert persists the run's alert and reasoning trail (spec §4.8's alert
// node: precondition "reasoning_trail non-empty"). An empty trail is not an
// error — it means the run found nothing alert-worthy — so the node simply
// produces no alert.
func (e *Engine) alert(ctx context.Context, state domain.WorkflowState) (domain.StatePatch, error) {
	if len(state.ReasoningTrail) == 0 {
		return domain.StatePatch{}, nil
	}

	topReason, triggerArticleID := topImpact(state.StockImpacts)
	alertID := uuid.NewString()

	a := domain.Alert{
		ID:               alertID,
		Headline:         fmt.Sprintf("%s severity: %s", state.PortfolioSeverity, topReason),
		Severity:         state.PortfolioSeverity,
		TriggerArticleID: triggerArticleID,
		Status:           domain.AlertStatusActive,
		ImpactPercent:    state.PortfolioTotalImpactPct,
		CreatedAt:        time.Now(),
	}

	if err := e.store.SaveAlert(ctx, a, state.StockImpacts, state.ReasoningTrail); err != nil {
		return domain.StatePatch{}, apperrors.Fatal(fmt.Errorf("alert: failed to save alert: %w", err))
	}

	return domain.StatePatch{AlertID: &alertID}, nil
}

// topImpact returns the reason string and triggering article of the impact
// record with the largest absolute impact percentage, used for the alert
// headline and trigger_article_id (spec §6.4).
func topImpact(impacts []domain.ImpactRecord) (reason, articleID string) {
	if len(impacts) == 0 {
		return "", ""
	}
	sorted := append([]domain.ImpactRecord{}, impacts...)
	sort.Slice(sorted, func(i, j int) bool {
		return absFloat(sorted[i].ImpactPercent) > absFloat(sorted[j].ImpactPercent)
	})
	return sorted[0].Reason, sorted[0].ArticleID
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// NewWithConfig is a convenience constructor reading MaxLoops and
// ConfidenceThreshold off cfg to build the Validator, rather than requiring
// every caller to construct one separately.
func NewWithConfig(
	st *store.Store,
	news domain.NewsSource,
	c *classifier.Classifier,
	ext *relationships.Extractor,
	calc *impact.Calculator,
	cfg *config.Config,
	log zerolog.Logger,
) *Engine {
	val := validator.New(cfg.ConfidenceThreshold, cfg.MaxLoops)
	return New(st, news, c, ext, calc, val, log)
}
