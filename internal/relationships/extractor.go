// Package relationships implements the Relationship Extractor (C4, spec
// §4.4): per-ticker discovery across heterogeneous, independently-timed-out
// source probes, collapsed into the fewest number of directed edges by the
// Fusion Operator (C5) in package fusion.
package relationships

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/impactengine/internal/domain"
	"github.com/aristath/impactengine/internal/fusion"
	"github.com/aristath/impactengine/internal/llmgov"
)

const (
	filingsConfidence = 0.92
	llmConfidence     = 0.45
	newsConfidence    = 0.70

	llmInductiveSchema = `[{"related_company":"<ticker>","type":"supplier|customer|partner","criticality":"critical|high|medium|low","evidence":"<string>"}]`
)

// Extractor runs the four source probes described in spec §4.4 and fuses
// their output per ticker. filings may be nil (no filings collaborator
// configured); the web probe is a reserved no-op slot, per spec §4.4.4.
type Extractor struct {
	filings       domain.FilingsProbe
	gov           *llmgov.Governor
	probeTimeout  time.Duration
	workerCeiling int
	log           zerolog.Logger
}

// New creates an Extractor. probeTimeout bounds each individual probe (spec
// §4.4's 10-second default); workerCeiling bounds how many tickers are
// discovered concurrently (spec §4.8's fan-out description).
func New(filings domain.FilingsProbe, gov *llmgov.Governor, probeTimeout time.Duration, workerCeiling int, log zerolog.Logger) *Extractor {
	if workerCeiling < 1 {
		workerCeiling = 1
	}
	return &Extractor{
		filings:       filings,
		gov:           gov,
		probeTimeout:  probeTimeout,
		workerCeiling: workerCeiling,
		log:           log.With().Str("component", "relationship_extractor").Logger(),
	}
}

// DiscoverForTickers runs discovery for every ticker in tickers, with total
// concurrency bounded by min(len(tickers), workerCeiling) (spec §4.8). articles
// supplies the current workflow's classified news for the news-context probe;
// portfolioTickers is the set the news-context probe checks for co-mentions.
// A probe's own failure never fails a ticker's discovery, and one ticker's
// failure never affects another's (spec §4.4, §7).
func (e *Extractor) DiscoverForTickers(ctx context.Context, tickers []string, portfolioTickers []string, articles []domain.Article) map[string][]domain.Relationship {
	results := make(map[string][]domain.Relationship, len(tickers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	sem := make(chan struct{}, e.workerCeiling)
	for _, ticker := range tickers {
		ticker := ticker
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			rels := e.discoverForTicker(ctx, ticker, portfolioTickers, articles)

			mu.Lock()
			results[ticker] = rels
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// discoverForTicker fans out the four probes for one ticker, waits for all
// of them or their individual timeouts (whichever is earlier), and fuses the
// concatenated raw output (spec §4.4).
func (e *Extractor) discoverForTicker(ctx context.Context, ticker string, portfolioTickers []string, articles []domain.Article) []domain.Relationship {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var raws []domain.RawRelationship

	collect := func(probeRaws []domain.RawRelationship) {
		mu.Lock()
		raws = append(raws, probeRaws...)
		mu.Unlock()
	}

	wg.Add(3)
	go func() {
		defer wg.Done()
		collect(e.runFilingsProbe(ctx, ticker))
	}()
	go func() {
		defer wg.Done()
		collect(e.runLLMInductiveProbe(ctx, ticker))
	}()
	go func() {
		defer wg.Done()
		collect(e.runNewsContextProbe(ticker, portfolioTickers, articles))
	}()
	wg.Wait()

	// Web probe (spec §4.4.4): reserved contract slot, no implementation yet.
	raws = append(raws, e.runWebProbe(ctx, ticker)...)

	return fusion.Fuse(ticker, raws, time.Now())
}

func (e *Extractor) withProbeTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.probeTimeout)
}

// runFilingsProbe implements probe 1 (spec §4.4.1): only applied to tickers
// that look public by the heuristic length ≤ 5 and no spaces. Labels every
// result source=sec_edgar, confidence=0.92 regardless of what the
// collaborator itself set — labelling is the core's responsibility (spec
// §6.3).
func (e *Extractor) runFilingsProbe(ctx context.Context, ticker string) []domain.RawRelationship {
	if e.filings == nil || !looksPublic(ticker) {
		return nil
	}

	probeCtx, cancel := e.withProbeTimeout(ctx)
	defer cancel()

	raws, err := e.filings.ExtractRelationships(probeCtx, ticker)
	if err != nil {
		e.log.Warn().Err(err).Str("ticker", ticker).Msg("filings probe failed, yielding empty result")
		return nil
	}

	out := make([]domain.RawRelationship, len(raws))
	for i, r := range raws {
		r.Source = domain.SourceSECEdgar
		r.Confidence = filingsConfidence
		out[i] = r
	}
	return out
}

// runLLMInductiveProbe implements probe 2 (spec §4.4.2): ask the Governor
// directly for top-5 suppliers/customers. Always available — it degrades to
// the Governor's own heuristic fallback rather than failing the probe.
func (e *Extractor) runLLMInductiveProbe(ctx context.Context, ticker string) []domain.RawRelationship {
	if e.gov == nil {
		return nil
	}

	probeCtx, cancel := e.withProbeTimeout(ctx)
	defer cancel()

	prompt := fmt.Sprintf(
		"List up to 5 supply-chain relationships (suppliers, customers, or partners) for the public company with ticker %s. Respond as JSON matching: %s",
		ticker, llmInductiveSchema,
	)

	result, err := e.gov.Generate(probeCtx, "relationship_extractor_llm", prompt, llmInductiveSchema, func() (string, error) {
		return "[]", nil // no curated company-graph heuristic available for inductive discovery
	})
	if err != nil {
		e.log.Warn().Err(err).Str("ticker", ticker).Msg("llm inductive probe failed, yielding empty result")
		return nil
	}

	parsed, err := parseRawRelationships(result.Text)
	if err != nil {
		e.log.Warn().Err(err).Str("ticker", ticker).Msg("llm inductive probe returned unparsable JSON, yielding empty result")
		return nil
	}

	out := make([]domain.RawRelationship, 0, len(parsed))
	for _, r := range parsed {
		r.Source = domain.SourceLLMInference
		r.Confidence = llmConfidence
		out = append(out, r)
	}
	return out
}

// runNewsContextProbe implements probe 3 (spec §4.4.3): finds co-mentions of
// ticker and any portfolio ticker across the current run's classified
// articles. Purely local, no network I/O, and so has no per-probe timeout.
func (e *Extractor) runNewsContextProbe(ticker string, portfolioTickers []string, articles []domain.Article) []domain.RawRelationship {
	var out []domain.RawRelationship
	for _, article := range articles {
		if !containsTicker(article.Tickers, ticker) {
			continue
		}
		for _, other := range portfolioTickers {
			if other == ticker || !containsTicker(article.Tickers, other) {
				continue
			}
			out = append(out, domain.RawRelationship{
				RelatedCompany: other,
				Type:           domain.RelationshipSupplier,
				Criticality:    domain.CriticalityMedium,
				Evidence:       fmt.Sprintf("co-mentioned in article %q", article.Title),
				Source:         domain.SourceNewsReport,
				Confidence:     newsConfidence,
			})
		}
	}
	return out
}

// runWebProbe implements probe 4 (spec §4.4.4): reserved, currently a no-op.
func (e *Extractor) runWebProbe(_ context.Context, _ string) []domain.RawRelationship {
	return nil
}

func looksPublic(ticker string) bool {
	return len(ticker) <= 5 && !strings.ContainsAny(ticker, " \t")
}

func containsTicker(tickers []string, target string) bool {
	for _, t := range tickers {
		if t == target {
			return true
		}
	}
	return false
}

type rawRelationshipWire struct {
	RelatedCompany string `json:"related_company"`
	Type           string `json:"type"`
	Criticality    string `json:"criticality"`
	Evidence       string `json:"evidence"`
}

func parseRawRelationships(text string) ([]domain.RawRelationship, error) {
	trimmed := strings.TrimSpace(text)
	if start := strings.Index(trimmed, "["); start > 0 {
		trimmed = trimmed[start:]
	}
	if end := strings.LastIndex(trimmed, "]"); end >= 0 && end < len(trimmed)-1 {
		trimmed = trimmed[:end+1]
	}

	var wire []rawRelationshipWire
	if err := json.Unmarshal([]byte(trimmed), &wire); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw relationships: %w", err)
	}

	out := make([]domain.RawRelationship, 0, len(wire))
	for _, w := range wire {
		relType := domain.RelationshipType(strings.ToLower(w.Type))
		switch relType {
		case domain.RelationshipSupplier, domain.RelationshipCustomer, domain.RelationshipPartner:
		default:
			relType = domain.RelationshipSupplier
		}
		criticality := domain.Criticality(strings.ToLower(w.Criticality))
		switch criticality {
		case domain.CriticalityCritical, domain.CriticalityHigh, domain.CriticalityMedium, domain.CriticalityLow:
		default:
			criticality = domain.CriticalityMedium
		}
		out = append(out, domain.RawRelationship{
			RelatedCompany: w.RelatedCompany,
			Type:           relType,
			Criticality:    criticality,
			Evidence:       w.Evidence,
		})
	}
	return out, nil
}
