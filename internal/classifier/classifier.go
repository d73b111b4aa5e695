// Package classifier implements the Classifier (C3, spec §4.3): it assigns
// one of the ten closed-taxonomy factors (internal/domain.Factor) to an
// article, along with a sentiment score and a confidence figure, either via
// the LLM Governor or via a deterministic keyword heuristic when the
// Governor degrades.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aristath/impactengine/internal/domain"
	"github.com/aristath/impactengine/internal/llmgov"
)

const schemaHint = `{"factor":"<one of the ten factor names>","sentiment_score":<-1..1>,"confidence":<0..1>,"reasoning":"<string>","affected_sectors":["..."]}`

// Classifier assigns a Factor, sentiment, and confidence to an article.
type Classifier struct {
	gov *llmgov.Governor
	log zerolog.Logger
}

// New creates a Classifier bound to the given Governor.
func New(gov *llmgov.Governor, log zerolog.Logger) *Classifier {
	return &Classifier{gov: gov, log: log.With().Str("component", "classifier").Logger()}
}

// rawClassification is the wire shape the Governor (or the heuristic
// fallback) produces; it is parsed and then clamped/coerced into a
// domain.Classification.
type rawClassification struct {
	Factor          string   `json:"factor"`
	SentimentScore  float64  `json:"sentiment_score"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	AffectedSectors []string `json:"affected_sectors"`
}

// Classify assigns a factor, sentiment score, and confidence to article
// (spec §4.3).
func (c *Classifier) Classify(ctx context.Context, article domain.Article) (domain.Classification, error) {
	prompt := buildPrompt(article)

	result, err := c.gov.Generate(ctx, "classifier", prompt, schemaHint, func() (string, error) {
		return heuristicClassify(article), nil
	})
	if err != nil {
		return domain.Classification{}, fmt.Errorf("classifier governor call failed: %w", err)
	}

	raw, err := parseResponse(result.Text)
	if err != nil {
		c.log.Warn().Err(err).Str("article_id", article.ID).Msg("failed to parse classifier response, falling back to keyword heuristic")
		raw, err = parseResponse(heuristicClassify(article))
		if err != nil {
			return domain.Classification{}, fmt.Errorf("heuristic classification response unparsable: %w", err)
		}
		result.Heuristic = true
	}

	return coerce(article.ID, raw, result.Heuristic), nil
}

func buildPrompt(article domain.Article) string {
	var b strings.Builder
	b.WriteString("Classify the market factor driving this article, score its sentiment in [-1,1], and state your confidence in [0,1].\n")
	b.WriteString("Factors:\n")
	for f := domain.FactorMacroeconomic; f <= domain.FactorBlackSwan; f++ {
		b.WriteString(fmt.Sprintf("- %s\n", f.Name()))
	}
	b.WriteString("\nTitle: ")
	b.WriteString(article.Title)
	b.WriteString("\nBody: ")
	b.WriteString(article.Body)
	b.WriteString("\n\nRespond as JSON matching: ")
	b.WriteString(schemaHint)
	return b.String()
}

func parseResponse(text string) (rawClassification, error) {
	var raw rawClassification
	trimmed := strings.TrimSpace(text)
	if start := strings.Index(trimmed, "{"); start > 0 {
		trimmed = trimmed[start:]
	}
	if end := strings.LastIndex(trimmed, "}"); end >= 0 && end < len(trimmed)-1 {
		trimmed = trimmed[:end+1]
	}
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return rawClassification{}, fmt.Errorf("failed to unmarshal classifier response: %w", err)
	}
	return raw, nil
}

// coerce clamps and validates a raw response into a domain.Classification
// (spec §4.3: "coerce factor name to factor id via case-insensitive exact
// match; clamp sentiment to [-1,1] and confidence to [0,1]").
func coerce(articleID string, raw rawClassification, heuristic bool) domain.Classification {
	factor, ok := domain.FactorByName(raw.Factor)
	if !ok {
		factor, ok = domain.FactorByKeyword(raw.Reasoning)
	}
	if !ok {
		factor = domain.FactorMarketSentiment // closed-taxonomy default when nothing matches
	}

	return domain.Classification{
		ArticleID:       articleID,
		Factor:          factor,
		SentimentScore:  clamp(raw.SentimentScore, -1.0, 1.0),
		Confidence:      clamp(raw.Confidence, 0.0, 1.0),
		Reasoning:       raw.Reasoning,
		AffectedSectors: raw.AffectedSectors,
		Heuristic:       heuristic,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// heuristicClassify produces a deterministic JSON response using keyword
// matching over the closed taxonomy and a small polarity lexicon, used when
// the Governor has no configured Caller or exhausts its retries (spec §4.3).
// Confidence is fixed at 0.5: a heuristic match is never asserted with the
// same confidence a live model call could earn.
func heuristicClassify(article domain.Article) string {
	text := article.Title + " " + article.Body
	factor, ok := domain.FactorByKeyword(text)
	if !ok {
		factor = domain.FactorMarketSentiment
	}

	sentiment := polarityScore(text)

	raw := rawClassification{
		Factor:         factor.Name(),
		SentimentScore: sentiment,
		Confidence:     0.5,
		Reasoning:      "heuristic keyword match, no live model response available",
	}
	encoded, _ := json.Marshal(raw)
	return string(encoded)
}

var positiveWords = []string{"beat", "growth", "rally", "surge", "record profit", "breakthrough", "innovation", "upgrade", "expansion"}
var negativeWords = []string{"shortage", "halt", "recession", "selloff", "bankruptcy", "crisis", "collapse", "downgrade", "lawsuit", "cyberattack"}

// polarityScore returns a sentiment estimate in [-1,1] from simple lexicon
// counting: (positive - negative) / (positive + negative), zero if neither
// lexicon matches.
func polarityScore(text string) float64 {
	lower := strings.ToLower(text)
	pos, neg := 0, 0
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			pos++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			neg++
		}
	}
	if pos+neg == 0 {
		return 0.0
	}
	return float64(pos-neg) / float64(pos+neg)
}
