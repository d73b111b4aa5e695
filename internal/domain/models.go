package domain

import "time"

// Article is an ingested news item. It is immutable after ingestion and is
// retained indefinitely; alerts reference it by ID (spec §3).
type Article struct {
	PublishedAt time.Time `json:"published_at"`
	ID          string    `json:"id"` // derived from the canonical URL
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	Tickers     []string  `json:"tickers"` // companies mentioned
}

// Classification is the Classifier's (C3) output, attached to an Article.
type Classification struct {
	ArticleID       string   `json:"article_id"`
	Reasoning       string   `json:"reasoning"`
	Factor          Factor   `json:"factor"`
	SentimentScore  float64  `json:"sentiment_score"` // in [-1.0, +1.0]
	Confidence      float64  `json:"confidence"`      // in [0, 1]
	AffectedSectors []string `json:"affected_sectors"`
	Heuristic       bool     `json:"heuristic"` // true if produced by fallback, not the Governor
}

// Company is created on first reference to a ticker; only IsPortfolio is
// mutable thereafter.
type Company struct {
	Ticker      string `json:"ticker"` // primary key, uppercased
	DisplayName string `json:"display_name"`
	Sector      string `json:"sector"`
	IsPortfolio bool   `json:"is_portfolio"`
}

// RelationshipType enumerates the directed supply-chain edge types.
type RelationshipType string

const (
	RelationshipSupplier RelationshipType = "supplier"
	RelationshipCustomer RelationshipType = "customer"
	RelationshipPartner  RelationshipType = "partner"
	// RelationshipDirect is a synthetic type used only for direct impact
	// records (spec §4.6); it is never persisted via upsert_relationships.
	RelationshipDirect RelationshipType = "direct"
)

// Criticality is the ordinal strength of a supply-chain link: critical >
// high > medium > low.
type Criticality string

const (
	CriticalityCritical Criticality = "critical"
	CriticalityHigh     Criticality = "high"
	CriticalityMedium   Criticality = "medium"
	CriticalityLow      Criticality = "low"
)

// criticalityRank gives the ordinal rank used by the Fusion Operator (higher
// is stronger) and the Impact Calculator's multiplier lookup.
var criticalityRank = map[Criticality]int{
	CriticalityCritical: 4,
	CriticalityHigh:     3,
	CriticalityMedium:   2,
	CriticalityLow:      1,
}

// Rank returns the ordinal strength of c; unknown values rank below "low".
func (c Criticality) Rank() int {
	return criticalityRank[c]
}

// Outranks reports whether c is strictly more critical than other.
func (c Criticality) Outranks(other Criticality) bool {
	return c.Rank() > other.Rank()
}

// DiscoverySource labels which probe or operator produced a relationship.
type DiscoverySource string

const (
	SourceSECEdgar     DiscoverySource = "sec_edgar"
	SourceNewsReport   DiscoverySource = "news_report"
	SourceLLMInference DiscoverySource = "llm_inference"
	SourceManual       DiscoverySource = "manual"
	SourceWebScrape    DiscoverySource = "web_scrape"
)

// Relationship is a directed edge source_ticker -> target_ticker (spec §3).
// Uniqueness key is (SourceTicker, TargetTicker, Type). Confidence may
// increase monotonically via fusion; it never decreases silently.
type Relationship struct {
	LastVerified time.Time         `json:"last_verified"`
	SourceTicker string            `json:"source_ticker"`
	TargetTicker string            `json:"target_ticker"`
	Type         RelationshipType  `json:"type"`
	Criticality  Criticality       `json:"criticality"`
	Evidence     []string          `json:"evidence"`
	Sources      []DiscoverySource `json:"sources"`
	Confidence   float64           `json:"confidence"` // in (0, 1]
}

// RawRelationship is the unfused output of a single discovery probe (spec
// §4.4, §6.3), before the Fusion Operator (C5) merges multi-source evidence.
type RawRelationship struct {
	RelatedCompany string
	Type           RelationshipType
	Criticality    Criticality
	Evidence       string
	Source         DiscoverySource
	Confidence     float64
}

// HistoricalPrecedent is a seeded, read-only-at-runtime record used by the
// Impact Calculator (C6) to damp or amplify new impacts classified under the
// same factor (spec §3).
type HistoricalPrecedent struct {
	Date            time.Time `json:"date"`
	EventType       string    `json:"event_type"`
	EventName       string    `json:"event_name"`
	Description     string    `json:"description"`
	ImpactMagnitude float64   `json:"impact_magnitude"` // strictly positive
}

// Holding is a portfolio position snapshot the core reads as an input to a
// single workflow invocation; it is owned by the user context (spec §3).
type Holding struct {
	UserID       string  `json:"user_id"`
	Ticker       string  `json:"ticker"`
	Quantity     float64 `json:"quantity"`
	AvgPrice     float64 `json:"avg_price"`
	CurrentPrice float64 `json:"current_price"`
}

// Value returns the current market value of the holding.
func (h Holding) Value() float64 {
	return h.Quantity * h.CurrentPrice
}

// Severity bands a portfolio-level impact percentage (spec §4.6).
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AlertStatus tracks whether an alert is still actionable.
type AlertStatus string

const (
	AlertStatusActive    AlertStatus = "active"
	AlertStatusDismissed AlertStatus = "dismissed"
)

// Alert is the engine's terminal output: a portfolio-impact notification with
// an auditable reasoning trail (spec §3, §6.4).
type Alert struct {
	CreatedAt        time.Time   `json:"created_at"`
	ID               string      `json:"id"`
	Headline         string      `json:"headline"`
	Severity         Severity    `json:"severity"`
	TriggerArticleID string      `json:"trigger_article_id"`
	Status           AlertStatus `json:"status"`
	ImpactPercent    float64     `json:"impact_percent"`
}

// ReasoningLevel distinguishes direct (level 1) from indirect, one-hop
// (level 2) causal steps. Level 3 is reserved for future multi-hop
// propagation and is accepted by the Store but never emitted by C6.
type ReasoningLevel int

const (
	ReasoningLevelDirect   ReasoningLevel = 1
	ReasoningLevelIndirect ReasoningLevel = 2
	ReasoningLevelExtended ReasoningLevel = 3
)

// ReasoningStep is one row of an alert's persisted causal trail (spec §3).
type ReasoningStep struct {
	AlertID    string         `json:"alert_id"`
	Ticker     string         `json:"ticker"`
	Reasoning  string         `json:"reasoning"`
	Level      ReasoningLevel `json:"level"`
	Confidence float64        `json:"confidence"`
}

// ImpactRecord is one stock-level impact computed by C6; it becomes a
// ReasoningStep once an alert is saved (spec §4.6).
type ImpactRecord struct {
	Ticker        string
	Reason        string
	RelatedTicker string // the source of the relationship hop, empty for direct
	ArticleID     string // the article that produced this record; not persisted, used to pick an alert's trigger article
	Level         ReasoningLevel
	ImpactPercent float64
	Confidence    float64
}

// AlertEgress is the wire shape the core hands to the (out-of-scope)
// consumer surface (spec §6.4).
type AlertEgress struct {
	CreatedAt        time.Time       `json:"created_at"`
	ID               string          `json:"id"`
	Headline         string          `json:"headline"`
	Severity         Severity        `json:"severity"`
	TriggerArticleID string          `json:"trigger_article_id"`
	FullReasoning    string          `json:"full_reasoning"`
	ReasoningTrail   []ReasoningStep `json:"reasoning_trail"`
	SourceURLs       []string        `json:"source_urls"`
	ImpactPercent    float64         `json:"impact_percent"`
}

// UsageRecord is one day's accounting line for the LLM Governor (spec §4.2).
type UsageRecord struct {
	Day           string  `json:"day"` // YYYY-MM-DD
	InputChars    int64   `json:"input_chars"`
	OutputChars   int64   `json:"output_chars"`
	EstimatedCost float64 `json:"estimated_cost"`
}
