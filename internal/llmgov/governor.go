// Package llmgov implements the LLM Governor (C2, spec §4.2): every call the
// engine makes to a language model — classification and relationship
// induction — passes through here so rate limiting, retries, key
// rotation, response caching, usage accounting, and the heuristic fallback
// are handled in exactly one place.
package llmgov

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aristath/impactengine/internal/apperrors"
	"github.com/aristath/impactengine/internal/config"
	"github.com/aristath/impactengine/internal/store"
)

// cacheTTL bounds how long an identical (component, prompt, schema_hint)
// triple skips a live call (spec §4.2).
const cacheTTL = 6 * time.Hour

// Caller is the swappable LLM backend. A real implementation talks to
// whichever provider's HTTP API; tests and offline runs can supply a stub.
// A nil Caller makes every Generate call go straight to its fallback. A
// Caller that fails due to provider rate limiting (HTTP 429 or equivalent)
// must wrap the returned error with RateLimited so rotate() can tell it
// apart from any other transient failure (spec §4.2).
type Caller interface {
	Call(ctx context.Context, apiKey, model, prompt string) (text string, err error)
}

// ErrRateLimited marks a Caller failure as provider rate limiting rather
// than an ordinary transient error.
var ErrRateLimited = errors.New("llm call rate limited")

// RateLimited wraps err to mark it as a rate-limit failure.
func RateLimited(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrRateLimited, err)
}

// IsRateLimited reports whether err (or anything it wraps) is a rate-limit
// failure.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// Result is one Governor response, whether live or heuristic.
type Result struct {
	Text      string `msgpack:"text"`
	Model     string `msgpack:"model"`
	Heuristic bool   `msgpack:"heuristic"`
}

// Governor is the single choke point for LLM access.
type Governor struct {
	cfg     *config.Config
	store   *store.Store
	caller  Caller
	limiter *rate.Limiter
	log     zerolog.Logger

	mu       sync.Mutex
	keyIdx   int
	modelIdx int
}

// New creates a Governor. caller may be nil, in which case every call
// degrades straight to its supplied fallback (useful for tests and for
// running the engine with no LLM credentials configured at all).
func New(cfg *config.Config, st *store.Store, caller Caller, log zerolog.Logger) *Governor {
	perMinute := cfg.RateLimitPerMinute
	if perMinute <= 0 {
		perMinute = 1
	}
	return &Governor{
		cfg:     cfg,
		store:   st,
		caller:  caller,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		log:     log.With().Str("component", "llm_governor").Logger(),
	}
}

// Generate produces text for component's prompt, retrying with key/model
// rotation on failure and degrading to fallback once retries are exhausted
// (spec §4.2). fallback must be deterministic and side-effect free; it is
// also invoked directly when no Caller is configured.
func (g *Governor) Generate(ctx context.Context, component, prompt, schemaHint string, fallback func() (string, error)) (Result, error) {
	key := cacheKey(component, prompt, schemaHint)

	var cached Result
	if ok, err := g.store.CacheGet(ctx, key, &cached); err != nil {
		g.log.Warn().Err(err).Msg("cache lookup failed, proceeding without it")
	} else if ok {
		return cached, nil
	}

	if g.caller == nil {
		return g.fallback(ctx, component, prompt, key, fallback)
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return Result{}, apperrors.Fatal(fmt.Errorf("rate limiter wait: %w", err))
	}

	apiKey, model := g.current()

	var lastErr error
	for attempt := 0; attempt <= g.cfg.RetryMax; attempt++ {
		text, err := g.caller.Call(ctx, apiKey, model, prompt)
		if err == nil {
			res := Result{Text: text, Model: model}
			g.recordSuccess(ctx, component, prompt, key, res)
			return res, nil
		}

		lastErr = err
		g.log.Warn().Err(err).Str("component", component).Int("attempt", attempt).Msg("llm call failed")

		if attempt == g.cfg.RetryMax {
			break
		}
		// Spec §4.2's asymmetric rotation rule: a 429 means this key is
		// throttled, so rotate the key; any other failure means this
		// (key, model) pair isn't working, so rotate the model instead.
		apiKey, model = g.rotate(IsRateLimited(err))
		select {
		case <-time.After(g.cfg.RetryDelay(attempt)):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	g.log.Warn().Err(lastErr).Str("component", component).Msg("retries exhausted, degrading to heuristic fallback")
	return g.fallback(ctx, component, prompt, key, fallback)
}

func (g *Governor) recordSuccess(ctx context.Context, component, prompt, cacheK string, res Result) {
	if err := g.store.CacheSet(ctx, cacheK, res, cacheTTL); err != nil {
		g.log.Warn().Err(err).Msg("failed to cache governor response")
	}
	if err := g.store.AppendAgentLog(ctx, component, prompt, false, res); err != nil {
		g.log.Warn().Err(err).Msg("failed to append agent log")
	}
	if err := g.store.RecordUsage(ctx, int64(len(prompt)), int64(len(res.Text)), estimateCost(prompt, res.Text)); err != nil {
		g.log.Warn().Err(err).Msg("failed to record usage")
	}
}

func (g *Governor) fallback(ctx context.Context, component, prompt, cacheK string, fallback func() (string, error)) (Result, error) {
	text, err := fallback()
	if err != nil {
		return Result{}, apperrors.Soft(fmt.Errorf("heuristic fallback for %s failed: %w", component, err))
	}
	res := Result{Text: text, Heuristic: true}

	if err := g.store.AppendAgentLog(ctx, component, prompt, true, res); err != nil {
		g.log.Warn().Err(err).Msg("failed to append heuristic agent log")
	}
	// Heuristic results are cheap to recompute and not the Governor's live
	// response, so they are logged but never cached or billed.
	_ = cacheK
	return res, nil
}

// current returns the (key, model) pair at the round-robin's present
// position, without advancing either pointer.
func (g *Governor) current() (apiKey, model string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pairLocked()
}

// rotate advances exactly one pointer — the key pointer on a rate-limit
// failure, the model pointer on any other failure — and returns the new
// pair to use for the next attempt (spec §4.2: "on repeated failure of the
// current (key, model) pair, advance the model pointer; on repeated 429
// across retries, advance the key pointer").
func (g *Governor) rotate(rateLimited bool) (apiKey, model string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if rateLimited {
		g.keyIdx++
	} else {
		g.modelIdx++
	}
	return g.pairLocked()
}

// pairLocked reads the current (key, model) pair. Callers must hold g.mu.
func (g *Governor) pairLocked() (apiKey, model string) {
	if len(g.cfg.GovernorAPIKeys) > 0 {
		apiKey = g.cfg.GovernorAPIKeys[g.keyIdx%len(g.cfg.GovernorAPIKeys)]
	}
	if len(g.cfg.GovernorModels) > 0 {
		model = g.cfg.GovernorModels[g.modelIdx%len(g.cfg.GovernorModels)]
	}
	return apiKey, model
}

func cacheKey(component, prompt, schemaHint string) string {
	h := sha256.Sum256([]byte(component + "\x00" + prompt + "\x00" + schemaHint))
	return hex.EncodeToString(h[:])
}

// estimateCost is a placeholder linear cost model (chars-based); providers'
// actual per-token pricing is an external-collaborator concern (spec §1).
func estimateCost(prompt, response string) float64 {
	const costPerThousandChars = 0.002
	total := float64(len(prompt) + len(response))
	return total / 1000.0 * costPerThousandChars
}
