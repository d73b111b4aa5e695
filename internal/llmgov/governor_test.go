package llmgov

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/impactengine/internal/apperrors"
	"github.com/aristath/impactengine/internal/config"
	"github.com/aristath/impactengine/internal/database"
	"github.com/aristath/impactengine/internal/store"
)

type stubCaller struct {
	calls   int
	failN   int // fail the first failN calls, then succeed
	text    string
	lastErr error
}

func (s *stubCaller) Call(ctx context.Context, apiKey, model, prompt string) (string, error) {
	s.calls++
	if s.calls <= s.failN {
		return "", s.lastErr
	}
	return s.text, nil
}

// rotationCaller records the (apiKey, model) pair used on each call and
// fails every call up to failN, classifying each failure as rate-limited or
// not per rateLimited.
type rotationCaller struct {
	calls       int
	failN       int
	rateLimited []bool // rateLimited[i] classifies the failure on call i+1
	seenKeys    []string
	seenModels  []string
}

func (r *rotationCaller) Call(ctx context.Context, apiKey, model, prompt string) (string, error) {
	r.seenKeys = append(r.seenKeys, apiKey)
	r.seenModels = append(r.seenModels, model)
	r.calls++
	if r.calls <= r.failN {
		if r.calls-1 < len(r.rateLimited) && r.rateLimited[r.calls-1] {
			return "", RateLimited(errors.New("429 too many requests"))
		}
		return "", errors.New("transient error")
	}
	return "live result", nil
}

func setupTestGovernor(t *testing.T, caller Caller) (*Governor, *store.Store) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "test_llmgov_*.db")
	require.NoError(t, err)
	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	t.Cleanup(func() { _ = os.Remove(tmpPath) })

	db, err := database.New(database.Config{Path: tmpPath, Profile: database.ProfileStandard, Name: "impactengine"})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })

	st := store.New(db, zerolog.Nop())
	cfg := &config.Config{
		RateLimitPerMinute: 600,
		RetryMax:           2,
		RetryBaseSeconds:   0.001,
		RetryMultiplier:    2,
		GovernorAPIKeys:    []string{"key-a", "key-b"},
		GovernorModels:     []string{"model-a", "model-b"},
	}
	return New(cfg, st, caller, zerolog.Nop()), st
}

func TestGovernor_NoCaller_AlwaysFallsBack(t *testing.T) {
	g, _ := setupTestGovernor(t, nil)

	res, err := g.Generate(context.Background(), "classifier", "prompt text", "schema", func() (string, error) {
		return "heuristic result", nil
	})
	require.NoError(t, err)
	assert.True(t, res.Heuristic)
	assert.Equal(t, "heuristic result", res.Text)
}

func TestGovernor_SucceedsAfterRetries(t *testing.T) {
	caller := &stubCaller{failN: 1, text: "live result", lastErr: errors.New("transient error")}
	g, _ := setupTestGovernor(t, caller)

	res, err := g.Generate(context.Background(), "classifier", "prompt", "schema", func() (string, error) {
		return "should not be used", nil
	})
	require.NoError(t, err)
	assert.False(t, res.Heuristic)
	assert.Equal(t, "live result", res.Text)
	assert.Equal(t, 2, caller.calls)
}

func TestGovernor_ExhaustsRetriesThenFallsBack(t *testing.T) {
	caller := &stubCaller{failN: 100, lastErr: errors.New("permanent error")}
	g, _ := setupTestGovernor(t, caller)

	res, err := g.Generate(context.Background(), "classifier", "prompt", "schema", func() (string, error) {
		return "heuristic result", nil
	})
	require.NoError(t, err)
	assert.True(t, res.Heuristic)
	assert.Equal(t, "heuristic result", res.Text)
}

func TestGovernor_CachesLiveResults(t *testing.T) {
	caller := &stubCaller{text: "live result"}
	g, _ := setupTestGovernor(t, caller)
	ctx := context.Background()

	_, err := g.Generate(ctx, "classifier", "prompt", "schema", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, caller.calls)

	res, err := g.Generate(ctx, "classifier", "prompt", "schema", nil)
	require.NoError(t, err)
	assert.Equal(t, "live result", res.Text)
	assert.Equal(t, 1, caller.calls, "second call should be served from cache")
}

func TestGovernor_RotationIsAsymmetricByFailureType(t *testing.T) {
	// failN=2: first call fails with a plain transient error (should only
	// advance the model pointer), second call fails with a rate-limit error
	// (should only advance the key pointer), third call succeeds.
	caller := &rotationCaller{failN: 2, rateLimited: []bool{false, true}}
	g, _ := setupTestGovernor(t, caller)

	res, err := g.Generate(context.Background(), "classifier", "prompt", "schema", nil)
	require.NoError(t, err)
	assert.False(t, res.Heuristic)

	require.Equal(t, []string{"key-a", "key-a", "key-b"}, caller.seenKeys,
		"a non-rate-limit failure must not rotate the key")
	require.Equal(t, []string{"model-a", "model-b", "model-b"}, caller.seenModels,
		"a rate-limit failure must not rotate the model")
}

func TestGovernor_FallbackErrorIsSoft(t *testing.T) {
	g, _ := setupTestGovernor(t, nil)

	_, err := g.Generate(context.Background(), "classifier", "prompt", "schema", func() (string, error) {
		return "", errors.New("heuristic broke")
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsSoft(err))
}
