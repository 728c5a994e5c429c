package capture

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/hivemind/internal/memory"
)

// ══════════════════════════════════════════════════════════════════════════════
// TEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

type submitCall struct {
	nodeID     string
	category   memory.Category
	content    map[string]any
	tags       []string
	confidence float64
}

// fakeStore records Submit and Share calls so policy decisions can be
// asserted without a real hive.
type fakeStore struct {
	submits []submitCall
	shares  []string // memory ids passed to Share
}

func (s *fakeStore) Submit(_ context.Context, nodeID string, category memory.Category, content map[string]any, tags []string, confidence float64) (*memory.Memory, error) {
	s.submits = append(s.submits, submitCall{nodeID, category, content, tags, confidence})
	id, err := memory.ContentID(content)
	if err != nil {
		return nil, err
	}
	return &memory.Memory{
		ID:         id,
		Category:   category,
		Content:    content,
		OriginNode: nodeID,
		Confidence: confidence,
		Tags:       tags,
	}, nil
}

func (s *fakeStore) Share(_ context.Context, _ string, mem *memory.Memory, _ ...string) ([]memory.ShareResult, error) {
	s.shares = append(s.shares, mem.ID)
	return nil, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PRACTICE
// ══════════════════════════════════════════════════════════════════════════════

func TestEngine_RecordPractice_FitEnoughIsShared(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store, DefaultConfig())

	practice := map[string]any{"name": "exponential_backoff", "domain": "api"}
	performance := map[string]any{"fitness": 0.92, "latency_ms": 40}

	mem, err := engine.RecordPractice(context.Background(), "node_a", practice, performance)
	require.NoError(t, err)

	require.Len(t, store.submits, 1)
	call := store.submits[0]
	assert.Equal(t, memory.CategoryPractice, call.category)
	assert.Equal(t, 0.92, call.confidence, "confidence is the measured fitness")
	assert.Equal(t, []string{"successful", "api"}, call.tags)
	assert.Equal(t, 0.92, call.content["fitness_score"])

	assert.Equal(t, []string{mem.ID}, store.shares)
}

func TestEngine_RecordPractice_BelowThresholdStaysLocal(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store, DefaultConfig())

	_, err := engine.RecordPractice(context.Background(), "node_a",
		map[string]any{"name": "guess"},
		map[string]any{"fitness": 0.5})
	require.NoError(t, err)

	require.Len(t, store.submits, 1)
	assert.Equal(t, "general", store.submits[0].tags[1], "missing domain falls back")
	assert.Empty(t, store.shares)
}

func TestEngine_RecordPractice_ThresholdIsExclusive(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store, DefaultConfig())

	_, err := engine.RecordPractice(context.Background(), "node_a",
		map[string]any{"name": "edge"},
		map[string]any{"fitness": 0.8})
	require.NoError(t, err)

	assert.Empty(t, store.shares, "fitness exactly at the threshold is not shared")
}

// ══════════════════════════════════════════════════════════════════════════════
// FAILURE
// ══════════════════════════════════════════════════════════════════════════════

func TestEngine_RecordFailure_AlwaysFullConfidenceAndShared(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store, DefaultConfig())

	mem, err := engine.RecordFailure(context.Background(), "node_a",
		map[string]any{"failure_type": "timeout", "detail": "upstream hung"})
	require.NoError(t, err)

	require.Len(t, store.submits, 1)
	call := store.submits[0]
	assert.Equal(t, memory.CategoryFailure, call.category)
	assert.Equal(t, 1.0, call.confidence, "a failure that happened is a fact")
	assert.Equal(t, []string{"failure", "timeout"}, call.tags)
	assert.Equal(t, []string{mem.ID}, store.shares)
}

func TestEngine_RecordFailure_SharingCanBeDisabled(t *testing.T) {
	store := &fakeStore{}
	cfg := DefaultConfig()
	cfg.ShareFailures = false
	engine := NewEngine(store, cfg)

	_, err := engine.RecordFailure(context.Background(), "node_a",
		map[string]any{"failure_type": "oom"})
	require.NoError(t, err)

	assert.Empty(t, store.shares)
}

// ══════════════════════════════════════════════════════════════════════════════
// INSIGHT
// ══════════════════════════════════════════════════════════════════════════════

func TestEngine_RecordInsight_NeverShared(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store, DefaultConfig())

	mem, err := engine.RecordInsight(context.Background(), "node_a",
		"retries amplify load during incidents",
		map[string]any{"domain": "reliability", "source_memories": []any{"abc123"}})
	require.NoError(t, err)

	require.Len(t, store.submits, 1)
	call := store.submits[0]
	assert.Equal(t, memory.CategoryInsight, call.category)
	assert.Equal(t, 0.7, call.confidence)
	assert.Equal(t, []string{"insight", "reliability"}, call.tags)
	assert.Equal(t, "retries amplify load during incidents", call.content["insight"])
	assert.Empty(t, store.shares, "insights stay local")
	assert.NotNil(t, mem)
}

// ══════════════════════════════════════════════════════════════════════════════
// PATTERN
// ══════════════════════════════════════════════════════════════════════════════

func TestEngine_RecordPattern_ConfidentPatternIsShared(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store, DefaultConfig())

	mem, err := engine.RecordPattern(context.Background(), "node_a",
		map[string]any{"pattern_type": "recurrence", "confidence": 0.8})
	require.NoError(t, err)

	require.Len(t, store.submits, 1)
	assert.Equal(t, memory.CategoryPattern, store.submits[0].category)
	assert.Equal(t, 0.8, store.submits[0].confidence)
	assert.Equal(t, []string{"pattern", "recurrence"}, store.submits[0].tags)
	assert.Equal(t, []string{mem.ID}, store.shares)
}

func TestEngine_RecordPattern_DefaultsConfidenceAndStaysLocal(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store, DefaultConfig())

	_, err := engine.RecordPattern(context.Background(), "node_a",
		map[string]any{"pattern_type": "drift"})
	require.NoError(t, err)

	require.Len(t, store.submits, 1)
	assert.Equal(t, 0.5, store.submits[0].confidence)
	assert.Empty(t, store.shares, "0.5 is under the pattern threshold")
}
