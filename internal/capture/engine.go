// Package capture implements the producer side of the hivemind memory core:
// policy-driven helpers that turn domain events (a practice that worked, a
// failure, an insight, a detected pattern) into memory records and decide
// whether to replicate them to the rest of the hive.
//
// The memory core itself never auto-shares; these policies deliberately live
// outside it so embedders can substitute their own.
package capture

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/normanking/hivemind/internal/memory"
)

// Store is the slice of the hive the engine needs: record submission and
// replication.
type Store interface {
	Submit(ctx context.Context, nodeID string, category memory.Category, content map[string]any, tags []string, confidence float64) (*memory.Memory, error)
	Share(ctx context.Context, sourceNode string, mem *memory.Memory, targetNodes ...string) ([]memory.ShareResult, error)
}

// Config holds the auto-share policy knobs.
type Config struct {
	// PracticeShareThreshold: practices with fitness above this are shared.
	PracticeShareThreshold float64 `mapstructure:"practice_share_threshold" yaml:"practice_share_threshold"`
	// PatternShareThreshold: patterns with confidence above this are shared.
	PatternShareThreshold float64 `mapstructure:"pattern_share_threshold" yaml:"pattern_share_threshold"`
	// ShareFailures: when true, failures are always replicated so every node
	// learns from every node's mistakes.
	ShareFailures bool `mapstructure:"share_failures" yaml:"share_failures"`
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		PracticeShareThreshold: 0.8,
		PatternShareThreshold:  0.75,
		ShareFailures:          true,
	}
}

// Engine captures domain knowledge into a node's arm and applies the
// auto-share policy.
type Engine struct {
	store Store
	cfg   Config
}

// NewEngine creates an engine over the given store.
func NewEngine(store Store, cfg Config) *Engine {
	return &Engine{store: store, cfg: cfg}
}

// RecordPractice captures a successful practice together with the
// performance that proved it. Confidence is the measured fitness; practices
// fit enough to clear the threshold are shared with the rest of the hive.
func (e *Engine) RecordPractice(ctx context.Context, nodeID string, practice, performance map[string]any) (*memory.Memory, error) {
	fitness := floatField(performance, "fitness")

	content := map[string]any{
		"practice":      practice,
		"performance":   performance,
		"fitness_score": fitness,
	}
	tags := []string{"successful", stringField(practice, "domain", "general")}

	mem, err := e.store.Submit(ctx, nodeID, memory.CategoryPractice, content, tags, fitness)
	if err != nil {
		return nil, fmt.Errorf("record practice: %w", err)
	}

	if fitness > e.cfg.PracticeShareThreshold {
		if _, err := e.store.Share(ctx, nodeID, mem); err != nil {
			return nil, fmt.Errorf("share practice: %w", err)
		}
	}

	return mem, nil
}

// RecordFailure captures a failure pattern. Failures are facts, so they get
// full confidence, and (by default policy) are always shared so the other
// arms learn from the mistake.
func (e *Engine) RecordFailure(ctx context.Context, nodeID string, failure map[string]any) (*memory.Memory, error) {
	tags := []string{"failure", stringField(failure, "failure_type", "unknown")}

	mem, err := e.store.Submit(ctx, nodeID, memory.CategoryFailure, failure, tags, 1.0)
	if err != nil {
		return nil, fmt.Errorf("record failure: %w", err)
	}

	if e.cfg.ShareFailures {
		if _, err := e.store.Share(ctx, nodeID, mem); err != nil {
			return nil, fmt.Errorf("share failure: %w", err)
		}
	}

	return mem, nil
}

// insightConfidence reflects that insights are hypotheses, not facts.
const insightConfidence = 0.7

// RecordInsight captures an emergent understanding with its surrounding
// context. Insights stay local until they harden into practices.
func (e *Engine) RecordInsight(ctx context.Context, nodeID, insight string, contextData map[string]any) (*memory.Memory, error) {
	content := map[string]any{
		"insight":      insight,
		"context":      contextData,
		"derived_from": anyField(contextData, "source_memories", []any{}),
	}
	tags := []string{"insight", stringField(contextData, "domain", "general")}

	mem, err := e.store.Submit(ctx, nodeID, memory.CategoryInsight, content, tags, insightConfidence)
	if err != nil {
		return nil, fmt.Errorf("record insight: %w", err)
	}

	return mem, nil
}

// RecordPattern captures a pattern detected across multiple memories.
// Confidence comes from the pattern payload itself (default 0.5); confident
// patterns are shared.
func (e *Engine) RecordPattern(ctx context.Context, nodeID string, pattern map[string]any) (*memory.Memory, error) {
	confidence := floatField(pattern, "confidence")
	if confidence == 0 {
		confidence = 0.5
	}
	tags := []string{"pattern", stringField(pattern, "pattern_type", "unknown")}

	mem, err := e.store.Submit(ctx, nodeID, memory.CategoryPattern, pattern, tags, confidence)
	if err != nil {
		return nil, fmt.Errorf("record pattern: %w", err)
	}

	if confidence > e.cfg.PatternShareThreshold {
		if _, err := e.store.Share(ctx, nodeID, mem); err != nil {
			return nil, fmt.Errorf("share pattern: %w", err)
		}
	}

	log.Debug().
		Str("node", nodeID).
		Str("memory_id", mem.ID).
		Float64("confidence", confidence).
		Msg("pattern captured")

	return mem, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// PAYLOAD FIELD HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func floatField(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func stringField(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

func anyField(m map[string]any, key string, fallback any) any {
	if v, ok := m[key]; ok {
		return v
	}
	return fallback
}
