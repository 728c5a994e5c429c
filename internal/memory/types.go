// Package memory implements the hivemind distributed memory core: per-node
// arm stores holding content-addressed records, and a hive coordinator that
// replicates records between arms and computes consensus across them.
//
// Arms own disjoint storage; all cross-arm interaction goes through the hive.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// CATEGORIES
// ══════════════════════════════════════════════════════════════════════════════

// Category classifies the nature of a memory record. The set is closed:
// every record belongs to exactly one of the four categories below, fixed at
// creation.
type Category string

const (
	CategoryPractice Category = "practice" // Proven approach worth repeating
	CategoryFailure  Category = "failure"  // Something that went wrong
	CategoryInsight  Category = "insight"  // Emergent understanding
	CategoryPattern  Category = "pattern"  // Recurring structure across memories
)

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// IsValid returns true if the category is one of the four known kinds.
func (c Category) IsValid() bool {
	switch c {
	case CategoryPractice, CategoryFailure, CategoryInsight, CategoryPattern:
		return true
	default:
		return false
	}
}

// AllCategories returns the categories in their canonical order. Recall scans
// categories in this order, so it must stay stable.
func AllCategories() []Category {
	return []Category{CategoryPractice, CategoryFailure, CategoryInsight, CategoryPattern}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// ErrNotFound is returned when a record or node id does not exist.
	ErrNotFound = errors.New("memory: not found")

	// ErrAlreadyRegistered is returned when a node id is registered twice.
	ErrAlreadyRegistered = errors.New("memory: node already registered")

	// ErrInvalidConfidence is returned when confidence is outside [0, 1].
	// Out-of-range values are rejected, never clamped.
	ErrInvalidConfidence = errors.New("memory: confidence must be in [0, 1]")

	// ErrInvalidCategory is returned for a category outside the closed set.
	ErrInvalidCategory = errors.New("memory: unknown category")
)

// ══════════════════════════════════════════════════════════════════════════════
// MEMORY RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Memory is the atomic unit of knowledge. Its ID is derived from Content
// alone, so two records with identical content collide regardless of origin,
// tags, or confidence; an arm resolves such collisions by merging (see
// Arm.Create).
type Memory struct {
	ID           string         `json:"id"`
	Category     Category       `json:"category"`
	Content      map[string]any `json:"content"`
	CreatedAt    time.Time      `json:"created_at"`
	OriginNode   string         `json:"origin_node"`
	Confidence   float64        `json:"confidence"`
	UsageCount   int            `json:"usage_count"`
	LastAccessed time.Time      `json:"last_accessed"`
	Tags         []string       `json:"tags"`
}

// HasAnyTag reports whether the record carries at least one of the given
// tags. An empty query matches nothing.
func (m *Memory) HasAnyTag(tags []string) bool {
	for _, want := range tags {
		for _, have := range m.Tags {
			if want == have {
				return true
			}
		}
	}
	return false
}

// ContentID computes the deterministic record id for a content payload:
// the first 16 hex characters of SHA-256 over the canonical JSON encoding.
// json.Marshal sorts map keys at every nesting level, so the id is
// independent of field order. Tags and confidence never feed the hash.
func ContentID(content map[string]any) (string, error) {
	canonical, err := json.Marshal(content)
	if err != nil {
		return "", fmt.Errorf("canonicalize content: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:16], nil
}

// mergeTags unions two tag sequences preserving first-seen order. Duplicates
// already present in old are kept as-is; new tags are appended in order.
func mergeTags(old, new []string) []string {
	merged := make([]string, 0, len(old)+len(new))
	seen := make(map[string]bool, len(old)+len(new))
	for _, t := range old {
		if !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	for _, t := range new {
		if !seen[t] {
			seen[t] = true
			merged = append(merged, t)
		}
	}
	return merged
}

// ══════════════════════════════════════════════════════════════════════════════
// SEARCH & STATS
// ══════════════════════════════════════════════════════════════════════════════

// Filter narrows a search. The zero value matches every record.
type Filter struct {
	// Category restricts the search to one partition; empty means all four.
	Category Category
	// Tags, when non-empty, requires a nonempty intersection with the
	// record's tags.
	Tags []string
	// MinConfidence excludes records below the threshold.
	MinConfidence float64
}

// ArmStats aggregates one arm's store.
type ArmStats struct {
	NodeID        string           `json:"node_id"`
	TotalMemories int              `json:"total_memories"`
	ByCategory    map[Category]int `json:"by_category"`
	AvgConfidence float64          `json:"avg_confidence"`
	// MostUsed is the record with the highest usage count, ties broken by
	// earliest creation. Nil when the store is empty.
	MostUsed *Memory `json:"most_used,omitempty"`
}

// HiveStats aggregates the whole hive.
type HiveStats struct {
	TotalArms      int            `json:"total_arms"`
	TotalMemories  int            `json:"total_memories"`
	MemoriesByArm  map[string]int `json:"memories_by_arm"`
	MostActiveArm  string         `json:"most_active_arm,omitempty"`
	// Diversity is 1/(1+variance of per-arm counts): 1.0 when every arm
	// holds the same number of records, approaching 0 as imbalance grows.
	Diversity float64 `json:"diversity"`
}
