package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ShareDecayFactor is applied to confidence on every replication hop, so
// repeated re-shares strictly decrease confidence.
const ShareDecayFactor = 0.9

// ══════════════════════════════════════════════════════════════════════════════
// HIVE COORDINATOR
// ══════════════════════════════════════════════════════════════════════════════

// Hive coordinates the registered arm stores. It holds references only — an
// arm's records live solely in that arm's own storage — and orchestrates
// replication, cross-arm recall, and consensus selection.
//
// Registration order is preserved: share targeting, collective recall, and
// consensus candidate collection all visit arms in the order they were
// registered, which keeps every cross-arm result deterministic.
type Hive struct {
	mu     sync.RWMutex
	arms   map[string]*Arm
	order  []string
	ledger Ledger
}

// NewHive creates a hive writing replication events to ledger. A nil ledger
// disables the audit trail.
func NewHive(ledger Ledger) *Hive {
	if ledger == nil {
		ledger = NopLedger{}
	}
	return &Hive{
		arms:   make(map[string]*Arm),
		ledger: ledger,
	}
}

// Register adds an arm under its node id, transferring ownership to the hive.
// Re-registering an existing id fails with ErrAlreadyRegistered.
func (h *Hive) Register(arm *Arm) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	nodeID := arm.NodeID()
	if _, exists := h.arms[nodeID]; exists {
		return fmt.Errorf("register %s: %w", nodeID, ErrAlreadyRegistered)
	}

	h.arms[nodeID] = arm
	h.order = append(h.order, nodeID)

	log.Info().Str("node", nodeID).Int("total_arms", len(h.order)).Msg("arm registered")
	return nil
}

// Arm returns the registered arm for nodeID, or ErrNotFound.
func (h *Hive) Arm(nodeID string) (*Arm, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	arm, ok := h.arms[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", nodeID, ErrNotFound)
	}
	return arm, nil
}

// Nodes returns the registered node ids in registration order.
func (h *Hive) Nodes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.order...)
}

// Close closes every registered arm, returning the first error encountered.
func (h *Hive) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var firstErr error
	for _, nodeID := range h.order {
		if err := h.arms[nodeID].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ══════════════════════════════════════════════════════════════════════════════
// CAPTURE
// ══════════════════════════════════════════════════════════════════════════════

// Submit persists a record on the named node's arm. This is the narrow
// contract external producers use; whether and when to Share afterwards is
// the producer's policy, not the hive's.
func (h *Hive) Submit(ctx context.Context, nodeID string, category Category, content map[string]any, tags []string, confidence float64) (*Memory, error) {
	arm, err := h.Arm(nodeID)
	if err != nil {
		return nil, err
	}
	return arm.Create(ctx, category, content, tags, confidence)
}

// ══════════════════════════════════════════════════════════════════════════════
// REPLICATION
// ══════════════════════════════════════════════════════════════════════════════

// ShareResult is the per-target outcome of a Share call.
type ShareResult struct {
	Target string
	// Memory is the record created or merged on the target; nil when Err is set.
	Memory *Memory
	Err    error
}

// Share replicates a record into the target arms: same category and content,
// confidence multiplied by ShareDecayFactor, and a shared_from_<source>
// provenance tag appended after the existing tags. With no explicit targets
// it replicates to every other registered arm in registration order.
//
// Delivery is independent per target — one failure (e.g. an unregistered
// node id) does not abort the rest, so partial success is normal; inspect
// the returned results. Exactly one ledger event is appended per call,
// listing all targets; a ledger failure is returned after deliveries since
// the replicated records are already durable.
func (h *Hive) Share(ctx context.Context, sourceNode string, mem *Memory, targetNodes ...string) ([]ShareResult, error) {
	if len(targetNodes) == 0 {
		for _, nodeID := range h.Nodes() {
			if nodeID != sourceNode {
				targetNodes = append(targetNodes, nodeID)
			}
		}
	}

	sharedConfidence := mem.Confidence * ShareDecayFactor
	sharedTags := append(append([]string(nil), mem.Tags...), ProvenanceTag(sourceNode))

	results := make([]ShareResult, 0, len(targetNodes))
	for _, target := range targetNodes {
		arm, err := h.Arm(target)
		if err != nil {
			log.Warn().Str("source", sourceNode).Str("target", target).Msg("share target not registered")
			results = append(results, ShareResult{Target: target, Err: err})
			continue
		}

		created, err := arm.Create(ctx, mem.Category, mem.Content, sharedTags, sharedConfidence)
		if err != nil {
			results = append(results, ShareResult{Target: target, Err: fmt.Errorf("share to %s: %w", target, err)})
			continue
		}
		results = append(results, ShareResult{Target: target, Memory: created})
	}

	event := Event{
		Timestamp:   time.Now().UTC(),
		EventType:   EventTypeShared,
		SourceNode:  sourceNode,
		MemoryID:    mem.ID,
		Category:    mem.Category,
		TargetNodes: targetNodes,
		Confidence:  mem.Confidence,
	}
	if err := h.ledger.Append(ctx, event); err != nil {
		return results, fmt.Errorf("append ledger: %w", err)
	}

	log.Info().
		Str("source", sourceNode).
		Str("memory_id", mem.ID).
		Int("targets", len(targetNodes)).
		Msg("memory shared")

	return results, nil
}

// ProvenanceTag returns the tag marking which node a replicated record came
// from.
func ProvenanceTag(sourceNode string) string {
	return "shared_from_" + sourceNode
}

// ══════════════════════════════════════════════════════════════════════════════
// CROSS-ARM RECALL
// ══════════════════════════════════════════════════════════════════════════════

// CollectiveRecall queries every arm for a record id, in registration order.
// It returns one record per arm that holds the id; arms without it are
// silently omitted — absence is not an error. Storage failures propagate.
func (h *Hive) CollectiveRecall(ctx context.Context, id string) ([]Memory, error) {
	var results []Memory
	for _, nodeID := range h.Nodes() {
		arm, err := h.Arm(nodeID)
		if err != nil {
			continue
		}

		mem, err := arm.Recall(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		results = append(results, *mem)
	}
	return results, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONSENSUS
// ══════════════════════════════════════════════════════════════════════════════

// Consensus selects the single record most representative of what the hive
// believes about a category/tag filter. Candidates are gathered by searching
// every arm (arms in registration order, each arm's internal ordering
// preserved), grouped by a greedy single-pass similarity heuristic, and the
// max-confidence member of the highest-scoring group wins.
//
// The similarity test is an explicit coarse heuristic — same category and a
// nonempty tag intersection with the group's first member — and the whole
// pass is order-sensitive on purpose: deterministic input ordering makes the
// selection deterministic. Returns nil when no candidates exist.
func (h *Hive) Consensus(ctx context.Context, category Category, tags []string) (*Memory, error) {
	var candidates []Memory
	for _, nodeID := range h.Nodes() {
		arm, err := h.Arm(nodeID)
		if err != nil {
			continue
		}
		found, err := arm.Search(ctx, Filter{Category: category, Tags: tags})
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, found...)
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	groups := groupSimilar(candidates)

	// Winning group: max summed confidence, earliest-formed wins ties.
	best := 0
	bestScore := groupScore(groups[0])
	for i := 1; i < len(groups); i++ {
		if score := groupScore(groups[i]); score > bestScore {
			best, bestScore = i, score
		}
	}

	// Winning member: max confidence, lowest id wins ties.
	winner := groups[best][0]
	for _, m := range groups[best][1:] {
		if m.Confidence > winner.Confidence ||
			(m.Confidence == winner.Confidence && m.ID < winner.ID) {
			winner = m
		}
	}

	log.Debug().
		Str("category", string(category)).
		Int("candidates", len(candidates)).
		Int("groups", len(groups)).
		Str("winner", winner.ID).
		Msg("consensus selected")

	return &winner, nil
}

// groupSimilar clusters candidates in a single greedy pass: each record joins
// the first existing group whose first member it is similar to, else starts
// a new group.
func groupSimilar(candidates []Memory) [][]Memory {
	var groups [][]Memory
	for _, mem := range candidates {
		placed := false
		for i := range groups {
			if areSimilar(&mem, &groups[i][0]) {
				groups[i] = append(groups[i], mem)
				placed = true
				break
			}
		}
		if !placed {
			groups = append(groups, []Memory{mem})
		}
	}
	return groups
}

// areSimilar is the coarse similarity heuristic: same category and at least
// one shared tag.
func areSimilar(a, b *Memory) bool {
	return a.Category == b.Category && a.HasAnyTag(b.Tags)
}

func groupScore(group []Memory) float64 {
	var sum float64
	for _, m := range group {
		sum += m.Confidence
	}
	return sum
}

// ══════════════════════════════════════════════════════════════════════════════
// HIVE STATS
// ══════════════════════════════════════════════════════════════════════════════

// Stats aggregates the whole hive: arm count, total records, per-arm counts,
// the most active arm (registration order breaks ties), and the diversity
// score 1/(1+variance of per-arm counts).
func (h *Hive) Stats(ctx context.Context) (*HiveStats, error) {
	nodes := h.Nodes()
	stats := &HiveStats{
		TotalArms:     len(nodes),
		MemoriesByArm: make(map[string]int, len(nodes)),
	}

	counts := make([]int, 0, len(nodes))
	for _, nodeID := range nodes {
		arm, err := h.Arm(nodeID)
		if err != nil {
			continue
		}
		n, err := arm.Count(ctx)
		if err != nil {
			return nil, err
		}
		stats.MemoriesByArm[nodeID] = n
		stats.TotalMemories += n
		counts = append(counts, n)

		if stats.MostActiveArm == "" || n > stats.MemoriesByArm[stats.MostActiveArm] {
			stats.MostActiveArm = nodeID
		}
	}

	if len(counts) > 0 {
		stats.Diversity = 1.0 / (1.0 + variance(counts))
	}

	return stats, nil
}

// variance is the population variance of per-arm record counts.
func variance(counts []int) float64 {
	mean := 0.0
	for _, c := range counts {
		mean += float64(c)
	}
	mean /= float64(len(counts))

	v := 0.0
	for _, c := range counts {
		d := float64(c) - mean
		v += d * d
	}
	return v / float64(len(counts))
}
