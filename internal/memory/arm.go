package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/hivemind/internal/data"
)

// ══════════════════════════════════════════════════════════════════════════════
// ARM STORE
// ══════════════════════════════════════════════════════════════════════════════

// Arm is one node's exclusive local memory store. Every operation is scoped
// to the node's own database; arms never read or write another arm's storage
// directly — all cross-arm interaction goes through the Hive.
type Arm struct {
	nodeID string
	db     *data.DB
}

// NewArm opens the store for nodeID under dataDir.
func NewArm(nodeID, dataDir string) (*Arm, error) {
	db, err := data.OpenNode(dataDir, nodeID)
	if err != nil {
		return nil, fmt.Errorf("open arm store %s: %w", nodeID, err)
	}
	return &Arm{nodeID: nodeID, db: db}, nil
}

// NewArmWithDB wraps an already-open database. Used by tests and by embedders
// that manage store placement themselves.
func NewArmWithDB(nodeID string, db *data.DB) *Arm {
	return &Arm{nodeID: nodeID, db: db}
}

// NodeID returns the owning node's identity.
func (a *Arm) NodeID() string {
	return a.nodeID
}

// Close releases the underlying database.
func (a *Arm) Close() error {
	return a.db.Close()
}

// ══════════════════════════════════════════════════════════════════════════════
// CREATE / UPSERT
// ══════════════════════════════════════════════════════════════════════════════

// Create persists a new memory record, or merges into the existing one when
// the content-derived id is already stored (upsert): tags become the
// first-seen-order union, confidence becomes the max of old and new, and
// usage_count / last_accessed are left untouched. Returns the stored record.
//
// Confidence outside [0, 1] is rejected with ErrInvalidConfidence.
func (a *Arm) Create(ctx context.Context, category Category, content map[string]any, tags []string, confidence float64) (*Memory, error) {
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfidence, confidence)
	}
	if !category.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}

	id, err := ContentID(content)
	if err != nil {
		return nil, err
	}

	var result *Memory
	err = a.db.WithTx(ctx, func(tx *sql.Tx) error {
		existing, err := getMemoryTx(ctx, tx, id)
		if err != nil {
			return err
		}

		if existing != nil {
			// Merge-on-collision: the id is content-derived, so this is the
			// same knowledge arriving again with different metadata.
			existing.Tags = mergeTags(existing.Tags, tags)
			if confidence > existing.Confidence {
				existing.Confidence = confidence
			}

			tagsJSON, err := json.Marshal(existing.Tags)
			if err != nil {
				return fmt.Errorf("marshal tags: %w", err)
			}
			_, err = tx.ExecContext(ctx,
				`UPDATE memories SET tags = ?, confidence = ? WHERE id = ?`,
				string(tagsJSON), existing.Confidence, id,
			)
			if err != nil {
				return fmt.Errorf("merge memory: %w", err)
			}
			result = existing
			return nil
		}

		now := time.Now().UTC()
		mem := &Memory{
			ID:           id,
			Category:     category,
			Content:      content,
			CreatedAt:    now,
			OriginNode:   a.nodeID,
			Confidence:   confidence,
			UsageCount:   0,
			LastAccessed: now,
			Tags:         append([]string(nil), tags...),
		}

		contentJSON, err := json.Marshal(mem.Content)
		if err != nil {
			return fmt.Errorf("marshal content: %w", err)
		}
		tagsJSON, err := json.Marshal(mem.Tags)
		if err != nil {
			return fmt.Errorf("marshal tags: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO memories (
				id, category, content, created_at, origin_node,
				confidence, usage_count, last_accessed, tags
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			mem.ID, string(mem.Category), string(contentJSON), mem.CreatedAt.UnixNano(),
			mem.OriginNode, mem.Confidence, mem.UsageCount, mem.LastAccessed.UnixNano(),
			string(tagsJSON),
		)
		if err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}
		result = mem
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("node", a.nodeID).
		Str("memory_id", result.ID).
		Str("category", string(result.Category)).
		Float64("confidence", result.Confidence).
		Msg("memory stored")

	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// RECALL
// ══════════════════════════════════════════════════════════════════════════════

// Recall retrieves a record by id, scanning the four categories in canonical
// order. Recall is not read-only: on a hit it increments usage_count, bumps
// last_accessed, persists the mutation, and returns the updated record.
// A miss returns ErrNotFound.
func (a *Arm) Recall(ctx context.Context, id string) (*Memory, error) {
	var result *Memory
	err := a.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, cat := range AllCategories() {
			mem, err := getMemoryInCategoryTx(ctx, tx, id, cat)
			if err != nil {
				return err
			}
			if mem == nil {
				continue
			}

			mem.UsageCount++
			mem.LastAccessed = time.Now().UTC()
			_, err = tx.ExecContext(ctx,
				`UPDATE memories SET usage_count = ?, last_accessed = ? WHERE id = ?`,
				mem.UsageCount, mem.LastAccessed.UnixNano(), mem.ID,
			)
			if err != nil {
				return fmt.Errorf("record recall: %w", err)
			}
			result = mem
			return nil
		}
		return fmt.Errorf("recall %s on %s: %w", id, a.nodeID, ErrNotFound)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SEARCH
// ══════════════════════════════════════════════════════════════════════════════

// Search returns records matching the filter, ordered by confidence
// descending, then last_accessed descending, then id ascending. The result is
// recomputed per call, not a live cursor.
func (a *Arm) Search(ctx context.Context, f Filter) ([]Memory, error) {
	conditions := []string{"confidence >= ?"}
	args := []any{f.MinConfidence}

	if f.Category != "" {
		if !f.Category.IsValid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, f.Category)
		}
		conditions = append(conditions, "category = ?")
		args = append(args, string(f.Category))
	}

	query := fmt.Sprintf(`
		SELECT id, category, content, created_at, origin_node,
		       confidence, usage_count, last_accessed, tags
		FROM memories
		WHERE %s
		ORDER BY confidence DESC, last_accessed DESC, id ASC
	`, strings.Join(conditions, " AND "))

	rows, err := a.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var results []Memory
	for rows.Next() {
		mem, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		// Tag intersection is set-like membership over the JSON column,
		// filtered here rather than in SQL.
		if len(f.Tags) > 0 && !mem.HasAnyTag(f.Tags) {
			continue
		}
		results = append(results, *mem)
	}

	return results, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// Stats aggregates the arm's store: total count, per-category counts, mean
// confidence (0 when empty), and the most used record (ties broken by
// earliest creation).
func (a *Arm) Stats(ctx context.Context) (*ArmStats, error) {
	stats := &ArmStats{
		NodeID:     a.nodeID,
		ByCategory: make(map[Category]int),
	}

	rows, err := a.db.DB().QueryContext(ctx,
		`SELECT category, COUNT(*) FROM memories GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("count by category: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		stats.ByCategory[Category(cat)] = n
		stats.TotalMemories += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if stats.TotalMemories == 0 {
		return stats, nil
	}

	if err := a.db.DB().QueryRowContext(ctx,
		`SELECT AVG(confidence) FROM memories`).Scan(&stats.AvgConfidence); err != nil {
		return nil, fmt.Errorf("average confidence: %w", err)
	}

	row := a.db.DB().QueryRowContext(ctx, `
		SELECT id, category, content, created_at, origin_node,
		       confidence, usage_count, last_accessed, tags
		FROM memories
		ORDER BY usage_count DESC, created_at ASC
		LIMIT 1
	`)
	mostUsed, err := scanMemoryRow(row)
	if err != nil {
		return nil, err
	}
	stats.MostUsed = mostUsed

	return stats, nil
}

// Count returns the number of records in the arm's store.
func (a *Arm) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ROW SCANNING
// ══════════════════════════════════════════════════════════════════════════════

func getMemoryTx(ctx context.Context, tx *sql.Tx, id string) (*Memory, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, category, content, created_at, origin_node,
		       confidence, usage_count, last_accessed, tags
		FROM memories
		WHERE id = ?
	`, id)
	return scanMemoryRow(row)
}

func getMemoryInCategoryTx(ctx context.Context, tx *sql.Tx, id string, cat Category) (*Memory, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, category, content, created_at, origin_node,
		       confidence, usage_count, last_accessed, tags
		FROM memories
		WHERE id = ? AND category = ?
	`, id, string(cat))
	return scanMemoryRow(row)
}

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemoryRow(row *sql.Row) (*Memory, error) {
	mem, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return mem, err
}

func scanMemory(row rowScanner) (*Memory, error) {
	var (
		mem                     Memory
		category, content, tags string
		createdAt, lastAccessed int64
	)

	err := row.Scan(
		&mem.ID, &category, &content, &createdAt, &mem.OriginNode,
		&mem.Confidence, &mem.UsageCount, &lastAccessed, &tags,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan memory: %w", err)
	}

	mem.Category = Category(category)
	mem.CreatedAt = time.Unix(0, createdAt).UTC()
	mem.LastAccessed = time.Unix(0, lastAccessed).UTC()

	if err := json.Unmarshal([]byte(content), &mem.Content); err != nil {
		return nil, fmt.Errorf("unmarshal content: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &mem.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}

	return &mem, nil
}
