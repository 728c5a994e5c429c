package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPLICATION LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// EventTypeShared is the event type recorded for every Share call.
const EventTypeShared = "memory_shared"

// Event is one replication audit entry. The hive appends exactly one event
// per Share call, listing every target.
type Event struct {
	EventID     string    `json:"event_id"`
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	SourceNode  string    `json:"source_node"`
	MemoryID    string    `json:"memory_id"`
	Category    Category  `json:"category"`
	TargetNodes []string  `json:"target_nodes"`
	Confidence  float64   `json:"confidence"`
}

// Ledger is the append-only audit sink for replication events. The core
// writes it and never reads it back; it is an audit trail, not a source of
// truth.
type Ledger interface {
	Append(ctx context.Context, event Event) error
}

// FileLedger appends events as JSON lines to a single file.
type FileLedger struct {
	mu   sync.Mutex
	path string
}

// NewFileLedger creates the ledger file's directory if needed. The file
// itself is created on first append.
func NewFileLedger(path string) (*FileLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return &FileLedger{path: path}, nil
}

// Append writes one event as a JSON line. Events are never rewritten.
func (l *FileLedger) Append(ctx context.Context, event Event) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append ledger event: %w", err)
	}

	return nil
}

// Path returns the ledger file path.
func (l *FileLedger) Path() string {
	return l.path
}

// NopLedger discards every event. Useful when no audit trail is wanted.
type NopLedger struct{}

// Append implements Ledger.
func (NopLedger) Append(context.Context, Event) error { return nil }
