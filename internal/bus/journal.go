package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ricesearch/rice-bench/internal/pkg/errors"
	"github.com/ricesearch/rice-bench/internal/pkg/logger"
)

// JournalEntry is one event written to the journal.
type JournalEntry struct {
	Event     Event     `json:"event"`
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
}

// Journal appends events to a JSON lines file.
type Journal struct {
	path    string
	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// OpenJournal opens (or creates) the journal at path in append mode.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.InternalError("failed to create journal directory", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.InternalError("failed to open journal", err)
	}

	return &Journal{
		path:    path,
		file:    file,
		encoder: json.NewEncoder(file),
	}, nil
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	return j.path
}

// Append writes an event and syncs the file.
func (j *Journal) Append(topic string, event Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return errors.New(errors.CodeInternal, "journal is closed")
	}

	entry := JournalEntry{
		Event:     event,
		Topic:     topic,
		Timestamp: time.Now(),
	}
	if err := j.encoder.Encode(entry); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return j.file.Sync()
}

// Close closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	err := j.file.Close()
	j.file = nil
	j.encoder = nil
	return err
}

// JournalFilter selects entries when reading a journal.
type JournalFilter struct {
	Since time.Time // entries strictly after Since
	RunID string    // empty = all runs
	Topic string    // empty = all topics
	Limit int       // 0 = no limit
}

// ReadJournal reads entries from the journal at path in chronological order.
// A missing file yields no entries. Malformed lines are skipped.
func ReadJournal(path string, filter JournalFilter) ([]JournalEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []JournalEntry{}, nil
		}
		return nil, errors.InternalError("failed to open journal", err)
	}
	defer file.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(file)

	// Report payloads can be large
	const maxScanTokenSize = 1024 * 1024
	scanner.Buffer(make([]byte, maxScanTokenSize), maxScanTokenSize)

	for scanner.Scan() {
		var entry JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if !entry.Timestamp.After(filter.Since) {
			continue
		}
		if filter.RunID != "" && entry.Event.RunID != filter.RunID {
			continue
		}
		if filter.Topic != "" && entry.Topic != filter.Topic {
			continue
		}

		entries = append(entries, entry)
		if filter.Limit > 0 && len(entries) >= filter.Limit {
			break
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, errors.InternalError("failed to scan journal", err)
	}
	return entries, nil
}

// Replay publishes journal entries to a bus in order.
func Replay(ctx context.Context, entries []JournalEntry, to Publisher) error {
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := to.Publish(ctx, entry.Topic, entry.Event); err != nil {
			return fmt.Errorf("failed to replay event %s: %w", entry.Event.ID, err)
		}
	}
	return nil
}

// JournaledBus writes every published event to a journal before handing it
// to the inner bus.
type JournaledBus struct {
	inner   Bus
	journal *Journal
	log     *logger.Logger
}

// NewJournaledBus wraps inner.
func NewJournaledBus(inner Bus, journal *Journal, log *logger.Logger) *JournaledBus {
	if log == nil {
		log = logger.Nop()
	}
	return &JournaledBus{
		inner:   inner,
		journal: journal,
		log:     log,
	}
}

// Publish journals the event and then delegates to the inner bus. Journal
// failures are logged, not returned.
func (b *JournaledBus) Publish(ctx context.Context, topic string, event Event) error {
	if err := b.journal.Append(topic, event); err != nil {
		b.log.Warn("Failed to journal event", "topic", topic, "path", b.journal.Path(), "error", err)
	}
	return b.inner.Publish(ctx, topic, event)
}

// Subscribe delegates to the inner bus.
func (b *JournaledBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	return b.inner.Subscribe(ctx, topic, handler)
}

// Close closes the journal and the inner bus.
func (b *JournaledBus) Close() error {
	if err := b.journal.Close(); err != nil {
		b.log.Warn("Failed to close journal", "error", err)
	}
	return b.inner.Close()
}
