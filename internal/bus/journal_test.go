package bus

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ricesearch/rice-bench/internal/config"
)

func TestJournal_AppendAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "events.jsonl")

	journal, err := OpenJournal(path)
	if err != nil {
		t.Fatalf("OpenJournal() error = %v", err)
	}

	events := []struct {
		topic string
		event Event
	}{
		{TopicBenchStarted, NewEvent(TopicBenchStarted, "bench", "run-1", nil)},
		{TopicBenchReport, NewEvent(TopicBenchReport, "bench", "run-1", map[string]float64{"recall@1": 1})},
		{TopicBenchStarted, NewEvent(TopicBenchStarted, "bench", "run-2", nil)},
	}
	for _, e := range events {
		if err := journal.Append(e.topic, e.event); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := journal.Append(TopicBenchFailed, Event{}); err == nil {
		t.Error("Append() after Close() should fail")
	}

	tests := []struct {
		name   string
		filter JournalFilter
		want   int
	}{
		{"all", JournalFilter{}, 3},
		{"by run", JournalFilter{RunID: "run-1"}, 2},
		{"by topic", JournalFilter{Topic: TopicBenchStarted}, 2},
		{"limit", JournalFilter{Limit: 1}, 1},
		{"future", JournalFilter{Since: time.Now().Add(time.Hour)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadJournal(path, tt.filter)
			if err != nil {
				t.Fatalf("ReadJournal() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("ReadJournal() = %d entries, want %d", len(got), tt.want)
			}
		})
	}

	all, _ := ReadJournal(path, JournalFilter{})
	if all[0].Event.ID != events[0].event.ID {
		t.Error("entries must be in append order")
	}
}

func TestReadJournal_MissingAndMalformed(t *testing.T) {
	dir := t.TempDir()

	got, err := ReadJournal(filepath.Join(dir, "missing.jsonl"), JournalFilter{})
	if err != nil || len(got) != 0 {
		t.Errorf("missing journal = %v, %v; want empty, nil", got, err)
	}

	path := filepath.Join(dir, "bad.jsonl")
	content := "not json\n" + `{"event":{"id":"ok"},"topic":"bench.report","timestamp":"2026-01-01T00:00:00Z"}` + "\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	got, err = ReadJournal(path, JournalFilter{})
	if err != nil {
		t.Fatalf("ReadJournal() error = %v", err)
	}
	if len(got) != 1 || got[0].Event.ID != "ok" {
		t.Errorf("expected malformed line to be skipped, got %+v", got)
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, _ Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	return nil
}

func TestReplay(t *testing.T) {
	entries := []JournalEntry{
		{Topic: TopicIngestBatch, Event: Event{ID: "1"}},
		{Topic: TopicIngestComplete, Event: Event{ID: "2"}},
	}

	pub := &recordingPublisher{}
	if err := Replay(context.Background(), entries, pub); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if len(pub.topics) != 2 || pub.topics[1] != TopicIngestComplete {
		t.Errorf("replayed topics = %v", pub.topics)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Replay(ctx, entries, pub); err == nil {
		t.Error("Replay() with cancelled context should fail")
	}
}

func TestJournaledBus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	b, err := NewBus(config.BusConfig{Type: "memory", EventLog: path}, nil)
	if err != nil {
		t.Fatalf("NewBus() error = %v", err)
	}
	if _, ok := b.(*JournaledBus); !ok {
		t.Fatalf("NewBus() with event log = %T, want *JournaledBus", b)
	}

	delivered := make(chan struct{}, 1)
	b.Subscribe(context.Background(), TopicBenchReport, func(context.Context, Event) error {
		delivered <- struct{}{}
		return nil
	})
	if err := b.Publish(context.Background(), TopicBenchReport, NewEvent(TopicBenchReport, "bench", "run-9", nil)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("event not delivered to inner bus")
	}
	b.Close()

	entries, err := ReadJournal(path, JournalFilter{RunID: "run-9"})
	if err != nil || len(entries) != 1 {
		t.Errorf("journal entries = %v, %v; want 1", entries, err)
	}
}

func TestNewBus(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.BusConfig
		wantErr bool
	}{
		{"memory", config.BusConfig{Type: "memory"}, false},
		{"default", config.BusConfig{}, false},
		{"kafka without brokers", config.BusConfig{Type: "kafka"}, true},
		{"unknown", config.BusConfig{Type: "nats"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBus(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBus() error = %v, wantErr %v", err, tt.wantErr)
			}
			if b != nil {
				b.Close()
			}
		})
	}
}
