// Package ingest loads benchmark corpora into the search index.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/ricesearch/rice-bench/internal/bus"
	"github.com/ricesearch/rice-bench/internal/opensearch"
	"github.com/ricesearch/rice-bench/internal/pkg/errors"
	"github.com/ricesearch/rice-bench/internal/pkg/logger"
)

// Document is one corpus entry. An empty ID lets the cluster assign one.
type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Dedup removes exact duplicate texts, keeping first-seen order.
func Dedup(texts []string) []string {
	seen := make(map[string]struct{}, len(texts))
	out := make([]string, 0, len(texts))
	for _, text := range texts {
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, text)
	}
	return out
}

// PassageDocuments deduplicates QA passages and keys each by a hash of its
// text, so re-ingesting a corpus overwrites instead of duplicating.
func PassageDocuments(texts []string) []Document {
	unique := Dedup(texts)
	docs := make([]Document, len(unique))
	for i, text := range unique {
		docs[i] = Document{ID: PassageID(text), Text: text}
	}
	return docs
}

// PassageID is the first 16 hex characters of the SHA-256 of text.
func PassageID(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

// Bulker is the subset of the cluster client the ingestor needs.
type Bulker interface {
	Bulk(ctx context.Context, actions []opensearch.BulkAction) (*opensearch.BulkResponse, error)
	Refresh(ctx context.Context, index string) error
}

// Config configures ingestion.
type Config struct {
	// BatchSize is the number of documents per bulk request.
	BatchSize int

	// TextField is the source field holding document text.
	TextField string

	// Retry governs resubmission of failed batches.
	Retry RetryPolicy
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize: 50,
		TextField: "content",
		Retry:     DefaultRetryPolicy(),
	}
}

// Result summarizes an ingestion run.
type Result struct {
	Index      string        `json:"index"`
	Documents  int           `json:"documents"`
	Batches    int           `json:"batches"`
	Retries    int           `json:"retries"`
	Duration   time.Duration `json:"duration"`
	Throughput float64       `json:"throughput"` // documents per second
}

// BatchEvent is the payload of an ingest.batch event.
type BatchEvent struct {
	Index     string `json:"index"`
	Batch     int    `json:"batch"`
	Batches   int    `json:"batches"`
	Documents int    `json:"documents"`
	Retries   int    `json:"retries"`
}

// Ingestor writes documents in sequential bulk batches, then refreshes.
type Ingestor struct {
	client   Bulker
	cfg      Config
	log      *logger.Logger
	events   bus.Publisher
	progress *ProgressTracker
	runID    string
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(i *Ingestor) { i.log = log }
}

// WithPublisher publishes ingest.batch and ingest.complete events.
func WithPublisher(p bus.Publisher) Option {
	return func(i *Ingestor) { i.events = p }
}

// WithProgress reports per-batch progress.
func WithProgress(cb ProgressCallback) Option {
	return func(i *Ingestor) { i.progress = NewProgressTracker(cb) }
}

// WithRunID tags published events.
func WithRunID(id string) Option {
	return func(i *Ingestor) { i.runID = id }
}

// New creates an ingestor.
func New(client Bulker, cfg Config, opts ...Option) *Ingestor {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.TextField == "" {
		cfg.TextField = def.TextField
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = def.Retry.MaxAttempts
	}

	i := &Ingestor{
		client: client,
		cfg:    cfg,
		log:    logger.Nop(),
		events: bus.Nop{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest writes docs to index. Batches are written one at a time; a batch
// that still fails after its retries aborts the run before any later batch
// is sent. The index is refreshed once, after the last batch.
func (i *Ingestor) Ingest(ctx context.Context, index string, docs []Document) (*Result, error) {
	if index == "" {
		return nil, errors.ValidationError("index is required")
	}

	log := i.log.WithIndex(index)
	result := &Result{Index: index}
	if len(docs) == 0 {
		log.Warn("No documents to ingest")
		return result, nil
	}

	start := time.Now()
	batches := splitIntoBatches(docs, i.cfg.BatchSize)
	log.Info("Ingesting corpus", "documents", len(docs), "batches", len(batches), "batch_size", i.cfg.BatchSize)

	written := 0
	for n, batch := range batches {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		actions := i.actions(index, batch)
		retries, err := i.cfg.Retry.Do(ctx, func(attempt int) error {
			if attempt > 1 {
				log.Warn("Retrying bulk batch", "batch", n+1, "attempt", attempt)
			}
			_, err := i.client.Bulk(ctx, actions)
			return err
		})
		result.Retries += retries
		if err != nil {
			log.WithError(err).Error("Bulk batch failed", "batch", n+1, "retries", retries)
			if errors.IsRetryable(err) {
				return result, errors.IngestionError(fmt.Sprintf("batch %d of %d failed after %d attempts", n+1, len(batches), retries+1), err).
					WithDetail("batch", strconv.Itoa(n+1))
			}
			return result, fmt.Errorf("batch %d of %d: %w", n+1, len(batches), err)
		}

		written += len(batch)
		result.Batches++
		result.Documents = written

		i.progress.BulkStage(n+1, len(batches), written, len(docs))
		i.publish(ctx, bus.TopicIngestBatch, BatchEvent{
			Index:     index,
			Batch:     n + 1,
			Batches:   len(batches),
			Documents: len(batch),
			Retries:   retries,
		})
		log.Debug("Bulk batch written", "batch", n+1, "documents", len(batch))
	}

	i.progress.RefreshStage(written)
	if err := i.client.Refresh(ctx, index); err != nil {
		return result, fmt.Errorf("refresh after ingest: %w", err)
	}

	result.Duration = time.Since(start)
	if secs := result.Duration.Seconds(); secs > 0 {
		result.Throughput = float64(result.Documents) / secs
	}

	i.progress.Complete(written)
	i.publish(ctx, bus.TopicIngestComplete, result)
	log.Info("Ingestion complete",
		"documents", result.Documents,
		"batches", result.Batches,
		"retries", result.Retries,
		"duration", result.Duration,
		"docs_per_sec", fmt.Sprintf("%.1f", result.Throughput),
	)

	return result, nil
}

func (i *Ingestor) actions(index string, batch []Document) []opensearch.BulkAction {
	actions := make([]opensearch.BulkAction, len(batch))
	for j, doc := range batch {
		actions[j] = opensearch.BulkAction{
			Index:    index,
			ID:       doc.ID,
			Document: map[string]string{i.cfg.TextField: doc.Text},
		}
	}
	return actions
}

func (i *Ingestor) publish(ctx context.Context, topic string, payload any) {
	if err := i.events.Publish(ctx, topic, bus.NewEvent(topic, "ingest", i.runID, payload)); err != nil {
		i.log.Warn("Failed to publish event", "topic", topic, "error", err)
	}
}

// splitIntoBatches splits items into batches of the given size.
func splitIntoBatches[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}

	var batches [][]T
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}

	return batches
}
