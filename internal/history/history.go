// Package history keeps benchmark metric values over time so runs can be
// compared.
package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ricesearch/rice-bench/internal/config"
)

// DataPoint is one recorded metric value.
type DataPoint struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Value     float64   `json:"value" yaml:"value"`
	RunID     string    `json:"run_id,omitempty" yaml:"run_id,omitempty"`
}

// Store persists metric series.
type Store interface {
	Record(ctx context.Context, metric string, dp DataPoint) error
	Load(ctx context.Context, metric string, since time.Time) ([]DataPoint, error)
	Metrics(ctx context.Context) ([]string, error)
	Close() error
}

// MetricName builds the series name for an index, strategy and metric,
// e.g. "fiqa:dense:NDCG@10".
func MetricName(index, strategy, metric string) string {
	return strings.Join([]string{index, strategy, metric}, ":")
}

// RecordAll stores every value under MetricName(index, strategy, key).
func RecordAll(ctx context.Context, store Store, index, strategy, runID string, at time.Time, values map[string]float64) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		dp := DataPoint{Timestamp: at, Value: values[k], RunID: runID}
		if err := store.Record(ctx, MetricName(index, strategy, k), dp); err != nil {
			return err
		}
	}
	return nil
}

// New creates the store selected by cfg.
func New(cfg config.HistoryConfig) (Store, error) {
	switch cfg.Type {
	case "", "none":
		return Nop{}, nil
	case "memory":
		return NewMemoryStore(cfg.TTL), nil
	case "redis":
		return NewRedisStore(cfg.RedisURL, cfg.TTL)
	default:
		return nil, fmt.Errorf("unknown history type: %s", cfg.Type)
	}
}

// Nop discards everything.
type Nop struct{}

// Record drops the point.
func (Nop) Record(context.Context, string, DataPoint) error { return nil }

// Load returns no points.
func (Nop) Load(context.Context, string, time.Time) ([]DataPoint, error) { return nil, nil }

// Metrics returns no series.
func (Nop) Metrics(context.Context) ([]string, error) { return nil, nil }

// Close is a no-op.
func (Nop) Close() error { return nil }

// MemoryStore keeps series in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	series map[string][]DataPoint
	ttl    time.Duration
	now    func() time.Time
}

// NewMemoryStore creates a memory store. Points older than ttl are dropped
// on write; ttl <= 0 keeps everything.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		series: make(map[string][]DataPoint),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Record appends a point, keeping the series ordered by time.
func (m *MemoryStore) Record(_ context.Context, metric string, dp DataPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	points := append(m.series[metric], dp)
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})

	if m.ttl > 0 {
		cutoff := m.now().Add(-m.ttl)
		i := sort.Search(len(points), func(i int) bool {
			return !points[i].Timestamp.Before(cutoff)
		})
		points = points[i:]
	}

	m.series[metric] = points
	return nil
}

// Load returns points at or after since.
func (m *MemoryStore) Load(_ context.Context, metric string, since time.Time) ([]DataPoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []DataPoint
	for _, dp := range m.series[metric] {
		if !dp.Timestamp.Before(since) {
			out = append(out, dp)
		}
	}
	return out, nil
}

// Metrics returns the recorded series names, sorted.
func (m *MemoryStore) Metrics(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.series))
	for name, points := range m.series {
		if len(points) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
