// Package bench drives query sets through retrieval strategies and scores
// the results.
package bench

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ricesearch/rice-bench/internal/bus"
	"github.com/ricesearch/rice-bench/internal/dataset"
	"github.com/ricesearch/rice-bench/internal/evaluation"
	"github.com/ricesearch/rice-bench/internal/history"
	"github.com/ricesearch/rice-bench/internal/pkg/errors"
	"github.com/ricesearch/rice-bench/internal/pkg/logger"
	"github.com/ricesearch/rice-bench/internal/pkg/ratelimit"
	"github.com/ricesearch/rice-bench/internal/strategy"
)

// IndexChecker reports whether the benchmark index exists.
type IndexChecker interface {
	IndexExists(ctx context.Context, index string) (bool, error)
}

// Config configures a runner.
type Config struct {
	// Index is the ingested index queried by every strategy.
	Index string

	// TopK is the number of hits requested per query.
	TopK int

	// Workers bounds concurrent queries. 1 runs queries sequentially.
	Workers int

	// MaxQPS throttles queries per strategy. 0 is unlimited.
	MaxQPS float64

	// Cutoffs are the ranks metrics are reported at.
	Cutoffs []int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		TopK:    4,
		Workers: 1,
		Cutoffs: evaluation.DefaultCutoffs,
	}
}

// Runner benchmarks strategies against one index.
type Runner struct {
	checker IndexChecker
	cfg     Config
	log     *logger.Logger
	events  bus.Publisher
	history history.Store
	limiter *ratelimit.Limiter
	runID   string
	now     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(r *Runner) { r.log = log }
}

// WithPublisher publishes bench.started, bench.report and bench.failed.
func WithPublisher(p bus.Publisher) Option {
	return func(r *Runner) { r.events = p }
}

// WithHistory records every reported metric.
func WithHistory(s history.Store) Option {
	return func(r *Runner) { r.history = s }
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// NewRunner creates a runner.
func NewRunner(checker IndexChecker, cfg Config, opts ...Option) *Runner {
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if len(cfg.Cutoffs) == 0 {
		cfg.Cutoffs = def.Cutoffs
	}

	r := &Runner{
		checker: checker,
		cfg:     cfg,
		log:     logger.Nop(),
		events:  bus.Nop{},
		history: history.Nop{},
		limiter: ratelimit.New(ratelimit.Config{RequestsPerSecond: cfg.MaxQPS, Burst: 1}),
		runID:   uuid.NewString(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithRun(r.runID).WithIndex(cfg.Index)
	return r
}

// RunID returns the ID shared by every report of this runner.
func (r *Runner) RunID() string {
	return r.runID
}

// Run benchmarks a single strategy.
func (r *Runner) Run(ctx context.Context, s strategy.Strategy, suite *Suite) (*Report, error) {
	reports, err := r.RunAll(ctx, []strategy.Strategy{s}, suite)
	if err != nil {
		return nil, err
	}
	return reports[0], nil
}

// RunAll benchmarks strategies in order. The index readiness check runs
// once. The first failing strategy stops the run; reports completed before
// it are returned with the error.
func (r *Runner) RunAll(ctx context.Context, strategies []strategy.Strategy, suite *Suite) ([]*Report, error) {
	if err := suite.Validate(); err != nil {
		return nil, err
	}
	if err := r.checkIndex(ctx); err != nil {
		return nil, err
	}
	if maxK := slices.Max(r.cfg.Cutoffs); r.cfg.TopK < maxK {
		r.log.Warn("TopK is below the largest cutoff; deeper cutoffs repeat the TopK value",
			"topk", r.cfg.TopK, "cutoff", maxK)
	}

	reports := make([]*Report, 0, len(strategies))
	for _, s := range strategies {
		report, err := r.runStrategy(ctx, s, suite)
		if err != nil {
			r.publish(ctx, bus.TopicBenchFailed, FailedEvent{
				Strategy: s.Name(),
				Index:    r.cfg.Index,
				Error:    err.Error(),
			})
			return reports, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func (r *Runner) checkIndex(ctx context.Context) error {
	if r.cfg.Index == "" {
		return errors.ValidationError("index is required")
	}
	exists, err := r.checker.IndexExists(ctx, r.cfg.Index)
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	if !exists {
		return errors.NotFoundError("index " + r.cfg.Index).
			WithDetail("hint", "run the ingest command first")
	}
	return nil
}

// runStrategy walks one strategy through every phase.
func (r *Runner) runStrategy(ctx context.Context, s strategy.Strategy, suite *Suite) (*Report, error) {
	log := r.log.WithStrategy(s.Name())
	m := &machine{}

	if err := m.advance(PhaseIngested); err != nil {
		return nil, err
	}

	if err := m.advance(PhaseQuerying); err != nil {
		return nil, err
	}
	r.publish(ctx, bus.TopicBenchStarted, StartedEvent{
		Strategy: s.Name(),
		Index:    r.cfg.Index,
		Dataset:  suite.Dataset,
		Queries:  len(suite.Queries),
		TopK:     r.cfg.TopK,
	})
	log.Info("Running strategy", "queries", len(suite.Queries), "topk", r.cfg.TopK, "workers", r.cfg.Workers)

	started := r.now()
	results, err := r.query(ctx, s, suite.Queries)
	if err != nil {
		log.WithError(err).Error("Strategy aborted")
		return nil, err
	}
	elapsed := r.now().Sub(started)

	if err := m.advance(PhaseScoring); err != nil {
		return nil, err
	}
	stripped := stripSelfHits(suite.Queries, results)
	if stripped > 0 {
		log.Debug("Removed self hits", "count", stripped)
	}

	report := &Report{
		RunID:           r.runID,
		Strategy:        s.Name(),
		Mode:            suite.Mode,
		Index:           r.cfg.Index,
		Dataset:         suite.Dataset,
		TopK:            r.cfg.TopK,
		QueryCount:      len(suite.Queries),
		SelfHitsRemoved: stripped,
		StartedAt:       started,
		Duration:        elapsed,
	}
	if secs := elapsed.Seconds(); secs > 0 {
		report.QPS = float64(len(suite.Queries)) / secs
	}

	switch suite.Mode {
	case ModeQA:
		report.Counts = scoreRecall(suite, results, r.cfg.Cutoffs)
		report.Recall = report.Counts.Values()
	case ModeIR:
		scores := evaluation.Evaluate(suite.Qrels, buildRun(suite.Queries, results), r.cfg.Cutoffs)
		report.Scores = &scores
	}

	if err := m.advance(PhaseReported); err != nil {
		return nil, err
	}
	r.publish(ctx, bus.TopicBenchReport, report)
	if err := history.RecordAll(ctx, r.history, r.cfg.Index, s.Name(), r.runID, started, report.Metrics()); err != nil {
		log.Warn("Failed to record history", "error", err)
	}

	log.Info("Strategy complete", append(metricArgs(report.Metrics()), "qps", fmt.Sprintf("%.1f", report.QPS))...)
	return report, nil
}

// query runs every query through the strategy on a bounded pool. results[i]
// holds the hits of queries[i]; the first error cancels the rest.
func (r *Runner) query(ctx context.Context, s strategy.Strategy, queries []dataset.Query) ([][]strategy.Hit, error) {
	results := make([][]strategy.Hit, len(queries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for i, q := range queries {
		if gctx.Err() != nil {
			break
		}
		i, q := i, q
		g.Go(func() error {
			if err := r.limiter.Wait(gctx, s.Name()); err != nil {
				return err
			}
			hits, err := s.Search(gctx, r.cfg.Index, q.Text, r.cfg.TopK)
			if err != nil {
				return fmt.Errorf("query %s: %w", q.ID, err)
			}
			results[i] = hits
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// stripSelfHits drops hits whose document ID equals their query ID and
// returns how many were removed.
func stripSelfHits(queries []dataset.Query, results [][]strategy.Hit) int {
	removed := 0
	for i, q := range queries {
		kept := results[i][:0]
		for _, h := range results[i] {
			if h.DocID == q.ID {
				removed++
				continue
			}
			kept = append(kept, h)
		}
		results[i] = kept
	}
	return removed
}

func buildRun(queries []dataset.Query, results [][]strategy.Hit) evaluation.Run {
	run := make(evaluation.Run, len(queries))
	for i, q := range queries {
		run.Touch(q.ID)
		for _, h := range results[i] {
			run.Add(q.ID, h.DocID, h.Score)
		}
	}
	return run
}

// scoreRecall counts exact answer matches in hit order. A query without a
// known answer is a miss.
func scoreRecall(suite *Suite, results [][]strategy.Hit, cutoffs []int) *evaluation.RecallAccumulator {
	acc := evaluation.NewRecallAccumulator(cutoffs...)
	for i, q := range suite.Queries {
		answer, ok := suite.Answers[q.ID]
		if !ok {
			acc.Miss()
			continue
		}
		texts := make([]string, len(results[i]))
		for j, h := range results[i] {
			texts[j] = h.Text
		}
		acc.Observe(answer, texts)
	}
	return acc
}

func (r *Runner) publish(ctx context.Context, topic string, payload any) {
	if err := r.events.Publish(ctx, topic, bus.NewEvent(topic, "bench", r.runID, payload)); err != nil {
		r.log.Warn("Failed to publish event", "topic", topic, "error", err)
	}
}
