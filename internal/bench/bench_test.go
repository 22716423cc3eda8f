package bench

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ricesearch/rice-bench/internal/bus"
	"github.com/ricesearch/rice-bench/internal/clustertest"
	"github.com/ricesearch/rice-bench/internal/dataset"
	"github.com/ricesearch/rice-bench/internal/evaluation"
	"github.com/ricesearch/rice-bench/internal/history"
	"github.com/ricesearch/rice-bench/internal/opensearch"
	"github.com/ricesearch/rice-bench/internal/pkg/errors"
	"github.com/ricesearch/rice-bench/internal/strategy"
)

type staticChecker struct {
	exists bool
	err    error
	calls  atomic.Int32
}

func (c *staticChecker) IndexExists(context.Context, string) (bool, error) {
	c.calls.Add(1)
	return c.exists, c.err
}

// scripted returns canned hits per query text.
type scripted struct {
	name     string
	hits     map[string][]strategy.Hit
	fail     string
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Search(ctx context.Context, _ string, text string, topK int) ([]strategy.Hit, error) {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if text == s.fail {
		return nil, errors.QueryError("boom", nil)
	}
	hits := s.hits[text]
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []bus.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, e bus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func TestPhaseMachine(t *testing.T) {
	m := &machine{}
	for _, p := range []Phase{PhaseIngested, PhaseQuerying, PhaseScoring, PhaseReported} {
		if err := m.advance(p); err != nil {
			t.Fatalf("advance(%s) error = %v", p, err)
		}
	}

	tests := []struct {
		name string
		from Phase
		to   Phase
	}{
		{"skip", PhaseInit, PhaseQuerying},
		{"backwards", PhaseScoring, PhaseQuerying},
		{"repeat", PhaseQuerying, PhaseQuerying},
		{"past the end", PhaseReported, PhaseReported + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &machine{phase: tt.from}
			err := m.advance(tt.to)
			if errors.CodeOf(err) != errors.CodeInternal {
				t.Errorf("advance(%s -> %s) error = %v, want INTERNAL_ERROR", tt.from, tt.to, err)
			}
			if m.phase != tt.from {
				t.Errorf("phase moved to %s on error", m.phase)
			}
		})
	}

	if got := Phase(9).String(); got != "Phase(9)" {
		t.Errorf("String() = %s", got)
	}
}

func TestSuiteValidate(t *testing.T) {
	tests := []struct {
		name    string
		suite   *Suite
		wantErr bool
	}{
		{"nil", nil, true},
		{"unknown mode", &Suite{Mode: "mrr"}, true},
		{"missing id", &Suite{Mode: ModeQA, Queries: []dataset.Query{{Text: "q"}}}, true},
		{"empty ok", &Suite{Mode: ModeIR}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.suite.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRun_ParisScenario(t *testing.T) {
	cluster := clustertest.New(t)
	cluster.AddDocument("bench", "d1", "Paris is the capital of France")
	cluster.AddDocument("bench", "d2", "Berlin is the capital of Germany")
	cluster.AddDocument("bench", "d3", "Rome hosts the Vatican")

	client, err := opensearch.New(opensearch.Config{Endpoint: cluster.URL()})
	if err != nil {
		t.Fatal(err)
	}
	bm25, err := strategy.New(strategy.BM25, client, strategy.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}

	set := &dataset.QASet{Name: "toy", Split: "validation", Pairs: []dataset.QAPair{
		{ID: "q1", Question: "capital of France", Context: "Paris is the capital of France"},
	}}

	r := NewRunner(client, Config{Index: "bench", TopK: 10})
	report, err := r.Run(context.Background(), bm25, QASuite(set))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, k := range []string{"Recall@1", "Recall@4", "Recall@10"} {
		if report.Recall[k] != 1 {
			t.Errorf("%s = %v, want 1", k, report.Recall[k])
		}
	}
	if report.Mode != ModeQA || report.Strategy != strategy.BM25 || report.QueryCount != 1 {
		t.Errorf("report = %+v", report)
	}
	if report.Counts.Queries() != 1 {
		t.Errorf("counted queries = %d", report.Counts.Queries())
	}
}

func TestRun_QARanksAndMisses(t *testing.T) {
	s := &scripted{name: "fake", hits: map[string][]strategy.Hit{
		"a?": {{DocID: "x", Text: "wrong"}, {DocID: "y", Text: "A"}},
		"b?": {{DocID: "z", Text: "B"}},
		"c?": {{DocID: "x", Text: "wrong"}},
	}}
	suite := &Suite{
		Mode: ModeQA,
		Queries: []dataset.Query{
			{ID: "1", Text: "a?"}, {ID: "2", Text: "b?"}, {ID: "3", Text: "c?"}, {ID: "4", Text: "d?"},
		},
		Answers: map[string]string{"1": "A", "2": "B", "3": "C"},
	}

	r := NewRunner(&staticChecker{exists: true}, Config{Index: "bench", TopK: 10})
	report, err := r.Run(context.Background(), s, suite)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := map[string]float64{"Recall@1": 0.25, "Recall@4": 0.5, "Recall@10": 0.5}
	for k, v := range want {
		if report.Recall[k] != v {
			t.Errorf("%s = %v, want %v", k, report.Recall[k], v)
		}
	}
}

func TestRun_IRStripsSelfHits(t *testing.T) {
	s := &scripted{name: "fake", hits: map[string][]strategy.Hit{
		"first":  {{DocID: "q1", Score: 9}, {DocID: "d1", Score: 5}, {DocID: "d2", Score: 4}},
		"second": {{DocID: "d3", Score: 3}},
	}}
	suite := &Suite{
		Mode:    ModeIR,
		Dataset: "toy",
		Queries: []dataset.Query{{ID: "q1", Text: "first"}, {ID: "q2", Text: "second"}},
		Qrels: evaluation.Qrels{
			"q1": {"d1": 1},
			"q2": {"d3": 2},
		},
	}

	r := NewRunner(&staticChecker{exists: true}, Config{Index: "bench", TopK: 10})
	report, err := r.Run(context.Background(), s, suite)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.SelfHitsRemoved != 1 {
		t.Errorf("SelfHitsRemoved = %d, want 1", report.SelfHitsRemoved)
	}
	if report.Scores == nil {
		t.Fatal("Scores = nil in IR mode")
	}
	if got := report.Scores.NDCG["NDCG@1"]; got != 1 {
		t.Errorf("NDCG@1 = %v, want 1", got)
	}
	if got := report.Scores.Recall["Recall@10"]; got != 1 {
		t.Errorf("Recall@10 = %v, want 1", got)
	}
	if len(report.Metrics()) != 12 {
		t.Errorf("Metrics() = %d entries, want 12", len(report.Metrics()))
	}
}

func TestRun_Workers(t *testing.T) {
	hits := make(map[string][]strategy.Hit)
	queries := make([]dataset.Query, 20)
	answers := make(map[string]string)
	for i := range queries {
		id := fmt.Sprintf("q%d", i)
		text := fmt.Sprintf("text %d", i)
		queries[i] = dataset.Query{ID: id, Text: text}
		answers[id] = "passage " + id
		hits[text] = []strategy.Hit{{DocID: "d" + id, Text: "passage " + id}}
	}
	s := &scripted{name: "fake", hits: hits, delay: 5 * time.Millisecond}

	r := NewRunner(&staticChecker{exists: true}, Config{Index: "bench", TopK: 4, Workers: 4})
	report, err := r.Run(context.Background(), s, &Suite{Mode: ModeQA, Queries: queries, Answers: answers})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Recall["Recall@1"] != 1 {
		t.Errorf("Recall@1 = %v, want 1: results must stay aligned with queries", report.Recall["Recall@1"])
	}
	if peak := s.peak.Load(); peak > 4 {
		t.Errorf("peak concurrency = %d, want <= 4", peak)
	}
}

func TestRunAll_FirstErrorAborts(t *testing.T) {
	ok := &scripted{name: "good", hits: map[string][]strategy.Hit{}}
	bad := &scripted{name: "bad", fail: "q"}
	never := &scripted{name: "never"}
	pub := &capturePublisher{}

	r := NewRunner(&staticChecker{exists: true}, Config{Index: "bench"}, WithPublisher(pub))
	suite := &Suite{Mode: ModeQA, Queries: []dataset.Query{{ID: "1", Text: "q"}}}

	reports, err := r.RunAll(context.Background(), []strategy.Strategy{ok, bad, never}, suite)
	if errors.CodeOf(err) != errors.CodeQuery {
		t.Fatalf("RunAll() error = %v, want QUERY_ERROR", err)
	}
	if len(reports) != 1 || reports[0].Strategy != "good" {
		t.Errorf("reports = %d, want the one completed before the failure", len(reports))
	}
	if never.peak.Load() != 0 {
		t.Error("strategies after the failure must not run")
	}

	want := []string{bus.TopicBenchStarted, bus.TopicBenchReport, bus.TopicBenchStarted, bus.TopicBenchFailed}
	got := pub.types()
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("events = %v, want %v", got, want)
	}
}

func TestRunAll_IndexChecks(t *testing.T) {
	suite := &Suite{Mode: ModeQA}
	s := &scripted{name: "fake"}

	tests := []struct {
		name     string
		index    string
		checker  *staticChecker
		wantCode string
	}{
		{"missing index", "bench", &staticChecker{exists: false}, errors.CodeNotFound},
		{"no index name", "", &staticChecker{exists: true}, errors.CodeValidation},
		{"check fails", "bench", &staticChecker{err: errors.TransportError("exists", fmt.Errorf("refused"))}, errors.CodeTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRunner(tt.checker, Config{Index: tt.index})
			_, err := r.RunAll(context.Background(), []strategy.Strategy{s, s}, suite)
			if got := errors.CodeOf(err); got != tt.wantCode {
				t.Errorf("error = %v, want %s", err, tt.wantCode)
			}
		})
	}

	checker := &staticChecker{exists: true}
	r := NewRunner(checker, Config{Index: "bench"})
	if _, err := r.RunAll(context.Background(), []strategy.Strategy{s, s, s}, suite); err != nil {
		t.Fatalf("RunAll() error = %v", err)
	}
	if n := checker.calls.Load(); n != 1 {
		t.Errorf("index checked %d times, want once", n)
	}
}

func TestRun_RecordsHistoryAndEvents(t *testing.T) {
	store := history.NewMemoryStore(time.Hour)
	pub := &capturePublisher{}
	s := &scripted{name: "fake", hits: map[string][]strategy.Hit{"q": {{DocID: "d", Text: "A"}}}}

	r := NewRunner(&staticChecker{exists: true}, Config{Index: "bench", TopK: 10},
		WithHistory(store), WithPublisher(pub), WithRunID("run-1"))
	suite := &Suite{Mode: ModeQA, Queries: []dataset.Query{{ID: "1", Text: "q"}}, Answers: map[string]string{"1": "A"}}

	report, err := r.Run(context.Background(), s, suite)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.RunID != "run-1" {
		t.Errorf("RunID = %s", report.RunID)
	}

	points, err := store.Load(context.Background(), history.MetricName("bench", "fake", "Recall@1"), time.Time{})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(points) != 1 || points[0].Value != 1 || points[0].RunID != "run-1" {
		t.Errorf("history = %+v", points)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.events) != 2 {
		t.Fatalf("events = %d, want 2", len(pub.events))
	}
	if rep, ok := pub.events[1].Payload.(*Report); !ok || rep.Strategy != "fake" {
		t.Errorf("report payload = %#v", pub.events[1].Payload)
	}
	for _, e := range pub.events {
		if e.RunID != "run-1" || e.Source != "bench" {
			t.Errorf("event = %+v", e)
		}
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &scripted{name: "fake", delay: time.Second}
	r := NewRunner(&staticChecker{exists: true}, Config{Index: "bench"})
	_, err := r.Run(ctx, s, &Suite{Mode: ModeQA, Queries: []dataset.Query{{ID: "1", Text: "q"}}})
	if err == nil {
		t.Fatal("Run() should fail on a cancelled context")
	}
}
