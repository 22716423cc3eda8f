package bench

import (
	"sort"
	"time"

	"github.com/ricesearch/rice-bench/internal/evaluation"
)

// Report is the outcome of one strategy over one suite.
type Report struct {
	RunID           string `json:"run_id" yaml:"run_id"`
	Strategy        string `json:"strategy" yaml:"strategy"`
	Mode            Mode   `json:"mode" yaml:"mode"`
	Index           string `json:"index" yaml:"index"`
	Dataset         string `json:"dataset,omitempty" yaml:"dataset,omitempty"`
	TopK            int    `json:"top_k" yaml:"top_k"`
	QueryCount      int    `json:"queries" yaml:"queries"`
	SelfHitsRemoved int    `json:"self_hits_removed,omitempty" yaml:"self_hits_removed,omitempty"`

	// Recall holds "Recall@k" values in QA mode.
	Recall map[string]float64            `json:"recall,omitempty" yaml:"recall,omitempty"`
	Counts *evaluation.RecallAccumulator `json:"counts,omitempty" yaml:"counts,omitempty"`

	// Scores holds the IR metric families in IR mode.
	Scores *evaluation.Scores `json:"scores,omitempty" yaml:"scores,omitempty"`

	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration_ns" yaml:"duration"`
	QPS       float64       `json:"qps" yaml:"qps"`
}

// Metrics returns every metric of the report keyed like "NDCG@10".
func (r *Report) Metrics() map[string]float64 {
	switch {
	case r.Scores != nil:
		return r.Scores.Flatten()
	case r.Recall != nil:
		out := make(map[string]float64, len(r.Recall))
		for k, v := range r.Recall {
			out[k] = v
		}
		return out
	default:
		return map[string]float64{}
	}
}

// StartedEvent is the payload of bench.started.
type StartedEvent struct {
	Strategy string `json:"strategy"`
	Index    string `json:"index"`
	Dataset  string `json:"dataset,omitempty"`
	Queries  int    `json:"queries"`
	TopK     int    `json:"top_k"`
}

// FailedEvent is the payload of bench.failed.
type FailedEvent struct {
	Strategy string `json:"strategy"`
	Index    string `json:"index"`
	Error    string `json:"error"`
}

// metricArgs turns metrics into sorted slog key/value pairs.
func metricArgs(metrics map[string]float64) []any {
	keys := make([]string, 0, len(metrics))
	for k := range metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, metrics[k])
	}
	return args
}
