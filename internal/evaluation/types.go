package evaluation

import "fmt"

// DefaultCutoffs are the ranks reported for every benchmark.
var DefaultCutoffs = []int{1, 4, 10}

// Qrels maps query ID -> doc ID -> relevance grade. A grade above zero marks
// the document relevant; higher grades are more relevant.
type Qrels map[string]map[string]int

// Run maps query ID -> doc ID -> retrieval score for one strategy.
type Run map[string]map[string]float64

// Add records a hit, creating the query entry when needed.
func (r Run) Add(queryID, docID string, score float64) {
	if r[queryID] == nil {
		r[queryID] = make(map[string]float64)
	}
	r[queryID][docID] = score
}

// Touch makes sure queryID is present even if it retrieved nothing.
func (r Run) Touch(queryID string) {
	if r[queryID] == nil {
		r[queryID] = make(map[string]float64)
	}
}

// StripSelfHits deletes every hit whose doc ID equals its query ID and
// returns the number removed.
func (r Run) StripSelfHits() int {
	removed := 0
	for queryID, docs := range r {
		if _, ok := docs[queryID]; ok {
			delete(docs, queryID)
			removed++
		}
	}
	return removed
}

// Scores are the IR metric families, each keyed like "NDCG@10".
type Scores struct {
	NDCG   map[string]float64 `json:"ndcg" yaml:"ndcg"`
	MAP    map[string]float64 `json:"map" yaml:"map"`
	Recall map[string]float64 `json:"recall" yaml:"recall"`
	P      map[string]float64 `json:"precision" yaml:"precision"`
}

// MetricKey formats a metric name at a cutoff.
func MetricKey(family string, k int) string {
	return fmt.Sprintf("%s@%d", family, k)
}

// Flatten returns every metric in one map.
func (s Scores) Flatten() map[string]float64 {
	out := make(map[string]float64, len(s.NDCG)*4)
	for _, family := range []map[string]float64{s.NDCG, s.MAP, s.Recall, s.P} {
		for k, v := range family {
			out[k] = v
		}
	}
	return out
}

// EvaluationResult contains metrics for a single query.
type EvaluationResult struct {
	QueryID   string          `json:"query_id"`
	NDCG      map[int]float64 `json:"ndcg"`
	AP        map[int]float64 `json:"ap"`
	Recall    map[int]float64 `json:"recall"`
	Precision map[int]float64 `json:"precision"`
	Retrieved int             `json:"retrieved"`
	Judged    bool            `json:"judged"`
}
