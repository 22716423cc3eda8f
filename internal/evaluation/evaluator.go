package evaluation

import (
	"sort"
)

// relevanceThreshold is the minimum grade counted as relevant.
const relevanceThreshold = 1

// Evaluator scores runs against relevance judgments.
type Evaluator struct {
	qrels Qrels
	ks    []int
}

// NewEvaluator creates an evaluator. Empty ks fall back to DefaultCutoffs.
func NewEvaluator(qrels Qrels, ks []int) *Evaluator {
	if len(ks) == 0 {
		ks = DefaultCutoffs
	}
	return &Evaluator{qrels: qrels, ks: ks}
}

// Evaluate computes mean NDCG, MAP, Recall and P at each cutoff over every
// query in run.
func Evaluate(qrels Qrels, run Run, ks []int) Scores {
	e := NewEvaluator(qrels, ks)

	queryIDs := make([]string, 0, len(run))
	for id := range run {
		queryIDs = append(queryIDs, id)
	}
	sort.Strings(queryIDs)

	results := make([]*EvaluationResult, 0, len(queryIDs))
	for _, id := range queryIDs {
		results = append(results, e.EvaluateQuery(id, run[id]))
	}
	return e.Summarize(results)
}

// EvaluateQuery scores one query's retrieved documents. Documents are ranked
// by score descending, ties broken by doc ID descending. A query without
// judgments scores zero everywhere.
func (e *Evaluator) EvaluateQuery(queryID string, docs map[string]float64) *EvaluationResult {
	result := &EvaluationResult{
		QueryID:   queryID,
		NDCG:      make(map[int]float64, len(e.ks)),
		AP:        make(map[int]float64, len(e.ks)),
		Recall:    make(map[int]float64, len(e.ks)),
		Precision: make(map[int]float64, len(e.ks)),
		Retrieved: len(docs),
	}

	judgments := e.qrels[queryID]
	result.Judged = len(judgments) > 0

	ranked := rankDocs(docs)
	relevances := make([]int, len(ranked))
	for i, docID := range ranked {
		relevances[i] = judgments[docID]
	}

	ideal := make([]int, 0, len(judgments))
	totalRelevant := 0
	for _, grade := range judgments {
		if grade >= relevanceThreshold {
			ideal = append(ideal, grade)
			totalRelevant++
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(ideal)))

	for _, k := range e.ks {
		result.NDCG[k] = NDCGWithIdeal(relevances, ideal, k)
		result.AP[k] = AveragePrecisionAt(relevances, k, relevanceThreshold, totalRelevant)
		result.Recall[k] = RecallOf(relevances, k, relevanceThreshold, totalRelevant)
		if totalRelevant > 0 {
			result.Precision[k] = Precision(relevances, k, relevanceThreshold)
		}
	}

	return result
}

// Summarize averages per-query results and rounds to five decimals.
func (e *Evaluator) Summarize(results []*EvaluationResult) Scores {
	scores := Scores{
		NDCG:   make(map[string]float64, len(e.ks)),
		MAP:    make(map[string]float64, len(e.ks)),
		Recall: make(map[string]float64, len(e.ks)),
		P:      make(map[string]float64, len(e.ks)),
	}

	for _, k := range e.ks {
		var ndcg, ap, recall, precision float64
		for _, r := range results {
			ndcg += r.NDCG[k]
			ap += r.AP[k]
			recall += r.Recall[k]
			precision += r.Precision[k]
		}
		if n := float64(len(results)); n > 0 {
			ndcg /= n
			ap /= n
			recall /= n
			precision /= n
		}

		scores.NDCG[MetricKey("NDCG", k)] = round5(ndcg)
		scores.MAP[MetricKey("MAP", k)] = round5(ap)
		scores.Recall[MetricKey("Recall", k)] = round5(recall)
		scores.P[MetricKey("P", k)] = round5(precision)
	}

	return scores
}

func rankDocs(docs map[string]float64) []string {
	ranked := make([]string, 0, len(docs))
	for id := range docs {
		ranked = append(ranked, id)
	}
	sort.Slice(ranked, func(i, j int) bool {
		si, sj := docs[ranked[i]], docs[ranked[j]]
		if si != sj {
			return si > sj
		}
		return ranked[i] > ranked[j]
	})
	return ranked
}
