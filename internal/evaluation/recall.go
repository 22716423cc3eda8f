package evaluation

import "slices"

// RecallAccumulator counts, per cutoff, how many queries found their answer
// within the top k results. It is a plain value; each scoring pass builds its
// own and passes merged totals upward.
type RecallAccumulator struct {
	Cutoffs []int       `json:"cutoffs"`
	Hits    map[int]int `json:"hits"`
	Misses  map[int]int `json:"misses"`
}

// NewRecallAccumulator creates an accumulator. No cutoffs means DefaultCutoffs.
func NewRecallAccumulator(cutoffs ...int) *RecallAccumulator {
	if len(cutoffs) == 0 {
		cutoffs = DefaultCutoffs
	}
	cs := slices.Clone(cutoffs)
	slices.Sort(cs)
	return &RecallAccumulator{
		Cutoffs: cs,
		Hits:    make(map[int]int, len(cs)),
		Misses:  make(map[int]int, len(cs)),
	}
}

// Observe records one query: a hit at cutoff k when answer exactly equals one
// of the first k texts.
func (a *RecallAccumulator) Observe(answer string, texts []string) {
	rank := -1
	for i, text := range texts {
		if text == answer {
			rank = i
			break
		}
	}

	for _, k := range a.Cutoffs {
		if rank >= 0 && rank < k {
			a.Hits[k]++
		} else {
			a.Misses[k]++
		}
	}
}

// Miss records a query that cannot be credited, such as one without ground
// truth.
func (a *RecallAccumulator) Miss() {
	for _, k := range a.Cutoffs {
		a.Misses[k]++
	}
}

// Recall returns hits/(hits+misses) at k, or 0 before any observation.
func (a *RecallAccumulator) Recall(k int) float64 {
	total := a.Hits[k] + a.Misses[k]
	if total == 0 {
		return 0
	}
	return float64(a.Hits[k]) / float64(total)
}

// Queries returns the number of observed queries.
func (a *RecallAccumulator) Queries() int {
	if len(a.Cutoffs) == 0 {
		return 0
	}
	k := a.Cutoffs[0]
	return a.Hits[k] + a.Misses[k]
}

// Merge adds other's counters into a. Cutoffs missing from a are added.
func (a *RecallAccumulator) Merge(other *RecallAccumulator) {
	if other == nil {
		return
	}
	for _, k := range other.Cutoffs {
		if !slices.Contains(a.Cutoffs, k) {
			a.Cutoffs = append(a.Cutoffs, k)
			slices.Sort(a.Cutoffs)
		}
		a.Hits[k] += other.Hits[k]
		a.Misses[k] += other.Misses[k]
	}
}

// Values returns recall at each cutoff keyed like "Recall@4".
func (a *RecallAccumulator) Values() map[string]float64 {
	out := make(map[string]float64, len(a.Cutoffs))
	for _, k := range a.Cutoffs {
		out[MetricKey("Recall", k)] = round5(a.Recall(k))
	}
	return out
}
