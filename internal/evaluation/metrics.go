package evaluation

import (
	"math"
	"sort"
)

// NDCG calculates Normalized Discounted Cumulative Gain at K, taking the
// ideal ordering from the same list.
func NDCG(relevances []int, k int) float64 {
	ideal := make([]int, len(relevances))
	copy(ideal, relevances)
	sort.Sort(sort.Reverse(sort.IntSlice(ideal)))
	return NDCGWithIdeal(relevances, ideal, k)
}

// NDCGWithIdeal calculates NDCG at K against an externally supplied ideal
// gain list, sorted descending. Judged documents that were never retrieved
// still lower the score this way.
func NDCGWithIdeal(relevances, ideal []int, k int) float64 {
	idcg := DCG(ideal, k)
	if idcg == 0 {
		return 0
	}
	return DCG(relevances, k) / idcg
}

// DCG calculates Discounted Cumulative Gain at K with linear gain.
func DCG(relevances []int, k int) float64 {
	if k > len(relevances) {
		k = len(relevances)
	}
	dcg := 0.0
	for i := 0; i < k; i++ {
		if relevances[i] > 0 {
			dcg += float64(relevances[i]) / math.Log2(float64(i+2))
		}
	}
	return dcg
}

// Recall calculates Recall at K
func Recall(relevances []int, k int, threshold int) float64 {
	totalRelevant := 0
	for _, r := range relevances {
		if r >= threshold {
			totalRelevant++
		}
	}
	return RecallOf(relevances, k, threshold, totalRelevant)
}

// RecallOf calculates Recall at K when the number of relevant documents is
// known from the judgments rather than the result list.
func RecallOf(relevances []int, k, threshold, totalRelevant int) float64 {
	if totalRelevant == 0 {
		return 0
	}
	return float64(countRelevant(relevances, k, threshold)) / float64(totalRelevant)
}

// Precision calculates Precision at K. Missing ranks count as non-relevant.
func Precision(relevances []int, k int, threshold int) float64 {
	if k <= 0 {
		return 0
	}
	return float64(countRelevant(relevances, k, threshold)) / float64(k)
}

// MRR calculates Mean Reciprocal Rank
func MRR(relevances []int, threshold int) float64 {
	for i, r := range relevances {
		if r >= threshold {
			return 1.0 / float64(i+1)
		}
	}
	return 0
}

// AveragePrecision calculates Average Precision
func AveragePrecision(relevances []int, threshold int) float64 {
	relevant := 0
	for _, r := range relevances {
		if r >= threshold {
			relevant++
		}
	}
	return AveragePrecisionAt(relevances, len(relevances), threshold, relevant)
}

// AveragePrecisionAt calculates AP truncated at K, normalized by the total
// number of relevant documents.
func AveragePrecisionAt(relevances []int, k, threshold, totalRelevant int) float64 {
	if totalRelevant == 0 {
		return 0
	}
	if k > len(relevances) {
		k = len(relevances)
	}

	relevant := 0
	sumPrecision := 0.0
	for i := 0; i < k; i++ {
		if relevances[i] >= threshold {
			relevant++
			sumPrecision += float64(relevant) / float64(i+1)
		}
	}
	return sumPrecision / float64(totalRelevant)
}

func countRelevant(relevances []int, k, threshold int) int {
	if k > len(relevances) {
		k = len(relevances)
	}
	n := 0
	for i := 0; i < k; i++ {
		if relevances[i] >= threshold {
			n++
		}
	}
	return n
}

// round5 rounds to five decimals.
func round5(v float64) float64 {
	return math.Round(v*1e5) / 1e5
}
