package strategy

// Query bodies follow the cluster's query DSL. Field names are dynamic, so
// bodies are built as nested maps.

// Body wraps a query clause into a search request returning size hits.
func Body(size int, query map[string]any) map[string]any {
	return map[string]any{
		"size":  size,
		"query": query,
	}
}

// MatchQuery is a lexical BM25 match on field.
func MatchQuery(field, text string) map[string]any {
	return map[string]any{
		"match": map[string]any{
			field: text,
		},
	}
}

// NeuralQuery is a dense vector query encoded by modelID on the cluster,
// returning k nearest neighbours.
func NeuralQuery(field, text, modelID string, k int) map[string]any {
	return map[string]any{
		"neural": map[string]any{
			field: map[string]any{
				"query_text": text,
				"model_id":   modelID,
				"k":          k,
			},
		},
	}
}

// NeuralSparseQuery is a sparse vector query. Tokens whose weight exceeds
// maxTokenScore are clipped by the cluster.
func NeuralSparseQuery(field, text, modelID string, maxTokenScore float64) map[string]any {
	return map[string]any{
		"neural_sparse": map[string]any{
			field: map[string]any{
				"query_text":      text,
				"model_id":        modelID,
				"max_token_score": maxTokenScore,
			},
		},
	}
}

// HybridQuery combines sub-queries. Score normalization and weighting
// happen in the search pipeline named on the request, in sub-query order.
func HybridQuery(queries ...map[string]any) map[string]any {
	return map[string]any{
		"hybrid": map[string]any{
			"queries": queries,
		},
	}
}
