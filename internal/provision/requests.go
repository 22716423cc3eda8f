package provision

import (
	"strings"

	"github.com/ricesearch/rice-bench/internal/config"
)

// Embedding input types of the remote connector.
const (
	InputDocument = "search_document"
	InputQuery    = "search_query"
)

// ModelGroupRequest is the body of a model group registration.
func ModelGroupRequest(name, description string) map[string]any {
	return map[string]any{
		"name":        name,
		"description": description,
	}
}

// ConnectorRequest renders the connector template for one input type.
// Occurrences of {{input_type}} in the request body are replaced.
func ConnectorRequest(tpl config.ConnectorConfig, inputType string) map[string]any {
	action := map[string]any{
		"action_type":  "predict",
		"method":       "POST",
		"url":          tpl.URL,
		"request_body": strings.ReplaceAll(tpl.RequestBody, "{{input_type}}", inputType),
	}
	if len(tpl.Headers) > 0 {
		action["headers"] = tpl.Headers
	}
	if tpl.PreProcess != "" {
		action["pre_process_function"] = tpl.PreProcess
	}
	if tpl.PostProcess != "" {
		action["post_process_function"] = tpl.PostProcess
	}

	req := map[string]any{
		"name":        tpl.Name + " (" + inputType + ")",
		"description": tpl.Description,
		"version":     1,
		"protocol":    tpl.Protocol,
		"actions":     []any{action},
	}
	if len(tpl.Parameters) > 0 {
		req["parameters"] = tpl.Parameters
	}
	if len(tpl.Credential) > 0 {
		req["credential"] = tpl.Credential
	}
	return req
}

// ModelRequest is the body registering a remote model behind a connector.
func ModelRequest(name, groupID, description, connectorID string) map[string]any {
	return map[string]any{
		"name":           name,
		"function_name":  "remote",
		"model_group_id": groupID,
		"description":    description,
		"connector_id":   connectorID,
	}
}

// IngestPipeline encodes the text field into both the sparse and the dense
// field on write.
func IngestPipeline(idx config.IndexConfig, sparseModelID, denseModelID string) map[string]any {
	return map[string]any{
		"description": "neural sparse and dense encoding pipeline",
		"processors": []any{
			map[string]any{
				"sparse_encoding": map[string]any{
					"model_id":  sparseModelID,
					"field_map": map[string]any{idx.TextField: idx.SparseField},
				},
			},
			map[string]any{
				"text_embedding": map[string]any{
					"model_id":  denseModelID,
					"field_map": map[string]any{idx.TextField: idx.DenseField},
				},
			},
		},
	}
}

// SearchPipeline normalizes hybrid sub-query scores and combines them.
func SearchPipeline(s config.StrategyConfig) map[string]any {
	combination := map[string]any{"technique": s.Combination}
	if len(s.Weights) > 0 {
		combination["parameters"] = map[string]any{"weights": s.Weights}
	}
	return map[string]any{
		"description": "Post processor for hybrid search",
		"phase_results_processors": []any{
			map[string]any{
				"normalization-processor": map[string]any{
					"normalization": map[string]any{"technique": s.Normalization},
					"combination":   combination,
				},
			},
		},
	}
}

// IndexMapping declares the text, dense and sparse fields and routes writes
// through the ingest pipeline.
func IndexMapping(idx config.IndexConfig, ingestPipeline string) map[string]any {
	text := map[string]any{"type": "text"}
	if idx.Analyzer != "" {
		text["analyzer"] = idx.Analyzer
	}

	settings := map[string]any{
		"index": map[string]any{
			"number_of_shards":         idx.Shards,
			"number_of_replicas":       idx.Replicas,
			"knn":                      true,
			"knn.algo_param.ef_search": idx.EfSearch,
		},
	}
	if ingestPipeline != "" {
		settings["default_pipeline"] = ingestPipeline
	}

	dense := map[string]any{
		"type":      "knn_vector",
		"dimension": idx.Dimension,
		"method": map[string]any{
			"name":       "hnsw",
			"engine":     idx.Engine,
			"space_type": idx.SpaceType,
			"parameters": map[string]any{},
		},
	}

	properties := map[string]any{}
	properties[idx.TextField] = text
	properties[idx.DenseField] = dense
	properties[idx.SparseField] = map[string]any{"type": "rank_features"}

	return map[string]any{
		"settings": settings,
		"mappings": map[string]any{"properties": properties},
	}
}
