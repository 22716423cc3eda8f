package opensearch

import "encoding/json"

// BulkAction is one index operation of a bulk request. An empty ID lets the
// cluster assign one.
type BulkAction struct {
	Index    string
	ID       string
	Document any
}

// BulkResponse is the decoded body of a _bulk call.
type BulkResponse struct {
	Took   int                   `json:"took"`
	Errors bool                  `json:"errors"`
	Items  []map[string]BulkItem `json:"items"`
}

// BulkItem is the per-action result of a bulk request.
type BulkItem struct {
	Index  string      `json:"_index"`
	ID     string      `json:"_id"`
	Status int         `json:"status"`
	Error  *ErrorCause `json:"error,omitempty"`
}

// Failed returns the items that carry an error.
func (r *BulkResponse) Failed() []BulkItem {
	var failed []BulkItem
	for _, item := range r.Items {
		for _, result := range item {
			if result.Error != nil {
				failed = append(failed, result)
			}
		}
	}
	return failed
}

// ErrorCause is the cluster's error object.
type ErrorCause struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// String renders the cause as "type: reason".
func (e *ErrorCause) String() string {
	if e == nil {
		return ""
	}
	if e.Type == "" {
		return e.Reason
	}
	if e.Reason == "" {
		return e.Type
	}
	return e.Type + ": " + e.Reason
}

// SearchResponse is a validated search result.
type SearchResponse struct {
	Took     int         `json:"took"`
	TimedOut bool        `json:"timed_out"`
	Total    int64       `json:"total"`
	MaxScore float64     `json:"max_score"`
	Hits     []SearchHit `json:"hits"`
}

// SearchHit is one ranked document. ID and Score are always present.
type SearchHit struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Score  float64         `json:"_score"`
	Source json.RawMessage `json:"_source,omitempty"`
}

// SourceField returns a string field from the hit's _source, or "" when the
// source or field is absent.
func (h SearchHit) SourceField(field string) string {
	if len(h.Source) == 0 {
		return ""
	}
	var src map[string]json.RawMessage
	if err := json.Unmarshal(h.Source, &src); err != nil {
		return ""
	}
	var value string
	if err := json.Unmarshal(src[field], &value); err != nil {
		return ""
	}
	return value
}

// RegisterModelResponse is the body of a model registration.
type RegisterModelResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	ModelID string `json:"model_id"`
}

// ClusterInfo is the body of GET /.
type ClusterInfo struct {
	Name        string `json:"name"`
	ClusterName string `json:"cluster_name"`
	Version     struct {
		Number       string `json:"number"`
		Distribution string `json:"distribution"`
	} `json:"version"`
}

// wire shapes used for boundary validation
type rawSearchResponse struct {
	Took     int             `json:"took"`
	TimedOut bool            `json:"timed_out"`
	Error    json.RawMessage `json:"error"`
	Hits     *struct {
		Total    json.RawMessage `json:"total"`
		MaxScore *float64        `json:"max_score"`
		Hits     *[]rawHit       `json:"hits"`
	} `json:"hits"`
}

type rawHit struct {
	Index  string          `json:"_index"`
	ID     *string         `json:"_id"`
	Score  *float64        `json:"_score"`
	Source json.RawMessage `json:"_source"`
}

type rawErrorBody struct {
	Error  json.RawMessage `json:"error"`
	Status int             `json:"status"`
}
