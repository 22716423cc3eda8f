// Package opensearch is the harness's transport to an OpenSearch-compatible
// cluster. Request bodies are opaque JSON payloads; responses are decoded into
// explicit types and validated before they leave the package.
package opensearch

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	opensearchgo "github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/ricesearch/rice-bench/internal/pkg/errors"
)

// Client talks to the search cluster.
type Client struct {
	os          *opensearchgo.Client
	endpoint    string
	timeout     time.Duration
	bulkTimeout time.Duration
}

// Config configures the client.
type Config struct {
	// Endpoint is the cluster URL.
	Endpoint string

	// Username and Password enable basic auth when Username is set.
	Username string
	Password string

	// InsecureSkipVerify disables TLS certificate checks.
	InsecureSkipVerify bool

	// Timeout bounds every request except bulk writes.
	Timeout time.Duration

	// BulkTimeout bounds a single bulk request.
	BulkTimeout time.Duration

	// MaxIdleConns controls the maximum number of idle (keep-alive) connections.
	MaxIdleConns int

	// MaxConnsPerHost limits the total number of connections per host.
	MaxConnsPerHost int

	// IdleConnTimeout is how long an idle connection stays open.
	IdleConnTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:        "http://localhost:9200",
		Timeout:         30 * time.Second,
		BulkTimeout:     100 * time.Second,
		MaxIdleConns:    100,
		MaxConnsPerHost: 100,
		IdleConnTimeout: 90 * time.Second,
	}
}

// New creates a cluster client. Retries inside the transport are disabled.
func New(cfg Config) (*Client, error) {
	def := DefaultConfig()
	if cfg.Endpoint == "" {
		cfg.Endpoint = def.Endpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.BulkTimeout == 0 {
		cfg.BulkTimeout = def.BulkTimeout
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = def.MaxConnsPerHost
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost / 5,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in for self-signed dev clusters
	}

	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	client, err := opensearchgo.NewClient(opensearchgo.Config{
		Addresses:    []string{endpoint},
		Username:     cfg.Username,
		Password:     cfg.Password,
		Transport:    transport,
		DisableRetry: true,
	})
	if err != nil {
		return nil, errors.InternalError("failed to create cluster client", err)
	}

	return &Client{
		os:          client,
		endpoint:    endpoint,
		timeout:     cfg.Timeout,
		bulkTimeout: cfg.BulkTimeout,
	}, nil
}

// Endpoint returns the cluster URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Ping checks that the cluster answers.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := opensearchapi.PingRequest{}.Do(ctx, c.os)
	if err != nil {
		return errors.TransportError("ping", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return errors.HTTPError("ping", res.StatusCode, "")
	}
	return nil
}

// Info returns the cluster name and version.
func (c *Client) Info(ctx context.Context) (*ClusterInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := opensearchapi.InfoRequest{}.Do(ctx, c.os)
	if err != nil {
		return nil, errors.TransportError("info", err)
	}

	var info ClusterInfo
	if err := decode("info", res, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Bulk submits index actions as one NDJSON request. A non-2xx status is a
// BULK_REJECTED error and a response with errors=true returns the decoded
// body together with a BULK_PARTIAL error. Both are retryable.
func (c *Client) Bulk(ctx context.Context, actions []BulkAction) (*BulkResponse, error) {
	if len(actions) == 0 {
		return &BulkResponse{}, nil
	}

	body, err := encodeBulk(actions)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.bulkTimeout)
	defer cancel()

	res, err := opensearchapi.BulkRequest{Body: body}.Do(ctx, c.os)
	if err != nil {
		return nil, transportError(ctx, "bulk", err)
	}
	if res.IsError() {
		defer res.Body.Close()
		data, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, errors.TransportError("bulk", err)
		}
		return nil, errors.BulkRejectedError(res.StatusCode, responseReason(data))
	}

	var out BulkResponse
	if err := decode("bulk", res, &out); err != nil {
		return nil, err
	}

	if out.Errors {
		failed := out.Failed()
		bulkErr := errors.BulkPartialError(len(failed), len(out.Items))
		if len(failed) > 0 {
			bulkErr.WithDetail("first_error", failed[0].Error.String()).
				WithDetail("first_id", failed[0].ID)
		}
		return &out, bulkErr
	}
	return &out, nil
}

// Search runs a query against index. A non-empty pipeline is passed as the
// search_pipeline parameter.
func (c *Client) Search(ctx context.Context, index string, body any, pipeline string) (*SearchResponse, error) {
	if index == "" {
		return nil, errors.ValidationError("index is required")
	}

	query := url.Values{}
	if pipeline != "" {
		query.Set("search_pipeline", pipeline)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.perform(ctx, http.MethodGet, "/"+index+"/_search", query, body)
	if err != nil {
		return nil, transportError(ctx, "search", err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.TransportError("search", err)
	}
	if res.IsError() {
		return nil, httpError("search", res.StatusCode, data)
	}

	return parseSearchResponse(data)
}

// Count returns the number of documents in index.
func (c *Client) Count(ctx context.Context, index string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := opensearchapi.CountRequest{Index: []string{index}}.Do(ctx, c.os)
	if err != nil {
		return 0, transportError(ctx, "count", err)
	}

	var out struct {
		Count *int64 `json:"count"`
	}
	if err := decode("count", res, &out); err != nil {
		return 0, err
	}
	if out.Count == nil {
		return 0, errors.ParseError("count response lacks count", nil)
	}
	return *out.Count, nil
}

// Refresh makes all writes to index visible to search.
func (c *Client) Refresh(ctx context.Context, index string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := opensearchapi.IndicesRefreshRequest{Index: []string{index}}.Do(ctx, c.os)
	if err != nil {
		return transportError(ctx, "refresh", err)
	}
	return decode("refresh", res, nil)
}

// IndexExists reports whether index exists.
func (c *Client) IndexExists(ctx context.Context, index string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := opensearchapi.IndicesExistsRequest{Index: []string{index}}.Do(ctx, c.os)
	if err != nil {
		return false, transportError(ctx, "index exists", err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound:
		return false, nil
	case res.IsError():
		return false, errors.HTTPError("index exists", res.StatusCode, "")
	}
	return true, nil
}

// CreateIndex creates index with the given settings and mappings body.
func (c *Client) CreateIndex(ctx context.Context, index string, mapping any) error {
	body, err := encodeBody(mapping)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := opensearchapi.IndicesCreateRequest{Index: index, Body: body}.Do(ctx, c.os)
	if err != nil {
		return transportError(ctx, "create index", err)
	}
	return decode("create index", res, nil)
}

// DeleteIndex deletes index.
func (c *Client) DeleteIndex(ctx context.Context, index string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := opensearchapi.IndicesDeleteRequest{Index: []string{index}}.Do(ctx, c.os)
	if err != nil {
		return transportError(ctx, "delete index", err)
	}
	return decode("delete index", res, nil)
}

// PutIngestPipeline creates or replaces an ingest pipeline.
func (c *Client) PutIngestPipeline(ctx context.Context, name string, pipeline any) error {
	body, err := encodeBody(pipeline)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := opensearchapi.IngestPutPipelineRequest{PipelineID: name, Body: body}.Do(ctx, c.os)
	if err != nil {
		return transportError(ctx, "put ingest pipeline", err)
	}
	return decode("put ingest pipeline", res, nil)
}

// PutSearchPipeline creates or replaces a search pipeline.
func (c *Client) PutSearchPipeline(ctx context.Context, name string, pipeline any) error {
	return c.call(ctx, "put search pipeline", http.MethodPut, "/_search/pipeline/"+name, nil, pipeline, nil)
}

// RegisterModelGroup registers an ML model group and returns its ID.
func (c *Client) RegisterModelGroup(ctx context.Context, req any) (string, error) {
	var out struct {
		ModelGroupID string `json:"model_group_id"`
	}
	if err := c.call(ctx, "register model group", http.MethodPost, "/_plugins/_ml/model_groups/_register", nil, req, &out); err != nil {
		return "", err
	}
	if out.ModelGroupID == "" {
		return "", errors.ParseError("model group response lacks model_group_id", nil)
	}
	return out.ModelGroupID, nil
}

// CreateConnector creates a remote model connector and returns its ID.
func (c *Client) CreateConnector(ctx context.Context, req any) (string, error) {
	var out struct {
		ConnectorID string `json:"connector_id"`
	}
	if err := c.call(ctx, "create connector", http.MethodPost, "/_plugins/_ml/connectors/_create", nil, req, &out); err != nil {
		return "", err
	}
	if out.ConnectorID == "" {
		return "", errors.ParseError("connector response lacks connector_id", nil)
	}
	return out.ConnectorID, nil
}

// RegisterModel registers a model, optionally deploying it in the same call.
func (c *Client) RegisterModel(ctx context.Context, req any, deploy bool) (*RegisterModelResponse, error) {
	query := url.Values{}
	if deploy {
		query.Set("deploy", "true")
	}

	var out RegisterModelResponse
	if err := c.call(ctx, "register model", http.MethodPost, "/_plugins/_ml/models/_register", query, req, &out); err != nil {
		return nil, err
	}
	if out.ModelID == "" {
		return nil, errors.ParseError("model response lacks model_id", nil).WithDetail("task_id", out.TaskID)
	}
	return &out, nil
}

// call performs a raw JSON request and decodes the body into result.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	res, err := c.perform(ctx, method, path, query, body)
	if err != nil {
		return transportError(ctx, op, err)
	}
	return decode(op, res, result)
}

// perform sends a path-only request through the client's transport, which
// fills in the node address and credentials.
func (c *Client) perform(ctx context.Context, method, path string, query url.Values, body any) (*opensearchapi.Response, error) {
	var reader io.Reader
	if body != nil {
		r, err := encodeBody(body)
		if err != nil {
			return nil, err
		}
		reader = r
	}

	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.os.Perform(req)
	if err != nil {
		return nil, err
	}
	return &opensearchapi.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// decode reads and closes the response body. Non-2xx statuses become
// HTTP errors; a nil result discards the body.
func decode(op string, res *opensearchapi.Response, result any) error {
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.TransportError(op, err)
	}
	if res.IsError() {
		return httpError(op, res.StatusCode, data)
	}
	if result == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return errors.ParseError(fmt.Sprintf("failed to decode %s response", op), err)
	}
	return nil
}

// parseSearchResponse validates a search body: hits.hits must be present and
// every hit needs _id and _score.
func parseSearchResponse(data []byte) (*SearchResponse, error) {
	var raw rawSearchResponse
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.ParseError("failed to decode search response", err)
	}
	if len(raw.Error) > 0 && string(raw.Error) != "null" {
		return nil, errors.QueryError(errorReason(raw.Error), nil)
	}
	if raw.Hits == nil || raw.Hits.Hits == nil {
		return nil, errors.ParseError("search response lacks hits.hits", nil)
	}

	total, err := parseTotal(raw.Hits.Total)
	if err != nil {
		return nil, err
	}

	out := &SearchResponse{
		Took:     raw.Took,
		TimedOut: raw.TimedOut,
		Total:    total,
		Hits:     make([]SearchHit, 0, len(*raw.Hits.Hits)),
	}
	if raw.Hits.MaxScore != nil {
		out.MaxScore = *raw.Hits.MaxScore
	}

	for i, h := range *raw.Hits.Hits {
		if h.ID == nil {
			return nil, errors.ParseError(fmt.Sprintf("hit %d lacks _id", i), nil)
		}
		if h.Score == nil {
			return nil, errors.ParseError(fmt.Sprintf("hit %d (%s) lacks _score", i, *h.ID), nil)
		}
		out.Hits = append(out.Hits, SearchHit{
			Index:  h.Index,
			ID:     *h.ID,
			Score:  *h.Score,
			Source: h.Source,
		})
	}
	return out, nil
}

// parseTotal accepts both the object form {"value":n} and a bare number.
func parseTotal(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var obj struct {
		Value int64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Value, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, errors.ParseError("hits.total is neither a number nor {\"value\": n}", err)
	}
	return n, nil
}

func httpError(op string, status int, body []byte) *errors.AppError {
	return errors.HTTPError(op, status, responseReason(body))
}

// responseReason extracts the cluster's error from a failed response body,
// falling back to a short plain-text body.
func responseReason(body []byte) string {
	var raw rawErrorBody
	if err := json.Unmarshal(body, &raw); err == nil && len(raw.Error) > 0 {
		return errorReason(raw.Error)
	}
	if len(body) > 0 && len(body) < 512 {
		return strings.TrimSpace(string(body))
	}
	return ""
}

// errorReason renders the cluster's error field, which is either an object
// with type/reason or a plain string.
func errorReason(raw json.RawMessage) string {
	var cause struct {
		ErrorCause
		RootCause []ErrorCause `json:"root_cause"`
	}
	if err := json.Unmarshal(raw, &cause); err == nil {
		if cause.Type != "" || cause.Reason != "" {
			return cause.ErrorCause.String()
		}
		if len(cause.RootCause) > 0 {
			return cause.RootCause[0].String()
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func transportError(ctx context.Context, op string, err error) *errors.AppError {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(errors.CodeTimeout, op+" timed out", err)
	}
	return errors.TransportError(op, err)
}

func encodeBulk(actions []BulkAction) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	for i, a := range actions {
		if a.Index == "" {
			return nil, errors.ValidationError(fmt.Sprintf("bulk action %d has no index", i))
		}
		meta := map[string]any{"_index": a.Index}
		if a.ID != "" {
			meta["_id"] = a.ID
		}
		line, err := json.Marshal(map[string]any{"index": meta})
		if err != nil {
			return nil, errors.InternalError("failed to encode bulk action", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')

		doc, err := json.Marshal(a.Document)
		if err != nil {
			return nil, errors.InternalError("failed to encode bulk document", err)
		}
		buf.Write(doc)
		buf.WriteByte('\n')
	}
	return &buf, nil
}

// encodeBody turns an opaque payload into a reader. Raw bytes and strings are
// sent as-is.
func encodeBody(body any) (io.Reader, error) {
	switch v := body.(type) {
	case nil:
		return nil, nil
	case io.Reader:
		return v, nil
	case []byte:
		return bytes.NewReader(v), nil
	case json.RawMessage:
		return bytes.NewReader(v), nil
	case string:
		return strings.NewReader(v), nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.InternalError("failed to encode request body", err)
	}
	return bytes.NewReader(data), nil
}
