package opensearch

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ricesearch/rice-bench/internal/clustertest"
	"github.com/ricesearch/rice-bench/internal/pkg/errors"
)

func newTestClient(t *testing.T, cluster *clustertest.Cluster) *Client {
	t.Helper()
	c, err := New(Config{Endpoint: cluster.URL()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Endpoint != "http://localhost:9200" {
		t.Errorf("Endpoint = %q, want %q", cfg.Endpoint, "http://localhost:9200")
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout, 30*time.Second)
	}
	if cfg.BulkTimeout != 100*time.Second {
		t.Errorf("BulkTimeout = %v, want %v", cfg.BulkTimeout, 100*time.Second)
	}
}

func TestClientNew(t *testing.T) {
	c, err := New(Config{Endpoint: "http://custom:9201/"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Endpoint() != "http://custom:9201" {
		t.Errorf("Endpoint() = %q, want trailing slash trimmed", c.Endpoint())
	}
	if c.timeout != 30*time.Second {
		t.Errorf("timeout = %v, want default", c.timeout)
	}
}

func TestClientBulkAndSearch(t *testing.T) {
	cluster := clustertest.New(t)
	c := newTestClient(t, cluster)
	ctx := context.Background()

	resp, err := c.Bulk(ctx, []BulkAction{
		{Index: "docs", ID: "d1", Document: map[string]string{"content": "Paris is the capital of France"}},
		{Index: "docs", ID: "d2", Document: map[string]string{"content": "Berlin is the capital of Germany"}},
	})
	if err != nil {
		t.Fatalf("Bulk() error = %v", err)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("Bulk() items = %d, want 2", len(resp.Items))
	}

	if err := c.Refresh(ctx, "docs"); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	body := map[string]any{
		"size":  1,
		"query": map[string]any{"match": map[string]any{"content": "capital of France"}},
	}
	result, err := c.Search(ctx, "docs", body, "")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(result.Hits) != 1 {
		t.Fatalf("Search() hits = %d, want 1", len(result.Hits))
	}
	if result.Hits[0].ID != "d1" {
		t.Errorf("top hit = %s, want d1", result.Hits[0].ID)
	}
	if got := result.Hits[0].SourceField("content"); got != "Paris is the capital of France" {
		t.Errorf("SourceField(content) = %q", got)
	}

	bulks := cluster.Requests("/_bulk")
	if len(bulks) != 1 {
		t.Fatalf("bulk requests = %d, want 1", len(bulks))
	}
	lines := strings.Split(strings.TrimSpace(string(bulks[0].Body)), "\n")
	if len(lines) != 4 {
		t.Errorf("bulk body lines = %d, want 4 (NDJSON action + source pairs)", len(lines))
	}
	if !strings.Contains(lines[0], `"_id":"d1"`) || !strings.Contains(lines[0], `"_index":"docs"`) {
		t.Errorf("unexpected action line: %s", lines[0])
	}
}

func TestClientBulkEmpty(t *testing.T) {
	cluster := clustertest.New(t)
	c := newTestClient(t, cluster)

	resp, err := c.Bulk(context.Background(), nil)
	if err != nil {
		t.Fatalf("Bulk(nil) error = %v", err)
	}
	if len(resp.Items) != 0 {
		t.Errorf("Bulk(nil) items = %d, want 0", len(resp.Items))
	}
	if n := len(cluster.Requests("/_bulk")); n != 0 {
		t.Errorf("empty bulk sent %d requests", n)
	}
}

func TestClientBulkPartial(t *testing.T) {
	cluster := clustertest.New(t)
	c := newTestClient(t, cluster)
	cluster.FailBulk(1)

	resp, err := c.Bulk(context.Background(), []BulkAction{
		{Index: "docs", ID: "d1", Document: map[string]string{"content": "a"}},
	})
	if !errors.IsBulkPartial(err) {
		t.Fatalf("Bulk() error = %v, want BULK_PARTIAL", err)
	}
	if !errors.IsRetryable(err) {
		t.Error("partial bulk failure should be retryable")
	}
	if resp == nil || len(resp.Failed()) != 1 {
		t.Fatalf("expected decoded response with one failed item, got %+v", resp)
	}
	if resp.Failed()[0].Error.Type != "es_rejected_execution_exception" {
		t.Errorf("failure type = %q", resp.Failed()[0].Error.Type)
	}
}

func TestClientBulkRejected(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusNotFound} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			cluster := clustertest.New(t)
			c := newTestClient(t, cluster)
			cluster.FailBulkStatus(status, 1)

			resp, err := c.Bulk(context.Background(), []BulkAction{
				{Index: "docs", ID: "d1", Document: map[string]string{"content": "a"}},
			})
			if !errors.IsBulkRejected(err) {
				t.Fatalf("Bulk() error = %v, want BULK_REJECTED", err)
			}
			if !errors.IsRetryable(err) {
				t.Error("rejected bulk should be retryable")
			}
			if resp != nil {
				t.Errorf("resp = %+v, want nil", resp)
			}
			var appErr *errors.AppError
			if !stderrors.As(err, &appErr) || appErr.Status != status {
				t.Errorf("status = %v, want %d", appErr, status)
			}
			if !strings.Contains(err.Error(), "warming up") {
				t.Errorf("error should carry the cluster reason: %v", err)
			}
		})
	}
}

func TestClientBulkValidation(t *testing.T) {
	cluster := clustertest.New(t)
	c := newTestClient(t, cluster)

	_, err := c.Bulk(context.Background(), []BulkAction{{ID: "d1", Document: map[string]string{}}})
	if !errors.IsValidation(err) {
		t.Errorf("Bulk() without index error = %v, want validation", err)
	}
}

func TestClientSearchPipeline(t *testing.T) {
	cluster := clustertest.New(t)
	c := newTestClient(t, cluster)

	var mu sync.Mutex
	var gotPipeline string
	cluster.OnSearch(func(index string, body []byte, pipeline string) (int, []byte) {
		mu.Lock()
		defer mu.Unlock()
		gotPipeline = pipeline
		return http.StatusOK, []byte(`{"hits":{"hits":[{"_id":"x","_score":0.5}]}}`)
	})

	result, err := c.Search(context.Background(), "docs", `{"query":{"match_all":{}}}`, "hybrid-search-pipeline")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	mu.Lock()
	if gotPipeline != "hybrid-search-pipeline" {
		t.Errorf("search_pipeline = %q, want hybrid-search-pipeline", gotPipeline)
	}
	mu.Unlock()
	if result.Hits[0].Score != 0.5 {
		t.Errorf("score = %v, want 0.5", result.Hits[0].Score)
	}

	reqs := cluster.Requests("/_search")
	if len(reqs) != 1 || reqs[0].Method != http.MethodGet {
		t.Errorf("expected one GET _search, got %+v", reqs)
	}
}

func TestClientSearchNotFound(t *testing.T) {
	cluster := clustertest.New(t)
	c := newTestClient(t, cluster)

	_, err := c.Search(context.Background(), "missing", map[string]any{"query": map[string]any{}}, "")
	if !errors.IsNotFound(err) {
		t.Fatalf("Search() error = %v, want NOT_FOUND", err)
	}

	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		t.Fatal("expected AppError")
	}
	if appErr.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", appErr.Status)
	}
	if !strings.Contains(appErr.Message, "index_not_found_exception") {
		t.Errorf("Message = %q, want cluster error type", appErr.Message)
	}
}

func TestClientSearchHTTPError(t *testing.T) {
	cluster := clustertest.New(t)
	c := newTestClient(t, cluster)
	cluster.OnSearch(func(string, []byte, string) (int, []byte) {
		return http.StatusBadRequest, []byte(`{"error":{"type":"illegal_argument_exception","reason":"model not deployed"},"status":400}`)
	})

	_, err := c.Search(context.Background(), "docs", "{}", "")
	if errors.CodeOf(err) != errors.CodeHTTP {
		t.Fatalf("CodeOf() = %q, want HTTP_ERROR", errors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "model not deployed") {
		t.Errorf("error should carry the cluster reason: %v", err)
	}
}

func TestClientTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	c, err := New(Config{Endpoint: endpoint, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.Search(context.Background(), "docs", "{}", "")
	if !errors.IsTransport(err) {
		t.Fatalf("Search() error = %v, want TRANSPORT_ERROR", err)
	}
	if errors.IsRetryable(err) {
		t.Error("transport errors must not be retryable")
	}
}

func TestClientIndexLifecycle(t *testing.T) {
	cluster := clustertest.New(t)
	c := newTestClient(t, cluster)
	ctx := context.Background()

	exists, err := c.IndexExists(ctx, "bench")
	if err != nil || exists {
		t.Fatalf("IndexExists() = %v, %v; want false, nil", exists, err)
	}

	mapping := map[string]any{"mappings": map[string]any{"properties": map[string]any{"content": map[string]string{"type": "text"}}}}
	if err := c.CreateIndex(ctx, "bench", mapping); err != nil {
		t.Fatalf("CreateIndex() error = %v", err)
	}
	if !strings.Contains(string(cluster.Mapping("bench")), `"content"`) {
		t.Errorf("mapping not sent: %s", cluster.Mapping("bench"))
	}

	exists, err = c.IndexExists(ctx, "bench")
	if err != nil || !exists {
		t.Fatalf("IndexExists() = %v, %v; want true, nil", exists, err)
	}

	count, err := c.Count(ctx, "bench")
	if err != nil || count != 0 {
		t.Fatalf("Count() = %d, %v; want 0, nil", count, err)
	}

	if err := c.CreateIndex(ctx, "bench", mapping); errors.CodeOf(err) != errors.CodeHTTP {
		t.Errorf("second CreateIndex() error = %v, want HTTP_ERROR", err)
	}

	if err := c.DeleteIndex(ctx, "bench"); err != nil {
		t.Fatalf("DeleteIndex() error = %v", err)
	}
	if err := c.DeleteIndex(ctx, "bench"); !errors.IsNotFound(err) {
		t.Errorf("DeleteIndex() on missing index error = %v, want NOT_FOUND", err)
	}
}

func TestClientPipelinesAndModels(t *testing.T) {
	cluster := clustertest.New(t)
	c := newTestClient(t, cluster)
	ctx := context.Background()

	if err := c.PutIngestPipeline(ctx, "ingest", map[string]any{"processors": []any{}}); err != nil {
		t.Fatalf("PutIngestPipeline() error = %v", err)
	}
	if cluster.IngestPipeline("ingest") == nil {
		t.Error("ingest pipeline not stored")
	}
	if err := c.PutSearchPipeline(ctx, "hybrid", map[string]any{"phase_results_processors": []any{}}); err != nil {
		t.Fatalf("PutSearchPipeline() error = %v", err)
	}
	if cluster.SearchPipeline("hybrid") == nil {
		t.Error("search pipeline not stored")
	}

	groupID, err := c.RegisterModelGroup(ctx, map[string]string{"name": "g"})
	if err != nil || groupID != "group-1" {
		t.Fatalf("RegisterModelGroup() = %q, %v", groupID, err)
	}
	connectorID, err := c.CreateConnector(ctx, map[string]string{"name": "c"})
	if err != nil || connectorID != "connector-1" {
		t.Fatalf("CreateConnector() = %q, %v", connectorID, err)
	}

	model, err := c.RegisterModel(ctx, map[string]string{"connector_id": connectorID}, true)
	if err != nil {
		t.Fatalf("RegisterModel() error = %v", err)
	}
	if model.ModelID != "model-1" || model.TaskID != "task-1" {
		t.Errorf("RegisterModel() = %+v", model)
	}

	reqs := cluster.Requests("/_register")
	if last := reqs[len(reqs)-1]; last.Query != "deploy=true" {
		t.Errorf("register query = %q, want deploy=true", last.Query)
	}

	// without deploy the fake returns only a task id
	if _, err := c.RegisterModel(ctx, map[string]string{}, false); !errors.IsParse(err) {
		t.Errorf("RegisterModel() without model_id error = %v, want PARSE_ERROR", err)
	}
}

func TestClientBasicAuth(t *testing.T) {
	var mu sync.Mutex
	var users []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		mu.Lock()
		if ok && pass == "secret" {
			users = append(users, user)
		}
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"version":{"number":"2.11.0","distribution":"opensearch"}}`))
	}))
	defer server.Close()

	c, err := New(Config{Endpoint: server.URL, Username: "bench", Password: "secret"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	info, err := c.Info(context.Background())
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.Version.Distribution != "opensearch" {
		t.Errorf("Distribution = %q", info.Version.Distribution)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(users) == 0 || users[len(users)-1] != "bench" {
		t.Errorf("basic auth not sent, users = %v", users)
	}
}

func TestParseSearchResponse(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
		wantHits int
	}{
		{
			name:     "valid",
			body:     `{"took":3,"hits":{"total":{"value":2},"max_score":1.5,"hits":[{"_id":"a","_score":1.5,"_source":{"content":"x"}},{"_id":"b","_score":0.2}]}}`,
			wantHits: 2,
		},
		{
			name:     "empty hits",
			body:     `{"hits":{"total":0,"hits":[]}}`,
			wantHits: 0,
		},
		{
			name:     "missing hits object",
			body:     `{"took":1}`,
			wantCode: errors.CodeParse,
		},
		{
			name:     "missing inner hits",
			body:     `{"hits":{"total":{"value":0}}}`,
			wantCode: errors.CodeParse,
		},
		{
			name:     "bare total",
			body:     `{"hits":{"total":7,"hits":[]}}`,
			wantHits: 0,
		},
		{
			name:     "malformed total",
			body:     `{"hits":{"total":"many","hits":[]}}`,
			wantCode: errors.CodeParse,
		},
		{
			name:     "hit without id",
			body:     `{"hits":{"hits":[{"_score":1.0}]}}`,
			wantCode: errors.CodeParse,
		},
		{
			name:     "hit without score",
			body:     `{"hits":{"hits":[{"_id":"a","_score":null}]}}`,
			wantCode: errors.CodeParse,
		},
		{
			name:     "error body",
			body:     `{"error":{"type":"search_phase_execution_exception","reason":"all shards failed"}}`,
			wantCode: errors.CodeQuery,
		},
		{
			name:     "not json",
			body:     `<html>`,
			wantCode: errors.CodeParse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseSearchResponse([]byte(tt.body))
			if tt.wantCode != "" {
				if errors.CodeOf(err) != tt.wantCode {
					t.Fatalf("CodeOf(err) = %q, want %q (err=%v)", errors.CodeOf(err), tt.wantCode, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got.Hits) != tt.wantHits {
				t.Errorf("hits = %d, want %d", len(got.Hits), tt.wantHits)
			}
		})
	}
}

func TestErrorReason(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`{"type":"t","reason":"r"}`, "t: r"},
		{`{"root_cause":[{"type":"rc","reason":"why"}]}`, "rc: why"},
		{`"plain message"`, "plain message"},
	}
	for _, tt := range tests {
		if got := errorReason(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("errorReason(%s) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}
