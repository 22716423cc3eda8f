// Package clustertest runs an in-process fake of the search cluster's HTTP
// API for tests. Searches score documents by query-term overlap with the
// text field, which is enough to drive ingestion and benchmark flows
// end to end.
package clustertest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// Request is a recorded call.
type Request struct {
	Method string
	Path   string
	Query  string
	Body   []byte
}

// SearchFunc overrides search handling. It returns the HTTP status and the
// raw response body.
type SearchFunc func(index string, body []byte, pipeline string) (int, []byte)

// Cluster is a fake search cluster.
type Cluster struct {
	server *httptest.Server

	mu              sync.Mutex
	textField       string
	onSearch        SearchFunc
	indices         map[string]*index
	requests        []Request
	failBulk        int
	bulkStatus      int
	bulkStatusLeft  int
	ingestPipelines map[string]json.RawMessage
	searchPipelines map[string]json.RawMessage
	models          []json.RawMessage
	connectors      []json.RawMessage
	groups          []json.RawMessage
}

type index struct {
	mapping json.RawMessage
	ids     []string
	docs    map[string]map[string]any
}

// New starts a fake cluster that shuts down with the test.
func New(t testing.TB) *Cluster {
	t.Helper()

	c := &Cluster{
		textField:       "content",
		indices:         make(map[string]*index),
		ingestPipelines: make(map[string]json.RawMessage),
		searchPipelines: make(map[string]json.RawMessage),
	}
	c.server = httptest.NewServer(c.routes())
	t.Cleanup(c.server.Close)
	return c
}

// URL returns the cluster endpoint.
func (c *Cluster) URL() string {
	return c.server.URL
}

func (c *Cluster) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(c.record)

	r.Get("/", c.handleInfo)
	r.Head("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Post("/_bulk", c.handleBulk)
	r.Put("/_bulk", c.handleBulk)

	r.Put("/_ingest/pipeline/{name}", c.handlePutPipeline(c.ingestPipelines))
	r.Put("/_search/pipeline/{name}", c.handlePutPipeline(c.searchPipelines))

	r.Route("/_plugins/_ml", func(r chi.Router) {
		r.Post("/model_groups/_register", c.handleRegisterGroup)
		r.Post("/connectors/_create", c.handleCreateConnector)
		r.Post("/models/_register", c.handleRegisterModel)
	})

	r.Route("/{index}", func(r chi.Router) {
		r.Head("/", c.handleIndexExists)
		r.Put("/", c.handleCreateIndex)
		r.Delete("/", c.handleDeleteIndex)
		r.Get("/_search", c.handleSearch)
		r.Post("/_search", c.handleSearch)
		r.Post("/_refresh", c.handleRefresh)
		r.Get("/_refresh", c.handleRefresh)
		r.Get("/_count", c.handleCount)
		r.Post("/_count", c.handleCount)
	})

	return r
}

// record buffers and stores every request body before routing.
func (c *Cluster) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			body, _ = io.ReadAll(r.Body)
			r.Body.Close()
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		c.mu.Lock()
		c.requests = append(c.requests, Request{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Body:   body,
		})
		c.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Requests returns recorded calls whose path ends with suffix. An empty
// suffix returns every call except the client's product check on "/".
func (c *Cluster) Requests(suffix string) []Request {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Request
	for _, req := range c.requests {
		if req.Path == "/" {
			continue
		}
		if suffix == "" || strings.HasSuffix(req.Path, suffix) {
			out = append(out, req)
		}
	}
	return out
}

// OnSearch replaces the default term-overlap search.
func (c *Cluster) OnSearch(fn SearchFunc) {
	c.mu.Lock()
	c.onSearch = fn
	c.mu.Unlock()
}

// SetTextField changes the document field searched by the default handler.
func (c *Cluster) SetTextField(field string) {
	c.mu.Lock()
	c.textField = field
	c.mu.Unlock()
}

// FailBulk makes the next n bulk requests report errors=true.
func (c *Cluster) FailBulk(n int) {
	c.mu.Lock()
	c.failBulk = n
	c.mu.Unlock()
}

// FailBulkStatus makes the next n bulk requests answer with the given HTTP
// status. n <= 0 fails every bulk request.
func (c *Cluster) FailBulkStatus(status, n int) {
	c.mu.Lock()
	c.bulkStatus = status
	c.bulkStatusLeft = n
	c.mu.Unlock()
}

// AddDocument stores a document directly, bypassing bulk.
func (c *Cluster) AddDocument(indexName, id, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexLocked(indexName).put(id, map[string]any{c.textField: text})
}

// Documents returns the IDs stored in an index in insertion order.
func (c *Cluster) Documents(indexName string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.indices[indexName]
	if !ok {
		return nil
	}
	return append([]string(nil), idx.ids...)
}

// Document returns a stored document's source.
func (c *Cluster) Document(indexName, id string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.indices[indexName]
	if !ok {
		return nil, false
	}
	doc, ok := idx.docs[id]
	return doc, ok
}

// Mapping returns the body an index was created with.
func (c *Cluster) Mapping(indexName string) json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.indices[indexName]; ok {
		return idx.mapping
	}
	return nil
}

// IngestPipeline returns a stored ingest pipeline body.
func (c *Cluster) IngestPipeline(name string) json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ingestPipelines[name]
}

// SearchPipeline returns a stored search pipeline body.
func (c *Cluster) SearchPipeline(name string) json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.searchPipelines[name]
}

// Connectors returns the connector bodies in creation order.
func (c *Cluster) Connectors() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]json.RawMessage(nil), c.connectors...)
}

// Models returns the model registration bodies in order.
func (c *Cluster) Models() []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]json.RawMessage(nil), c.models...)
}

func (c *Cluster) indexLocked(name string) *index {
	idx, ok := c.indices[name]
	if !ok {
		idx = &index{docs: make(map[string]map[string]any)}
		c.indices[name] = idx
	}
	return idx
}

func (idx *index) put(id string, doc map[string]any) {
	if _, exists := idx.docs[id]; !exists {
		idx.ids = append(idx.ids, id)
	}
	idx.docs[id] = doc
}

func (c *Cluster) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":         "clustertest",
		"cluster_name": "clustertest",
		"version": map[string]any{
			"distribution": "opensearch",
			"number":       "2.11.0",
		},
		"tagline": "The OpenSearch Project: https://opensearch.org/",
	})
}

func (c *Cluster) handleBulk(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	c.mu.Lock()
	defer c.mu.Unlock()

	if status := c.bulkStatus; status != 0 {
		if c.bulkStatusLeft > 0 {
			c.bulkStatusLeft--
			if c.bulkStatusLeft == 0 {
				c.bulkStatus = 0
			}
		}
		writeError(w, status, "unavailable_shards_exception", "warming up")
		return
	}

	fail := c.failBulk > 0
	if fail {
		c.failBulk--
	}

	var items []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var action map[string]struct {
			Index string `json:"_index"`
			ID    string `json:"_id"`
		}
		if err := json.Unmarshal(line, &action); err != nil {
			writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
			return
		}
		if !scanner.Scan() {
			writeError(w, http.StatusBadRequest, "parse_exception", "action without source")
			return
		}
		var doc map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &doc); err != nil {
			writeError(w, http.StatusBadRequest, "parse_exception", err.Error())
			return
		}

		meta := action["index"]
		id := meta.ID
		if id == "" {
			id = fmt.Sprintf("auto-%d", len(c.indexLocked(meta.Index).ids)+1)
		}

		item := map[string]any{"_index": meta.Index, "_id": id, "status": http.StatusCreated}
		if fail {
			item["status"] = http.StatusTooManyRequests
			item["error"] = map[string]any{
				"type":   "es_rejected_execution_exception",
				"reason": "rejected execution of coordinating operation",
			}
		} else {
			c.indexLocked(meta.Index).put(id, doc)
		}
		items = append(items, map[string]any{"index": item})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"took":   1,
		"errors": fail,
		"items":  items,
	})
}

func (c *Cluster) handleSearch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "index")
	body, _ := io.ReadAll(r.Body)
	pipeline := r.URL.Query().Get("search_pipeline")

	c.mu.Lock()
	onSearch := c.onSearch
	c.mu.Unlock()

	if onSearch != nil {
		status, resp := onSearch(name, body, pipeline)
		w.WriteHeader(status)
		_, _ = w.Write(resp)
		return
	}

	var req map[string]any
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "parsing_exception", err.Error())
		return
	}

	c.mu.Lock()
	idx, ok := c.indices[name]
	if !ok {
		c.mu.Unlock()
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]")
		return
	}
	hits := c.scoreLocked(name, idx, queryText(req))
	c.mu.Unlock()

	size := 10
	if s, ok := req["size"].(float64); ok {
		size = int(s)
	}
	if len(hits) > size {
		hits = hits[:size]
	}

	var maxScore any
	if len(hits) > 0 {
		maxScore = hits[0]["_score"]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"took":      1,
		"timed_out": false,
		"hits": map[string]any{
			"total":     map[string]any{"value": len(hits), "relation": "eq"},
			"max_score": maxScore,
			"hits":      hits,
		},
	})
}

// scoreLocked ranks documents by the number of query terms they contain.
// Documents without any shared term are not returned.
func (c *Cluster) scoreLocked(name string, idx *index, query string) []map[string]any {
	terms := tokenize(query)

	var hits []map[string]any
	for _, id := range idx.ids {
		doc := idx.docs[id]
		text, _ := doc[c.textField].(string)
		docTerms := make(map[string]bool)
		for _, t := range tokenize(text) {
			docTerms[t] = true
		}
		score := 0.0
		for _, t := range terms {
			if docTerms[t] {
				score++
			}
		}
		if score == 0 {
			continue
		}
		hits = append(hits, map[string]any{
			"_index":  name,
			"_id":     id,
			"_score":  score,
			"_source": doc,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i]["_score"].(float64) > hits[j]["_score"].(float64)
	})
	return hits
}

func (c *Cluster) handleRefresh(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "index")

	c.mu.Lock()
	_, ok := c.indices[name]
	c.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"_shards": map[string]int{"total": 1, "successful": 1, "failed": 0}})
}

func (c *Cluster) handleCount(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "index")

	c.mu.Lock()
	idx, ok := c.indices[name]
	count := 0
	if ok {
		count = len(idx.ids)
	}
	c.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func (c *Cluster) handleIndexExists(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "index")

	c.mu.Lock()
	_, ok := c.indices[name]
	c.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (c *Cluster) handleCreateIndex(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "index")
	body, _ := io.ReadAll(r.Body)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.indices[name]; ok {
		writeError(w, http.StatusBadRequest, "resource_already_exists_exception", "index ["+name+"] already exists")
		return
	}
	idx := c.indexLocked(name)
	idx.mapping = body
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true, "index": name})
}

func (c *Cluster) handleDeleteIndex(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "index")

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.indices[name]; !ok {
		writeError(w, http.StatusNotFound, "index_not_found_exception", "no such index ["+name+"]")
		return
	}
	delete(c.indices, name)
	writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
}

func (c *Cluster) handlePutPipeline(store map[string]json.RawMessage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		body, _ := io.ReadAll(r.Body)

		c.mu.Lock()
		store[name] = body
		c.mu.Unlock()

		writeJSON(w, http.StatusOK, map[string]any{"acknowledged": true})
	}
}

func (c *Cluster) handleRegisterGroup(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	c.mu.Lock()
	c.groups = append(c.groups, body)
	id := fmt.Sprintf("group-%d", len(c.groups))
	c.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"model_group_id": id, "status": "CREATED"})
}

func (c *Cluster) handleCreateConnector(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	c.mu.Lock()
	c.connectors = append(c.connectors, body)
	id := fmt.Sprintf("connector-%d", len(c.connectors))
	c.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"connector_id": id})
}

func (c *Cluster) handleRegisterModel(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	c.mu.Lock()
	c.models = append(c.models, body)
	n := len(c.models)
	c.mu.Unlock()

	resp := map[string]any{
		"task_id": fmt.Sprintf("task-%d", n),
		"status":  "CREATED",
	}
	if r.URL.Query().Get("deploy") == "true" {
		resp["model_id"] = fmt.Sprintf("model-%d", n)
	}
	writeJSON(w, http.StatusOK, resp)
}

// queryText finds the first query string in a search body: a query_text
// value or a match clause.
func queryText(v any) string {
	switch node := v.(type) {
	case map[string]any:
		if s, ok := node["query_text"].(string); ok {
			return s
		}
		if m, ok := node["match"].(map[string]any); ok {
			for _, clause := range m {
				switch q := clause.(type) {
				case string:
					return q
				case map[string]any:
					if s, ok := q["query"].(string); ok {
						return s
					}
				}
			}
		}
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s := queryText(node[k]); s != "" {
				return s
			}
		}
	case []any:
		for _, item := range node {
			if s := queryText(item); s != "" {
				return s
			}
		}
	}
	return ""
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r > 127)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, typ, reason string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"root_cause": []map[string]any{{"type": typ, "reason": reason}},
			"type":       typ,
			"reason":     reason,
		},
		"status": status,
	})
}
