// Package strategy builds and executes the retrieval strategies under
// benchmark: lexical, dense, sparse and two hybrids.
package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/ricesearch/rice-bench/internal/config"
	"github.com/ricesearch/rice-bench/internal/opensearch"
	"github.com/ricesearch/rice-bench/internal/pkg/errors"
)

// Strategy names.
const (
	BM25        = "bm25"
	Dense       = "dense"
	Sparse      = "sparse"
	DenseSparse = "dense_sparse"
	DenseBM25   = "dense_bm25"
)

var names = []string{BM25, Dense, Sparse, DenseSparse, DenseBM25}

// Names returns every strategy name in benchmark order.
func Names() []string {
	return append([]string(nil), names...)
}

// Hit is one ranked result.
type Hit struct {
	DocID string  `json:"doc_id"`
	Score float64 `json:"score"`
	Text  string  `json:"text,omitempty"`
}

// Strategy runs one query against an index.
type Strategy interface {
	Name() string
	Search(ctx context.Context, index, text string, topK int) ([]Hit, error)
}

// Searcher is the subset of the cluster client strategies need.
type Searcher interface {
	Search(ctx context.Context, index string, body any, pipeline string) (*opensearch.SearchResponse, error)
}

// Params configures query construction.
type Params struct {
	TextField     string
	DenseField    string
	SparseField   string
	DenseModelID  string
	SparseModelID string

	// MaxTokenScore clips sparse query token weights.
	MaxTokenScore float64

	// HybridDenseK is the neighbour count of the dense sub-query inside
	// hybrid queries, independent of the requested top k.
	HybridDenseK int

	// SearchPipeline normalizes and combines hybrid sub-query scores.
	SearchPipeline string
}

// DefaultParams returns the index field names and tuning used by setup.
func DefaultParams() Params {
	return Params{
		TextField:      "content",
		DenseField:     "dense_embedding",
		SparseField:    "sparse_embedding",
		MaxTokenScore:  3.5,
		HybridDenseK:   10,
		SearchPipeline: "hybrid-search-pipeline",
	}
}

// ParamsFromConfig maps configuration onto Params.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		TextField:      cfg.Index.TextField,
		DenseField:     cfg.Index.DenseField,
		SparseField:    cfg.Index.SparseField,
		DenseModelID:   cfg.Models.DenseModelID,
		SparseModelID:  cfg.Models.SparseModelID,
		MaxTokenScore:  cfg.Strategy.MaxTokenScore,
		HybridDenseK:   cfg.Strategy.HybridDenseK,
		SearchPipeline: cfg.Strategy.SearchPipeline,
	}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.TextField == "" {
		p.TextField = def.TextField
	}
	if p.DenseField == "" {
		p.DenseField = def.DenseField
	}
	if p.SparseField == "" {
		p.SparseField = def.SparseField
	}
	if p.MaxTokenScore <= 0 {
		p.MaxTokenScore = def.MaxTokenScore
	}
	if p.HybridDenseK <= 0 {
		p.HybridDenseK = def.HybridDenseK
	}
	if p.SearchPipeline == "" {
		p.SearchPipeline = def.SearchPipeline
	}
	return p
}

// builder returns the query body for a text and result size.
type builder func(text string, topK int) map[string]any

type strategy struct {
	name      string
	client    Searcher
	textField string
	pipeline  string
	build     builder
}

// New creates the named strategy. Strategies that encode queries on the
// cluster require the corresponding model ID.
func New(name string, client Searcher, params Params) (Strategy, error) {
	p := params.withDefaults()

	needDense := name == Dense || name == DenseSparse || name == DenseBM25
	needSparse := name == Sparse || name == DenseSparse
	if needDense && p.DenseModelID == "" {
		return nil, errors.ValidationError(fmt.Sprintf("strategy %s requires a dense model id", name))
	}
	if needSparse && p.SparseModelID == "" {
		return nil, errors.ValidationError(fmt.Sprintf("strategy %s requires a sparse model id", name))
	}

	s := &strategy{name: name, client: client, textField: p.TextField}

	switch name {
	case BM25:
		s.build = func(text string, topK int) map[string]any {
			return Body(topK, MatchQuery(p.TextField, text))
		}
	case Dense:
		s.build = func(text string, topK int) map[string]any {
			return Body(topK, NeuralQuery(p.DenseField, text, p.DenseModelID, topK))
		}
	case Sparse:
		s.build = func(text string, topK int) map[string]any {
			return Body(topK, NeuralSparseQuery(p.SparseField, text, p.SparseModelID, p.MaxTokenScore))
		}
	case DenseSparse:
		s.pipeline = p.SearchPipeline
		s.build = func(text string, topK int) map[string]any {
			return Body(topK, HybridQuery(
				NeuralSparseQuery(p.SparseField, text, p.SparseModelID, p.MaxTokenScore),
				NeuralQuery(p.DenseField, text, p.DenseModelID, p.HybridDenseK),
			))
		}
	case DenseBM25:
		s.pipeline = p.SearchPipeline
		s.build = func(text string, topK int) map[string]any {
			return Body(topK, HybridQuery(
				MatchQuery(p.TextField, text),
				NeuralQuery(p.DenseField, text, p.DenseModelID, p.HybridDenseK),
			))
		}
	default:
		return nil, errors.ValidationError(fmt.Sprintf("unknown strategy %q (want one of %s)", name, strings.Join(names, ", ")))
	}

	return s, nil
}

// All creates every strategy in benchmark order.
func All(client Searcher, params Params) ([]Strategy, error) {
	return Select(names, client, params)
}

// Select creates the named strategies in the given order.
func Select(selected []string, client Searcher, params Params) ([]Strategy, error) {
	if len(selected) == 0 {
		return nil, errors.ValidationError("no strategies selected")
	}
	out := make([]Strategy, 0, len(selected))
	for _, name := range selected {
		s, err := New(strings.TrimSpace(name), client, params)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (s *strategy) Name() string { return s.name }

// Search runs the query and returns hits in service order.
func (s *strategy) Search(ctx context.Context, index, text string, topK int) ([]Hit, error) {
	if topK < 1 {
		return nil, errors.ValidationError("topK must be positive")
	}

	resp, err := s.client.Search(ctx, index, s.build(text, topK), s.pipeline)
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", s.name, err)
	}

	hits := make([]Hit, len(resp.Hits))
	for i, h := range resp.Hits {
		hits[i] = Hit{
			DocID: h.ID,
			Score: h.Score,
			Text:  h.SourceField(s.textField),
		}
	}
	return hits, nil
}
