// Package dataset loads benchmark corpora: SQuAD-style question answering
// pairs and BEIR retrieval datasets.
package dataset

import (
	"github.com/ricesearch/rice-bench/internal/evaluation"
	"github.com/ricesearch/rice-bench/internal/ingest"
)

// Dataset types.
const (
	TypeQA = "qa"
	TypeIR = "ir"
)

// Query is one evaluation query.
type Query struct {
	ID   string `json:"_id"`
	Text string `json:"text"`
}

// Document is one corpus entry of a retrieval dataset.
type Document struct {
	ID    string `json:"_id"`
	Title string `json:"title"`
	Text  string `json:"text"`
}

// FullText is the indexed text: title and body joined by a space.
func (d Document) FullText() string {
	if d.Title == "" {
		return d.Text
	}
	if d.Text == "" {
		return d.Title
	}
	return d.Title + " " + d.Text
}

// QAPair is a question with the passage that answers it.
type QAPair struct {
	ID       string `json:"id"`
	Question string `json:"question"`
	Context  string `json:"context"`
}

// QASet is a split of a question answering dataset.
type QASet struct {
	Name  string
	Split string
	Pairs []QAPair
}

// Limit keeps the first n pairs. n <= 0 keeps everything.
func (s *QASet) Limit(n int) *QASet {
	if n <= 0 || n >= len(s.Pairs) {
		return s
	}
	return &QASet{Name: s.Name, Split: s.Split, Pairs: s.Pairs[:n]}
}

// Passages returns every context in order, duplicates included.
func (s *QASet) Passages() []string {
	out := make([]string, len(s.Pairs))
	for i, p := range s.Pairs {
		out[i] = p.Context
	}
	return out
}

// Queries returns the questions in order.
func (s *QASet) Queries() []Query {
	out := make([]Query, len(s.Pairs))
	for i, p := range s.Pairs {
		out[i] = Query{ID: p.ID, Text: p.Question}
	}
	return out
}

// GroundTruth maps query ID to its answering passage.
func (s *QASet) GroundTruth() map[string]string {
	out := make(map[string]string, len(s.Pairs))
	for _, p := range s.Pairs {
		out[p.ID] = p.Context
	}
	return out
}

// BEIR is one split of a BEIR dataset.
type BEIR struct {
	Name    string
	Split   string
	Corpus  []Document
	Queries []Query
	Qrels   evaluation.Qrels
}

// Limit keeps the first n queries and their judgments. The corpus is kept
// whole. n <= 0 keeps everything.
func (b *BEIR) Limit(n int) *BEIR {
	if n <= 0 || n >= len(b.Queries) {
		return b
	}
	queries := b.Queries[:n]
	qrels := make(evaluation.Qrels, n)
	for _, q := range queries {
		qrels[q.ID] = b.Qrels[q.ID]
	}
	return &BEIR{Name: b.Name, Split: b.Split, Corpus: b.Corpus, Queries: queries, Qrels: qrels}
}

// Documents converts the corpus for ingestion, keyed by corpus ID.
func (b *BEIR) Documents() []ingest.Document {
	out := make([]ingest.Document, len(b.Corpus))
	for i, d := range b.Corpus {
		out[i] = ingest.Document{ID: d.ID, Text: d.FullText()}
	}
	return out
}
