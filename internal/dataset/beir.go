package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ricesearch/rice-bench/internal/evaluation"
	"github.com/ricesearch/rice-bench/internal/pkg/errors"
)

// BEIR file layout inside a dataset folder.
const (
	CorpusFile  = "corpus.jsonl"
	QueriesFile = "queries.jsonl"
	QrelsDir    = "qrels"
)

// LoadBEIR reads <dir>/corpus.jsonl, <dir>/queries.jsonl and
// <dir>/qrels/<split>.tsv. Only queries with judgments are kept, in file
// order.
func LoadBEIR(dir, split string) (*BEIR, error) {
	qrels, err := readFile(filepath.Join(dir, QrelsDir, split+".tsv"), ReadQrels)
	if err != nil {
		return nil, err
	}
	corpus, err := readFile(filepath.Join(dir, CorpusFile), ReadCorpus)
	if err != nil {
		return nil, err
	}
	queries, err := readFile(filepath.Join(dir, QueriesFile), ReadQueries)
	if err != nil {
		return nil, err
	}

	judged := queries[:0]
	for _, q := range queries {
		if _, ok := qrels[q.ID]; ok {
			judged = append(judged, q)
		}
	}

	return &BEIR{
		Name:    filepath.Base(dir),
		Split:   split,
		Corpus:  corpus,
		Queries: judged,
		Qrels:   qrels,
	}, nil
}

// ReadCorpus parses corpus.jsonl records ({_id, title, text}).
func ReadCorpus(r io.Reader) ([]Document, error) {
	var docs []Document
	err := scanJSONL(r, func(line []byte, n int) error {
		var d Document
		if err := json.Unmarshal(line, &d); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		if d.ID == "" {
			return fmt.Errorf("line %d: missing _id", n)
		}
		docs = append(docs, d)
		return nil
	})
	return docs, err
}

// ReadQueries parses queries.jsonl records ({_id, text}).
func ReadQueries(r io.Reader) ([]Query, error) {
	var queries []Query
	err := scanJSONL(r, func(line []byte, n int) error {
		var q Query
		if err := json.Unmarshal(line, &q); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		if q.ID == "" {
			return fmt.Errorf("line %d: missing _id", n)
		}
		queries = append(queries, q)
		return nil
	})
	return queries, err
}

// ReadQrels parses a tab separated qrels file with a header line:
// query-id, corpus-id, score.
func ReadQrels(r io.Reader) (evaluation.Qrels, error) {
	qrels := make(evaluation.Qrels)
	scanner := bufio.NewScanner(r)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimSpace(scanner.Text())
		if n == 1 || line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: want 3 tab separated fields, got %d", n, len(fields))
		}
		score, err := strconv.Atoi(strings.TrimSpace(fields[2]))
		if err != nil {
			return nil, fmt.Errorf("line %d: score: %w", n, err)
		}
		queryID, docID := strings.TrimSpace(fields[0]), strings.TrimSpace(fields[1])
		if qrels[queryID] == nil {
			qrels[queryID] = make(map[string]int)
		}
		qrels[queryID][docID] = score
	}
	return qrels, scanner.Err()
}

func readFile[T any](path string, parse func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, errors.DatasetError("failed to open "+path, err)
	}
	defer f.Close()

	v, err := parse(f)
	if err != nil {
		return zero, errors.DatasetError("failed to read "+path, err)
	}
	return v, nil
}
