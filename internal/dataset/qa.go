package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ricesearch/rice-bench/internal/pkg/errors"
)

// squadFile is the official nested SQuAD layout.
type squadFile struct {
	Data []struct {
		Title      string `json:"title"`
		Paragraphs []struct {
			Context string `json:"context"`
			QAs     []struct {
				ID       string `json:"id"`
				Question string `json:"question"`
			} `json:"qas"`
		} `json:"paragraphs"`
	} `json:"data"`
}

// QAPath returns the first existing file for a split, trying
// <dir>/<name>/<split>.jsonl then .json.
func QAPath(dir, name, split string) (string, error) {
	base := filepath.Join(dir, name, split)
	for _, ext := range []string{".jsonl", ".json"} {
		path := base + ext
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", errors.DatasetError(fmt.Sprintf("no %s split for %s under %s (want %s.jsonl or %s.json)", split, name, dir, split, split), nil)
}

// LoadQASplit locates and loads one split.
func LoadQASplit(dir, name, split string) (*QASet, error) {
	path, err := QAPath(dir, name, split)
	if err != nil {
		return nil, err
	}
	pairs, err := LoadQAFile(path)
	if err != nil {
		return nil, err
	}
	return &QASet{Name: name, Split: split, Pairs: pairs}, nil
}

// LoadQAFile reads question answering pairs from a JSONL file, a JSON array
// or the official nested SQuAD JSON.
func LoadQAFile(path string) ([]QAPair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.DatasetError("failed to open "+path, err)
	}
	defer f.Close()

	pairs, err := ReadQA(f)
	if err != nil {
		return nil, errors.DatasetError("failed to read "+path, err)
	}
	return pairs, nil
}

// ReadQA parses pairs, detecting the layout from the first token. Pairs
// without an ID get their position as ID.
func ReadQA(r io.Reader) ([]QAPair, error) {
	br := bufio.NewReader(r)
	first, err := firstByte(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var pairs []QAPair
	switch first {
	case '[':
		if err := json.NewDecoder(br).Decode(&pairs); err != nil {
			return nil, fmt.Errorf("decode json array: %w", err)
		}
	case '{':
		data, err := io.ReadAll(br)
		if err != nil {
			return nil, err
		}
		nested, ok, err := parseNested(data)
		if err != nil {
			return nil, err
		}
		pairs = nested
		if !ok {
			if pairs, err = parseJSONL(bytes.NewReader(data)); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("unexpected leading %q", first)
	}

	for i := range pairs {
		if pairs[i].ID == "" {
			pairs[i].ID = strconv.Itoa(i)
		}
	}
	return pairs, nil
}

// parseNested decodes the official SQuAD layout. ok is false when data is a
// JSONL stream or a single flat record.
func parseNested(data []byte) ([]QAPair, bool, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var top map[string]json.RawMessage
	if err := dec.Decode(&top); err != nil {
		return nil, false, fmt.Errorf("decode json: %w", err)
	}
	if _, ok := top["data"]; !ok || dec.More() {
		return nil, false, nil
	}

	var file squadFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, false, fmt.Errorf("decode squad json: %w", err)
	}

	var pairs []QAPair
	for _, article := range file.Data {
		for _, para := range article.Paragraphs {
			for _, qa := range para.QAs {
				pairs = append(pairs, QAPair{ID: qa.ID, Question: qa.Question, Context: para.Context})
			}
		}
	}
	return pairs, true, nil
}

func parseJSONL(r io.Reader) ([]QAPair, error) {
	var pairs []QAPair
	err := scanJSONL(r, func(line []byte, n int) error {
		var p QAPair
		if err := json.Unmarshal(line, &p); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
		pairs = append(pairs, p)
		return nil
	})
	return pairs, err
}

// scanJSONL calls fn for every non-blank line with its 1-based number.
func scanJSONL(r io.Reader, fn func(line []byte, n int) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := fn(line, n); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func firstByte(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n', 0xEF, 0xBB, 0xBF:
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}
