package report

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ricesearch/rice-bench/internal/bench"
	"github.com/ricesearch/rice-bench/internal/evaluation"
	"github.com/ricesearch/rice-bench/internal/history"
	"github.com/ricesearch/rice-bench/internal/pkg/errors"
)

func sampleReports() []*bench.Report {
	return []*bench.Report{
		{
			RunID:      "run-1",
			Strategy:   "bm25",
			Mode:       bench.ModeQA,
			Index:      "squad",
			Dataset:    "squad_v2",
			TopK:       10,
			QueryCount: 100,
			Recall:     map[string]float64{"Recall@1": 0.5, "Recall@4": 0.75, "Recall@10": 0.9},
			QPS:        42,
		},
		{
			RunID:      "run-1",
			Strategy:   "dense",
			Mode:       bench.ModeQA,
			Index:      "squad",
			Dataset:    "squad_v2",
			TopK:       10,
			QueryCount: 100,
			Recall:     map[string]float64{"Recall@1": 0.6, "Recall@4": 0.8, "Recall@10": 0.95},
			QPS:        21.5,
		},
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"csv", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseFormat() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMetricColumns(t *testing.T) {
	scores := evaluation.Scores{
		NDCG:   map[string]float64{"NDCG@10": 1, "NDCG@1": 1, "NDCG@4": 1},
		MAP:    map[string]float64{"MAP@1": 1},
		Recall: map[string]float64{"Recall@10": 1},
		P:      map[string]float64{"P@4": 1},
	}
	reports := []*bench.Report{{Scores: &scores}}

	got := strings.Join(MetricColumns(reports), ",")
	want := "NDCG@1,NDCG@4,NDCG@10,MAP@1,Recall@10,P@4"
	if got != want {
		t.Errorf("MetricColumns() = %s, want %s", got, want)
	}
}

func TestWrite_Table(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(sampleReports(), Options{Format: FormatTable, Writer: &buf}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	out := buf.String()

	for _, want := range []string{"QA benchmark on squad (squad_v2)", "Strategy", "Recall@1", "Recall@10", "bm25", "dense", "0.9500", "21.5", "100 queries, top 10"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Recall@4") > strings.Index(out, "Recall@10") {
		t.Error("cutoffs must sort numerically")
	}
}

func TestWrite_TableGroupsModes(t *testing.T) {
	scores := evaluation.Scores{NDCG: map[string]float64{"NDCG@10": 0.3}}
	reports := append(sampleReports(), &bench.Report{Strategy: "sparse", Mode: bench.ModeIR, Index: "fiqa", Scores: &scores})

	out := Table(reports, NewStyles(DefaultTheme))
	if !strings.Contains(out, "QA benchmark") || !strings.Contains(out, "IR benchmark on fiqa") {
		t.Errorf("expected one table per mode:\n%s", out)
	}
	if got := Table(nil, NewStyles(DefaultTheme)); !strings.Contains(got, "no results") {
		t.Errorf("empty table = %q", got)
	}
}

func TestWrite_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(sampleReports(), Options{Format: FormatJSON, Writer: &buf}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var got struct {
		RunID   string `json:"run_id"`
		Reports []struct {
			Strategy string             `json:"strategy"`
			Recall   map[string]float64 `json:"recall"`
		} `json:"reports"`
	}
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if got.RunID != "run-1" || len(got.Reports) != 2 || got.Reports[1].Recall["Recall@10"] != 0.95 {
		t.Errorf("decoded = %+v", got)
	}
}

func TestWrite_YAMLToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := Write(sampleReports(), Options{Format: FormatYAML, File: path}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got Summary
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("invalid YAML: %v", err)
	}
	if len(got.Reports) != 2 || got.Reports[0].Strategy != "bm25" {
		t.Errorf("decoded = %+v", got)
	}
}

func TestWrite_UnknownFormat(t *testing.T) {
	err := Write(nil, Options{Format: "xml", Writer: &bytes.Buffer{}})
	if !errors.IsValidation(err) {
		t.Errorf("Write() error = %v, want validation", err)
	}
}

func TestWriteHistory(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	series := []Series{
		{Metric: "squad:dense:Recall@1", Points: []history.DataPoint{{Timestamp: at, Value: 0.61, RunID: "r2"}}},
		{Metric: "squad:bm25:Recall@1", Points: []history.DataPoint{{Timestamp: at, Value: 0.5, RunID: "r1"}}},
	}

	var buf bytes.Buffer
	if err := WriteHistory(&buf, series, FormatTable, NewStyles(DefaultTheme)); err != nil {
		t.Fatalf("WriteHistory() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "2026-01-02T03:04:05Z") || !strings.Contains(out, "0.6100") {
		t.Errorf("history table:\n%s", out)
	}
	if strings.Index(out, "bm25") > strings.Index(out, "dense") {
		t.Error("series must be sorted by metric name")
	}

	buf.Reset()
	if err := WriteHistory(&buf, nil, FormatTable, NewStyles(DefaultTheme)); err != nil || !strings.Contains(buf.String(), "no history") {
		t.Errorf("empty history = %q, %v", buf.String(), err)
	}
}
