// Package report renders benchmark results as a terminal table, JSON or
// YAML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/ricesearch/rice-bench/internal/bench"
	"github.com/ricesearch/rice-bench/internal/pkg/errors"
)

// Format is an output format.
type Format string

const (
	// FormatTable renders a bordered table per scoring mode.
	FormatTable Format = "table"
	// FormatJSON renders indented JSON.
	FormatJSON Format = "json"
	// FormatYAML renders YAML.
	FormatYAML Format = "yaml"
)

// Formats lists the supported formats.
var Formats = []Format{FormatTable, FormatJSON, FormatYAML}

// ParseFormat validates a format name. Empty means table.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return FormatTable, nil
	}
	f := Format(strings.ToLower(s))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", errors.ValidationError(fmt.Sprintf("unsupported output format: %s", s))
}

// Theme defines the table colors.
type Theme struct {
	Primary lipgloss.Color
	Dim     lipgloss.Color
}

// DefaultTheme is the default theme.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#00ff9f"),
	Dim:     lipgloss.Color("#6e7681"),
}

// Styles holds the styles derived from a theme.
type Styles struct {
	Title  lipgloss.Style
	Header lipgloss.Style
	Cell   lipgloss.Style
	Border lipgloss.Style
	Footer lipgloss.Style
}

// NewStyles creates styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title:  lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Header: lipgloss.NewStyle().Bold(true).Foreground(t.Primary).Padding(0, 1),
		Cell:   lipgloss.NewStyle().Padding(0, 1),
		Border: lipgloss.NewStyle().Foreground(t.Primary),
		Footer: lipgloss.NewStyle().Foreground(t.Dim),
	}
}

// Options configures Write.
type Options struct {
	Format Format

	// File is the output path; empty writes to stdout.
	File string

	// Writer overrides File.
	Writer io.Writer

	// Styles overrides the default table styles.
	Styles *Styles
}

// Summary is the document written for JSON and YAML output.
type Summary struct {
	RunID   string          `json:"run_id" yaml:"run_id"`
	Reports []*bench.Report `json:"reports" yaml:"reports"`
}

// Write renders reports to the configured destination.
func Write(reports []*bench.Report, opts Options) error {
	var w io.Writer = os.Stdout

	if opts.Writer != nil {
		w = opts.Writer
	} else if opts.File != "" {
		f, err := os.Create(opts.File)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch opts.Format {
	case FormatTable, "":
		styles := NewStyles(DefaultTheme)
		if opts.Styles != nil {
			styles = *opts.Styles
		}
		_, err := io.WriteString(w, Table(reports, styles))
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summarize(reports))
	case FormatYAML:
		data, err := yaml.Marshal(summarize(reports))
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return errors.ValidationError(fmt.Sprintf("unsupported output format: %s", opts.Format))
	}
}

func summarize(reports []*bench.Report) Summary {
	s := Summary{Reports: reports}
	if len(reports) > 0 {
		s.RunID = reports[0].RunID
	}
	if s.Reports == nil {
		s.Reports = []*bench.Report{}
	}
	return s
}

// Table renders one table per scoring mode, strategies as rows and metrics
// as columns.
func Table(reports []*bench.Report, styles Styles) string {
	if len(reports) == 0 {
		return styles.Footer.Render("no results") + "\n"
	}

	var groups []bench.Mode
	byMode := make(map[bench.Mode][]*bench.Report)
	for _, r := range reports {
		if _, ok := byMode[r.Mode]; !ok {
			groups = append(groups, r.Mode)
		}
		byMode[r.Mode] = append(byMode[r.Mode], r)
	}

	var b strings.Builder
	for i, mode := range groups {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(renderGroup(byMode[mode], styles))
	}
	return b.String()
}

func renderGroup(reports []*bench.Report, styles Styles) string {
	first := reports[0]
	title := fmt.Sprintf("%s benchmark on %s", strings.ToUpper(string(first.Mode)), first.Index)
	if first.Dataset != "" {
		title += " (" + first.Dataset + ")"
	}

	columns := MetricColumns(reports)
	headers := append([]string{"Strategy"}, columns...)
	headers = append(headers, "QPS")

	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		metrics := r.Metrics()
		row := []string{r.Strategy}
		for _, c := range columns {
			v, ok := metrics[c]
			if !ok {
				row = append(row, "-")
				continue
			}
			row = append(row, strconv.FormatFloat(v, 'f', 4, 64))
		}
		row = append(row, strconv.FormatFloat(r.QPS, 'f', 1, 64))
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.Border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.Header
			}
			return styles.Cell
		})

	footer := fmt.Sprintf("%d queries, top %d", first.QueryCount, first.TopK)
	if first.SelfHitsRemoved > 0 {
		footer += fmt.Sprintf(", %d self hits removed", first.SelfHitsRemoved)
	}

	return styles.Title.Render(title) + "\n" + t.String() + "\n" + styles.Footer.Render(footer) + "\n"
}

var familyOrder = map[string]int{"NDCG": 0, "MAP": 1, "Recall": 2, "P": 3}

// MetricColumns returns the union of metric names across reports, ordered by
// family (NDCG, MAP, Recall, P) then cutoff.
func MetricColumns(reports []*bench.Report) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range reports {
		for k := range r.Metrics() {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Slice(cols, func(i, j int) bool {
		fi, ki := splitMetric(cols[i])
		fj, kj := splitMetric(cols[j])
		ri, iok := familyOrder[fi]
		rj, jok := familyOrder[fj]
		switch {
		case iok != jok:
			return iok
		case ri != rj:
			return ri < rj
		case fi != fj:
			return fi < fj
		default:
			return ki < kj
		}
	})
	return cols
}

func splitMetric(name string) (string, int) {
	family, cutoff, ok := strings.Cut(name, "@")
	if !ok {
		return name, 0
	}
	k, _ := strconv.Atoi(cutoff)
	return family, k
}
