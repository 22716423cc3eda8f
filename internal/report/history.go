package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/ricesearch/rice-bench/internal/history"
	"github.com/ricesearch/rice-bench/internal/pkg/errors"
)

// Series is the recorded history of one metric.
type Series struct {
	Metric string              `json:"metric" yaml:"metric"`
	Points []history.DataPoint `json:"points" yaml:"points"`
}

// WriteHistory renders metric series, one row per data point.
func WriteHistory(w io.Writer, series []Series, format Format, styles Styles) error {
	sort.Slice(series, func(i, j int) bool { return series[i].Metric < series[j].Metric })

	switch format {
	case FormatTable, "":
		if len(series) == 0 {
			_, err := io.WriteString(w, styles.Footer.Render("no history recorded")+"\n")
			return err
		}
		var rows [][]string
		for _, s := range series {
			for _, p := range s.Points {
				rows = append(rows, []string{
					s.Metric,
					p.Timestamp.UTC().Format(time.RFC3339),
					strconv.FormatFloat(p.Value, 'f', 4, 64),
					p.RunID,
				})
			}
		}
		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(styles.Border).
			Headers("Metric", "Recorded", "Value", "Run").
			Rows(rows...).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return styles.Header
				}
				return styles.Cell
			})
		_, err := io.WriteString(w, t.String()+"\n")
		return err
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(series)
	case FormatYAML:
		data, err := yaml.Marshal(series)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return errors.ValidationError(fmt.Sprintf("unsupported output format: %s", format))
	}
}
