package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-bench/internal/bus"
	"github.com/ricesearch/rice-bench/internal/history"
	"github.com/ricesearch/rice-bench/internal/report"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [prefix]",
		Short: "Show recorded benchmark metrics over time",
		Long: `History lists metric series recorded by earlier benchmark runs. Series
are named <index>:<strategy>:<metric>; an optional prefix such as
"fiqa:dense" narrows the output. Requires a persistent history store
(history.type: redis).`,
		Args: cobra.MaximumNArgs(1),
		RunE: runHistory,
	}

	cmd.Flags().Duration("since", 30*24*time.Hour, "how far back to look")
	cmd.Flags().StringP("format", "f", "table", "output format: table, json or yaml")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.log.Sync()

	since, _ := cmd.Flags().GetDuration("since")
	formatName, _ := cmd.Flags().GetString("format")
	format, err := report.ParseFormat(formatName)
	if err != nil {
		return err
	}
	prefix := ""
	if len(args) == 1 {
		prefix = args[0]
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	store, err := history.New(a.cfg.History)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	metrics, err := store.Metrics(ctx)
	if err != nil {
		return err
	}

	from := time.Now().Add(-since)
	var series []report.Series
	for _, metric := range metrics {
		if !strings.HasPrefix(metric, prefix) {
			continue
		}
		points, err := store.Load(ctx, metric, from)
		if err != nil {
			return err
		}
		if len(points) > 0 {
			series = append(series, report.Series{Metric: metric, Points: points})
		}
	}

	return report.WriteHistory(os.Stdout, series, format, report.NewStyles(report.DefaultTheme))
}

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Read, replay or follow benchmark events",
		Long: `Events prints entries of the JSONL event journal (bus.event_log) as
JSON lines. With --replay the selected entries are published again on the
configured bus, e.g. to feed a Kafka topic after an offline run.

With --follow it subscribes to the configured bus instead and prints live
events until interrupted. Following is useful with bus.type: kafka, where
ingest and benchmark runs in other processes publish to the same topics.`,
		RunE: runEvents,
	}

	cmd.Flags().String("file", "", "journal path (default bus.event_log)")
	cmd.Flags().String("run", "", "only events of this run ID")
	cmd.Flags().String("topic", "", "only events on this topic")
	cmd.Flags().Duration("since", 0, "only events newer than this (0 = all)")
	cmd.Flags().Int("limit", 0, "maximum number of events (0 = all)")
	cmd.Flags().Bool("replay", false, "publish the selected events on the configured bus")
	cmd.Flags().Bool("follow", false, "print live events from the configured bus")
	return cmd
}

func runEvents(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.log.Sync()

	filter := bus.JournalFilter{}
	filter.RunID, _ = cmd.Flags().GetString("run")
	filter.Topic, _ = cmd.Flags().GetString("topic")
	filter.Limit, _ = cmd.Flags().GetInt("limit")
	if since, _ := cmd.Flags().GetDuration("since"); since > 0 {
		filter.Since = time.Now().Add(-since)
	}

	if follow, _ := cmd.Flags().GetBool("follow"); follow {
		return followEvents(cmd, a, filter)
	}

	path := a.cfg.Bus.EventLog
	changedString(cmd, "file", &path)
	if path == "" {
		return fmt.Errorf("no journal configured: set bus.event_log or pass --file")
	}

	entries, err := bus.ReadJournal(path, filter)
	if err != nil {
		return err
	}

	if replay, _ := cmd.Flags().GetBool("replay"); replay {
		ctx, stop := signalContext(cmd)
		defer stop()

		// The journal being read must not be appended to.
		a.cfg.Bus.EventLog = ""
		events, err := a.eventBus(ctx)
		if err != nil {
			return err
		}
		defer events.Close()

		if err := bus.Replay(ctx, entries, events); err != nil {
			return err
		}
		a.log.Info("Replayed events", "count", len(entries), "bus", a.cfg.Bus.Type)
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			return err
		}
	}
	return nil
}

// followEvents prints events from the configured bus as JSON lines until
// the command is interrupted or --limit events were printed.
func followEvents(cmd *cobra.Command, a *app, filter bus.JournalFilter) error {
	if isMemoryBus(a.cfg.Bus.Type) {
		a.log.Warn("The memory bus only carries events of this process; set bus.type: kafka to follow other runs")
	}

	ctx, stop := signalContext(cmd)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Followed events are not journaled again.
	a.cfg.Bus.EventLog = ""
	events, err := bus.NewBus(a.cfg.Bus, a.log)
	if err != nil {
		return fmt.Errorf("failed to create event bus: %w", err)
	}
	defer events.Close()

	var topics []string
	if filter.Topic != "" {
		topics = []string{filter.Topic}
	}
	printer := newEventPrinter(os.Stdout, filter, cancel)
	if err := bus.Follow(ctx, events, topics, printer.handle); err != nil {
		return err
	}

	a.log.Info("Following events", "bus", a.cfg.Bus.Type, "topics", len(topics))
	<-ctx.Done()
	return nil
}

// eventPrinter writes matching events as JSON lines. It calls done once
// the filter's limit is reached.
type eventPrinter struct {
	mu      sync.Mutex
	enc     *json.Encoder
	filter  bus.JournalFilter
	printed int
	done    func()
}

func newEventPrinter(w io.Writer, filter bus.JournalFilter, done func()) *eventPrinter {
	return &eventPrinter{enc: json.NewEncoder(w), filter: filter, done: done}
}

func (p *eventPrinter) handle(_ context.Context, e bus.Event) error {
	if p.filter.RunID != "" && e.RunID != p.filter.RunID {
		return nil
	}
	if !p.filter.Since.IsZero() && e.Timestamp < p.filter.Since.UnixMilli() {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.filter.Limit > 0 && p.printed >= p.filter.Limit {
		return nil
	}
	if err := p.enc.Encode(e); err != nil {
		return err
	}
	p.printed++
	if p.filter.Limit > 0 && p.printed == p.filter.Limit {
		p.done()
	}
	return nil
}
