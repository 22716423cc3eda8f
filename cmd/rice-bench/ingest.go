package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-bench/internal/dataset"
	"github.com/ricesearch/rice-bench/internal/ingest"
)

// qaIngestSplits are loaded when no split is given, so that every passage a
// validation question may retrieve is indexed.
var qaIngestSplits = []string{"train", "validation"}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load a benchmark corpus into the index",
		Long: `Ingest writes a corpus to the index in sequential bulk batches and
refreshes it once at the end.

QA datasets contribute their deduplicated passages; without --split both
the train and validation splits are loaded. IR datasets contribute their
whole BEIR corpus.`,
		RunE: runIngest,
	}

	addDatasetFlags(cmd)
	cmd.Flags().Int("batch-size", 0, "documents per bulk request (default from config)")
	return cmd
}

func runIngest(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.log.Sync()

	if err := applyDatasetFlags(cmd, a.cfg); err != nil {
		return err
	}
	changedInt(cmd, "batch-size", &a.cfg.Ingest.BatchSize)
	if err := a.validate(); err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("testset-size")
	download, _ := cmd.Flags().GetBool("download")

	ctx, stop := signalContext(cmd)
	defer stop()

	var docs []ingest.Document
	switch a.cfg.Dataset.Type {
	case dataset.TypeQA:
		splits := qaIngestSplits
		if a.cfg.Dataset.Split != "" {
			splits = []string{a.cfg.Dataset.Split}
		}
		if docs, err = qaDocuments(a.cfg, splits, limit); err != nil {
			return err
		}
	case dataset.TypeIR:
		path, err := beirPath(ctx, a.cfg, download, a.log)
		if err != nil {
			return err
		}
		b, err := dataset.LoadBEIR(path, a.cfg.DatasetSplit())
		if err != nil {
			return err
		}
		docs = b.Documents()
	}

	client, err := a.client(ctx)
	if err != nil {
		return err
	}
	index := a.cfg.Index.Name
	if exists, err := client.IndexExists(ctx, index); err != nil {
		return err
	} else if !exists {
		a.log.Warn("Index does not exist; documents will be written without the benchmark mapping", "index", index, "hint", "run setup first")
	}

	events, err := a.eventBus(ctx)
	if err != nil {
		return err
	}
	defer events.Close()

	ing := ingest.New(client, ingest.Config{
		BatchSize: a.cfg.Ingest.BatchSize,
		TextField: a.cfg.Index.TextField,
		Retry: ingest.RetryPolicy{
			MaxAttempts: a.cfg.Ingest.MaxAttempts,
			Backoff:     a.cfg.Ingest.Backoff,
		},
	},
		ingest.WithLogger(a.log),
		ingest.WithPublisher(events),
		ingest.WithRunID(uuid.NewString()),
		ingest.WithProgress(func(p ingest.Progress) {
			a.log.Debug(p.Message, "stage", p.Stage, "current", p.Current, "total", p.Total, "percent", fmt.Sprintf("%.0f", p.Percent))
		}),
	)

	res, err := ing.Ingest(ctx, index, docs)
	if err != nil {
		return err
	}

	fmt.Printf("Ingested %d documents into %s in %d batches (%d retries, %.1f docs/s)\n",
		res.Documents, res.Index, res.Batches, res.Retries, res.Throughput)
	return nil
}
