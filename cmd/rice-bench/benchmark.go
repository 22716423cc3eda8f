package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-bench/internal/bench"
	"github.com/ricesearch/rice-bench/internal/history"
	"github.com/ricesearch/rice-bench/internal/report"
	"github.com/ricesearch/rice-bench/internal/strategy"
)

func benchmarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Score retrieval strategies against an ingested index",
		Long: `Benchmark runs every query of the dataset through each selected
strategy and reports the scores.

QA datasets are scored by recall@k: a query is a hit at k when its exact
answer passage is among the first k results. IR datasets are scored with
NDCG, MAP, Recall and P at k against the BEIR relevance judgments.

Strategies: ` + strings.Join(strategy.Names(), ", "),
		RunE: runBenchmark,
	}

	addDatasetFlags(cmd)
	cmd.Flags().Int("topk", 0, "results requested per query (default from config)")
	cmd.Flags().String("dense-model-id", "", "dense query embedding model ID")
	cmd.Flags().String("sparse-model-id", "", "sparse encoding model ID")
	cmd.Flags().StringSlice("strategies", nil, "strategies to run, in order (default all)")
	cmd.Flags().Int("workers", 0, "concurrent queries per strategy (default from config)")
	cmd.Flags().Float64("max-qps", 0, "query rate limit per strategy (0 = unlimited)")
	cmd.Flags().StringP("format", "f", "", "output format: table, json or yaml")
	cmd.Flags().StringP("output", "o", "", "write the report to a file instead of stdout")
	return cmd
}

func runBenchmark(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.log.Sync()

	cfg := a.cfg
	if err := applyDatasetFlags(cmd, cfg); err != nil {
		return err
	}
	changedInt(cmd, "topk", &cfg.Bench.TopK)
	changedInt(cmd, "testset-size", &cfg.Bench.TestsetSize)
	changedInt(cmd, "workers", &cfg.Bench.Workers)
	changedString(cmd, "dense-model-id", &cfg.Models.DenseModelID)
	changedString(cmd, "sparse-model-id", &cfg.Models.SparseModelID)
	changedString(cmd, "format", &cfg.Bench.Format)
	changedString(cmd, "output", &cfg.Bench.Output)
	if cmd.Flags().Changed("strategies") {
		cfg.Strategy.Names, _ = cmd.Flags().GetStringSlice("strategies")
	}
	if cmd.Flags().Changed("max-qps") {
		cfg.Bench.MaxQPS, _ = cmd.Flags().GetFloat64("max-qps")
	}
	download, _ := cmd.Flags().GetBool("download")
	if err := a.validate(); err != nil {
		return err
	}

	format, err := report.ParseFormat(cfg.Bench.Format)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	suite, err := loadSuite(ctx, cfg, cfg.Bench.TestsetSize, download, a.log)
	if err != nil {
		return err
	}

	client, err := a.client(ctx)
	if err != nil {
		return err
	}

	strategies, err := strategy.Select(cfg.Strategy.Names, client, strategy.ParamsFromConfig(cfg))
	if err != nil {
		return err
	}

	events, err := a.eventBus(ctx)
	if err != nil {
		return err
	}
	defer events.Close()

	store, err := history.New(cfg.History)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer store.Close()

	runner := bench.NewRunner(client, bench.Config{
		Index:   cfg.Index.Name,
		TopK:    cfg.Bench.TopK,
		Workers: cfg.Bench.Workers,
		MaxQPS:  cfg.Bench.MaxQPS,
		Cutoffs: cfg.Bench.Cutoffs,
	},
		bench.WithLogger(a.log),
		bench.WithPublisher(events),
		bench.WithHistory(store),
	)

	a.log.Info("Starting benchmark",
		"run_id", runner.RunID(),
		"dataset", suite.Dataset,
		"mode", suite.Mode,
		"queries", len(suite.Queries),
		"strategies", len(strategies),
	)

	reports, runErr := runner.RunAll(ctx, strategies, suite)
	if len(reports) > 0 || runErr == nil {
		if err := report.Write(reports, report.Options{Format: format, File: cfg.Bench.Output}); err != nil {
			return err
		}
	}
	return runErr
}
