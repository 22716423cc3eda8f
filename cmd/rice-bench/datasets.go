package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-bench/internal/bench"
	"github.com/ricesearch/rice-bench/internal/config"
	"github.com/ricesearch/rice-bench/internal/dataset"
	"github.com/ricesearch/rice-bench/internal/ingest"
	"github.com/ricesearch/rice-bench/internal/pkg/errors"
	"github.com/ricesearch/rice-bench/internal/pkg/logger"
)

// addDatasetFlags registers the flags shared by ingest and benchmark.
func addDatasetFlags(cmd *cobra.Command) {
	cmd.Flags().String("dataset-type", "", "dataset type: qa or ir")
	cmd.Flags().String("dataset", "", "dataset name, e.g. squad_v2 or fiqa")
	cmd.Flags().String("data-dir", "", "directory holding datasets")
	cmd.Flags().String("split", "", "dataset split")
	cmd.Flags().Int("testset-size", 0, "use only the first N queries (0 = all)")
	cmd.Flags().Bool("download", false, "download a missing BEIR dataset")
}

// applyDatasetFlags copies dataset flags onto the configuration.
func applyDatasetFlags(cmd *cobra.Command, cfg *config.Config) error {
	changedString(cmd, "dataset-type", &cfg.Dataset.Type)
	changedString(cmd, "dataset", &cfg.Dataset.Name)
	changedString(cmd, "data-dir", &cfg.Dataset.Dir)
	changedString(cmd, "split", &cfg.Dataset.Split)

	switch cfg.Dataset.Type {
	case dataset.TypeQA, dataset.TypeIR:
		return nil
	default:
		return errors.ValidationError(fmt.Sprintf("dataset type must be %s or %s, got %q", dataset.TypeQA, dataset.TypeIR, cfg.Dataset.Type))
	}
}

// beirPath returns the directory of the configured BEIR dataset, fetching it
// first when download is set and it is missing.
func beirPath(ctx context.Context, cfg *config.Config, download bool, log *logger.Logger) (string, error) {
	path := filepath.Join(cfg.Dataset.Dir, cfg.Dataset.Name)
	if _, err := os.Stat(filepath.Join(path, dataset.CorpusFile)); err == nil {
		return path, nil
	}
	if !download {
		return "", errors.DatasetError(fmt.Sprintf("dataset %s not found under %s (pass --download to fetch it)", cfg.Dataset.Name, cfg.Dataset.Dir), nil)
	}

	log.Info("Downloading dataset", "dataset", cfg.Dataset.Name, "dir", cfg.Dataset.Dir)
	return dataset.NewDownloader(cfg.Dataset.BEIRBaseURL).Download(ctx, cfg.Dataset.Name, cfg.Dataset.Dir)
}

// qaDocuments collects the deduplicated passages of the given splits.
func qaDocuments(cfg *config.Config, splits []string, limit int) ([]ingest.Document, error) {
	var passages []string
	for _, split := range splits {
		set, err := dataset.LoadQASplit(cfg.Dataset.Dir, cfg.Dataset.Name, split)
		if err != nil {
			return nil, err
		}
		passages = append(passages, set.Limit(limit).Passages()...)
	}
	return ingest.PassageDocuments(passages), nil
}

// loadSuite builds the benchmark query set for the configured dataset.
func loadSuite(ctx context.Context, cfg *config.Config, limit int, download bool, log *logger.Logger) (*bench.Suite, error) {
	split := cfg.DatasetSplit()

	if cfg.Dataset.Type == dataset.TypeQA {
		set, err := dataset.LoadQASplit(cfg.Dataset.Dir, cfg.Dataset.Name, split)
		if err != nil {
			return nil, err
		}
		return bench.QASuite(set.Limit(limit)), nil
	}

	path, err := beirPath(ctx, cfg, download, log)
	if err != nil {
		return nil, err
	}
	b, err := dataset.LoadBEIR(path, split)
	if err != nil {
		return nil, err
	}
	return bench.IRSuite(b.Limit(limit)), nil
}
