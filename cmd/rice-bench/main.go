// Package main provides the rice-bench binary: it provisions a search
// cluster for hybrid retrieval, ingests benchmark corpora and scores
// retrieval strategies against them.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rice-bench",
		Short: "Rice Bench - hybrid search benchmarking for OpenSearch",
		Long: `Rice Bench measures how lexical, dense, sparse and hybrid retrieval
compare on the same corpus.

Typical flow:
  rice-bench setup --sparse-model-id <id>       # models, pipelines, index
  rice-bench ingest --dataset-type qa           # load passages
  rice-bench benchmark --dataset-type qa \
    --dense-model-id <query model> --sparse-model-id <id>`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("endpoint", "", "cluster endpoint (overrides config)")
	rootCmd.PersistentFlags().String("index", "", "index name (overrides config)")

	rootCmd.AddCommand(
		setupCmd(),
		ingestCmd(),
		benchmarkCmd(),
		historyCmd(),
		eventsCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rice-bench %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}
