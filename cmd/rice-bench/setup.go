package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ricesearch/rice-bench/internal/provision"
)

func setupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register embedding models and create pipelines and the index",
		Long: `Setup prepares the cluster for benchmarking:
- a model group and two remote connectors (document and query embeddings)
- both models, registered and deployed
- the ingest pipeline (sparse and dense encoding on write)
- the hybrid search pipeline (score normalization and combination)
- the index mapping, unless the index already exists

The sparse encoding model must already be deployed. Record the printed
query model ID and pass it to 'benchmark --dense-model-id'.`,
		RunE: runSetup,
	}

	cmd.Flags().String("sparse-model-id", "", "deployed sparse encoding model ID (required)")
	cmd.Flags().Bool("recreate", false, "drop and recreate an existing index")
	return cmd
}

func runSetup(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.log.Sync()

	ctx, stop := signalContext(cmd)
	defer stop()

	sparseID := a.cfg.Models.SparseModelID
	changedString(cmd, "sparse-model-id", &sparseID)
	if cmd.Flags().Changed("recreate") {
		a.cfg.Setup.Recreate, _ = cmd.Flags().GetBool("recreate")
	}

	client, err := a.client(ctx)
	if err != nil {
		return err
	}

	res, err := provision.New(client, a.cfg, a.log).Setup(ctx, sparseID)
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()
	return enc.Encode(res)
}
