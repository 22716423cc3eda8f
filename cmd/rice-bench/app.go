package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-bench/internal/bus"
	"github.com/ricesearch/rice-bench/internal/config"
	"github.com/ricesearch/rice-bench/internal/opensearch"
	"github.com/ricesearch/rice-bench/internal/pkg/logger"
)

// app bundles what every command needs.
type app struct {
	cfg *config.Config
	log *logger.Logger
}

// loadApp loads configuration and applies the global flag overrides.
func loadApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if endpoint, _ := cmd.Flags().GetString("endpoint"); endpoint != "" {
		cfg.Cluster.Endpoint = endpoint
	}
	if index, _ := cmd.Flags().GetString("index"); index != "" {
		cfg.Index.Name = index
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &app{cfg: cfg, log: logger.New(cfg.Log.Level, cfg.Log.Format)}, nil
}

// client connects to the configured cluster and checks it answers.
func (a *app) client(ctx context.Context) (*opensearch.Client, error) {
	c, err := opensearch.New(opensearch.Config{
		Endpoint:           a.cfg.Cluster.Endpoint,
		Username:           a.cfg.Cluster.Username,
		Password:           a.cfg.Cluster.Password,
		InsecureSkipVerify: a.cfg.Cluster.InsecureSkipVerify,
		Timeout:            a.cfg.Cluster.Timeout,
		BulkTimeout:        a.cfg.Cluster.BulkTimeout,
	})
	if err != nil {
		return nil, err
	}

	info, err := c.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("cluster at %s is not reachable: %w", a.cfg.Cluster.Endpoint, err)
	}
	a.log.Debug("Connected to cluster", "endpoint", c.Endpoint(), "cluster", info.ClusterName, "version", info.Version.Number)
	return c, nil
}

// eventBus builds the configured event bus. A memory bus has no other
// consumer, so its events are echoed to the debug log.
func (a *app) eventBus(ctx context.Context) (bus.Bus, error) {
	b, err := bus.NewBus(a.cfg.Bus, a.log)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}
	if isMemoryBus(a.cfg.Bus.Type) {
		if err := bus.LogEvents(ctx, b, a.log); err != nil {
			b.Close()
			return nil, err
		}
	}
	return b, nil
}

func isMemoryBus(typ string) bool {
	return typ == "" || strings.EqualFold(typ, "memory")
}

// validate re-checks the configuration after command-level flag overrides.
func (a *app) validate() error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	return nil
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// changedString copies a flag into dst when it was set on the command line.
func changedString(cmd *cobra.Command, name string, dst *string) {
	if cmd.Flags().Changed(name) {
		*dst, _ = cmd.Flags().GetString(name)
	}
}

func changedInt(cmd *cobra.Command, name string, dst *int) {
	if cmd.Flags().Changed(name) {
		*dst, _ = cmd.Flags().GetInt(name)
	}
}
