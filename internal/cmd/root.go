// Package cmd implements the batchflow command line.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/xraph/batchflow/config"
	"github.com/xraph/batchflow/group"
	"github.com/xraph/batchflow/handler"
	"github.com/xraph/batchflow/handler/builtin"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "batchflow",
	Short: "Multi-time-zone batch scheduler",
	Long: `batchflow runs groups of dependent batch jobs on calendar schedules,
one scheduling manager per time zone.

Configuration is read from batchflow.yaml (in . or ./config) or the file
given with --config. Every key can be overridden with a BATCHFLOW_
environment variable, e.g. BATCHFLOW_STORE_DSN.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// loaded is a validated configuration with its logger and catalog.
type loaded struct {
	cfg      *config.Config
	logger   *slog.Logger
	handlers *handler.Registry
	catalog  *group.Catalog
}

// load reads the configuration and builds the definition catalog against
// the builtin handlers.
func load() (*loaded, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}

	reg := handler.NewRegistry()
	builtin.Register(reg)

	cat, err := config.BuildCatalog(cfg, reg)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}
	return &loaded{cfg: cfg, logger: logger, handlers: reg, catalog: cat}, nil
}
