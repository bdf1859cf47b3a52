// Package cmd defines the dossier-crawler CLI commands.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/config"
	"github.com/JakeFAU/dossier-crawler/internal/logging"
)

// Exit codes returned by Execute.
const (
	ExitOK          = 0
	ExitError       = 1
	ExitInterrupted = 130
)

// errInterrupted marks a run stopped by SIGINT or SIGTERM.
var errInterrupted = errors.New("interrupted")

var cfgFile string

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dossier-crawler",
		Short: "Extracts judicial process dossiers into an incremental parquet store.",
		Long: `dossier-crawler fetches the public dossier page of every CNJ process number
in a list, extracts its structured fields, and merges the results into a
deduplicated parquet file on local disk, Google Cloud Storage, or S3.

Runs are resumable: identifiers already present in the destination or in
its checkpoint are skipped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newAnalyzeCmd())
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errInterrupted):
		fmt.Fprintln(os.Stderr, "interrupted; progress was saved and the next run resumes from the checkpoint")
		return ExitInterrupted
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitError
	}
}

// loadConfig reads the configuration file, environment, and the command's
// flags, then builds the logger it describes.
func loadConfig(cmd *cobra.Command) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("logger init failed: %w", err)
	}
	return cfg, logger, nil
}
