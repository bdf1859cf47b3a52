package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/dossier-crawler/internal/app"
	"github.com/JakeFAU/dossier-crawler/internal/input"
	"github.com/JakeFAU/dossier-crawler/internal/pipeline"
	"github.com/JakeFAU/dossier-crawler/internal/store"
)

type scrapeOptions struct {
	processes string
	output    string
}

// newScrapeCmd creates the 'scrape' subcommand.
func newScrapeCmd() *cobra.Command {
	opts := &scrapeOptions{}
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Fetch and extract dossiers into the destination file",
		Example: `  dossier-crawler scrape -p "0001234-25.2023.1.00.0000,1234567-78.2022.1.00.0000" -o dossiers.parquet
  dossier-crawler scrape -p processos.txt -o dossiers.parquet --batch-size 100
  dossier-crawler scrape -p processos.json -o s3://bucket/dossiers.parquet --workers 10 --use-proxies --proxies http://p1:3128
  dossier-crawler scrape -p processos.csv -o gs://bucket/dossiers.parquet --preset production`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScrape(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.processes, "processes", "p", "", "identifier list: file (.txt, .json, .yaml, .csv, .parquet) or comma separated numbers")
	f.StringVarP(&opts.output, "output", "o", "dossiers.parquet", "destination parquet file (local path, gs://bucket/key or s3://bucket/key)")
	f.String("preset", "", "configuration preset: development, production or testing")
	f.Int("workers", 5, "concurrent fetch tasks (1-50)")
	f.Int("max-retries", 5, "retries per identifier before the last-chance attempt (0-20)")
	f.Duration("rate-limit", time.Second, "minimum delay between requests across all workers")
	f.Duration("timeout", 30*time.Second, "request timeout (5s-300s)")
	f.Int("batch-size", 500, "records buffered before each merge into the destination")
	f.Int("checkpoint-interval", 100, "records between checkpoint writes")
	f.String("merge-policy", "last_write", "duplicate resolution: last_write or prefer_success")
	f.Bool("use-proxies", false, "route sessions through the proxy list")
	f.StringSlice("proxies", nil, "proxy URLs used with --use-proxies")
	f.Bool("headless", false, "enable the headless browser fallback")
	f.String("fetcher", "http", "primary fetcher: http or headless")
	f.String("url-template", "", "dossier URL template with {id} or {digits}")
	f.String("status-addr", "", "serve /healthz, /metrics and /v1/progress on this address")
	f.String("database-dsn", "", "mirror merged batches into this Postgres database")
	f.Bool("basedosdados", false, "look identifiers up in the Base dos Dados BigQuery dataset before fetching")
	f.String("billing-project", "", "GCP project billed for the Base dos Dados queries")
	f.String("log-level", "info", "log level: debug, info, warn or error")
	f.Bool("dev", false, "human readable development logs")
	_ = cmd.MarkFlagRequired("processes")
	return cmd
}

func runScrape(cmd *cobra.Command, opts *scrapeOptions) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	identifiers, err := input.Load(opts.processes)
	if err != nil {
		return fmt.Errorf("load identifiers: %w", err)
	}
	logger.Info("loaded identifiers", zap.Int("count", len(identifiers)))

	ctx := cmd.Context()
	a, err := app.Build(ctx, cfg, app.Options{Destination: opts.output}, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.Run(ctx, identifiers)
	printSummary(cmd.OutOrStdout(), summary)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return fmt.Errorf("%w: %v", errInterrupted, err)
	case errors.Is(err, pipeline.ErrNoValidIdentifiers):
		return fmt.Errorf("%w in %q", err, opts.processes)
	default:
		return fmt.Errorf("scrape failed: %w", err)
	}
}

func printSummary(w io.Writer, s pipeline.Summary) {
	fmt.Fprintf(w, "run %s\n", s.RunID)
	fmt.Fprintf(w, "  identifiers: %d requested, %d valid, %d invalid, %d already done\n",
		s.Requested, s.Valid, s.Invalid, s.AlreadyDone)
	if s.FromPreSource > 0 {
		fmt.Fprintf(w, "  dataset:     %d answered by Base dos Dados\n", s.FromPreSource)
	}
	fmt.Fprintf(w, "  processed:   %d (%d successful, %d failed, %.1f%% success)\n",
		s.Processed, s.Successful, s.Failed, s.SuccessRate)
	if s.Interrupted {
		fmt.Fprintf(w, "  interrupted: %d not started, %d abandoned in flight\n", s.Skipped, s.Aborted)
		return
	}
	if s.Store.OutputPath == "" {
		return
	}
	fmt.Fprintf(w, "  destination: %s (%d records, %s)\n",
		s.Store.OutputPath, s.Store.TotalRecords, humanBytes(s.Store.FileSizeBytes))
	for _, source := range store.Ranked(s.Store.Sources) {
		fmt.Fprintf(w, "    %-10s %d\n", source, s.Store.Sources[source])
	}
	if s.FailureLog != "" {
		fmt.Fprintf(w, "  failure log: %s (%d entries)\n", s.FailureLog, s.FailureLogCount)
	}
	fmt.Fprintf(w, "  elapsed:     %s\n", s.Duration.Round(time.Millisecond))
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
