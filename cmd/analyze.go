package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/dossier-crawler/internal/storage"
	"github.com/JakeFAU/dossier-crawler/internal/storage/backend"
	"github.com/JakeFAU/dossier-crawler/internal/store"
)

// newAnalyzeCmd creates the 'analyze' subcommand.
func newAnalyzeCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze <file>",
		Short: "Summarize an existing dossier parquet file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			loc, err := storage.ParseLocation(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			blobs, release, err := backend.Open(ctx, loc, backend.Options{
				S3Region:   cfg.Storage.S3Region,
				S3Endpoint: cfg.Storage.S3Endpoint,
			})
			if err != nil {
				return err
			}
			defer func() { _ = release() }()

			data, err := blobs.GetObject(ctx, loc.Key(loc.Name))
			if err != nil {
				return fmt.Errorf("read %s: %w", loc, err)
			}
			rows, err := store.DecodeRows(data)
			if err != nil {
				return fmt.Errorf("decode %s: %w", loc, err)
			}
			analysis := store.Analyze(rows)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(analysis)
			}
			printAnalysis(cmd.OutOrStdout(), loc.String(), int64(len(data)), analysis)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the analysis as JSON")
	return cmd
}

func printAnalysis(w io.Writer, name string, size int64, a store.Analysis) {
	fmt.Fprintf(w, "file:        %s (%s)\n", name, humanBytes(size))
	fmt.Fprintf(w, "records:     %d (%d unique, %d duplicates)\n", a.TotalRecords, a.UniqueIdentifiers, a.Duplicates)
	fmt.Fprintf(w, "successful:  %d (%.1f%%)\n", a.Successful, a.SuccessRate())
	fmt.Fprintf(w, "failed:      %d\n", a.Failed)
	if !a.FirstExtracted.IsZero() {
		fmt.Fprintf(w, "extracted:   %s to %s\n",
			a.FirstExtracted.Format(time.RFC3339), a.LastExtracted.Format(time.RFC3339))
	}
	if a.Successful > 0 {
		fmt.Fprintf(w, "avg text:    %.0f characters\n", a.AvgTextLength)
	}
	printCounts(w, "sources", a.Sources)
	printCounts(w, "error kinds", a.ErrorKinds)
	printCounts(w, "classes", a.Classes)
}

func printCounts(w io.Writer, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, key := range store.Ranked(counts) {
		fmt.Fprintf(w, "  %-20s %d\n", key, counts[key])
	}
}
