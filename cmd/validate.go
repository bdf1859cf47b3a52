package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/dossier-crawler/internal/cnj"
	"github.com/JakeFAU/dossier-crawler/internal/input"
)

const invalidPreview = 5

// newValidateCmd creates the 'validate' subcommand.
func newValidateCmd() *cobra.Command {
	var (
		processes string
		printAll  bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check CNJ process numbers without fetching anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			identifiers, err := input.Load(processes)
			if err != nil {
				return fmt.Errorf("load identifiers: %w", err)
			}
			valid, invalid := cnj.ValidateList(identifiers)

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "valid:   %d\n", len(valid))
			fmt.Fprintf(w, "invalid: %d\n", len(invalid))
			for i, id := range invalid {
				if i == invalidPreview && !printAll {
					fmt.Fprintf(w, "  ... and %d more\n", len(invalid)-invalidPreview)
					break
				}
				fmt.Fprintf(w, "  - %s\n", id)
			}
			if printAll {
				for _, id := range valid {
					fmt.Fprintln(w, id)
				}
			}
			if len(valid) == 0 {
				return errors.New("no valid identifiers")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&processes, "processes", "p", "", "identifier list: file or comma separated numbers")
	cmd.Flags().BoolVar(&printAll, "print", false, "print every invalid entry and the normalized valid numbers")
	_ = cmd.MarkFlagRequired("processes")
	return cmd
}
