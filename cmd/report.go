package cmd

import (
	"github.com/brensch/docingest/internal/analyser"

	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show per-archive ingestion coverage",
	Long: `Aggregates the store per archive: documents, pages, pages per document,
documents with no recognised text and file-level errors (failed OCR,
unreadable sidecars) recorded in the event log.`,
	Annotations: map[string]string{needsStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore(cmd.Context())
		if err != nil {
			return err
		}
		reports, err := analyser.Coverage(cmd.Context(), s, getLogger())
		if err != nil {
			return err
		}
		analyser.PrintCoverage(cmd.OutOrStdout(), reports)
		return nil
	},
}
