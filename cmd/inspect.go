package cmd

import (
	"github.com/brensch/docingest/internal/inspector"

	"github.com/spf13/cobra"
)

var inspectDir string

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarise Parquet snapshots written by 'export'",
	Long: `Reads every documents-*.parquet and pages-*.parquet file in the export
directory with DuckDB and prints their schemas, row counts and time ranges.
Does not open the store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := inspector.InspectSnapshots(cmd.Context(), inspectDir, cmd.OutOrStdout(), getLogger())
		return err
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectDir, "dir", "./exports", "Directory holding the snapshots")
}
