package cmd

import (
	"fmt"
	"time"

	"github.com/brensch/docingest/internal/export"

	"github.com/spf13/cobra"
)

var (
	exportDir    string
	exportMethod string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Snapshot the documents and pages tables to Parquet",
	Long: `Writes documents-<timestamp>.parquet and pages-<timestamp>.parquet into the
export directory. With --method auto a DuckDB store uses COPY and any other
store is read row by row into the Parquet writer.`,
	Annotations: map[string]string{needsStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore(cmd.Context())
		if err != nil {
			return err
		}
		files, err := export.Snapshot(cmd.Context(), s, exportDir, export.Method(exportMethod), time.Now(), getLogger())
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		for _, f := range files {
			fmt.Fprintln(cmd.OutOrStdout(), f)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportDir, "out", "./exports", "Directory for the Parquet snapshot")
	exportCmd.Flags().StringVar(&exportMethod, "method", string(export.MethodAuto), "Export method (auto, copy, writer)")
}
