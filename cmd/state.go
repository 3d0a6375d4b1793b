package cmd

import (
	"fmt"
	"strings"

	"github.com/brensch/docingest/internal/db"

	"github.com/spf13/cobra"
)

var (
	stateLimit int
	stateEvent string
	stateRunID string
)

var stateCmd = &cobra.Command{
	Use:   "state [filetype]",
	Short: "View the ingestion event log",
	Long: `Queries the event log and displays the history of archives, files and
documents. Specify 'archives', 'files' or 'documents' to filter by type.
Use flags to filter by event (e.g. error, skip_upload) or run id.`,
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{needsStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := getLogger()
		filter := db.HistoryFilter{Event: stateEvent, RunID: stateRunID, Limit: stateLimit}
		if len(args) > 0 {
			switch strings.ToLower(args[0]) {
			case "archive", "archives", "zip", "zips":
				filter.FileType = db.FileTypeArchive
			case "file", "files":
				filter.FileType = db.FileTypeFile
			case "document", "documents", "doc", "docs":
				filter.FileType = db.FileTypeDocument
			default:
				return fmt.Errorf("invalid filetype filter: %s (use 'archives', 'files' or 'documents')", args[0])
			}
		}

		s, err := getStore(cmd.Context())
		if err != nil {
			return err
		}
		logger.Debug("Querying event log", "type_filter", filter.FileType, "event_filter", filter.Event, "limit", filter.Limit)
		if err := s.DisplayFileHistory(cmd.Context(), cmd.OutOrStdout(), filter); err != nil {
			logger.Error("Failed to display state history", "error", err)
			return err
		}
		return nil
	},
}

func init() {
	stateCmd.Flags().IntVarP(&stateLimit, "limit", "n", 50, "Limit the number of log records displayed")
	stateCmd.Flags().StringVarP(&stateEvent, "event", "e", "", "Filter records by event (stage_start, ocr_end, upload_end, skip_upload, error, ...)")
	stateCmd.Flags().StringVar(&stateRunID, "run", "", "Filter records by run id")
}
