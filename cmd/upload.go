package cmd

import (
	"context"
	"fmt"

	"github.com/brensch/docingest/internal/app"
	"github.com/brensch/docingest/internal/archive"
	"github.com/brensch/docingest/internal/pages"
	"github.com/brensch/docingest/internal/upload"

	"github.com/spf13/cobra"
)

var uploadTUI bool

var uploadCmd = &cobra.Command{
	Use:   "upload",
	Short: "Upload existing OCR sidecars from the output directory",
	Long: `Parses every <archive>_<file>.txt sidecar in the output directory and
uploads it to the store, skipping documents that are already there. This is
the batch half of 'run' on its own, for resuming after an interrupted run.

Archive names are taken from the source directory when it exists so that
archive names containing underscores are split correctly.
With --dry-run the sidecars are only listed and the store is not opened.`,
	Annotations: map[string]string{needsStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := getLogger()
		cfg := getConfig()

		var known []string
		if archives, err := archive.ScanArchives(cfg.SourceDir); err == nil {
			known = archive.ArchiveNames(archives)
		} else {
			logger.Debug("No archive names available, parsing sidecar names by pattern only.", "error", err)
		}
		parser := pages.Parser{Separator: cfg.Separator(), KnownArchives: known}

		bc := upload.BatchConfig{
			Workers:       cfg.UploadWorkers,
			Timeout:       cfg.QueryTimeout,
			ProgressEvery: cfg.ProgressEvery,
			DryRun:        cfg.DryRun,
			Logger:        logger,
		}
		var target upload.Store
		if !cfg.DryRun {
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			events := s.NewRecorder(logger)
			defer events.Close()
			bc.Events = events
			target = s
		}

		var stats upload.Stats
		var err error
		if uploadTUI && !cfg.DryRun {
			_, err = app.Run(ctx, "docingest upload", func(ctx context.Context, ch chan<- upload.Progress) (string, error) {
				c := bc
				c.Logger = viewLogger()
				c.Progress = ch
				var upErr error
				stats, upErr = upload.UploadDirectory(ctx, cfg.OutputDir, target, parser, c)
				return fmt.Sprintf("%d uploaded, %d duplicates, %d failed.", stats.Uploaded, stats.SkippedDuplicate, stats.Failed), upErr
			})
		} else {
			stats, err = upload.UploadDirectory(ctx, cfg.OutputDir, target, parser, bc)
		}

		if !cfg.DryRun {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "--- Upload Summary ---")
			fmt.Fprintf(out, "%-22s %d\n", "Documents uploaded:", stats.Uploaded)
			fmt.Fprintf(out, "%-22s %d\n", "Skipped (duplicate):", stats.SkippedDuplicate)
			fmt.Fprintf(out, "%-22s %d\n", "Upload failed:", stats.Failed)
		}
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}
		return nil
	},
}

func init() {
	uploadCmd.Flags().BoolVar(&uploadTUI, "tui", false, "Show a terminal progress view")
}
