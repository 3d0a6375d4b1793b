package cmd

import (
	"context"
	"fmt"

	"github.com/brensch/docingest/internal/app"
	"github.com/brensch/docingest/internal/ocr"
	"github.com/brensch/docingest/internal/orchestrator"
	"github.com/brensch/docingest/internal/upload"

	"github.com/spf13/cobra"
)

var (
	runBatch bool
	runTUI   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stage, OCR and upload every archive in the source directory",
	Long: `Performs the complete pipeline, one archive at a time:
1. Discovers the zip archives in the source directory.
2. Extracts each archive into a private staging directory.
3. Runs OCR on every PDF, JPG and PNG with a bounded worker pool, writing
   <archive>_<file>.txt sidecars into the output directory.
4. Uploads each document with its pages to the store.

By default documents are uploaded as soon as their OCR finishes. Use --batch
to OCR everything first and upload the output directory afterwards.
Files whose sidecar already exists are not converted again, and documents
already in the store are skipped, so an interrupted run can simply be repeated.`,
	Annotations: map[string]string{needsStore: "true"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := getLogger()
		cfg := getConfig()

		deps := orchestrator.Deps{Logger: logger}
		if !cfg.DryRun {
			s, err := getStore(ctx)
			if err != nil {
				return err
			}
			eng, err := ocr.NewEngine(ocr.EngineOptions{
				Name:     cfg.OCREngine,
				Binary:   cfg.OCRBinary,
				Language: cfg.OCRLanguage,
				ImageDPI: cfg.ImageDPI,
			})
			if err != nil {
				return err
			}
			events := s.NewRecorder(logger)
			defer events.Close()
			deps.Store = s
			deps.Engine = eng
			deps.Events = events
			logger.Info("Using OCR engine.", "engine", eng.Name(), "run_id", events.RunID())
		}

		if runTUI && (cfg.Streaming || cfg.DryRun) {
			logger.Warn("--tui only applies to batch uploads, ignoring it.")
		}

		var sum orchestrator.Summary
		var err error
		if runTUI && !cfg.Streaming && !cfg.DryRun {
			_, err = app.Run(ctx, "docingest run --batch", func(ctx context.Context, ch chan<- upload.Progress) (string, error) {
				d := deps
				d.Logger = viewLogger()
				d.Progress = ch
				var runErr error
				sum, runErr = orchestrator.Run(ctx, cfg, d)
				return fmt.Sprintf("%d uploaded, %d duplicates, %d failed.", sum.Uploaded, sum.SkippedDuplicate, sum.UploadFailed), runErr
			})
		} else {
			sum, err = orchestrator.Run(ctx, cfg, deps)
		}

		sum.Print(cmd.OutOrStdout())
		if err != nil {
			return fmt.Errorf("run failed: %w", err)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runBatch, "batch", false, "OCR all archives first, then upload the output directory")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show a terminal progress view during the batch upload")
}
