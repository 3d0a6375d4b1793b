package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/brensch/docingest/internal/archive"
	"github.com/brensch/docingest/internal/config"
	"github.com/brensch/docingest/internal/db"
	"github.com/brensch/docingest/internal/models"
	"github.com/brensch/docingest/internal/ocr"
	"github.com/brensch/docingest/internal/pages"
	"github.com/brensch/docingest/internal/upload"
)

// Deps are the collaborators a run needs. Store and Engine may be nil for
// dry runs; Events and Progress are optional.
type Deps struct {
	Logger   *slog.Logger
	Store    upload.Store
	Engine   ocr.Engine
	Events   *db.Recorder
	Progress chan<- upload.Progress
}

type runner struct {
	cfg    config.Config
	deps   Deps
	logger *slog.Logger
	parser pages.Parser
	stage  archive.StageOptions
	pool   *ocr.Pool

	summary     Summary
	parseFailed atomic.Int64
}

// Run ingests every archive in cfg.SourceDir, one archive at a time. In
// streaming mode each OCR result is uploaded as soon as it is parsed; in
// batch mode all archives are converted first and the output directory is
// uploaded afterwards.
//
// Only discovery and configuration problems are returned as errors, plus
// ctx.Err() if the run was stopped. Everything else is logged, recorded in
// the event log and counted in the Summary.
func Run(ctx context.Context, cfg config.Config, deps Deps) (sum Summary, err error) {
	start := time.Now()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &runner{cfg: cfg, deps: deps, logger: logger}
	defer func() { sum.Duration = time.Since(start) }()

	mode := "streaming"
	if !cfg.Streaming {
		mode = "batch"
	}
	logger.Info("Starting ingestion run.", slog.String("source_dir", cfg.SourceDir), slog.String("output_dir", cfg.OutputDir),
		slog.String("mode", mode), slog.Bool("dry_run", cfg.DryRun), slog.String("run_id", deps.Events.RunID()))

	// --- Phase 1: Discover archives ---
	logger.Info("Phase 1: Discovering archives...")
	archives, err := archive.ScanArchives(cfg.SourceDir)
	if err != nil {
		return r.summary, err
	}
	r.summary.Archives = len(archives)
	logger.Info("Discovery complete.", slog.Int("archives", len(archives)))

	if cfg.DryRun {
		for _, a := range archives {
			logger.Info("Would process archive.", slog.String("archive", filepath.Base(a)))
		}
		r.summary.Listed = archives
		return r.summary, nil
	}
	if deps.Store == nil {
		return r.summary, config.ErrMissingDSN
	}
	if deps.Engine == nil {
		return r.summary, fmt.Errorf("%w: no ocr engine", config.ErrInvalid)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return r.summary, fmt.Errorf("%w: create output directory %s: %v", config.ErrInvalid, cfg.OutputDir, err)
	}
	enc, err := archive.ResolveNameEncoding(cfg.ZipNameEncoding)
	if err != nil {
		return r.summary, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	r.stage = archive.StageOptions{NameEncoding: enc, MaxEntries: cfg.MaxEntries, MaxEntryBytes: cfg.MaxEntryBytes}
	r.parser = pages.Parser{Separator: cfg.Separator(), KnownArchives: archive.ArchiveNames(archives)}
	r.pool = ocr.NewPool(deps.Engine, ocr.PoolConfig{Workers: cfg.OCRWorkers, Timeout: cfg.OCRTimeout, Logger: logger})

	// --- Phase 2: Stage, OCR (and upload when streaming), one archive at a time ---
	logger.Info("Phase 2: Processing archives sequentially...", slog.Int("ocr_workers", cfg.OCRWorkers), slog.Int("upload_workers", cfg.UploadWorkers))
	var finalErr error
	for i, path := range archives {
		if err := ctx.Err(); err != nil {
			logger.Warn("Run stopped before all archives were processed.", slog.Int("remaining", len(archives)-i))
			finalErr = errors.Join(finalErr, err)
			break
		}
		l := logger.With(slog.String("archive", filepath.Base(path)), slog.Int("archive_num", i+1), slog.Int("total_archives", len(archives)))
		if err := r.processArchive(ctx, l, path); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				finalErr = errors.Join(finalErr, err)
				break
			}
			r.summary.ArchivesSkipped++
			l.Error("Archive skipped.", "error", err)
		}
	}

	ocrStats := r.pool.Stats()
	r.summary.OCRSucceeded = ocrStats.Succeeded
	r.summary.OCRFailed = ocrStats.Failed
	r.summary.OCRSkipped = ocrStats.Skipped

	// --- Phase 3: Batch upload ---
	if !cfg.Streaming && ctx.Err() == nil {
		logger.Info("Phase 3: Uploading sidecars from output directory...")
		stats, err := upload.UploadDirectory(ctx, cfg.OutputDir, deps.Store, r.parser, upload.BatchConfig{
			Workers:       cfg.UploadWorkers,
			Timeout:       cfg.QueryTimeout,
			ProgressEvery: cfg.ProgressEvery,
			Logger:        logger,
			Events:        deps.Events,
			Progress:      deps.Progress,
		})
		r.addUploadStats(stats)
		if err != nil {
			finalErr = errors.Join(finalErr, err)
		}
	}
	r.summary.UploadFailed += r.parseFailed.Load()

	logger.Info("Ingestion run finished.", slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return r.summary, finalErr
}

func (r *runner) processArchive(ctx context.Context, l *slog.Logger, path string) error {
	base := filepath.Base(path)
	start := time.Now()
	r.deps.Events.Record(base, db.FileTypeArchive, db.EventStageStart, "", 0)

	staged, err := archive.Stage(ctx, l, path, r.cfg.StagingDir, r.stage)
	defer func() {
		if relErr := staged.Release(); relErr != nil {
			l.Warn("Failed to remove staging directory.", "error", relErr)
		}
	}()
	if err != nil {
		r.deps.Events.Record(base, db.FileTypeArchive, db.EventError, err.Error(), time.Since(start))
		return err
	}
	r.summary.Extracted += len(staged.Files)

	eligible := archive.EligibleFiles(staged.Files)
	tasks := make([]*models.ProcessingTask, 0, len(eligible))
	for _, f := range eligible {
		tasks = append(tasks, &models.ProcessingTask{
			ArchivePath: path,
			ArchiveName: staged.Name,
			EntryPath:   f.RelPath,
			InputPath:   f.Path,
			SidecarPath: ocr.SidecarName(r.cfg.OutputDir, staged.Name, f.RelPath),
			Status:      models.StatusStaged,
		})
	}
	l.Info("Submitting files for OCR.", slog.Int("eligible", len(tasks)), slog.Int("ignored", len(staged.Files)-len(tasks)))

	var writer *upload.Writer
	if r.cfg.Streaming {
		writer = upload.NewWriter(r.deps.Store, upload.WriterConfig{
			Workers: r.cfg.UploadWorkers,
			Timeout: r.cfg.QueryTimeout,
			Logger:  l,
			Events:  r.deps.Events,
		})
	}
	parser := r.parser.ForArchive(staged.Name)

	runErr := r.pool.Run(ctx, tasks, func(t *models.ProcessingTask) {
		sidecar := filepath.Base(t.SidecarPath)
		switch t.Status {
		case models.StatusOCRFailed:
			r.deps.Events.Record(sidecar, db.FileTypeFile, db.EventError, t.Err.Error(), 0)
			return
		case models.StatusSkipped:
			r.deps.Events.Record(sidecar, db.FileTypeFile, db.EventSkipOCR, "sidecar exists", 0)
		case models.StatusOCRDone:
			r.deps.Events.Record(sidecar, db.FileTypeFile, db.EventOCREnd, "", 0)
		}
		if writer != nil {
			r.streamUpload(ctx, l, writer, parser, t)
		}
	})

	if writer != nil {
		writer.Wait()
		r.addUploadStats(writer.Stats())
	}

	elapsed := time.Since(start)
	r.deps.Events.Record(base, db.FileTypeArchive, db.EventStageEnd,
		fmt.Sprintf("extracted=%d eligible=%d", len(staged.Files), len(tasks)), elapsed)
	l.Info("Archive complete.", slog.Duration("duration", elapsed.Round(time.Millisecond)))
	return runErr
}

// streamUpload parses a finished sidecar and hands it to the writer. A
// sidecar left by an earlier run is uploaded too; the store drops duplicates.
func (r *runner) streamUpload(ctx context.Context, l *slog.Logger, w *upload.Writer, parser pages.Parser, t *models.ProcessingTask) {
	raw, err := os.ReadFile(t.SidecarPath)
	if err != nil {
		r.parseFailed.Add(1)
		t.Status, t.Err = models.StatusUploadFailed, err
		l.Error("Could not read sidecar.", slog.String("entry", t.EntryPath), "error", err)
		r.deps.Events.Record(filepath.Base(t.SidecarPath), db.FileTypeFile, db.EventError, err.Error(), 0)
		return
	}
	doc := parser.Parse(t.SidecarPath, string(raw))
	t.Status = models.StatusParsed
	if t.ExpectedPages > 0 && t.ExpectedPages != len(doc.Pages) {
		l.Warn("OCR page count differs from PDF page count.", slog.String("entry", t.EntryPath),
			slog.Int("pdf_pages", t.ExpectedPages), slog.Int("ocr_pages", len(doc.Pages)))
	}
	if err := w.Submit(ctx, doc); err != nil {
		l.Warn("Upload not submitted, run is stopping.", slog.String("entry", t.EntryPath))
	}
}

func (r *runner) addUploadStats(s upload.Stats) {
	r.summary.Uploaded += s.Uploaded
	r.summary.SkippedDuplicate += s.SkippedDuplicate
	r.summary.UploadFailed += s.Failed
}
