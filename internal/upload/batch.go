package upload

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brensch/docingest/internal/db"
	"github.com/brensch/docingest/internal/models"
	"github.com/brensch/docingest/internal/pages"
)

const sidecarExt = ".txt"

// BatchConfig controls UploadDirectory.
type BatchConfig struct {
	Workers       int
	Timeout       time.Duration
	ProgressEvery int
	DryRun        bool
	Logger        *slog.Logger
	Events        *db.Recorder

	// Progress receives snapshots for a live view. Intermediate snapshots
	// are dropped if the receiver is slow; the final one is always sent.
	// UploadDirectory never closes it.
	Progress chan<- Progress
}

// Progress is a point-in-time view of a batch upload.
type Progress struct {
	Processed int
	Total     int
	Rate      float64 // documents per second
	ETA       time.Duration
	Stats     Stats
	Current   string
	Done      bool
}

// ListSidecars returns the *.txt files directly inside dir, sorted by name.
// Unfinished .partial files never match.
func ListSidecars(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read sidecar directory %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.EqualFold(filepath.Ext(e.Name()), sidecarExt) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// UploadDirectory parses every sidecar in dir and submits it to store. It is
// the batch half of the pipeline and the entry point for resuming uploads.
// Per-file failures are counted, not returned; the error is non-nil only if
// dir cannot be listed or ctx stopped the run before every file was submitted.
func UploadDirectory(ctx context.Context, dir string, store Store, parser pages.Parser, cfg BatchConfig) (Stats, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("dir", dir))

	files, err := ListSidecars(dir)
	if err != nil {
		return Stats{}, err
	}
	logger.Info("Found sidecar files.", slog.Int("count", len(files)), slog.Bool("dry_run", cfg.DryRun))

	if cfg.DryRun {
		for _, f := range files {
			id := pages.ParseSidecarName(filepath.Base(f), parser.KnownArchives...)
			logger.Info("Would upload.", slog.String("file", filepath.Base(f)),
				slog.String("archive", id.OriginalZip), slog.String("source_file", id.SourceFile), slog.String("match", id.Match.String()))
		}
		return Stats{}, nil
	}

	rep := newReporter(len(files), cfg.ProgressEvery, logger, cfg.Progress)
	w := NewWriter(store, WriterConfig{
		Workers: cfg.Workers,
		Timeout: cfg.Timeout,
		Logger:  logger,
		Events:  cfg.Events,
		OnResult: func(doc models.ParsedDocument, _ Outcome, _ error) {
			rep.tick(doc.SourceFile)
		},
	})
	rep.stats = w.Stats

	var stopErr error
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			logger.Warn("Stop requested, not submitting remaining sidecars.", slog.Int("remaining", len(files)-i))
			stopErr = err
			break
		}
		raw, err := os.ReadFile(f)
		if err != nil {
			logger.Error("Could not read sidecar, skipping.", slog.String("file", filepath.Base(f)), "error", err)
			w.failed.Add(1)
			cfg.Events.Record(filepath.Base(f), db.FileTypeFile, db.EventError, err.Error(), 0)
			rep.tick(filepath.Base(f))
			continue
		}
		doc := parser.Parse(f, string(raw))
		if doc.Match != models.NameMatched {
			logger.Warn("Sidecar name did not match the expected pattern.", slog.String("file", filepath.Base(f)), slog.String("match", doc.Match.String()))
		}
		if err := w.Submit(ctx, doc); err != nil {
			stopErr = err
			break
		}
	}
	w.Wait()
	rep.finish()

	stats := w.Stats()
	logger.Info("Batch upload finished.",
		slog.Int64("uploaded", stats.Uploaded),
		slog.Int64("skipped_duplicate", stats.SkippedDuplicate),
		slog.Int64("failed", stats.Failed))
	return stats, stopErr
}

// reporter logs progress every N settled items and feeds the optional channel.
type reporter struct {
	mu        sync.Mutex
	total     int
	every     int
	processed int
	start     time.Time
	logger    *slog.Logger
	ch        chan<- Progress
	stats     func() Stats
}

func newReporter(total, every int, logger *slog.Logger, ch chan<- Progress) *reporter {
	if every < 1 {
		every = 100
	}
	return &reporter{total: total, every: every, start: time.Now(), logger: logger, ch: ch}
}

func (r *reporter) tick(current string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed++
	p := r.snapshot(current)
	if r.processed%r.every == 0 || r.processed == r.total {
		r.logger.Info("Upload progress.",
			slog.Int("processed", p.Processed),
			slog.Int("total", p.Total),
			slog.String("rate", fmt.Sprintf("%.1f/s", p.Rate)),
			slog.Duration("eta", p.ETA))
	}
	if r.ch != nil {
		select {
		case r.ch <- p:
		default:
		}
	}
}

func (r *reporter) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch == nil {
		return
	}
	p := r.snapshot("")
	p.Done = true
	r.ch <- p
}

func (r *reporter) snapshot(current string) Progress {
	p := Progress{Processed: r.processed, Total: r.total, Current: current}
	if elapsed := time.Since(r.start).Seconds(); elapsed > 0 {
		p.Rate = float64(r.processed) / elapsed
	}
	if p.Rate > 0 && r.total > r.processed {
		p.ETA = time.Duration(float64(r.total-r.processed) / p.Rate * float64(time.Second)).Round(time.Second)
	}
	if r.stats != nil {
		p.Stats = r.stats()
	}
	return p
}
