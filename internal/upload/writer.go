package upload

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/brensch/docingest/internal/db"
	"github.com/brensch/docingest/internal/models"
)

// Store persists parsed documents. *db.Store implements it.
type Store interface {
	InsertDocument(ctx context.Context, doc models.ParsedDocument) (int64, error)
}

// Outcome is how one submitted document settled.
type Outcome int

const (
	Uploaded Outcome = iota
	SkippedDuplicate
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Uploaded:
		return "uploaded"
	case SkippedDuplicate:
		return "skipped_duplicate"
	default:
		return "failed"
	}
}

// WriterConfig controls a Writer.
type WriterConfig struct {
	Workers int           // concurrent inserts, at least 1
	Timeout time.Duration // per document; 0 disables
	Logger  *slog.Logger
	Events  *db.Recorder // optional

	// OnResult is called once per document after it settles, possibly from
	// several goroutines at once.
	OnResult func(doc models.ParsedDocument, outcome Outcome, err error)
}

// Stats is a snapshot of a Writer's counters.
type Stats struct {
	Uploaded         int64
	SkippedDuplicate int64
	Failed           int64
	MaxInFlight      int64
}

// Writer inserts documents with bounded concurrency, independent of OCR.
type Writer struct {
	store  Store
	cfg    WriterConfig
	logger *slog.Logger
	g      errgroup.Group

	uploaded    atomic.Int64
	skipped     atomic.Int64
	failed      atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func NewWriter(store Store, cfg WriterConfig) *Writer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	w := &Writer{store: store, cfg: cfg, logger: logger}
	w.g.SetLimit(cfg.Workers)
	return w
}

// Submit queues doc for insertion. It blocks while every worker is busy and
// returns ctx.Err() without queuing if ctx is already cancelled. Once
// queued, a document is written even if ctx is cancelled later.
func (w *Writer) Submit(ctx context.Context, doc models.ParsedDocument) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.g.Go(func() error {
		w.upload(ctx, doc)
		return nil
	})
	return nil
}

// Wait blocks until every submitted document has settled.
func (w *Writer) Wait() {
	w.g.Wait()
}

func (w *Writer) Stats() Stats {
	return Stats{
		Uploaded:         w.uploaded.Load(),
		SkippedDuplicate: w.skipped.Load(),
		Failed:           w.failed.Load(),
		MaxInFlight:      w.maxInFlight.Load(),
	}
}

func (w *Writer) upload(ctx context.Context, doc models.ParsedDocument) {
	n := w.inFlight.Add(1)
	defer w.inFlight.Add(-1)
	for {
		m := w.maxInFlight.Load()
		if n <= m || w.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	runCtx := context.WithoutCancel(ctx)
	if w.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, w.cfg.Timeout)
		defer cancel()
	}

	l := w.logger.With(slog.String("source_file", doc.SourceFile), slog.String("archive", doc.OriginalZip))
	start := time.Now()
	id, err := w.store.InsertDocument(runCtx, doc)
	elapsed := time.Since(start).Round(time.Millisecond)

	var outcome Outcome
	switch {
	case err == nil:
		outcome = Uploaded
		w.uploaded.Add(1)
		l.Info("Document uploaded.", slog.Int64("document_id", id), slog.Int("pages", len(doc.Pages)), slog.Duration("duration", elapsed))
		w.cfg.Events.Record(doc.SourceFile, db.FileTypeDocument, db.EventUploadEnd, "", elapsed)
	case errors.Is(err, db.ErrDuplicate):
		outcome = SkippedDuplicate
		w.skipped.Add(1)
		l.Info("Document already stored, skipping.")
		w.cfg.Events.Record(doc.SourceFile, db.FileTypeDocument, db.EventSkipUpload, "duplicate", 0)
	default:
		outcome = Failed
		w.failed.Add(1)
		l.Error("Upload failed.", "error", err, slog.Duration("duration", elapsed))
		w.cfg.Events.Record(doc.SourceFile, db.FileTypeDocument, db.EventError, err.Error(), elapsed)
	}

	if w.cfg.OnResult != nil {
		w.cfg.OnResult(doc, outcome, err)
	}
}
