package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/docingest/internal/models"
)

// PoolConfig controls an OCR pool.
type PoolConfig struct {
	Workers int           // concurrent conversions, at least 1
	Timeout time.Duration // per file; 0 disables
	Logger  *slog.Logger

	// PageCount reads the page count of a PDF before conversion. nil uses pdfcpu.
	PageCount func(path string) (int, error)
}

// PoolStats is a snapshot of a pool's counters.
type PoolStats struct {
	Submitted   int64
	Succeeded   int64
	Failed      int64
	Skipped     int64
	MaxInFlight int64
}

// Pool runs an Engine over ProcessingTasks with bounded concurrency. A Pool
// may be reused across Run calls; its counters accumulate.
type Pool struct {
	engine Engine
	cfg    PoolConfig
	logger *slog.Logger

	submitted   atomic.Int64
	succeeded   atomic.Int64
	failed      atomic.Int64
	skipped     atomic.Int64
	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func NewPool(engine Engine, cfg PoolConfig) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.PageCount == nil {
		cfg.PageCount = pdfPageCount
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{engine: engine, cfg: cfg, logger: logger.With(slog.String("engine", engine.Name()))}
}

// Run converts every task, blocking submission while all workers are busy.
// Tasks whose sidecar already exists are marked Skipped without touching the
// engine. Once ctx is cancelled no further task is started; conversions
// already running finish under their own timeout. Run waits for every started
// task and returns ctx.Err() if it stopped early. Per-task failures are
// recorded on the task, never returned.
//
// onDone is called once for every task that settles (done, failed or
// skipped), possibly from several goroutines at once.
func (p *Pool) Run(ctx context.Context, tasks []*models.ProcessingTask, onDone func(*models.ProcessingTask)) error {
	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)

	done := func(t *models.ProcessingTask) {
		if onDone != nil {
			onDone(t)
		}
	}

	var stopErr error
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("Stop requested, not submitting remaining files.", slog.Int("remaining", len(tasks)-i))
			stopErr = err
			break
		}

		if sidecarExists(task.SidecarPath) {
			task.Status = models.StatusSkipped
			p.skipped.Add(1)
			p.logger.Debug("Sidecar exists, skipping OCR.", slog.String("entry", task.EntryPath), slog.String("sidecar", task.SidecarPath))
			done(task)
			continue
		}

		task.Status = models.StatusOCRSubmitted
		g.Go(func() error {
			// A slot may have freed up only after the stop request.
			if ctx.Err() != nil {
				task.Status = models.StatusStaged
				return nil
			}
			p.submitted.Add(1)
			p.convert(ctx, task)
			done(task)
			return nil
		})
	}
	g.Wait()
	if stopErr == nil {
		stopErr = ctx.Err()
	}
	return stopErr
}

func (p *Pool) convert(ctx context.Context, task *models.ProcessingTask) {
	l := p.logger.With(slog.String("archive", task.ArchiveName), slog.String("entry", task.EntryPath))

	if IsPDFInput(task.InputPath) {
		if n, err := p.cfg.PageCount(task.InputPath); err != nil {
			l.Debug("Could not read PDF page count.", "error", err)
		} else {
			task.ExpectedPages = n
		}
	}

	n := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		m := p.maxInFlight.Load()
		if n <= m || p.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	runCtx := context.WithoutCancel(ctx)
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, p.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := os.MkdirAll(filepath.Dir(task.SidecarPath), 0o755)
	if err == nil {
		err = p.engine.Convert(runCtx, task.InputPath, task.SidecarPath)
	}
	elapsed := time.Since(start).Round(time.Millisecond)

	if err != nil {
		task.Status = models.StatusOCRFailed
		task.Err = err
		p.failed.Add(1)
		l.Error("OCR failed.", "error", err, slog.Duration("duration", elapsed))
		return
	}
	task.Status = models.StatusOCRDone
	p.succeeded.Add(1)
	l.Info("OCR complete.", slog.String("sidecar", filepath.Base(task.SidecarPath)), slog.Duration("duration", elapsed))
}

// Stats returns the current counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Submitted:   p.submitted.Load(),
		Succeeded:   p.succeeded.Load(),
		Failed:      p.failed.Load(),
		Skipped:     p.skipped.Load(),
		MaxInFlight: p.maxInFlight.Load(),
	}
}

func sidecarExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// pdfPageCount wraps pdfcpu, which can panic on malformed files.
func pdfPageCount(path string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("read page count: %v", r)
		}
	}()
	return api.PageCountFile(path)
}
