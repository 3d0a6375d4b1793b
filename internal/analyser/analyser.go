package analyser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/brensch/docingest/internal/db"
	"github.com/brensch/docingest/internal/pages"
)

// ArchiveReport is the ingestion coverage of one archive.
type ArchiveReport struct {
	Archive     string
	Documents   int64
	Pages       int64
	EmptyDocs   int64 // documents whose OCR produced no text
	OCRErrors   int64 // file-level error events for this archive
	FirstIngest time.Time
	LastIngest  time.Time
}

// PagesPerDocument is the mean page count, 0 for an empty archive.
func (r ArchiveReport) PagesPerDocument() float64 {
	if r.Documents == 0 {
		return 0
	}
	return float64(r.Pages) / float64(r.Documents)
}

// Coverage aggregates the documents table per archive and attributes
// file-level error events (failed OCR, unreadable sidecars) to archives by
// their sidecar names.
func Coverage(ctx context.Context, store *db.Store, logger *slog.Logger) ([]ArchiveReport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	query, args, err := sq.Select(
		"original_zip",
		"COUNT(*)",
		"CAST(COALESCE(SUM(total_pages), 0) AS BIGINT)",
		"CAST(COALESCE(SUM(CASE WHEN total_pages = 0 THEN 1 ELSE 0 END), 0) AS BIGINT)",
		"MIN(processed_at)",
		"MAX(processed_at)",
	).From("documents").GroupBy("original_zip").OrderBy("original_zip").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build coverage query: %w", err)
	}

	logger.Debug("Running coverage query.", slog.String("sql", query))
	rows, err := store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("coverage query: %w", err)
	}
	defer rows.Close()

	byArchive := map[string]*ArchiveReport{}
	var names []string
	for rows.Next() {
		r := &ArchiveReport{}
		if err := rows.Scan(&r.Archive, &r.Documents, &r.Pages, &r.EmptyDocs, &r.FirstIngest, &r.LastIngest); err != nil {
			return nil, fmt.Errorf("scan coverage row: %w", err)
		}
		byArchive[r.Archive] = r
		names = append(names, r.Archive)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate coverage rows: %w", err)
	}

	errs, err := store.History(ctx, db.HistoryFilter{FileType: db.FileTypeFile, Event: db.EventError})
	if err != nil {
		return nil, err
	}
	for _, ev := range errs {
		id := pages.ParseSidecarName(ev.Filename, names...)
		r, ok := byArchive[id.OriginalZip]
		if !ok {
			// Archives where nothing was stored still show up with their errors.
			r = &ArchiveReport{Archive: id.OriginalZip}
			byArchive[id.OriginalZip] = r
			names = append(names, id.OriginalZip)
		}
		r.OCRErrors++
	}

	sort.Strings(names)
	out := make([]ArchiveReport, 0, len(names))
	for _, n := range names {
		out = append(out, *byArchive[n])
	}
	logger.Info("Coverage report built.", slog.Int("archives", len(out)), slog.Int("error_events", len(errs)))
	return out, nil
}

// PrintCoverage writes the report as a table with a totals line.
func PrintCoverage(w io.Writer, reports []ArchiveReport) {
	fmt.Fprintf(w, "%-40s | %-9s | %-8s | %-9s | %-6s | %-6s | %s\n", "Archive", "Documents", "Pages", "Pages/doc", "Empty", "Errors", "Last ingest (UTC)")
	fmt.Fprintln(w, strings.Repeat("-", 120))
	var total ArchiveReport
	for _, r := range reports {
		last := "N/A"
		if !r.LastIngest.IsZero() {
			last = r.LastIngest.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%-40s | %-9d | %-8d | %-9.1f | %-6d | %-6d | %s\n", r.Archive, r.Documents, r.Pages, r.PagesPerDocument(), r.EmptyDocs, r.OCRErrors, last)
		total.Documents += r.Documents
		total.Pages += r.Pages
		total.EmptyDocs += r.EmptyDocs
		total.OCRErrors += r.OCRErrors
	}
	fmt.Fprintln(w, strings.Repeat("-", 120))
	fmt.Fprintf(w, "%-40s | %-9d | %-8d | %-9.1f | %-6d | %-6d |\n", "TOTAL", total.Documents, total.Pages, total.PagesPerDocument(), total.EmptyDocs, total.OCRErrors)
}
