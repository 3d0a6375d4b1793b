package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/docingest/internal/db"
)

const timestampLayout = "20060102-150405"

// Method selects how tables are written.
type Method string

const (
	// MethodAuto uses DuckDB's COPY when the store is DuckDB, parquet-go otherwise.
	MethodAuto Method = "auto"
	// MethodCopy runs COPY ... TO ... (FORMAT PARQUET) inside DuckDB.
	MethodCopy Method = "copy"
	// MethodWriter streams rows out of the store through parquet-go.
	MethodWriter Method = "writer"
)

type documentRow struct {
	ID          int64  `parquet:"name=id, type=INT64"`
	SourceFile  string `parquet:"name=source_file, type=BYTE_ARRAY, convertedtype=UTF8"`
	OriginalZip string `parquet:"name=original_zip, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"`
	TotalPages  int32  `parquet:"name=total_pages, type=INT32"`
	ProcessedAt int64  `parquet:"name=processed_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type pageRow struct {
	ID          int64  `parquet:"name=id, type=INT64"`
	DocumentID  int64  `parquet:"name=document_id, type=INT64"`
	PageNumber  int32  `parquet:"name=page_number, type=INT32"`
	ContentText string `parquet:"name=content_text, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt   int64  `parquet:"name=created_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// FileNames returns the snapshot file names for a point in time.
func FileNames(outDir string, at time.Time) (documents, pages string) {
	stamp := at.UTC().Format(timestampLayout)
	return filepath.Join(outDir, "documents-"+stamp+".parquet"), filepath.Join(outDir, "pages-"+stamp+".parquet")
}

// Snapshot writes the documents and pages tables to timestamped Parquet files
// in outDir and returns their paths.
func Snapshot(ctx context.Context, store *db.Store, outDir string, method Method, at time.Time, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create export directory %s: %w", outDir, err)
	}
	if method == "" || method == MethodAuto {
		method = MethodWriter
		if store.Dialect() == db.DialectDuckDB {
			method = MethodCopy
		}
	}
	if method == MethodCopy && store.Dialect() != db.DialectDuckDB {
		return nil, fmt.Errorf("export method %q needs a DuckDB store", method)
	}

	docPath, pagePath := FileNames(outDir, at)
	logger.Info("Exporting store snapshot.", slog.String("method", string(method)), slog.String("dir", outDir))

	var errs []error
	switch method {
	case MethodCopy:
		errs = append(errs,
			copyTable(ctx, store, "SELECT id, source_file, original_zip, total_pages, processed_at FROM documents ORDER BY id", docPath),
			copyTable(ctx, store, "SELECT id, document_id, page_number, content_text, created_at FROM pages ORDER BY document_id, page_number", pagePath))
	case MethodWriter:
		errs = append(errs, writeDocuments(ctx, store, docPath), writePages(ctx, store, pagePath))
	default:
		return nil, fmt.Errorf("unknown export method %q", method)
	}
	if err := errors.Join(errs...); err != nil {
		logger.Error("Export finished with errors.", "error", err)
		return nil, err
	}
	logger.Info("Export complete.", slog.String("documents", docPath), slog.String("pages", pagePath))
	return []string{docPath, pagePath}, nil
}

func copyTable(ctx context.Context, store *db.Store, query, path string) error {
	duckPath := strings.ReplaceAll(filepath.ToSlash(path), "'", "''")
	copySQL := fmt.Sprintf("COPY (%s) TO '%s' (FORMAT PARQUET);", query, duckPath)
	if _, err := store.DB().ExecContext(ctx, copySQL); err != nil {
		return fmt.Errorf("copy to %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeDocuments(ctx context.Context, store *db.Store, path string) error {
	docs, err := store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	return writeParquet(path, new(documentRow), len(docs), func(i int) any {
		d := docs[i]
		return documentRow{
			ID:          d.ID,
			SourceFile:  d.SourceFile,
			OriginalZip: d.OriginalZip,
			TotalPages:  int32(d.TotalPages),
			ProcessedAt: d.ProcessedAt.UnixMilli(),
		}
	})
}

func writePages(ctx context.Context, store *db.Store, path string) error {
	pages, err := store.ListPages(ctx, 0)
	if err != nil {
		return err
	}
	return writeParquet(path, new(pageRow), len(pages), func(i int) any {
		p := pages[i]
		return pageRow{
			ID:          p.ID,
			DocumentID:  p.DocumentID,
			PageNumber:  int32(p.PageNumber),
			ContentText: p.ContentText,
			CreatedAt:   p.CreatedAt.UnixMilli(),
		}
	})
}

func writeParquet(path string, schema any, n int, row func(int) any) (err error) {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer func() {
		if cerr := fw.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", filepath.Base(path), cerr)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	pw, err := writer.NewParquetWriter(fw, schema, 4)
	if err != nil {
		return fmt.Errorf("parquet writer for %s: %w", filepath.Base(path), err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	for i := 0; i < n; i++ {
		if err := pw.Write(row(i)); err != nil {
			pw.WriteStop()
			return fmt.Errorf("write row %d to %s: %w", i, filepath.Base(path), err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finish %s: %w", filepath.Base(path), err)
	}
	return nil
}
