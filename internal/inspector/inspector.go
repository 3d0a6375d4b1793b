package inspector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"
)

// snapshotPattern matches the files written by the export package.
var snapshotPattern = regexp.MustCompile(`^(documents|pages)-(\d{8}-\d{6})\.parquet$`)

// timestampColumn is the per-table column summarised as a time range.
var timestampColumn = map[string]string{
	"documents": "processed_at",
	"pages":     "created_at",
}

// FileSummary describes one snapshot file.
type FileSummary struct {
	Path     string
	Table    string
	Stamp    string
	Rows     int64
	MinTime  string
	MaxTime  string
	Columns  []string
	Schema   string
	StatsErr error
}

// parseSnapshotName returns the table and timestamp encoded in a snapshot
// file name.
func parseSnapshotName(filename string) (table, stamp string, err error) {
	m := snapshotPattern.FindStringSubmatch(filename)
	if m == nil {
		return "", "", fmt.Errorf("filename '%s' is not a snapshot (documents|pages-YYYYMMDD-HHMMSS.parquet)", filename)
	}
	return m[1], m[2], nil
}

// InspectSnapshots summarises every Parquet snapshot in dir using an
// in-memory DuckDB and prints the result to w.
func InspectSnapshots(ctx context.Context, dir string, w io.Writer, logger *slog.Logger) ([]FileSummary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("--- Starting snapshot inspection ---", slog.String("dir", dir))

	files, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		return nil, fmt.Errorf("failed glob parquet files in %s: %w", dir, err)
	}
	if len(files) == 0 {
		logger.Info("No *.parquet files found.", "dir", dir)
		fmt.Fprintf(w, "No snapshots in %s\n", dir)
		return nil, nil
	}

	conn, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	var summaries []FileSummary
	var nameErrs error
	for _, fp := range files {
		table, stamp, err := parseSnapshotName(filepath.Base(fp))
		if err != nil {
			logger.Warn("Skipping file due to unexpected name format.", slog.String("file", filepath.Base(fp)), slog.String("error", err.Error()))
			nameErrs = errors.Join(nameErrs, err)
			continue
		}
		l := logger.With(slog.String("file", filepath.Base(fp)))
		s := FileSummary{Path: fp, Table: table, Stamp: stamp}

		s.Schema, s.Columns, err = getSchemaAndColumns(ctx, conn, fp)
		if err != nil {
			s.StatsErr = err
			l.Error("Failed getting schema", "error", err)
			summaries = append(summaries, s)
			continue
		}
		if err := fileStats(ctx, conn, &s); err != nil {
			s.StatsErr = err
			l.Error("Failed getting statistics", "error", err)
		} else {
			l.Debug("Statistics gathered.", slog.Int64("rows", s.Rows))
		}
		summaries = append(summaries, s)
	}

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Stamp != summaries[j].Stamp {
			return summaries[i].Stamp > summaries[j].Stamp
		}
		return summaries[i].Table < summaries[j].Table
	})
	printSummaries(w, summaries)

	finalErr := nameErrs
	for _, s := range summaries {
		finalErr = errors.Join(finalErr, s.StatsErr)
	}
	if finalErr != nil {
		logger.Warn("Inspection completed with errors.", "error", finalErr)
	}
	return summaries, finalErr
}

func fileStats(ctx context.Context, conn *sql.DB, s *FileSummary) error {
	path := quotePath(s.Path)
	col := timestampColumn[s.Table]
	hasCol := false
	for _, c := range s.Columns {
		if strings.EqualFold(c, col) {
			hasCol = true
			break
		}
	}

	var statsSQL string
	if hasCol {
		statsSQL = fmt.Sprintf(`SELECT COUNT(*), CAST(MIN(%s) AS VARCHAR), CAST(MAX(%s) AS VARCHAR) FROM read_parquet(%s);`, col, col, path)
	} else {
		statsSQL = fmt.Sprintf(`SELECT COUNT(*), NULL::VARCHAR, NULL::VARCHAR FROM read_parquet(%s);`, path)
	}
	var minTs, maxTs sql.NullString
	if err := conn.QueryRowContext(ctx, statsSQL).Scan(&s.Rows, &minTs, &maxTs); err != nil {
		return fmt.Errorf("stats for %s: %w", filepath.Base(s.Path), err)
	}
	s.MinTime, s.MaxTime = minTs.String, maxTs.String
	return nil
}

func getSchemaAndColumns(ctx context.Context, conn *sql.DB, filePath string) (string, []string, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("DESCRIBE SELECT * FROM read_parquet(%s);", quotePath(filePath)))
	if err != nil {
		return "", nil, fmt.Errorf("query schema for %s: %w", filePath, err)
	}
	defer rows.Close()

	var b strings.Builder
	var columns []string
	for rows.Next() {
		var colName, colType, nullVal, keyVal, defaultVal, extraVal sql.NullString
		if err := rows.Scan(&colName, &colType, &nullVal, &keyVal, &defaultVal, &extraVal); err != nil {
			return "", nil, fmt.Errorf("scan schema row for %s: %w", filePath, err)
		}
		fmt.Fprintf(&b, "  %-20s | %s\n", colName.String, colType.String)
		if colName.Valid {
			columns = append(columns, colName.String)
		}
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("iterate schema rows for %s: %w", filePath, err)
	}
	return strings.TrimRight(b.String(), "\n"), columns, nil
}

func quotePath(p string) string {
	return "'" + strings.ReplaceAll(filepath.ToSlash(p), "'", "''") + "'"
}

func printSummaries(w io.Writer, summaries []FileSummary) {
	seen := map[string]bool{}
	fmt.Fprintln(w, "--- Snapshot Schemas ---")
	for _, s := range summaries {
		if seen[s.Table] || s.Schema == "" {
			continue
		}
		seen[s.Table] = true
		fmt.Fprintf(w, "\n=== %s ===\n%s\n", s.Table, s.Schema)
	}

	fmt.Fprintln(w, "\n--- Snapshots ---")
	fmt.Fprintf(w, "%-16s | %-10s | %-10s | %-26s | %-26s | %s\n", "Snapshot", "Table", "Rows", "Earliest", "Latest", "Errors")
	fmt.Fprintln(w, strings.Repeat("-", 110))
	for _, s := range summaries {
		errStr := ""
		if s.StatsErr != nil {
			errStr = "Stats Error"
		}
		fmt.Fprintf(w, "%-16s | %-10s | %-10d | %-26s | %-26s | %s\n", s.Stamp, s.Table, s.Rows, orNA(s.MinTime), orNA(s.MaxTime), errStr)
	}
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
