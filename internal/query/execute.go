package query

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/brensch/docingest/internal/db"
)

// Result is a fully materialised query result rendered as strings.
type Result struct {
	Columns   []string
	Rows      [][]string
	Truncated bool
}

// Execute validates stmt and runs it with a timeout, keeping at most maxRows
// rows (0 = all).
func Execute(ctx context.Context, conn *sql.DB, dialect db.Dialect, stmt string, timeout time.Duration, maxRows int) (Result, error) {
	s, err := ValidateReadOnly(stmt)
	if err != nil {
		return Result{}, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return runReadOnly(ctx, conn, dialect, s, maxRows)
}

// runReadOnly runs s in a transaction that is never committed. Postgres also
// marks it read-only; DuckDB does not support that, so there the rollback is
// what discards any write.
func runReadOnly(ctx context.Context, conn *sql.DB, dialect db.Dialect, s string, maxRows int) (Result, error) {
	tx, err := conn.BeginTx(ctx, &sql.TxOptions{ReadOnly: dialect == db.DialectPostgres})
	if err != nil {
		return Result{}, fmt.Errorf("begin query transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, s)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("read columns: %w", err)
	}
	res := Result{Columns: cols}
	for rows.Next() {
		if maxRows > 0 && len(res.Rows) >= maxRows {
			res.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return res, fmt.Errorf("scan row: %w", err)
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			row[i] = format(v)
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return res, fmt.Errorf("iterate rows: %w", err)
	}
	return res, nil
}

func format(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

// Print writes the result as an aligned table. Cells are cut at maxWidth runes.
func (r Result) Print(w io.Writer, maxWidth int) {
	if maxWidth <= 0 {
		maxWidth = 60
	}
	widths := make([]int, len(r.Columns))
	cell := func(s string) string {
		s = strings.ReplaceAll(s, "\n", " ")
		if rs := []rune(s); len(rs) > maxWidth {
			return string(rs[:maxWidth-1]) + "…"
		}
		return s
	}
	for i, c := range r.Columns {
		widths[i] = len([]rune(cell(c)))
	}
	for _, row := range r.Rows {
		for i, v := range row {
			widths[i] = max(widths[i], len([]rune(cell(v))))
		}
	}
	line := func(vals []string) {
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = fmt.Sprintf("%-*s", widths[i], cell(v))
		}
		fmt.Fprintln(w, strings.Join(parts, " | "))
	}
	line(r.Columns)
	total := 0
	for _, wd := range widths {
		total += wd + 3
	}
	fmt.Fprintln(w, strings.Repeat("-", max(total-3, 0)))
	for _, row := range r.Rows {
		line(row)
	}
	suffix := ""
	if r.Truncated {
		suffix = " (truncated)"
	}
	fmt.Fprintf(w, "%d row(s)%s\n", len(r.Rows), suffix)
}
