package query

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/brensch/docingest/internal/db"
	"github.com/brensch/docingest/internal/models"
)

func TestValidateReadOnly(t *testing.T) {
	tests := []struct {
		stmt string
		ok   bool
	}{
		{"SELECT * FROM documents", true},
		{"  select count(*) from pages;  ", true},
		{"WITH d AS (SELECT id FROM documents) SELECT * FROM d", true},
		{"SELECT updated_at FROM documents", true},
		{"SELECT * FROM documents; DROP TABLE pages", false},
		{"DELETE FROM documents", false},
		{"select * from documents where 1=1 or update", false},
		{"INSERT INTO documents VALUES (1)", false},
		{"EXPLAIN SELECT 1", false},
		{"PRAGMA table_info('documents')", false},
		{"", false},
		{";", false},
	}
	for _, tc := range tests {
		_, err := ValidateReadOnly(tc.stmt)
		if tc.ok && err != nil {
			t.Errorf("ValidateReadOnly(%q) rejected: %v", tc.stmt, err)
		}
		if !tc.ok && !errors.Is(err, ErrForbidden) {
			t.Errorf("ValidateReadOnly(%q) = %v, want ErrForbidden", tc.stmt, err)
		}
	}
}

func TestExecuteAgainstStore(t *testing.T) {
	ctx := context.Background()
	store, err := db.Open(ctx, ":memory:", 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	for _, name := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		if _, err := store.InsertDocument(ctx, models.ParsedDocument{OriginalZip: "z", SourceFile: name, Pages: []string{"p1", "p2"}}); err != nil {
			t.Fatal(err)
		}
	}

	res, err := Execute(ctx, store.DB(), store.Dialect(), "SELECT source_file, total_pages FROM documents ORDER BY source_file;", 0, 2)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Columns) != 2 || len(res.Rows) != 2 || !res.Truncated {
		t.Fatalf("result = %+v", res)
	}
	if res.Rows[0][0] != "a.pdf" || res.Rows[0][1] != "2" {
		t.Fatalf("first row = %v", res.Rows[0])
	}

	var buf bytes.Buffer
	res.Print(&buf, 0)
	if !strings.Contains(buf.String(), "source_file") || !strings.Contains(buf.String(), "2 row(s) (truncated)") {
		t.Fatalf("printed:\n%s", buf.String())
	}

	if _, err := Execute(ctx, store.DB(), store.Dialect(), "DELETE FROM pages", 0, 0); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete err = %v", err)
	}
	if docs, pages, _ := store.Counts(ctx); docs != 3 || pages != 6 {
		t.Fatalf("store changed: %d docs %d pages", docs, pages)
	}
}

func TestRunReadOnlyDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	store, err := db.Open(ctx, ":memory:", 1, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	res, err := runReadOnly(ctx, store.DB(), store.Dialect(),
		"INSERT INTO documents (source_file, original_zip, total_pages) VALUES ('sneaky.pdf', 'z', 0) RETURNING id", 0)
	if err != nil {
		t.Fatalf("runReadOnly: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("rows = %v", res.Rows)
	}

	docs, _, err := store.Counts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if docs != 0 {
		t.Fatalf("write survived the query transaction: %d documents", docs)
	}
}
