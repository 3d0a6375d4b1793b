package inspector

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/brensch/docingest/internal/db"
	"github.com/brensch/docingest/internal/export"
	"github.com/brensch/docingest/internal/models"
)

func TestParseSnapshotName(t *testing.T) {
	tests := []struct {
		name      string
		wantTable string
		wantErr   bool
	}{
		{"documents-20250304-050607.parquet", "documents", false},
		{"pages-20250304-050607.parquet", "pages", false},
		{"pages-2025.parquet", "", true},
		{"other.parquet", "", true},
	}
	for _, tc := range tests {
		table, _, err := parseSnapshotName(tc.name)
		if (err != nil) != tc.wantErr || table != tc.wantTable {
			t.Errorf("parseSnapshotName(%q) = %q, %v", tc.name, table, err)
		}
	}
}

func TestInspectSnapshots(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := db.Open(ctx, ":memory:", 1, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if _, err := store.InsertDocument(ctx, models.ParsedDocument{OriginalZip: "z", SourceFile: "a.pdf", Pages: []string{"one", "two"}}); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	if _, err := export.Snapshot(ctx, store, dir, export.MethodWriter, time.Now(), logger); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	sums, err := InspectSnapshots(ctx, dir, &buf, logger)
	if err != nil {
		t.Fatalf("InspectSnapshots: %v", err)
	}
	if len(sums) != 2 {
		t.Fatalf("summaries = %d, want 2", len(sums))
	}
	rows := map[string]int64{}
	for _, s := range sums {
		rows[s.Table] = s.Rows
	}
	if rows["documents"] != 1 || rows["pages"] != 2 {
		t.Fatalf("row counts = %v", rows)
	}
	if !strings.Contains(buf.String(), "content_text") {
		t.Fatalf("schema not printed:\n%s", buf.String())
	}
}

func TestInspectEmptyDir(t *testing.T) {
	sums, err := InspectSnapshots(context.Background(), t.TempDir(), io.Discard, nil)
	if err != nil || len(sums) != 0 {
		t.Fatalf("empty dir = %v, %v", sums, err)
	}
}
