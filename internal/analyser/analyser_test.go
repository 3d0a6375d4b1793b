package analyser

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/brensch/docingest/internal/db"
	"github.com/brensch/docingest/internal/models"
)

func TestCoverage(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := db.Open(ctx, ":memory:", 2, logger)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	docs := []models.ParsedDocument{
		{OriginalZip: "batch_a", SourceFile: "one.pdf", Pages: []string{"p1", "p2", "p3"}},
		{OriginalZip: "batch_a", SourceFile: "blank.png", Pages: nil},
		{OriginalZip: "batch_b", SourceFile: "two.jpg", Pages: []string{"p1"}},
	}
	for _, d := range docs {
		if _, err := store.InsertDocument(ctx, d); err != nil {
			t.Fatal(err)
		}
	}
	events := []db.FileEvent{
		{Filename: "batch_a_broken.pdf.txt", FileType: db.FileTypeFile, Event: db.EventError, Message: "ocr failed"},
		{Filename: "batch_c_lost.pdf.txt", FileType: db.FileTypeFile, Event: db.EventError, Message: "ocr failed"},
	}
	for _, ev := range events {
		if err := store.LogFileEvent(ctx, ev); err != nil {
			t.Fatal(err)
		}
	}

	reports, err := Coverage(ctx, store, logger)
	if err != nil {
		t.Fatalf("Coverage: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("reports = %+v", reports)
	}
	a := reports[0]
	if a.Archive != "batch_a" || a.Documents != 2 || a.Pages != 3 || a.EmptyDocs != 1 || a.OCRErrors != 1 {
		t.Fatalf("batch_a report = %+v", a)
	}
	if a.PagesPerDocument() != 1.5 {
		t.Fatalf("pages per document = %v", a.PagesPerDocument())
	}
	if reports[2].Archive != "batch_c" || reports[2].Documents != 0 || reports[2].OCRErrors != 1 {
		t.Fatalf("error-only archive = %+v", reports[2])
	}

	var buf bytes.Buffer
	PrintCoverage(&buf, reports)
	if !strings.Contains(buf.String(), "TOTAL") || !strings.Contains(buf.String(), "batch_b") {
		t.Fatalf("unexpected table:\n%s", buf.String())
	}
}
