package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brensch/docingest/internal/db"
	"github.com/brensch/docingest/internal/models"
	"github.com/brensch/docingest/internal/pages"
)

type memStore struct {
	mu      sync.Mutex
	docs    map[string]models.ParsedDocument
	nextID  int64
	delay   time.Duration
	failOn  string
	calls   int
	active  int
	maxSeen int
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]models.ParsedDocument{}}
}

func (m *memStore) InsertDocument(ctx context.Context, doc models.ParsedDocument) (int64, error) {
	m.mu.Lock()
	m.calls++
	m.active++
	if m.active > m.maxSeen {
		m.maxSeen = m.active
	}
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.active--
		m.mu.Unlock()
	}()

	time.Sleep(m.delay)
	if m.failOn != "" && doc.SourceFile == m.failOn {
		return 0, errors.New("connection reset")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.SourceFile]; ok {
		return 0, db.ErrDuplicate
	}
	m.nextID++
	m.docs[doc.SourceFile] = doc
	return m.nextID, nil
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriterCountsAndBounds(t *testing.T) {
	store := newMemStore()
	store.delay = 10 * time.Millisecond
	store.failOn = "broken.pdf"
	store.docs["dup.pdf"] = models.ParsedDocument{}

	var mu sync.Mutex
	outcomes := map[Outcome]int{}
	w := NewWriter(store, WriterConfig{Workers: 2, Logger: quiet(), OnResult: func(_ models.ParsedDocument, o Outcome, _ error) {
		mu.Lock()
		outcomes[o]++
		mu.Unlock()
	}})

	names := []string{"dup.pdf", "broken.pdf"}
	for i := 0; i < 8; i++ {
		names = append(names, fmt.Sprintf("doc%d.pdf", i))
	}
	for _, n := range names {
		if err := w.Submit(context.Background(), models.ParsedDocument{OriginalZip: "z", SourceFile: n, Pages: []string{"p"}}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	w.Wait()

	s := w.Stats()
	if s.Uploaded != 8 || s.SkippedDuplicate != 1 || s.Failed != 1 {
		t.Fatalf("stats = %+v", s)
	}
	if s.MaxInFlight > 2 || store.maxSeen > 2 {
		t.Fatalf("upload concurrency exceeded: writer=%d store=%d", s.MaxInFlight, store.maxSeen)
	}
	if outcomes[Uploaded] != 8 || outcomes[SkippedDuplicate] != 1 || outcomes[Failed] != 1 {
		t.Fatalf("outcomes = %v", outcomes)
	}
}

func TestWriterSubmitAfterCancel(t *testing.T) {
	store := newMemStore()
	w := NewWriter(store, WriterConfig{Workers: 1, Logger: quiet()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := w.Submit(ctx, models.ParsedDocument{SourceFile: "a.pdf"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit err = %v", err)
	}
	w.Wait()
	if store.calls != 0 {
		t.Fatalf("store called %d times", store.calls)
	}
}

func TestWriterFinishesQueuedDocumentAfterCancel(t *testing.T) {
	store := newMemStore()
	store.delay = 30 * time.Millisecond
	w := NewWriter(store, WriterConfig{Workers: 1, Logger: quiet()})
	ctx, cancel := context.WithCancel(context.Background())

	if err := w.Submit(ctx, models.ParsedDocument{SourceFile: "a.pdf", Pages: []string{"x"}}); err != nil {
		t.Fatal(err)
	}
	cancel()
	w.Wait()
	if w.Stats().Uploaded != 1 {
		t.Fatalf("in-flight upload did not complete: %+v", w.Stats())
	}
}

func writeSidecars(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestListSidecars(t *testing.T) {
	dir := writeSidecars(t, map[string]string{
		"b_two.pdf.txt":           "x",
		"a_one.pdf.txt":           "x",
		"c_three.pdf.txt.partial": "x",
		"notes.md":                "x",
	})
	if err := os.Mkdir(filepath.Join(dir, "sub.txt"), 0o755); err != nil {
		t.Fatal(err)
	}
	got, err := ListSidecars(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "a_one.pdf.txt"), filepath.Join(dir, "b_two.pdf.txt")}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("ListSidecars = %v, want %v", got, want)
	}
}

func TestUploadDirectoryIsIdempotent(t *testing.T) {
	dir := writeSidecars(t, map[string]string{
		"test_archive_test_document.pdf.txt": "page one\fpage two",
		"test_archive_scan.png.txt":          "only page",
		"test_archive_blank.jpg.txt":         "  \f ",
	})
	store := newMemStore()
	parser := pages.Parser{Separator: pages.FormFeed, KnownArchives: []string{"test_archive"}}
	cfg := BatchConfig{Workers: 2, ProgressEvery: 1, Logger: quiet()}

	first, err := UploadDirectory(context.Background(), dir, store, parser, cfg)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Uploaded != 3 {
		t.Fatalf("first run stats = %+v", first)
	}
	doc, ok := store.docs["test_document.pdf"]
	if !ok {
		t.Fatalf("literal name not parsed: %v", store.docs)
	}
	if doc.OriginalZip != "test_archive" || len(doc.Pages) != 2 {
		t.Fatalf("stored doc = %+v", doc)
	}
	if len(store.docs["blank.jpg"].Pages) != 0 {
		t.Fatalf("blank document should have zero pages")
	}

	second, err := UploadDirectory(context.Background(), dir, store, parser, cfg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Uploaded != 0 || second.SkippedDuplicate != 3 {
		t.Fatalf("second run stats = %+v", second)
	}
}

func TestUploadDirectoryDryRunTouchesNoStore(t *testing.T) {
	dir := writeSidecars(t, map[string]string{"a_one.pdf.txt": "x", "a_two.pdf.txt": "y"})
	stats, err := UploadDirectory(context.Background(), dir, nil, pages.Parser{}, BatchConfig{DryRun: true, Logger: quiet()})
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if stats != (Stats{}) {
		t.Fatalf("dry run produced stats %+v", stats)
	}
}

func TestUploadDirectoryReportsProgress(t *testing.T) {
	files := map[string]string{}
	for i := 0; i < 5; i++ {
		files[fmt.Sprintf("z_doc%d.pdf.txt", i)] = "text"
	}
	dir := writeSidecars(t, files)
	ch := make(chan Progress, 16)

	_, err := UploadDirectory(context.Background(), dir, newMemStore(), pages.Parser{}, BatchConfig{Workers: 1, ProgressEvery: 2, Logger: quiet(), Progress: ch})
	if err != nil {
		t.Fatal(err)
	}
	close(ch)

	var last Progress
	for p := range ch {
		last = p
	}
	if !last.Done || last.Processed != 5 || last.Total != 5 || last.Stats.Uploaded != 5 {
		t.Fatalf("final progress = %+v", last)
	}
}

func TestUploadDirectoryMissingDir(t *testing.T) {
	_, err := UploadDirectory(context.Background(), filepath.Join(t.TempDir(), "missing"), newMemStore(), pages.Parser{}, BatchConfig{Logger: quiet()})
	if err == nil {
		t.Fatal("expected error for missing directory")
	}
}
