package archive

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type zipEntry struct {
	name    string
	body    string
	nonUTF8 bool
}

func writeZip(t *testing.T, path string, entries []zipEntry) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	for _, e := range entries {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: e.name, Method: zip.Deflate, NonUTF8: e.nonUTF8})
		if err != nil {
			t.Fatalf("create %s: %v", e.name, err)
		}
		if _, err := io.WriteString(w, e.body); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestScanArchives(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"b.zip", "a.ZIP", "notes.txt", "c.zip.bak"} {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "dir.zip"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ScanArchives(dir)
	if err != nil {
		t.Fatalf("ScanArchives: %v", err)
	}
	want := []string{filepath.Join(dir, "a.ZIP"), filepath.Join(dir, "b.zip")}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestScanArchivesMissingDir(t *testing.T) {
	_, err := ScanArchives(filepath.Join(t.TempDir(), "nope"))
	if !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("expected ErrSourceNotFound, got %v", err)
	}
}

func TestIsOCREligible(t *testing.T) {
	tests := map[string]bool{
		"a/report.pdf":  true,
		"SCAN.PDF":      true,
		"photo.JpG":     true,
		"page.png":      true,
		"notes.txt":     false,
		"letter.docx":   false,
		"archive.zip":   false,
		"pdf":           false,
		"image.jpeg":    false,
		"dir/":          false,
		"report.pdf.gz": false,
	}
	for path, want := range tests {
		if got := IsOCREligible(path); got != want {
			t.Errorf("IsOCREligible(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestSafeEntryPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"doc.pdf", "doc.pdf", true},
		{"/abs/doc.pdf", "abs/doc.pdf", true},
		{`\\server\share\doc.pdf`, "server/share/doc.pdf", true},
		{"a/./b/../c.pdf", "a/c.pdf", true},
		{"../evil.pdf", "", false},
		{"a/../../evil.pdf", "", false},
		{"..", "", false},
		{"/", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := SafeEntryPath(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("SafeEntryPath(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestStageExtractsSafelyAndRelease(t *testing.T) {
	src := t.TempDir()
	stagingRoot := t.TempDir()
	zipPath := filepath.Join(src, "bundle.zip")
	writeZip(t, zipPath, []zipEntry{
		{name: "folder/"},
		{name: "folder/scan.pdf", body: "%PDF-fake"},
		{name: "/leading/photo.png", body: "png"},
		{name: "../escape.pdf", body: "nope"},
		{name: "readme.txt", body: "text"},
		{name: "r\x82sum\x82.pdf", body: "cp437", nonUTF8: true},
	})

	staged, err := Stage(context.Background(), discardLogger(), zipPath, stagingRoot, StageOptions{})
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if staged.Name != "bundle" {
		t.Fatalf("name = %q", staged.Name)
	}

	var rels []string
	for _, f := range staged.Files {
		rels = append(rels, f.RelPath)
		rel, err := filepath.Rel(staged.Root, f.Path)
		if err != nil || rel != filepath.FromSlash(f.RelPath) {
			t.Errorf("file %s not under staging root %s", f.Path, staged.Root)
		}
		if _, err := os.Stat(f.Path); err != nil {
			t.Errorf("staged file missing: %v", err)
		}
	}
	sort.Strings(rels)
	want := []string{"folder/scan.pdf", "leading/photo.png", "readme.txt", "résumé.pdf"}
	sort.Strings(want)
	if len(rels) != len(want) {
		t.Fatalf("staged %v, want %v", rels, want)
	}
	for i := range want {
		if rels[i] != want[i] {
			t.Fatalf("staged %v, want %v", rels, want)
		}
	}
	if staged.Skipped != 2 {
		t.Errorf("skipped = %d, want 2 (directory + traversal)", staged.Skipped)
	}
	if _, err := os.Stat(filepath.Join(stagingRoot, "escape.pdf")); !os.IsNotExist(err) {
		t.Errorf("traversal entry was written outside the staging dir")
	}

	eligible := EligibleFiles(staged.Files)
	for _, f := range eligible {
		if f.RelPath == "readme.txt" {
			t.Errorf("ineligible file classified as eligible")
		}
	}
	if len(eligible) != 3 {
		t.Errorf("eligible = %d, want 3", len(eligible))
	}

	root := staged.Root
	if err := staged.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Fatalf("staging dir still exists after Release")
	}
	if err := staged.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
}

func TestStageLimits(t *testing.T) {
	src := t.TempDir()
	zipPath := filepath.Join(src, "big.zip")
	writeZip(t, zipPath, []zipEntry{
		{name: "a.pdf", body: "0123456789"},
		{name: "b.pdf", body: "01"},
		{name: "c.pdf", body: "01"},
	})

	staged, err := Stage(context.Background(), discardLogger(), zipPath, t.TempDir(), StageOptions{MaxEntries: 1, MaxEntryBytes: 5})
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	defer staged.Release()
	if len(staged.Files) != 1 || staged.Files[0].RelPath != "b.pdf" {
		t.Fatalf("files = %+v, want only b.pdf", staged.Files)
	}
}

func TestStageCorruptArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.zip")
	if err := os.WriteFile(path, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	staged, err := Stage(context.Background(), discardLogger(), path, t.TempDir(), StageOptions{})
	if !errors.Is(err, ErrStaging) {
		t.Fatalf("expected ErrStaging, got %v", err)
	}
	if staged != nil {
		t.Fatalf("expected no staged archive")
	}
}

func TestResolveNameEncoding(t *testing.T) {
	for _, label := range []string{"", "cp437", "shift_jis", "windows-1252"} {
		if _, err := ResolveNameEncoding(label); err != nil {
			t.Errorf("ResolveNameEncoding(%q): %v", label, err)
		}
	}
	if _, err := ResolveNameEncoding("klingon"); err == nil {
		t.Errorf("expected error for unknown label")
	}
}
