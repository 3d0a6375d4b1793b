package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// StageOptions bounds what a single archive may expand to.
type StageOptions struct {
	// NameEncoding decodes entry names that are not flagged as UTF-8.
	// nil means IBM code page 437, the zip default.
	NameEncoding  encoding.Encoding
	MaxEntries    int   // files extracted per archive; 0 = unlimited
	MaxEntryBytes int64 // uncompressed bytes per entry; 0 = unlimited
}

// StagedFile is one regular file expanded from an archive.
type StagedFile struct {
	RelPath string // slash separated, relative to the staging root
	Path    string // absolute path on disk
}

// StagedArchive owns the ephemeral directory holding one archive's files.
type StagedArchive struct {
	Archive string
	Name    string
	Root    string
	Files   []StagedFile

	Entries int // entries seen in the central directory
	Skipped int // directories, unsafe names, oversize entries
	Failed  int // entries that could not be read or written
}

// Release removes the staging directory. Safe on nil and safe to call twice.
func (s *StagedArchive) Release() error {
	if s == nil || s.Root == "" {
		return nil
	}
	root := s.Root
	s.Root = ""
	if err := os.RemoveAll(root); err != nil {
		return fmt.Errorf("remove staging dir %s: %w", root, err)
	}
	return nil
}

// ResolveNameEncoding maps a configured label to an encoding for legacy
// zip entry names. Code page 437 aliases are handled here because they are
// not WHATWG labels; everything else goes through the HTML charset table.
func ResolveNameEncoding(label string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "ibm437", "cp437", "437", "ibm-437":
		return charmap.CodePage437, nil
	case "cp850", "ibm850":
		return charmap.CodePage850, nil
	}
	enc, _ := charset.Lookup(label)
	if enc == nil {
		return nil, fmt.Errorf("unknown zip name encoding %q", label)
	}
	return enc, nil
}

// Stage expands every entry of archivePath into a fresh directory under
// destRoot. Entry-level problems are logged and counted; the returned error
// is non-nil only when the archive could not be staged at all or ctx was
// cancelled mid-way. When a StagedArchive is returned alongside an error the
// caller still owns it and must Release it.
func Stage(ctx context.Context, logger *slog.Logger, archivePath, destRoot string, opts StageOptions) (*StagedArchive, error) {
	name := ArchiveName(archivePath)
	l := logger.With(slog.String("archive", filepath.Base(archivePath)))

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrStaging, archivePath, err)
	}
	defer zr.Close()

	if destRoot == "" {
		destRoot = os.TempDir()
	}
	if err := os.MkdirAll(destRoot, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create staging root %s: %v", ErrStaging, destRoot, err)
	}
	root, err := os.MkdirTemp(destRoot, name+"-"+strconv.FormatInt(time.Now().UnixNano(), 10)+"-*")
	if err != nil {
		return nil, fmt.Errorf("%w: create staging dir: %v", ErrStaging, err)
	}
	if root, err = filepath.Abs(root); err != nil {
		os.RemoveAll(root)
		return nil, fmt.Errorf("%w: resolve staging dir: %v", ErrStaging, err)
	}

	enc := opts.NameEncoding
	if enc == nil {
		enc = charmap.CodePage437
	}

	staged := &StagedArchive{Archive: archivePath, Name: name, Root: root}
	start := time.Now()
	l.Info("Staging archive.", slog.String("staging_dir", root), slog.Int("entries", len(zr.File)))

	for _, f := range zr.File {
		select {
		case <-ctx.Done():
			l.Warn("Staging cancelled.", "error", ctx.Err())
			return staged, ctx.Err()
		default:
		}
		staged.Entries++

		entryName := f.Name
		if f.NonUTF8 {
			if decoded, decErr := enc.NewDecoder().String(f.Name); decErr == nil {
				entryName = decoded
			} else {
				l.Warn("Could not decode entry name, using raw bytes.", slog.String("entry", f.Name), "error", decErr)
			}
		}

		if f.FileInfo().IsDir() || strings.HasSuffix(entryName, "/") || strings.HasSuffix(entryName, `\`) {
			staged.Skipped++
			continue
		}
		if f.Mode()&os.ModeSymlink != 0 {
			l.Warn("Skipping symlink entry.", slog.String("entry", entryName))
			staged.Skipped++
			continue
		}

		rel, ok := SafeEntryPath(entryName)
		if !ok {
			l.Warn("Skipping entry with unsafe path.", slog.String("entry", entryName))
			staged.Skipped++
			continue
		}
		if opts.MaxEntries > 0 && len(staged.Files) >= opts.MaxEntries {
			l.Warn("Entry limit reached, remaining entries ignored.", slog.Int("max_entries", opts.MaxEntries))
			staged.Skipped += len(zr.File) - staged.Entries + 1
			break
		}
		if opts.MaxEntryBytes > 0 && f.UncompressedSize64 > uint64(opts.MaxEntryBytes) {
			l.Warn("Skipping oversize entry.", slog.String("entry", rel), slog.Uint64("size", f.UncompressedSize64))
			staged.Skipped++
			continue
		}

		target := filepath.Join(root, filepath.FromSlash(rel))
		if !strings.HasPrefix(target, root+string(filepath.Separator)) {
			l.Warn("Skipping entry resolving outside staging dir.", slog.String("entry", rel))
			staged.Skipped++
			continue
		}

		if err := extractEntry(f, target, opts.MaxEntryBytes); err != nil {
			l.Error("Failed to extract entry, skipping.", slog.String("entry", rel), "error", err)
			staged.Failed++
			continue
		}
		staged.Files = append(staged.Files, StagedFile{RelPath: rel, Path: target})
	}

	l.Info("Archive staged.",
		slog.Int("extracted", len(staged.Files)),
		slog.Int("skipped", staged.Skipped),
		slog.Int("failed", staged.Failed),
		slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return staged, nil
}

// SafeEntryPath normalises a zip entry name into a slash-separated path
// relative to the staging root. Leading separators are stripped; anything
// that would climb out of the root is rejected.
func SafeEntryPath(name string) (string, bool) {
	p := strings.ReplaceAll(name, `\`, "/")
	p = strings.TrimLeft(p, "/")
	if vol := filepath.VolumeName(p); vol != "" {
		p = strings.TrimLeft(strings.TrimPrefix(p, vol), "/")
	}
	if p == "" {
		return "", false
	}
	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}

func extractEntry(f *zip.File, target string, maxBytes int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	var src io.Reader = rc
	if maxBytes > 0 {
		src = io.LimitReader(rc, maxBytes+1)
	}
	n, copyErr := io.Copy(out, src)
	closeErr := out.Close()
	if copyErr == nil && maxBytes > 0 && n > maxBytes {
		copyErr = fmt.Errorf("entry larger than %d bytes", maxBytes)
	}
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(target)
		return err
	}
	return nil
}
