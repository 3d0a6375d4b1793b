package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveExt is the extension of candidate archives.
const ArchiveExt = ".zip"

var (
	// ErrSourceNotFound is the discovery failure: the source directory is missing.
	ErrSourceNotFound = errors.New("source directory not found")
	// ErrStaging marks an archive that could not be staged at all.
	ErrStaging = errors.New("staging failed")
)

// ScanArchives lists the zip archives directly inside dir, sorted by name.
// Nothing is opened or extracted.
func ScanArchives(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, dir)
		}
		return nil, fmt.Errorf("stat source directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSourceNotFound, dir)
	}

	entries, err := os.ReadDir(dir) // sorted by filename
	if err != nil {
		return nil, fmt.Errorf("list source directory %s: %w", dir, err)
	}
	archives := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ArchiveExt) {
			archives = append(archives, filepath.Join(dir, e.Name()))
		}
	}
	return archives, nil
}

// ArchiveName is the archive's base name without its extension. It is the
// prefix of every sidecar produced from the archive.
func ArchiveName(archivePath string) string {
	base := filepath.Base(archivePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ArchiveNames maps ArchiveName over a list of paths.
func ArchiveNames(paths []string) []string {
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = ArchiveName(p)
	}
	return names
}
