package ocr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrOCRFailed marks a conversion that ran but produced no usable sidecar.
	ErrOCRFailed = errors.New("ocr failed")
	// ErrUnsupportedInput is returned by engines that cannot read a file type.
	ErrUnsupportedInput = errors.New("input type not supported by engine")
	// ErrEngineUnavailable is returned when the configured engine was not built in.
	ErrEngineUnavailable = errors.New("ocr engine not available in this build")
)

const partialSuffix = ".partial"

// Engine converts one scanned file into a plain-text sidecar. Implementations
// must leave no file at sidecar unless the conversion succeeded.
type Engine interface {
	Name() string
	Convert(ctx context.Context, input, sidecar string) error
}

// SidecarName returns the sidecar path for a staged entry:
// <outputDir>/<archive>_<relpath with / replaced by _>.txt
func SidecarName(outputDir, archiveName, relPath string) string {
	flat := strings.ReplaceAll(strings.Trim(relPath, "/"), "/", "_")
	return filepath.Join(outputDir, archiveName+"_"+flat+".txt")
}

// PartialPath is where an engine writes before the final rename.
func PartialPath(sidecar string) string {
	return sidecar + partialSuffix
}

// IsPartial reports whether name is an unfinished sidecar.
func IsPartial(name string) bool {
	return strings.HasSuffix(name, partialSuffix)
}

// commit moves a finished partial sidecar into place.
func commit(sidecar string) error {
	partial := PartialPath(sidecar)
	info, err := os.Stat(partial)
	if err != nil {
		return fmt.Errorf("%w: no sidecar produced: %v", ErrOCRFailed, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: sidecar output is not a regular file", ErrOCRFailed)
	}
	if err := os.Rename(partial, sidecar); err != nil {
		os.Remove(partial)
		return fmt.Errorf("publish sidecar: %w", err)
	}
	return nil
}

// writeSidecar writes text atomically through the partial path.
func writeSidecar(sidecar, text string) error {
	partial := PartialPath(sidecar)
	if err := os.WriteFile(partial, []byte(text), 0o644); err != nil {
		os.Remove(partial)
		return fmt.Errorf("write sidecar: %w", err)
	}
	return commit(sidecar)
}
