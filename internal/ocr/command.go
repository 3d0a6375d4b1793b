package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const stderrTailBytes = 2048

// CommandEngine runs ocrmypdf with a fixed flag set and keeps only the text
// sidecar; the searchable PDF output is discarded.
type CommandEngine struct {
	Binary   string // defaults to "ocrmypdf"
	Language string // tesseract language code, defaults to "eng"
	ImageDPI int    // passed for image inputs, defaults to 300
}

func (e *CommandEngine) Name() string { return "ocrmypdf" }

// Args returns the argument list for one conversion writing text to sidecarOut.
func (e *CommandEngine) Args(input, sidecarOut string) []string {
	lang := e.Language
	if lang == "" {
		lang = "eng"
	}
	args := []string{
		"--force-ocr",
		"--deskew",
		"--clean",
		"--language", lang,
		"--oversample", "300",
	}
	if !strings.EqualFold(filepath.Ext(input), ".pdf") {
		dpi := e.ImageDPI
		if dpi <= 0 {
			dpi = 300
		}
		args = append(args, "--image-dpi", strconv.Itoa(dpi))
	}
	return append(args, "--sidecar", sidecarOut, input, os.DevNull)
}

// Convert runs the command. ctx bounds the child process; the caller decides
// whether that ctx follows cancellation or only a timeout.
func (e *CommandEngine) Convert(ctx context.Context, input, sidecar string) error {
	bin := e.Binary
	if bin == "" {
		bin = "ocrmypdf"
	}
	partial := PartialPath(sidecar)
	os.Remove(partial)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, e.Args(input, partial)...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		os.Remove(partial)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %s: %w", ErrOCRFailed, filepath.Base(input), ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: %s: exit status %d: %s", ErrOCRFailed, filepath.Base(input), exitErr.ExitCode(), tail(stderr.Bytes()))
		}
		return fmt.Errorf("%w: %s: %v", ErrOCRFailed, filepath.Base(input), err)
	}
	return commit(sidecar)
}

func tail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > stderrTailBytes {
		b = b[len(b)-stderrTailBytes:]
	}
	return string(b)
}
