package orchestrator

import (
	"fmt"
	"io"
	"path/filepath"
	"time"
)

// Summary counts what a run did.
type Summary struct {
	Archives        int
	ArchivesSkipped int
	Extracted       int

	OCRSucceeded int64
	OCRFailed    int64
	OCRSkipped   int64 // sidecar already present

	Uploaded         int64
	SkippedDuplicate int64
	UploadFailed     int64

	// Listed holds the discovered archives of a dry run.
	Listed   []string
	Duration time.Duration
}

// Print writes the summary as a small table.
func (s Summary) Print(w io.Writer) {
	if s.Listed != nil {
		fmt.Fprintf(w, "--- Dry run: %d archive(s) would be processed ---\n", len(s.Listed))
		for _, a := range s.Listed {
			fmt.Fprintf(w, "  %s\n", filepath.Base(a))
		}
		return
	}
	fmt.Fprintln(w, "--- Ingestion Summary ---")
	rows := []struct {
		label string
		value any
	}{
		{"Archives", s.Archives},
		{"Archives skipped", s.ArchivesSkipped},
		{"Files extracted", s.Extracted},
		{"OCR succeeded", s.OCRSucceeded},
		{"OCR failed", s.OCRFailed},
		{"OCR skipped (resumed)", s.OCRSkipped},
		{"Documents uploaded", s.Uploaded},
		{"Skipped (duplicate)", s.SkippedDuplicate},
		{"Upload failed", s.UploadFailed},
		{"Duration", s.Duration.Round(time.Millisecond)},
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%-22s %v\n", r.label+":", r.value)
	}
}
