package archive

import (
	"path/filepath"
	"strings"
)

// EligibleExtensions are the lower-case extensions handed to OCR.
var EligibleExtensions = []string{".pdf", ".jpg", ".png"}

// IsOCREligible reports whether a staged file should be sent to OCR.
// It only looks at the extension.
func IsOCREligible(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range EligibleExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// IsPDF reports whether path has a .pdf extension.
func IsPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// EligibleFiles filters staged files down to the OCR-eligible ones, keeping order.
func EligibleFiles(files []StagedFile) []StagedFile {
	out := make([]StagedFile, 0, len(files))
	for _, f := range files {
		if IsOCREligible(f.RelPath) {
			out = append(out, f)
		}
	}
	return out
}
