package pages

import (
	"path/filepath"
	"strings"

	"github.com/brensch/docingest/internal/models"
)

// FormFeed is the page break ocrmypdf writes between pages of a sidecar.
const FormFeed = "\f"

// SplitPages cuts OCR text into pages on sep, trimming each page and
// dropping the empty ones. Order is preserved. Whitespace-only content
// yields no pages, which is not an error. Invalid UTF-8 is replaced with
// U+FFFD and NUL bytes are removed, since neither store accepts them.
func SplitPages(content, sep string) []string {
	if sep == "" {
		sep = FormFeed
	}
	parts := strings.Split(content, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(sanitize(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sanitize(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
}

// Parser turns sidecar files into ParsedDocuments.
type Parser struct {
	Separator     string
	KnownArchives []string
}

// Parse builds a document from a sidecar's base name and text. The name may
// be a full path; only its base is used.
func (p Parser) Parse(filename, content string) models.ParsedDocument {
	id := ParseSidecarName(filepath.Base(filename), p.KnownArchives...)
	return models.ParsedDocument{
		OriginalZip: sanitize(id.OriginalZip),
		SourceFile:  sanitize(id.SourceFile),
		Pages:       SplitPages(content, p.Separator),
		Match:       id.Match,
		SidecarPath: filename,
	}
}

// ForArchive returns a copy of p that only knows about name. Use it when the
// archive a sidecar came from is certain, so that a longer archive name
// sharing the same prefix cannot claim the sidecar.
func (p Parser) ForArchive(name string) Parser {
	p.KnownArchives = []string{name}
	return p
}
