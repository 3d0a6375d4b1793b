package models

import "time"

// Document is one ingested source file. SourceFile is the dedup key.
type Document struct {
	ID          int64
	SourceFile  string
	OriginalZip string
	TotalPages  int
	ProcessedAt time.Time
}

// Page belongs to exactly one Document. PageNumber starts at 1.
type Page struct {
	ID          int64
	DocumentID  int64
	PageNumber  int
	ContentText string
	CreatedAt   time.Time
}

// NameMatch records which rule recovered the archive/source identity
// from a sidecar file name.
type NameMatch int

const (
	NameMatched       NameMatch = iota // known archive prefix or <zip>_<file>.<ext>
	NameFallbackSplit                  // split at the first underscore
	NameUnrecognized                   // no underscore at all
)

func (m NameMatch) String() string {
	switch m {
	case NameMatched:
		return "matched"
	case NameFallbackSplit:
		return "fallback_split"
	case NameUnrecognized:
		return "unrecognized"
	default:
		return "unknown"
	}
}

// ParsedDocument is the output of page parsing, consumed by the upload writer.
type ParsedDocument struct {
	OriginalZip string
	SourceFile  string
	Pages       []string
	Match       NameMatch
	// SidecarPath is where the text came from. Informational only.
	SidecarPath string
}
