package pages

import (
	"regexp"
	"sort"
	"strings"

	"github.com/brensch/docingest/internal/models"
)

// UnknownArchive is the archive name used when a sidecar name carries no
// archive prefix at all.
const UnknownArchive = "unknown"

const sidecarExt = ".txt"

var sidecarPattern = regexp.MustCompile(`(?i)^(.+)_([^_]+\.(pdf|jpg|png))$`)

// SidecarName is the identity recovered from an OCR output file name.
type SidecarName struct {
	OriginalZip string
	SourceFile  string
	Match       models.NameMatch
}

// ParseSidecarName recovers the archive and source file names from a sidecar
// file name of the form <archive>_<relpath>.txt. Archive names already known
// to the caller are tried first, longest first, because both halves may
// themselves contain underscores.
func ParseSidecarName(filename string, knownArchives ...string) SidecarName {
	name := strings.TrimSuffix(filename, sidecarExt)

	if len(knownArchives) > 0 {
		known := append([]string(nil), knownArchives...)
		sort.SliceStable(known, func(i, j int) bool { return len(known[i]) > len(known[j]) })
		for _, k := range known {
			if k == "" {
				continue
			}
			if rest, ok := strings.CutPrefix(name, k+"_"); ok && rest != "" {
				return SidecarName{OriginalZip: k, SourceFile: rest, Match: models.NameMatched}
			}
		}
	}

	if m := sidecarPattern.FindStringSubmatch(name); m != nil {
		return SidecarName{OriginalZip: m[1], SourceFile: m[2], Match: models.NameMatched}
	}

	if i := strings.Index(name, "_"); i > 0 {
		return SidecarName{OriginalZip: name[:i], SourceFile: name[i+1:], Match: models.NameFallbackSplit}
	}

	return SidecarName{OriginalZip: UnknownArchive, SourceFile: name, Match: models.NameUnrecognized}
}
