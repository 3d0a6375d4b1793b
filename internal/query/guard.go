package query

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrForbidden is returned for statements that are not plain reads.
var ErrForbidden = errors.New("statement not allowed")

// ForbiddenOperations may not appear as whole words anywhere in a statement.
var ForbiddenOperations = []string{"DROP", "DELETE", "UPDATE", "INSERT", "ALTER", "CREATE", "TRUNCATE", "GRANT", "REVOKE"}

var forbiddenPattern = regexp.MustCompile(`\b(` + strings.Join(ForbiddenOperations, "|") + `)\b`)

// ValidateReadOnly accepts a single SELECT or WITH statement and returns it
// without surrounding whitespace or a trailing semicolon.
func ValidateReadOnly(stmt string) (string, error) {
	s := strings.TrimSpace(stmt)
	s = strings.TrimSpace(strings.TrimRight(s, "; \t\r\n"))
	if s == "" {
		return "", fmt.Errorf("%w: empty statement", ErrForbidden)
	}
	upper := strings.ToUpper(s)
	if strings.Contains(s, ";") {
		return "", fmt.Errorf("%w: only one statement may be run", ErrForbidden)
	}
	if op := forbiddenPattern.FindString(upper); op != "" {
		return "", fmt.Errorf("%w: forbidden SQL operation %s", ErrForbidden, op)
	}
	first := strings.Fields(upper)[0]
	if first != "SELECT" && first != "WITH" && !strings.HasPrefix(first, "SELECT(") {
		return "", fmt.Errorf("%w: statement must start with SELECT or WITH", ErrForbidden)
	}
	return s, nil
}
