// Package security keeps generated output names inside their output
// directory.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// maxNameLen bounds sanitised file names.
const maxNameLen = 128

// SanitizeFilename maps s onto ASCII letters, digits, dot, underscore and
// dash. Runs of other characters become one underscore. Leading and
// trailing dots and underscores are trimmed; an empty result is "unknown".
func SanitizeFilename(s string) string {
	var b strings.Builder
	pending := false
	for _, r := range s {
		if b.Len() >= maxNameLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			if pending {
				b.WriteByte('_')
				pending = false
			}
			b.WriteRune(r)
		default:
			pending = b.Len() > 0
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// JoinWithin joins name onto dir and rejects results that leave dir. The
// check is lexical so it also holds for in-memory filesystems.
func JoinWithin(dir, name string) (string, error) {
	base := filepath.Clean(dir)
	p := filepath.Join(base, name)
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return "", fmt.Errorf("path is outside %s: %w", dir, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %q escapes %s", name, dir)
	}
	return p, nil
}
