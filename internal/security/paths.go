// Package security checks acquisition ids before they are used as directory
// names and keeps derived paths inside their storage root.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsafeID is returned for ids that are not a single safe path element.
	ErrUnsafeID = errors.New("unsafe acquisition id")
	// ErrOutsideDir is returned when a path resolves outside its root.
	ErrOutsideDir = errors.New("path escapes directory")
)

const maxIDLen = 128

// SanitizeID maps s to a string made of ASCII letters, digits, dot,
// underscore and dash. Runs of other characters become one underscore and
// leading or trailing dots and underscores are trimmed. An empty result is
// "unknown".
func SanitizeID(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxIDLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}

// ValidateID rejects ids that SanitizeID would change.
func ValidateID(id string) error {
	if id == "" || SanitizeID(id) != id {
		return fmt.Errorf("%w: %q", ErrUnsafeID, id)
	}
	return nil
}

// WithinDir returns an error wrapping ErrOutsideDir unless path lies inside
// dir. Symlinks are resolved on the longest existing prefix of both, so
// neither needs to exist yet.
func WithinDir(path, dir string) error {
	p, err := canonical(path)
	if err != nil {
		return err
	}
	d, err := canonical(dir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(d, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %s is outside %s", ErrOutsideDir, path, dir)
	}
	return nil
}

func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	rest := ""
	for p := abs; ; p = filepath.Dir(p) {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			return filepath.Join(resolved, rest), nil
		}
		if filepath.Dir(p) == p {
			return abs, nil
		}
		rest = filepath.Join(filepath.Base(p), rest)
	}
}

// AcquisitionDir returns baseDir/id after validating id and checking that
// the result stays inside baseDir.
func AcquisitionDir(baseDir, id string) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	dir := filepath.Join(baseDir, id)
	if err := WithinDir(dir, baseDir); err != nil {
		return "", err
	}
	return dir, nil
}
