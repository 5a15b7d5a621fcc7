package realtime

import (
	"fmt"
	"strings"
)

const forbiddenKeyChars = ".#$[]"

// Split parses a slash-delimited path into segments. Empty segments are
// skipped, so "a//b/" equals "a/b". The root path has no segments.
func Split(path string) ([]string, error) {
	raw := strings.Split(path, "/")
	segs := make([]string, 0, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		if strings.ContainsAny(s, forbiddenKeyChars) {
			return nil, fmt.Errorf("%w: %q contains one of %q", ErrInvalidPath, path, forbiddenKeyChars)
		}
		segs = append(segs, s)
	}
	return segs, nil
}

// Join builds a path from segments.
func Join(segs ...string) string {
	parts := make([]string, 0, len(segs))
	for _, s := range segs {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

// Clean normalises a path and rejects invalid ones.
func Clean(path string) (string, error) {
	segs, err := Split(path)
	if err != nil {
		return "", err
	}
	return strings.Join(segs, "/"), nil
}

// Overlaps reports whether a change at one path can affect a listener at the
// other: one must be an ancestor of, or equal to, the other.
func Overlaps(a, b string) bool {
	return isPrefix(a, b) || isPrefix(b, a)
}

func isPrefix(prefix, path string) bool {
	if prefix == "" {
		return true
	}
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}

// Key returns the last segment of path.
func Key(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
