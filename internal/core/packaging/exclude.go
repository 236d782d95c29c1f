// Package packaging contains pure functions for deciding what goes into a
// deployment artifact.
// This is part of the Functional Core - all functions are pure with no I/O.
package packaging

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidPattern is returned for malformed exclude patterns.
var ErrInvalidPattern = errors.New("invalid exclude pattern")

// DefaultExcludes drops Python bytecode and its cache directories.
var DefaultExcludes = []string{"*.pyc", "*.pyo", "__pycache__"}

// ValidatePatterns checks that every pattern is a well-formed glob.
func ValidatePatterns(patterns []string) error {
	for _, p := range patterns {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("%w: empty pattern", ErrInvalidPattern)
		}
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidPattern, p, err)
		}
	}
	return nil
}

// Excluded reports whether rel, a slash-separated path relative to the
// component directory, matches any pattern.
//
// A pattern without a slash matches any single path element, so
// "__pycache__" excludes the directory at any depth and "*.pyc" excludes
// bytecode files anywhere. A pattern containing a slash is matched against
// the whole relative path.
//
// Example:
//
//	Excluded("lib/__pycache__/x.cpython-312.pyc", DefaultExcludes) // true
//	Excluded("lib/handler.py", DefaultExcludes)                     // false
func Excluded(rel string, patterns []string) bool {
	rel = strings.Trim(rel, "/")
	if rel == "" {
		return false
	}
	elems := strings.Split(rel, "/")

	for _, p := range patterns {
		if strings.Contains(p, "/") {
			if ok, _ := path.Match(strings.Trim(p, "/"), rel); ok {
				return true
			}
			continue
		}
		for _, e := range elems {
			if ok, _ := path.Match(p, e); ok {
				return true
			}
		}
	}
	return false
}
