// Package changes models the set of paths modified between two revisions.
// This is part of the Functional Core - all functions are pure with no I/O.
package changes

import (
	"path"
	"sort"
	"strings"
)

// NullRevision is the all-zero object id CI systems send as the previous
// revision of a newly created branch.
const NullRevision = "0000000000000000000000000000000000000000"

// Set is either a finite set of slash-separated paths relative to the tree
// root, or the sentinel All. A Set is immutable once built.
type Set struct {
	all   bool
	paths map[string]struct{}
}

// All is the sentinel meaning every component is treated as changed.
func All() Set {
	return Set{all: true}
}

// Of builds a finite Set. Paths are cleaned and converted to slash form;
// empty entries are ignored.
func Of(paths ...string) Set {
	s := Set{paths: make(map[string]struct{}, len(paths))}
	for _, p := range paths {
		if p = Normalize(p); p != "" {
			s.paths[p] = struct{}{}
		}
	}
	return s
}

// IsAll reports whether s is the All sentinel.
func (s Set) IsAll() bool {
	return s.all
}

// Len returns the number of paths in a finite set, or -1 for All.
func (s Set) Len() int {
	if s.all {
		return -1
	}
	return len(s.paths)
}

// Paths returns the sorted paths of a finite set, or nil for All.
func (s Set) Paths() []string {
	if s.all {
		return nil
	}
	out := make([]string, 0, len(s.paths))
	for p := range s.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Affects reports whether any changed path lies inside dir. A dir of "." or
// "" covers the whole tree.
func (s Set) Affects(dir string) bool {
	if s.all {
		return true
	}
	dir = Normalize(dir)
	if dir == "" {
		return len(s.paths) > 0
	}
	for p := range s.paths {
		if Within(p, dir) {
			return true
		}
	}
	return false
}

// Within reports whether p equals dir or is nested under it. Matching is by
// whole path elements, so "slack-handler-v2/x" is not within "slack-handler".
func Within(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// Normalize cleans p into the slash form used by Set. The tree root itself
// normalizes to "".
func Normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = path.Clean(strings.TrimPrefix(p, "/"))
	if p == "." {
		return ""
	}
	return strings.TrimPrefix(p, "./")
}

// IsAbsentRevision reports whether rev carries no usable previous revision.
func IsAbsentRevision(rev string) bool {
	rev = strings.TrimSpace(rev)
	return rev == "" || rev == NullRevision
}
