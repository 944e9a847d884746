package application

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Exclusions matches binaries named by --excludedAssembly. Patterns are
// compared case-insensitively against the file name, the file stem and the
// slash-separated path relative to the scanned directory, first literally
// and then as doublestar globs.
type Exclusions struct {
	patterns []string
}

// NewExclusions compiles the exclusion list. Blank entries are ignored.
func NewExclusions(patterns []string) Exclusions {
	var e Exclusions
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			e.patterns = append(e.patterns, strings.ToLower(filepath.ToSlash(p)))
		}
	}
	return e
}

// Match reports whether path, located under dir, is excluded.
func (e Exclusions) Match(dir, path string) bool {
	if len(e.patterns) == 0 {
		return false
	}
	base := strings.ToLower(filepath.Base(path))
	names := []string{base, strings.TrimSuffix(base, filepath.Ext(base))}
	if rel, err := filepath.Rel(dir, path); err == nil {
		names = append(names, strings.ToLower(filepath.ToSlash(rel)))
	}
	for _, p := range e.patterns {
		for _, n := range names {
			if p == n {
				return true
			}
			if ok, _ := doublestar.Match(p, n); ok {
				return true
			}
		}
	}
	return false
}
