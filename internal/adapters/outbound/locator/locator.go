package locator

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/openkraft/categoryassert/internal/domain"
)

// GlobLocator implements domain.BinaryLocator by matching a doublestar
// pattern relative to the assemblies directory.
type GlobLocator struct {
	include string
}

var _ domain.BinaryLocator = (*GlobLocator)(nil)

// New creates a locator for the include pattern. An empty pattern selects
// the top-level *.dll files.
func New(include string) *GlobLocator {
	if include == "" {
		include = domain.DefaultInclude
	}
	return &GlobLocator{include: include}
}

// Locate returns the absolute paths of the regular files in dir that match
// the include pattern, sorted lexically by relative path.
func (l *GlobLocator) Locate(dir string) ([]string, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	fsys := os.DirFS(absDir)
	matches, err := doublestar.Glob(fsys, l.include, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("matching %q: %w", l.include, err)
	}
	sort.Strings(matches)

	paths := make([]string, 0, len(matches))
	for _, rel := range matches {
		info, err := fs.Stat(fsys, rel)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		paths = append(paths, filepath.Join(absDir, filepath.FromSlash(rel)))
	}
	return paths, nil
}
