package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/text/cases"

	"github.com/openkraft/categoryassert/internal/adapters/outbound/clrmeta"
)

// Resolver finds referenced assemblies among the files of one directory.
// Names match file stems case-insensitively; a .dll wins over an .exe with
// the same stem.
type Resolver struct {
	paths map[string]string

	mu    sync.Mutex
	cache map[string]*clrmeta.Image
}

var _ clrmeta.Resolver = (*Resolver)(nil)

// NewResolver indexes the managed-binary candidates in dir.
func NewResolver(dir string) (*Resolver, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("indexing %s: %w", dir, err)
	}
	r := &Resolver{paths: make(map[string]string), cache: make(map[string]*clrmeta.Image)}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".dll" && ext != ".exe" {
			continue
		}
		key := foldName(strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
		if existing, ok := r.paths[key]; ok && strings.EqualFold(filepath.Ext(existing), ".dll") {
			continue
		}
		r.paths[key] = filepath.Join(dir, e.Name())
	}
	return r, nil
}

func foldName(name string) string { return cases.Fold().String(name) }

// Lookup returns the file that provides the named assembly.
func (r *Resolver) Lookup(name string) (string, bool) {
	path, ok := r.paths[foldName(name)]
	return path, ok
}

// Resolve opens the named assembly, or returns nil when the directory does
// not provide it. Opened images are cached for the resolver's lifetime.
func (r *Resolver) Resolve(name string) (*clrmeta.Image, error) {
	path, ok := r.Lookup(name)
	if !ok {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if img, ok := r.cache[path]; ok {
		return img, nil
	}
	img, err := clrmeta.Open(path, clrmeta.WithResolver(r))
	if err != nil {
		return nil, err
	}
	r.cache[path] = img
	return img, nil
}

// Len returns the number of indexed assemblies.
func (r *Resolver) Len() int { return len(r.paths) }
