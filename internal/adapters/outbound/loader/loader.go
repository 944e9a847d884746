// Package loader opens managed binaries with dependency resolution scoped
// to their directory.
package loader

import (
	"github.com/openkraft/categoryassert/internal/adapters/outbound/clrmeta"
	"github.com/openkraft/categoryassert/internal/domain"
)

// Loader implements domain.BinaryLoader.
type Loader struct {
	resolver *Resolver
}

var _ domain.BinaryLoader = (*Loader)(nil)

// New creates a loader that resolves dependencies from dir.
func New(dir string) (*Loader, error) {
	r, err := NewResolver(dir)
	if err != nil {
		return nil, err
	}
	return &Loader{resolver: r}, nil
}

// Load opens the binary at path. Every failure is a *domain.LoadError.
func (l *Loader) Load(path string) (domain.Binary, error) {
	img, err := clrmeta.Open(path, clrmeta.WithResolver(l.resolver))
	if err != nil {
		return nil, &domain.LoadError{Path: path, Err: err}
	}
	return clrmeta.NewBinary(img), nil
}
